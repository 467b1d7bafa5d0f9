package crypto

import (
	"encoding/base64"
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	blindIndexTime    = 3
	blindIndexMemory  = 64 * 1024
	blindIndexThreads = 1
	blindIndexKeyLen  = 32
)

var ErrEmptySecretName = errors.New("secret name is required for blind index")

// BlindIndex derives the deterministic lookup token for a secret name under
// a project salt. Equal (name, salt) pairs always yield equal tokens.
func BlindIndex(secretName string, salt []byte) (string, error) {
	if secretName == "" {
		return "", ErrEmptySecretName
	}
	hash := argon2.IDKey([]byte(secretName), salt, blindIndexTime, blindIndexMemory, blindIndexThreads, blindIndexKeyLen)
	return base64.StdEncoding.EncodeToString(hash), nil
}
