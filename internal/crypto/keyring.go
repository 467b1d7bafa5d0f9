package crypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	models "keyhaven/internal/domain/models/vault"
)

// ProjectKeySource loads the wrapped key material of a project.
type ProjectKeySource interface {
	GetKeys(ctx context.Context, projectID string) (*models.ProjectKeys, error)
}

type projectSecrets struct {
	key  []byte
	salt []byte
}

// Keyring unwraps per-project data keys and blind index salts with the root
// key and keeps them in a short-lived cache.
type Keyring struct {
	rootKey []byte
	source  ProjectKeySource
	cache   *cache.Cache
}

// NewKeyring creates a keyring over source
func NewKeyring(rootKey []byte, source ProjectKeySource) *Keyring {
	return &Keyring{
		rootKey: rootKey,
		source:  source,
		cache:   cache.New(5*time.Minute, 10*time.Minute),
	}
}

// ProjectKey returns the project's data encryption key.
func (k *Keyring) ProjectKey(ctx context.Context, projectID string) ([]byte, error) {
	ps, err := k.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return ps.key, nil
}

// BlindIndex derives the blind index of secretName for projectID.
func (k *Keyring) BlindIndex(ctx context.Context, projectID, secretName string) (string, error) {
	ps, err := k.load(ctx, projectID)
	if err != nil {
		return "", err
	}
	return BlindIndex(secretName, ps.salt)
}

func (k *Keyring) load(ctx context.Context, projectID string) (*projectSecrets, error) {
	if cached, ok := k.cache.Get(projectID); ok {
		return cached.(*projectSecrets), nil
	}

	wrapped, err := k.source.GetKeys(ctx, projectID)
	if err != nil {
		return nil, err
	}

	key, err := k.unwrap(Sealed{Ciphertext: wrapped.KeyCiphertext, IV: wrapped.KeyIV, Tag: wrapped.KeyTag})
	if err != nil {
		return nil, fmt.Errorf("unwrap project key: %w", err)
	}
	salt, err := k.unwrap(Sealed{Ciphertext: wrapped.SaltCiphertext, IV: wrapped.SaltIV, Tag: wrapped.SaltTag})
	if err != nil {
		return nil, fmt.Errorf("unwrap blind index salt: %w", err)
	}

	ps := &projectSecrets{key: key, salt: salt}
	k.cache.SetDefault(projectID, ps)
	return ps, nil
}

// unwrap decrypts a base64 payload wrapped with the root key
func (k *Keyring) unwrap(s Sealed) ([]byte, error) {
	plain, err := Decrypt(s, k.rootKey)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(plain)
}

// WrapProjectKeys generates fresh key material for a project wrapped with
// rootKey.
func WrapProjectKeys(rootKey []byte, projectID string) (*models.ProjectKeys, error) {
	key := make([]byte, KeySize)
	salt := make([]byte, 16)
	if err := randomBytes(key); err != nil {
		return nil, err
	}
	if err := randomBytes(salt); err != nil {
		return nil, err
	}

	wrappedKey, err := Encrypt(base64.StdEncoding.EncodeToString(key), rootKey)
	if err != nil {
		return nil, err
	}
	wrappedSalt, err := Encrypt(base64.StdEncoding.EncodeToString(salt), rootKey)
	if err != nil {
		return nil, err
	}

	return &models.ProjectKeys{
		ProjectID:      projectID,
		KeyCiphertext:  wrappedKey.Ciphertext,
		KeyIV:          wrappedKey.IV,
		KeyTag:         wrappedKey.Tag,
		SaltCiphertext: wrappedSalt.Ciphertext,
		SaltIV:         wrappedSalt.IV,
		SaltTag:        wrappedSalt.Tag,
	}, nil
}
