package vault

import (
	"context"
	"fmt"

	"keyhaven/internal/crypto"
	models "keyhaven/internal/domain/models/vault"
)

// KeyProvider supplies the key material of a project. *crypto.Keyring
// implements it.
type KeyProvider interface {
	ProjectKey(ctx context.Context, projectID string) ([]byte, error)
	BlindIndex(ctx context.Context, projectID, secretName string) (string, error)
}

func decryptField(ciphertext, iv, tag string, key []byte) (string, error) {
	if ciphertext == "" && iv == "" && tag == "" {
		return "", nil
	}
	return crypto.Decrypt(crypto.Sealed{Ciphertext: ciphertext, IV: iv, Tag: tag}, key)
}

// decryptSecret opens the key, value and comment of s
func decryptSecret(s models.Secret, key []byte) (models.DecryptedSecret, error) {
	name, err := decryptField(s.KeyCiphertext, s.KeyIV, s.KeyTag, key)
	if err != nil {
		return models.DecryptedSecret{}, fmt.Errorf("decrypt key of secret %s: %w", s.ID, err)
	}
	value, err := decryptField(s.ValueCiphertext, s.ValueIV, s.ValueTag, key)
	if err != nil {
		return models.DecryptedSecret{}, fmt.Errorf("decrypt value of secret %s: %w", s.ID, err)
	}
	comment, err := decryptField(s.CommentCiphertext, s.CommentIV, s.CommentTag, key)
	if err != nil {
		return models.DecryptedSecret{}, fmt.Errorf("decrypt comment of secret %s: %w", s.ID, err)
	}

	return models.DecryptedSecret{
		ID:                    s.ID,
		Key:                   name,
		Value:                 value,
		Comment:               comment,
		Type:                  s.Type,
		Version:               s.Version,
		FolderID:              s.FolderID,
		SkipMultilineEncoding: s.SkipMultilineEncoding,
	}, nil
}

// EncryptFields seals a plaintext key, value and comment with key. An empty
// comment is stored as empty fields.
func EncryptFields(name, value, comment string, key []byte) (models.EncryptedFields, error) {
	var fields models.EncryptedFields

	sealedKey, err := crypto.Encrypt(name, key)
	if err != nil {
		return fields, fmt.Errorf("encrypt secret key: %w", err)
	}
	sealedValue, err := crypto.Encrypt(value, key)
	if err != nil {
		return fields, fmt.Errorf("encrypt secret value: %w", err)
	}

	fields.KeyCiphertext, fields.KeyIV, fields.KeyTag = sealedKey.Ciphertext, sealedKey.IV, sealedKey.Tag
	fields.ValueCiphertext, fields.ValueIV, fields.ValueTag = sealedValue.Ciphertext, sealedValue.IV, sealedValue.Tag

	if comment != "" {
		sealedComment, err := crypto.Encrypt(comment, key)
		if err != nil {
			return fields, fmt.Errorf("encrypt secret comment: %w", err)
		}
		fields.CommentCiphertext, fields.CommentIV, fields.CommentTag = sealedComment.Ciphertext, sealedComment.IV, sealedComment.Tag
	}
	return fields, nil
}
