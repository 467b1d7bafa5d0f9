package crypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	models "keyhaven/internal/domain/models/vault"
)

func testKey(b byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = b
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(7)

	sealed, err := Encrypt("postgres://user:pw@db/app", key)
	require.NoError(t, err)

	plain, err := Decrypt(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, "postgres://user:pw@db/app", plain)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	sealed, err := Encrypt("value", testKey(1))
	require.NoError(t, err)

	_, err = Decrypt(sealed, testKey(2))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEncryptUsesFreshIV(t *testing.T) {
	key := testKey(3)
	a, err := Encrypt("same", key)
	require.NoError(t, err)
	b, err := Encrypt("same", key)
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
}

func TestBlindIndexIsDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	a, err := BlindIndex("DB_URL", salt)
	require.NoError(t, err)
	b, err := BlindIndex("DB_URL", salt)
	require.NoError(t, err)
	c, err := BlindIndex("DB_URL", []byte("fedcba9876543210"))
	require.NoError(t, err)
	d, err := BlindIndex("API_KEY", salt)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestBlindIndexRejectsEmptyName(t *testing.T) {
	_, err := BlindIndex("", []byte("salt"))
	assert.ErrorIs(t, err, ErrEmptySecretName)
}

type staticKeySource struct {
	keys  *models.ProjectKeys
	calls int
}

func (s *staticKeySource) GetKeys(ctx context.Context, projectID string) (*models.ProjectKeys, error) {
	s.calls++
	return s.keys, nil
}

func TestKeyringUnwrapsAndCaches(t *testing.T) {
	root := testKey(9)
	wrapped, err := WrapProjectKeys(root, "p1")
	require.NoError(t, err)

	source := &staticKeySource{keys: wrapped}
	ring := NewKeyring(root, source)
	ctx := context.Background()

	key, err := ring.ProjectKey(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	idx1, err := ring.BlindIndex(ctx, "p1", "TOKEN")
	require.NoError(t, err)
	idx2, err := ring.BlindIndex(ctx, "p1", "TOKEN")
	require.NoError(t, err)

	assert.Equal(t, idx1, idx2)
	assert.Equal(t, 1, source.calls)
}
