package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yesapp/whatsapp-api/pkg/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewService(s), s
}

func TestHashKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, HashKey("secret"), HashKey("secret"))
	assert.NotEqual(t, HashKey("secret"), HashKey("other"))
	assert.Len(t, HashKey("secret"), 64)
}

func TestGenerateKey(t *testing.T) {
	plaintext, keyHash, err := GenerateKey()
	require.NoError(t, err)

	assert.Len(t, plaintext, 64)
	assert.Equal(t, HashKey(plaintext), keyHash)

	other, _, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, other)
}

func TestVerify(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	plaintext, keyHash, err := GenerateKey()
	require.NoError(t, err)
	_, err = s.CreateAPIKey(ctx, keyHash, "test", `["read","write"]`, nil)
	require.NoError(t, err)

	key, err := svc.Verify(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, "test", key.Name)

	// Second lookup is served from the cache.
	key, err = svc.Verify(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, keyHash, key.KeyHash)
}

func TestVerifyUnknownKey(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Verify(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestVerifyExpiredKey(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	plaintext, keyHash, err := GenerateKey()
	require.NoError(t, err)
	expiresAt := time.Now().Add(-time.Minute).UnixMilli()
	_, err = s.CreateAPIKey(ctx, keyHash, "stale", `["read"]`, &expiresAt)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, plaintext)
	assert.ErrorIs(t, err, ErrExpiredKey)
}

func TestInvalidateDropsCache(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	plaintext, keyHash, err := GenerateKey()
	require.NoError(t, err)
	_, err = s.CreateAPIKey(ctx, keyHash, "test", `["read"]`, nil)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, plaintext)
	require.NoError(t, err)

	require.NoError(t, s.DeleteAPIKey(ctx, keyHash))
	svc.Invalidate(keyHash)

	_, err = svc.Verify(ctx, plaintext)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestHasPermission(t *testing.T) {
	key := &store.APIKey{Permissions: `["read"]`}
	assert.True(t, HasPermission(key, "read"))
	assert.False(t, HasPermission(key, "write"))

	wildcard := &store.APIKey{Permissions: `["*"]`}
	assert.True(t, HasPermission(wildcard, "read"))
	assert.True(t, HasPermission(wildcard, "write"))

	malformed := &store.APIKey{Permissions: `not-json`}
	assert.False(t, HasPermission(malformed, "read"))
}
