package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/yesapp/whatsapp-api/pkg/store"
)

var (
	ErrInvalidKey = errors.New("invalid API key")
	ErrExpiredKey = errors.New("API key has expired")
)

// HashKey returns the SHA-256 hex digest of a plaintext key. Only the
// digest is ever stored.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random plaintext key and its digest.
func GenerateKey() (plaintext, keyHash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, HashKey(plaintext), nil
}

type cacheEntry struct {
	key       *store.APIKey
	expiresAt time.Time
}

// Service verifies API keys against the store, with a short-lived
// verification cache keyed by digest.
type Service struct {
	store    *store.Store
	cacheMu  sync.RWMutex
	cache    map[string]cacheEntry
	cacheTTL time.Duration
}

func NewService(s *store.Store) *Service {
	return &Service{
		store:    s,
		cache:    make(map[string]cacheEntry),
		cacheTTL: 30 * time.Second,
	}
}

// Verify resolves a plaintext key to its record, enforcing expiry, and
// bumps last_used_at.
func (s *Service) Verify(ctx context.Context, plaintext string) (*store.APIKey, error) {
	keyHash := HashKey(plaintext)

	s.cacheMu.RLock()
	entry, ok := s.cache[keyHash]
	s.cacheMu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		if keyExpired(entry.key) {
			return nil, ErrExpiredKey
		}
		return entry.key, nil
	}

	key, err := s.store.GetAPIKey(ctx, keyHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}
	if keyExpired(key) {
		return nil, ErrExpiredKey
	}

	s.cacheMu.Lock()
	s.cache[keyHash] = cacheEntry{key: key, expiresAt: time.Now().Add(s.cacheTTL)}
	s.cacheMu.Unlock()

	_ = s.store.TouchAPIKey(ctx, keyHash)
	return key, nil
}

// Invalidate drops the cached verification for a digest, used after
// key deletion.
func (s *Service) Invalidate(keyHash string) {
	s.cacheMu.Lock()
	delete(s.cache, keyHash)
	s.cacheMu.Unlock()
}

func keyExpired(key *store.APIKey) bool {
	return key.ExpiresAt != nil && time.Now().UnixMilli() > *key.ExpiresAt
}

// HasPermission checks a key's JSON permission list for the required
// permission. A "*" entry grants everything.
func HasPermission(key *store.APIKey, required string) bool {
	var permissions []string
	if err := json.Unmarshal([]byte(key.Permissions), &permissions); err != nil {
		return false
	}
	for _, p := range permissions {
		if p == required || p == "*" {
			return true
		}
	}
	return false
}
