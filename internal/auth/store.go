package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"time"

	"budget/internal/cache"
)

// TokenStore keeps refresh tokens and the access-token blacklist.
type TokenStore struct {
	store cache.Store
}

func NewTokenStore(store cache.Store) *TokenStore {
	return &TokenStore{store: store}
}

const (
	refreshPrefix   = "refresh:"
	blacklistPrefix = "blacklist:"
)

// KeyPrefixes are the cache key prefixes TokenStore writes. An in-process
// cache must pin them so size-based eviction cannot revive a logged-out token.
var KeyPrefixes = []string{refreshPrefix, blacklistPrefix}

func refreshKey(userID int64) string { return refreshPrefix + strconv.FormatInt(userID, 10) }

func blacklistKey(token string) string { return blacklistPrefix + Hash(token) }

// SaveRefresh replaces the user's refresh token.
func (s *TokenStore) SaveRefresh(ctx context.Context, userID int64, token string, ttl time.Duration) error {
	if err := s.store.Set(ctx, refreshKey(userID), token, ttl); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// RefreshMatches reports whether token is the user's current refresh token.
func (s *TokenStore) RefreshMatches(ctx context.Context, userID int64, token string) (bool, error) {
	stored, ok, err := s.store.Get(ctx, refreshKey(userID))
	if err != nil {
		return false, fmt.Errorf("load refresh token: %w", err)
	}
	return ok && subtle.ConstantTimeCompare([]byte(stored), []byte(token)) == 1, nil
}

func (s *TokenStore) DeleteRefresh(ctx context.Context, userID int64) error {
	if err := s.store.Delete(ctx, refreshKey(userID)); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// Blacklist rejects token until it would have expired anyway.
func (s *TokenStore) Blacklist(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.store.Set(ctx, blacklistKey(token), "logout", ttl); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func (s *TokenStore) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	ok, err := s.store.Exists(ctx, blacklistKey(token))
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return ok, nil
}
