package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/apperr"
	"budget/internal/cache"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var alice = Principal{UserID: 7, Name: "alice", Email: "alice@example.com"}

func TestTokenProvider_RoundTrip(t *testing.T) {
	p := NewTokenProvider(testSecret, 30*time.Minute, 14*24*time.Hour)

	access, err := p.AccessToken(alice)
	require.NoError(t, err)
	got, exp, err := p.ParseAccess(access.Value)
	require.NoError(t, err)
	assert.Equal(t, alice, got)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), exp, 2*time.Second)

	refresh, err := p.RefreshToken(alice)
	require.NoError(t, err)
	_, _, err = p.ParseRefresh(refresh.Value)
	require.NoError(t, err)

	_, _, err = p.ParseAccess(refresh.Value)
	assert.True(t, apperr.HasCode(err, apperr.InvalidToken), "refresh token is not a bearer token")
}

func TestTokenProvider_UniqueWithinSecond(t *testing.T) {
	p := NewTokenProvider(testSecret, time.Minute, time.Hour)
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return issued }

	first, err := p.AccessToken(alice)
	require.NoError(t, err)
	second, err := p.AccessToken(alice)
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, second.Value)

	store := NewTokenStore(cache.NewMemoryStore(100))
	require.NoError(t, store.Blacklist(context.Background(), first.Value, time.Now().Add(time.Minute)))
	revoked, err := store.IsBlacklisted(context.Background(), second.Value)
	require.NoError(t, err)
	assert.False(t, revoked, "login right after logout gets a fresh token")
}

func TestTokenProvider_Errors(t *testing.T) {
	p := NewTokenProvider(testSecret, time.Minute, time.Hour)
	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return issued }
	tok, err := p.AccessToken(alice)
	require.NoError(t, err)

	other := NewTokenProvider("another-secret-another-secret-xx", time.Minute, time.Hour)
	other.now = p.now

	tests := []struct {
		name  string
		parse func() error
		want  apperr.Code
	}{
		{"expired", func() error {
			p.now = func() time.Time { return issued.Add(2 * time.Minute) }
			defer func() { p.now = func() time.Time { return issued } }()
			_, _, err := p.ParseAccess(tok.Value)
			return err
		}, apperr.ExpiredToken},
		{"wrong key", func() error { _, _, err := other.ParseAccess(tok.Value); return err }, apperr.InvalidToken},
		{"garbage", func() error { _, _, err := p.ParseAccess("not.a.jwt"); return err }, apperr.InvalidToken},
		{"missing payload", func() error { _, err := p.AccessToken(Principal{UserID: 1}); return err }, apperr.MissingJWTPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.parse()
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.CodeOf(err))
		})
	}
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(4)
	hash, err := h.Hash("password1!")
	require.NoError(t, err)

	ok, err := h.Matches(hash, "password1!")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Matches(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Matches("not-a-hash", "x")
	assert.Error(t, err)
}

func TestTokenStore(t *testing.T) {
	ctx := context.Background()
	s := NewTokenStore(cache.NewMemoryStore(100))

	require.NoError(t, s.SaveRefresh(ctx, 7, "r1", time.Hour))
	ok, err := s.RefreshMatches(ctx, 7, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.RefreshMatches(ctx, 7, "r2")
	assert.False(t, ok)

	require.NoError(t, s.DeleteRefresh(ctx, 7))
	ok, _ = s.RefreshMatches(ctx, 7, "r1")
	assert.False(t, ok)

	require.NoError(t, s.Blacklist(ctx, "tok", time.Now().Add(time.Minute)))
	revoked, err := s.IsBlacklisted(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, s.Blacklist(ctx, "old", time.Now().Add(-time.Minute)))
	revoked, _ = s.IsBlacklisted(ctx, "old")
	assert.False(t, revoked, "already expired tokens are not stored")
}

func TestTokenStore_SurvivesCacheChurn(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryStore(3, cache.WithPinnedPrefixes(KeyPrefixes...))
	s := NewTokenStore(mem)

	require.NoError(t, s.Blacklist(ctx, "logged-out-token", time.Now().Add(30*time.Minute)))
	require.NoError(t, s.SaveRefresh(ctx, 1, "r1", time.Hour))
	for i := 0; i < 10; i++ {
		require.NoError(t, mem.Set(ctx, "sumCategoryTransaction:1:2025-03-0"+strconv.Itoa(i), "{}", time.Hour))
	}

	revoked, err := s.IsBlacklisted(ctx, "logged-out-token")
	require.NoError(t, err)
	assert.True(t, revoked)
	ok, err := s.RefreshMatches(ctx, 1, "r1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticator(t *testing.T) {
	provider := NewTokenProvider(testSecret, time.Minute, time.Hour)
	store := NewTokenStore(cache.NewMemoryStore(100))
	valid, err := provider.AccessToken(alice)
	require.NoError(t, err)
	revoked, err := provider.AccessToken(Principal{UserID: 8, Name: "bob", Email: "bob@example.com"})
	require.NoError(t, err)
	require.NoError(t, store.Blacklist(context.Background(), revoked.Value, revoked.ExpiresAt))

	var rejected apperr.Code
	a := NewAuthenticator(provider, store, DefaultPermits(), func(w http.ResponseWriter, _ *http.Request, err error) {
		rejected = apperr.CodeOf(err)
		w.WriteHeader(apperr.CodeOf(err).Status)
	})
	var seen Principal
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
		wantCode   apperr.Code
		wantUser   int64
	}{
		{"public without token", http.MethodPost, "/api/auth/login", "", http.StatusOK, apperr.Code{}, 0},
		{"outer api prefix", http.MethodGet, "/outer/transaction", "", http.StatusOK, apperr.Code{}, 0},
		{"protected without token", http.MethodGet, "/api/cards", "", http.StatusUnauthorized, apperr.InvalidToken, 0},
		{"method must match permit", http.MethodGet, "/api/users", "", http.StatusUnauthorized, apperr.InvalidToken, 0},
		{"valid token", http.MethodGet, "/api/cards", valid.Value, http.StatusOK, apperr.Code{}, 7},
		{"bad token on public route", http.MethodPost, "/api/auth/login", "junk", http.StatusUnauthorized, apperr.InvalidToken, 0},
		{"blacklisted", http.MethodGet, "/api/cards", revoked.Value, http.StatusUnauthorized, apperr.InvalidToken, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rejected, seen = apperr.Code{}, Principal{}
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, rejected)
			assert.Equal(t, tt.wantUser, seen.UserID)
		})
	}
}

func TestHash(t *testing.T) {
	assert.Len(t, Hash("token"), 64)
	assert.Equal(t, Hash("token"), Hash("token"))
	assert.NotEqual(t, Hash("token"), Hash("token2"))
}
