package services

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"budget/internal/apperr"
	"budget/internal/audit"
	"budget/internal/auth"
	"budget/internal/cache"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/storage"
)

type env struct {
	db     *storage.DB
	logger *applog.Logger
	audit  *audit.Logger
	hasher *auth.PasswordHasher
	cache  *cache.MemoryStore
	tokens *auth.TokenProvider
	store  *auth.TokenStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "services.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := applog.New(applog.Config{Output: io.Discard})
	mem := cache.NewMemoryStore(100)
	return &env{
		db:     db,
		logger: logger,
		audit:  audit.New(logger),
		hasher: auth.NewPasswordHasher(bcrypt.MinCost),
		cache:  mem,
		tokens: auth.NewTokenProvider("0123456789abcdef0123456789abcdef", 30*time.Minute, 14*24*time.Hour),
		store:  auth.NewTokenStore(mem),
	}
}

func (e *env) register(t *testing.T, email, password, name string) core.User {
	t.Helper()
	u, err := NewUserService(e.db, e.hasher, e.audit).Register(context.Background(),
		RegisterInput{Email: email, Password: password, Name: name})
	require.NoError(t, err)
	return u
}

func TestUserService(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := NewUserService(e.db, e.hasher, e.audit)

	u := e.register(t, "tester@example.com", "rawPassword", "tester")
	assert.NotZero(t, u.ID)
	assert.NotEqual(t, "rawPassword", u.PasswordHash)

	_, err := svc.Register(ctx, RegisterInput{Email: "tester@example.com", Password: "otherPass1", Name: "other"})
	assert.True(t, apperr.HasCode(err, apperr.UserEmailExists))

	me, err := svc.Me(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "tester", me.Name)

	_, err = svc.Me(ctx, 4321)
	assert.True(t, apperr.HasCode(err, apperr.UserNotFound))

	t.Run("change password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, u.ID, "wrongPassword", "newPassword")
		assert.True(t, apperr.HasCode(err, apperr.InvalidCurrentPassword))

		require.NoError(t, svc.ChangePassword(ctx, u.ID, "rawPassword", "rawPassword"), "same password is a no-op")
		require.NoError(t, svc.ChangePassword(ctx, u.ID, "rawPassword", "newPassword"))

		stored, err := svc.Me(ctx, u.ID)
		require.NoError(t, err)
		ok, err := e.hasher.Matches(stored.PasswordHash, "newPassword")
		require.NoError(t, err)
		assert.True(t, ok)

		err = svc.ChangePassword(ctx, 4321, "a", "b")
		assert.True(t, apperr.HasCode(err, apperr.UserNotFound))
	})

	t.Run("delete and restore", func(t *testing.T) {
		err := svc.CancelDeletion(ctx, "tester@example.com", "tester")
		assert.True(t, apperr.HasCode(err, apperr.UserNotFound), "active users cannot be restored")

		require.NoError(t, svc.Delete(ctx, u.ID))
		err = svc.Delete(ctx, u.ID)
		assert.True(t, apperr.HasCode(err, apperr.UserAlreadyDeleted))

		require.NoError(t, svc.CancelDeletion(ctx, "tester@example.com", "tester"))
		me, err := svc.Me(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, me.IsDeleted())

		err = svc.Delete(ctx, 4321)
		assert.True(t, apperr.HasCode(err, apperr.UserNotFound))
	})
}

func TestAuthService(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := NewAuthService(e.db, e.hasher, e.tokens, e.store, e.audit)
	u := e.register(t, "tester@example.com", "rawPassword", "tester")

	tests := []struct {
		name     string
		email    string
		password string
		want     apperr.Code
	}{
		{"unknown email", "nobody@example.com", "rawPassword", apperr.InvalidLogin},
		{"wrong password", "tester@example.com", "badPassword", apperr.InvalidLogin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, tt.email, tt.password)
			assert.True(t, apperr.HasCode(err, tt.want), "got %v", err)
		})
	}

	tokens, err := svc.Login(ctx, "tester@example.com", "rawPassword")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.Access.Value)
	assert.NotEmpty(t, tokens.Refresh.Value)

	access, err := svc.Refresh(ctx, tokens.Refresh.Value)
	require.NoError(t, err)
	p, _, err := e.tokens.ParseAccess(access.Value)
	require.NoError(t, err)
	assert.Equal(t, u.ID, p.UserID)

	_, err = svc.Refresh(ctx, tokens.Access.Value)
	assert.True(t, apperr.HasCode(err, apperr.InvalidRefreshToken), "an access token is not a refresh token")
	_, err = svc.Refresh(ctx, "")
	assert.True(t, apperr.HasCode(err, apperr.InvalidRefreshToken))

	require.NoError(t, svc.Logout(ctx, tokens.Access.Value))
	blacklisted, err := e.store.IsBlacklisted(ctx, tokens.Access.Value)
	require.NoError(t, err)
	assert.True(t, blacklisted)

	_, err = svc.Refresh(ctx, tokens.Refresh.Value)
	assert.True(t, apperr.HasCode(err, apperr.InvalidRefreshToken), "logout revokes the refresh token")

	require.NoError(t, NewUserService(e.db, e.hasher, e.audit).Delete(ctx, u.ID))
	_, err = svc.Login(ctx, "tester@example.com", "rawPassword")
	assert.True(t, apperr.HasCode(err, apperr.DeletedUser))
}

func TestCardService(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	svc := NewCardService(e.db, e.audit)
	alice := e.register(t, "alice@example.com", "rawPassword", "alice")
	bob := e.register(t, "bob@example.com", "rawPassword", "bob")

	card, err := svc.Register(ctx, alice.ID, "shinhan", "1234567890123456")
	require.NoError(t, err)
	assert.Equal(t, core.Shinhan, card.Company)

	tests := []struct {
		name    string
		userID  int64
		company string
		number  string
		want    apperr.Code
	}{
		{"duplicate across users", bob.ID, "SHINHAN", "1234567890123456", apperr.CardExists},
		{"unknown company", alice.ID, "VISA", "1234567890123457", apperr.InvalidInput},
		{"unknown user", 4321, "KB", "1234567890123458", apperr.UserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.userID, tt.company, tt.number)
			assert.True(t, apperr.HasCode(err, tt.want), "got %v", err)
		})
	}

	_, err = svc.Register(ctx, bob.ID, "KB", "1234567890123456")
	require.NoError(t, err, "the same number at another company is a different card")

	cards, err := svc.List(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, cards, 1)

	err = svc.Delete(ctx, bob.ID, card.ID)
	assert.True(t, apperr.HasCode(err, apperr.CardNotFound), "only the owner may delete")
	require.NoError(t, svc.Delete(ctx, alice.ID, card.ID))

	cards, err = svc.List(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, cards)
}
