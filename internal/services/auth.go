package services

import (
	"context"
	"errors"
	"time"

	"budget/internal/apperr"
	"budget/internal/audit"
	"budget/internal/auth"
	"budget/internal/storage"
)

// Tokens is the result of a login.
type Tokens struct {
	Access  auth.Token
	Refresh auth.Token
}

type AuthService struct {
	users  *storage.UserRepo
	hasher *auth.PasswordHasher
	tokens *auth.TokenProvider
	store  *auth.TokenStore
	audit  *audit.Logger
}

func NewAuthService(db *storage.DB, hasher *auth.PasswordHasher, tokens *auth.TokenProvider, store *auth.TokenStore, auditLog *audit.Logger) *AuthService {
	return &AuthService{
		users:  db.Repos().Users,
		hasher: hasher,
		tokens: tokens,
		store:  store,
		audit:  auditLog,
	}
}

// RefreshTTL is the lifetime of issued refresh tokens.
func (s *AuthService) RefreshTTL() time.Duration { return s.tokens.RefreshTTL() }

// Login checks the credentials, issues both tokens and stores the refresh
// token as the user's only valid one.
func (s *AuthService) Login(ctx context.Context, email, password string) (t Tokens, err error) {
	start := time.Now()
	var userID int64
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "login", Operation: audit.OpSelect, Entity: "users", EntityID: userID, UserID: userID,
			Args: []any{"email", audit.MaskEmail(email)},
		}, start, err)
	}()

	u, err := s.users.ByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return Tokens{}, apperr.New(apperr.InvalidLogin)
	}
	if err != nil {
		return Tokens{}, err
	}
	userID = u.ID
	if u.IsDeleted() {
		return Tokens{}, apperr.New(apperr.DeletedUser)
	}
	ok, err := s.hasher.Matches(u.PasswordHash, password)
	if err != nil {
		return Tokens{}, err
	}
	if !ok {
		return Tokens{}, apperr.New(apperr.InvalidLogin)
	}

	principal := auth.Principal{UserID: u.ID, Name: u.Name, Email: u.Email}
	if t.Access, err = s.tokens.AccessToken(principal); err != nil {
		return Tokens{}, err
	}
	if t.Refresh, err = s.tokens.RefreshToken(principal); err != nil {
		return Tokens{}, err
	}
	if err := s.store.SaveRefresh(ctx, u.ID, t.Refresh.Value, s.tokens.RefreshTTL()); err != nil {
		return Tokens{}, err
	}
	return t, nil
}

// Refresh issues a new access token for a stored refresh token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (auth.Token, error) {
	if refreshToken == "" {
		return auth.Token{}, apperr.New(apperr.InvalidRefreshToken)
	}
	principal, _, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return auth.Token{}, apperr.Wrap(apperr.InvalidRefreshToken, err)
	}

	u, err := s.users.ByID(ctx, principal.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return auth.Token{}, apperr.Wrap(apperr.InvalidRefreshToken, err)
	}
	if err != nil {
		return auth.Token{}, err
	}
	if u.IsDeleted() {
		return auth.Token{}, apperr.New(apperr.DeletedUser)
	}

	ok, err := s.store.RefreshMatches(ctx, u.ID, refreshToken)
	if err != nil {
		return auth.Token{}, err
	}
	if !ok {
		return auth.Token{}, apperr.New(apperr.InvalidRefreshToken)
	}
	return s.tokens.AccessToken(auth.Principal{UserID: u.ID, Name: u.Name, Email: u.Email})
}

// Logout blacklists the access token for the rest of its life and revokes
// the user's refresh token.
func (s *AuthService) Logout(ctx context.Context, accessToken string) (err error) {
	start := time.Now()
	var userID int64
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "logout", Operation: audit.OpDelete, Entity: "tokens", UserID: userID,
			Args: []any{"token", audit.MaskToken(accessToken)},
		}, start, err)
	}()

	principal, expiresAt, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return err
	}
	userID = principal.UserID
	if err := s.store.Blacklist(ctx, accessToken, expiresAt); err != nil {
		return err
	}
	return s.store.DeleteRefresh(ctx, principal.UserID)
}
