// Package auth issues and verifies JWTs, hashes passwords, tracks refresh
// tokens and logged-out access tokens, and guards HTTP routes.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"budget/internal/apperr"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Principal is the authenticated user carried by a token.
type Principal struct {
	UserID int64
	Name   string
	Email  string
}

func (p Principal) complete() bool {
	return p.UserID > 0 && p.Name != "" && p.Email != ""
}

type claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// Token is a signed JWT and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider signs and parses HS256 tokens.
type TokenProvider struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenProvider(secret string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

func (p *TokenProvider) AccessToken(principal Principal) (Token, error) {
	return p.issue(principal, tokenTypeAccess, p.accessTTL)
}

func (p *TokenProvider) RefreshToken(principal Principal) (Token, error) {
	return p.issue(principal, tokenTypeRefresh, p.refreshTTL)
}

func (p *TokenProvider) issue(principal Principal, typ string, ttl time.Duration) (Token, error) {
	if !principal.complete() {
		return Token{}, apperr.New(apperr.MissingJWTPayload)
	}
	now := p.now()
	exp := now.Add(ttl)
	c := claims{
		Name:  principal.Name,
		Email: principal.Email,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(principal.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Token{Value: signed, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// ParseAccess verifies an access token.
func (p *TokenProvider) ParseAccess(token string) (Principal, time.Time, error) {
	return p.parse(token, tokenTypeAccess)
}

// ParseRefresh verifies a refresh token.
func (p *TokenProvider) ParseRefresh(token string) (Principal, time.Time, error) {
	return p.parse(token, tokenTypeRefresh)
}

func (p *TokenProvider) parse(token, typ string) (Principal, time.Time, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Principal{}, time.Time{}, apperr.New(apperr.ExpiredToken)
	case err != nil:
		return Principal{}, time.Time{}, apperr.Wrap(apperr.InvalidToken, err)
	case c.Type != typ:
		return Principal{}, time.Time{}, apperr.New(apperr.InvalidToken)
	}

	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return Principal{}, time.Time{}, apperr.Wrap(apperr.InvalidToken, err)
	}
	principal := Principal{UserID: id, Name: c.Name, Email: c.Email}
	if !principal.complete() {
		return Principal{}, time.Time{}, apperr.New(apperr.MissingJWTPayload)
	}
	return principal, c.ExpiresAt.Time, nil
}

// Hash returns the hex SHA-256 of a token, used as its blacklist key.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
