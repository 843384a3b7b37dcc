package auth

import (
	"context"
	"net/http"
	"strings"

	"budget/internal/apperr"
	applog "budget/internal/log"
)

type principalKey struct{}

// WithPrincipal returns ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated user, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Permit lets a request through without a token. An empty Method matches
// any method; a Path ending in "/**" matches the prefix and everything under it.
type Permit struct {
	Method string
	Path   string
}

func (p Permit) matches(method, path string) bool {
	if p.Method != "" && p.Method != method {
		return false
	}
	if prefix, ok := strings.CutSuffix(p.Path, "/**"); ok {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return path == p.Path
}

// DefaultPermits are the public routes of the API.
func DefaultPermits() []Permit {
	return []Permit{
		{http.MethodPost, "/api/auth/login"},
		{http.MethodPost, "/api/auth/refresh"},
		{http.MethodPost, "/api/users"},
		{http.MethodDelete, "/api/users/me/deletion"},
		{"", "/outer/transaction/**"},
		{"", "/healthz"},
		{"", "/readyz"},
		{"", "/metrics"},
	}
}

// Authenticator verifies bearer tokens.
type Authenticator struct {
	tokens  *TokenProvider
	store   *TokenStore
	permits []Permit
	onError func(http.ResponseWriter, *http.Request, error)
}

// NewAuthenticator builds the middleware. onError writes rejections.
func NewAuthenticator(tokens *TokenProvider, store *TokenStore, permits []Permit, onError func(http.ResponseWriter, *http.Request, error)) *Authenticator {
	return &Authenticator{tokens: tokens, store: store, permits: permits, onError: onError}
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func (a *Authenticator) permitted(r *http.Request) bool {
	for _, p := range a.permits {
		if p.matches(r.Method, r.URL.Path) {
			return true
		}
	}
	return false
}

// Middleware authenticates any request carrying a token and rejects
// unauthenticated requests to routes outside the permit list.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			if !a.permitted(r) {
				a.onError(w, r, apperr.New(apperr.InvalidToken))
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		principal, _, err := a.tokens.ParseAccess(token)
		if err != nil {
			a.onError(w, r, err)
			return
		}
		revoked, err := a.store.IsBlacklisted(r.Context(), token)
		if err != nil {
			a.onError(w, r, err)
			return
		}
		if revoked {
			a.onError(w, r, apperr.New(apperr.InvalidToken))
			return
		}

		ctx := WithPrincipal(r.Context(), principal)
		ctx = applog.Enrich(ctx, applog.FieldUserID, principal.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
