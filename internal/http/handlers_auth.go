package http

import (
	"net/http"

	"budget/internal/auth"
)

const refreshCookie = "refreshToken"

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// refreshTokenCookie is only sent back to the refresh endpoint.
func (s *Server) refreshTokenCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     refreshCookie,
		Value:    value,
		Path:     "/api/auth/refresh",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	tokens, err := s.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().
		Cookie(s.refreshTokenCookie(tokens.Refresh.Value, int(s.deps.Auth.RefreshTTL().Seconds()))).
		Data(tokenResponse{AccessToken: tokens.Access.Value, RefreshToken: tokens.Refresh.Value}).
		Write(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var value string
	if c, err := r.Cookie(refreshCookie); err == nil {
		value = c.Value
	}
	access, err := s.deps.Auth.Refresh(r.Context(), value)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Data(tokenResponse{AccessToken: access.Value}).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.BearerToken(r)
	if err := s.deps.Auth.Logout(r.Context(), token); err != nil {
		WriteError(w, r, err)
		return
	}
	// MaxAge -1 deletes the cookie.
	NewResponse().Cookie(s.refreshTokenCookie("", -1)).Write(w)
}
