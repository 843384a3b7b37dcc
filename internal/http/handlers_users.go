package http

import (
	"net/http"
	"time"

	"budget/internal/services"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=16"`
	Name     string `json:"name" validate:"required,min=2,max=10"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=16"`
}

type cancelDeletionRequest struct {
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required"`
}

type userInfo struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if _, err := s.deps.Users.Register(r.Context(), services.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}); err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusCreated).Write(w)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	u, err := s.deps.Users.Me(r.Context(), p.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Data(userInfo{Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}).Write(w)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.deps.Users.ChangePassword(r.Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Write(w)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.deps.Users.Delete(r.Context(), p.UserID); err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Write(w)
}

func (s *Server) handleCancelDeletion(w http.ResponseWriter, r *http.Request) {
	var req cancelDeletionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.deps.Users.CancelDeletion(r.Context(), req.Email, req.Name); err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Write(w)
}
