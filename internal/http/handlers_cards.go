package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type registerCardRequest struct {
	CardCompanyType string `json:"cardCompanyType" validate:"required"`
	CardNumber      string `json:"cardNumber" validate:"required,min=10,max=20"`
}

type cardInfo struct {
	CardID          int64     `json:"cardId"`
	CardCompanyType string    `json:"cardCompanyType"`
	CardNumber      string    `json:"cardNumber"`
	CreatedAt       time.Time `json:"createdAt"`
}

type cardList struct {
	CardList []cardInfo `json:"cardList"`
}

func (s *Server) handleRegisterCard(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req registerCardRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if _, err := s.deps.Cards.Register(r.Context(), p.UserID, req.CardCompanyType, req.CardNumber); err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Status(http.StatusCreated).Write(w)
}

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	cards, err := s.deps.Cards.List(r.Context(), p.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := cardList{CardList: make([]cardInfo, 0, len(cards))}
	for _, c := range cards {
		out.CardList = append(out.CardList, cardInfo{
			CardID:          c.ID,
			CardCompanyType: c.Company.DisplayName(),
			CardNumber:      c.Number,
			CreatedAt:       c.CreatedAt,
		})
	}
	NewResponse().Data(out).Write(w)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	cardID, err := pathID(chi.URLParam(r, "cardID"), "cardId")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := s.deps.Cards.Delete(r.Context(), p.UserID, cardID); err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Write(w)
}
