package services

import (
	"context"
	"fmt"
	"time"

	"budget/internal/apperr"
	"budget/internal/audit"
	"budget/internal/core"
	"budget/internal/storage"
)

type CardService struct {
	users *storage.UserRepo
	cards *storage.CardRepo
	audit *audit.Logger
}

func NewCardService(db *storage.DB, auditLog *audit.Logger) *CardService {
	r := db.Repos()
	return &CardService{users: r.Users, cards: r.Cards, audit: auditLog}
}

// Register adds a card to the user. A card number is unique per company
// across all users.
func (s *CardService) Register(ctx context.Context, userID int64, company, number string) (c core.Card, err error) {
	start := time.Now()
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "register card", Operation: audit.OpInsert, Entity: "cards", EntityID: c.ID, UserID: userID,
			Args: []any{"card_number", audit.MaskCardNumber(number)},
		}, start, err)
	}()

	cc, err := core.ParseCardCompany(company)
	if err != nil {
		return core.Card{}, apperr.Invalid(apperr.FieldError{Field: "cardCompanyType", Reason: "unsupported card company"})
	}
	if _, err := s.users.ByID(ctx, userID); err != nil {
		return core.Card{}, notFoundAs(err, apperr.UserNotFound)
	}

	exists, err := s.cards.Exists(ctx, cc, number)
	if err != nil {
		return core.Card{}, err
	}
	if exists {
		return core.Card{}, apperr.New(apperr.CardExists)
	}

	c, err = s.cards.Create(ctx, core.Card{UserID: userID, Company: cc, Number: number})
	if storage.IsUniqueViolation(err) {
		return core.Card{}, apperr.Wrap(apperr.CardExists, err)
	}
	if err != nil {
		return core.Card{}, fmt.Errorf("create card: %w", err)
	}
	return c, nil
}

// Delete removes one of the user's cards. Cards of other users are reported
// as not found.
func (s *CardService) Delete(ctx context.Context, userID, cardID int64) (err error) {
	start := time.Now()
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "delete card", Operation: audit.OpDelete, Entity: "cards", EntityID: cardID, UserID: userID,
		}, start, err)
	}()

	if _, err := s.cards.ByIDAndUser(ctx, cardID, userID); err != nil {
		return notFoundAs(err, apperr.CardNotFound)
	}
	return notFoundAs(s.cards.Delete(ctx, cardID), apperr.CardNotFound)
}

func (s *CardService) List(ctx context.Context, userID int64) ([]core.Card, error) {
	return s.cards.ByUser(ctx, userID)
}
