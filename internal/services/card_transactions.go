package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/apperr"
	"budget/internal/core"
	"budget/internal/storage"
)

// AddCardTransactionInput is a record pushed into the simulated card company.
type AddCardTransactionInput struct {
	CardCompany        string
	CardNumber         string
	MerchantID         string
	OriginalMerchantID string
	Amount             decimal.Decimal
	MerchantName       string
	MerchantAddress    string
	TransactionAt      time.Time
	Type               string
	Status             string
}

// CardTransactionService backs the simulated card company API.
type CardTransactionService struct {
	cards        *storage.CardRepo
	transactions *storage.CardTransactionRepo
}

func NewCardTransactionService(db *storage.DB) *CardTransactionService {
	r := db.Repos()
	return &CardTransactionService{cards: r.Cards, transactions: r.CardTransactions}
}

// Add stores a card transaction for a registered card.
func (s *CardTransactionService) Add(ctx context.Context, in AddCardTransactionInput) (core.CardTransaction, error) {
	var fields []apperr.FieldError
	company, err := core.ParseCardCompany(in.CardCompany)
	if err != nil {
		fields = append(fields, apperr.FieldError{Field: "cardCompanyType", Reason: "unsupported card company"})
	}
	typ, err := core.ParseTransactionType(in.Type)
	if err != nil {
		fields = append(fields, apperr.FieldError{Field: "cardTransactionType", Reason: "unsupported transaction type"})
	}
	status, err := core.ParseTransactionStatus(in.Status)
	if err != nil {
		fields = append(fields, apperr.FieldError{Field: "cardTransactionStatus", Reason: "unsupported transaction status"})
	}
	if len(fields) > 0 {
		return core.CardTransaction{}, apperr.Invalid(fields...)
	}

	exists, err := s.transactions.Exists(ctx, in.MerchantID, in.CardNumber)
	if err != nil {
		return core.CardTransaction{}, err
	}
	if exists {
		return core.CardTransaction{}, apperr.New(apperr.CardTransactionExists)
	}
	known, err := s.cards.Exists(ctx, company, in.CardNumber)
	if err != nil {
		return core.CardTransaction{}, err
	}
	if !known {
		return core.CardTransaction{}, apperr.New(apperr.CardNotFound)
	}

	t := core.CardTransaction{
		MerchantID:         in.MerchantID,
		OriginalMerchantID: in.OriginalMerchantID,
		CardNumber:         in.CardNumber,
		Amount:             in.Amount,
		MerchantName:       in.MerchantName,
		MerchantAddress:    in.MerchantAddress,
		TransactionAt:      in.TransactionAt.UTC(),
		Type:               typ,
		Status:             status,
	}
	t.ID, err = s.transactions.Insert(ctx, t)
	if storage.IsUniqueViolation(err) {
		return core.CardTransaction{}, apperr.Wrap(apperr.CardTransactionExists, err)
	}
	if err != nil {
		return core.CardTransaction{}, fmt.Errorf("insert card transaction: %w", err)
	}
	return t, nil
}

// ListAfter returns the card's transactions strictly after after and, when
// before is set, strictly before it.
func (s *CardTransactionService) ListAfter(ctx context.Context, cardNumber string, after time.Time, before *time.Time) ([]core.CardTransaction, error) {
	return s.transactions.ListAfter(ctx, cardNumber, after, before)
}
