package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/apperr"
	"budget/internal/core"
	"budget/internal/services"
)

// Endpoints of the simulated card company the sync step calls. Like a real
// third-party API they answer with bare bodies, not the envelope.

type addCardTransactionRequest struct {
	MerchantID            string           `json:"merchantId" validate:"required"`
	OriginalMerchantID    string           `json:"originalMerchantId"`
	CardCompanyType       string           `json:"cardCompanyType" validate:"required"`
	CardNumber            string           `json:"cardNumber" validate:"required,min=10,max=20"`
	Amount                *decimal.Decimal `json:"amount" validate:"required"`
	MerchantName          string           `json:"merchantName" validate:"required"`
	MerchantAddress       string           `json:"merchantAddress"`
	TransactionAt         *time.Time       `json:"transactionAt" validate:"required"`
	CardTransactionType   string           `json:"cardTransactionType"`
	CardTransactionStatus string           `json:"cardTransactionStatus" validate:"required"`
}

type cardTransactionInfo struct {
	MerchantID            string          `json:"merchantId"`
	OriginalMerchantID    string          `json:"originalMerchantId,omitempty"`
	CardNumber            string          `json:"cardNumber"`
	Amount                decimal.Decimal `json:"amount"`
	MerchantName          string          `json:"merchantName"`
	MerchantAddress       string          `json:"merchantAddress,omitempty"`
	TransactionAt         time.Time       `json:"transactionAt"`
	CardTransactionType   string          `json:"cardTransactionType"`
	CardTransactionStatus string          `json:"cardTransactionStatus"`
}

type cardTransactionList struct {
	CardTransactionList []cardTransactionInfo `json:"cardTransactionList"`
}

func (s *Server) handleAddCardTransaction(w http.ResponseWriter, r *http.Request) {
	var req addCardTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if !req.Amount.IsPositive() {
		WriteError(w, r, apperr.Invalid(apperr.FieldError{Field: "amount", Reason: "must be greater than 0"}))
		return
	}
	typ := req.CardTransactionType
	if typ == "" {
		typ = string(core.Payment)
	}

	if _, err := s.deps.CardTransactions.Add(r.Context(), services.AddCardTransactionInput{
		CardCompany:        req.CardCompanyType,
		CardNumber:         req.CardNumber,
		MerchantID:         req.MerchantID,
		OriginalMerchantID: req.OriginalMerchantID,
		Amount:             *req.Amount,
		MerchantName:       req.MerchantName,
		MerchantAddress:    req.MerchantAddress,
		TransactionAt:      *req.TransactionAt,
		Type:               typ,
		Status:             req.CardTransactionStatus,
	}); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleListCardTransactions(w http.ResponseWriter, r *http.Request) {
	qr := newQueryReader(r)
	after := qr.timestamp("startDate", true)
	before := qr.timestamp("endDate", false)
	cardNumber := qr.str("cardNumber")
	if cardNumber == "" {
		qr.fail("cardNumber", "is required")
	}
	if err := qr.err(); err != nil {
		WriteError(w, r, err)
		return
	}

	rows, err := s.deps.CardTransactions.ListAfter(r.Context(), cardNumber, *after, before)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := cardTransactionList{CardTransactionList: make([]cardTransactionInfo, 0, len(rows))}
	for _, t := range rows {
		out.CardTransactionList = append(out.CardTransactionList, cardTransactionInfo{
			MerchantID:            t.MerchantID,
			OriginalMerchantID:    t.OriginalMerchantID,
			CardNumber:            t.CardNumber,
			Amount:                t.Amount,
			MerchantName:          t.MerchantName,
			MerchantAddress:       t.MerchantAddress,
			TransactionAt:         t.TransactionAt.UTC(),
			CardTransactionType:   string(t.Type),
			CardTransactionStatus: string(t.Status),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
