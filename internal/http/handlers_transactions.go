package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
	"budget/internal/services"
)

type syncRequest struct {
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
}

type syncResponse struct {
	CardCount      int `json:"cardCount"`
	InsertedCount  int `json:"insertedCount"`
	DuplicateCount int `json:"duplicateCount"`
}

type transactionInfo struct {
	CardNumber         string          `json:"cardNumber"`
	CategoryName       string          `json:"categoryName"`
	MerchantID         string          `json:"merchantId"`
	OriginalMerchantID string          `json:"originalMerchantId,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	MerchantName       string          `json:"merchantName"`
	MerchantAddress    string          `json:"merchantAddress,omitempty"`
	TransactionAt      time.Time       `json:"transactionAt"`
	TransactionStatus  string          `json:"transactionStatus"`
}

type transactionPage struct {
	TransactionList []transactionInfo `json:"transactionList"`
	TotalElements   int64             `json:"totalElements"`
	TotalPages      int               `json:"totalPages"`
	Page            int               `json:"page"`
	Size            int               `json:"size"`
}

type categorySum struct {
	CategoryID       int64           `json:"categoryId"`
	CategoryName     string          `json:"categoryName"`
	SumAmount        decimal.Decimal `json:"sumAmount"`
	TransactionCount int64           `json:"transactionCount"`
	Ratio            decimal.Decimal `json:"ratio"`
}

type summaryResponse struct {
	SumCategoryInfoList []categorySum   `json:"sumCategoryInfoList"`
	TotalSum            decimal.Decimal `json:"totalSum"`
}

type savingInfo struct {
	CategoryName   string `json:"categoryName"`
	Recommendation string `json:"recommendation"`
}

type savingResponse struct {
	SavingInfoList []savingInfo `json:"savingInfoList"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	// Both dates already passed the datetime check.
	from, _ := core.ParseDate(req.StartDate)
	to, _ := core.ParseDate(req.EndDate)

	res, err := s.deps.Transactions.Sync(r.Context(), p.UserID, from, to)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Data(syncResponse{
		CardCount:      res.Cards,
		InsertedCount:  res.Inserted,
		DuplicateCount: res.Duplicates,
	}).Write(w)
}

func (s *Server) handleQueryTransactions(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	qr := newQueryReader(r)
	q := services.TransactionQuery{
		From:         qr.date("startDate", true),
		To:           qr.date("endDate", true),
		CardID:       qr.positiveID("cardId"),
		CategoryID:   qr.positiveID("categoryId"),
		Status:       qr.status("transactionStatus"),
		Type:         qr.txType("transactionType"),
		MerchantName: qr.str("merchantName"),
		AmountMin:    qr.amount("amountMin"),
		AmountMax:    qr.amount("amountMax"),
		Ascending:    qr.ascending("sortOrder"),
		Page:         qr.intIn("page", 0, 0, services.MaxPage),
		Size:         qr.intOr("size", services.DefaultPageSize, 1),
	}
	if err := qr.err(); err != nil {
		WriteError(w, r, err)
		return
	}

	page, err := s.deps.Transactions.Query(r.Context(), p.UserID, q)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := transactionPage{
		TransactionList: make([]transactionInfo, 0, len(page.Items)),
		TotalElements:   page.Total,
		TotalPages:      page.TotalPages,
		Page:            page.Page,
		Size:            page.Size,
	}
	for _, t := range page.Items {
		out.TransactionList = append(out.TransactionList, transactionInfo{
			CardNumber:         t.CardNumber,
			CategoryName:       t.CategoryName,
			MerchantID:         t.MerchantID,
			OriginalMerchantID: t.OriginalMerchantID,
			Amount:             t.Amount,
			MerchantName:       t.MerchantName,
			MerchantAddress:    t.MerchantAddress,
			TransactionAt:      t.TransactionAt.UTC(),
			TransactionStatus:  t.Status.DisplayName(),
		})
	}
	NewResponse().Data(out).Write(w)
}

// dateRange reads the required startDate and endDate parameters.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	qr := newQueryReader(r)
	from := qr.date("startDate", true)
	to := qr.date("endDate", true)
	return from, to, qr.err()
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	sum, err := s.deps.Transactions.Summary(r.Context(), p.UserID, from, to)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := summaryResponse{
		SumCategoryInfoList: make([]categorySum, 0, len(sum.Categories)),
		TotalSum:            sum.Total,
	}
	for _, c := range sum.Categories {
		out.SumCategoryInfoList = append(out.SumCategoryInfoList, categorySum{
			CategoryID:       c.CategoryID,
			CategoryName:     c.CategoryName,
			SumAmount:        c.Sum,
			TransactionCount: c.Count,
			Ratio:            c.Ratio,
		})
	}
	NewResponse().Data(out).Write(w)
}

func (s *Server) handleSavingRecommendation(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	from, to, err := dateRange(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	tips, err := s.deps.Transactions.SavingRecommendation(r.Context(), p.UserID, from, to)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := savingResponse{SavingInfoList: make([]savingInfo, 0, len(tips))}
	for _, t := range tips {
		out.SavingInfoList = append(out.SavingInfoList, savingInfo{CategoryName: t.CategoryName, Recommendation: t.Recommendation})
	}
	NewResponse().Data(out).Write(w)
}
