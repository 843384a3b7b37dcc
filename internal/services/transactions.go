package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"budget/internal/apperr"
	"budget/internal/audit"
	"budget/internal/cache"
	"budget/internal/cardapi"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/storage"
)

const (
	summaryKeyPrefix  = "sumCategoryTransaction:"
	defaultSummaryTTL = 10 * time.Minute
	defaultSyncFanOut = 4

	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = 1_000_000
)

// TransactionQuery filters and pages a user's transactions. From and To are
// dates; both days are included.
type TransactionQuery struct {
	From, To     time.Time
	CardID       int64
	CategoryID   int64
	Status       core.TransactionStatus
	Type         core.TransactionType
	MerchantName string
	AmountMin    *decimal.Decimal
	AmountMax    *decimal.Decimal
	Ascending    bool
	Page         int // 0-based
	Size         int
}

// TransactionPage is one page of a query.
type TransactionPage struct {
	Items      []core.Transaction
	Total      int64
	TotalPages int
	Page       int
	Size       int
}

// SyncResult counts what a sync imported.
type SyncResult struct {
	Cards      int
	Inserted   int
	Duplicates int
}

// SavingTip is one LLM recommendation.
type SavingTip struct {
	CategoryName   string
	Recommendation string
}

type TransactionOption func(*TransactionService)

// WithSummaryTTL sets how long cached summaries live.
func WithSummaryTTL(ttl time.Duration) TransactionOption {
	return func(s *TransactionService) {
		if ttl > 0 {
			s.summaryTTL = ttl
		}
	}
}

// WithSyncFanOut bounds how many cards are fetched at once.
func WithSyncFanOut(n int) TransactionOption {
	return func(s *TransactionService) {
		if n > 0 {
			s.fanOut = n
		}
	}
}

func WithSyncMetrics(m *metrics.Metrics) TransactionOption {
	return func(s *TransactionService) { s.metrics = m }
}

type TransactionService struct {
	db         *storage.DB
	cards      CardAPI
	advisor    Advisor
	cache      cache.Store
	metrics    *metrics.Metrics
	audit      *audit.Logger
	logger     *applog.Logger
	summaryTTL time.Duration
	fanOut     int
}

func NewTransactionService(db *storage.DB, cards CardAPI, advisor Advisor, store cache.Store, auditLog *audit.Logger, logger *applog.Logger, opts ...TransactionOption) *TransactionService {
	s := &TransactionService{
		db:         db,
		cards:      cards,
		advisor:    advisor,
		cache:      store,
		audit:      auditLog,
		logger:     logger.WithComponent(applog.ComponentTransaction),
		summaryTTL: defaultSummaryTTL,
		fanOut:     defaultSyncFanOut,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cardBatch is what one card contributes to a sync.
type cardBatch struct {
	card       core.Card
	rows       []core.Transaction
	duplicates int
}

// Sync imports the transactions of every card of the user between the two
// dates, both included. Cards are fetched concurrently; each card's rows are
// stored in their own database transaction.
func (s *TransactionService) Sync(ctx context.Context, userID int64, from, to time.Time) (res SyncResult, err error) {
	start := time.Now()
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "sync transactions", Operation: audit.OpInsert, Entity: "transactions", UserID: userID,
			Args: []any{"inserted", res.Inserted, "duplicates", res.Duplicates},
		}, start, err)
	}()

	if to.Before(from) {
		return SyncResult{}, apperr.Invalid(apperr.FieldError{Field: "endDate", Reason: "must not be before startDate"})
	}
	repos := s.db.Repos()
	if _, err := repos.Users.ByID(ctx, userID); err != nil {
		return SyncResult{}, notFoundAs(err, apperr.UserNotFound)
	}
	cards, err := repos.Cards.ByUser(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}
	if len(cards) == 0 {
		return SyncResult{}, nil
	}

	windowStart := core.StartOfDay(from)
	windowEnd := core.StartOfDay(to).AddDate(0, 0, 1)

	batches := make([]cardBatch, len(cards))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, card := range cards {
		g.Go(func() error {
			b, err := s.prepare(gctx, userID, card, windowStart, windowEnd)
			if err != nil {
				return err
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SyncResult{}, err
	}

	res.Cards = len(cards)
	// Earlier cards stay committed when a later one fails.
	defer func() {
		if res.Inserted > 0 {
			s.dropSummaries(ctx, userID)
		}
	}()
	for _, b := range batches {
		inserted, dup, err := s.store(ctx, b)
		res.Inserted += inserted
		if err != nil {
			return res, err
		}
		res.Duplicates += b.duplicates + dup
	}

	if s.metrics != nil {
		s.metrics.Synced(res.Inserted, res.Duplicates)
	}

	s.logger.InfoContext(ctx, "Synced card transactions",
		applog.FieldUserID, userID,
		"cards", res.Cards,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates)
	return res, nil
}

// prepare fetches one card's rows and resolves their categories.
func (s *TransactionService) prepare(ctx context.Context, userID int64, card core.Card, start, end time.Time) (cardBatch, error) {
	rows, err := s.cards.Transactions(ctx, card.Number, start, end)
	if err != nil {
		return cardBatch{}, err
	}

	repos := s.db.Repos()
	b := cardBatch{card: card}
	categories := map[string]int64{}
	for _, row := range rows {
		at := row.TransactionAt.UTC()
		exists, err := repos.Transactions.Exists(ctx, card.ID, row.MerchantID, at)
		if err != nil {
			return cardBatch{}, err
		}
		if exists {
			b.duplicates++
			continue
		}

		categoryID, ok := categories[row.MerchantName]
		if !ok {
			if categoryID, err = s.categorize(ctx, row.MerchantName); err != nil {
				return cardBatch{}, err
			}
			categories[row.MerchantName] = categoryID
		}

		t, err := toTransaction(row)
		if err != nil {
			return cardBatch{}, err
		}
		t.UserID, t.CardID, t.CategoryID, t.TransactionAt = userID, card.ID, categoryID, at
		b.rows = append(b.rows, t)
	}
	return b, nil
}

// categorize matches the merchant table first and asks the LLM otherwise.
func (s *TransactionService) categorize(ctx context.Context, merchantName string) (int64, error) {
	repos := s.db.Repos()
	c, ok, err := repos.Categories.MatchMerchant(ctx, merchantName)
	if err != nil {
		return 0, err
	}
	if ok {
		return c.ID, nil
	}

	code, err := s.advisor.ChooseCategory(ctx, merchantName)
	if err != nil {
		return 0, err
	}
	if !code.Valid() {
		return 0, apperr.Wrap(apperr.APIWrongAnswer, fmt.Errorf("unknown category %q for merchant %q", code, merchantName))
	}
	c, err = repos.Categories.ByCode(ctx, code)
	if err != nil {
		return 0, notFoundAs(err, apperr.APIWrongAnswer)
	}
	return c.ID, nil
}

func toTransaction(row cardapi.Transaction) (core.Transaction, error) {
	status, err := core.ParseTransactionStatus(row.CardTransactionStatus)
	if err != nil {
		return core.Transaction{}, apperr.Wrap(apperr.APIWrongAnswer, err)
	}
	typ := core.Payment
	if row.CardTransactionType != "" {
		if typ, err = core.ParseTransactionType(row.CardTransactionType); err != nil {
			return core.Transaction{}, apperr.Wrap(apperr.APIWrongAnswer, err)
		}
	}
	return core.Transaction{
		MerchantID:         row.MerchantID,
		OriginalMerchantID: row.OriginalMerchantID,
		Amount:             row.Amount,
		MerchantName:       row.MerchantName,
		MerchantAddress:    row.MerchantAddress,
		Status:             status,
		Type:               typ,
	}, nil
}

// store writes one card's rows atomically. Rows stored concurrently by
// another sync count as duplicates.
func (s *TransactionService) store(ctx context.Context, b cardBatch) (inserted, duplicates int, err error) {
	if len(b.rows) == 0 {
		return 0, 0, nil
	}
	err = s.db.InTx(ctx, func(r *storage.Repos) error {
		inserted, duplicates = 0, 0
		for _, t := range b.rows {
			exists, err := r.Transactions.Exists(ctx, t.CardID, t.MerchantID, t.TransactionAt)
			if err != nil {
				return err
			}
			if exists {
				duplicates++
				continue
			}
			if _, err := r.Transactions.Insert(ctx, t); err != nil {
				return fmt.Errorf("store transactions of card %d: %w", b.card.ID, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, duplicates, nil
}

func summaryKey(userID int64, from, to time.Time) string {
	return summaryKeyPrefix + strconv.FormatInt(userID, 10) + ":" + from.Format(core.DateLayout) + ":" + to.Format(core.DateLayout)
}

func (s *TransactionService) dropSummaries(ctx context.Context, userID int64) {
	prefix := summaryKeyPrefix + strconv.FormatInt(userID, 10) + ":"
	n, err := s.cache.DeletePrefix(ctx, prefix)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to drop cached summaries", applog.FieldUserID, userID, applog.FieldError, err)
		return
	}
	s.logger.DebugContext(ctx, "Dropped cached summaries", applog.FieldUserID, userID, "count", n)
}

// Query returns one page of the user's transactions.
func (s *TransactionService) Query(ctx context.Context, userID int64, q TransactionQuery) (TransactionPage, error) {
	if q.To.Before(q.From) {
		return TransactionPage{}, apperr.Invalid(apperr.FieldError{Field: "endDate", Reason: "must not be before startDate"})
	}
	switch {
	case q.Page < 0:
		q.Page = 0
	case q.Page > MaxPage:
		return TransactionPage{}, apperr.Invalid(apperr.FieldError{Field: "page", Reason: "must be at most " + strconv.Itoa(MaxPage)})
	}
	switch {
	case q.Size <= 0:
		q.Size = DefaultPageSize
	case q.Size > MaxPageSize:
		q.Size = MaxPageSize
	}

	items, total, err := s.db.Repos().Transactions.Search(ctx, storage.TransactionFilter{
		UserID:       userID,
		From:         core.StartOfDay(q.From),
		To:           core.EndOfDay(q.To),
		CardID:       q.CardID,
		CategoryID:   q.CategoryID,
		Status:       q.Status,
		Type:         q.Type,
		MerchantName: q.MerchantName,
		AmountMin:    q.AmountMin,
		AmountMax:    q.AmountMax,
		Ascending:    q.Ascending,
		Offset:       q.Page * q.Size,
		Limit:        q.Size,
	})
	if err != nil {
		return TransactionPage{}, err
	}
	return TransactionPage{
		Items:      items,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(q.Size))),
		Page:       q.Page,
		Size:       q.Size,
	}, nil
}

// Summary totals APPROVED spending per category between the two dates.
// Results are cached until the next sync of the user.
func (s *TransactionService) Summary(ctx context.Context, userID int64, from, to time.Time) (core.Summary, error) {
	if to.Before(from) {
		return core.Summary{}, apperr.Invalid(apperr.FieldError{Field: "endDate", Reason: "must not be before startDate"})
	}
	key := summaryKey(userID, from, to)
	cached, ok, err := cache.GetJSON[core.Summary](ctx, s.cache, key)
	if err != nil {
		s.logger.WarnContext(ctx, "Summary cache read failed", "key", key, applog.FieldError, err)
	}
	if ok {
		return cached, nil
	}

	sums, err := s.db.Repos().Transactions.SumByCategory(ctx, userID, core.StartOfDay(from), core.EndOfDay(to))
	if err != nil {
		return core.Summary{}, err
	}
	summary := core.Summarize(sums)
	if err := cache.SetJSON(ctx, s.cache, key, summary, s.summaryTTL); err != nil {
		s.logger.WarnContext(ctx, "Summary cache write failed", "key", key, applog.FieldError, err)
	}
	return summary, nil
}

// SavingRecommendation asks the LLM for one saving tip per category of the
// period's summary.
func (s *TransactionService) SavingRecommendation(ctx context.Context, userID int64, from, to time.Time) ([]SavingTip, error) {
	summary, err := s.Summary(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	answer, err := s.advisor.RecommendSaving(ctx, summary)
	if err != nil {
		return nil, err
	}

	var tips map[string]string
	if err := json.Unmarshal([]byte(answer), &tips); err != nil {
		return nil, apperr.Wrap(apperr.JSONParsing, err)
	}
	out := make([]SavingTip, 0, len(tips))
	for name, tip := range tips {
		out = append(out, SavingTip{CategoryName: name, Recommendation: tip})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryName < out[j].CategoryName })
	return out, nil
}
