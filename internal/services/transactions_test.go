package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/apperr"
	"budget/internal/cardapi"
	"budget/internal/core"
	"budget/internal/metrics"
)

type fakeCardAPI struct {
	mu      sync.Mutex
	rows    map[string][]cardapi.Transaction
	err     error
	calls   []string
	start   time.Time
	end     time.Time
	onFetch func(number string)
}

func (f *fakeCardAPI) Transactions(_ context.Context, number string, start, end time.Time) ([]cardapi.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, number)
	f.start, f.end = start, end
	if f.onFetch != nil {
		f.onFetch(number)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[number], nil
}

type fakeAdvisor struct {
	mu       sync.Mutex
	category core.CategoryCode
	asked    []string
	advice   string
	adviceN  int
}

func (f *fakeAdvisor) ChooseCategory(_ context.Context, merchant string) (core.CategoryCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, merchant)
	return f.category, nil
}

func (f *fakeAdvisor) RecommendSaving(context.Context, core.Summary) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adviceN++
	return f.advice, nil
}

func row(merchantID, merchant, amount string, at time.Time) cardapi.Transaction {
	return cardapi.Transaction{
		MerchantID:            merchantID,
		Amount:                decimal.RequireFromString(amount),
		MerchantName:          merchant,
		TransactionAt:         at,
		CardTransactionType:   "PAYMENT",
		CardTransactionStatus: "APPROVED",
	}
}

var (
	march10 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	march11 = time.Date(2025, 3, 11, 9, 30, 0, 0, time.UTC)
	march9  = time.Date(2025, 3, 9, 18, 0, 0, 0, time.UTC)
)

func syncFixture(t *testing.T) (*env, *TransactionService, *fakeCardAPI, *fakeAdvisor, core.User, *metrics.Metrics) {
	t.Helper()
	e := newEnv(t)
	u := e.register(t, "alice@example.com", "rawPassword", "alice")
	cards := NewCardService(e.db, e.audit)
	_, err := cards.Register(context.Background(), u.ID, "SHINHAN", "1111222233334444")
	require.NoError(t, err)
	_, err = cards.Register(context.Background(), u.ID, "KB", "5555666677778888")
	require.NoError(t, err)

	api := &fakeCardAPI{rows: map[string][]cardapi.Transaction{
		"1111222233334444": {
			row("m1", "Starbucks Gangnam", "4500", march10),
			row("m2", "Corner Bakery", "3000", march11),
		},
		"5555666677778888": {
			row("m3", "E-Mart Seongsu", "52000", march9),
		},
	}}
	advisor := &fakeAdvisor{category: core.Food}
	m := metrics.New()
	svc := NewTransactionService(e.db, api, advisor, e.cache, e.audit, e.logger, WithSyncMetrics(m), WithSyncFanOut(2))
	return e, svc, api, advisor, u, m
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	e, svc, api, advisor, u, m := syncFixture(t)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	// A stale cached summary must be dropped by the sync.
	require.NoError(t, e.cache.Set(ctx, summaryKey(u.ID, from, to), `{"Categories":[],"Total":"0"}`, time.Hour))

	res, err := svc.Sync(ctx, u.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Cards: 2, Inserted: 3}, res)
	assert.ElementsMatch(t, []string{"1111222233334444", "5555666677778888"}, api.calls)
	assert.Equal(t, from, api.start)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), api.end, "end date is inclusive")
	assert.Equal(t, []string{"Corner Bakery"}, advisor.asked, "known merchants skip the LLM")

	ok, err := e.cache.Exists(ctx, summaryKey(u.ID, from, to))
	require.NoError(t, err)
	assert.False(t, ok)

	page, err := svc.Query(ctx, u.ID, TransactionQuery{From: from, To: to})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	byMerchant := map[string]string{}
	for _, tx := range page.Items {
		byMerchant[tx.MerchantID] = tx.CategoryName
	}
	assert.Equal(t, map[string]string{"m1": "Cafe", "m2": "Food", "m3": "Mart"}, byMerchant)

	res, err = svc.Sync(ctx, u.ID, from, to)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Cards: 2, Duplicates: 3}, res, "a second sync imports nothing")

	expected := `
# HELP budget_transaction_synced_total Card transactions seen during sync, by outcome (inserted, duplicate).
# TYPE budget_transaction_synced_total counter
budget_transaction_synced_total{outcome="duplicate"} 3
budget_transaction_synced_total{outcome="inserted"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "budget_transaction_synced_total"))
}

func TestSyncFailures(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("card API error", func(t *testing.T) {
		_, svc, api, _, u, _ := syncFixture(t)
		api.err = apperr.New(apperr.APIServerError)
		_, err := svc.Sync(ctx, u.ID, from, from)
		assert.True(t, apperr.HasCode(err, apperr.APIServerError))
	})

	t.Run("unknown category from LLM", func(t *testing.T) {
		e, svc, _, advisor, u, _ := syncFixture(t)
		advisor.category = "SHOPPING"
		_, err := svc.Sync(ctx, u.ID, from, from.AddDate(0, 0, 30))
		assert.True(t, apperr.HasCode(err, apperr.APIWrongAnswer))

		page, err := svc.Query(ctx, u.ID, TransactionQuery{From: from, To: from.AddDate(0, 0, 30)})
		require.NoError(t, err)
		assert.Zero(t, page.Total, "nothing is stored when categorization fails")
		n, err := e.cache.DeletePrefix(ctx, summaryKeyPrefix)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("later card fails to store", func(t *testing.T) {
		e, svc, api, _, u, _ := syncFixture(t)
		to := from.AddDate(0, 0, 30)
		require.NoError(t, e.cache.Set(ctx, summaryKey(u.ID, from, to), `{"Categories":[],"Total":"0"}`, time.Hour))

		cards, err := e.db.Repos().Cards.ByUser(ctx, u.ID)
		require.NoError(t, err)
		first, last := cards[0], cards[len(cards)-1]
		// Removing the card makes its inserts violate the foreign key.
		api.onFetch = func(number string) {
			if number == last.Number {
				assert.NoError(t, e.db.Repos().Cards.Delete(ctx, last.ID))
			}
		}

		res, err := svc.Sync(ctx, u.ID, from, to)
		require.Error(t, err)
		assert.Equal(t, len(api.rows[first.Number]), res.Inserted)

		page, err := svc.Query(ctx, u.ID, TransactionQuery{From: from, To: to})
		require.NoError(t, err)
		assert.Equal(t, int64(res.Inserted), page.Total)
		ok, err := e.cache.Exists(ctx, summaryKey(u.ID, from, to))
		require.NoError(t, err)
		assert.False(t, ok, "summaries dropped for the committed card")
	})

	t.Run("end before start", func(t *testing.T) {
		_, svc, _, _, u, _ := syncFixture(t)
		_, err := svc.Sync(ctx, u.ID, from, from.AddDate(0, 0, -1))
		assert.True(t, apperr.HasCode(err, apperr.InvalidInput))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, svc, _, _, _, _ := syncFixture(t)
		_, err := svc.Sync(ctx, 4321, from, from)
		assert.True(t, apperr.HasCode(err, apperr.UserNotFound))
	})
}

func TestQueryPaging(t *testing.T) {
	ctx := context.Background()
	_, svc, _, _, u, _ := syncFixture(t)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err := svc.Sync(ctx, u.ID, from, to)
	require.NoError(t, err)

	tests := []struct {
		name      string
		q         TransactionQuery
		wantItems int
		wantPages int
		wantSize  int
		wantFirst string
	}{
		{"defaults", TransactionQuery{From: from, To: to}, 3, 1, DefaultPageSize, "m2"},
		{"second page", TransactionQuery{From: from, To: to, Size: 2, Page: 1}, 1, 2, 2, "m3"},
		{"ascending", TransactionQuery{From: from, To: to, Ascending: true}, 3, 1, DefaultPageSize, "m3"},
		{"size capped", TransactionQuery{From: from, To: to, Size: 500}, 3, 1, MaxPageSize, "m2"},
		{"single day", TransactionQuery{From: march10, To: march10}, 1, 1, DefaultPageSize, "m1"},
		{"merchant contains", TransactionQuery{From: from, To: to, MerchantName: "emart", Size: 5}, 0, 0, 5, ""},
		{"negative page", TransactionQuery{From: from, To: to, Page: -3}, 3, 1, DefaultPageSize, "m2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.Query(ctx, u.ID, tt.q)
			require.NoError(t, err)
			assert.Len(t, page.Items, tt.wantItems)
			assert.Equal(t, tt.wantPages, page.TotalPages)
			assert.Equal(t, tt.wantSize, page.Size)
			if tt.wantFirst != "" {
				assert.Equal(t, tt.wantFirst, page.Items[0].MerchantID)
			}
		})
	}
}

func TestQueryRejectsHugePage(t *testing.T) {
	_, svc, _, _, u, _ := syncFixture(t)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for _, page := range []int{MaxPage + 1, math.MaxInt} {
		_, err := svc.Query(context.Background(), u.ID, TransactionQuery{From: from, To: from, Page: page, Size: MaxPageSize})
		assert.True(t, apperr.HasCode(err, apperr.InvalidInput), "page %d", page)
	}

	page, err := svc.Query(context.Background(), u.ID, TransactionQuery{From: from, To: from, Page: MaxPage, Size: MaxPageSize})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestSummaryIsCached(t *testing.T) {
	ctx := context.Background()
	e, svc, _, _, u, _ := syncFixture(t)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	_, err := svc.Sync(ctx, u.ID, from, to)
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, u.ID, from, to)
	require.NoError(t, err)
	assert.True(t, summary.Total.Equal(decimal.RequireFromString("59500")))
	require.Len(t, summary.Categories, 3)

	ok, err := e.cache.Exists(ctx, summaryKey(u.ID, from, to))
	require.NoError(t, err)
	assert.True(t, ok)

	// A row written behind the service's back stays invisible until the next sync.
	cafe, err := e.db.Repos().Categories.ByCode(ctx, core.Cafe)
	require.NoError(t, err)
	cards, err := e.db.Repos().Cards.ByUser(ctx, u.ID)
	require.NoError(t, err)
	_, err = e.db.Repos().Transactions.Insert(ctx, core.Transaction{
		UserID: u.ID, CardID: cards[0].ID, CategoryID: cafe.ID, MerchantID: "late",
		Amount: decimal.NewFromInt(500), MerchantName: "Ediya", TransactionAt: march11,
		Status: core.Approved, Type: core.Payment,
	})
	require.NoError(t, err)

	again, err := svc.Summary(ctx, u.ID, from, to)
	require.NoError(t, err)
	assert.True(t, again.Total.Equal(summary.Total))
}

func TestSavingRecommendation(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, svc, _, advisor, u, _ := syncFixture(t)
	advisor.advice = `{"Mart":"Buy in bulk less often","Cafe":"Brew at home"}`
	tips, err := svc.SavingRecommendation(ctx, u.ID, from, from.AddDate(0, 1, -1))
	require.NoError(t, err)
	assert.Equal(t, []SavingTip{
		{CategoryName: "Cafe", Recommendation: "Brew at home"},
		{CategoryName: "Mart", Recommendation: "Buy in bulk less often"},
	}, tips)

	advisor.advice = "Save more money."
	_, err = svc.SavingRecommendation(ctx, u.ID, from, from.AddDate(0, 1, -1))
	assert.True(t, apperr.HasCode(err, apperr.JSONParsing))
	assert.Equal(t, 2, advisor.adviceN)
}

func TestSummaryRejectsReversedRange(t *testing.T) {
	_, svc, _, _, u, _ := syncFixture(t)
	_, err := svc.Summary(context.Background(), u.ID, march11, march10)
	assert.True(t, apperr.HasCode(err, apperr.InvalidInput))
	assert.False(t, errors.Is(err, context.Canceled))
}
