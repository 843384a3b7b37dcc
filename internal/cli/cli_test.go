package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/config"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/services"
	"budget/internal/storage"
)

// testOpener opens a fresh Base over one SQLite file per test.
func testOpener(t *testing.T) Opener {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "budget.db")
	return func(ctx context.Context) (*Base, error) {
		cfg := config.Default()
		cfg.DBDSN = dsn
		db, err := storage.Open(ctx, cfg.Database())
		if err != nil {
			return nil, err
		}
		b := &Base{
			Config:  cfg,
			Logger:  applog.New(applog.Config{Output: io.Discard}),
			DB:      db,
			Metrics: metrics.New(),
			closers: []io.Closer{db},
		}
		if err := b.openCache(ctx); err != nil {
			b.Close()
			return nil, err
		}
		return b, nil
	}
}

func execute(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&out, open)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedIsIdempotent(t *testing.T) {
	open := testOpener(t)
	ctx := context.Background()
	base, err := open(ctx)
	require.NoError(t, err)
	defer base.Close()

	opts := SeedOptions{
		Email:        "seed@example.com",
		Password:     "password1",
		Name:         "seeder",
		CardCompany:  string(core.Shinhan),
		CardNumber:   "1234567812345678",
		Transactions: 12,
		Now:          time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC),
	}

	first, err := Seed(ctx, base, opts)
	require.NoError(t, err)
	assert.Equal(t, 12, first.Added)
	assert.Zero(t, first.Existing)

	second, err := Seed(ctx, base, opts)
	require.NoError(t, err)
	assert.Equal(t, first.UserID, second.UserID)
	assert.Equal(t, first.CardID, second.CardID)
	assert.Zero(t, second.Added)
	assert.Equal(t, 12, second.Existing)

	ledger := services.NewCardTransactionService(base.DB)
	rows, err := ledger.ListAfter(ctx, opts.CardNumber, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Len(t, rows, 12)
	for _, r := range rows {
		assert.False(t, r.TransactionAt.Before(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
		assert.True(t, r.TransactionAt.Before(opts.Now))
	}
}

func TestSeedRejectsForeignCard(t *testing.T) {
	open := testOpener(t)
	ctx := context.Background()
	base, err := open(ctx)
	require.NoError(t, err)
	defer base.Close()

	opts := SeedOptions{
		Email: "first@example.com", Password: "password1", Name: "first",
		CardCompany: string(core.Shinhan), CardNumber: "1111222233334444",
		Now: time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
	}
	_, err = Seed(ctx, base, opts)
	require.NoError(t, err)

	opts.Email, opts.Name = "second@example.com", "second"
	_, err = Seed(ctx, base, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to another user")
}

func TestMigrateCommand(t *testing.T) {
	out, err := execute(t, testOpener(t), "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "driver=sqlite")
	assert.Contains(t, out, "dirty=false")
}

func TestRunCommands(t *testing.T) {
	open := testOpener(t)

	out, err := execute(t, open, "seed", "--transactions", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "added=4")

	out, err = execute(t, open, "run", "report", "--at", "2025-04-02")
	require.NoError(t, err)
	assert.Contains(t, out, "job=report")
	assert.Contains(t, out, "status=COMPLETED")
	assert.Contains(t, out, "read=1")

	// The same window is a completed job instance.
	_, err = execute(t, open, "run", "report", "--at", "2025-04-15")
	require.Error(t, err)

	out, err = execute(t, open, "run", "dead-letter")
	require.NoError(t, err)
	assert.Contains(t, out, "status=COMPLETED")
	assert.Contains(t, out, "read=0")
}

func TestRunCommandErrors(t *testing.T) {
	open := testOpener(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad date", []string{"run", "report", "--at", "April"}, "--at"},
		{"queue without broker", []string{"run", "report", "--queue"}, "AMQP_URL"},
		{"positional args", []string{"migrate", "now"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, open, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBaseCloseOrder(t *testing.T) {
	var order []string
	closer := func(name string, err error) io.Closer {
		return closerFunc(func() error {
			order = append(order, name)
			return err
		})
	}
	b := &Base{closers: []io.Closer{
		closer("log", nil),
		closer("db", errors.New("db busy")),
		closer("cache", nil),
	}}

	err := b.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db busy")
	assert.Equal(t, []string{"cache", "db", "log"}, order)
	assert.NoError(t, b.Close(), "second close is a no-op")
}

func TestCacheReady(t *testing.T) {
	base, err := testOpener(t)(context.Background())
	require.NoError(t, err)
	defer base.Close()
	assert.NoError(t, base.CacheReady(context.Background()))
}
