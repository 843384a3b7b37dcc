// Package cli holds the startup sequence shared by cmd/budget-api,
// cmd/budget-worker and cmd/budgetctl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"budget/internal/amqp"
	"budget/internal/auth"
	"budget/internal/batch"
	"budget/internal/cache"
	"budget/internal/config"
	applog "budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/report"
	"budget/internal/storage"
)

const (
	cacheCleanupInterval = time.Minute
	// A RUNNING job execution older than this was left by a crashed process.
	staleExecutionAfter = 6 * time.Hour
)

// Base is what every binary needs before it does its own work.
type Base struct {
	Config  *config.Config
	Logger  *applog.Logger
	DB      *storage.DB
	Cache   cache.Store
	Metrics *metrics.Metrics

	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads and validates the configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open loads the configuration, sets up logging for component and opens the
// database (running migrations) and the cache. Close releases all of it.
func Open(ctx context.Context, component string) (*Base, error) {
	LoadEnvFile()
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := applog.Setup(cfg.Logging(component))
	if err != nil {
		return nil, err
	}
	b := &Base{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		closers: []io.Closer{logCloser},
	}

	db, err := storage.Open(ctx, cfg.Database())
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	b.DB = db
	b.closers = append(b.closers, db)
	logger.Info("Database ready", "driver", cfg.DBDriver)

	if err := b.openCache(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Base) openCache(ctx context.Context) error {
	if b.Config.RedisAddr != "" {
		store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     b.Config.RedisAddr,
			Password: b.Config.RedisPassword,
			DB:       b.Config.RedisDB,
		})
		if err != nil {
			return err
		}
		b.Cache = store
		b.closers = append(b.closers, store)
		b.Logger.Info("Using Redis cache", "addr", b.Config.RedisAddr)
		return nil
	}

	store := cache.NewMemoryStore(b.Config.CacheSize, cache.WithPinnedPrefixes(auth.KeyPrefixes...))
	manager := cache.NewManager(b.Logger.WithComponent(applog.ComponentCache).Logger)
	manager.Register(store)
	manager.StartCleanup(cacheCleanupInterval)
	b.Cache = store
	b.closers = append(b.closers, closerFunc(func() error {
		manager.Stop()
		return nil
	}))
	b.Logger.Info("Using in-process cache", "max_entries", b.Config.CacheSize)
	return nil
}

// CacheReady probes the cache with a read.
func (b *Base) CacheReady(ctx context.Context) error {
	_, err := b.Cache.Exists(ctx, "readyz")
	return err
}

// ReportRunner builds the report job runner over the shared database.
func (b *Base) ReportRunner(opts ...report.Option) *report.Runner {
	launcher := batch.NewLauncher(b.DB.Repos().Executions, b.Logger, staleExecutionAfter)
	cfg := report.Config{
		ChunkSize:           b.Config.ReportChunkSize,
		DeadLetterChunkSize: b.Config.DeadLetterChunkSize,
		SkipLimit:           b.Config.BatchSkipLimit,
		RetryLimit:          b.Config.BatchRetryLimit,
	}
	opts = append([]report.Option{report.WithMetrics(b.Metrics)}, opts...)
	return report.NewRunner(b.DB, launcher, b.Logger, cfg, opts...)
}

// AMQP connects to the broker, or returns nil when AMQP_URL is unset.
// The client is closed with Base.
func (b *Base) AMQP() (*amqp.Client, error) {
	if b.Config.AMQPURL == "" {
		b.Logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil, nil
	}
	client, err := amqp.NewClient(amqp.Config{
		URL:      b.Config.AMQPURL,
		Exchange: b.Config.AMQPExchange,
		Queue:    b.Config.AMQPQueue,
	}, b.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect to AMQP: %w", err)
	}
	b.closers = append(b.closers, client)
	return client, nil
}

// Close releases resources in reverse order of acquisition.
func (b *Base) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Fatal logs err and exits.
func Fatal(logger *applog.Logger, msg string, err error) {
	logger.Error(msg, applog.FieldError, err)
	os.Exit(1)
}
