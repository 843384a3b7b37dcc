package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"budget/internal/audit"
	"budget/internal/auth"
	"budget/internal/cardapi"
	"budget/internal/cli"
	apphttp "budget/internal/http"
	"budget/internal/llm"
	applog "budget/internal/log"
	"budget/internal/middleware/ratelimit"
	"budget/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := cli.SignalContext()
	defer stop()

	base, err := cli.Open(ctx, applog.ComponentApp)
	if err != nil {
		cli.Fatal(applog.New(applog.DefaultConfig()), "Startup failed", err)
	}
	defer base.Close()

	cfg, logger := base.Config, base.Logger
	logger.Info("Starting budget-api", "port", cfg.Port)

	// Manual batch runs go to the worker when a broker is configured.
	var publisher services.JobPublisher
	broker, err := base.AMQP()
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}
	if broker != nil {
		publisher = broker
	}

	hasher := auth.NewPasswordHasher(bcrypt.DefaultCost)
	tokens := auth.NewTokenProvider(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	revoked := auth.NewTokenStore(base.Cache)
	auditLog := audit.New(logger)

	cards := cardapi.NewClient(cardapi.Config{BaseURL: cfg.CardAPIBaseURL}, logger)
	advisor := llm.NewClient(llm.NewOpenAICompleter(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	}), logger)
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set; merchants without a pattern match cannot be categorized")
	}

	srv, err := apphttp.NewServer(apphttp.Options{
		Port:         cfg.PortNumber(),
		CookieSecure: cfg.CookieSecure,
		RateLimit:    ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute},
	}, apphttp.Deps{
		Users: services.NewUserService(base.DB, hasher, auditLog),
		Auth:  services.NewAuthService(base.DB, hasher, tokens, revoked, auditLog),
		Cards: services.NewCardService(base.DB, auditLog),
		Transactions: services.NewTransactionService(base.DB, cards, advisor, base.Cache, auditLog, logger,
			services.WithSummaryTTL(cfg.SummaryCacheTTL),
			services.WithSyncMetrics(base.Metrics)),
		Reports:          services.NewReportService(base.DB, base.ReportRunner(), publisher, auditLog),
		CardTransactions: services.NewCardTransactionService(base.DB),
		Tokens:           tokens,
		Revoked:          revoked,
		Metrics:          base.Metrics,
		Logger:           logger,
		Readiness: map[string]apphttp.ReadinessCheck{
			"database": base.DB.PingContext,
			"cache":    base.CacheReady,
		},
	})
	if err != nil {
		cli.Fatal(logger, "Failed to build HTTP server", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", applog.FieldError, err)
		return
	}
	logger.Info("Server stopped gracefully")
}
