package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"budget/internal/cli"
	applog "budget/internal/log"
	"budget/internal/report"
	gsheet "budget/internal/sheets/google"
	"budget/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := cli.SignalContext()
	defer stop()

	base, err := cli.Open(ctx, applog.ComponentWorker)
	if err != nil {
		cli.Fatal(applog.New(applog.DefaultConfig()), "Startup failed", err)
	}
	defer base.Close()

	cfg, logger := base.Config, base.Logger
	logger.Info("Starting budget-worker")

	broker, err := base.AMQP()
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}

	var opts []report.Option
	if broker != nil {
		opts = append(opts, report.WithPublisher(broker))
	}

	// Google Sheets export is optional.
	if cfg.GoogleSpreadsheetID != "" {
		sheets, err := gsheet.New(ctx, gsheet.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			ReportSheet:     cfg.GoogleReportSheet,
		}, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize Google Sheets client", err)
		}
		if err := sheets.EnsureHeader(ctx); err != nil {
			logger.Warn("Could not prepare report sheet", applog.FieldError, err)
		}
		opts = append(opts, report.WithExporter(sheets))
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	runner := base.ReportRunner(opts...)
	jobs := worker.NewJobWorker(runner, base.DB.Repos().DeadLetters, logger)

	// Retry items parked while the worker was down.
	if err := jobs.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup dead-letter check", applog.FieldError, err)
	}

	scheduler, err := report.NewScheduler(runner, cfg.ReportCron, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to create report scheduler", err)
	}
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)

	if broker != nil {
		g.Go(func() error {
			err := broker.ConsumeRunJobs(gctx, jobs.HandleRunJob)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("Skipping AMQP message consumption - no broker configured")
	}

	if cfg.MetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", base.Metrics.Handler())
		srv := &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Metrics endpoint listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	<-gctx.Done()
	logger.Info("Shutdown requested; waiting for running jobs", "next_report_run", scheduler.Next())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("Report scheduler did not stop in time", applog.FieldError, err)
	}
	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		return
	}
	logger.Info("Worker stopped gracefully")
}
