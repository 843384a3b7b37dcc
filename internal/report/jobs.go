package report

import (
	"context"
	"errors"
	"strconv"
	"time"

	"budget/internal/batch"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/metrics"
	"budget/internal/storage"
)

// Config tunes both report jobs.
type Config struct {
	ChunkSize           int
	DeadLetterChunkSize int
	SkipLimit           int
	RetryLimit          int
}

func DefaultConfig() Config {
	return Config{ChunkSize: 100, DeadLetterChunkSize: 50, SkipLimit: 100, RetryLimit: 3}
}

// Runner builds and launches the report jobs.
type Runner struct {
	db        *storage.DB
	launcher  *batch.Launcher
	logger    *applog.Logger
	metrics   *metrics.Metrics
	publisher Publisher
	exporter  Exporter
	cfg       Config
}

type Option func(*Runner)

// WithMetrics records job and dead-letter metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

// WithPublisher announces created reports after each committed chunk.
func WithPublisher(p Publisher) Option { return func(r *Runner) { r.publisher = p } }

// WithExporter mirrors created reports after each committed chunk.
func WithExporter(e Exporter) Option { return func(r *Runner) { r.exporter = e } }

func NewRunner(db *storage.DB, launcher *batch.Launcher, logger *applog.Logger, cfg Config, opts ...Option) *Runner {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.DeadLetterChunkSize <= 0 {
		cfg.DeadLetterChunkSize = def.DeadLetterChunkSize
	}
	if cfg.SkipLimit <= 0 {
		cfg.SkipLimit = def.SkipLimit
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = def.RetryLimit
	}
	r := &Runner{
		db:       db,
		launcher: launcher,
		logger:   logger.WithComponent(applog.ComponentReport),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) policy(skippable func(error) bool) batch.Policy {
	return batch.Policy{
		Retryable:  storage.IsTransient,
		Skippable:  skippable,
		RetryLimit: r.cfg.RetryLimit,
		SkipLimit:  r.cfg.SkipLimit,
	}
}

func (r *Runner) listeners(job *batch.Job) {
	logs := batch.NewLogListener(r.logger)
	job.JobListeners = append(job.JobListeners, logs)
	job.StepListeners = append(job.StepListeners, logs)
	if r.metrics != nil {
		job.JobListeners = append(job.JobListeners, r.metrics)
		job.StepListeners = append(job.StepListeners, r.metrics)
	}
}

func (r *Runner) writer() *writer {
	return &writer{db: r.db, publisher: r.publisher, exporter: r.exporter, logger: r.logger}
}

// ReportJob builds the monthly report job for window.
func (r *Runner) ReportJob(window core.ReportWindow) *batch.Job {
	parked := &deadLetters{db: r.db, logger: r.logger}
	if r.metrics != nil {
		parked.counter = r.metrics.DeadLettered
	}
	job := &batch.Job{
		Name: ReportJobName,
		Steps: []batch.Step{&batch.ChunkStep[Input, Result]{
			StepName:  ReportStepName,
			Size:      r.cfg.ChunkSize,
			Reader:    userReader(r.db, window, r.cfg.ChunkSize),
			Processor: batch.ProcessorFunc[Input, Result](Process),
			Writer:    r.writer(),
			Policy: r.policy(func(err error) bool {
				return storage.IsUniqueViolation(err) || errors.Is(err, ErrBadInput)
			}),
			Skips: []batch.SkipListener[Input, Result]{parked},
		}},
	}
	r.listeners(job)
	return job
}

// DeadLetterJob builds the job that retries parked report items. Items
// whose input cannot be decoded stay parked.
func (r *Runner) DeadLetterJob() *batch.Job {
	job := &batch.Job{
		Name: DeadLetterJobName,
		Steps: []batch.Step{&batch.ChunkStep[core.DeadLetter, Result]{
			StepName:  DeadLetterStep,
			Size:      r.cfg.DeadLetterChunkSize,
			Reader:    deadLetterReader(r.db, r.cfg.DeadLetterChunkSize),
			Processor: batch.ProcessorFunc[core.DeadLetter, Result](processDeadLetter),
			Writer:    r.writer(),
			Policy: r.policy(func(err error) bool {
				return errors.Is(err, ErrBadInput) || storage.IsUniqueViolation(err)
			}),
			Skips: []batch.SkipListener[core.DeadLetter, Result]{batch.LogSkips[core.DeadLetter, Result]{Logger: r.logger}},
		}},
	}
	r.listeners(job)
	return job
}

// ReportParams identify the monthly instance: one run per reported month.
func ReportParams(window core.ReportWindow) batch.Params {
	return batch.Params{
		"targetMonth": core.MonthLabel(window.PreviousMonth),
		"startDate":   window.Start.Format(time.RFC3339),
		"endDate":     window.End.Format(time.RFC3339),
	}
}

// ReportJobKey is the execution key RunReport uses at now.
func ReportJobKey(now time.Time) string {
	return batch.JobKey(ReportJobName, ReportParams(core.WindowFor(now)))
}

// RunReport launches the report job for the window that applies at now.
func (r *Runner) RunReport(ctx context.Context, now time.Time) (*batch.JobExecution, error) {
	window := core.WindowFor(now)
	return r.launcher.Run(ctx, r.ReportJob(window), ReportParams(window))
}

// RunDeadLetters launches a dead-letter retry. Every call is a new instance.
func (r *Runner) RunDeadLetters(ctx context.Context, now time.Time) (*batch.JobExecution, error) {
	params := batch.Params{"runAt": strconv.FormatInt(now.UnixMilli(), 10)}
	return r.launcher.Run(ctx, r.DeadLetterJob(), params)
}

// RunMonthly runs the report job and then the dead-letter retry. The retry
// runs even when the report job fails or was already completed.
func (r *Runner) RunMonthly(ctx context.Context, now time.Time) error {
	_, reportErr := r.RunReport(ctx, now)
	if reportErr != nil {
		r.logger.ErrorContext(ctx, "Report job did not complete", applog.FieldError, reportErr)
	}
	_, dlErr := r.RunDeadLetters(ctx, now)
	if dlErr != nil {
		r.logger.ErrorContext(ctx, "Dead-letter job did not complete", applog.FieldError, dlErr)
	}
	return errors.Join(reportErr, dlErr)
}
