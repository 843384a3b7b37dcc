package worker

import (
	"context"
	"fmt"
	"time"

	"budget/internal/amqp"
	"budget/internal/apperr"
	"budget/internal/batch"
	applog "budget/internal/log"
)

// JobRunner launches the report jobs.
type JobRunner interface {
	RunReport(ctx context.Context, now time.Time) (*batch.JobExecution, error)
	RunDeadLetters(ctx context.Context, now time.Time) (*batch.JobExecution, error)
}

// DeadLetterCounter reports how many items wait for a retry.
type DeadLetterCounter interface {
	Count(ctx context.Context) (int64, error)
}

// JobWorker runs batch jobs requested over AMQP.
type JobWorker struct {
	runner  JobRunner
	letters DeadLetterCounter
	logger  *applog.Logger
	now     func() time.Time
}

func NewJobWorker(runner JobRunner, letters DeadLetterCounter, logger *applog.Logger) *JobWorker {
	return &JobWorker{
		runner:  runner,
		letters: letters,
		logger:  logger.WithComponent(applog.ComponentWorker),
		now:     time.Now,
	}
}

// HandleRunJob processes a single run-job message from AMQP. A job instance
// that already completed is not an error: redelivering it would never help.
func (w *JobWorker) HandleRunJob(ctx context.Context, msg *amqp.RunJobMessage) error {
	ctx = applog.Enrich(ctx, applog.FieldJob, msg.Job, applog.FieldRequestID, msg.RequestID)
	w.logger.InfoContext(ctx, "Processing run-job message",
		"requested_by", msg.RequestedBy,
		"requested_at", msg.Timestamp)

	var (
		exec *batch.JobExecution
		err  error
	)
	switch msg.Job {
	case amqp.JobReport:
		exec, err = w.runner.RunReport(ctx, w.now())
	case amqp.JobDeadLetter:
		exec, err = w.runner.RunDeadLetters(ctx, w.now())
	default:
		return fmt.Errorf("unknown job %q", msg.Job)
	}

	if apperr.HasCode(err, apperr.BatchCompleted) {
		w.logger.InfoContext(ctx, "Job instance already completed, nothing to do", applog.FieldJob, msg.Job)
		return nil
	}
	if err != nil {
		return fmt.Errorf("run %s job: %w", msg.Job, err)
	}

	read, write, skip := exec.Totals()
	w.logger.InfoContext(ctx, "Successfully ran requested job",
		applog.FieldJob, msg.Job,
		"read_count", read,
		"write_count", write,
		"skip_count", skip)
	return nil
}

// StartupCheck retries parked report items left over from earlier runs.
// This is useful to recover items that failed while the worker was down.
func (w *JobWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.letters.Count(ctx)
	if err != nil {
		return fmt.Errorf("count dead letters for startup check: %w", err)
	}

	if pending == 0 {
		w.logger.InfoContext(ctx, "No dead letters found on startup")
		return nil
	}

	w.logger.InfoContext(ctx, "Found dead letters on startup, retrying...", "count", pending)

	exec, err := w.runner.RunDeadLetters(ctx, w.now())
	if err != nil {
		return fmt.Errorf("startup dead-letter retry: %w", err)
	}

	_, write, skip := exec.Totals()
	w.logger.InfoContext(ctx, "Startup retry completed",
		"total", pending,
		"resolved", write,
		"still_parked", skip)
	return nil
}
