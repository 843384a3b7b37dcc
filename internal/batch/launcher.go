package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budget/internal/apperr"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/storage"
)

// ErrAlreadyRunning rejects a launch while the same job instance runs.
var ErrAlreadyRunning = errors.New("batch: job instance is already running")

// ExecutionStore persists job executions.
type ExecutionStore interface {
	// Claim records a RUNNING execution, failing with storage.ErrJobClaimed
	// while another running or completed execution holds its job key.
	Claim(ctx context.Context, e core.JobExecution) (int64, error)
	// Update saves the execution; a FAILED one releases its job key.
	Update(ctx context.Context, e core.JobExecution) error
	Latest(ctx context.Context, jobKey string) (core.JobExecution, error)
}

// Launcher runs jobs at most once per job key: a completed instance is never
// repeated and a running one is never started twice, across every process
// sharing the database.
type Launcher struct {
	store      ExecutionStore
	logger     *applog.Logger
	staleAfter time.Duration
	now        func() time.Time
}

// NewLauncher returns a launcher. A RUNNING execution older than staleAfter
// is treated as abandoned by a crashed process; zero disables that check.
func NewLauncher(store ExecutionStore, logger *applog.Logger, staleAfter time.Duration) *Launcher {
	return &Launcher{
		store:      store,
		logger:     logger.WithComponent(applog.ComponentBatch),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run executes job with params and records the execution. It fails with
// BATCH_ALREADY_COMPLETED for a finished instance and BATCH_RUN_ERROR when
// the job is running elsewhere or fails.
func (l *Launcher) Run(ctx context.Context, job *Job, params Params) (*JobExecution, error) {
	exec := &JobExecution{JobName: job.Name, Params: params}
	id, err := l.begin(ctx, exec)
	if err != nil {
		return nil, err
	}
	exec.ID = id

	job.Run(ctx, exec)

	// The execution outcome must be stored even if ctx was cancelled mid-run.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := l.store.Update(saveCtx, record(exec)); err != nil {
		l.logger.ErrorContext(ctx, "Failed to record job execution",
			applog.FieldJob, exec.JobKey(), applog.FieldError, err)
	}

	if exec.Err != nil {
		return exec, apperr.Wrap(apperr.BatchRun, exec.Err)
	}
	return exec, nil
}

func (l *Launcher) begin(ctx context.Context, exec *JobExecution) (int64, error) {
	key := exec.JobKey()
	last, err := l.store.Latest(ctx, key)
	if err := l.check(last, err); err != nil {
		return 0, err
	}
	if last.Status == core.ExecutionRunning {
		l.logger.WarnContext(ctx, "Abandoning stale job execution",
			applog.FieldJob, key, "execution_id", last.ID, "started_at", last.StartedAt)
		ended := l.now().UTC()
		last.Status = core.ExecutionFailed
		last.ExitMessage = "abandoned"
		last.EndedAt = &ended
		if err := l.store.Update(ctx, last); err != nil {
			return 0, apperr.Wrap(apperr.BatchRun, err)
		}
	}

	exec.StartTime = l.now().UTC()
	exec.Status = StatusRunning
	id, err := l.store.Claim(ctx, record(exec))
	if errors.Is(err, storage.ErrJobClaimed) {
		// Another process claimed the key since Latest was read, or a failed
		// execution could not release it.
		holder, latestErr := l.store.Latest(ctx, key)
		if err := l.check(holder, latestErr); err != nil {
			return 0, err
		}
		if holder.Status != core.ExecutionFailed {
			return 0, apperr.Wrap(apperr.BatchRun, ErrAlreadyRunning)
		}
		if err := l.store.Update(ctx, holder); err != nil {
			return 0, apperr.Wrap(apperr.BatchRun, err)
		}
		id, err = l.store.Claim(ctx, record(exec))
		if errors.Is(err, storage.ErrJobClaimed) {
			return 0, apperr.Wrap(apperr.BatchRun, ErrAlreadyRunning)
		}
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.BatchRun, fmt.Errorf("claim execution: %w", err))
	}
	return id, nil
}

// check rejects a launch when the latest execution completed or is still
// running. A stale RUNNING execution passes.
func (l *Launcher) check(last core.JobExecution, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return apperr.Wrap(apperr.BatchRun, fmt.Errorf("load last execution: %w", err))
	case last.Status == core.ExecutionCompleted:
		return apperr.New(apperr.BatchCompleted)
	case last.Status == core.ExecutionRunning && !l.stale(last):
		return apperr.Wrap(apperr.BatchRun, ErrAlreadyRunning)
	}
	return nil
}

func (l *Launcher) stale(e core.JobExecution) bool {
	return l.staleAfter > 0 && l.now().Sub(e.StartedAt) >= l.staleAfter
}

func record(exec *JobExecution) core.JobExecution {
	read, write, skip := exec.Totals()
	e := core.JobExecution{
		ID:          exec.ID,
		JobName:     exec.JobName,
		JobKey:      exec.JobKey(),
		Params:      exec.Params.Key(),
		Status:      string(exec.Status),
		ReadCount:   read,
		WriteCount:  write,
		SkipCount:   skip,
		ExitMessage: exec.ExitMessage,
		StartedAt:   exec.StartTime,
	}
	if !exec.EndTime.IsZero() {
		end := exec.EndTime
		e.EndedAt = &end
	}
	return e
}
