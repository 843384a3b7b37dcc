package batch

import (
	"context"
	"log/slog"

	applog "budget/internal/log"
)

// LogListener logs job and step boundaries.
type LogListener struct {
	logger *applog.Logger
}

func NewLogListener(logger *applog.Logger) *LogListener {
	return &LogListener{logger: logger.WithComponent(applog.ComponentBatch)}
}

func (l *LogListener) BeforeJob(ctx context.Context, exec *JobExecution) {
	l.logger.InfoContext(ctx, "Job started", applog.FieldJob, exec.JobName, "params", exec.Params.Key())
}

func (l *LogListener) AfterJob(ctx context.Context, exec *JobExecution) {
	read, write, skip := exec.Totals()
	level := slog.LevelInfo
	args := []any{
		applog.FieldJob, exec.JobName,
		"status", exec.Status,
		"read_count", read,
		"write_count", write,
		"skip_count", skip,
		applog.FieldDuration, exec.EndTime.Sub(exec.StartTime).Milliseconds(),
	}
	if exec.Err != nil {
		level = slog.LevelError
		args = append(args, applog.FieldError, exec.Err)
	}
	l.logger.Log(ctx, level, "Job finished", args...)
}

func (l *LogListener) BeforeStep(ctx context.Context, job *JobExecution, exec *StepExecution) {
	l.logger.DebugContext(ctx, "Step started", applog.FieldJob, job.JobName, applog.FieldStep, exec.StepName)
}

func (l *LogListener) AfterStep(ctx context.Context, job *JobExecution, exec *StepExecution) {
	l.logger.InfoContext(ctx, "Step finished",
		applog.FieldJob, job.JobName,
		applog.FieldStep, exec.StepName,
		"status", exec.Status,
		"read_count", exec.ReadCount,
		"write_count", exec.WriteCount,
		"filter_count", exec.FilterCount,
		"skip_count", exec.SkipCount,
		"commit_count", exec.CommitCount,
	)
}

// LogSkips logs skipped items.
type LogSkips[I, O any] struct {
	Logger *applog.Logger
}

func (l LogSkips[I, O]) OnSkipInRead(ctx context.Context, err error) {
	l.Logger.WarnContext(ctx, "Skipped item in read", applog.FieldError, err)
}

func (l LogSkips[I, O]) OnSkipInProcess(ctx context.Context, item I, err error) {
	l.Logger.WarnContext(ctx, "Skipped item in process", "item", item, applog.FieldError, err)
}

func (l LogSkips[I, O]) OnSkipInWrite(ctx context.Context, item O, err error) {
	l.Logger.WarnContext(ctx, "Skipped item in write", "item", item, applog.FieldError, err)
}
