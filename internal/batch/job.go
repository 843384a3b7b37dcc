package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"budget/internal/core"
)

type Status string

const (
	StatusRunning   Status = core.ExecutionRunning
	StatusCompleted Status = core.ExecutionCompleted
	StatusFailed    Status = core.ExecutionFailed
)

// Step is one unit of a job.
type Step interface {
	Name() string
	Execute(ctx context.Context, exec *StepExecution) error
}

// StepExecution holds a step's progress and outcome.
type StepExecution struct {
	StepName    string
	Status      Status
	ReadCount   int
	WriteCount  int
	FilterCount int
	SkipCount   int
	CommitCount int
	StartTime   time.Time
	EndTime     time.Time
	ExitMessage string
	Err         error
}

// Params identify a job instance. The same name and params form one key.
type Params map[string]string

// Key renders params in a stable order.
func (p Params) Key() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + p[k]
	}
	return strings.Join(parts, "&")
}

// JobExecution holds a job run and its steps.
type JobExecution struct {
	ID          int64
	JobName     string
	Params      Params
	Status      Status
	StartTime   time.Time
	EndTime     time.Time
	ExitMessage string
	Steps       []*StepExecution
	Err         error
}

// JobKey identifies the job instance.
func (e *JobExecution) JobKey() string {
	return JobKey(e.JobName, e.Params)
}

func JobKey(name string, params Params) string {
	if len(params) == 0 {
		return name
	}
	return name + "?" + params.Key()
}

// Totals sums the step counters.
func (e *JobExecution) Totals() (read, write, skip int) {
	for _, s := range e.Steps {
		read += s.ReadCount
		write += s.WriteCount
		skip += s.SkipCount
	}
	return read, write, skip
}

type JobListener interface {
	BeforeJob(ctx context.Context, exec *JobExecution)
	AfterJob(ctx context.Context, exec *JobExecution)
}

type StepListener interface {
	BeforeStep(ctx context.Context, job *JobExecution, exec *StepExecution)
	AfterStep(ctx context.Context, job *JobExecution, exec *StepExecution)
}

// Job runs its steps in order and stops at the first failure.
type Job struct {
	Name          string
	Steps         []Step
	JobListeners  []JobListener
	StepListeners []StepListener
}

var tracer = otel.Tracer("budget/internal/batch")

// Run executes the job in the calling goroutine. The returned execution is
// never nil; its Err is set when the job failed.
func (j *Job) Run(ctx context.Context, exec *JobExecution) *JobExecution {
	if exec == nil {
		exec = &JobExecution{JobName: j.Name}
	}
	exec.Status = StatusRunning
	if exec.StartTime.IsZero() {
		exec.StartTime = time.Now().UTC()
	}

	ctx, span := tracer.Start(ctx, "batch.job "+j.Name,
		trace.WithAttributes(attribute.String("batch.job", j.Name), attribute.String("batch.job_key", exec.JobKey())))
	defer span.End()

	for _, l := range j.JobListeners {
		l.BeforeJob(ctx, exec)
	}

	exec.Status = StatusCompleted
	for _, step := range j.Steps {
		se := runStep(ctx, tracer, step, exec, j.StepListeners)
		exec.Steps = append(exec.Steps, se)
		if se.Err != nil {
			exec.Status = StatusFailed
			exec.Err = fmt.Errorf("step %s: %w", step.Name(), se.Err)
			exec.ExitMessage = exec.Err.Error()
			span.RecordError(exec.Err)
			span.SetStatus(codes.Error, exec.ExitMessage)
			break
		}
	}
	exec.EndTime = time.Now().UTC()

	for i := len(j.JobListeners) - 1; i >= 0; i-- {
		j.JobListeners[i].AfterJob(ctx, exec)
	}
	return exec
}
