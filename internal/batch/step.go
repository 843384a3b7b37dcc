// Package batch runs jobs made of chunk-oriented steps: items are read one
// at a time, processed, and written in chunks, with retry and skip policies.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrSkipLimitExceeded fails a step that skipped more items than allowed.
var ErrSkipLimitExceeded = errors.New("batch: skip limit exceeded")

// Reader returns the next item, or ok=false when the input is exhausted.
type Reader[I any] interface {
	Read(ctx context.Context) (item I, ok bool, err error)
}

// Processor transforms an item. Returning keep=false filters it out.
type Processor[I, O any] interface {
	Process(ctx context.Context, item I) (out O, keep bool, err error)
}

// Writer persists a chunk of processed items.
type Writer[O any] interface {
	Write(ctx context.Context, items []O) error
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc[I any] func(ctx context.Context) (I, bool, error)

func (f ReaderFunc[I]) Read(ctx context.Context) (I, bool, error) { return f(ctx) }

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc[I, O any] func(ctx context.Context, item I) (O, bool, error)

func (f ProcessorFunc[I, O]) Process(ctx context.Context, item I) (O, bool, error) { return f(ctx, item) }

// WriterFunc adapts a function to Writer.
type WriterFunc[O any] func(ctx context.Context, items []O) error

func (f WriterFunc[O]) Write(ctx context.Context, items []O) error { return f(ctx, items) }

// SkipListener is told about every skipped item.
type SkipListener[I, O any] interface {
	OnSkipInRead(ctx context.Context, err error)
	OnSkipInProcess(ctx context.Context, item I, err error)
	OnSkipInWrite(ctx context.Context, item O, err error)
}

// Policy decides which errors are retried and which are skipped. A nil
// classifier matches nothing.
type Policy struct {
	Retryable  func(error) bool
	Skippable  func(error) bool
	RetryLimit int // attempts per item or chunk, including the first
	SkipLimit  int
	// Backoff returns the wait policy between retries. Defaults to a short
	// exponential backoff.
	Backoff func() backoff.BackOff
}

func (p Policy) retryable(err error) bool { return p.Retryable != nil && p.Retryable(err) }
func (p Policy) skippable(err error) bool { return p.Skippable != nil && p.Skippable(err) }

func (p Policy) newBackoff() backoff.BackOff {
	if p.Backoff != nil {
		return p.Backoff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// retry runs op until it succeeds, fails with a non-retryable error, or
// uses up RetryLimit attempts.
func (p Policy) retry(ctx context.Context, op func() error) error {
	attempts := p.RetryLimit
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(p.newBackoff(), uint64(attempts-1)), ctx)
	err := backoff.Retry(func() error {
		err := op()
		if err != nil && !p.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// ChunkStep reads, processes and writes items in chunks of Size.
type ChunkStep[I, O any] struct {
	StepName  string
	Size      int
	Reader    Reader[I]
	Processor Processor[I, O]
	Writer    Writer[O]
	Policy    Policy
	Skips     []SkipListener[I, O]
}

func (s *ChunkStep[I, O]) Name() string { return s.StepName }

// Execute runs the step to completion, updating exec as it goes.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, exec *StepExecution) error {
	size := s.Size
	if size < 1 {
		size = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		inputs, done, err := s.readChunk(ctx, exec, size)
		if err != nil {
			return err
		}
		if len(inputs) > 0 {
			if err := s.handleChunk(ctx, exec, inputs); err != nil {
				return err
			}
			exec.CommitCount++
		}
		if done {
			return nil
		}
	}
}

func (s *ChunkStep[I, O]) readChunk(ctx context.Context, exec *StepExecution, size int) ([]I, bool, error) {
	items := make([]I, 0, size)
	for len(items) < size {
		item, ok, err := s.Reader.Read(ctx)
		if err != nil {
			if !s.Policy.skippable(err) {
				return nil, false, fmt.Errorf("read: %w", err)
			}
			if err := s.skip(exec, err); err != nil {
				return nil, false, err
			}
			for _, l := range s.Skips {
				l.OnSkipInRead(ctx, err)
			}
			continue
		}
		if !ok {
			return items, true, nil
		}
		exec.ReadCount++
		items = append(items, item)
	}
	return items, false, nil
}

func (s *ChunkStep[I, O]) handleChunk(ctx context.Context, exec *StepExecution, inputs []I) error {
	outputs := make([]O, 0, len(inputs))
	for _, item := range inputs {
		var (
			out  O
			keep bool
		)
		err := s.Policy.retry(ctx, func() error {
			var err error
			out, keep, err = s.Processor.Process(ctx, item)
			return err
		})
		if err != nil {
			if !s.Policy.skippable(err) {
				return fmt.Errorf("process: %w", err)
			}
			if err := s.skip(exec, err); err != nil {
				return err
			}
			for _, l := range s.Skips {
				l.OnSkipInProcess(ctx, item, err)
			}
			continue
		}
		if !keep {
			exec.FilterCount++
			continue
		}
		outputs = append(outputs, out)
	}
	if len(outputs) == 0 {
		return nil
	}

	err := s.Policy.retry(ctx, func() error { return s.Writer.Write(ctx, outputs) })
	if err == nil {
		exec.WriteCount += len(outputs)
		return nil
	}
	if !s.Policy.skippable(err) {
		return fmt.Errorf("write: %w", err)
	}
	return s.scan(ctx, exec, outputs)
}

// scan writes items one at a time to isolate the ones that fail.
func (s *ChunkStep[I, O]) scan(ctx context.Context, exec *StepExecution, outputs []O) error {
	for _, out := range outputs {
		single := []O{out}
		err := s.Policy.retry(ctx, func() error { return s.Writer.Write(ctx, single) })
		if err == nil {
			exec.WriteCount++
			continue
		}
		if !s.Policy.skippable(err) {
			return fmt.Errorf("write: %w", err)
		}
		if err := s.skip(exec, err); err != nil {
			return err
		}
		for _, l := range s.Skips {
			l.OnSkipInWrite(ctx, out, err)
		}
	}
	return nil
}

func (s *ChunkStep[I, O]) skip(exec *StepExecution, cause error) error {
	exec.SkipCount++
	if exec.SkipCount > s.Policy.SkipLimit {
		return fmt.Errorf("%w (%d): %w", ErrSkipLimitExceeded, s.Policy.SkipLimit, cause)
	}
	return nil
}

// runStep wraps one step execution in a span and the step listeners.
func runStep(ctx context.Context, tracer trace.Tracer, step Step, job *JobExecution, listeners []StepListener) *StepExecution {
	exec := &StepExecution{StepName: step.Name(), Status: StatusRunning, StartTime: time.Now().UTC()}
	ctx, span := tracer.Start(ctx, "batch.step "+step.Name(),
		trace.WithAttributes(attribute.String("batch.job", job.JobName), attribute.String("batch.step", step.Name())))
	defer span.End()

	for _, l := range listeners {
		l.BeforeStep(ctx, job, exec)
	}

	err := step.Execute(ctx, exec)
	exec.EndTime = time.Now().UTC()
	if err != nil {
		exec.Status = StatusFailed
		exec.Err = err
		exec.ExitMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		exec.Status = StatusCompleted
	}
	span.SetAttributes(
		attribute.Int("batch.read_count", exec.ReadCount),
		attribute.Int("batch.write_count", exec.WriteCount),
		attribute.Int("batch.skip_count", exec.SkipCount),
	)

	for i := len(listeners) - 1; i >= 0; i-- {
		listeners[i].AfterStep(ctx, job, exec)
	}
	return exec
}
