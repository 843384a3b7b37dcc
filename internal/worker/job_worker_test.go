package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/amqp"
	"budget/internal/apperr"
	"budget/internal/batch"
	applog "budget/internal/log"
)

type fakeRunner struct {
	reportErr error
	calls     []string
}

func (f *fakeRunner) RunReport(context.Context, time.Time) (*batch.JobExecution, error) {
	f.calls = append(f.calls, amqp.JobReport)
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return &batch.JobExecution{Steps: []*batch.StepExecution{{ReadCount: 2, WriteCount: 2}}}, nil
}

func (f *fakeRunner) RunDeadLetters(context.Context, time.Time) (*batch.JobExecution, error) {
	f.calls = append(f.calls, amqp.JobDeadLetter)
	return &batch.JobExecution{Steps: []*batch.StepExecution{{ReadCount: 1, WriteCount: 1}}}, nil
}

type countFunc func() (int64, error)

func (f countFunc) Count(context.Context) (int64, error) { return f() }

func testLogger() *applog.Logger { return applog.New(applog.Config{Output: io.Discard}) }

func TestHandleRunJob(t *testing.T) {
	tests := []struct {
		name      string
		job       string
		reportErr error
		wantErr   bool
		wantCalls []string
	}{
		{"report", amqp.JobReport, nil, false, []string{amqp.JobReport}},
		{"dead letters", amqp.JobDeadLetter, nil, false, []string{amqp.JobDeadLetter}},
		{"already completed is acked", amqp.JobReport, apperr.New(apperr.BatchCompleted), false, []string{amqp.JobReport}},
		{"failure is requeued", amqp.JobReport, apperr.Wrap(apperr.BatchRun, errors.New("boom")), true, []string{amqp.JobReport}},
		{"unknown job", "reindex", nil, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{reportErr: tt.reportErr}
			w := NewJobWorker(runner, countFunc(func() (int64, error) { return 0, nil }), testLogger())

			err := w.HandleRunJob(context.Background(), amqp.NewRunJobMessage(tt.job, 1, "req"))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, runner.calls)
		})
	}
}

func TestStartupCheck(t *testing.T) {
	runner := &fakeRunner{}
	w := NewJobWorker(runner, countFunc(func() (int64, error) { return 0, nil }), testLogger())
	require.NoError(t, w.StartupCheck(context.Background()))
	assert.Empty(t, runner.calls, "nothing parked, nothing to run")

	w = NewJobWorker(runner, countFunc(func() (int64, error) { return 3, nil }), testLogger())
	require.NoError(t, w.StartupCheck(context.Background()))
	assert.Equal(t, []string{amqp.JobDeadLetter}, runner.calls)

	w = NewJobWorker(runner, countFunc(func() (int64, error) { return 0, errors.New("db down") }), testLogger())
	assert.Error(t, w.StartupCheck(context.Background()))
}
