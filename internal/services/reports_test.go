package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/amqp"
	"budget/internal/apperr"
	"budget/internal/batch"
	"budget/internal/core"
	"budget/internal/report"
)

type fakeJobs struct {
	err  error
	runs []string
}

func (f *fakeJobs) RunReport(context.Context, time.Time) (*batch.JobExecution, error) {
	f.runs = append(f.runs, amqp.JobReport)
	if f.err != nil {
		return nil, f.err
	}
	return &batch.JobExecution{Steps: []*batch.StepExecution{{ReadCount: 3, WriteCount: 2, SkipCount: 1}}}, nil
}

func (f *fakeJobs) RunDeadLetters(context.Context, time.Time) (*batch.JobExecution, error) {
	f.runs = append(f.runs, amqp.JobDeadLetter)
	return &batch.JobExecution{}, nil
}

type fakePublisher struct {
	err  error
	msgs []*amqp.RunJobMessage
}

func (f *fakePublisher) PublishRunJob(_ context.Context, msg *amqp.RunJobMessage) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestReportQueries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	alice := e.register(t, "alice@example.com", "rawPassword", "alice")
	bob := e.register(t, "bob@example.com", "rawPassword", "bob")

	var ids []int64
	for _, m := range []time.Month{time.January, time.February} {
		id, err := e.db.Repos().Reports.Insert(ctx, core.Report{
			UserID: alice.ID, Month: time.Date(2025, m, 1, 0, 0, 0, 0, time.UTC),
			Message: "report " + m.String(), Notification: "note " + m.String(),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	svc := NewReportService(e.db, &fakeJobs{}, nil, e.audit)
	list, err := svc.Notifications(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "note February", list[0].Notification, "newest month first")

	r, err := svc.Report(ctx, alice.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "report January", r.Message)

	_, err = svc.Report(ctx, bob.ID, ids[0])
	assert.True(t, apperr.HasCode(err, apperr.ReportNotFound), "reports are private")
}

func TestRunReportBatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	t.Run("in process", func(t *testing.T) {
		jobs := &fakeJobs{}
		res, err := NewReportService(e.db, jobs, nil, e.audit).RunReportBatch(ctx, 1, "req-1")
		require.NoError(t, err)
		assert.False(t, res.Queued)
		assert.Equal(t, 3, res.Read)
		assert.Equal(t, 2, res.Written)
		assert.Equal(t, 1, res.Skipped)
		assert.Equal(t, []string{amqp.JobReport}, jobs.runs)
	})

	t.Run("queued", func(t *testing.T) {
		jobs, pub := &fakeJobs{}, &fakePublisher{}
		svc := NewReportService(e.db, jobs, pub, e.audit)
		res, err := svc.RunReportBatch(ctx, 7, "req-2")
		require.NoError(t, err)
		assert.True(t, res.Queued)
		assert.Empty(t, jobs.runs)
		require.Len(t, pub.msgs, 1)
		assert.Equal(t, amqp.JobReport, pub.msgs[0].Job)
		assert.Equal(t, int64(7), pub.msgs[0].RequestedBy)
		assert.Equal(t, "req-2", pub.msgs[0].RequestID)

		_, err = svc.RunDeadLetterBatch(ctx, 7, "req-3")
		require.NoError(t, err)
		assert.Equal(t, amqp.JobDeadLetter, pub.msgs[1].Job)
	})

	t.Run("queued after the window completed", func(t *testing.T) {
		e := newEnv(t)
		now := time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
		_, err := e.db.Repos().Executions.Create(ctx, core.JobExecution{
			JobName: report.ReportJobName, JobKey: report.ReportJobKey(now), Params: "{}",
			Status: core.ExecutionCompleted, StartedAt: now.Add(-time.Hour),
		})
		require.NoError(t, err)

		pub := &fakePublisher{}
		svc := NewReportService(e.db, &fakeJobs{}, pub, e.audit)
		svc.now = func() time.Time { return now }
		_, err = svc.RunReportBatch(ctx, 7, "req-4")
		assert.True(t, apperr.HasCode(err, apperr.BatchCompleted), "got %v", err)
		assert.Empty(t, pub.msgs)

		// The next window is still open.
		svc.now = func() time.Time { return now.AddDate(0, 1, 0) }
		res, err := svc.RunReportBatch(ctx, 7, "req-5")
		require.NoError(t, err)
		assert.True(t, res.Queued)

		res, err = svc.RunDeadLetterBatch(ctx, 7, "req-6")
		require.NoError(t, err)
		assert.True(t, res.Queued, "dead-letter runs are always new instances")
		assert.Len(t, pub.msgs, 2)
	})

	tests := []struct {
		name string
		jobs *fakeJobs
		pub  JobPublisher
		want apperr.Code
	}{
		{"job failure", &fakeJobs{err: errors.New("db gone")}, nil, apperr.BatchRun},
		{"already completed", &fakeJobs{err: apperr.New(apperr.BatchCompleted)}, nil, apperr.BatchCompleted},
		{"broker down", &fakeJobs{}, &fakePublisher{err: amqp.ErrCircuitOpen}, apperr.BatchRun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReportService(e.db, tt.jobs, tt.pub, e.audit).RunReportBatch(ctx, 1, "")
			assert.True(t, apperr.HasCode(err, tt.want), "got %v", err)
		})
	}
}
