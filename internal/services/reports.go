package services

import (
	"context"
	"errors"
	"time"

	"budget/internal/amqp"
	"budget/internal/apperr"
	"budget/internal/audit"
	"budget/internal/batch"
	"budget/internal/core"
	"budget/internal/report"
	"budget/internal/storage"
)

// BatchRun is the outcome of a manual batch request.
type BatchRun struct {
	Queued     bool // handed to the worker instead of run in process
	Read       int
	Written    int
	Skipped    int
	FinishedAt time.Time
}

type ReportService struct {
	reports    *storage.ReportRepo
	executions *storage.ExecutionRepo
	runner     JobRunner
	publisher  JobPublisher
	audit      *audit.Logger
	now        func() time.Time
}

// NewReportService runs manual batches with runner, or enqueues them through
// publisher when it is not nil.
func NewReportService(db *storage.DB, runner JobRunner, publisher JobPublisher, auditLog *audit.Logger) *ReportService {
	return &ReportService{
		reports:    db.Repos().Reports,
		executions: db.Repos().Executions,
		runner:     runner,
		publisher:  publisher,
		audit:      auditLog,
		now:        time.Now,
	}
}

// Notifications lists the user's reports, newest month first.
func (s *ReportService) Notifications(ctx context.Context, userID int64) ([]core.Report, error) {
	return s.reports.Notifications(ctx, userID)
}

// Report returns one of the user's reports.
func (s *ReportService) Report(ctx context.Context, userID, reportID int64) (core.Report, error) {
	r, err := s.reports.ByIDAndUser(ctx, reportID, userID)
	if err != nil {
		return core.Report{}, notFoundAs(err, apperr.ReportNotFound)
	}
	return r, nil
}

// RunReportBatch runs the report job for the window that applies now.
func (s *ReportService) RunReportBatch(ctx context.Context, userID int64, requestID string) (BatchRun, error) {
	return s.run(ctx, amqp.JobReport, userID, requestID)
}

// RunDeadLetterBatch retries the parked report items.
func (s *ReportService) RunDeadLetterBatch(ctx context.Context, userID int64, requestID string) (BatchRun, error) {
	return s.run(ctx, amqp.JobDeadLetter, userID, requestID)
}

func (s *ReportService) run(ctx context.Context, job string, userID int64, requestID string) (res BatchRun, err error) {
	start := time.Now()
	defer func() {
		s.audit.Record(ctx, audit.Entry{
			Event: "run " + job + " batch", Operation: audit.OpInsert, Entity: "reports", UserID: userID,
			Args: []any{"queued", res.Queued},
		}, start, err)
	}()

	if s.publisher != nil {
		if job == amqp.JobReport {
			if err := s.reportNotCompleted(ctx); err != nil {
				return BatchRun{}, err
			}
		}
		if err := s.publisher.PublishRunJob(ctx, amqp.NewRunJobMessage(job, userID, requestID)); err != nil {
			return BatchRun{}, apperr.Wrap(apperr.BatchRun, err)
		}
		return BatchRun{Queued: true}, nil
	}

	now := s.now()
	var exec *batch.JobExecution
	if job == amqp.JobDeadLetter {
		exec, err = s.runner.RunDeadLetters(ctx, now)
	} else {
		exec, err = s.runner.RunReport(ctx, now)
	}
	if err != nil {
		if apperr.HasCode(err, apperr.BatchCompleted) || apperr.HasCode(err, apperr.BatchRun) {
			return BatchRun{}, err
		}
		return BatchRun{}, apperr.Wrap(apperr.BatchRun, err)
	}

	res.Read, res.Written, res.Skipped = exec.Totals()
	res.FinishedAt = s.now()
	return res, nil
}

// reportNotCompleted rejects queuing a report job whose window already
// completed, as running it in process would.
func (s *ReportService) reportNotCompleted(ctx context.Context) error {
	last, err := s.executions.Latest(ctx, report.ReportJobKey(s.now()))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return apperr.Wrap(apperr.BatchRun, err)
	case last.Status == core.ExecutionCompleted:
		return apperr.New(apperr.BatchCompleted)
	}
	return nil
}
