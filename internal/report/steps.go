package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"budget/internal/batch"
	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/storage"
)

const (
	ReportJobName     = "saveReportJob"
	ReportStepName    = "saveReportStep"
	DeadLetterJobName = "deadLetterRetryJob"
	DeadLetterStep    = "deadLetterStep"
)

// Publisher announces stored reports, e.g. over a message broker.
type Publisher interface {
	PublishReportsCreated(ctx context.Context, reports []core.Report) error
}

// Exporter mirrors stored reports to an external destination.
type Exporter interface {
	ExportReports(ctx context.Context, reports []core.Report) error
}

func userReader(db *storage.DB, window core.ReportWindow, pageSize int) batch.Reader[Input] {
	users := batch.NewPagingReader(pageSize, func(ctx context.Context, cursor int64, limit int) ([]core.User, error) {
		return db.Repos().Users.ActiveAfter(ctx, cursor, limit)
	}, func(u core.User) int64 { return u.ID })

	previousEnd := window.PreviousMonth.Add(-time.Second)
	return batch.ReaderFunc[Input](func(ctx context.Context) (Input, bool, error) {
		u, ok, err := users.Read(ctx)
		if err != nil || !ok {
			return Input{}, ok, err
		}
		txs := db.Repos().Transactions
		before, err := txs.SumByCategory(ctx, u.ID, window.Start, previousEnd)
		if err != nil {
			return Input{}, false, err
		}
		last, err := txs.SumByCategory(ctx, u.ID, window.PreviousMonth, window.End)
		if err != nil {
			return Input{}, false, err
		}
		return Input{
			UserID:         u.ID,
			ReportMonth:    core.MonthLabel(window.PreviousMonth),
			Previous:       toTotals(last),
			BeforePrevious: toTotals(before),
		}, true, nil
	})
}

func toTotals(sums []core.CategorySum) []CategoryTotal {
	out := make([]CategoryTotal, len(sums))
	for i, s := range sums {
		out[i] = CategoryTotal{CategoryName: s.CategoryName, TotalAmount: s.Sum}
	}
	return out
}

// deadLetterReader pages stored dead letters oldest first.
func deadLetterReader(db *storage.DB, pageSize int) batch.Reader[core.DeadLetter] {
	return batch.NewPagingReader(pageSize, func(ctx context.Context, cursor int64, limit int) ([]core.DeadLetter, error) {
		return db.Repos().DeadLetters.ListAfter(ctx, cursor, limit)
	}, func(d core.DeadLetter) int64 { return d.ID })
}

func processDeadLetter(ctx context.Context, d core.DeadLetter) (Result, bool, error) {
	var in Input
	if err := json.Unmarshal([]byte(d.InputData), &in); err != nil {
		return Result{}, false, fmt.Errorf("%w: dead letter %d: %v", ErrBadInput, d.ID, err)
	}
	res, keep, err := Process(ctx, in)
	res.DeadLetterID = d.ID
	return res, keep, err
}

// writer stores reports in one transaction per chunk. Dead-letter retries
// delete their dead letter in the same transaction, and a report that
// already exists counts as resolved.
type writer struct {
	db        *storage.DB
	publisher Publisher
	exporter  Exporter
	logger    *applog.Logger
}

func (w *writer) Write(ctx context.Context, items []Result) error {
	stored := make([]core.Report, 0, len(items))
	err := w.db.InTx(ctx, func(r *storage.Repos) error {
		stored = stored[:0]
		var resolved []int64
		for _, it := range items {
			if it.DeadLetterID != 0 {
				resolved = append(resolved, it.DeadLetterID)
				exists, err := r.Reports.Exists(ctx, it.Report.UserID, it.Report.Month)
				if err != nil {
					return err
				}
				if exists {
					continue
				}
			}
			id, err := r.Reports.Insert(ctx, it.Report)
			if err != nil {
				return err
			}
			rep := it.Report
			rep.ID = id
			stored = append(stored, rep)
		}
		return r.DeadLetters.Delete(ctx, resolved...)
	})
	if err != nil {
		return err
	}
	w.announce(ctx, stored)
	return nil
}

// announce runs the optional side effects. Their failures are logged and do
// not fail the chunk, whose reports are already committed.
func (w *writer) announce(ctx context.Context, reports []core.Report) {
	if len(reports) == 0 {
		return
	}
	if w.publisher != nil {
		if err := w.publisher.PublishReportsCreated(ctx, reports); err != nil {
			w.logger.WarnContext(ctx, "Failed to publish report events", "count", len(reports), applog.FieldError, err)
		}
	}
	if w.exporter != nil {
		if err := w.exporter.ExportReports(ctx, reports); err != nil {
			w.logger.WarnContext(ctx, "Failed to export reports", "count", len(reports), applog.FieldError, err)
		}
	}
}

// deadLetters parks skipped report items for the retry job.
type deadLetters struct {
	db      *storage.DB
	logger  *applog.Logger
	counter func()
}

func (d *deadLetters) OnSkipInRead(ctx context.Context, err error) {
	d.save(ctx, nil, err)
}

func (d *deadLetters) OnSkipInProcess(ctx context.Context, item Input, err error) {
	d.save(ctx, &item, err)
}

func (d *deadLetters) OnSkipInWrite(ctx context.Context, item Result, err error) {
	d.save(ctx, &item.Input, err)
}

func (d *deadLetters) save(ctx context.Context, in *Input, cause error) {
	data := []byte("null")
	if in != nil {
		var err error
		if data, err = json.Marshal(in); err != nil {
			data = []byte(`{"error":"failed to serialize item"}`)
		}
	}
	_, err := d.db.Repos().DeadLetters.Insert(ctx, core.DeadLetter{
		StepName:     ReportStepName,
		InputData:    string(data),
		ErrorClass:   errorClass(cause),
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to store dead letter", applog.FieldError, err, "cause", cause)
		return
	}
	if d.counter != nil {
		d.counter()
	}
	d.logger.WarnContext(ctx, "Report item moved to dead letters", applog.FieldError, cause)
}

// errorClass names the innermost error type, e.g. "*mysql.MySQLError".
func errorClass(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return reflect.TypeOf(err).String()
		}
		err = next
	}
}
