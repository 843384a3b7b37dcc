package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"budget/internal/core"
)

type DeadLetterRepo struct{ q Querier }

func (r *DeadLetterRepo) Insert(ctx context.Context, d core.DeadLetter) (int64, error) {
	at := d.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO batch_dead_letters (step_name, input_data, error_class, error_message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		d.StepName, d.InputData, d.ErrorClass, nullString(d.ErrorMessage), utc(at))
	if err != nil {
		return 0, fmt.Errorf("insert dead letter: %w", err)
	}
	return res.LastInsertId()
}

// ListAfter pages dead letters oldest first, keyed by id.
func (r *DeadLetterRepo) ListAfter(ctx context.Context, afterID int64, limit int) ([]core.DeadLetter, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, step_name, input_data, error_class, error_message, created_at
		FROM batch_dead_letters WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []core.DeadLetter
	for rows.Next() {
		var (
			d   core.DeadLetter
			msg sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.StepName, &d.InputData, &d.ErrorClass, &msg, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.ErrorMessage = msg.String
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DeadLetterRepo) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	if _, err := r.q.ExecContext(ctx, "DELETE FROM batch_dead_letters WHERE id IN ("+placeholders+")", args...); err != nil {
		return fmt.Errorf("delete dead letters: %w", err)
	}
	return nil
}

func (r *DeadLetterRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM batch_dead_letters").Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

type ExecutionRepo struct{ q Querier }

// ErrJobClaimed is returned by Claim while another execution holds the job key.
var ErrJobClaimed = errors.New("storage: job key is claimed")

func (r *ExecutionRepo) Create(ctx context.Context, e core.JobExecution) (int64, error) {
	return createExecution(ctx, r.q, e)
}

func createExecution(ctx context.Context, q Querier, e core.JobExecution) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO batch_job_executions (job_name, job_key, params, status, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.JobName, e.JobKey, e.Params, e.Status, utc(e.StartedAt))
	if err != nil {
		return 0, fmt.Errorf("insert job execution: %w", err)
	}
	return res.LastInsertId()
}

// Claim takes the job key's lock row and records e as its execution, both in
// one transaction. The lock is held while the execution runs and kept once it
// completes; it fails with ErrJobClaimed while any other execution holds it.
func (r *ExecutionRepo) Claim(ctx context.Context, e core.JobExecution) (int64, error) {
	var id int64
	err := withTx(ctx, r.q, func(q Querier) error {
		_, err := q.ExecContext(ctx,
			"INSERT INTO batch_job_locks (job_key, execution_id, locked_at) VALUES (?, 0, ?)",
			e.JobKey, utc(e.StartedAt))
		if IsUniqueViolation(err) {
			return ErrJobClaimed
		}
		if err != nil {
			return fmt.Errorf("lock job key: %w", err)
		}
		if id, err = createExecution(ctx, q, e); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx,
			"UPDATE batch_job_locks SET execution_id = ? WHERE job_key = ?", id, e.JobKey); err != nil {
			return fmt.Errorf("bind job lock: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update stores the execution's status, counters and end time. A FAILED
// execution releases its job key.
func (r *ExecutionRepo) Update(ctx context.Context, e core.JobExecution) error {
	var ended sql.NullTime
	if e.EndedAt != nil {
		ended = sql.NullTime{Time: utc(*e.EndedAt), Valid: true}
	}
	return withTx(ctx, r.q, func(q Querier) error {
		_, err := q.ExecContext(ctx, `
			UPDATE batch_job_executions
			SET status = ?, read_count = ?, write_count = ?, skip_count = ?, exit_message = ?, ended_at = ?
			WHERE id = ?`,
			e.Status, e.ReadCount, e.WriteCount, e.SkipCount, nullString(e.ExitMessage), ended, e.ID)
		if err != nil {
			return fmt.Errorf("update job execution: %w", err)
		}
		if e.Status != core.ExecutionFailed {
			return nil
		}
		if _, err := q.ExecContext(ctx,
			"DELETE FROM batch_job_locks WHERE job_key = ? AND execution_id = ?", e.JobKey, e.ID); err != nil {
			return fmt.Errorf("release job lock: %w", err)
		}
		return nil
	})
}

// Latest returns the most recent execution for jobKey.
func (r *ExecutionRepo) Latest(ctx context.Context, jobKey string) (core.JobExecution, error) {
	var (
		e     core.JobExecution
		msg   sql.NullString
		ended sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, job_name, job_key, params, status, read_count, write_count, skip_count, exit_message, started_at, ended_at
		FROM batch_job_executions WHERE job_key = ? ORDER BY id DESC LIMIT 1`, jobKey).
		Scan(&e.ID, &e.JobName, &e.JobKey, &e.Params, &e.Status, &e.ReadCount, &e.WriteCount, &e.SkipCount,
			&msg, &e.StartedAt, &ended)
	if err != nil {
		return core.JobExecution{}, notFound(err)
	}
	e.ExitMessage = msg.String
	e.StartedAt = e.StartedAt.UTC()
	if ended.Valid {
		t := ended.Time.UTC()
		e.EndedAt = &t
	}
	return e, nil
}
