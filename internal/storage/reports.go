package storage

import (
	"context"
	"fmt"
	"time"

	"budget/internal/core"
)

type ReportRepo struct{ q Querier }

// Insert stores r. A report for the same user and month is a unique violation.
func (r *ReportRepo) Insert(ctx context.Context, rep core.Report) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO reports (user_id, report_month, report_message, notification_message, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rep.UserID, core.FirstOfMonth(rep.Month), rep.Message, rep.Notification, utc(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return res.LastInsertId()
}

func (r *ReportRepo) Exists(ctx context.Context, userID int64, month time.Time) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reports WHERE user_id = ? AND report_month = ?", userID, core.FirstOfMonth(month)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count reports: %w", err)
	}
	return n > 0, nil
}

// Notifications lists the user's reports, newest month first.
func (r *ReportRepo) Notifications(ctx context.Context, userID int64) ([]core.Report, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, report_month, report_message, notification_message, created_at
		FROM reports WHERE user_id = ? ORDER BY report_month DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []core.Report
	for rows.Next() {
		var rep core.Report
		if err := rows.Scan(&rep.ID, &rep.UserID, &rep.Month, &rep.Message, &rep.Notification, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		rep.Month, rep.CreatedAt = rep.Month.UTC(), rep.CreatedAt.UTC()
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *ReportRepo) ByIDAndUser(ctx context.Context, id, userID int64) (core.Report, error) {
	var rep core.Report
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, report_month, report_message, notification_message, created_at
		FROM reports WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&rep.ID, &rep.UserID, &rep.Month, &rep.Message, &rep.Notification, &rep.CreatedAt)
	if err != nil {
		return core.Report{}, notFound(err)
	}
	rep.Month, rep.CreatedAt = rep.Month.UTC(), rep.CreatedAt.UTC()
	return rep, nil
}
