// Package audit writes one structured record per security- or data-relevant
// operation, and masks personal data before it reaches the log.
package audit

import (
	"context"
	"log/slog"
	"time"

	"budget/internal/apperr"
	applog "budget/internal/log"
	"budget/internal/middleware/trace"
)

// Operation types recorded in audit entries.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
	OpSelect = "SELECT"
)

// Entry describes one audited operation.
type Entry struct {
	Event     string
	Operation string
	Entity    string
	EntityID  int64
	UserID    int64
	Args      []any // extra attributes, already masked
}

// Logger emits audit entries at INFO on success and ERROR on failure.
type Logger struct {
	logger *applog.Logger
}

func New(logger *applog.Logger) *Logger {
	return &Logger{logger: logger.WithComponent(applog.ComponentAudit)}
}

// Record logs e with the outcome err and the time elapsed since start.
func (l *Logger) Record(ctx context.Context, e Entry, start time.Time, err error) {
	if l == nil {
		return
	}
	attrs := []any{
		"log_type", "AUDIT",
		"event", e.Event,
		"operation", e.Operation,
		"entity", e.Entity,
		"success", err == nil,
		applog.FieldRequestID, trace.RequestID(ctx),
		applog.FieldClientIP, trace.ClientIP(ctx),
		applog.FieldDuration, time.Since(start).Milliseconds(),
	}
	if e.EntityID > 0 {
		attrs = append(attrs, "entity_id", e.EntityID)
	}
	if e.UserID > 0 {
		attrs = append(attrs, applog.FieldUserID, e.UserID)
	}
	attrs = append(attrs, e.Args...)

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		code := apperr.CodeOf(err)
		attrs = append(attrs, applog.FieldErrorCode, code.Name, "message", code.Message)
	}
	l.logger.Log(ctx, level, "audit", attrs...)
}
