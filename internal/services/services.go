// Package services holds the application use cases behind the HTTP API.
package services

import (
	"context"
	"errors"
	"time"

	"budget/internal/amqp"
	"budget/internal/apperr"
	"budget/internal/batch"
	"budget/internal/cardapi"
	"budget/internal/core"
	"budget/internal/storage"
)

// CardAPI fetches a card's transactions from the card company.
type CardAPI interface {
	Transactions(ctx context.Context, cardNumber string, start, end time.Time) ([]cardapi.Transaction, error)
}

// Advisor answers the LLM-backed questions.
type Advisor interface {
	ChooseCategory(ctx context.Context, merchantName string) (core.CategoryCode, error)
	RecommendSaving(ctx context.Context, summary core.Summary) (string, error)
}

// JobPublisher hands batch runs to the worker.
type JobPublisher interface {
	PublishRunJob(ctx context.Context, msg *amqp.RunJobMessage) error
}

// JobRunner runs the report jobs in process.
type JobRunner interface {
	RunReport(ctx context.Context, now time.Time) (*batch.JobExecution, error)
	RunDeadLetters(ctx context.Context, now time.Time) (*batch.JobExecution, error)
}

// notFoundAs maps storage.ErrNotFound to code and leaves other errors alone.
func notFoundAs(err error, code apperr.Code) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(code, err)
	}
	return err
}

