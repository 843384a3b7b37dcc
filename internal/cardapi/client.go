// Package cardapi calls the card company's transaction API.
package cardapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"budget/internal/apperr"
	applog "budget/internal/log"
)

const (
	defaultTimeout    = 3 * time.Second
	defaultRetries    = 3
	defaultRetryDelay = 500 * time.Millisecond
)

// Transaction is one row of the card company's response.
type Transaction struct {
	MerchantID            string          `json:"merchantId"`
	OriginalMerchantID    string          `json:"originalMerchantId,omitempty"`
	CardNumber            string          `json:"cardNumber,omitempty"`
	Amount                decimal.Decimal `json:"amount"`
	MerchantName          string          `json:"merchantName"`
	MerchantAddress       string          `json:"merchantAddress,omitempty"`
	TransactionAt         time.Time       `json:"transactionAt"`
	CardTransactionType   string          `json:"cardTransactionType"`
	CardTransactionStatus string          `json:"cardTransactionStatus"`
}

// ListResponse is the body of GET /outer/transaction.
type ListResponse struct {
	CardTransactionList []Transaction `json:"cardTransactionList"`
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration // per attempt
	Retries    int // 0 means the default, negative disables retries
	RetryDelay time.Duration
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	logger     *applog.Logger
}

func NewClient(cfg Config, logger *applog.Logger) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       cfg.HTTPClient,
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.WithComponent(applog.ComponentCardAPI),
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	switch {
	case cfg.Retries < 0:
		c.retries = 0
	case cfg.Retries == 0:
		c.retries = defaultRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	return c
}

// Transactions lists the card's transactions in [start, end). Network errors
// and timeouts are retried; HTTP error statuses are not.
func (c *Client) Transactions(ctx context.Context, cardNumber string, start, end time.Time) ([]Transaction, error) {
	q := url.Values{}
	q.Set("startDate", start.UTC().Format(time.RFC3339))
	q.Set("endDate", end.UTC().Format(time.RFC3339))
	q.Set("cardNumber", cardNumber)
	endpoint := c.baseURL + "/outer/transaction?" + q.Encode()

	var out ListResponse
	attempt := 0
	op := func() error {
		attempt++
		err := c.fetch(ctx, endpoint, &out)
		if err != nil && retryable(err) {
			c.logger.WarnContext(ctx, "card API call failed, retrying",
				"attempt", attempt, applog.FieldError, err.Error())
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		if isTimeout(err) {
			return nil, apperr.Wrap(apperr.APITimeout, err)
		}
		return nil, apperr.Wrap(apperr.APIServerError, err)
	}
	return out.CardTransactionList, nil
}

func (c *Client) fetch(ctx context.Context, endpoint string, out *ListResponse) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build card API request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return apperr.Wrap(apperr.APIServerError, fmt.Errorf("card API status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return apperr.Wrap(apperr.APIClientError, fmt.Errorf("card API status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeout(err) {
			return err
		}
		return apperr.Wrap(apperr.JSONParsing, fmt.Errorf("decode card API response: %w", err))
	}
	return nil
}

// retryable matches transport failures, never HTTP statuses.
func retryable(err error) bool {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
