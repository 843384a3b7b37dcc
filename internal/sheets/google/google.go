// Package google exports monthly reports to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budget/internal/core"
	applog "budget/internal/log"
	ports "budget/internal/sheets"
)

const defaultReportSheet = "Reports"

var _ ports.ReportExporter = (*Client)(nil)

type Config struct {
	SpreadsheetID string
	// CredentialsFile is a service account key file. When empty,
	// GOOGLE_SERVICE_ACCOUNT_JSON and GOOGLE_APPLICATION_CREDENTIALS are tried.
	CredentialsFile string
	ReportSheet     string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	reportSheet   string
	logger        *applog.Logger
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *applog.Logger) (*Client, error) {
	creds, err := credentials(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg, logger)
}

// NewWithService wraps an already configured Sheets service.
func NewWithService(svc *gsheet.Service, cfg Config, logger *applog.Logger) (*Client, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheet := strings.TrimSpace(cfg.ReportSheet)
	if sheet == "" {
		sheet = defaultReportSheet
	}
	return &Client{
		svc:           svc,
		spreadsheetID: id,
		reportSheet:   sheet,
		logger:        logger.WithComponent(applog.ComponentSheets),
	}, nil
}

func credentials(file string) ([]byte, error) {
	file = strings.TrimSpace(file)
	if file == "" {
		if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
			return []byte(inline), nil
		}
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if file == "" {
		return nil, errors.New("missing service account credentials (set google_service_account_file, GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// ExportReports appends one row per report below the existing data.
func (c *Client) ExportReports(ctx context.Context, reports []core.Report) error {
	if len(reports) == 0 {
		return nil
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	values := make([][]any, 0, len(reports))
	for _, r := range reports {
		values = append(values, ports.Row(r))
	}

	rng := fmt.Sprintf("%s!A:E", c.reportSheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to sheet %s: %w", c.reportSheet, err)
	}

	updated := ""
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRange
	}
	c.logger.DebugContext(ctx, "Exported reports to sheet",
		"sheet", c.reportSheet,
		"count", len(reports),
		"range", updated)
	return nil
}

// EnsureHeader writes the header row when the sheet is empty.
func (c *Client) EnsureHeader(ctx context.Context) error {
	rng := fmt.Sprintf("%s!A1:E1", c.reportSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", c.reportSheet, err)
	}
	if len(resp.Values) > 0 {
		return nil
	}

	row := make([]any, len(ports.Header))
	for i, h := range ports.Header {
		row[i] = h
	}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, &gsheet.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header of %s: %w", c.reportSheet, err)
	}
	return nil
}
