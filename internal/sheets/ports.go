package sheets

import (
	"context"
	"time"

	"budget/internal/core"
)

// ReportExporter mirrors stored monthly reports to a spreadsheet.
type ReportExporter interface {
	ExportReports(ctx context.Context, reports []core.Report) error
}

// Header is the first row of the report sheet.
var Header = []string{"Report ID", "User ID", "Month", "Notification", "Created At"}

// Row renders a report as one sheet row, in Header order.
func Row(r core.Report) []any {
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []any{r.ID, r.UserID, core.MonthLabel(r.Month), r.Notification, created}
}
