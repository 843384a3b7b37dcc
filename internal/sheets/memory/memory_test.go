package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budget/internal/core"
)

func TestExportReports(t *testing.T) {
	s := New()
	created := time.Date(2025, 4, 2, 0, 0, 1, 0, time.UTC)
	err := s.ExportReports(context.Background(), []core.Report{
		{ID: 7, UserID: 3, Month: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Notification: "Your 2025-03 report has arrived.", CreatedAt: created},
		{ID: 8, UserID: 4, Month: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)

	rows := s.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []any{int64(7), int64(3), "2025-03", "Your 2025-03 report has arrived.", "2025-04-02T00:00:01Z"}, rows[0])
	assert.Equal(t, "", rows[1][4], "unset creation time is left blank")
}
