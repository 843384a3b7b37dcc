package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowFor(t *testing.T) {
	cases := []struct {
		name          string
		now           time.Time
		start, prev   string
		end           string
	}{
		{
			name:  "mid year",
			now:   time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC),
			start: "2025-06-01T00:00:00Z",
			prev:  "2025-07-01T00:00:00Z",
			end:   "2025-07-31T23:59:59Z",
		},
		{
			name:  "year boundary",
			now:   time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
			start: "2024-11-01T00:00:00Z",
			prev:  "2024-12-01T00:00:00Z",
			end:   "2024-12-31T23:59:59Z",
		},
		{
			name:  "non-utc input",
			now:   time.Date(2025, 3, 1, 5, 0, 0, 0, time.FixedZone("KST", 9*3600)),
			start: "2024-12-01T00:00:00Z",
			prev:  "2025-01-01T00:00:00Z",
			end:   "2025-01-31T23:59:59Z",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := WindowFor(tc.now)
			assert.Equal(t, tc.start, w.Start.Format(time.RFC3339))
			assert.Equal(t, tc.prev, w.PreviousMonth.Format(time.RFC3339))
			assert.Equal(t, tc.end, w.End.Format(time.RFC3339))
			assert.Equal(t, w.Start, w.BeforePrevious())
		})
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), d)
	assert.Equal(t, time.Date(2025, 2, 28, 23, 59, 59, 0, time.UTC), EndOfDay(d))
	assert.Equal(t, "2025-02", MonthLabel(d))

	_, err = ParseDate("2025/02/28")
	assert.Error(t, err)
}
