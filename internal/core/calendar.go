package core

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// ParseDate parses a yyyy-MM-dd date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last second of t's day, UTC.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Second)
}

// FirstOfMonth returns midnight UTC on the first day of t's month.
func FirstOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthLabel formats a month as yyyy-MM.
func MonthLabel(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ReportWindow is the two-month range a monthly report compares.
type ReportWindow struct {
	Start         time.Time // first day of the month before last
	PreviousMonth time.Time // first day of last month
	End           time.Time // last second of last month
}

// WindowFor returns the report window for a run at now: the month before
// last through the end of last month.
func WindowFor(now time.Time) ReportWindow {
	thisMonth := FirstOfMonth(now)
	previous := thisMonth.AddDate(0, -1, 0)
	return ReportWindow{
		Start:         thisMonth.AddDate(0, -2, 0),
		PreviousMonth: previous,
		End:           thisMonth.Add(-time.Second),
	}
}

// BeforePrevious is the first day of the month before last.
func (w ReportWindow) BeforePrevious() time.Time {
	return w.Start
}
