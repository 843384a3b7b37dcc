// Package report builds the monthly spending report: a batch job compares
// each user's spending per category over the last two months and stores a
// report with a notification. Items that cannot be written are parked as
// dead letters and retried by a second job.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

// ErrBadInput marks an item that can never produce a report.
var ErrBadInput = errors.New("report: unusable input")

const monthLayout = "2006-01"

// CategoryTotal is one category's APPROVED spending in a month.
type CategoryTotal struct {
	CategoryName string          `json:"categoryName"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
}

// Input is everything needed to build one user's report. It is stored as
// JSON in dead letters, so it must not depend on the time it is processed.
type Input struct {
	UserID         int64           `json:"userId"`
	ReportMonth    string          `json:"reportMonth"` // yyyy-MM of last month
	Previous       []CategoryTotal `json:"previous"`
	BeforePrevious []CategoryTotal `json:"beforePrevious"`
}

// Result is a built report and where it came from.
type Result struct {
	Input        Input
	Report       core.Report
	DeadLetterID int64 // set when the item is a dead-letter retry
}

// Change is a category whose spending moved between the two months.
type Change struct {
	Category string
	Amount   decimal.Decimal // absolute difference
}

// Diff splits categories into those that increased and those that decreased
// from the month before last to last month. Missing months count as zero and
// unchanged categories are dropped. Both lists are sorted by category name.
func Diff(previous, beforePrevious []CategoryTotal) (increased, decreased []Change) {
	last := totals(previous)
	before := totals(beforePrevious)

	names := make(map[string]struct{}, len(last)+len(before))
	for name := range last {
		names[name] = struct{}{}
	}
	for name := range before {
		names[name] = struct{}{}
	}

	for name := range names {
		diff := last[name].Sub(before[name])
		switch diff.Sign() {
		case 1:
			increased = append(increased, Change{Category: name, Amount: diff})
		case -1:
			decreased = append(decreased, Change{Category: name, Amount: diff.Neg()})
		}
	}
	byName := func(c []Change) func(i, j int) bool {
		return func(i, j int) bool { return c[i].Category < c[j].Category }
	}
	sort.Slice(increased, byName(increased))
	sort.Slice(decreased, byName(decreased))
	return increased, decreased
}

func totals(rows []CategoryTotal) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(rows))
	for _, r := range rows {
		m[r.CategoryName] = m[r.CategoryName].Add(r.TotalAmount)
	}
	return m
}

// Build turns an input into the report row to store.
func Build(in Input) (core.Report, error) {
	if in.UserID <= 0 {
		return core.Report{}, fmt.Errorf("%w: missing user id", ErrBadInput)
	}
	month, err := time.ParseInLocation(monthLayout, in.ReportMonth, time.UTC)
	if err != nil {
		return core.Report{}, fmt.Errorf("%w: report month %q", ErrBadInput, in.ReportMonth)
	}
	before := month.AddDate(0, -1, 0)

	increased, decreased := Diff(in.Previous, in.BeforePrevious)

	var b strings.Builder
	fmt.Fprintf(&b, "%s vs %s report\n\n", core.MonthLabel(before), core.MonthLabel(month))
	writeSection(&b, "[Increased]", "+", increased)
	writeSection(&b, "[Decreased]", "-", decreased)

	return core.Report{
		UserID:       in.UserID,
		Month:        month,
		Message:      b.String(),
		Notification: fmt.Sprintf("Your %s report has arrived.", core.MonthLabel(month)),
	}, nil
}

func writeSection(b *strings.Builder, title, sign string, changes []Change) {
	b.WriteString(title)
	b.WriteByte('\n')
	if len(changes) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, c := range changes {
		fmt.Fprintf(b, "- %s: %s%s KRW\n", c.Category, sign, core.FormatAmount(c.Amount))
	}
}

// Process is the report step's processor.
func Process(_ context.Context, in Input) (Result, bool, error) {
	rep, err := Build(in)
	if err != nil {
		return Result{}, false, err
	}
	return Result{Input: in, Report: rep}, true, nil
}
