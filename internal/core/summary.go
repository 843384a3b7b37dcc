package core

import "github.com/shopspring/decimal"

// CategoryShare is one row of a spending summary.
type CategoryShare struct {
	CategoryID   int64
	CategoryName string
	Sum          decimal.Decimal
	Count        int64
	Ratio        decimal.Decimal
}

// Summary is the per-category spending breakdown for a period.
type Summary struct {
	Categories []CategoryShare
	Total      decimal.Decimal
}

// Summarize computes totals and each category's share of the total.
func Summarize(sums []CategorySum) Summary {
	total := decimal.Zero
	for _, s := range sums {
		total = total.Add(s.Sum)
	}

	shares := make([]CategoryShare, 0, len(sums))
	for _, s := range sums {
		shares = append(shares, CategoryShare{
			CategoryID:   s.CategoryID,
			CategoryName: s.CategoryName,
			Sum:          s.Sum,
			Count:        s.Count,
			Ratio:        Ratio(s.Sum, total),
		})
	}
	return Summary{Categories: shares, Total: total}
}
