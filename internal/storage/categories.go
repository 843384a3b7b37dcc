package storage

import (
	"context"
	"fmt"
	"strings"

	"budget/internal/core"
)

type CategoryRepo struct{ q Querier }

func (r *CategoryRepo) ByCode(ctx context.Context, code core.CategoryCode) (core.Category, error) {
	var c core.Category
	err := r.q.QueryRowContext(ctx, "SELECT id, code, display_name FROM categories WHERE code = ?", code).
		Scan(&c.ID, &c.Code, &c.DisplayName)
	if err != nil {
		return core.Category{}, notFound(err)
	}
	return c, nil
}

func (r *CategoryRepo) List(ctx context.Context) ([]core.Category, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT id, code, display_name FROM categories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Code, &c.DisplayName); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MatchMerchant returns the category whose merchant pattern is the longest
// case-insensitive substring of name.
func (r *CategoryRepo) MatchMerchant(ctx context.Context, name string) (core.Category, bool, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT mc.merchant_name, c.id, c.code, c.display_name
		FROM merchant_categories mc
		JOIN categories c ON c.id = mc.category_id`)
	if err != nil {
		return core.Category{}, false, fmt.Errorf("list merchant categories: %w", err)
	}
	defer rows.Close()

	var (
		best    core.Category
		bestLen int
		lower   = strings.ToLower(name)
	)
	for rows.Next() {
		var (
			pattern string
			c       core.Category
		)
		if err := rows.Scan(&pattern, &c.ID, &c.Code, &c.DisplayName); err != nil {
			return core.Category{}, false, fmt.Errorf("scan merchant category: %w", err)
		}
		if len(pattern) > bestLen && strings.Contains(lower, strings.ToLower(pattern)) {
			best, bestLen = c, len(pattern)
		}
	}
	if err := rows.Err(); err != nil {
		return core.Category{}, false, err
	}
	return best, bestLen > 0, nil
}
