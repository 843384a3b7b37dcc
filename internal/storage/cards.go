package storage

import (
	"context"
	"fmt"
	"time"

	"budget/internal/core"
)

type CardRepo struct{ q Querier }

const cardColumns = "id, user_id, card_company_type, card_number, created_at"

func scanCard(row interface{ Scan(...any) error }) (core.Card, error) {
	var c core.Card
	if err := row.Scan(&c.ID, &c.UserID, &c.Company, &c.Number, &c.CreatedAt); err != nil {
		return core.Card{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (r *CardRepo) Create(ctx context.Context, c core.Card) (core.Card, error) {
	now := utc(time.Now())
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO cards (user_id, card_company_type, card_number, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		c.UserID, c.Company, c.Number, now, now)
	if err != nil {
		return core.Card{}, fmt.Errorf("insert card: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return core.Card{}, fmt.Errorf("card id: %w", err)
	}
	c.CreatedAt = now
	return c, nil
}

// Exists reports whether any user registered the company/number pair.
func (r *CardRepo) Exists(ctx context.Context, company core.CardCompany, number string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cards WHERE card_company_type = ? AND card_number = ?", company, number).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count cards: %w", err)
	}
	return n > 0, nil
}

func (r *CardRepo) ByUser(ctx context.Context, userID int64) ([]core.Card, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+cardColumns+" FROM cards WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []core.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (r *CardRepo) ByIDAndUser(ctx context.Context, id, userID int64) (core.Card, error) {
	c, err := scanCard(r.q.QueryRowContext(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE id = ? AND user_id = ?", id, userID))
	if err != nil {
		return core.Card{}, notFound(err)
	}
	return c, nil
}

// Delete removes the card; its transactions cascade.
func (r *CardRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM cards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
