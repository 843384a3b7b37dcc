package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budget/internal/core"
)

type TransactionRepo struct {
	q     Querier
	money moneyCodec
}

// TransactionFilter narrows a user's transactions. Zero values are ignored,
// except From and To which are always applied.
type TransactionFilter struct {
	UserID       int64
	From, To     time.Time // inclusive
	CardID       int64
	CategoryID   int64
	Status       core.TransactionStatus
	Type         core.TransactionType
	MerchantName string
	AmountMin    *decimal.Decimal
	AmountMax    *decimal.Decimal
	Ascending    bool
	Offset       int
	Limit        int
}

func (f TransactionFilter) where(money moneyCodec) (string, []any) {
	clauses := []string{"t.user_id = ?", "t.transaction_at >= ?", "t.transaction_at <= ?"}
	args := []any{f.UserID, utc(f.From), utc(f.To)}

	if f.CardID > 0 {
		clauses = append(clauses, "t.card_id = ?")
		args = append(args, f.CardID)
	}
	if f.CategoryID > 0 {
		clauses = append(clauses, "t.category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Status != "" {
		clauses = append(clauses, "t.transaction_status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "t.transaction_type = ?")
		args = append(args, f.Type)
	}
	if f.MerchantName != "" {
		clauses = append(clauses, "LOWER(t.merchant_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.MerchantName)+"%")
	}
	if f.AmountMin != nil {
		clauses = append(clauses, "t.amount >= ?")
		args = append(args, money.value(*f.AmountMin))
	}
	if f.AmountMax != nil {
		clauses = append(clauses, "t.amount <= ?")
		args = append(args, money.value(*f.AmountMax))
	}
	return strings.Join(clauses, " AND "), args
}

// Exists reports whether the card already holds this merchant transaction.
func (r *TransactionRepo) Exists(ctx context.Context, cardID int64, merchantID string, at time.Time) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE card_id = ? AND merchant_id = ? AND transaction_at = ?",
		cardID, merchantID, utc(at)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count transactions: %w", err)
	}
	return n > 0, nil
}

func (r *TransactionRepo) Insert(ctx context.Context, t core.Transaction) (int64, error) {
	now := utc(time.Now())
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (user_id, card_id, category_id, merchant_id, original_merchant_id, amount,
			merchant_name, merchant_address, transaction_at, transaction_status, transaction_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.CardID, t.CategoryID, t.MerchantID, nullString(t.OriginalMerchantID), r.money.value(t.Amount),
		t.MerchantName, nullString(t.MerchantAddress), utc(t.TransactionAt), t.Status, t.Type, now, now)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return res.LastInsertId()
}

// Search returns one page of matching transactions and the total match count.
func (r *TransactionRepo) Search(ctx context.Context, f TransactionFilter) ([]core.Transaction, int64, error) {
	where, args := f.where(r.money)

	var total int64
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions t WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	order := "DESC"
	if f.Ascending {
		order = "ASC"
	}
	query := `
		SELECT t.id, t.user_id, t.card_id, t.category_id, t.merchant_id, t.original_merchant_id, t.amount,
			t.merchant_name, t.merchant_address, t.transaction_at, t.transaction_status, t.transaction_type,
			c.card_number, cat.display_name
		FROM transactions t
		JOIN cards c ON c.id = t.card_id
		JOIN categories cat ON cat.id = t.category_id
		WHERE ` + where + `
		ORDER BY t.transaction_at ` + order + `, t.id ` + order + `
		LIMIT ? OFFSET ?`
	rows, err := r.q.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t                 core.Transaction
			original, address sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.CardID, &t.CategoryID, &t.MerchantID, &original, r.money.scan(&t.Amount),
			&t.MerchantName, &address, &t.TransactionAt, &t.Status, &t.Type, &t.CardNumber, &t.CategoryName); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		t.OriginalMerchantID = original.String
		t.MerchantAddress = address.String
		t.TransactionAt = t.TransactionAt.UTC()
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// SumByCategory totals APPROVED spending per category between from and to,
// inclusive. Categories without spending are omitted.
func (r *TransactionRepo) SumByCategory(ctx context.Context, userID int64, from, to time.Time) ([]core.CategorySum, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT cat.id, cat.display_name, COALESCE(SUM(t.amount), 0), COUNT(t.id)
		FROM transactions t
		JOIN categories cat ON cat.id = t.category_id
		WHERE t.user_id = ? AND t.transaction_status = ? AND t.transaction_at >= ? AND t.transaction_at <= ?
		GROUP BY cat.id, cat.display_name
		ORDER BY cat.id`,
		userID, core.Approved, utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}
	defer rows.Close()

	var out []core.CategorySum
	for rows.Next() {
		var s core.CategorySum
		if err := rows.Scan(&s.CategoryID, &s.CategoryName, r.money.scan(&s.Sum), &s.Count); err != nil {
			return nil, fmt.Errorf("scan category sum: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
