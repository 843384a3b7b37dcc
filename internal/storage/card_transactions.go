package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"budget/internal/core"
)

type CardTransactionRepo struct {
	q     Querier
	money moneyCodec
}

func (r *CardTransactionRepo) Exists(ctx context.Context, merchantID, cardNumber string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM card_transactions WHERE merchant_id = ? AND card_number = ?", merchantID, cardNumber).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count card transactions: %w", err)
	}
	return n > 0, nil
}

func (r *CardTransactionRepo) Insert(ctx context.Context, t core.CardTransaction) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO card_transactions (merchant_id, original_merchant_id, card_number, amount, merchant_name,
			merchant_address, transaction_at, card_transaction_type, card_transaction_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.MerchantID, nullString(t.OriginalMerchantID), t.CardNumber, r.money.value(t.Amount), t.MerchantName,
		nullString(t.MerchantAddress), utc(t.TransactionAt), t.Type, t.Status)
	if err != nil {
		return 0, fmt.Errorf("insert card transaction: %w", err)
	}
	return res.LastInsertId()
}

// ListAfter returns the card's transactions strictly after after, and strictly
// before before when it is set, oldest first.
func (r *CardTransactionRepo) ListAfter(ctx context.Context, cardNumber string, after time.Time, before *time.Time) ([]core.CardTransaction, error) {
	query := `
		SELECT id, merchant_id, original_merchant_id, card_number, amount, merchant_name, merchant_address,
			transaction_at, card_transaction_type, card_transaction_status
		FROM card_transactions
		WHERE card_number = ? AND transaction_at > ?`
	args := []any{cardNumber, utc(after)}
	if before != nil {
		query += " AND transaction_at < ?"
		args = append(args, utc(*before))
	}
	query += " ORDER BY transaction_at, id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list card transactions: %w", err)
	}
	defer rows.Close()

	var out []core.CardTransaction
	for rows.Next() {
		var (
			t                 core.CardTransaction
			original, address sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.MerchantID, &original, &t.CardNumber, r.money.scan(&t.Amount), &t.MerchantName, &address,
			&t.TransactionAt, &t.Type, &t.Status); err != nil {
			return nil, fmt.Errorf("scan card transaction: %w", err)
		}
		t.OriginalMerchantID = original.String
		t.MerchantAddress = address.String
		t.TransactionAt = t.TransactionAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
