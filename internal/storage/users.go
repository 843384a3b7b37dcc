package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"budget/internal/core"
)

type UserRepo struct{ q Querier }

const userColumns = "id, email, password_hash, name, created_at, updated_at, deleted_at"

func scanUser(row interface{ Scan(...any) error }) (core.User, error) {
	var (
		u       core.User
		deleted sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt, &u.UpdatedAt, &deleted); err != nil {
		return core.User{}, err
	}
	if deleted.Valid {
		t := deleted.Time.UTC()
		u.DeletedAt = &t
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

// Create inserts u and returns it with its ID and timestamps set.
func (r *UserRepo) Create(ctx context.Context, u core.User) (core.User, error) {
	now := utc(time.Now())
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		u.Email, u.PasswordHash, u.Name, now, now)
	if err != nil {
		return core.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("user id: %w", err)
	}
	u.ID, u.CreatedAt, u.UpdatedAt = id, now, now
	return u, nil
}

func (r *UserRepo) ByID(ctx context.Context, id int64) (core.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return core.User{}, notFound(err)
	}
	return u, nil
}

func (r *UserRepo) ByEmail(ctx context.Context, email string) (core.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err != nil {
		return core.User{}, notFound(err)
	}
	return u, nil
}

// ExistsByEmail counts soft-deleted users too, since email stays unique.
func (r *UserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE email = ?", email).Scan(&n); err != nil {
		return false, fmt.Errorf("count users by email: %w", err)
	}
	return n > 0, nil
}

// DeletedByNameAndEmail finds a soft-deleted user for restoration.
func (r *UserRepo) DeletedByNameAndEmail(ctx context.Context, name, email string) (core.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE name = ? AND email = ? AND deleted_at IS NOT NULL", name, email))
	if err != nil {
		return core.User{}, notFound(err)
	}
	return u, nil
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.exec(ctx, "update password",
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?", hash, utc(time.Now()), id)
}

func (r *UserRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, "soft delete user",
		"UPDATE users SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL", utc(at), utc(at), id)
}

// Restore clears deleted_at and sets a new password hash.
func (r *UserRepo) Restore(ctx context.Context, id int64, hash string) error {
	return r.exec(ctx, "restore user",
		"UPDATE users SET deleted_at = NULL, password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NOT NULL",
		hash, utc(time.Now()), id)
}

// ActiveAfter pages through non-deleted users by ascending id.
func (r *UserRepo) ActiveAfter(ctx context.Context, afterID int64, limit int) ([]core.User, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id > ? AND deleted_at IS NULL ORDER BY id LIMIT ?", afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
