// Package storage persists the budget domain in MySQL or SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config selects the database and its pool.
type Config struct {
	Driver  string
	DSN     string
	MaxOpen int
	MaxIdle int
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repos groups every repository over one Querier.
type Repos struct {
	Users            *UserRepo
	Cards            *CardRepo
	Categories       *CategoryRepo
	Transactions     *TransactionRepo
	CardTransactions *CardTransactionRepo
	Reports          *ReportRepo
	DeadLetters      *DeadLetterRepo
	Executions       *ExecutionRepo
}

func newRepos(q Querier, driver string) *Repos {
	money := newMoneyCodec(driver)
	return &Repos{
		Users:            &UserRepo{q: q},
		Cards:            &CardRepo{q: q},
		Categories:       &CategoryRepo{q: q},
		Transactions:     &TransactionRepo{q: q, money: money},
		CardTransactions: &CardTransactionRepo{q: q, money: money},
		Reports:          &ReportRepo{q: q},
		DeadLetters:      &DeadLetterRepo{q: q},
		Executions:       &ExecutionRepo{q: q},
	}
}

// DB is an open, migrated database.
type DB struct {
	*sql.DB
	driver string
	dsn    string
	repos  *Repos
}

// Open connects, configures the pool and runs pending migrations.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn, err := normalizeDSN(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	switch cfg.Driver {
	case DriverSQLite:
		// one writer at a time; see InTx
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	default:
		maxOpen, maxIdle := cfg.MaxOpen, cfg.MaxIdle
		if maxOpen <= 0 {
			maxOpen = 25
		}
		if maxIdle <= 0 {
			maxIdle = 5
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxIdle)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
		sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{DB: sqlDB, driver: cfg.Driver, dsn: dsn}
	if err := db.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	db.repos = newRepos(sqlDB, cfg.Driver)
	return db, nil
}

// Driver returns the driver name the database was opened with.
func (db *DB) Driver() string { return db.driver }

// Repos returns repositories bound to the connection pool.
func (db *DB) Repos() *Repos { return db.repos }

// InTx runs fn inside a transaction, committing when fn returns nil.
// With SQLite only the repos passed to fn may be used until it returns.
func (db *DB) InTx(ctx context.Context, fn func(r *Repos) error) error {
	return withTx(ctx, db.DB, func(q Querier) error {
		return fn(newRepos(q, db.driver))
	})
}

// withTx runs fn in a new transaction when q is the pool and directly on q
// when it already is one.
func withTx(ctx context.Context, q Querier, fn func(q Querier) error) (err error) {
	pool, ok := q.(*sql.DB)
	if !ok {
		return fn(q)
	}
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func normalizeDSN(driver, dsn string) (string, error) {
	switch driver {
	case DriverMySQL:
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		mc.ParseTime = true
		mc.Loc = time.UTC
		return mc.FormatDSN(), nil
	case DriverSQLite:
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if path != "" && path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", fmt.Errorf("create db directory: %w", err)
			}
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// utc normalizes a timestamp before it is written.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
