// Package postgres implements the ledger on PostgreSQL.
//
// Mutations run at READ COMMITTED. Rows a transaction is about to change are
// read FOR UPDATE, counters are single-statement upserts, and appends to the
// change log and audit chain hold a transaction advisory lock before reading
// the last sequence. Statistics deltas take the change-log lock first and
// then a shared stats lock that reconciliation holds exclusively. Reads use
// read-only REPEATABLE READ snapshots so they never block writers.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"civicq/records-service/internal/store"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

type Ledger struct {
	pool *pgxpool.Pool
}

var _ store.Ledger = (*Ledger)(nil)

func New(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func Open(ctx context.Context, dsn string) (*Ledger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool), nil
}

func (l *Ledger) Close() error {
	l.pool.Close()
	return nil
}

func (l *Ledger) RunInTx(ctx context.Context, fn func(store.Tx) error) (err error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(&txn{view: view{q: tx, lock: forUpdate}}); err != nil {
		return mapError(err, "transaction")
	}
	if err = tx.Commit(ctx); err != nil {
		return mapError(err, "commit")
	}
	return nil
}

func (l *Ledger) View(ctx context.Context, fn func(store.View) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return mapError(err, "begin read")
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return mapError(fn(view{q: tx}), "read")
}

// mapError turns retryable postgres failures into store conflicts. Domain
// errors pass through untouched.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if store.KindOf(err) != "" {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected:
			return store.WrapConflict(err, "%s: concurrent update", op)
		case sqlStateUniqueViolation:
			return store.WrapConflict(err, "%s: %s already exists", op, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// conditions accumulates WHERE clauses with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) add(format string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(format, len(c.args)))
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullIntPtr(value sql.NullInt32) *int {
	if !value.Valid {
		return nil
	}
	n := int(value.Int32)
	return &n
}

func intOrNil(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}
