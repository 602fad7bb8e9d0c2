package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-sql-driver/mysql"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/store"
)

// MySQL error numbers mapped to domain kinds
const (
	errDupEntry          = 1062
	errLockWaitTimeout   = 1205
	errDeadlock          = 1213
	errRowIsReferenced   = 1451
	errNoReferencedRow   = 1452
	errCheckConstraint   = 3819
	maxDeadlockRetries   = 3
	deadlockRetryBackoff = 50 * time.Millisecond
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn is the shared state of every repository: the connection or
// transaction to run on and whether single-row reads lock the row.
type conn struct {
	q       querier
	metrics *metrics.AppMetrics
	lock    bool
}

func (c conn) forUpdate() string {
	if c.lock {
		return " FOR UPDATE"
	}
	return ""
}

// Store is the MySQL implementation of store.Store
type Store struct {
	db *DB
	conn
}

// NewStore creates a store over database
func NewStore(database *DB, m *metrics.AppMetrics) *Store {
	return &Store{
		db:   database,
		conn: conn{q: database.DB, metrics: m},
	}
}

func (s *Store) Products() store.ProductRepository { return &productRepo{s.conn} }
func (s *Store) Orders() store.OrderRepository     { return &orderRepo{s.conn} }
func (s *Store) Trades() store.TradeRepository     { return &tradeRepo{s.conn} }
func (s *Store) Expenses() store.ExpenseRepository { return &expenseRepo{s.conn} }
func (s *Store) Users() store.UserRepository       { return &userRepo{s.conn} }

// WithTx runs fn in a transaction whose reads lock the rows they return.
// A transaction aborted by a deadlock is retried.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	attempt := func() (struct{}, error) {
		err := s.runTx(ctx, fn)
		if err != nil && !isDeadlock(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			log.Printf("[DB] transaction deadlocked, retrying: %v", err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(deadlockRetryBackoff)),
		backoff.WithMaxTries(maxDeadlockRetries),
	)
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("db.BeginTx", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{conn{q: tx, metrics: s.metrics, lock: true}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("db.Commit", err)
	}
	return nil
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Unavailable("db.Ping", "Database unavailable", 0, err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	conn
}

func (t *sqlTx) Products() store.ProductRepository { return &productRepo{t.conn} }
func (t *sqlTx) Orders() store.OrderRepository     { return &orderRepo{t.conn} }
func (t *sqlTx) Trades() store.TradeRepository     { return &tradeRepo{t.conn} }
func (t *sqlTx) Expenses() store.ExpenseRepository { return &expenseRepo{t.conn} }
func (t *sqlTx) Users() store.UserRepository       { return &userRepo{t.conn} }

// exec runs a statement and records its metrics
func (c conn) exec(ctx context.Context, op, table, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := c.q.ExecContext(ctx, query, args...)
	c.metrics.RecordDBQuery(ctx, op, table, query, start, err == nil)
	return res, err
}

// query runs a row-returning statement and records its metrics
func (c conn) query(ctx context.Context, table, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := c.q.QueryContext(ctx, query, args...)
	c.metrics.RecordDBQuery(ctx, "SELECT", table, query, start, err == nil)
	return rows, err
}

// queryRow runs a single-row statement; the scan error is recorded.
func (c conn) queryRow(ctx context.Context, table, query string, args []any, dest ...any) error {
	start := time.Now()
	err := c.q.QueryRowContext(ctx, query, args...).Scan(dest...)
	c.metrics.RecordDBQuery(ctx, "SELECT", table, query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	return err
}

// classify maps driver errors onto apperr kinds
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDupEntry:
			return apperr.Wrap(op, apperr.ErrConflict, err, "Duplicate entry")
		case errRowIsReferenced, errNoReferencedRow:
			return apperr.Wrap(op, apperr.ErrConflict, err, "Referenced record constraint violated")
		case errCheckConstraint:
			return apperr.Wrap(op, apperr.ErrConflict, err, "Constraint violated")
		case errDeadlock, errLockWaitTimeout:
			return apperr.Unavailable(op, "Database busy, please retry", 1, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return apperr.Unavailable(op, "Database unavailable", 0, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isDeadlock(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDeadlock
}

var _ store.Store = (*Store)(nil)
