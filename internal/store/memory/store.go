// Package memory is an in-process implementation of store.Store used for
// local development and tests. A transaction works on a copy of the whole
// state and publishes it only when the callback succeeds.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/store"
)

type tokenEntry struct {
	userID    int64
	expiresAt time.Time
}

type state struct {
	seq      map[string]int64
	products map[int64]models.Product
	reviews  map[int64][]models.Review
	orders   map[int64]models.Order
	trades   map[int64]models.Trade
	expenses map[int64]models.Expense
	users    map[int64]models.User
	tokens   map[string]tokenEntry
}

func newState() *state {
	return &state{
		seq:      make(map[string]int64),
		products: make(map[int64]models.Product),
		reviews:  make(map[int64][]models.Review),
		orders:   make(map[int64]models.Order),
		trades:   make(map[int64]models.Trade),
		expenses: make(map[int64]models.Expense),
		users:    make(map[int64]models.User),
		tokens:   make(map[string]tokenEntry),
	}
}

// clone copies the maps. Values are never mutated in place, so sharing
// them between the copies is safe.
func (s *state) clone() *state {
	return &state{
		seq:      maps.Clone(s.seq),
		products: maps.Clone(s.products),
		reviews:  maps.Clone(s.reviews),
		orders:   maps.Clone(s.orders),
		trades:   maps.Clone(s.trades),
		expenses: maps.Clone(s.expenses),
		users:    maps.Clone(s.users),
		tokens:   maps.Clone(s.tokens),
	}
}

func (s *state) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// runner executes fn against the state visible to a repository.
type runner func(ctx context.Context, fn func(st *state) error) error

// Store is a mutex-guarded in-memory store
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty store
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) Products() store.ProductRepository { return &productRepo{run: s.run} }
func (s *Store) Orders() store.OrderRepository     { return &orderRepo{run: s.run} }
func (s *Store) Trades() store.TradeRepository     { return &tradeRepo{run: s.run} }
func (s *Store) Expenses() store.ExpenseRepository { return &expenseRepo{run: s.run} }
func (s *Store) Users() store.UserRepository       { return &userRepo{run: s.run} }

// WithTx serialises fn against every other store access.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memTx{st: snapshot}); err != nil {
		return err
	}
	s.st = snapshot
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op
func (s *Store) Close() error { return nil }

type memTx struct {
	st *state
}

func (t *memTx) run(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(t.st)
}

func (t *memTx) Products() store.ProductRepository { return &productRepo{run: t.run} }
func (t *memTx) Orders() store.OrderRepository     { return &orderRepo{run: t.run} }
func (t *memTx) Trades() store.TradeRepository     { return &tradeRepo{run: t.run} }
func (t *memTx) Expenses() store.ExpenseRepository { return &expenseRepo{run: t.run} }
func (t *memTx) Users() store.UserRepository       { return &userRepo{run: t.run} }

var _ store.Store = (*Store)(nil)
