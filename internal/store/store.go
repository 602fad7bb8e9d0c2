// Package store defines the persistence boundary of the marketplace.
//
// Repositories return errors wrapping the apperr kinds: a missing row is
// apperr.ErrNotFound, a uniqueness or referential violation is
// apperr.ErrConflict and a stock adjustment that would go negative is
// apperr.ErrInsufficientStock.
package store

import (
	"context"
	"time"

	"github.com/greenharvest/harvest-api/internal/models"
)

// ProductRepository persists catalog entries and their reviews
type ProductRepository interface {
	Create(ctx context.Context, p *models.Product) error
	// Get returns the product with its reviews.
	Get(ctx context.Context, id int64) (*models.Product, error)
	// List returns one page of products and the total match count.
	List(ctx context.Context, f models.ProductFilter) ([]models.Product, int, error)
	Update(ctx context.Context, p *models.Product) error
	Delete(ctx context.Context, id int64) error
	// AdjustStock adds delta to the product's stock and returns the new
	// value. It fails without writing when the result would be negative.
	AdjustStock(ctx context.Context, id int64, delta int) (int, error)
	// AddReview stores r and recomputes the product rating as the mean of
	// all its reviews.
	AddReview(ctx context.Context, r *models.Review) error
}

// OrderRepository persists orders, including the per-customer cart
type OrderRepository interface {
	// FindCart returns the customer's cart-status order.
	FindCart(ctx context.Context, customerID int64) (*models.Order, error)
	Get(ctx context.Context, id int64) (*models.Order, error)
	Create(ctx context.Context, o *models.Order) error
	// Update writes items, total and status.
	Update(ctx context.Context, o *models.Order) error
	// ListByCustomer returns the customer's non-cart orders, newest first.
	ListByCustomer(ctx context.Context, customerID int64) ([]models.Order, error)
}

// TradeRepository persists the trade ledger
type TradeRepository interface {
	Create(ctx context.Context, t *models.Trade) error
	Get(ctx context.Context, id int64) (*models.Trade, error)
	UpdateStatus(ctx context.Context, id int64, status models.TradeStatus) error
	ListByFarmer(ctx context.Context, farmerID int64) ([]models.Trade, error)
	ListByBuyer(ctx context.Context, buyerID int64) ([]models.Trade, error)
	ListByOrder(ctx context.Context, orderID int64) ([]models.Trade, error)
	CountByProduct(ctx context.Context, productID int64) (int, error)
}

// ExpenseRepository persists farmer expenses
type ExpenseRepository interface {
	Create(ctx context.Context, e *models.Expense) error
	Get(ctx context.Context, id int64) (*models.Expense, error)
	ListByFarmer(ctx context.Context, farmerID int64) ([]models.Expense, error)
	Update(ctx context.Context, e *models.Expense) error
	Delete(ctx context.Context, id int64) error
}

// UserRepository persists accounts and their issued token ids
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	AddToken(ctx context.Context, userID int64, tokenID string, expiresAt time.Time) error
	HasToken(ctx context.Context, userID int64, tokenID string) (bool, error)
	RemoveToken(ctx context.Context, userID int64, tokenID string) error
}

// Tx gives access to repositories bound to one unit of work
type Tx interface {
	Products() ProductRepository
	Orders() OrderRepository
	Trades() TradeRepository
	Expenses() ExpenseRepository
	Users() UserRepository
}

// Store is the root storage handle. Its own repositories run each call
// independently; WithTx runs fn atomically and rolls back every write when
// fn returns an error.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
