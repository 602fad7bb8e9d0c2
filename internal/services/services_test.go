package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/greenharvest/harvest-api/internal/auth"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/store/memory"
)

const (
	farmerID   int64 = 1
	otherID    int64 = 2
	customerID int64 = 50
)

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	metrics  *metrics.AppMetrics
	products *ProductService
	carts    *CartService
	trades   *TradeService
	expenses *ExpenseService
	users    *UserService
}

func testMetrics(t *testing.T) *metrics.AppMetrics {
	t.Helper()
	m, err := metrics.NewAppMetrics(noop.NewMeterProvider().Meter("test"), "harvest-api-test")
	require.NoError(t, err)
	return m
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := testMetrics(t)
	st := memory.New()
	products := NewProductService(st, m)
	ledger := NewStockLedger(m)
	return &fixture{
		ctx:      context.Background(),
		store:    st,
		metrics:  m,
		products: products,
		carts:    NewCartService(st, ledger, products.Cache(), m),
		trades:   NewTradeService(st, ledger, products.Cache(), m),
		expenses: NewExpenseService(st),
		users:    NewUserService(st, auth.NewTokenManager("test-secret", time.Hour), m),
	}
}

func tomatoes(price string, stock int) ProductInput {
	return ProductInput{
		Name:     "Tomatoes",
		Price:    decimal.RequireFromString(price),
		Category: models.CategoryVegetables,
		Stock:    stock,
	}
}

func (f *fixture) product(t *testing.T, farmer int64, price string, stock int) *models.Product {
	t.Helper()
	p, err := f.products.CreateProduct(f.ctx, farmer, tomatoes(price, stock))
	require.NoError(t, err)
	return p
}

// stock reads straight from storage, bypassing the product cache
func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, err := f.store.Products().Get(f.ctx, productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) setStock(t *testing.T, p *models.Product, stock int) {
	t.Helper()
	in := tomatoes(p.Price.String(), stock)
	_, err := f.products.UpdateProduct(f.ctx, p.FarmerID, p.ID, in)
	require.NoError(t, err)
}

// checkout puts quantity units of p in customer's cart and checks out
func (f *fixture) checkout(t *testing.T, customer int64, p *models.Product, quantity int) *models.CheckoutResult {
	t.Helper()
	_, err := f.carts.AddItem(f.ctx, customer, p.ID, quantity)
	require.NoError(t, err)
	res, err := f.carts.Checkout(f.ctx, customer)
	require.NoError(t, err)
	return res
}
