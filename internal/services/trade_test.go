package services

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

func TestUpdateStatus_CompleteThenPendingKeepsStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, farmerID, "10", 5)
	res := f.checkout(t, customerID, p, 2)
	tradeID := res.Trades[0].ID

	before := f.stock(t, p.ID)
	assert.Equal(t, 3, before)

	tr, err := f.trades.UpdateStatus(f.ctx, farmerID, tradeID, models.TradeCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.TradeCompleted, tr.Status)
	assert.Equal(t, before, f.stock(t, p.ID))

	order, err := f.store.Orders().Get(f.ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)

	_, err = f.trades.UpdateStatus(f.ctx, farmerID, tradeID, models.TradePending)
	require.NoError(t, err)
	assert.Equal(t, before, f.stock(t, p.ID))

	order, err = f.store.Orders().Get(f.ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
}

func TestUpdateStatus_CancelReleasesAndReconfirmReserves(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, farmerID, "10", 5)
	res := f.checkout(t, customerID, p, 2)
	tradeID := res.Trades[0].ID

	_, err := f.trades.UpdateStatus(f.ctx, farmerID, tradeID, models.TradeCancelled)
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(t, p.ID))

	order, err := f.store.Orders().Get(f.ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, order.Status)

	f.setStock(t, p, 1)
	_, err = f.trades.UpdateStatus(f.ctx, farmerID, tradeID, models.TradeCompleted)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)

	tr, err := f.store.Trades().Get(f.ctx, tradeID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeCancelled, tr.Status)
	assert.Equal(t, 1, f.stock(t, p.ID))

	f.setStock(t, p, 4)
	_, err = f.trades.UpdateStatus(f.ctx, farmerID, tradeID, models.TradeCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, f.stock(t, p.ID))
}

func TestUpdateStatus_OrderFollowsAllTrades(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, farmerID, "10", 5)
	q := f.product(t, farmerID, "4", 5)

	_, err := f.carts.AddItem(f.ctx, customerID, p.ID, 1)
	require.NoError(t, err)
	_, err = f.carts.AddItem(f.ctx, customerID, q.ID, 1)
	require.NoError(t, err)
	res, err := f.carts.Checkout(f.ctx, customerID)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	orderStatus := func() models.OrderStatus {
		o, err := f.store.Orders().Get(f.ctx, res.Order.ID)
		require.NoError(t, err)
		return o.Status
	}

	_, err = f.trades.UpdateStatus(f.ctx, farmerID, res.Trades[0].ID, models.TradeCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, orderStatus())

	_, err = f.trades.UpdateStatus(f.ctx, farmerID, res.Trades[1].ID, models.TradeCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, orderStatus())
}

func TestUpdateStatus_Errors(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, farmerID, "10", 5)
	res := f.checkout(t, customerID, p, 1)
	tradeID := res.Trades[0].ID

	_, err := f.trades.UpdateStatus(f.ctx, otherID, tradeID, models.TradeCompleted)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.trades.UpdateStatus(f.ctx, farmerID, 999, models.TradeCompleted)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.trades.UpdateStatus(f.ctx, farmerID, tradeID, "shipped")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	tr, err := f.trades.UpdateStatus(f.ctx, farmerID, tradeID, models.TradePending)
	require.NoError(t, err)
	assert.Equal(t, models.TradePending, tr.Status)
	assert.Equal(t, 4, f.stock(t, p.ID))
}

func TestCreateTrade(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, farmerID, "2.5", 5)
	buyer := customerID

	_, err := f.trades.Create(f.ctx, farmerID, TradeInput{ProductID: p.ID, Quantity: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	negative := decimal.NewFromInt(-1)
	_, err = f.trades.Create(f.ctx, farmerID, TradeInput{ProductID: p.ID, Quantity: 1, Amount: &negative})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.trades.Create(f.ctx, otherID, TradeInput{ProductID: p.ID, Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.trades.Create(f.ctx, farmerID, TradeInput{ProductID: p.ID, Quantity: 6})
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 5, f.stock(t, p.ID))

	tr, err := f.trades.Create(f.ctx, farmerID, TradeInput{ProductID: p.ID, BuyerID: &buyer, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "5", tr.Amount.String())
	assert.Equal(t, models.TradePending, tr.Status)
	assert.Nil(t, tr.OrderID)
	assert.Equal(t, 3, f.stock(t, p.ID))

	agreed := decimal.RequireFromString("4.75")
	tr, err = f.trades.Create(f.ctx, farmerID, TradeInput{ProductID: p.ID, Quantity: 1, Amount: &agreed})
	require.NoError(t, err)
	assert.True(t, agreed.Equal(tr.Amount))

	trades, err := f.trades.List(f.ctx, farmerID)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	bought, err := f.trades.ListForBuyer(f.ctx, buyer)
	require.NoError(t, err)
	assert.Len(t, bought, 1)
}

// Stock plus the quantity held by pending and completed trades stays equal
// to the listed stock, and stock never goes negative, whatever sequence of
// cart and trade operations runs.
func TestStockAccounting_RandomOperations(t *testing.T) {
	f := newFixture(t)
	const listed = 20
	p := f.product(t, farmerID, "3", listed)
	rng := rand.New(rand.NewSource(7))
	statuses := []models.TradeStatus{models.TradePending, models.TradeCompleted, models.TradeCancelled}

	for i := range 300 {
		customer := customerID + int64(rng.Intn(4))
		switch rng.Intn(5) {
		case 0:
			_, _ = f.carts.AddItem(f.ctx, customer, p.ID, 1+rng.Intn(3))
		case 1:
			_, _ = f.carts.UpdateQuantity(f.ctx, customer, p.ID, 1+rng.Intn(6))
		case 2:
			_, _ = f.carts.Checkout(f.ctx, customer)
		default:
			trades, err := f.trades.List(f.ctx, farmerID)
			require.NoError(t, err)
			if len(trades) > 0 {
				tr := trades[rng.Intn(len(trades))]
				_, _ = f.trades.UpdateStatus(f.ctx, farmerID, tr.ID, statuses[rng.Intn(len(statuses))])
			}
		}

		stock := f.stock(t, p.ID)
		require.GreaterOrEqual(t, stock, 0, "step %d", i)

		trades, err := f.trades.List(f.ctx, farmerID)
		require.NoError(t, err)
		held := 0
		for _, tr := range trades {
			if tr.Status.HoldsStock() {
				held += tr.Quantity
			}
		}
		require.Equal(t, listed, stock+held, "step %d", i)
	}
}

func TestDeriveOrderStatus(t *testing.T) {
	trades := func(statuses ...models.TradeStatus) []models.Trade {
		out := make([]models.Trade, len(statuses))
		for i, s := range statuses {
			out[i].Status = s
		}
		return out
	}

	assert.Equal(t, models.OrderPending, deriveOrderStatus(trades(models.TradePending, models.TradeCompleted)))
	assert.Equal(t, models.OrderCompleted, deriveOrderStatus(trades(models.TradeCompleted, models.TradeCompleted)))
	assert.Equal(t, models.OrderCompleted, deriveOrderStatus(trades(models.TradeCompleted, models.TradeCancelled)))
	assert.Equal(t, models.OrderCancelled, deriveOrderStatus(trades(models.TradeCancelled)))
}
