package services

import (
	"context"
	"log"

	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/store"
)

// StockLedger is the only writer of product stock outside catalog edits.
// A trade holds its quantity while pending or completed; a cancelled trade
// holds nothing. All methods run inside the caller's transaction.
type StockLedger struct {
	metrics *metrics.AppMetrics
}

// NewStockLedger creates a stock ledger
func NewStockLedger(m *metrics.AppMetrics) *StockLedger {
	return &StockLedger{metrics: m}
}

// Reserve takes quantity units of productID out of stock. It fails with
// apperr.ErrInsufficientStock without writing when not enough is available.
func (l *StockLedger) Reserve(ctx context.Context, tx store.Tx, productID int64, quantity int) (int, error) {
	return l.adjust(ctx, tx, productID, -quantity)
}

// Release returns quantity units of productID to stock
func (l *StockLedger) Release(ctx context.Context, tx store.Tx, productID int64, quantity int) (int, error) {
	return l.adjust(ctx, tx, productID, quantity)
}

// Transition moves stock for a trade changing from one status to another.
// pending and completed both hold the reservation, so moving between them
// leaves stock untouched.
func (l *StockLedger) Transition(ctx context.Context, tx store.Tx, t *models.Trade, from, to models.TradeStatus) error {
	switch {
	case from.HoldsStock() == to.HoldsStock():
		return nil
	case to.HoldsStock():
		_, err := l.Reserve(ctx, tx, t.ProductID, t.Quantity)
		return err
	default:
		_, err := l.Release(ctx, tx, t.ProductID, t.Quantity)
		return err
	}
}

func (l *StockLedger) adjust(ctx context.Context, tx store.Tx, productID int64, delta int) (int, error) {
	stock, err := tx.Products().AdjustStock(ctx, productID, delta)
	if err != nil {
		return 0, err
	}
	l.metrics.RecordInventory(ctx, productID, stock)
	log.Printf("[STOCK] product=%d delta=%+d stock=%d", productID, delta, stock)
	return stock, nil
}
