package services

import (
	"context"
	"log"

	"github.com/shopspring/decimal"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/store"
)

// TradeInput describes a trade recorded directly by a farmer
type TradeInput struct {
	ProductID int64
	BuyerID   *int64
	Quantity  int
	// Amount defaults to price × quantity when nil.
	Amount *decimal.Decimal
}

// TradeService handles the farmer's trade ledger
type TradeService struct {
	store   store.Store
	stock   *StockLedger
	cache   *ProductCache
	metrics *metrics.AppMetrics
}

// NewTradeService creates a new trade service
func NewTradeService(st store.Store, stock *StockLedger, cache *ProductCache, m *metrics.AppMetrics) *TradeService {
	return &TradeService{
		store:   st,
		stock:   stock,
		cache:   cache,
		metrics: m,
	}
}

// List returns the farmer's trades, newest first
func (s *TradeService) List(ctx context.Context, farmerID int64) ([]models.Trade, error) {
	trades, err := s.store.Trades().ListByFarmer(ctx, farmerID)
	if trades == nil && err == nil {
		trades = []models.Trade{}
	}
	return trades, err
}

// ListForBuyer returns the trades bought by buyerID, newest first
func (s *TradeService) ListForBuyer(ctx context.Context, buyerID int64) ([]models.Trade, error) {
	trades, err := s.store.Trades().ListByBuyer(ctx, buyerID)
	if trades == nil && err == nil {
		trades = []models.Trade{}
	}
	return trades, err
}

// Create records a pending trade for one of the farmer's products and
// reserves its quantity.
func (s *TradeService) Create(ctx context.Context, farmerID int64, in TradeInput) (*models.Trade, error) {
	const op = "trades.Create"
	if in.Quantity < 1 {
		return nil, apperr.Invalid(op, "Quantity must be at least 1")
	}
	if in.Amount != nil && in.Amount.IsNegative() {
		return nil, apperr.Invalid(op, "Amount must be zero or greater")
	}

	var (
		trade    *models.Trade
		category models.Category
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.Products().Get(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if p.FarmerID != farmerID {
			return apperr.NotFound(op, "Product not found")
		}
		if _, err := s.stock.Reserve(ctx, tx, p.ID, in.Quantity); err != nil {
			return err
		}

		amount := p.Price.Mul(decimal.NewFromInt(int64(in.Quantity)))
		if in.Amount != nil {
			amount = *in.Amount
		}
		trade = &models.Trade{
			FarmerID:  farmerID,
			BuyerID:   in.BuyerID,
			ProductID: p.ID,
			Quantity:  in.Quantity,
			Amount:    amount,
			Status:    models.TradePending,
		}
		category = p.Category
		return tx.Trades().Create(ctx, trade)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Forget(trade.ProductID)
	s.metrics.RecordTradeCreated(ctx, string(category), "farmer")
	log.Printf("[TRADE] trade created: id=%d farmer=%d product=%d quantity=%d", trade.ID, farmerID, trade.ProductID, trade.Quantity)
	return trade, nil
}

// UpdateStatus moves a trade to status, adjusting stock through the ledger
// and re-deriving the status of the order it came from, in one
// transaction.
func (s *TradeService) UpdateStatus(ctx context.Context, farmerID, tradeID int64, status models.TradeStatus) (*models.Trade, error) {
	const op = "trades.UpdateStatus"
	if !status.Valid() {
		return nil, apperr.Invalid(op, "Invalid status %q", status)
	}

	var (
		trade *models.Trade
		from  models.TradeStatus
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.Trades().Get(ctx, tradeID)
		if err != nil {
			return err
		}
		if t.FarmerID != farmerID {
			return apperr.NotFound(op, "Trade not found")
		}
		trade, from = t, t.Status
		if from == status {
			return nil
		}

		if err := s.stock.Transition(ctx, tx, t, from, status); err != nil {
			return err
		}
		if err := tx.Trades().UpdateStatus(ctx, t.ID, status); err != nil {
			return err
		}
		if t.OrderID != nil {
			if err := syncOrderStatus(ctx, tx, *t.OrderID); err != nil {
				return err
			}
		}

		trade, err = tx.Trades().Get(ctx, t.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if from == status {
		return trade, nil
	}

	s.cache.Forget(trade.ProductID)
	s.metrics.RecordTradeStatusChange(ctx, string(from), string(status))
	if status == models.TradeCompleted {
		s.metrics.RecordRevenue(ctx, trade.Amount.InexactFloat64())
	}
	log.Printf("[TRADE] status changed: id=%d %s -> %s", trade.ID, from, status)
	return trade, nil
}

// deriveOrderStatus maps the statuses of an order's trades to the order
// status: cancelled when every trade is cancelled, completed when nothing
// is pending and something completed, pending otherwise.
func deriveOrderStatus(trades []models.Trade) models.OrderStatus {
	var pending, completed int
	for _, t := range trades {
		switch t.Status {
		case models.TradePending:
			pending++
		case models.TradeCompleted:
			completed++
		}
	}
	switch {
	case pending > 0:
		return models.OrderPending
	case completed > 0:
		return models.OrderCompleted
	default:
		return models.OrderCancelled
	}
}

func syncOrderStatus(ctx context.Context, tx store.Tx, orderID int64) error {
	trades, err := tx.Trades().ListByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}
	o, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return err
	}
	status := deriveOrderStatus(trades)
	if o.Status == status {
		return nil
	}
	log.Printf("[ORDER] status derived from trades: order=%d %s -> %s", orderID, o.Status, status)
	o.Status = status
	return tx.Orders().Update(ctx, o)
}
