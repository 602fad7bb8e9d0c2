package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

type orderRepo struct {
	run runner
}

func copyOrder(o models.Order) models.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

func (r *orderRepo) FindCart(ctx context.Context, customerID int64) (*models.Order, error) {
	var out *models.Order
	err := r.run(ctx, func(st *state) error {
		for _, o := range st.orders {
			if o.CustomerID == customerID && o.Status == models.OrderCart {
				c := copyOrder(o)
				out = &c
				return nil
			}
		}
		return apperr.NotFound("orders.FindCart", "Cart not found")
	})
	return out, err
}

func (r *orderRepo) Get(ctx context.Context, id int64) (*models.Order, error) {
	var out models.Order
	err := r.run(ctx, func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return apperr.NotFound("orders.Get", "Order not found")
		}
		out = copyOrder(o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *orderRepo) Create(ctx context.Context, o *models.Order) error {
	return r.run(ctx, func(st *state) error {
		if o.Status == models.OrderCart {
			for _, existing := range st.orders {
				if existing.CustomerID == o.CustomerID && existing.Status == models.OrderCart {
					return apperr.Conflict("orders.Create", "Customer already has a cart")
				}
			}
		}
		now := time.Now().UTC()
		o.ID = st.nextID("orders")
		o.CreatedAt, o.UpdatedAt = now, now
		st.orders[o.ID] = copyOrder(*o)
		return nil
	})
}

func (r *orderRepo) Update(ctx context.Context, o *models.Order) error {
	return r.run(ctx, func(st *state) error {
		existing, ok := st.orders[o.ID]
		if !ok {
			return apperr.NotFound("orders.Update", "Order not found")
		}
		existing.Items = slices.Clone(o.Items)
		existing.Total = o.Total
		existing.Status = o.Status
		existing.UpdatedAt = time.Now().UTC()
		st.orders[o.ID] = existing
		o.UpdatedAt = existing.UpdatedAt
		return nil
	})
}

func (r *orderRepo) ListByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	var out []models.Order
	err := r.run(ctx, func(st *state) error {
		for _, o := range st.orders {
			if o.CustomerID == customerID && o.Status != models.OrderCart {
				out = append(out, copyOrder(o))
			}
		}
		slices.SortFunc(out, func(a, b models.Order) int {
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(b.ID, a.ID)
		})
		return nil
	})
	return out, err
}

type tradeRepo struct {
	run runner
}

func (r *tradeRepo) Create(ctx context.Context, t *models.Trade) error {
	return r.run(ctx, func(st *state) error {
		if _, ok := st.products[t.ProductID]; !ok {
			return apperr.NotFound("trades.Create", "Product not found")
		}
		now := time.Now().UTC()
		t.ID = st.nextID("trades")
		t.CreatedAt, t.UpdatedAt = now, now
		st.trades[t.ID] = *t
		return nil
	})
}

func (r *tradeRepo) Get(ctx context.Context, id int64) (*models.Trade, error) {
	var out models.Trade
	err := r.run(ctx, func(st *state) error {
		t, ok := st.trades[id]
		if !ok {
			return apperr.NotFound("trades.Get", "Trade not found")
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *tradeRepo) UpdateStatus(ctx context.Context, id int64, status models.TradeStatus) error {
	return r.run(ctx, func(st *state) error {
		t, ok := st.trades[id]
		if !ok {
			return apperr.NotFound("trades.UpdateStatus", "Trade not found")
		}
		t.Status = status
		t.UpdatedAt = time.Now().UTC()
		st.trades[id] = t
		return nil
	})
}

func (r *tradeRepo) list(ctx context.Context, keep func(models.Trade) bool) ([]models.Trade, error) {
	var out []models.Trade
	err := r.run(ctx, func(st *state) error {
		for _, t := range st.trades {
			if keep(t) {
				out = append(out, t)
			}
		}
		slices.SortFunc(out, func(a, b models.Trade) int {
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return cmp.Compare(b.ID, a.ID)
		})
		return nil
	})
	return out, err
}

func (r *tradeRepo) ListByFarmer(ctx context.Context, farmerID int64) ([]models.Trade, error) {
	return r.list(ctx, func(t models.Trade) bool { return t.FarmerID == farmerID })
}

func (r *tradeRepo) ListByBuyer(ctx context.Context, buyerID int64) ([]models.Trade, error) {
	return r.list(ctx, func(t models.Trade) bool { return t.BuyerID != nil && *t.BuyerID == buyerID })
}

func (r *tradeRepo) ListByOrder(ctx context.Context, orderID int64) ([]models.Trade, error) {
	return r.list(ctx, func(t models.Trade) bool { return t.OrderID != nil && *t.OrderID == orderID })
}

func (r *tradeRepo) CountByProduct(ctx context.Context, productID int64) (int, error) {
	trades, err := r.list(ctx, func(t models.Trade) bool { return t.ProductID == productID })
	return len(trades), err
}
