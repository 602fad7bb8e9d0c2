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

// CartService handles the customer cart and its checkout into trades.
// The cart is the customer's order in status cart.
type CartService struct {
	store   store.Store
	stock   *StockLedger
	cache   *ProductCache
	metrics *metrics.AppMetrics
}

// NewCartService creates a new cart service
func NewCartService(st store.Store, stock *StockLedger, cache *ProductCache, m *metrics.AppMetrics) *CartService {
	return &CartService{
		store:   st,
		stock:   stock,
		cache:   cache,
		metrics: m,
	}
}

func emptyCart() *models.CartView {
	return &models.CartView{
		Items:  []models.CartLine{},
		Total:  decimal.Zero,
		Status: models.OrderCart,
	}
}

// price joins the order lines with current product data and recomputes the
// total. Lines whose product no longer exists are dropped from o.
func price(ctx context.Context, tx store.Tx, o *models.Order) (*models.CartView, map[int64]*models.Product, error) {
	view := emptyCart()
	view.ID = o.ID
	view.Status = o.Status
	products := make(map[int64]*models.Product, len(o.Items))

	kept := o.Items[:0]
	for _, item := range o.Items {
		p, err := tx.Products().Get(ctx, item.ProductID)
		if apperr.IsNotFound(err) {
			log.Printf("[CART] dropping line for deleted product: order=%d product=%d", o.ID, item.ProductID)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		products[p.ID] = p
		kept = append(kept, item)

		subtotal := p.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		view.Items = append(view.Items, models.CartLine{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Images:    p.Images,
			Stock:     p.Stock,
			Quantity:  item.Quantity,
			Subtotal:  subtotal,
		})
		view.Total = view.Total.Add(subtotal)
	}
	o.Items = kept
	o.Total = view.Total
	return view, products, nil
}

func units(o *models.Order) int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// GetCart returns the customer's cart priced at current product prices. A
// customer without a cart gets an empty one.
func (s *CartService) GetCart(ctx context.Context, customerID int64) (*models.CartView, error) {
	var view *models.CartView
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.Orders().FindCart(ctx, customerID)
		if apperr.IsNotFound(err) {
			view = emptyCart()
			return nil
		}
		if err != nil {
			return err
		}

		before := len(cart.Items)
		stored := cart.Total
		view, _, err = price(ctx, tx, cart)
		if err != nil {
			return err
		}
		if len(cart.Items) != before || !stored.Equal(cart.Total) {
			return tx.Orders().Update(ctx, cart)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// AddItem adds quantity units of productID to the cart, creating the cart
// when the customer has none.
func (s *CartService) AddItem(ctx context.Context, customerID, productID int64, quantity int) (*models.CartView, error) {
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return nil, apperr.Invalid("cart.AddItem", "Quantity must be at least 1")
	}

	var (
		view  *models.CartView
		count int
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Products().Get(ctx, productID); err != nil {
			return err
		}

		cart, err := tx.Orders().FindCart(ctx, customerID)
		switch {
		case apperr.IsNotFound(err):
			cart = &models.Order{
				CustomerID: customerID,
				Items:      []models.OrderItem{{ProductID: productID, Quantity: quantity}},
				Status:     models.OrderCart,
			}
			if view, _, err = price(ctx, tx, cart); err != nil {
				return err
			}
			if err := tx.Orders().Create(ctx, cart); err != nil {
				return err
			}
			view.ID = cart.ID
		case err != nil:
			return err
		default:
			if line := cart.Line(productID); line != nil {
				line.Quantity += quantity
			} else {
				cart.Items = append(cart.Items, models.OrderItem{ProductID: productID, Quantity: quantity})
			}
			if view, _, err = price(ctx, tx, cart); err != nil {
				return err
			}
			if err := tx.Orders().Update(ctx, cart); err != nil {
				return err
			}
		}
		count = units(cart)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCartItems(ctx, customerID, count)
	log.Printf("[CART] item added: customer=%d product=%d quantity=%d", customerID, productID, quantity)
	return view, nil
}

// UpdateQuantity sets the quantity of an existing cart line. The quantity
// is checked against current stock but nothing is reserved until checkout.
func (s *CartService) UpdateQuantity(ctx context.Context, customerID, productID int64, quantity int) (*models.CartView, error) {
	const op = "cart.UpdateQuantity"
	if quantity < 1 {
		return nil, apperr.Invalid(op, "Quantity must be at least 1")
	}

	var (
		view  *models.CartView
		count int
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.Products().Get(ctx, productID)
		if err != nil {
			return err
		}
		if quantity > p.Stock {
			return apperr.InsufficientStock(op, p.Stock, quantity)
		}

		cart, err := tx.Orders().FindCart(ctx, customerID)
		if err != nil {
			return err
		}
		line := cart.Line(productID)
		if line == nil {
			return apperr.NotFound(op, "Item not found in cart")
		}
		line.Quantity = quantity

		if view, _, err = price(ctx, tx, cart); err != nil {
			return err
		}
		count = units(cart)
		return tx.Orders().Update(ctx, cart)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCartItems(ctx, customerID, count)
	return view, nil
}

// RemoveItem drops productID from the cart. Removing a line that is not in
// the cart is not an error.
func (s *CartService) RemoveItem(ctx context.Context, customerID, productID int64) (*models.CartView, error) {
	var (
		view  *models.CartView
		count int
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.Orders().FindCart(ctx, customerID)
		if err != nil {
			return err
		}

		kept := cart.Items[:0]
		for _, item := range cart.Items {
			if item.ProductID != productID {
				kept = append(kept, item)
			}
		}
		cart.Items = kept

		if view, _, err = price(ctx, tx, cart); err != nil {
			return err
		}
		count = units(cart)
		return tx.Orders().Update(ctx, cart)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCartItems(ctx, customerID, count)
	return view, nil
}

// Checkout converts every cart line into a pending trade, reserves its stock
// and moves the order to pending. Either every line succeeds or nothing is
// written.
func (s *CartService) Checkout(ctx context.Context, customerID int64) (*models.CheckoutResult, error) {
	const op = "cart.Checkout"

	var (
		result     *models.CheckoutResult
		categories []string
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.Orders().FindCart(ctx, customerID)
		if err != nil {
			return err
		}
		_, products, err := price(ctx, tx, cart)
		if err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return apperr.Invalid(op, "Cart is empty")
		}

		buyer := customerID
		orderID := cart.ID
		trades := make([]models.Trade, 0, len(cart.Items))
		categories = categories[:0]
		for _, item := range cart.Items {
			p := products[item.ProductID]
			if _, err := s.stock.Reserve(ctx, tx, p.ID, item.Quantity); err != nil {
				return err
			}

			t := &models.Trade{
				FarmerID:  p.FarmerID,
				BuyerID:   &buyer,
				ProductID: p.ID,
				OrderID:   &orderID,
				Quantity:  item.Quantity,
				Amount:    p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
				Status:    models.TradePending,
			}
			if err := tx.Trades().Create(ctx, t); err != nil {
				return err
			}
			trades = append(trades, *t)
			categories = append(categories, string(p.Category))
		}

		cart.Status = models.OrderPending
		if err := tx.Orders().Update(ctx, cart); err != nil {
			return err
		}
		order, err := tx.Orders().Get(ctx, cart.ID)
		if err != nil {
			return err
		}
		result = &models.CheckoutResult{Trades: trades, Order: order}
		return nil
	})
	if err != nil {
		log.Printf("[CART] checkout failed: customer=%d error=%v", customerID, err)
		return nil, err
	}

	for i, t := range result.Trades {
		s.cache.Forget(t.ProductID)
		s.metrics.RecordTradeCreated(ctx, categories[i], "checkout")
	}
	s.metrics.RecordCartItems(ctx, customerID, 0)
	s.metrics.RecordCheckout(ctx, len(result.Trades), result.Order.Total.InexactFloat64())
	log.Printf("[CART] checkout complete: customer=%d order=%d trades=%d total=%s",
		customerID, result.Order.ID, len(result.Trades), result.Order.Total)
	return result, nil
}

// ListOrders returns the customer's orders that have left the cart, newest
// first.
func (s *CartService) ListOrders(ctx context.Context, customerID int64) ([]models.Order, error) {
	orders, err := s.store.Orders().ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}
