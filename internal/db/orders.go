package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

const orderColumns = "id, customer_id, total, status, created_at, updated_at"

type orderRepo struct {
	conn
}

func (r *orderRepo) one(ctx context.Context, op, where string, args ...any) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE " + where + " LIMIT 1" + r.forUpdate()
	var o models.Order
	err := r.queryRow(ctx, "orders", query, args, &o.ID, &o.CustomerID, &o.Total, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if op == "orders.FindCart" {
			return nil, apperr.NotFound(op, "Cart not found")
		}
		return nil, apperr.NotFound(op, "Order not found")
	}
	if err != nil {
		return nil, classify(op, err)
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) items(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	query := "SELECT product_id, quantity FROM order_items WHERE order_id = ? ORDER BY position"
	rows, err := r.query(ctx, "order_items", query, orderID)
	if err != nil {
		return nil, classify("orders.items", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *orderRepo) writeItems(ctx context.Context, o *models.Order) error {
	if _, err := r.exec(ctx, "DELETE", "order_items", "DELETE FROM order_items WHERE order_id = ?", o.ID); err != nil {
		return classify("orders.writeItems", err)
	}
	query := "INSERT INTO order_items (order_id, product_id, quantity, position) VALUES (?, ?, ?, ?)"
	for i, it := range o.Items {
		if _, err := r.exec(ctx, "INSERT", "order_items", query, o.ID, it.ProductID, it.Quantity, i); err != nil {
			return classify("orders.writeItems", err)
		}
	}
	return nil
}

func (r *orderRepo) FindCart(ctx context.Context, customerID int64) (*models.Order, error) {
	return r.one(ctx, "orders.FindCart", "customer_id = ? AND status = ?", customerID, models.OrderCart)
}

func (r *orderRepo) Get(ctx context.Context, id int64) (*models.Order, error) {
	return r.one(ctx, "orders.Get", "id = ?", id)
}

func (r *orderRepo) Create(ctx context.Context, o *models.Order) error {
	query := "INSERT INTO orders (customer_id, total, status) VALUES (?, ?, ?)"
	res, err := r.exec(ctx, "INSERT", "orders", query, o.CustomerID, o.Total, o.Status)
	if err != nil {
		err = classify("orders.Create", err)
		if apperr.IsConflict(err) && o.Status == models.OrderCart {
			return apperr.Conflict("orders.Create", "Customer already has a cart")
		}
		return err
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get order ID: %w", err)
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	return r.writeItems(ctx, o)
}

func (r *orderRepo) Update(ctx context.Context, o *models.Order) error {
	query := "UPDATE orders SET total = ?, status = ? WHERE id = ?"
	if _, err := r.exec(ctx, "UPDATE", "orders", query, o.Total, o.Status, o.ID); err != nil {
		return classify("orders.Update", err)
	}
	o.UpdatedAt = time.Now().UTC()
	return r.writeItems(ctx, o)
}

func (r *orderRepo) ListByCustomer(ctx context.Context, customerID int64) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE customer_id = ? AND status <> ? ORDER BY created_at DESC, id DESC"
	rows, err := r.query(ctx, "orders", query, customerID, models.OrderCart)
	if err != nil {
		return nil, classify("orders.ListByCustomer", err)
	}

	orders := []models.Order{}
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Total, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if orders[i].Items, err = r.items(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

const tradeColumns = "id, farmer_id, buyer_id, product_id, order_id, quantity, amount, status, created_at, updated_at"

type tradeRepo struct {
	conn
}

func scanTrade(row scanner) (*models.Trade, error) {
	var t models.Trade
	var buyer, order sql.NullInt64
	if err := row.Scan(&t.ID, &t.FarmerID, &buyer, &t.ProductID, &order, &t.Quantity, &t.Amount, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if buyer.Valid {
		t.BuyerID = &buyer.Int64
	}
	if order.Valid {
		t.OrderID = &order.Int64
	}
	return &t, nil
}

func (r *tradeRepo) Create(ctx context.Context, t *models.Trade) error {
	query := "INSERT INTO trades (farmer_id, buyer_id, product_id, order_id, quantity, amount, status) VALUES (?, ?, ?, ?, ?, ?, ?)"
	res, err := r.exec(ctx, "INSERT", "trades", query, t.FarmerID, t.BuyerID, t.ProductID, t.OrderID, t.Quantity, t.Amount, t.Status)
	if err != nil {
		return classify("trades.Create", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get trade ID: %w", err)
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (r *tradeRepo) Get(ctx context.Context, id int64) (*models.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades WHERE id = ?" + r.forUpdate()
	start := time.Now()
	t, err := scanTrade(r.q.QueryRowContext(ctx, query, id))
	r.metrics.RecordDBQuery(ctx, "SELECT", "trades", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("trades.Get", "Trade not found")
	}
	if err != nil {
		return nil, classify("trades.Get", err)
	}
	return t, nil
}

func (r *tradeRepo) UpdateStatus(ctx context.Context, id int64, status models.TradeStatus) error {
	res, err := r.exec(ctx, "UPDATE", "trades", "UPDATE trades SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return classify("trades.UpdateStatus", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *tradeRepo) list(ctx context.Context, op, where string, arg any) ([]models.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades WHERE " + where + " ORDER BY created_at DESC, id DESC"
	rows, err := r.query(ctx, "trades", query, arg)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	trades := []models.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (r *tradeRepo) ListByFarmer(ctx context.Context, farmerID int64) ([]models.Trade, error) {
	return r.list(ctx, "trades.ListByFarmer", "farmer_id = ?", farmerID)
}

func (r *tradeRepo) ListByBuyer(ctx context.Context, buyerID int64) ([]models.Trade, error) {
	return r.list(ctx, "trades.ListByBuyer", "buyer_id = ?", buyerID)
}

func (r *tradeRepo) ListByOrder(ctx context.Context, orderID int64) ([]models.Trade, error) {
	return r.list(ctx, "trades.ListByOrder", "order_id = ?", orderID)
}

func (r *tradeRepo) CountByProduct(ctx context.Context, productID int64) (int, error) {
	var n int
	if err := r.queryRow(ctx, "trades", "SELECT COUNT(*) FROM trades WHERE product_id = ?", []any{productID}, &n); err != nil {
		return 0, classify("trades.CountByProduct", err)
	}
	return n, nil
}
