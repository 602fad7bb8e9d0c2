package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

const productColumns = "id, farmer_id, name, description, price, category, images, stock, location, harvest_date, organic, rating, created_at, updated_at"

// sortColumns whitelists catalog sort keys
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"price":     "price",
	"rating":    "rating",
	"name":      "name",
	"stock":     "stock",
}

type productRepo struct {
	conn
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*models.Product, error) {
	var p models.Product
	var images []byte
	var harvest sql.NullTime
	if err := row.Scan(&p.ID, &p.FarmerID, &p.Name, &p.Description, &p.Price, &p.Category, &images,
		&p.Stock, &p.Location, &harvest, &p.Organic, &p.Rating, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Images = []models.Image{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return nil, fmt.Errorf("failed to decode product images: %w", err)
		}
	}
	if harvest.Valid {
		t := harvest.Time
		p.HarvestDate = &t
	}
	return &p, nil
}

func encodeImages(images []models.Image) ([]byte, error) {
	if images == nil {
		images = []models.Image{}
	}
	return json.Marshal(images)
}

func (r *productRepo) Create(ctx context.Context, p *models.Product) error {
	images, err := encodeImages(p.Images)
	if err != nil {
		return err
	}
	query := `INSERT INTO products (farmer_id, name, description, price, category, images, stock, location, harvest_date, organic)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.exec(ctx, "INSERT", "products", query,
		p.FarmerID, p.Name, p.Description, p.Price, p.Category, images, p.Stock, p.Location, p.HarvestDate, p.Organic)
	if err != nil {
		return classify("products.Create", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get product ID: %w", err)
	}

	created, err := r.get(ctx, p.ID)
	if err != nil {
		return err
	}
	p.CreatedAt, p.UpdatedAt = created.CreatedAt, created.UpdatedAt
	return nil
}

func (r *productRepo) get(ctx context.Context, id int64) (*models.Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE id = ?" + r.forUpdate()
	start := time.Now()
	p, err := scanProduct(r.q.QueryRowContext(ctx, query, id))
	r.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("products.Get", "Product not found")
	}
	if err != nil {
		return nil, classify("products.Get", err)
	}
	return p, nil
}

func (r *productRepo) Get(ctx context.Context, id int64) (*models.Product, error) {
	p, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, product_id, user_id, rating, comment, created_at FROM reviews WHERE product_id = ? ORDER BY created_at, id"
	rows, err := r.query(ctx, "reviews", query, id)
	if err != nil {
		return nil, classify("products.Get", err)
	}
	defer rows.Close()

	p.Reviews = []models.Review{}
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.ID, &rv.ProductID, &rv.UserID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		p.Reviews = append(p.Reviews, rv)
	}
	return p, rows.Err()
}

// buildProductWhere renders the filter as a WHERE clause and its args
func buildProductWhere(f models.ProductFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.MinPrice != nil {
		conds = append(conds, "price >= ?")
		args = append(args, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		conds = append(conds, "price <= ?")
		args = append(args, *f.MaxPrice)
	}
	if f.Organic != nil {
		conds = append(conds, "organic = ?")
		args = append(args, *f.Organic)
	}
	if f.FarmerID != 0 {
		conds = append(conds, "farmer_id = ?")
		args = append(args, f.FarmerID)
	}
	if f.InStock {
		conds = append(conds, "stock > 0")
	}
	if f.Search != "" {
		like := "%" + escapeLike(f.Search) + "%"
		conds = append(conds, "(name LIKE ? OR description LIKE ?)")
		args = append(args, like, like)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func (r *productRepo) List(ctx context.Context, f models.ProductFilter) ([]models.Product, int, error) {
	where, args := buildProductWhere(f)

	var total int
	countQuery := "SELECT COUNT(*) FROM products" + where
	if err := r.queryRow(ctx, "products", countQuery, args, &total); err != nil {
		return nil, 0, classify("products.List", err)
	}

	column, ok := sortColumns[f.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if f.SortOrder == "asc" {
		direction = "ASC"
	}
	offset := (f.Page - 1) * f.Limit
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s FROM products%s ORDER BY %s %s, id %s",
		productColumns, where, column, direction, direction)
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, offset)
	}
	rows, err := r.query(ctx, "products", query, args...)
	if err != nil {
		return nil, 0, classify("products.List", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}
	return products, total, rows.Err()
}

func (r *productRepo) Update(ctx context.Context, p *models.Product) error {
	images, err := encodeImages(p.Images)
	if err != nil {
		return err
	}
	query := `UPDATE products SET name = ?, description = ?, price = ?, category = ?, images = ?, stock = ?,
		location = ?, harvest_date = ?, organic = ? WHERE id = ?`
	res, err := r.exec(ctx, "UPDATE", "products", query,
		p.Name, p.Description, p.Price, p.Category, images, p.Stock, p.Location, p.HarvestDate, p.Organic, p.ID)
	if err != nil {
		return classify("products.Update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Zero rows also means "unchanged"; only a missing row is an error.
		if _, err := r.get(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *productRepo) Delete(ctx context.Context, id int64) error {
	query := "DELETE FROM products WHERE id = ?"
	res, err := r.exec(ctx, "DELETE", "products", query, id)
	if err != nil {
		err = classify("products.Delete", err)
		if apperr.IsConflict(err) {
			return apperr.Conflict("products.Delete", "Product has trade history and cannot be deleted")
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("products.Delete", "Product not found")
	}
	return nil
}

// AdjustStock applies delta as a conditional update so concurrent writers
// can never drive stock below zero.
func (r *productRepo) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	if delta != 0 {
		query := "UPDATE products SET stock = stock + ? WHERE id = ? AND stock + ? >= 0"
		res, err := r.exec(ctx, "UPDATE", "products", query, delta, id, delta)
		if err != nil {
			return 0, classify("products.AdjustStock", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			stock, err := r.stock(ctx, id)
			if err != nil {
				return 0, err
			}
			return 0, apperr.InsufficientStock("products.AdjustStock", stock, -delta)
		}
	}
	return r.stock(ctx, id)
}

func (r *productRepo) stock(ctx context.Context, id int64) (int, error) {
	var stock int
	err := r.queryRow(ctx, "products", "SELECT stock FROM products WHERE id = ?", []any{id}, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("products.AdjustStock", "Product not found")
	}
	if err != nil {
		return 0, classify("products.AdjustStock", err)
	}
	return stock, nil
}

func (r *productRepo) AddReview(ctx context.Context, rv *models.Review) error {
	query := "INSERT INTO reviews (product_id, user_id, rating, comment) VALUES (?, ?, ?, ?)"
	res, err := r.exec(ctx, "INSERT", "reviews", query, rv.ProductID, rv.UserID, rv.Rating, rv.Comment)
	if err != nil {
		err = classify("products.AddReview", err)
		if apperr.IsConflict(err) {
			return apperr.NotFound("products.AddReview", "Product not found")
		}
		return err
	}
	if rv.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get review ID: %w", err)
	}
	rv.CreatedAt = time.Now().UTC()

	ratingQuery := "UPDATE products SET rating = (SELECT AVG(rating) FROM reviews WHERE product_id = ?) WHERE id = ?"
	if _, err := r.exec(ctx, "UPDATE", "products", ratingQuery, rv.ProductID, rv.ProductID); err != nil {
		return classify("products.AddReview", err)
	}
	return nil
}
