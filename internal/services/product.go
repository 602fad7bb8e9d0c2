package services

import (
	"context"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	productCacheTTL = 5 * time.Minute
)

// ProductCache holds recently read products
type ProductCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
	ttl   time.Duration
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

// NewProductCache creates a cache whose entries live for ttl
func NewProductCache(ttl time.Duration) *ProductCache {
	return &ProductCache{
		items: make(map[int64]cachedProduct),
		ttl:   ttl,
	}
}

func (c *ProductCache) get(id int64) (models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.items[id]
	if !ok || time.Now().After(cached.expires) {
		return models.Product{}, false
	}
	return cached.product, true
}

func (c *ProductCache) put(p models.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[p.ID] = cachedProduct{product: p, expires: time.Now().Add(c.ttl)}
}

// Forget drops ids from the cache. Every write that changes a product
// (including its stock) calls it after commit.
func (c *ProductCache) Forget(ids ...int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.items, id)
	}
}

// ProductInput is the writable part of a product
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Category    models.Category
	Images      []models.Image
	Stock       int
	Location    string
	HarvestDate *time.Time
	Organic     bool
}

func (in ProductInput) validate(op string) error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return apperr.Invalid(op, "Product name is required")
	case in.Price.IsNegative():
		return apperr.Invalid(op, "Price must be zero or greater")
	case in.Stock < 0:
		return apperr.Invalid(op, "Stock must be zero or greater")
	case !in.Category.Valid():
		return apperr.Invalid(op, "Invalid category %q", in.Category)
	}
	return nil
}

func (in ProductInput) apply(p *models.Product) {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Price = in.Price
	p.Category = in.Category
	p.Images = in.Images
	if p.Images == nil {
		p.Images = []models.Image{}
	}
	p.Stock = in.Stock
	p.Location = in.Location
	p.HarvestDate = in.HarvestDate
	p.Organic = in.Organic
}

// ProductService handles catalog operations
type ProductService struct {
	store   store.Store
	metrics *metrics.AppMetrics
	cache   *ProductCache
}

// NewProductService creates a new product service
func NewProductService(st store.Store, m *metrics.AppMetrics) *ProductService {
	return &ProductService{
		store:   st,
		metrics: m,
		cache:   NewProductCache(productCacheTTL),
	}
}

// Cache exposes the product cache so stock writers can invalidate it
func (s *ProductService) Cache() *ProductCache {
	return s.cache
}

// CreateProduct lists a new product owned by farmerID
func (s *ProductService) CreateProduct(ctx context.Context, farmerID int64, in ProductInput) (*models.Product, error) {
	if err := in.validate("products.Create"); err != nil {
		return nil, err
	}
	p := &models.Product{FarmerID: farmerID}
	in.apply(p)

	if err := s.store.Products().Create(ctx, p); err != nil {
		return nil, err
	}
	s.metrics.RecordInventory(ctx, p.ID, p.Stock)
	log.Printf("[CATALOG] product created: id=%d farmer=%d category=%s stock=%d", p.ID, farmerID, p.Category, p.Stock)
	return p, nil
}

// GetProduct returns a product with its reviews
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	if cached, ok := s.cache.get(id); ok {
		s.metrics.RecordCache(ctx, true)
		return &cached, nil
	}
	s.metrics.RecordCache(ctx, false)

	p, err := s.store.Products().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.put(*p)
	return p, nil
}

// ListProducts returns one page of the catalog
func (s *ProductService) ListProducts(ctx context.Context, f models.ProductFilter) (*models.ProductPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	switch f.SortBy {
	case "createdAt", "price", "rating", "name", "stock":
	case "":
		f.SortBy = "createdAt"
	default:
		return nil, apperr.Invalid("products.List", "Invalid sortBy %q", f.SortBy)
	}
	if f.SortOrder != "asc" {
		f.SortOrder = "desc"
	}
	if f.Category != "" && !f.Category.Valid() {
		return nil, apperr.Invalid("products.List", "Invalid category %q", f.Category)
	}

	// Pages past the offset range are empty; the store never sees an
	// overflowing offset.
	query := f
	if maxPage := math.MaxInt / f.Limit; query.Page > maxPage {
		query.Page = maxPage
	}
	products, total, err := s.store.Products().List(ctx, query)
	if err != nil {
		return nil, err
	}
	return &models.ProductPage{
		Products:    products,
		TotalPages:  (total + f.Limit - 1) / f.Limit,
		CurrentPage: f.Page,
		Total:       total,
	}, nil
}

// ownedProduct loads id and checks farmerID owns it
func ownedProduct(ctx context.Context, tx store.Tx, op string, farmerID, id int64) (*models.Product, error) {
	p, err := tx.Products().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.FarmerID != farmerID {
		return nil, apperr.Forbidden(op, "Not authorized to modify this product")
	}
	return p, nil
}

// UpdateProduct replaces the writable fields of a product owned by farmerID
func (s *ProductService) UpdateProduct(ctx context.Context, farmerID, id int64, in ProductInput) (*models.Product, error) {
	if err := in.validate("products.Update"); err != nil {
		return nil, err
	}

	var updated *models.Product
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		p, err := ownedProduct(ctx, tx, "products.Update", farmerID, id)
		if err != nil {
			return err
		}
		in.apply(p)
		if err := tx.Products().Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Forget(id)
	s.metrics.RecordInventory(ctx, id, updated.Stock)
	return updated, nil
}

// DeleteProduct removes a product owned by farmerID. Products with trade
// history cannot be deleted.
func (s *ProductService) DeleteProduct(ctx context.Context, farmerID, id int64) error {
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := ownedProduct(ctx, tx, "products.Delete", farmerID, id); err != nil {
			return err
		}
		n, err := tx.Trades().CountByProduct(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("products.Delete", "Product has trade history and cannot be deleted")
		}
		return tx.Products().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.cache.Forget(id)
	log.Printf("[CATALOG] product deleted: id=%d farmer=%d", id, farmerID)
	return nil
}

// AddReview records a 1..5 rating and returns the product with its new
// mean rating.
func (s *ProductService) AddReview(ctx context.Context, userID, productID int64, rating int, comment string) (*models.Product, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.Invalid("products.AddReview", "Rating must be between 1 and 5")
	}

	var p *models.Product
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		rv := &models.Review{ProductID: productID, UserID: userID, Rating: rating, Comment: comment}
		if err := tx.Products().AddReview(ctx, rv); err != nil {
			return err
		}
		var err error
		p, err = tx.Products().Get(ctx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.Forget(productID)
	return p, nil
}

// ListByFarmer returns every product owned by farmerID, newest first
func (s *ProductService) ListByFarmer(ctx context.Context, farmerID int64) ([]models.Product, error) {
	products, _, err := s.store.Products().List(ctx, models.ProductFilter{FarmerID: farmerID, SortBy: "createdAt", SortOrder: "desc"})
	return products, err
}

// TrendingProduct is a highly rated product summary
type TrendingProduct struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category models.Category `json:"category"`
	Rating   float64         `json:"rating"`
	Trend    string          `json:"trend,omitempty"`
}

// MarketInsights summarises the catalog for customers
type MarketInsights struct {
	TrendingProducts []TrendingProduct `json:"trendingProducts"`
	Recommendations  []TrendingProduct `json:"recommendations"`
	CategoryCounts   map[string]int    `json:"categoryCounts"`
}

// MarketInsights returns the five best rated products and the five best
// rated products currently in stock.
func (s *ProductService) MarketInsights(ctx context.Context) (*MarketInsights, error) {
	all, _, err := s.store.Products().List(ctx, models.ProductFilter{SortBy: "rating", SortOrder: "desc"})
	if err != nil {
		return nil, err
	}

	out := &MarketInsights{
		TrendingProducts: []TrendingProduct{},
		Recommendations:  []TrendingProduct{},
		CategoryCounts:   map[string]int{},
	}
	for _, p := range all {
		out.CategoryCounts[string(p.Category)]++
		summary := TrendingProduct{Name: p.Name, Price: p.Price, Category: p.Category, Rating: p.Rating}
		if len(out.TrendingProducts) < 5 {
			summary.Trend = "Popular"
			out.TrendingProducts = append(out.TrendingProducts, summary)
			summary.Trend = ""
		}
		if p.Stock > 0 && len(out.Recommendations) < 5 {
			out.Recommendations = append(out.Recommendations, summary)
		}
	}
	return out, nil
}
