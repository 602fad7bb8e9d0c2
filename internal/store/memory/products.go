package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

type productRepo struct {
	run runner
}

func copyProduct(p models.Product) models.Product {
	p.Images = slices.Clone(p.Images)
	p.Reviews = slices.Clone(p.Reviews)
	if p.HarvestDate != nil {
		d := *p.HarvestDate
		p.HarvestDate = &d
	}
	return p
}

func (r *productRepo) Create(ctx context.Context, p *models.Product) error {
	return r.run(ctx, func(st *state) error {
		now := time.Now().UTC()
		p.ID = st.nextID("products")
		p.CreatedAt, p.UpdatedAt = now, now
		stored := copyProduct(*p)
		stored.Reviews = nil
		st.products[p.ID] = stored
		return nil
	})
}

func (r *productRepo) Get(ctx context.Context, id int64) (*models.Product, error) {
	var out models.Product
	err := r.run(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return apperr.NotFound("products.Get", "Product not found")
		}
		out = copyProduct(p)
		out.Reviews = slices.Clone(st.reviews[id])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *productRepo) List(ctx context.Context, f models.ProductFilter) ([]models.Product, int, error) {
	var page []models.Product
	var total int
	err := r.run(ctx, func(st *state) error {
		matched := make([]models.Product, 0, len(st.products))
		for _, p := range st.products {
			if matchesFilter(p, f) {
				matched = append(matched, p)
			}
		}
		sortProducts(matched, f.SortBy, f.SortOrder)

		total = len(matched)
		offset := (f.Page - 1) * f.Limit
		if offset < 0 {
			offset = 0
		}
		end := offset + f.Limit
		if f.Limit <= 0 || end > total {
			end = total
		}
		if offset > total {
			offset = total
		}
		page = make([]models.Product, 0, end-offset)
		for _, p := range matched[offset:end] {
			page = append(page, copyProduct(p))
		}
		return nil
	})
	return page, total, err
}

func matchesFilter(p models.Product, f models.ProductFilter) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.Organic != nil && p.Organic != *f.Organic {
		return false
	}
	if f.FarmerID != 0 && p.FarmerID != f.FarmerID {
		return false
	}
	if f.InStock && p.Stock <= 0 {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) {
			return false
		}
	}
	return true
}

func sortProducts(ps []models.Product, sortBy, order string) {
	desc := order != "asc"
	slices.SortFunc(ps, func(a, b models.Product) int {
		var c int
		switch sortBy {
		case "price":
			c = a.Price.Cmp(b.Price)
		case "rating":
			c = cmp.Compare(a.Rating, b.Rating)
		case "name":
			c = strings.Compare(a.Name, b.Name)
		case "stock":
			c = cmp.Compare(a.Stock, b.Stock)
		default:
			c = a.CreatedAt.Compare(b.CreatedAt)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if desc {
			return -c
		}
		return c
	})
}

func (r *productRepo) Update(ctx context.Context, p *models.Product) error {
	return r.run(ctx, func(st *state) error {
		existing, ok := st.products[p.ID]
		if !ok {
			return apperr.NotFound("products.Update", "Product not found")
		}
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = time.Now().UTC()
		stored := copyProduct(*p)
		stored.Reviews = nil
		st.products[p.ID] = stored
		return nil
	})
}

func (r *productRepo) Delete(ctx context.Context, id int64) error {
	return r.run(ctx, func(st *state) error {
		if _, ok := st.products[id]; !ok {
			return apperr.NotFound("products.Delete", "Product not found")
		}
		for _, t := range st.trades {
			if t.ProductID == id {
				return apperr.Conflict("products.Delete", "Product has trade history and cannot be deleted")
			}
		}
		delete(st.products, id)
		delete(st.reviews, id)
		return nil
	})
}

func (r *productRepo) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	var stock int
	err := r.run(ctx, func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return apperr.NotFound("products.AdjustStock", "Product not found")
		}
		if p.Stock+delta < 0 {
			return apperr.InsufficientStock("products.AdjustStock", p.Stock, -delta)
		}
		p.Stock += delta
		p.UpdatedAt = time.Now().UTC()
		st.products[id] = p
		stock = p.Stock
		return nil
	})
	return stock, err
}

func (r *productRepo) AddReview(ctx context.Context, rv *models.Review) error {
	return r.run(ctx, func(st *state) error {
		p, ok := st.products[rv.ProductID]
		if !ok {
			return apperr.NotFound("products.AddReview", "Product not found")
		}
		rv.ID = st.nextID("reviews")
		rv.CreatedAt = time.Now().UTC()

		reviews := append(slices.Clone(st.reviews[rv.ProductID]), *rv)
		st.reviews[rv.ProductID] = reviews

		sum := 0
		for _, existing := range reviews {
			sum += existing.Rating
		}
		p.Rating = float64(sum) / float64(len(reviews))
		st.products[p.ID] = p
		return nil
	})
}
