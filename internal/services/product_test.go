package services

import (
	"fmt"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

func TestCreateProduct_Validation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]ProductInput{
		"missing name":   {Price: decimal.NewFromInt(1), Category: models.CategoryFruits},
		"negative price": {Name: "Apples", Price: decimal.NewFromInt(-1), Category: models.CategoryFruits},
		"negative stock": {Name: "Apples", Price: decimal.NewFromInt(1), Category: models.CategoryFruits, Stock: -1},
		"bad category":   {Name: "Apples", Price: decimal.NewFromInt(1), Category: "Flowers"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.products.CreateProduct(f.ctx, farmerID, in)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}

	p, err := f.products.CreateProduct(f.ctx, farmerID, tomatoes("1.20", 3))
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Equal(t, farmerID, p.FarmerID)
	assert.NotNil(t, p.Images)
}

func TestListProducts_Paging(t *testing.T) {
	f := newFixture(t)
	for i := range 12 {
		in := tomatoes(fmt.Sprintf("%d", i+1), i)
		in.Name = fmt.Sprintf("Produce %02d", i)
		_, err := f.products.CreateProduct(f.ctx, farmerID, in)
		require.NoError(t, err)
	}

	page, err := f.products.ListProducts(f.ctx, models.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Products, 10)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 12, page.Total)

	page, err = f.products.ListProducts(f.ctx, models.ProductFilter{Page: 2, Limit: 500, SortBy: "price", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Empty(t, page.Products)
	assert.Equal(t, 1, page.TotalPages)

	page, err = f.products.ListProducts(f.ctx, models.ProductFilter{Page: math.MaxInt / 10 * 2, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Products)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 12, page.Total)

	page, err = f.products.ListProducts(f.ctx, models.ProductFilter{Page: math.MaxInt, Limit: 7})
	require.NoError(t, err)
	assert.Empty(t, page.Products)

	floor := decimal.NewFromInt(10)
	page, err = f.products.ListProducts(f.ctx, models.ProductFilter{MinPrice: &floor, SortBy: "price", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, page.Products, 3)
	assert.Equal(t, "10", page.Products[0].Price.String())

	_, err = f.products.ListProducts(f.ctx, models.ProductFilter{SortBy: "farmer"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.products.ListProducts(f.ctx, models.ProductFilter{Category: "Flowers"})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestUpdateAndDeleteProduct_Ownership(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, farmerID, "10", 5)

	_, err := f.products.UpdateProduct(f.ctx, otherID, p.ID, tomatoes("1", 1))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	err = f.products.DeleteProduct(f.ctx, otherID, p.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	updated, err := f.products.UpdateProduct(f.ctx, farmerID, p.ID, tomatoes("12", 8))
	require.NoError(t, err)
	assert.Equal(t, "12", updated.Price.String())

	got, err := f.products.GetProduct(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Stock)
}

func TestDeleteProduct_WithTradeHistory(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, farmerID, "10", 5)
	f.checkout(t, customerID, p, 1)

	err := f.products.DeleteProduct(f.ctx, farmerID, p.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	q := f.product(t, farmerID, "10", 5)
	require.NoError(t, f.products.DeleteProduct(f.ctx, farmerID, q.ID))
	_, err = f.products.GetProduct(f.ctx, q.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAddReview_MeanRating(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, farmerID, "10", 5)

	_, err := f.products.AddReview(f.ctx, customerID, p.ID, 6, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = f.products.GetProduct(f.ctx, p.ID)
	require.NoError(t, err)

	_, err = f.products.AddReview(f.ctx, customerID, p.ID, 4, "fresh")
	require.NoError(t, err)
	got, err := f.products.AddReview(f.ctx, customerID+1, p.ID, 1, "bruised")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got.Rating, 0.001)
	assert.Len(t, got.Reviews, 2)

	cached, err := f.products.GetProduct(f.ctx, p.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, cached.Rating, 0.001)
}

func TestMarketInsights(t *testing.T) {
	f := newFixture(t)
	for i := range 7 {
		stock := 5
		if i == 6 {
			stock = 0
		}
		p := f.product(t, farmerID, "2", stock)
		for range i % 5 {
			_, err := f.products.AddReview(f.ctx, customerID, p.ID, 1+i%5, "")
			require.NoError(t, err)
		}
	}

	insights, err := f.products.MarketInsights(f.ctx)
	require.NoError(t, err)
	assert.Len(t, insights.TrendingProducts, 5)
	assert.Len(t, insights.Recommendations, 5)
	assert.Equal(t, "Popular", insights.TrendingProducts[0].Trend)
	assert.InDelta(t, 5.0, insights.TrendingProducts[0].Rating, 0.001)
	assert.Equal(t, 7, insights.CategoryCounts["Vegetables"])
	for _, r := range insights.Recommendations {
		assert.Empty(t, r.Trend)
	}
}
