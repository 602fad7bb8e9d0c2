package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/ratelimit"
)

type fakeGenerator struct {
	disabled bool
	reply    string
	err      error
	prompts  []string
}

func (g *fakeGenerator) Enabled() bool { return !g.disabled }

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func newAssistant(f *fixture, gen Generator, limit int) *AssistantService {
	return NewAssistantService(f.store, gen, ratelimit.NewLocalLimiter(limit, time.Hour), f.metrics)
}

func TestAssistant_Chat(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{reply: "Plant in spring."}
	a := newAssistant(f, gen, 10)

	_, err := a.Chat(f.ctx, customerID, "  ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	reply, err := a.Chat(f.ctx, customerID, "When should I buy kale?")
	require.NoError(t, err)
	assert.Equal(t, "Plant in spring.", reply)
	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "As an agricultural marketplace assistant, respond to the following customer query: When should I buy kale?", gen.prompts[0])
}

func TestAssistant_RateLimitedPerUser(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{reply: "ok"}
	a := newAssistant(f, gen, 2)

	for range 2 {
		_, err := a.Chat(f.ctx, customerID, "hi")
		require.NoError(t, err)
	}
	_, err := a.Chat(f.ctx, customerID, "hi")
	assert.ErrorIs(t, err, apperr.ErrRateLimited)
	assert.Positive(t, apperr.RetryAfter(err))
	assert.Len(t, gen.prompts, 2)

	_, err = a.Chat(f.ctx, customerID+1, "hi")
	assert.NoError(t, err)
}

func TestAssistant_DisabledProvider(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{disabled: true}
	a := newAssistant(f, gen, 1)

	for range 3 {
		_, err := a.Recommendations(f.ctx, farmerID)
		assert.ErrorIs(t, err, apperr.ErrUnavailable)
	}
	assert.Empty(t, gen.prompts)
}

func TestAssistant_ProviderErrorPassesThrough(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{err: apperr.Unavailable("ai.Generate", "The AI model is currently overloaded. Please try again in a few minutes.", 60, nil)}
	a := newAssistant(f, gen, 5)

	_, err := a.Predictions(f.ctx, farmerID)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Equal(t, 60, apperr.RetryAfter(err))
}

func TestAssistant_Analytics(t *testing.T) {
	f := newFixture(t)
	gen := &fakeGenerator{reply: "Sales are growing."}
	a := newAssistant(f, gen, 10)

	p := f.product(t, farmerID, "10", 5)
	organic := tomatoes("3", 50)
	organic.Organic = true
	organic.Category = models.CategoryFruits
	_, err := f.products.CreateProduct(f.ctx, farmerID, organic)
	require.NoError(t, err)

	res := f.checkout(t, customerID, p, 2)
	_, err = f.trades.UpdateStatus(f.ctx, farmerID, res.Trades[0].ID, models.TradeCompleted)
	require.NoError(t, err)
	_, err = f.expenses.Add(f.ctx, farmerID, ExpenseInput{Category: "Seeds", Amount: decimal.RequireFromString("7.5")})
	require.NoError(t, err)

	report, err := a.Analytics(f.ctx, farmerID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "Sales are growing.", report.Insights)
	assert.Equal(t, "monthly", report.Period)
	assert.Equal(t, []string{"sales", "inventory", "predictions"}, report.Metrics)
	assert.Equal(t, 2, report.Summary.TotalProducts)
	assert.Equal(t, "20", report.Summary.TotalRevenue.String())
	assert.InDelta(t, 100.0, report.Summary.RevenueChange, 0.001)
	assert.Equal(t, "7.5", report.Summary.TotalExpenses.String())
	assert.Equal(t, 1, report.Summary.LowStockProducts)
	assert.Equal(t, 1, report.Summary.OrganicProducts)
	assert.Equal(t, map[string]int{"Vegetables": 1}, report.Trends.SalesByCategory)
	assert.Equal(t, map[string]int{"Seeds": 1}, report.Trends.ExpensesByCategory)
	assert.Len(t, report.Trends.StockLevels, 2)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "for period monthly focusing on sales, inventory, predictions")

	// A month later the sale falls in the previous window.
	a.now = func() time.Time { return time.Now().AddDate(0, 1, 5) }
	summary, _, err := a.Summarize(f.ctx, farmerID, "monthly")
	require.NoError(t, err)
	assert.True(t, summary.TotalRevenue.IsZero())
	assert.InDelta(t, -100.0, summary.RevenueChange, 0.001)

	_, err = a.Analytics(f.ctx, farmerID, "hourly", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
