package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/ratelimit"
	"github.com/greenharvest/harvest-api/internal/store"
)

const lowStockThreshold = 10

// Generator turns a prompt into free text
type Generator interface {
	Enabled() bool
	Generate(ctx context.Context, prompt string) (string, error)
}

// BusinessSummary is the headline figures of a farmer's business
type BusinessSummary struct {
	TotalProducts    int             `json:"totalProducts"`
	TotalRevenue     decimal.Decimal `json:"totalRevenue"`
	RevenueChange    float64         `json:"revenueChange"`
	TotalExpenses    decimal.Decimal `json:"totalExpenses"`
	LowStockProducts int             `json:"lowStockProducts"`
	OrganicProducts  int             `json:"organicProducts"`
}

// StockLevel is one product's stock in the trends section
type StockLevel struct {
	Name     string          `json:"name"`
	Stock    int             `json:"stock"`
	Category models.Category `json:"category"`
}

// BusinessTrends holds the distributions sent alongside the summary
type BusinessTrends struct {
	SalesByCategory    map[string]int `json:"salesByCategory"`
	ExpensesByCategory map[string]int `json:"expensesByCategory"`
	StockLevels        []StockLevel   `json:"stockLevels"`
}

// AnalyticsReport is the AI analysis of a farmer's business for a period
type AnalyticsReport struct {
	Insights string          `json:"insights"`
	Summary  BusinessSummary `json:"summary"`
	Trends   BusinessTrends  `json:"trends"`
	Period   string          `json:"period"`
	Metrics  []string        `json:"metrics"`
}

// AssistantService wraps the generative AI provider with a per-user quota
type AssistantService struct {
	store   store.Store
	ai      Generator
	limiter ratelimit.Limiter
	metrics *metrics.AppMetrics
	now     func() time.Time
}

// NewAssistantService creates a new assistant service
func NewAssistantService(st store.Store, gen Generator, limiter ratelimit.Limiter, m *metrics.AppMetrics) *AssistantService {
	return &AssistantService{
		store:   st,
		ai:      gen,
		limiter: limiter,
		metrics: m,
		now:     time.Now,
	}
}

// generate checks availability and quota, then calls the provider
func (s *AssistantService) generate(ctx context.Context, feature string, userID int64, prompt string) (string, error) {
	op := "assistant." + feature
	if !s.ai.Enabled() {
		return "", apperr.Unavailable(op, "AI services are not available. Please check your Gemini API key configuration.", 0, nil)
	}

	d, err := s.limiter.Allow(ctx, strconv.FormatInt(userID, 10))
	if err != nil {
		return "", apperr.Unavailable(op, "Rate limiter unavailable", 0, err)
	}
	if !d.Allowed {
		s.metrics.RecordAIRateLimited(ctx, feature)
		log.Printf("[AI] rate limited: user=%d feature=%s", userID, feature)
		return "", apperr.RateLimited(op, "Too many AI requests. Please try again later.", int(math.Ceil(d.RetryAfter.Seconds())))
	}

	text, err := s.ai.Generate(ctx, prompt)
	s.metrics.RecordAIRequest(ctx, feature, err == nil)
	if err != nil {
		log.Printf("[AI] %s failed: user=%d error=%v", feature, userID, err)
		return "", err
	}
	return text, nil
}

// Chat answers a customer's free-text question
func (s *AssistantService) Chat(ctx context.Context, userID int64, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", apperr.Invalid("assistant.chat", "Message is required")
	}
	prompt := "As an agricultural marketplace assistant, respond to the following customer query: " + message
	return s.generate(ctx, "chat", userID, prompt)
}

// periodStart returns the beginning of the window of the given period
// ending at end.
func periodStart(period string, end time.Time) (time.Time, bool) {
	switch period {
	case "daily":
		return end.AddDate(0, 0, -1), true
	case "weekly":
		return end.AddDate(0, 0, -7), true
	case "monthly":
		return end.AddDate(0, -1, 0), true
	case "yearly":
		return end.AddDate(-1, 0, 0), true
	}
	return time.Time{}, false
}

// revenueBetween sums completed trades created within [from, to]
func revenueBetween(trades []models.Trade, from, to time.Time) (decimal.Decimal, []models.Trade) {
	total := decimal.Zero
	var in []models.Trade
	for _, t := range trades {
		if t.Status != models.TradeCompleted || t.CreatedAt.Before(from) || t.CreatedAt.After(to) {
			continue
		}
		total = total.Add(t.Amount)
		in = append(in, t)
	}
	return total, in
}

// Summarize computes the business summary and trends of farmerID for a
// period ending now.
func (s *AssistantService) Summarize(ctx context.Context, farmerID int64, period string) (*BusinessSummary, *BusinessTrends, error) {
	now := s.now()
	start, ok := periodStart(period, now)
	if !ok {
		return nil, nil, apperr.Invalid("assistant.analytics", "Invalid period %q", period)
	}
	prevStart, _ := periodStart(period, start)

	products, _, err := s.store.Products().List(ctx, models.ProductFilter{FarmerID: farmerID, SortBy: "createdAt", SortOrder: "desc"})
	if err != nil {
		return nil, nil, err
	}
	trades, err := s.store.Trades().ListByFarmer(ctx, farmerID)
	if err != nil {
		return nil, nil, err
	}
	expenses, err := s.store.Expenses().ListByFarmer(ctx, farmerID)
	if err != nil {
		return nil, nil, err
	}

	revenue, periodTrades := revenueBetween(trades, start, now)
	previous, _ := revenueBetween(trades, prevStart, start)
	change := 100.0
	if !previous.IsZero() {
		change = revenue.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
	}

	summary := &BusinessSummary{
		TotalProducts: len(products),
		TotalRevenue:  revenue,
		RevenueChange: change,
		TotalExpenses: decimal.Zero,
	}
	trends := &BusinessTrends{
		SalesByCategory:    map[string]int{},
		ExpensesByCategory: map[string]int{},
		StockLevels:        make([]StockLevel, 0, len(products)),
	}

	categories := make(map[int64]models.Category, len(products))
	for _, p := range products {
		categories[p.ID] = p.Category
		if p.Stock < lowStockThreshold {
			summary.LowStockProducts++
		}
		if p.Organic {
			summary.OrganicProducts++
		}
		trends.StockLevels = append(trends.StockLevels, StockLevel{Name: p.Name, Stock: p.Stock, Category: p.Category})
	}
	for _, t := range periodTrades {
		if c, ok := categories[t.ProductID]; ok {
			trends.SalesByCategory[string(c)]++
		}
	}
	for _, e := range expenses {
		summary.TotalExpenses = summary.TotalExpenses.Add(e.Amount)
		trends.ExpensesByCategory[e.Category]++
	}
	return summary, trends, nil
}

// Analytics asks the provider to analyse the farmer's business for period
// with focus on the named metrics.
func (s *AssistantService) Analytics(ctx context.Context, farmerID int64, period string, focus []string) (*AnalyticsReport, error) {
	if period == "" {
		period = "monthly"
	}
	if len(focus) == 0 {
		focus = []string{"sales", "inventory", "predictions"}
	}
	summary, trends, err := s.Summarize(ctx, farmerID, period)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(map[string]any{
		"period":  period,
		"metrics": focus,
		"summary": summary,
		"trends":  trends,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analytics data: %w", err)
	}
	prompt := fmt.Sprintf("Analyze the following agricultural business data for period %s focusing on %s:\n%s\n\n"+
		"Provide detailed insights, trends, and recommendations based on this data.",
		period, strings.Join(focus, ", "), data)

	text, err := s.generate(ctx, "analytics", farmerID, prompt)
	if err != nil {
		return nil, err
	}
	return &AnalyticsReport{
		Insights: text,
		Summary:  *summary,
		Trends:   *trends,
		Period:   period,
		Metrics:  focus,
	}, nil
}

func (s *AssistantService) farmerProducts(ctx context.Context, farmerID int64) ([]byte, error) {
	products, _, err := s.store.Products().List(ctx, models.ProductFilter{FarmerID: farmerID, SortBy: "createdAt", SortOrder: "desc"})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(products)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal products: %w", err)
	}
	return data, nil
}

// Recommendations suggests new products or improvements for the farmer
func (s *AssistantService) Recommendations(ctx context.Context, farmerID int64) (string, error) {
	data, err := s.farmerProducts(ctx, farmerID)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf("Based on the following products: %s, provide recommendations for new products or improvements.", data)
	return s.generate(ctx, "recommendations", farmerID, prompt)
}

// MarketInsights describes market trends relevant to the farmer's products
func (s *AssistantService) MarketInsights(ctx context.Context, farmerID int64) (string, error) {
	data, err := s.farmerProducts(ctx, farmerID)
	if err != nil {
		return "", err
	}
	prompt := fmt.Sprintf("Based on the following products: %s, provide market insights and trends.", data)
	return s.generate(ctx, "market_insights", farmerID, prompt)
}

// Predictions forecasts sales, inventory needs and expenses
func (s *AssistantService) Predictions(ctx context.Context, farmerID int64) (string, error) {
	products, err := s.farmerProducts(ctx, farmerID)
	if err != nil {
		return "", err
	}
	trades, err := s.store.Trades().ListByFarmer(ctx, farmerID)
	if err != nil {
		return "", err
	}
	expenses, err := s.store.Expenses().ListByFarmer(ctx, farmerID)
	if err != nil {
		return "", err
	}
	tradeData, err := json.Marshal(trades)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trades: %w", err)
	}
	expenseData, err := json.Marshal(expenses)
	if err != nil {
		return "", fmt.Errorf("failed to marshal expenses: %w", err)
	}

	prompt := fmt.Sprintf("Based on the following data:\nProducts: %s\nTrades: %s\nExpenses: %s\n"+
		"Provide predictions for future sales, inventory needs, and potential expenses.",
		products, tradeData, expenseData)
	return s.generate(ctx, "predictions", farmerID, prompt)
}
