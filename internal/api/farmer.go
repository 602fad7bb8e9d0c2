package api

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenharvest/harvest-api/internal/httpx"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/services"
)

type expenseRequest struct {
	Category    string           `json:"category" validate:"required,max=100"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Date        *time.Time       `json:"date"`
	Description string           `json:"description" validate:"max=2000"`
}

func (req expenseRequest) input() services.ExpenseInput {
	in := services.ExpenseInput{
		Category:    req.Category,
		Amount:      *req.Amount,
		Description: req.Description,
	}
	if req.Date != nil {
		in.Date = *req.Date
	}
	return in
}

// AddExpenseHandler handles POST /api/farmer/expenses
func (a *App) AddExpenseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	expense, err := a.expenseService.Add(r.Context(), id.UserID, req.input())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, expense)
}

// ListExpensesHandler handles GET /api/farmer/expenses
func (a *App) ListExpensesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	expenses, err := a.expenseService.List(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, expenses)
}

// UpdateExpenseHandler handles PUT /api/farmer/expenses/{id}
func (a *App) UpdateExpenseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	expenseID, err := pathID(r, "id", "expense")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	expense, err := a.expenseService.Update(r.Context(), id.UserID, expenseID, req.input())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, expense)
}

// DeleteExpenseHandler handles DELETE /api/farmer/expenses/{id}
func (a *App) DeleteExpenseHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	expenseID, err := pathID(r, "id", "expense")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if err := a.expenseService.Delete(r.Context(), id.UserID, expenseID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Expense deleted successfully"})
}

// ListFarmerTradesHandler handles GET /api/farmer/trades
func (a *App) ListFarmerTradesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	trades, err := a.tradeService.List(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trades)
}

type createTradeRequest struct {
	ProductID int64            `json:"productId" validate:"required,gt=0"`
	BuyerID   *int64           `json:"buyerId" validate:"omitempty,gt=0"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	Amount    *decimal.Decimal `json:"amount"`
}

// CreateTradeHandler handles POST /api/farmer/trades
func (a *App) CreateTradeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req createTradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	trade, err := a.tradeService.Create(r.Context(), id.UserID, services.TradeInput{
		ProductID: req.ProductID,
		BuyerID:   req.BuyerID,
		Quantity:  req.Quantity,
		Amount:    req.Amount,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, trade)
}

type tradeStatusRequest struct {
	Status models.TradeStatus `json:"status" validate:"required,oneof=pending completed cancelled"`
}

// UpdateTradeStatusHandler handles PUT /api/farmer/trades/{tradeId}/status
func (a *App) UpdateTradeStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	tradeID, err := pathID(r, "tradeId", "trade")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req tradeStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	trade, err := a.tradeService.UpdateStatus(r.Context(), id.UserID, tradeID, req.Status)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trade)
}

// ListFarmerProductsHandler handles GET /api/farmer/products
func (a *App) ListFarmerProductsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	products, err := a.productService.ListByFarmer(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, products)
}

type analyticsRequest struct {
	Period  string   `json:"period" validate:"omitempty,oneof=daily weekly monthly yearly"`
	Metrics []string `json:"metrics" validate:"max=10,dive,required,max=50"`
}

// AIAnalyticsHandler handles POST /api/farmer/ai-analytics
func (a *App) AIAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req analyticsRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}

	report, err := a.assistantService.Analytics(r.Context(), id.UserID, req.Period, req.Metrics)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

// AIRecommendationsHandler handles GET /api/farmer/ai-recommendations
func (a *App) AIRecommendationsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	text, err := a.assistantService.Recommendations(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"recommendations": text})
}

// FarmerMarketInsightsHandler handles GET /api/farmer/market-insights
func (a *App) FarmerMarketInsightsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	text, err := a.assistantService.MarketInsights(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"insights": text})
}

// PredictionsHandler handles GET /api/farmer/analytics/predictions
func (a *App) PredictionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	text, err := a.assistantService.Predictions(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"predictions": text})
}
