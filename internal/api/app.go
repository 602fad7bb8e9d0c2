package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/middleware"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/services"
	"github.com/greenharvest/harvest-api/internal/store"
	"github.com/greenharvest/harvest-api/pkg/config"
)

// App holds application dependencies
type App struct {
	config           *config.Config
	store            store.Store
	metrics          *metrics.AppMetrics
	productService   *services.ProductService
	cartService      *services.CartService
	tradeService     *services.TradeService
	expenseService   *services.ExpenseService
	userService      *services.UserService
	assistantService *services.AssistantService
}

// Services groups the domain services the handlers call
type Services struct {
	Products  *services.ProductService
	Carts     *services.CartService
	Trades    *services.TradeService
	Expenses  *services.ExpenseService
	Users     *services.UserService
	Assistant *services.AssistantService
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, st store.Store, m *metrics.AppMetrics, svc Services) *App {
	return &App{
		config:           cfg,
		store:            st,
		metrics:          m,
		productService:   svc.Products,
		cartService:      svc.Carts,
		tradeService:     svc.Trades,
		expenseService:   svc.Expenses,
		userService:      svc.Users,
		assistantService: svc.Assistant,
	}
}

// authed wraps h so it only runs for authenticated callers holding one of
// roles. No roles means any authenticated caller.
func (a *App) authed(h http.HandlerFunc, roles ...models.Role) http.Handler {
	var next http.Handler = h
	if len(roles) > 0 {
		next = middleware.RequireRole(roles...)(next)
	}
	return middleware.RequireAuth(a.userService)(next)
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	// Middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware(a.config.CORSAllowedOrigin))
	r.Use(middleware.ErrorHandlerMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))
	r.Use(middleware.TimeoutMiddleware(a.config.RequestTimeout))

	api := r.PathPrefix("/api").Subrouter()

	// Auth
	api.HandleFunc("/auth/register", a.RegisterHandler).Methods("POST")
	api.HandleFunc("/auth/login", a.LoginHandler).Methods("POST")
	api.Handle("/auth/logout", a.authed(a.LogoutHandler)).Methods("POST")
	api.Handle("/auth/profile", a.authed(a.ProfileHandler)).Methods("GET")
	api.Handle("/auth/verify", a.authed(a.VerifyHandler)).Methods("GET")

	// Products
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products/{id}", a.GetProductHandler).Methods("GET")
	api.Handle("/products", a.authed(a.CreateProductHandler, models.RoleFarmer)).Methods("POST")
	api.Handle("/products/{id}", a.authed(a.UpdateProductHandler, models.RoleFarmer)).Methods("PUT")
	api.Handle("/products/{id}", a.authed(a.DeleteProductHandler, models.RoleFarmer)).Methods("DELETE")
	api.Handle("/products/{id}/reviews", a.authed(a.AddReviewHandler)).Methods("POST")

	// Customer
	customer := api.PathPrefix("/customer").Subrouter()
	customer.Use(middleware.RequireAuth(a.userService))
	customer.Use(middleware.RequireRole(models.RoleCustomer, models.RoleBuyer))
	customer.HandleFunc("/orders", a.ListOrdersHandler).Methods("GET")
	customer.HandleFunc("/trades", a.ListBuyerTradesHandler).Methods("GET")
	customer.HandleFunc("/cart", a.GetCartHandler).Methods("GET")
	customer.HandleFunc("/cart/add", a.AddToCartHandler).Methods("POST")
	customer.HandleFunc("/cart/update/{productId}", a.UpdateCartItemHandler).Methods("PUT")
	customer.HandleFunc("/cart/remove/{productId}", a.RemoveFromCartHandler).Methods("DELETE")
	customer.HandleFunc("/cart/checkout", a.CheckoutHandler).Methods("POST")
	customer.HandleFunc("/chat", a.ChatHandler).Methods("POST")
	customer.HandleFunc("/market-insights", a.CustomerMarketInsightsHandler).Methods("GET")

	// Farmer
	farmer := api.PathPrefix("/farmer").Subrouter()
	farmer.Use(middleware.RequireAuth(a.userService))
	farmer.Use(middleware.RequireRole(models.RoleFarmer))
	farmer.HandleFunc("/expenses", a.AddExpenseHandler).Methods("POST")
	farmer.HandleFunc("/expenses", a.ListExpensesHandler).Methods("GET")
	farmer.HandleFunc("/expenses/{id}", a.UpdateExpenseHandler).Methods("PUT")
	farmer.HandleFunc("/expenses/{id}", a.DeleteExpenseHandler).Methods("DELETE")
	farmer.HandleFunc("/trades", a.ListFarmerTradesHandler).Methods("GET")
	farmer.HandleFunc("/trades", a.CreateTradeHandler).Methods("POST")
	farmer.HandleFunc("/trades/{tradeId}/status", a.UpdateTradeStatusHandler).Methods("PUT")
	farmer.HandleFunc("/products", a.ListFarmerProductsHandler).Methods("GET")
	farmer.HandleFunc("/ai-analytics", a.AIAnalyticsHandler).Methods("POST")
	farmer.HandleFunc("/ai-recommendations", a.AIRecommendationsHandler).Methods("GET")
	farmer.HandleFunc("/market-insights", a.FarmerMarketInsightsHandler).Methods("GET")
	farmer.HandleFunc("/analytics/predictions", a.PredictionsHandler).Methods("GET")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")

	// CORS preflight for every path; CORSMiddleware answers it
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
}
