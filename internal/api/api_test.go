package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/greenharvest/harvest-api/internal/auth"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/ratelimit"
	"github.com/greenharvest/harvest-api/internal/services"
	"github.com/greenharvest/harvest-api/internal/store/memory"
	"github.com/greenharvest/harvest-api/pkg/config"
)

type stubGenerator struct {
	enabled bool
}

func (g stubGenerator) Enabled() bool { return g.enabled }

func (g stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	return "generated: " + prompt[:10], nil
}

type testServer struct {
	t      *testing.T
	router *mux.Router
}

func newTestServer(t *testing.T, gen services.Generator, aiLimit int) *testServer {
	t.Helper()
	m, err := metrics.NewAppMetrics(noop.NewMeterProvider().Meter("test"), "harvest-api-test")
	require.NoError(t, err)

	st := memory.New()
	products := services.NewProductService(st, m)
	ledger := services.NewStockLedger(m)
	app := NewApp(&config.Config{CORSAllowedOrigin: "*", RequestTimeout: 5 * time.Second}, st, m, Services{
		Products:  products,
		Carts:     services.NewCartService(st, ledger, products.Cache(), m),
		Trades:    services.NewTradeService(st, ledger, products.Cache(), m),
		Expenses:  services.NewExpenseService(st),
		Users:     services.NewUserService(st, auth.NewTokenManager("test-secret", time.Hour), m),
		Assistant: services.NewAssistantService(st, gen, ratelimit.NewLocalLimiter(aiLimit, time.Hour), m),
	})

	router := mux.NewRouter()
	app.SetupRoutes(router)
	return &testServer{t: t, router: router}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) register(email, role string) string {
	s.t.Helper()
	rec := s.do("POST", "/api/auth/register", "", map[string]any{
		"name": "User", "email": email, "password": "secret1", "role": role,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(s.t, rec)["token"].(string)
}

func (s *testServer) createProduct(token string, price float64, stock int) int64 {
	s.t.Helper()
	rec := s.do("POST", "/api/products", token, map[string]any{
		"name": "Carrots", "price": price, "category": "Vegetables", "stock": stock,
		"images": []map[string]string{{"url": "https://img.example/carrots.png"}},
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return int64(decode(s.t, rec)["id"].(float64))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, stubGenerator{}, 10)
	rec := s.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCheckoutAndConfirmFlow(t *testing.T) {
	s := newTestServer(t, stubGenerator{}, 10)
	farmer := s.register("farmer@example.com", "farmer")
	customer := s.register("customer@example.com", "customer")
	productID := s.createProduct(farmer, 10, 5)

	rec := s.do("POST", "/api/customer/cart/add", customer, map[string]any{"productId": productID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do("PUT", fmt.Sprintf("/api/customer/cart/update/%d", productID), customer, map[string]any{"quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 20, decode(t, rec)["total"].(float64), 0.001)

	rec = s.do("POST", "/api/customer/cart/checkout", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode(t, rec)
	trades := result["trades"].([]any)
	require.Len(t, trades, 1)
	trade := trades[0].(map[string]any)
	assert.InDelta(t, 2, trade["quantity"].(float64), 0)
	assert.InDelta(t, 20, trade["amount"].(float64), 0.001)
	assert.Equal(t, "pending", trade["status"])
	assert.Equal(t, "pending", result["order"].(map[string]any)["status"])

	rec = s.do("GET", fmt.Sprintf("/api/products/%d", productID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 3, decode(t, rec)["stock"].(float64), 0)

	tradeID := int64(trade["id"].(float64))
	rec = s.do("PUT", fmt.Sprintf("/api/farmer/trades/%d/status", tradeID), farmer, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode(t, rec)["status"])

	rec = s.do("GET", "/api/customer/orders", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "completed", orders[0]["status"])

	rec = s.do("GET", "/api/customer/trades", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t, stubGenerator{}, 10)
	farmer := s.register("farmer@example.com", "farmer")
	customer := s.register("customer@example.com", "buyer")
	productID := s.createProduct(farmer, 4, 1)

	rec := s.do("GET", "/api/customer/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No token provided", decode(t, rec)["message"])

	rec = s.do("GET", "/api/customer/cart", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do("GET", "/api/farmer/trades", customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode(t, rec)["error"])

	rec = s.do("POST", "/api/customer/cart/checkout", customer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Cart not found", decode(t, rec)["message"])

	rec = s.do("POST", "/api/customer/cart/add", customer, map[string]any{"productId": 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("POST", "/api/customer/cart/add", customer, map[string]any{"productId": productID, "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/customer/cart/add", customer, map[string]any{"productId": productID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("PUT", fmt.Sprintf("/api/customer/cart/update/%d", productID), customer, map[string]any{"quantity": 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "insufficient_stock", body["error"])
	assert.Equal(t, "Only 1 items available in stock", body["message"])
	assert.InDelta(t, 1, body["details"].(map[string]any)["available"].(float64), 0)

	rec = s.do("PUT", fmt.Sprintf("/api/customer/cart/update/%d", productID), customer, map[string]any{"quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("DELETE", "/api/customer/cart/remove/12345", customer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("DELETE", fmt.Sprintf("/api/customer/cart/remove/%d", productID), customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do("POST", "/api/customer/cart/checkout", customer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cart is empty", decode(t, rec)["message"])

	rec = s.do("GET", "/api/products?minPrice=cheap", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("GET", "/api/products/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/auth/login", "", map[string]any{"email": "farmer@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid login credentials", decode(t, rec)["message"])

	rec = s.do("POST", "/api/auth/register", "", map[string]any{
		"name": "Dup", "email": "FARMER@example.com", "password": "secret1", "role": "farmer",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("POST", "/api/auth/register", "", map[string]any{
		"name": "Long", "email": "long@example.com", "password": strings.Repeat("p", 80), "role": "farmer",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decode(t, rec)["error"])
}

func TestProductOwnership(t *testing.T) {
	s := newTestServer(t, stubGenerator{}, 10)
	farmer := s.register("farmer@example.com", "farmer")
	other := s.register("other@example.com", "farmer")
	customer := s.register("customer@example.com", "customer")
	productID := s.createProduct(farmer, 4, 10)
	path := fmt.Sprintf("/api/products/%d", productID)

	rec := s.do("POST", "/api/products", customer, map[string]any{"name": "X", "price": 1, "category": "Fruits"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do("PUT", path, other, map[string]any{"name": "Mine", "price": 1, "category": "Fruits"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do("POST", path+"/reviews", customer, map[string]any{"rating": 5, "comment": "sweet"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.InDelta(t, 5, decode(t, rec)["rating"].(float64), 0.001)

	rec = s.do("POST", path+"/reviews", customer, map[string]any{"rating": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("GET", "/api/products?category=Vegetables&sortBy=price&sortOrder=asc&page=1&limit=5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	assert.InDelta(t, 1, page["total"].(float64), 0)
	assert.InDelta(t, 1, page["currentPage"].(float64), 0)

	rec = s.do("DELETE", path, farmer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do("GET", path, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t, stubGenerator{}, 10)
	token := s.register("customer@example.com", "customer")

	rec := s.do("GET", "/api/auth/verify", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["valid"])

	rec = s.do("POST", "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("GET", "/api/auth/profile", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAssistantEndpoints(t *testing.T) {
	s := newTestServer(t, stubGenerator{enabled: true}, 1)
	customer := s.register("customer@example.com", "customer")
	farmer := s.register("farmer@example.com", "farmer")

	rec := s.do("POST", "/api/customer/chat", customer, map[string]any{"message": "Is kale in season?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decode(t, rec)["message"], "generated")

	rec = s.do("POST", "/api/customer/chat", customer, map[string]any{"message": "And spinach?"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Positive(t, decode(t, rec)["retryAfter"].(float64))

	rec = s.do("POST", "/api/farmer/ai-analytics", farmer, map[string]any{"period": "weekly"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode(t, rec)
	assert.Equal(t, "weekly", report["period"])
	assert.Contains(t, report, "summary")

	rec = s.do("POST", "/api/farmer/ai-analytics", farmer, map[string]any{"period": "hourly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("GET", "/api/customer/market-insights", customer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAssistantUnavailable(t *testing.T) {
	s := newTestServer(t, stubGenerator{enabled: false}, 10)
	farmer := s.register("farmer@example.com", "farmer")

	rec := s.do("GET", "/api/farmer/analytics/predictions", farmer, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decode(t, rec)["error"])
}

func TestExpenseEndpoints(t *testing.T) {
	s := newTestServer(t, stubGenerator{}, 10)
	farmer := s.register("farmer@example.com", "farmer")
	other := s.register("other@example.com", "farmer")

	rec := s.do("POST", "/api/farmer/expenses", farmer, map[string]any{"category": "Seeds", "amount": 12.5, "date": "2026-01-02T00:00:00Z"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := int64(decode(t, rec)["id"].(float64))

	rec = s.do("POST", "/api/farmer/expenses", farmer, map[string]any{"category": "Seeds"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("PUT", fmt.Sprintf("/api/farmer/expenses/%d", id), other, map[string]any{"category": "Fuel", "amount": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("DELETE", fmt.Sprintf("/api/farmer/expenses/%d", id), farmer, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("GET", "/api/farmer/expenses", farmer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestFarmerCreateTrade(t *testing.T) {
	s := newTestServer(t, stubGenerator{}, 10)
	farmer := s.register("farmer@example.com", "farmer")
	productID := s.createProduct(farmer, 2, 3)

	rec := s.do("POST", "/api/farmer/trades", farmer, map[string]any{"productId": productID, "quantity": 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/farmer/trades", farmer, map[string]any{"productId": productID, "quantity": 3, "amount": 5})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.InDelta(t, 5, decode(t, rec)["amount"].(float64), 0.001)

	rec = s.do("GET", "/api/farmer/products", farmer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	require.Len(t, products, 1)
	assert.InDelta(t, 0, products[0]["stock"].(float64), 0)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, stubGenerator{}, 10)
	rec := s.do("OPTIONS", "/api/customer/cart", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
