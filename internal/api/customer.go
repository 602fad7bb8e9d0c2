package api

import (
	"net/http"

	"github.com/greenharvest/harvest-api/internal/httpx"
)

// ListOrdersHandler handles GET /api/customer/orders
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	orders, err := a.cartService.ListOrders(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orders)
}

// ListBuyerTradesHandler handles GET /api/customer/trades
func (a *App) ListBuyerTradesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	trades, err := a.tradeService.ListForBuyer(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, trades)
}

// GetCartHandler handles GET /api/customer/cart
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	cart, err := a.cartService.GetCart(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cart)
}

type addToCartRequest struct {
	ProductID int64 `json:"productId" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"gte=0"`
}

// AddToCartHandler handles POST /api/customer/cart/add
func (a *App) AddToCartHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req addToCartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	cart, err := a.cartService.AddItem(r.Context(), id.UserID, req.ProductID, req.Quantity)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cart)
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateCartItemHandler handles PUT /api/customer/cart/update/{productId}
func (a *App) UpdateCartItemHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	productID, err := pathID(r, "productId", "product")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req updateCartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	cart, err := a.cartService.UpdateQuantity(r.Context(), id.UserID, productID, req.Quantity)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cart)
}

// RemoveFromCartHandler handles DELETE /api/customer/cart/remove/{productId}
func (a *App) RemoveFromCartHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	productID, err := pathID(r, "productId", "product")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	cart, err := a.cartService.RemoveItem(r.Context(), id.UserID, productID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cart)
}

// CheckoutHandler handles POST /api/customer/cart/checkout
func (a *App) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	result, err := a.cartService.Checkout(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type chatRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

// ChatHandler handles POST /api/customer/chat
func (a *App) ChatHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	reply, err := a.assistantService.Chat(r.Context(), id.UserID, req.Message)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": reply})
}

// CustomerMarketInsightsHandler handles GET /api/customer/market-insights
func (a *App) CustomerMarketInsightsHandler(w http.ResponseWriter, r *http.Request) {
	insights, err := a.productService.MarketInsights(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, insights)
}
