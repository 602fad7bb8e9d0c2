package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/httpx"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/services"
)

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type registerRequest struct {
	Name     string      `json:"name" validate:"required,max=100"`
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=6,max=72"`
	Role     models.Role `json:"role" validate:"required,oneof=farmer customer buyer"`
	Location string      `json:"location" validate:"max=200"`
}

// RegisterHandler handles POST /api/auth/register
func (a *App) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	session, err := a.userService.Register(r.Context(), services.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
		Location: req.Location,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, session)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginHandler handles POST /api/auth/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	session, err := a.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, session)
}

// LogoutHandler handles POST /api/auth/logout
func (a *App) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err == nil {
		err = a.userService.Logout(r.Context(), id)
	}
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// ProfileHandler handles GET /api/auth/profile
func (a *App) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	user, err := a.userService.Profile(r.Context(), id.UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

// VerifyHandler handles GET /api/auth/verify
func (a *App) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"valid": true, "user": id})
}

// productFilter parses the catalog query string
func productFilter(r *http.Request) (models.ProductFilter, error) {
	const op = "api.productFilter"
	q := r.URL.Query()
	f := models.ProductFilter{
		Category:  models.Category(q.Get("category")),
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		InStock:   q.Get("inStock") == "true",
	}

	for key, dst := range map[string]**decimal.Decimal{"minPrice": &f.MinPrice, "maxPrice": &f.MaxPrice} {
		if v := q.Get(key); v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				return f, apperr.Invalid(op, "Invalid %s", key)
			}
			*dst = &d
		}
	}
	if v := q.Get("organic"); v != "" {
		organic, err := strconv.ParseBool(v)
		if err != nil {
			return f, apperr.Invalid(op, "Invalid organic")
		}
		f.Organic = &organic
	}
	for key, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return f, apperr.Invalid(op, "Invalid %s", key)
			}
			*dst = n
		}
	}
	if v := q.Get("farmer"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, apperr.Invalid(op, "Invalid farmer")
		}
		f.FarmerID = id
	}
	return f, nil
}

// ListProductsHandler handles GET /api/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := productFilter(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	page, err := a.productService.ListProducts(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, page)
}

// GetProductHandler handles GET /api/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "product")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	product, err := a.productService.GetProduct(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, product)
}

type imageRequest struct {
	URL      string `json:"url" validate:"required,url"`
	PublicID string `json:"publicId"`
}

type productRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Description string           `json:"description" validate:"max=5000"`
	Price       *decimal.Decimal `json:"price" validate:"required"`
	Category    models.Category  `json:"category" validate:"required"`
	Images      []imageRequest   `json:"images" validate:"max=10,dive"`
	Stock       int              `json:"stock" validate:"gte=0"`
	Location    string           `json:"location" validate:"max=200"`
	HarvestDate *time.Time       `json:"harvestDate"`
	Organic     bool             `json:"organic"`
}

func (req productRequest) input() services.ProductInput {
	images := make([]models.Image, len(req.Images))
	for i, img := range req.Images {
		images[i] = models.Image{URL: img.URL, PublicID: img.PublicID}
	}
	return services.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       *req.Price,
		Category:    req.Category,
		Images:      images,
		Stock:       req.Stock,
		Location:    req.Location,
		HarvestDate: req.HarvestDate,
		Organic:     req.Organic,
	}
}

// CreateProductHandler handles POST /api/products
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	product, err := a.productService.CreateProduct(r.Context(), id.UserID, req.input())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, product)
}

// UpdateProductHandler handles PUT /api/products/{id}
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	productID, err := pathID(r, "id", "product")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	product, err := a.productService.UpdateProduct(r.Context(), id.UserID, productID, req.input())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, product)
}

// DeleteProductHandler handles DELETE /api/products/{id}
func (a *App) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	productID, err := pathID(r, "id", "product")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if err := a.productService.DeleteProduct(r.Context(), id.UserID, productID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Product deleted successfully"})
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// AddReviewHandler handles POST /api/products/{id}/reviews
func (a *App) AddReviewHandler(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	productID, err := pathID(r, "id", "product")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	product, err := a.productService.AddReview(r.Context(), id.UserID, productID, req.Rating, req.Comment)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, product)
}
