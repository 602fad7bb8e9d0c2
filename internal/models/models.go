package models

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Money is rendered as a JSON number, not a quoted string.
	decimal.MarshalJSONWithoutQuotes = true
}

// Category is the product category enum
type Category string

const (
	CategoryVegetables Category = "Vegetables"
	CategoryFruits     Category = "Fruits"
	CategoryGrains     Category = "Grains"
	CategoryDairy      Category = "Dairy"
	CategoryMeat       Category = "Meat"
	CategoryOther      Category = "Other"
)

// Categories lists every valid product category
var Categories = []Category{
	CategoryVegetables, CategoryFruits, CategoryGrains, CategoryDairy, CategoryMeat, CategoryOther,
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Role is the account role
type Role string

const (
	RoleFarmer   Role = "farmer"
	RoleCustomer Role = "customer"
	RoleBuyer    Role = "buyer"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleCustomer || r == RoleBuyer
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderCart      OrderStatus = "cart"
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// TradeStatus is the lifecycle state of a trade
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeCompleted TradeStatus = "completed"
	TradeCancelled TradeStatus = "cancelled"
)

// Valid reports whether s is a known trade status
func (s TradeStatus) Valid() bool {
	return s == TradePending || s == TradeCompleted || s == TradeCancelled
}

// HoldsStock reports whether a trade in status s keeps its quantity
// reserved against the product's stock.
func (s TradeStatus) HoldsStock() bool {
	return s == TradePending || s == TradeCompleted
}

// Image is a hosted product image reference
type Image struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId,omitempty"`
}

// Product represents a farmer's listing in the catalog
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    Category        `json:"category"`
	Images      []Image         `json:"images"`
	Stock       int             `json:"stock"`
	Location    string          `json:"location"`
	HarvestDate *time.Time      `json:"harvestDate,omitempty"`
	Organic     bool            `json:"organic"`
	FarmerID    int64           `json:"farmerId"`
	Rating      float64         `json:"rating"`
	Reviews     []Review        `json:"reviews,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Review is a customer rating of a product
type Review struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"productId"`
	UserID    int64     `json:"userId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// User represents a user account
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Location     string    `json:"location,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// OrderItem is one line of an order
type OrderItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// Order is a customer order; while its status is cart it is the
// customer's shopping cart.
type Order struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customerId"`
	Items      []OrderItem     `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Line returns the item for productID, or nil
func (o *Order) Line(productID int64) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return &o.Items[i]
		}
	}
	return nil
}

// Trade is the per-line record of a sale
type Trade struct {
	ID        int64           `json:"id"`
	FarmerID  int64           `json:"farmerId"`
	BuyerID   *int64          `json:"buyerId,omitempty"`
	ProductID int64           `json:"productId"`
	OrderID   *int64          `json:"orderId,omitempty"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Status    TradeStatus     `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Expense is a farmer's business expense
type Expense struct {
	ID          int64           `json:"id"`
	FarmerID    int64           `json:"farmerId"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ProductFilter holds catalog query options
type ProductFilter struct {
	Category  Category
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Organic   *bool
	Search    string
	FarmerID  int64
	InStock   bool
	SortBy    string // createdAt, price, rating, name, stock
	SortOrder string // asc, desc
	Page      int
	Limit     int
}

// ProductPage is one page of catalog results
type ProductPage struct {
	Products    []Product `json:"products"`
	TotalPages  int       `json:"totalPages"`
	CurrentPage int       `json:"currentPage"`
	Total       int       `json:"total"`
}

// CartLine is a cart item joined with current product data
type CartLine struct {
	ProductID int64           `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Images    []Image         `json:"images"`
	Stock     int             `json:"stock"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// CartView is the customer's cart as returned to clients
type CartView struct {
	ID     int64           `json:"id,omitempty"`
	Items  []CartLine      `json:"items"`
	Total  decimal.Decimal `json:"total"`
	Status OrderStatus     `json:"status"`
}

// CheckoutResult is the outcome of converting a cart into trades
type CheckoutResult struct {
	Trades []Trade `json:"trades"`
	Order  *Order  `json:"order"`
}
