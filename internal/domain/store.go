package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order status values.
const (
	OrderStatusPending   = "Pending"
	OrderStatusCompleted = "Completed"
	OrderStatusFailed    = "Failed"
)

// Product is one catalog entry.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
}

// Order is one placed order.
type Order struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// OrderLine is one line of an order. UnitPrice captures the product price at
// the time of purchase; later price changes never alter a placed order.
type OrderLine struct {
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderRequestLine is one requested line of a new order. Products are
// resolved by case-insensitive name lookup.
type OrderRequestLine struct {
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
}

// OrderReceiptLine is the per-line breakdown of a placed order.
type OrderReceiptLine struct {
	ProductName string          `json:"name"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// OrderReceipt is the result of a successful order placement.
type OrderReceipt struct {
	OrderID    string             `json:"order_id"`
	CustomerID string             `json:"customer_id"`
	Total      decimal.Decimal    `json:"total_amount"`
	Lines      []OrderReceiptLine `json:"products"`
}

// ProductSearch holds the optional filters of a catalog search.
type ProductSearch struct {
	Query    string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

// OrderSummary is one row of a customer's order history.
type OrderSummary struct {
	OrderID   string          `json:"order_id"`
	CreatedAt time.Time       `json:"order_date"`
	Status    string          `json:"status"`
	ItemCount int64           `json:"item_count"`
	Total     decimal.Decimal `json:"total_amount"`
}

// OrderDetail is one order with its product listing, scoped to a customer.
type OrderDetail struct {
	OrderID   string          `json:"order_id"`
	CreatedAt time.Time       `json:"order_date"`
	Status    string          `json:"order_status"`
	Products  string          `json:"products"`
	Total     decimal.Decimal `json:"total_amount"`
}

// ProductStore is the catalog and order persistence boundary.
type ProductStore interface {
	// PlaceOrder creates an order atomically: either every line is
	// inserted and every stock decrement applies, or nothing does.
	PlaceOrder(ctx context.Context, customerID string, lines []OrderRequestLine) (*OrderReceipt, error)
	SearchProducts(ctx context.Context, search ProductSearch) ([]Product, error)
	Categories(ctx context.Context) ([]string, error)
	Recommendations(ctx context.Context, customerID string, limit int) ([]Product, error)
	OrderByID(ctx context.Context, customerID, orderID string) (*OrderDetail, error)
	OrdersForCustomer(ctx context.Context, customerID string) ([]OrderSummary, error)
}
