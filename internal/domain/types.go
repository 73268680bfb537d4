// Package domain defines shared entities used across repositories and services.
package domain

import "time"

// Money values are integer minor units (cents).
type Money = int64

// OrderStatus enumerates the fulfillment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus reflects the state reported by the external payment collaborator.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// ReturnStatus enumerates the lifecycle of a return request.
type ReturnStatus string

const (
	ReturnStatusPending    ReturnStatus = "pending"
	ReturnStatusApproved   ReturnStatus = "approved"
	ReturnStatusRejected   ReturnStatus = "rejected"
	ReturnStatusProcessing ReturnStatus = "processing"
	ReturnStatusCompleted  ReturnStatus = "completed"
	ReturnStatusCancelled  ReturnStatus = "cancelled"
)

// Product is the catalog read-model this core consumes. The catalog subsystem
// owns writes; order processing only reads price and stock information.
type Product struct {
	ID             string
	Name           string
	Slug           string
	Image          string
	Category       string
	PowerLevel     int
	Price          Money
	CompareAtPrice Money
	Stock          int
	TrackInventory bool
	InStock        bool
	UpdatedAt      time.Time
}

// Available reports the purchasable quantity. Products without inventory
// tracking are treated as unlimited.
func (p Product) Available() int {
	if !p.TrackInventory {
		return int(^uint(0) >> 1)
	}
	return p.Stock
}

// HasCapacity reports whether quantity units can be sold right now.
func (p Product) HasCapacity(quantity int) bool {
	if !p.TrackInventory {
		return true
	}
	return p.Stock >= quantity
}

// CartItem is one product line inside a user's cart. At most one item exists
// per (userID, productID); duplicate adds merge by quantity summation.
type CartItem struct {
	ProductID string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt time.Time
}

// Cart holds a customer's pre-checkout selection. One cart per user; the
// user ID doubles as the cart identifier.
type Cart struct {
	UserID    string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLine is a cart item joined with its live product snapshot for display.
type CartLine struct {
	ProductID   string
	Name        string
	Slug        string
	Image       string
	UnitPrice   Money
	Quantity    int
	LineTotal   Money
	Stock       int
	InStock     bool
	IsLowStock  bool
	HasDiscount bool
	AddedAt     time.Time
	UpdatedAt   time.Time
}

// CartTotals carries the derived pricing summary for a cart.
type CartTotals struct {
	Subtotal                Money
	ShippingCost            Money
	Tax                     Money
	Total                   Money
	FreeShippingRemaining   Money
	FreeShippingProgressPct float64
	ItemCount               int
}

// CartIssue describes a single line-level problem found during validation.
type CartIssue struct {
	ProductID string
	Code      string
	Message   string
	Requested int
	Available int
}

// Address is the embedded shipping/billing address on an order.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// OrderItem snapshots catalog data at order time so historical orders stay
// stable when the catalog changes or a product is deleted.
type OrderItem struct {
	ProductID    string
	ProductName  string
	ProductSlug  string
	ProductImage string
	Category     string
	PowerLevel   int
	Quantity     int
	UnitPrice    Money
	LineSubtotal Money
}

// StatusHistoryEntry is one append-only audit record of an order status change.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Notes     string
	Timestamp time.Time
}

// Order is the immutable record of a completed checkout. After creation only
// status, tracking metadata and admin notes may change.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress Address
	BillingAddress  Address
	Items           []OrderItem
	Subtotal        Money
	ShippingCost    Money
	Tax             Money
	Total           Money
	PaymentMethod   string
	PaymentStatus   PaymentStatus
	TransactionID   string
	Status          OrderStatus
	TrackingNumber  string
	Carrier         string
	CustomerNotes   string
	AdminNotes      string
	StatusHistory   []StatusHistoryEntry
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReturnItem is a line of a return request, snapshotted from the submitted
// order items.
type ReturnItem struct {
	ProductID      string
	ProductName    string
	ProductImage   string
	Quantity       int
	UnitPrice      Money
	Reason         string
	ConditionNotes string
}

// Return is a customer request to reverse part or all of a completed order.
type Return struct {
	ID            string
	ReturnNumber  string
	OrderID       string
	OrderNumber   string
	UserID        string
	Items         []ReturnItem
	Reason        string
	RefundAmount  Money
	RefundMethod  string
	CustomerNotes string
	AdminNotes    string
	Status        ReturnStatus
	ProcessedBy   string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderStatistics aggregates order counts and revenue, optionally windowed.
type OrderStatistics struct {
	TotalOrders       int
	CountsByStatus    map[OrderStatus]int
	TotalRevenue      Money
	AverageOrderValue Money
}

// UserOrderStatistics summarises one customer's order history.
type UserOrderStatistics struct {
	TotalOrders       int
	TotalSpent        Money
	AverageOrderValue Money
}

// ReturnStatistics aggregates return counts and refund volume.
type ReturnStatistics struct {
	TotalReturns      int
	CountsByStatus    map[ReturnStatus]int
	TotalRefundAmount Money
	AvgRefundAmount   Money
}

// Page is an offset-paginated result set.
type Page[T any] struct {
	Items      []T
	Page       int
	Limit      int
	TotalItems int
	TotalPages int
}

// PageRequest carries page/limit parameters. Page is 1-based.
type PageRequest struct {
	Page  int
	Limit int
}

// RangeQuery bounds a field between optional inclusive endpoints.
type RangeQuery[T any] struct {
	From *T
	To   *T
}
