// Package services implements the storefront order-processing business logic
// on top of the repository contracts.
package services

import (
	"context"
	"time"

	domain "github.com/voltlane/api/internal/domain"
)

// StockService exposes read-only stock availability checks.
type StockService interface {
	// Available reports the purchasable quantity for the product.
	Available(ctx context.Context, productID string) (int, error)
	// HasCapacity reports whether quantity units can be sold right now.
	HasCapacity(ctx context.Context, productID string, quantity int) (bool, error)
}

// CartService manages a user's pre-checkout selection.
type CartService interface {
	AddOrUpdateItem(ctx context.Context, cmd AddCartItemCommand) (CartItemResult, error)
	SetItemQuantity(ctx context.Context, cmd SetCartItemQuantityCommand) (domain.Cart, error)
	RemoveItem(ctx context.Context, userID string, productID string) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) (int, error)
	GetCart(ctx context.Context, userID string) (CartView, error)
	GetTotals(ctx context.Context, userID string) (domain.CartTotals, error)
	MergeGuestCart(ctx context.Context, cmd MergeGuestCartCommand) (MergeGuestCartResult, error)
	Validate(ctx context.Context, userID string) ([]domain.CartIssue, error)
}

// OrderService owns order creation, lookup and the status machine.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string, userID string) (domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string, userID string) (domain.Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.Page[domain.Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderStatusCommand) (domain.Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	UpdateTracking(ctx context.Context, cmd UpdateTrackingCommand) (domain.Order, error)
	UpdateAdminNotes(ctx context.Context, orderID string, notes string) (domain.Order, error)
	GetStatistics(ctx context.Context, query StatisticsQuery) (domain.OrderStatistics, error)
	GetUserStatistics(ctx context.Context, userID string) (domain.UserOrderStatistics, error)
}

// ReturnsService owns the return/refund workflow.
type ReturnsService interface {
	CreateReturn(ctx context.Context, cmd CreateReturnCommand) (domain.Return, error)
	GetReturn(ctx context.Context, returnID string, userID string) (domain.Return, error)
	GetReturnByNumber(ctx context.Context, returnNumber string, userID string) (domain.Return, error)
	ListReturns(ctx context.Context, query ListReturnsQuery) (domain.Page[domain.Return], error)
	UpdateStatus(ctx context.Context, cmd UpdateReturnStatusCommand) (domain.Return, error)
	UpdateRefundAmount(ctx context.Context, returnID string, amount domain.Money) (domain.Return, error)
	CancelReturn(ctx context.Context, returnID string, userID string) (domain.Return, error)
	GetReturnStats(ctx context.Context) (domain.ReturnStatistics, error)
}

// StatisticsService composes the storefront reporting rollup.
type StatisticsService interface {
	Overview(ctx context.Context, query StatisticsQuery) (StorefrontStatistics, error)
}

// NotificationPublisher delivers customer-facing status notifications.
// Publishing happens after commit and is best effort.
type NotificationPublisher interface {
	PublishStatusNotification(ctx context.Context, message StatusNotification) (string, error)
}

// StatusNotification is the payload handed to the email worker.
type StatusNotification struct {
	OrderID        string `json:"orderId"`
	OrderNumber    string `json:"orderNumber"`
	Status         string `json:"status"`
	Recipient      string `json:"recipient"`
	RecipientName  string `json:"recipientName,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	Carrier        string `json:"carrier,omitempty"`
}

// AddCartItemCommand merges quantity into the user's cart line.
type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// SetCartItemQuantityCommand replaces the stored quantity. Zero removes the line.
type SetCartItemQuantityCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// CartItemResult reports the outcome of an item mutation.
type CartItemResult struct {
	Cart     domain.Cart
	Quantity int
	Created  bool
}

// CartView is the cart joined with live product data plus derived totals.
type CartView struct {
	UserID    string
	Lines     []domain.CartLine
	Totals    domain.CartTotals
	UpdatedAt time.Time
}

// GuestCartItem is one line carried over from an anonymous session.
type GuestCartItem struct {
	ProductID string
	Quantity  int
}

// MergeGuestCartCommand merges an anonymous cart into the user's cart at login.
type MergeGuestCartCommand struct {
	UserID string
	Items  []GuestCartItem
}

// MergeLineResult reports the per-line outcome of a guest cart merge.
type MergeLineResult struct {
	ProductID string
	Merged    bool
	Quantity  int
	Issue     *domain.CartIssue
}

// MergeGuestCartResult carries the merged cart and per-line outcomes.
type MergeGuestCartResult struct {
	Cart  domain.Cart
	Lines []MergeLineResult
}

// OrderLineInput is one requested order line. Pricing and catalog snapshots
// come from the live catalog, never from the client.
type OrderLineInput struct {
	ProductID string
	Quantity  int
}

// CreateOrderCommand is the checkout payload.
type CreateOrderCommand struct {
	UserID          string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	ShippingAddress domain.Address
	BillingAddress  domain.Address
	Items           []OrderLineInput
	PaymentMethod   string
	PaymentStatus   domain.PaymentStatus
	TransactionID   string
	CustomerNotes   string
	// ClientTotal is the total the client displayed. It is never trusted;
	// a mismatch with the server-computed total is logged.
	ClientTotal *domain.Money
}

// ListOrdersQuery filters the order list.
type ListOrdersQuery struct {
	UserID   string
	Status   []domain.OrderStatus
	Search   string
	DateFrom *time.Time
	DateTo   *time.Time
	Page     int
	Limit    int
}

// TransitionOrderStatusCommand moves an order along the status graph.
type TransitionOrderStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
	Notes   string
}

// CancelOrderCommand is the customer-initiated cancellation.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// UpdateTrackingCommand mutates shipment metadata.
type UpdateTrackingCommand struct {
	OrderID        string
	TrackingNumber *string
	Carrier        *string
}

// StatisticsQuery optionally windows statistics by creation date.
type StatisticsQuery struct {
	DateFrom *time.Time
	DateTo   *time.Time
}

// ReturnLineInput is one requested return line.
type ReturnLineInput struct {
	ProductID      string
	ProductName    string
	ProductImage   string
	Quantity       int
	UnitPrice      domain.Money
	Reason         string
	ConditionNotes string
}

// CreateReturnCommand opens a return against a delivered order, referenced by
// ID or by order number.
type CreateReturnCommand struct {
	UserID        string
	OrderID       string
	OrderNumber   string
	Items         []ReturnLineInput
	Reason        string
	RefundMethod  string
	CustomerNotes string
}

// ListReturnsQuery filters the returns list.
type ListReturnsQuery struct {
	UserID string
	Status []domain.ReturnStatus
	Page   int
	Limit  int
}

// UpdateReturnStatusCommand is the admin-side return processing action.
type UpdateReturnStatusCommand struct {
	ReturnID     string
	Status       domain.ReturnStatus
	ProcessedBy  string
	AdminNotes   *string
	RefundMethod *string
}

// StorefrontStatistics is the composed reporting rollup.
type StorefrontStatistics struct {
	Orders  domain.OrderStatistics
	Returns domain.ReturnStatistics
}
