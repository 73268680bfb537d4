// Package repositories declares the persistence contracts consumed by the
// service layer. Concrete Firestore implementations live in the firestore
// subpackage.
package repositories

import (
	"context"
	"time"

	domain "github.com/voltlane/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository is the read view over the catalog plus the two stock
// mutation primitives the order transaction needs. Catalog CRUD is owned by
// an external subsystem.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// CartRepository owns cart persistence. Item mutations run inside a storage
// transaction so the capacity check is evaluated against the post-merge
// quantity, never a stale read. RemoveItem reports not-found when the cart
// or the line does not exist.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	UpsertItem(ctx context.Context, req CartItemUpsertRequest) (CartItemUpsertResult, error)
	RemoveItem(ctx context.Context, userID string, productID string, now time.Time) (domain.Cart, error)
	ClearItems(ctx context.Context, userID string, now time.Time) (int, error)
}

// CartUpsertMode selects merge-by-addition or replacement semantics.
type CartUpsertMode string

const (
	// CartUpsertAdd merges the requested quantity into any existing line.
	CartUpsertAdd CartUpsertMode = "add"
	// CartUpsertSet replaces the stored quantity.
	CartUpsertSet CartUpsertMode = "set"
)

// CartItemUpsertRequest mutates a single cart line under a transaction.
// MaxQuantity, when positive, caps the post-merge quantity so repeated adds
// cannot push a line past the ceiling.
type CartItemUpsertRequest struct {
	UserID      string
	ProductID   string
	Quantity    int
	MaxQuantity int
	Mode        CartUpsertMode
	Now         time.Time
}

// CartItemUpsertResult reports the outcome of an item mutation.
type CartItemUpsertResult struct {
	Cart     domain.Cart
	Quantity int
	Created  bool
}

// OrderCreateRequest bundles everything the order-creation transaction must
// write atomically: the order header with embedded items, the unique
// order-number index entry, the initial status-history record and the
// per-line stock decrements.
type OrderCreateRequest struct {
	Order          domain.Order
	InitialHistory domain.StatusHistoryEntry
	StockLines     []StockLine
	Now            time.Time
}

// StockLine is one product/quantity pair to decrement (or restore).
type StockLine struct {
	ProductID string
	Quantity  int
}

// OrderStatusUpdate writes a status change and its history entry in one
// transaction. RestoreStock is set when the transition is a cancellation.
type OrderStatusUpdate struct {
	OrderID      string
	Status       domain.OrderStatus
	History      domain.StatusHistoryEntry
	RestoreStock []StockLine
	Now          time.Time
}

// OrderMetadataUpdate mutates tracking/admin fields without touching status
// or history.
type OrderMetadataUpdate struct {
	OrderID        string
	TrackingNumber *string
	Carrier        *string
	AdminNotes     *string
	Now            time.Time
}

// OrderRepository persists order aggregates and their append-only history.
type OrderRepository interface {
	Create(ctx context.Context, req OrderCreateRequest) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
	UpdateMetadata(ctx context.Context, update OrderMetadataUpdate) (domain.Order, error)
}

// OrderListFilter controls admin/user order queries.
type OrderListFilter struct {
	UserID    string
	Status    []domain.OrderStatus
	Search    string
	DateRange domain.RangeQuery[time.Time]
	Page      domain.PageRequest
}

// ReturnCreateRequest is the atomic unit for return creation: header with
// embedded items plus the unique return-number index entry.
type ReturnCreateRequest struct {
	Return domain.Return
	Now    time.Time
}

// ReturnStatusUpdate writes a return status change and its processing
// metadata in one transaction.
type ReturnStatusUpdate struct {
	ReturnID     string
	Status       domain.ReturnStatus
	ProcessedBy  string
	AdminNotes   *string
	RefundMethod *string
	Now          time.Time
}

// ReturnRepository persists return aggregates.
type ReturnRepository interface {
	Create(ctx context.Context, req ReturnCreateRequest) error
	FindByID(ctx context.Context, returnID string) (domain.Return, error)
	FindByNumber(ctx context.Context, returnNumber string) (domain.Return, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.Page[domain.Return], error)
	UpdateStatus(ctx context.Context, update ReturnStatusUpdate) (domain.Return, error)
	UpdateRefundAmount(ctx context.Context, returnID string, amount domain.Money, now time.Time) (domain.Return, error)
}

// ReturnListFilter controls return queries.
type ReturnListFilter struct {
	UserID string
	Status []domain.ReturnStatus
	Page   domain.PageRequest
}

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Returns() ReturnRepository
}
