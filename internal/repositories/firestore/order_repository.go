package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/voltlane/api/internal/domain"
	pfirestore "github.com/voltlane/api/internal/platform/firestore"
	"github.com/voltlane/api/internal/repositories"
)

const (
	orderCollection       = "orders"
	orderNumberCollection = "orderNumbers"
	statusHistorySubcoll  = "statusHistory"
	defaultOrderPageLimit = 20
	maxOrderPageLimit     = 100
)

// OrderRepository persists order aggregates. Creation writes the order
// header, the unique order-number index entry, the first history record and
// the stock decrements in a single transaction.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	numbers  *pfirestore.BaseRepository[orderNumberDocument]
	products *ProductRepository
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider, products *ProductRepository) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	if products == nil {
		return nil, errors.New("order repository requires product repository")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil)
	numbers := pfirestore.NewBaseRepository[orderNumberDocument](provider, orderNumberCollection, nil)
	return &OrderRepository{
		base:     base,
		numbers:  numbers,
		products: products,
		provider: provider,
	}, nil
}

// Create writes the order atomically. A duplicate order number surfaces as a
// conflict; insufficient stock surfaces as a StockError and nothing is
// written.
func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order create: order id is required")
	}
	if strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("order create: order number is required")
	}
	if len(order.Items) == 0 {
		return errors.New("order create: at least one item is required")
	}

	now := req.Now.UTC()

	// Checkout should fail fast rather than retry through a long backoff.
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		numberRef, err := r.numbers.DocumentRef(ctx, order.OrderNumber)
		if err != nil {
			return err
		}

		// All transaction reads must precede the first write.
		stockWrites, err := r.products.prepareStockDecrement(ctx, tx, req.StockLines, now)
		if err != nil {
			return err
		}

		numberDoc := orderNumberDocument{OrderID: order.ID, CreatedAt: now}
		if err := tx.Create(numberRef, numberDoc); err != nil {
			return err
		}
		if err := tx.Create(orderRef, newOrderDocument(order, now)); err != nil {
			return err
		}

		historyRef := orderRef.Collection(statusHistorySubcoll).NewDoc()
		if err := tx.Create(historyRef, newStatusHistoryDocument(req.InitialHistory)); err != nil {
			return err
		}

		return applyStockWrites(tx, stockWrites)
	}, pfirestore.WithTxAttempts(3), pfirestore.WithTxTimeout(10*time.Second))
	if err != nil {
		return wrapStockError("orders.create", err)
	}
	return nil
}

// FindByID loads an order with its full status history.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, oid)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data.toDomain(doc.ID)

	history, err := r.loadHistory(ctx, oid)
	if err != nil {
		return domain.Order{}, err
	}
	order.StatusHistory = history
	return order, nil
}

// FindByNumber resolves the unique order number to an order.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if r == nil || r.numbers == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}

	doc, err := r.numbers.Get(ctx, number)
	if err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, doc.Data.OrderID)
}

// List returns an offset-paginated page of orders. History is not loaded for
// list rows.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}

	page := filter.Page.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Page.Limit
	if limit <= 0 {
		limit = defaultOrderPageLimit
	}
	if limit > maxOrderPageLimit {
		limit = maxOrderPageLimit
	}

	equalityFilters := func(query firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			query = query.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, len(filter.Status))
			for i, s := range filter.Status {
				statuses[i] = string(s)
			}
			query = query.Where("status", "in", statuses)
		}
		return query
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		return r.listWithSearch(ctx, filter, equalityFilters, search, page, limit)
	}

	build := func(query firestore.Query) firestore.Query {
		query = equalityFilters(query)
		if filter.DateRange.From != nil {
			query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		return query.OrderBy("createdAt", firestore.Desc)
	}

	total, err := r.base.Count(ctx, build)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return build(query).Offset((page - 1) * limit).Limit(limit)
	})
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	orders := make([]domain.Order, len(docs))
	for i, doc := range docs {
		orders[i] = doc.Data.toDomain(doc.ID)
	}

	return domain.Page[domain.Order]{
		Items:      orders,
		Page:       page,
		Limit:      limit,
		TotalItems: total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// searchable fields for the free-text order search.
var orderSearchFields = []string{"orderNumber", "customerName", "customerEmail"}

// listWithSearch runs one prefix query per searchable field and merges the
// results. Firestore allows a single inequality field per query, so the date
// range is applied in memory here.
func (r *OrderRepository) listWithSearch(ctx context.Context, filter repositories.OrderListFilter, equalityFilters func(firestore.Query) firestore.Query, search string, page, limit int) (domain.Page[domain.Order], error) {
	merged := make(map[string]domain.Order)
	for _, field := range orderSearchFields {
		f := field
		docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
			return equalityFilters(query).
				Where(f, ">=", search).
				Where(f, "<=", search+"\uf8ff").
				OrderBy(f, firestore.Asc)
		})
		if err != nil {
			return domain.Page[domain.Order]{}, err
		}
		for _, doc := range docs {
			if _, seen := merged[doc.ID]; seen {
				continue
			}
			merged[doc.ID] = doc.Data.toDomain(doc.ID)
		}
	}

	orders := make([]domain.Order, 0, len(merged))
	for _, order := range merged {
		if filter.DateRange.From != nil && order.CreatedAt.Before(filter.DateRange.From.UTC()) {
			continue
		}
		if filter.DateRange.To != nil && order.CreatedAt.After(filter.DateRange.To.UTC()) {
			continue
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	total := len(orders)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return domain.Page[domain.Order]{
		Items:      orders[start:end],
		Page:       page,
		Limit:      limit,
		TotalItems: total,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// UpdateStatus writes the status change, appends the history record and, for
// cancellations, restores the decremented stock in the same transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	oid := strings.TrimSpace(update.OrderID)
	if oid == "" {
		return domain.Order{}, errors.New("order status update: order id is required")
	}

	now := update.Now.UTC()

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.base.DocumentRef(ctx, oid)
		if err != nil {
			return err
		}
		if _, err := tx.Get(orderRef); err != nil {
			return err
		}

		stockWrites, err := r.products.prepareStockRestore(ctx, tx, update.RestoreStock, now)
		if err != nil {
			return err
		}

		updates := []firestore.Update{
			{Path: "status", Value: string(update.Status)},
			{Path: "updatedAt", Value: now},
		}
		if err := tx.Update(orderRef, updates); err != nil {
			return err
		}

		historyRef := orderRef.Collection(statusHistorySubcoll).NewDoc()
		if err := tx.Create(historyRef, newStatusHistoryDocument(update.History)); err != nil {
			return err
		}

		return applyStockWrites(tx, stockWrites)
	})
	if err != nil {
		return domain.Order{}, wrapStockError("orders.updateStatus", err)
	}

	return r.FindByID(ctx, oid)
}

// UpdateMetadata mutates tracking and admin fields without touching status or
// history.
func (r *OrderRepository) UpdateMetadata(ctx context.Context, update repositories.OrderMetadataUpdate) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	oid := strings.TrimSpace(update.OrderID)
	if oid == "" {
		return domain.Order{}, errors.New("order metadata update: order id is required")
	}

	updates := []firestore.Update{
		{Path: "updatedAt", Value: update.Now.UTC()},
	}
	if update.TrackingNumber != nil {
		updates = append(updates, firestore.Update{Path: "trackingNumber", Value: strings.TrimSpace(*update.TrackingNumber)})
	}
	if update.Carrier != nil {
		updates = append(updates, firestore.Update{Path: "carrier", Value: strings.TrimSpace(*update.Carrier)})
	}
	if update.AdminNotes != nil {
		updates = append(updates, firestore.Update{Path: "adminNotes", Value: strings.TrimSpace(*update.AdminNotes)})
	}

	if _, err := r.base.Update(ctx, oid, updates); err != nil {
		return domain.Order{}, err
	}
	return r.FindByID(ctx, oid)
}

func (r *OrderRepository) loadHistory(ctx context.Context, orderID string) ([]domain.StatusHistoryEntry, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	// History reads newest first.
	query := client.Collection(orderCollection).Doc(orderID).
		Collection(statusHistorySubcoll).
		OrderBy("timestamp", firestore.Desc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var history []domain.StatusHistoryEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("orders.history", err)
		}
		var doc statusHistoryDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode status history %s: %w", snap.Ref.ID, err)
		}
		history = append(history, domain.StatusHistoryEntry{
			Status:    domain.OrderStatus(doc.Status),
			Notes:     doc.Notes,
			Timestamp: doc.Timestamp,
		})
	}
	return history, nil
}

// Helper structures ---------------------------------------------------------

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type orderDocument struct {
	OrderNumber     string              `firestore:"orderNumber"`
	UserID          string              `firestore:"userId"`
	CustomerName    string              `firestore:"customerName"`
	CustomerEmail   string              `firestore:"customerEmail"`
	CustomerPhone   string              `firestore:"customerPhone,omitempty"`
	ShippingAddress addressDocument     `firestore:"shippingAddress"`
	BillingAddress  addressDocument     `firestore:"billingAddress"`
	Items           []orderItemDocument `firestore:"items"`
	Subtotal        int64               `firestore:"subtotal"`
	ShippingCost    int64               `firestore:"shippingCost"`
	Tax             int64               `firestore:"tax"`
	Total           int64               `firestore:"total"`
	PaymentMethod   string              `firestore:"paymentMethod"`
	PaymentStatus   string              `firestore:"paymentStatus"`
	TransactionID   string              `firestore:"transactionId,omitempty"`
	Status          string              `firestore:"status"`
	TrackingNumber  string              `firestore:"trackingNumber,omitempty"`
	Carrier         string              `firestore:"carrier,omitempty"`
	CustomerNotes   string              `firestore:"customerNotes,omitempty"`
	AdminNotes      string              `firestore:"adminNotes,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	UpdatedAt       time.Time           `firestore:"updatedAt"`
}

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type orderItemDocument struct {
	ProductID    string `firestore:"productId"`
	ProductName  string `firestore:"productName"`
	ProductSlug  string `firestore:"productSlug,omitempty"`
	ProductImage string `firestore:"productImage,omitempty"`
	Category     string `firestore:"category,omitempty"`
	PowerLevel   int    `firestore:"powerLevel,omitempty"`
	Quantity     int    `firestore:"quantity"`
	UnitPrice    int64  `firestore:"unitPrice"`
	LineSubtotal int64  `firestore:"lineSubtotal"`
}

type statusHistoryDocument struct {
	Status    string    `firestore:"status"`
	Notes     string    `firestore:"notes,omitempty"`
	Timestamp time.Time `firestore:"timestamp"`
}

func newOrderDocument(order domain.Order, now time.Time) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductSlug:  item.ProductSlug,
			ProductImage: item.ProductImage,
			Category:     item.Category,
			PowerLevel:   item.PowerLevel,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineSubtotal: item.LineSubtotal,
		}
	}

	createdAt := order.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	return orderDocument{
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		CustomerName:    strings.TrimSpace(order.CustomerName),
		CustomerEmail:   strings.TrimSpace(order.CustomerEmail),
		CustomerPhone:   strings.TrimSpace(order.CustomerPhone),
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		BillingAddress:  newAddressDocument(order.BillingAddress),
		Items:           items,
		Subtotal:        order.Subtotal,
		ShippingCost:    order.ShippingCost,
		Tax:             order.Tax,
		Total:           order.Total,
		PaymentMethod:   strings.TrimSpace(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		TransactionID:   strings.TrimSpace(order.TransactionID),
		Status:          string(order.Status),
		TrackingNumber:  strings.TrimSpace(order.TrackingNumber),
		Carrier:         strings.TrimSpace(order.Carrier),
		CustomerNotes:   strings.TrimSpace(order.CustomerNotes),
		AdminNotes:      strings.TrimSpace(order.AdminNotes),
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	}
}

func newAddressDocument(address domain.Address) addressDocument {
	return addressDocument{
		Line1:      strings.TrimSpace(address.Line1),
		Line2:      strings.TrimSpace(address.Line2),
		City:       strings.TrimSpace(address.City),
		State:      strings.TrimSpace(address.State),
		PostalCode: strings.TrimSpace(address.PostalCode),
		Country:    strings.TrimSpace(address.Country),
	}
}

func newStatusHistoryDocument(entry domain.StatusHistoryEntry) statusHistoryDocument {
	return statusHistoryDocument{
		Status:    string(entry.Status),
		Notes:     strings.TrimSpace(entry.Notes),
		Timestamp: entry.Timestamp.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductSlug:  item.ProductSlug,
			ProductImage: item.ProductImage,
			Category:     item.Category,
			PowerLevel:   item.PowerLevel,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			LineSubtotal: item.LineSubtotal,
		}
	}
	return domain.Order{
		ID:              id,
		OrderNumber:     d.OrderNumber,
		UserID:          d.UserID,
		CustomerName:    d.CustomerName,
		CustomerEmail:   d.CustomerEmail,
		CustomerPhone:   d.CustomerPhone,
		ShippingAddress: d.ShippingAddress.toDomain(),
		BillingAddress:  d.BillingAddress.toDomain(),
		Items:           items,
		Subtotal:        d.Subtotal,
		ShippingCost:    d.ShippingCost,
		Tax:             d.Tax,
		Total:           d.Total,
		PaymentMethod:   d.PaymentMethod,
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		TransactionID:   d.TransactionID,
		Status:          domain.OrderStatus(d.Status),
		TrackingNumber:  d.TrackingNumber,
		Carrier:         d.Carrier,
		CustomerNotes:   d.CustomerNotes,
		AdminNotes:      d.AdminNotes,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
