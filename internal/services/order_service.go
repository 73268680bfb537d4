package services

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/voltlane/api/internal/domain"
	"github.com/voltlane/api/internal/repositories"
)

var (
	errOrderRepositoryRequired = errors.New("order service: order repository is required")
	errOrderCatalogRequired    = errors.New("order service: product repository is required")
	errOrderClockRequired      = errors.New("order service: clock is required")
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderNotFound indicates the requested order does not exist or is not
// visible to the caller.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderConflict indicates the order could not be written due to a
// conflicting concurrent operation.
var ErrOrderConflict = errors.New("order service: conflict")

// ErrOrderUnavailable indicates the order service cannot fulfil the request due to backend issues.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// ErrOrderInvalidTransition indicates the requested status change is not
// allowed from the order's current status.
var ErrOrderInvalidTransition = errors.New("order service: invalid status transition")

// orderTransitions is the forward edge set of the status graph. Cancellation
// is handled separately: it is reachable from every non-terminal status.
var orderTransitions = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusPending:    domain.OrderStatusProcessing,
	domain.OrderStatusProcessing: domain.OrderStatusShipped,
	domain.OrderStatusShipped:    domain.OrderStatusDelivered,
}

func isTerminalOrderStatus(status domain.OrderStatus) bool {
	return status == domain.OrderStatusDelivered || status == domain.OrderStatusCancelled
}

// canTransitionOrder reports whether from may move to to. Re-applying the
// current status is always allowed and records a duplicate history entry.
func canTransitionOrder(from, to domain.OrderStatus) bool {
	if from == to {
		return true
	}
	if to == domain.OrderStatusCancelled {
		return !isTerminalOrderStatus(from)
	}
	return orderTransitions[from] == to
}

func isKnownOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusProcessing, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled:
		return true
	}
	return false
}

// OrderServiceDeps wires the repositories and collaborators for order operations.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Carts    repositories.CartRepository
	Notifier NotificationPublisher
	Pricing  Pricing
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
	// IDGenerator yields surrogate order IDs; defaults to ULIDs.
	IDGenerator func() string
}

type orderService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	carts    repositories.CartRepository
	notifier NotificationPublisher
	pricing  Pricing
	newID    func() string
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errOrderRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errOrderCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errOrderClockRequired
	}

	pricing := deps.Pricing
	if pricing == (Pricing{}) {
		pricing = DefaultPricing()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		carts:    deps.Carts,
		notifier: deps.Notifier,
		pricing:  pricing,
		newID:    idGen,
		now:      func() time.Time { return deps.Clock().UTC() },
		logger:   logger,
	}, nil
}

// Create runs checkout: it snapshots catalog data onto the order lines,
// recomputes the totals server-side, and persists the order header, the
// unique order-number index, the first history entry and the stock
// decrements in one transaction. An empty user id is a guest checkout.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, ErrOrderUnavailable
	}

	uid := strings.TrimSpace(cmd.UserID)
	name := strings.TrimSpace(cmd.CustomerName)
	if name == "" {
		return domain.Order{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	email := strings.TrimSpace(cmd.CustomerEmail)
	if email == "" || !strings.Contains(email, "@") {
		return domain.Order{}, fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if err := validateOrderAddress(cmd.ShippingAddress); err != nil {
		return domain.Order{}, err
	}

	quantities := make(map[string]int, len(cmd.Items))
	orderedIDs := make([]string, 0, len(cmd.Items))
	for _, line := range cmd.Items {
		pid := strings.TrimSpace(line.ProductID)
		if pid == "" {
			return domain.Order{}, fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
		}
		if _, seen := quantities[pid]; !seen {
			orderedIDs = append(orderedIDs, pid)
		}
		quantities[pid] += line.Quantity
	}

	products, err := s.products.FindByIDs(ctx, orderedIDs)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}

	items := make([]domain.OrderItem, 0, len(orderedIDs))
	stockLines := make([]repositories.StockLine, 0, len(orderedIDs))
	var subtotal domain.Money
	itemCount := 0
	for _, pid := range orderedIDs {
		product, ok := products[pid]
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: unknown product %s", ErrOrderInvalidInput, pid)
		}
		quantity := quantities[pid]
		lineSubtotal := product.Price * domain.Money(quantity)
		items = append(items, domain.OrderItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductSlug:  product.Slug,
			ProductImage: product.Image,
			Category:     product.Category,
			PowerLevel:   product.PowerLevel,
			Quantity:     quantity,
			UnitPrice:    product.Price,
			LineSubtotal: lineSubtotal,
		})
		stockLines = append(stockLines, repositories.StockLine{ProductID: product.ID, Quantity: quantity})
		subtotal += lineSubtotal
		itemCount += quantity
	}

	totals := s.pricing.Totals(subtotal, itemCount)
	now := s.now()

	if cmd.ClientTotal != nil && *cmd.ClientTotal != totals.Total {
		s.logger(ctx, "order.totals_mismatch", map[string]any{
			"userID":      uid,
			"clientTotal": *cmd.ClientTotal,
			"serverTotal": totals.Total,
		})
	}

	paymentStatus := cmd.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = domain.PaymentStatusPending
	}

	billing := cmd.BillingAddress
	if billing == (domain.Address{}) {
		billing = cmd.ShippingAddress
	}

	order := domain.Order{
		ID:              "ord_" + s.newID(),
		OrderNumber:     newOrderNumber(now),
		UserID:          uid,
		CustomerName:    name,
		CustomerEmail:   email,
		CustomerPhone:   strings.TrimSpace(cmd.CustomerPhone),
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  billing,
		Items:           items,
		Subtotal:        totals.Subtotal,
		ShippingCost:    totals.ShippingCost,
		Tax:             totals.Tax,
		Total:           totals.Total,
		PaymentMethod:   strings.TrimSpace(cmd.PaymentMethod),
		PaymentStatus:   paymentStatus,
		TransactionID:   strings.TrimSpace(cmd.TransactionID),
		Status:          domain.OrderStatusPending,
		CustomerNotes:   strings.TrimSpace(cmd.CustomerNotes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.orders.Create(ctx, repositories.OrderCreateRequest{
		Order: order,
		InitialHistory: domain.StatusHistoryEntry{
			Status:    domain.OrderStatusPending,
			Notes:     "Order created",
			Timestamp: now,
		},
		StockLines: stockLines,
		Now:        now,
	})
	if err != nil {
		translated := shortageFromRepo(err)
		var shortage *StockShortageError
		if errors.As(translated, &shortage) {
			s.logger(ctx, "order.insufficient_stock", map[string]any{
				"userID":    uid,
				"productID": shortage.ProductID,
				"requested": shortage.Requested,
				"available": shortage.Available,
			})
			return domain.Order{}, translated
		}
		if errors.Is(translated, ErrStockProductNotFound) {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, translated)
		}
		return domain.Order{}, s.translateRepoError(translated)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderID":     order.ID,
		"orderNumber": order.OrderNumber,
		"userID":      uid,
		"total":       order.Total,
	})

	// Best effort: empty the user's cart after checkout. Guests have no
	// stored cart to clear.
	if s.carts != nil && uid != "" {
		if _, err := s.carts.ClearItems(ctx, uid, now); err != nil {
			s.logger(ctx, "order.cart_clear_failed", map[string]any{
				"orderID": order.ID,
				"userID":  uid,
				"error":   err.Error(),
			})
		}
	}

	s.notify(ctx, order)

	created, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		// The order is committed; fall back to the in-memory copy.
		order.StatusHistory = []domain.StatusHistoryEntry{{
			Status:    domain.OrderStatusPending,
			Notes:     "Order created",
			Timestamp: now,
		}}
		return order, nil
	}
	return created, nil
}

// GetOrder loads an order. A non-empty userID scopes visibility to the owner.
func (s *orderService) GetOrder(ctx context.Context, orderID string, userID string) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, ErrOrderUnavailable
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, oid)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	if uid := strings.TrimSpace(userID); uid != "" && order.UserID != uid {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// GetOrderByNumber resolves an order by its customer-facing number.
func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string, userID string) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, ErrOrderUnavailable
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	if uid := strings.TrimSpace(userID); uid != "" && order.UserID != uid {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns a filtered, offset-paginated page of orders.
func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.Page[domain.Order], error) {
	if s == nil || s.orders == nil {
		return domain.Page[domain.Order]{}, ErrOrderUnavailable
	}

	for _, status := range query.Status {
		if !isKnownOrderStatus(status) {
			return domain.Page[domain.Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: strings.TrimSpace(query.UserID),
		Status: query.Status,
		Search: strings.TrimSpace(query.Search),
		DateRange: domain.RangeQuery[time.Time]{
			From: query.DateFrom,
			To:   query.DateTo,
		},
		Page: domain.PageRequest{Page: query.Page, Limit: query.Limit},
	})
	if err != nil {
		return domain.Page[domain.Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// TransitionStatus moves the order along the status graph. The status write
// and the history append commit together; cancelling restores stock in the
// same transaction.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderStatusCommand) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, ErrOrderUnavailable
	}
	oid := strings.TrimSpace(cmd.OrderID)
	if oid == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}
	if !isKnownOrderStatus(cmd.Status) {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, oid)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}

	if !canTransitionOrder(order.Status, cmd.Status) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, cmd.Status)
	}

	return s.applyTransition(ctx, order, cmd.Status, cmd.Notes)
}

// CancelOrder is the customer-facing cancellation: owner only, pending only.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, ErrOrderUnavailable
	}
	oid := strings.TrimSpace(cmd.OrderID)
	uid := strings.TrimSpace(cmd.UserID)
	if oid == "" || uid == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, oid)
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	if order.UserID != uid {
		return domain.Order{}, ErrOrderNotFound
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: only pending orders can be cancelled", ErrOrderInvalidTransition)
	}

	notes := strings.TrimSpace(cmd.Reason)
	if notes == "" {
		notes = "Cancelled by customer"
	}
	return s.applyTransition(ctx, order, domain.OrderStatusCancelled, notes)
}

func (s *orderService) applyTransition(ctx context.Context, order domain.Order, to domain.OrderStatus, notes string) (domain.Order, error) {
	now := s.now()
	if strings.TrimSpace(notes) == "" {
		notes = fmt.Sprintf("Status changed to %s", to)
	}

	var restore []repositories.StockLine
	if to == domain.OrderStatusCancelled && order.Status != domain.OrderStatusCancelled {
		restore = make([]repositories.StockLine, 0, len(order.Items))
		for _, item := range order.Items {
			restore = append(restore, repositories.StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
		}
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID: order.ID,
		Status:  to,
		History: domain.StatusHistoryEntry{
			Status:    to,
			Notes:     notes,
			Timestamp: now,
		},
		RestoreStock: restore,
		Now:          now,
	})
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}

	s.logger(ctx, "order.status_changed", map[string]any{
		"orderID":     updated.ID,
		"orderNumber": updated.OrderNumber,
		"from":        order.Status,
		"to":          to,
	})

	s.notify(ctx, updated)
	return updated, nil
}

// UpdateTracking mutates shipment metadata without touching status history.
func (s *orderService) UpdateTracking(ctx context.Context, cmd UpdateTrackingCommand) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, ErrOrderUnavailable
	}
	oid := strings.TrimSpace(cmd.OrderID)
	if oid == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}
	if cmd.TrackingNumber == nil && cmd.Carrier == nil {
		return domain.Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}

	order, err := s.orders.UpdateMetadata(ctx, repositories.OrderMetadataUpdate{
		OrderID:        oid,
		TrackingNumber: cmd.TrackingNumber,
		Carrier:        cmd.Carrier,
		Now:            s.now(),
	})
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	return order, nil
}

// UpdateAdminNotes replaces the internal notes on an order.
func (s *orderService) UpdateAdminNotes(ctx context.Context, orderID string, notes string) (domain.Order, error) {
	if s == nil || s.orders == nil {
		return domain.Order{}, ErrOrderUnavailable
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return domain.Order{}, ErrOrderInvalidInput
	}

	trimmed := strings.TrimSpace(notes)
	order, err := s.orders.UpdateMetadata(ctx, repositories.OrderMetadataUpdate{
		OrderID:    oid,
		AdminNotes: &trimmed,
		Now:        s.now(),
	})
	if err != nil {
		return domain.Order{}, s.translateRepoError(err)
	}
	return order, nil
}

// GetStatistics aggregates order counts and revenue across the optional
// creation-date window. Cancelled orders count in the per-status map but are
// excluded from revenue.
func (s *orderService) GetStatistics(ctx context.Context, query StatisticsQuery) (domain.OrderStatistics, error) {
	if s == nil || s.orders == nil {
		return domain.OrderStatistics{}, ErrOrderUnavailable
	}

	stats := domain.OrderStatistics{
		CountsByStatus: map[domain.OrderStatus]int{
			domain.OrderStatusPending:    0,
			domain.OrderStatusProcessing: 0,
			domain.OrderStatusShipped:    0,
			domain.OrderStatusDelivered:  0,
			domain.OrderStatusCancelled:  0,
		},
	}

	revenueOrders := 0
	err := s.forEachOrder(ctx, repositories.OrderListFilter{
		DateRange: domain.RangeQuery[time.Time]{From: query.DateFrom, To: query.DateTo},
	}, func(order domain.Order) {
		stats.TotalOrders++
		stats.CountsByStatus[order.Status]++
		if order.Status != domain.OrderStatusCancelled {
			stats.TotalRevenue += order.Total
			revenueOrders++
		}
	})
	if err != nil {
		return domain.OrderStatistics{}, err
	}

	if revenueOrders > 0 {
		stats.AverageOrderValue = stats.TotalRevenue / domain.Money(revenueOrders)
	}
	return stats, nil
}

// GetUserStatistics summarises one customer's history. Users without orders
// get a zeroed struct, not an error.
func (s *orderService) GetUserStatistics(ctx context.Context, userID string) (domain.UserOrderStatistics, error) {
	if s == nil || s.orders == nil {
		return domain.UserOrderStatistics{}, ErrOrderUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.UserOrderStatistics{}, ErrOrderInvalidInput
	}

	stats := domain.UserOrderStatistics{}
	spendOrders := 0
	err := s.forEachOrder(ctx, repositories.OrderListFilter{UserID: uid}, func(order domain.Order) {
		stats.TotalOrders++
		if order.Status != domain.OrderStatusCancelled {
			stats.TotalSpent += order.Total
			spendOrders++
		}
	})
	if err != nil {
		return domain.UserOrderStatistics{}, err
	}

	if spendOrders > 0 {
		stats.AverageOrderValue = stats.TotalSpent / domain.Money(spendOrders)
	}
	return stats, nil
}

// forEachOrder walks every order matching the filter page by page.
func (s *orderService) forEachOrder(ctx context.Context, filter repositories.OrderListFilter, visit func(domain.Order)) error {
	const pageSize = 100
	for page := 1; ; page++ {
		filter.Page = domain.PageRequest{Page: page, Limit: pageSize}
		result, err := s.orders.List(ctx, filter)
		if err != nil {
			return s.translateRepoError(err)
		}
		for _, order := range result.Items {
			visit(order)
		}
		if page >= result.TotalPages || len(result.Items) == 0 {
			return nil
		}
	}
}

// notify publishes a status notification best effort; failures are logged only.
func (s *orderService) notify(ctx context.Context, order domain.Order) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.PublishStatusNotification(ctx, StatusNotification{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		Recipient:      order.CustomerEmail,
		RecipientName:  order.CustomerName,
		TrackingNumber: order.TrackingNumber,
		Carrier:        order.Carrier,
	})
	if err != nil {
		s.logger(ctx, "order.notify_failed", map[string]any{
			"orderID": order.ID,
			"status":  order.Status,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
		return ErrOrderUnavailable
	}
	return ErrOrderUnavailable
}

func validateOrderAddress(address domain.Address) error {
	if strings.TrimSpace(address.Line1) == "" {
		return fmt.Errorf("%w: shipping address line1 is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(address.City) == "" {
		return fmt.Errorf("%w: shipping address city is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(address.PostalCode) == "" {
		return fmt.Errorf("%w: shipping address postal code is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(address.Country) == "" {
		return fmt.Errorf("%w: shipping address country is required", ErrOrderInvalidInput)
	}
	return nil
}

const orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newOrderNumber produces a customer-facing order number of the form
// ORD-<unix millis>-<9 random base36 chars>. The orderNumbers index document
// guards against the unlikely collision.
func newOrderNumber(now time.Time) string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Fall back to the clock; uniqueness is still enforced by the index.
		binary.BigEndian.PutUint64(buf[:], uint64(now.UnixNano()))
	}
	value := binary.BigEndian.Uint64(buf[:])

	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = orderNumberAlphabet[value%36]
		value /= 36
	}
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), suffix)
}

// newReturnNumber produces a return number of the form
// RET-<unix millis>-<userID>.
func newReturnNumber(now time.Time, userID string) string {
	return fmt.Sprintf("RET-%d-%s", now.UnixMilli(), strings.TrimSpace(userID))
}
