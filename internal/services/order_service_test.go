package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	domain "github.com/voltlane/api/internal/domain"
	"github.com/voltlane/api/internal/repositories"
)

var testShippingAddress = domain.Address{
	Line1:      "1 Volt Street",
	City:       "Berlin",
	PostalCode: "10115",
	Country:    "DE",
}

func TestOrderServiceCreateComputesTotalsServerSide(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	var created repositories.OrderCreateRequest

	orders := &stubOrderRepository{
		createFunc: func(ctx context.Context, req repositories.OrderCreateRequest) error {
			created = req
			return nil
		},
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			out := created.Order
			out.StatusHistory = []domain.StatusHistoryEntry{created.InitialHistory}
			return out, nil
		},
	}
	products := &stubProductRepository{
		findIDsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-a": {ID: "prod-a", Name: "Widget A", Slug: "widget-a", Price: 1500, Stock: 10, TrackInventory: true},
				"prod-b": {ID: "prod-b", Name: "Widget B", Slug: "widget-b", Price: 2550, Stock: 10, TrackInventory: true},
			}, nil
		},
	}

	cartCleared := false
	carts := &stubCartRepository{
		clearFunc: func(ctx context.Context, userID string, at time.Time) (int, error) {
			cartCleared = true
			return 2, nil
		},
	}

	service := newTestOrderService(t, orders, products, carts, nil, now)

	clientTotal := domain.Money(9999)
	order, err := service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		CustomerName:    "Ada Example",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: testShippingAddress,
		Items: []OrderLineInput{
			{ProductID: "prod-a", Quantity: 2},
			{ProductID: "prod-b", Quantity: 1},
		},
		PaymentMethod: "card",
		ClientTotal:   &clientTotal,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 2*1500 + 1*2550 = 5550; tax 444; shipping 2599; total 8593.
	if order.Subtotal != 5550 {
		t.Fatalf("expected subtotal 5550, got %d", order.Subtotal)
	}
	if order.Tax != 444 {
		t.Fatalf("expected tax 444, got %d", order.Tax)
	}
	if order.Total != 8593 {
		t.Fatalf("expected server total 8593 regardless of client total, got %d", order.Total)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %q", order.Status)
	}

	if len(created.StockLines) != 2 {
		t.Fatalf("expected 2 stock lines, got %d", len(created.StockLines))
	}
	if created.InitialHistory.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending initial history, got %q", created.InitialHistory.Status)
	}
	if created.Order.BillingAddress != testShippingAddress {
		t.Fatalf("expected billing address defaulted to shipping, got %+v", created.Order.BillingAddress)
	}
	if created.Order.Items[0].ProductName != "Widget A" {
		t.Fatalf("expected catalog snapshot on items, got %+v", created.Order.Items[0])
	}
	if !cartCleared {
		t.Fatalf("expected cart cleared after checkout")
	}
}

func TestOrderServiceCreateGuestCheckout(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	var created repositories.OrderCreateRequest

	orders := &stubOrderRepository{
		createFunc: func(ctx context.Context, req repositories.OrderCreateRequest) error {
			created = req
			return nil
		},
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return created.Order, nil
		},
	}
	products := &stubProductRepository{
		findIDsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-a": {ID: "prod-a", Name: "Widget A", Price: 1500, Stock: 10, TrackInventory: true},
			}, nil
		},
	}
	carts := &stubCartRepository{
		clearFunc: func(ctx context.Context, userID string, at time.Time) (int, error) {
			t.Fatalf("expected no cart clear for a guest checkout")
			return 0, nil
		},
	}

	service := newTestOrderService(t, orders, products, carts, nil, now)

	order, err := service.Create(context.Background(), CreateOrderCommand{
		CustomerName:    "Gia Guest",
		CustomerEmail:   "gia@example.com",
		ShippingAddress: testShippingAddress,
		Items:           []OrderLineInput{{ProductID: "prod-a", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.UserID != "" {
		t.Fatalf("expected empty user id on guest order, got %q", order.UserID)
	}
	if created.Order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending guest order, got %q", created.Order.Status)
	}
}

func TestOrderServiceCreateDuplicateProductLinesMerge(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	var created repositories.OrderCreateRequest

	orders := &stubOrderRepository{
		createFunc: func(ctx context.Context, req repositories.OrderCreateRequest) error {
			created = req
			return nil
		},
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return created.Order, nil
		},
	}
	products := &stubProductRepository{
		findIDsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-a": {ID: "prod-a", Name: "Widget A", Price: 100, Stock: 10, TrackInventory: true},
			}, nil
		},
	}

	service := newTestOrderService(t, orders, products, nil, nil, now)

	_, err := service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		CustomerName:    "Ada Example",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: testShippingAddress,
		Items: []OrderLineInput{
			{ProductID: "prod-a", Quantity: 2},
			{ProductID: "prod-a", Quantity: 3},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(created.Order.Items) != 1 {
		t.Fatalf("expected merged single line, got %d", len(created.Order.Items))
	}
	if created.Order.Items[0].Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %d", created.Order.Items[0].Quantity)
	}
	if len(created.StockLines) != 1 || created.StockLines[0].Quantity != 5 {
		t.Fatalf("expected one stock line of 5, got %+v", created.StockLines)
	}
}

func TestOrderServiceCreateInsufficientStockKeepsCart(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		createFunc: func(ctx context.Context, req repositories.OrderCreateRequest) error {
			return &repositories.StockError{
				Code:      repositories.StockErrorInsufficient,
				ProductID: "prod-a",
				Requested: 5,
				Available: 2,
			}
		},
	}
	products := &stubProductRepository{
		findIDsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-a": {ID: "prod-a", Name: "Widget A", Price: 100, Stock: 2, TrackInventory: true},
			}, nil
		},
	}
	carts := &stubCartRepository{
		clearFunc: func(ctx context.Context, userID string, at time.Time) (int, error) {
			t.Fatalf("expected cart untouched when the order fails")
			return 0, nil
		},
	}

	service := newTestOrderService(t, orders, products, carts, nil, now)

	_, err := service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		CustomerName:    "Ada Example",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: testShippingAddress,
		Items:           []OrderLineInput{{ProductID: "prod-a", Quantity: 5}},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var shortage *StockShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected StockShortageError, got %v", err)
	}
	if shortage.Available != 2 {
		t.Fatalf("expected available 2, got %d", shortage.Available)
	}
}

func TestOrderServiceCreateUnknownProduct(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	products := &stubProductRepository{
		findIDsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{}, nil
		},
	}

	service := newTestOrderService(t, &stubOrderRepository{}, products, nil, nil, now)

	_, err := service.Create(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		CustomerName:    "Ada Example",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: testShippingAddress,
		Items:           []OrderLineInput{{ProductID: "ghost", Quantity: 1}},
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceTransitionStatusForward(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	var update repositories.OrderStatusUpdate

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, OrderNumber: "ORD-1", UserID: "user-1", Status: domain.OrderStatusPending, CustomerEmail: "ada@example.com"}, nil
		},
		updateStatusFunc: func(ctx context.Context, u repositories.OrderStatusUpdate) (domain.Order, error) {
			update = u
			return domain.Order{ID: u.OrderID, Status: u.Status, CustomerEmail: "ada@example.com"}, nil
		},
	}

	notified := make([]StatusNotification, 0, 1)
	notifier := &stubNotificationPublisher{
		publishFunc: func(ctx context.Context, msg StatusNotification) (string, error) {
			notified = append(notified, msg)
			return "msg-1", nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, nil, notifier, now)

	order, err := service.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: "ord-1",
		Status:  domain.OrderStatusProcessing,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %q", order.Status)
	}
	if update.History.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected history entry for processing, got %+v", update.History)
	}
	if update.History.Notes != "Status changed to processing" {
		t.Fatalf("unexpected default history notes %q", update.History.Notes)
	}
	if len(update.RestoreStock) != 0 {
		t.Fatalf("expected no stock restore on forward transition")
	}
	if len(notified) != 1 || notified[0].Status != "processing" {
		t.Fatalf("expected one processing notification, got %+v", notified)
	}
}

func TestOrderServiceTransitionStatusRejectsSkips(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusPending}, nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, nil, nil, now)

	_, err := service.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: "ord-1",
		Status:  domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition for pending->shipped, got %v", err)
	}
}

func TestOrderServiceTransitionSameStatusAppendsHistory(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	var update repositories.OrderStatusUpdate

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, Status: domain.OrderStatusShipped}, nil
		},
		updateStatusFunc: func(ctx context.Context, u repositories.OrderStatusUpdate) (domain.Order, error) {
			update = u
			return domain.Order{ID: u.OrderID, Status: u.Status}, nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, nil, nil, now)

	_, err := service.TransitionStatus(context.Background(), TransitionOrderStatusCommand{
		OrderID: "ord-1",
		Status:  domain.OrderStatusShipped,
		Notes:   "Carrier re-scan",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if update.History.Notes != "Carrier re-scan" {
		t.Fatalf("expected duplicate history entry with notes, got %+v", update.History)
	}
	if len(update.RestoreStock) != 0 {
		t.Fatalf("expected no stock restore for same-status reapply")
	}
}

func TestOrderServiceCancelRestoresStock(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	var update repositories.OrderStatusUpdate

	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:     orderID,
				UserID: "user-1",
				Status: domain.OrderStatusPending,
				Items: []domain.OrderItem{
					{ProductID: "prod-a", Quantity: 2},
					{ProductID: "prod-b", Quantity: 1},
				},
			}, nil
		},
		updateStatusFunc: func(ctx context.Context, u repositories.OrderStatusUpdate) (domain.Order, error) {
			update = u
			return domain.Order{ID: u.OrderID, Status: u.Status}, nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, nil, nil, now)

	order, err := service.CancelOrder(context.Background(), CancelOrderCommand{
		OrderID: "ord-1",
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %q", order.Status)
	}
	if len(update.RestoreStock) != 2 {
		t.Fatalf("expected 2 restore lines, got %+v", update.RestoreStock)
	}
	if update.RestoreStock[0].Quantity != 2 {
		t.Fatalf("expected restore quantity 2, got %d", update.RestoreStock[0].Quantity)
	}
	if update.History.Notes != "Cancelled by customer" {
		t.Fatalf("expected customer cancellation notes, got %q", update.History.Notes)
	}
}

func TestOrderServiceCancelOrderOwnerAndStateChecks(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			status := domain.OrderStatusPending
			if orderID == "ord-shipped" {
				status = domain.OrderStatusShipped
			}
			return domain.Order{ID: orderID, UserID: "user-1", Status: status}, nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, nil, nil, now)

	_, err := service.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord-1", UserID: "someone-else"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for foreign order, got %v", err)
	}

	_, err = service.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord-shipped", UserID: "user-1"})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected ErrOrderInvalidTransition for shipped order, got %v", err)
	}
}

func TestOrderServiceGetOrderScopesToOwner(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		findByIDFunc: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, UserID: "user-1"}, nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, nil, nil, now)

	if _, err := service.GetOrder(context.Background(), "ord-1", "user-2"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for non-owner, got %v", err)
	}

	// Empty user is the admin view.
	if _, err := service.GetOrder(context.Background(), "ord-1", ""); err != nil {
		t.Fatalf("unexpected error for admin view: %v", err)
	}
}

func TestOrderServiceUpdateTrackingRequiresAField(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	service := newTestOrderService(t, &stubOrderRepository{}, &stubProductRepository{}, nil, nil, now)

	_, err := service.UpdateTracking(context.Background(), UpdateTrackingCommand{OrderID: "ord-1"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceStatisticsExcludeCancelledRevenue(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		listFunc: func(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
			return domain.Page[domain.Order]{
				Items: []domain.Order{
					{ID: "o1", Status: domain.OrderStatusDelivered, Total: 8000},
					{ID: "o2", Status: domain.OrderStatusPending, Total: 4000},
					{ID: "o3", Status: domain.OrderStatusCancelled, Total: 99999},
				},
				Page:       filter.Page.Page,
				TotalItems: 3,
				TotalPages: 1,
			}, nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, nil, nil, now)

	stats, err := service.GetStatistics(context.Background(), StatisticsQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalOrders != 3 {
		t.Fatalf("expected 3 orders, got %d", stats.TotalOrders)
	}
	if stats.TotalRevenue != 12000 {
		t.Fatalf("expected revenue 12000 excluding cancelled, got %d", stats.TotalRevenue)
	}
	if stats.AverageOrderValue != 6000 {
		t.Fatalf("expected average 6000, got %d", stats.AverageOrderValue)
	}
	if stats.CountsByStatus[domain.OrderStatusCancelled] != 1 {
		t.Fatalf("expected cancelled still counted by status, got %d", stats.CountsByStatus[domain.OrderStatusCancelled])
	}
	if stats.CountsByStatus[domain.OrderStatusShipped] != 0 {
		t.Fatalf("expected zero-filled shipped count")
	}
}

func TestOrderServiceUserStatisticsEmptyHistory(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderRepository{
		listFunc: func(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
			if filter.UserID != "user-new" {
				t.Fatalf("expected user filter, got %q", filter.UserID)
			}
			return domain.Page[domain.Order]{Items: []domain.Order{}, TotalPages: 0}, nil
		},
	}

	service := newTestOrderService(t, orders, &stubProductRepository{}, nil, nil, now)

	stats, err := service.GetUserStatistics(context.Background(), "user-new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalOrders != 0 || stats.TotalSpent != 0 || stats.AverageOrderValue != 0 {
		t.Fatalf("expected zeroed stats, got %+v", stats)
	}
}

func TestOrderNumberFormat(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	pattern := regexp.MustCompile(`^ORD-\d+-[0-9A-Z]{9}$`)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		number := newOrderNumber(now)
		if !pattern.MatchString(number) {
			t.Fatalf("unexpected order number format %q", number)
		}
		if seen[number] {
			t.Fatalf("duplicate order number %q", number)
		}
		seen[number] = true
	}
}

func newTestOrderService(t *testing.T, orders repositories.OrderRepository, products repositories.ProductRepository, carts repositories.CartRepository, notifier NotificationPublisher, now time.Time) OrderService {
	t.Helper()
	service, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Products: products,
		Carts:    carts,
		Notifier: notifier,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing order service: %v", err)
	}
	return service
}

type stubOrderRepository struct {
	createFunc         func(ctx context.Context, req repositories.OrderCreateRequest) error
	findByIDFunc       func(ctx context.Context, orderID string) (domain.Order, error)
	findByNumberFunc   func(ctx context.Context, orderNumber string) (domain.Order, error)
	listFunc           func(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error)
	updateStatusFunc   func(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error)
	updateMetadataFunc func(ctx context.Context, update repositories.OrderMetadataUpdate) (domain.Order, error)
}

func (s *stubOrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) error {
	if s.createFunc != nil {
		return s.createFunc(ctx, req)
	}
	return nil
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFunc != nil {
		return s.findByIDFunc(ctx, orderID)
	}
	return domain.Order{}, &repositoryErrorStub{notFound: true}
}

func (s *stubOrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findByNumberFunc != nil {
		return s.findByNumberFunc(ctx, orderNumber)
	}
	return domain.Order{}, &repositoryErrorStub{notFound: true}
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.Page[domain.Order]{Items: []domain.Order{}}, nil
}

func (s *stubOrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if s.updateStatusFunc != nil {
		return s.updateStatusFunc(ctx, update)
	}
	return domain.Order{}, &repositoryErrorStub{notFound: true}
}

func (s *stubOrderRepository) UpdateMetadata(ctx context.Context, update repositories.OrderMetadataUpdate) (domain.Order, error) {
	if s.updateMetadataFunc != nil {
		return s.updateMetadataFunc(ctx, update)
	}
	return domain.Order{}, &repositoryErrorStub{notFound: true}
}

type stubNotificationPublisher struct {
	publishFunc func(ctx context.Context, msg StatusNotification) (string, error)
}

func (s *stubNotificationPublisher) PublishStatusNotification(ctx context.Context, msg StatusNotification) (string, error) {
	if s.publishFunc != nil {
		return s.publishFunc(ctx, msg)
	}
	return "", nil
}
