package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/voltlane/api/internal/domain"
	"github.com/voltlane/api/internal/repositories"
)

func TestCartServiceAddOrUpdateItemMerges(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		upsertFunc: func(ctx context.Context, req repositories.CartItemUpsertRequest) (repositories.CartItemUpsertResult, error) {
			if req.UserID != "user-1" || req.ProductID != "prod-1" {
				t.Fatalf("unexpected upsert target %q/%q", req.UserID, req.ProductID)
			}
			if req.Mode != repositories.CartUpsertAdd {
				t.Fatalf("expected add mode, got %q", req.Mode)
			}
			if req.Quantity != 2 {
				t.Fatalf("expected quantity 2, got %d", req.Quantity)
			}
			return repositories.CartItemUpsertResult{
				Cart: domain.Cart{
					UserID: "user-1",
					Items:  []domain.CartItem{{ProductID: "prod-1", Quantity: 5}},
				},
				Quantity: 5,
				Created:  false,
			}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, now)

	result, err := service.AddOrUpdateItem(context.Background(), AddCartItemCommand{
		UserID:    " user-1 ",
		ProductID: "prod-1",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %d", result.Quantity)
	}
	if result.Created {
		t.Fatalf("expected existing line, got created")
	}
}

func TestCartServiceAddOrUpdateItemClampsQuantity(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		upsertFunc: func(ctx context.Context, req repositories.CartItemUpsertRequest) (repositories.CartItemUpsertResult, error) {
			if req.Quantity != defaultQuantityCeiling {
				t.Fatalf("expected quantity clamped to %d, got %d", defaultQuantityCeiling, req.Quantity)
			}
			if req.MaxQuantity != defaultQuantityCeiling {
				t.Fatalf("expected max quantity %d, got %d", defaultQuantityCeiling, req.MaxQuantity)
			}
			return repositories.CartItemUpsertResult{Quantity: req.Quantity, Created: true}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, now)

	if _, err := service.AddOrUpdateItem(context.Background(), AddCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  100000,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCartServiceAddOrUpdateItemShortage(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		upsertFunc: func(ctx context.Context, req repositories.CartItemUpsertRequest) (repositories.CartItemUpsertResult, error) {
			return repositories.CartItemUpsertResult{}, &repositories.StockError{
				Code:      repositories.StockErrorInsufficient,
				ProductID: req.ProductID,
				Requested: req.Quantity,
				Available: 1,
			}
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, now)

	_, err := service.AddOrUpdateItem(context.Background(), AddCartItemCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  3,
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var shortage *StockShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("expected StockShortageError, got %v", err)
	}
	if shortage.Available != 1 || shortage.Requested != 3 {
		t.Fatalf("unexpected shortage payload %+v", shortage)
	}
}

func TestCartServiceSetItemQuantityZeroRemoves(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	removed := false
	repo := &stubCartRepository{
		removeFunc: func(ctx context.Context, userID, productID string, at time.Time) (domain.Cart, error) {
			removed = true
			if productID != "prod-1" {
				t.Fatalf("unexpected product id %q", productID)
			}
			return domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
		},
		upsertFunc: func(ctx context.Context, req repositories.CartItemUpsertRequest) (repositories.CartItemUpsertResult, error) {
			t.Fatalf("expected no upsert for quantity zero")
			return repositories.CartItemUpsertResult{}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, now)

	cart, err := service.SetItemQuantity(context.Background(), SetCartItemQuantityCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !removed {
		t.Fatalf("expected line removal")
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart")
	}
}

func TestCartServiceSetItemQuantityNegative(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	service := newTestCartService(t, &stubCartRepository{}, &stubProductRepository{}, now)

	_, err := service.SetItemQuantity(context.Background(), SetCartItemQuantityCommand{
		UserID:    "user-1",
		ProductID: "prod-1",
		Quantity:  -1,
	})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceGetCartJoinsAndDropsStaleLines(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID: userID,
				Items: []domain.CartItem{
					{ProductID: "prod-b", Quantity: 1, AddedAt: now.Add(-time.Minute)},
					{ProductID: "prod-a", Quantity: 2, AddedAt: now.Add(-time.Hour)},
					{ProductID: "prod-gone", Quantity: 4, AddedAt: now},
				},
				UpdatedAt: now,
			}, nil
		},
	}
	products := &stubProductRepository{
		findIDsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-a": {ID: "prod-a", Name: "Widget A", Price: 1500, Stock: 1, TrackInventory: true, InStock: true, CompareAtPrice: 2000},
				"prod-b": {ID: "prod-b", Name: "Widget B", Price: 2550, Stock: 40, TrackInventory: true, InStock: true},
			}, nil
		},
	}

	service := newTestCartService(t, repo, products, now)

	view, err := service.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(view.Lines) != 2 {
		t.Fatalf("expected 2 lines after dropping stale one, got %d", len(view.Lines))
	}
	if view.Lines[0].ProductID != "prod-a" {
		t.Fatalf("expected lines ordered by AddedAt, got %q first", view.Lines[0].ProductID)
	}
	if !view.Lines[0].IsLowStock {
		t.Fatalf("expected prod-a low stock flag")
	}
	if !view.Lines[0].HasDiscount {
		t.Fatalf("expected prod-a discount flag")
	}
	if view.Lines[1].IsLowStock {
		t.Fatalf("expected prod-b not low stock")
	}

	// 2*1500 + 1*2550 = 5550; tax 444; shipping 2599; total 8593.
	if view.Totals.Subtotal != 5550 {
		t.Fatalf("expected subtotal 5550, got %d", view.Totals.Subtotal)
	}
	if view.Totals.Total != 8593 {
		t.Fatalf("expected total 8593, got %d", view.Totals.Total)
	}
	if view.Totals.ItemCount != 3 {
		t.Fatalf("expected item count 3, got %d", view.Totals.ItemCount)
	}
}

func TestCartServiceGetCartLowStockComparesRequestedQuantity(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID: userID,
				Items: []domain.CartItem{
					{ProductID: "prod-covered", Quantity: 2, AddedAt: now.Add(-time.Hour)},
					{ProductID: "prod-short", Quantity: 2, AddedAt: now},
				},
			}, nil
		},
	}
	products := &stubProductRepository{
		findIDsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-covered": {ID: "prod-covered", Price: 1000, Stock: 4, TrackInventory: true, InStock: true},
				"prod-short":   {ID: "prod-short", Price: 1000, Stock: 1, TrackInventory: true, InStock: true},
			}, nil
		},
	}

	service := newTestCartService(t, repo, products, now)

	view, err := service.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(view.Lines))
	}
	if view.Lines[0].IsLowStock {
		t.Fatalf("stock 4 covers requested 2, expected not low stock")
	}
	if !view.Lines[1].IsLowStock {
		t.Fatalf("stock 1 below requested 2, expected low stock")
	}
}

func TestCartServiceRemoveItemMissingLine(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		removeFunc: func(ctx context.Context, userID, productID string, at time.Time) (domain.Cart, error) {
			return domain.Cart{}, &repositoryErrorStub{notFound: true}
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, now)

	if _, err := service.RemoveItem(context.Background(), "user-1", "prod-absent"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceMergeGuestCartReportsPerLineIssues(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		upsertFunc: func(ctx context.Context, req repositories.CartItemUpsertRequest) (repositories.CartItemUpsertResult, error) {
			switch req.ProductID {
			case "prod-ok":
				return repositories.CartItemUpsertResult{Quantity: req.Quantity, Created: true}, nil
			case "prod-short":
				return repositories.CartItemUpsertResult{}, &repositories.StockError{
					Code:      repositories.StockErrorInsufficient,
					ProductID: req.ProductID,
					Requested: req.Quantity,
					Available: 0,
				}
			case "prod-gone":
				return repositories.CartItemUpsertResult{}, &repositories.StockError{
					Code:      repositories.StockErrorProductNotFound,
					ProductID: req.ProductID,
					Requested: req.Quantity,
				}
			}
			t.Fatalf("unexpected product %q", req.ProductID)
			return repositories.CartItemUpsertResult{}, nil
		},
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{ProductID: "prod-ok", Quantity: 2}}}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, now)

	result, err := service.MergeGuestCart(context.Background(), MergeGuestCartCommand{
		UserID: "user-1",
		Items: []GuestCartItem{
			{ProductID: "prod-ok", Quantity: 2},
			{ProductID: "prod-short", Quantity: 3},
			{ProductID: "prod-gone", Quantity: 1},
			{ProductID: "  ", Quantity: 9},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Lines) != 3 {
		t.Fatalf("expected 3 line results, got %d", len(result.Lines))
	}
	if !result.Lines[0].Merged || result.Lines[0].Quantity != 2 {
		t.Fatalf("expected prod-ok merged with quantity 2, got %+v", result.Lines[0])
	}
	if result.Lines[1].Issue == nil || result.Lines[1].Issue.Code != CartIssueOutOfStock {
		t.Fatalf("expected prod-short out_of_stock issue, got %+v", result.Lines[1].Issue)
	}
	if result.Lines[2].Issue == nil || result.Lines[2].Issue.Code != CartIssueProductMissing {
		t.Fatalf("expected prod-gone product_missing issue, got %+v", result.Lines[2].Issue)
	}
	if len(result.Cart.Items) != 1 {
		t.Fatalf("expected final cart with 1 item, got %d", len(result.Cart.Items))
	}
}

func TestCartServiceValidateFlagsShortAndMissingLines(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID: userID,
				Items: []domain.CartItem{
					{ProductID: "prod-ok", Quantity: 1},
					{ProductID: "prod-short", Quantity: 5},
					{ProductID: "prod-empty", Quantity: 2},
					{ProductID: "prod-gone", Quantity: 1},
				},
			}, nil
		},
	}
	products := &stubProductRepository{
		findIDsFunc: func(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
			return map[string]domain.Product{
				"prod-ok":    {ID: "prod-ok", Stock: 10, TrackInventory: true},
				"prod-short": {ID: "prod-short", Stock: 2, TrackInventory: true},
				"prod-empty": {ID: "prod-empty", Stock: 0, TrackInventory: true},
			}, nil
		},
	}

	service := newTestCartService(t, repo, products, now)

	issues, err := service.Validate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %d: %+v", len(issues), issues)
	}
	byProduct := make(map[string]domain.CartIssue, len(issues))
	for _, issue := range issues {
		byProduct[issue.ProductID] = issue
	}
	if byProduct["prod-short"].Code != CartIssueInsufficientStock {
		t.Fatalf("expected insufficient_stock for prod-short, got %q", byProduct["prod-short"].Code)
	}
	if byProduct["prod-short"].Available != 2 {
		t.Fatalf("expected available 2 for prod-short, got %d", byProduct["prod-short"].Available)
	}
	if byProduct["prod-empty"].Code != CartIssueOutOfStock {
		t.Fatalf("expected out_of_stock for prod-empty, got %q", byProduct["prod-empty"].Code)
	}
	if byProduct["prod-gone"].Code != CartIssueProductMissing {
		t.Fatalf("expected product_missing for prod-gone, got %q", byProduct["prod-gone"].Code)
	}
}

func TestCartServiceValidateEmptyCart(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(ctx context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
		},
	}

	service := newTestCartService(t, repo, &stubProductRepository{}, now)

	issues, err := service.Validate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues for empty cart, got %+v", issues)
	}
}

func TestCartServiceClearCartInvalidUser(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	service := newTestCartService(t, &stubCartRepository{}, &stubProductRepository{}, now)

	if _, err := service.ClearCart(context.Background(), "  "); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func newTestCartService(t *testing.T, carts repositories.CartRepository, products repositories.ProductRepository, now time.Time) CartService {
	t.Helper()
	service, err := NewCartService(CartServiceDeps{
		Carts:    carts,
		Products: products,
		Clock:    func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}
	return service
}

type stubCartRepository struct {
	getFunc    func(ctx context.Context, userID string) (domain.Cart, error)
	upsertFunc func(ctx context.Context, req repositories.CartItemUpsertRequest) (repositories.CartItemUpsertResult, error)
	removeFunc func(ctx context.Context, userID, productID string, now time.Time) (domain.Cart, error)
	clearFunc  func(ctx context.Context, userID string, now time.Time) (int, error)
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
}

func (s *stubCartRepository) UpsertItem(ctx context.Context, req repositories.CartItemUpsertRequest) (repositories.CartItemUpsertResult, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, req)
	}
	return repositories.CartItemUpsertResult{}, nil
}

func (s *stubCartRepository) RemoveItem(ctx context.Context, userID, productID string, now time.Time) (domain.Cart, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, userID, productID, now)
	}
	return domain.Cart{UserID: userID, Items: []domain.CartItem{}}, nil
}

func (s *stubCartRepository) ClearItems(ctx context.Context, userID string, now time.Time) (int, error) {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, userID, now)
	}
	return 0, nil
}
