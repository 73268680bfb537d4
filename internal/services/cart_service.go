package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/voltlane/api/internal/domain"
	"github.com/voltlane/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartCatalogRequired    = errors.New("cart service: product repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const defaultQuantityCeiling = 999

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartNotFound indicates the requested cart line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// CartIssue codes reported by Validate and MergeGuestCart.
const (
	CartIssueProductMissing    = "product_missing"
	CartIssueInsufficientStock = "insufficient_stock"
	CartIssueOutOfStock        = "out_of_stock"
)

// CartServiceDeps wires the repositories and pricing rules for cart operations.
type CartServiceDeps struct {
	Carts           repositories.CartRepository
	Products        repositories.ProductRepository
	Pricing         Pricing
	QuantityCeiling int
	Clock           func() time.Time
	Logger          func(context.Context, string, map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	pricing  Pricing
	ceiling  int
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	pricing := deps.Pricing
	if pricing == (Pricing{}) {
		pricing = DefaultPricing()
	}
	ceiling := deps.QuantityCeiling
	if ceiling <= 0 {
		ceiling = defaultQuantityCeiling
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		pricing:  pricing,
		ceiling:  ceiling,
		now:      func() time.Time { return deps.Clock().UTC() },
		logger:   logger,
	}, nil
}

// AddOrUpdateItem merges the requested quantity into the user's cart line.
// Quantities are clamped to [1, ceiling]; the post-merge quantity is capped
// at the ceiling again and checked against live stock inside the repository
// transaction.
func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd AddCartItemCommand) (CartItemResult, error) {
	if s == nil || s.carts == nil {
		return CartItemResult{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(cmd.UserID)
	pid := strings.TrimSpace(cmd.ProductID)
	if uid == "" || pid == "" {
		return CartItemResult{}, ErrCartInvalidInput
	}

	quantity := s.clampQuantity(cmd.Quantity)

	result, err := s.carts.UpsertItem(ctx, repositories.CartItemUpsertRequest{
		UserID:      uid,
		ProductID:   pid,
		Quantity:    quantity,
		MaxQuantity: s.ceiling,
		Mode:        repositories.CartUpsertAdd,
		Now:         s.now(),
	})
	if err != nil {
		return CartItemResult{}, s.translateCartWriteError(ctx, uid, pid, err)
	}

	s.logger(ctx, "cart.item_added", map[string]any{
		"userID":    uid,
		"productID": pid,
		"quantity":  result.Quantity,
		"created":   result.Created,
	})

	return CartItemResult{
		Cart:     result.Cart,
		Quantity: result.Quantity,
		Created:  result.Created,
	}, nil
}

// SetItemQuantity replaces the stored quantity for a line. Quantity zero
// removes the line.
func (s *cartService) SetItemQuantity(ctx context.Context, cmd SetCartItemQuantityCommand) (domain.Cart, error) {
	if s == nil || s.carts == nil {
		return domain.Cart{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(cmd.UserID)
	pid := strings.TrimSpace(cmd.ProductID)
	if uid == "" || pid == "" {
		return domain.Cart{}, ErrCartInvalidInput
	}
	if cmd.Quantity < 0 {
		return domain.Cart{}, fmt.Errorf("%w: quantity must not be negative", ErrCartInvalidInput)
	}

	if cmd.Quantity == 0 {
		return s.RemoveItem(ctx, uid, pid)
	}

	quantity := s.clampQuantity(cmd.Quantity)

	result, err := s.carts.UpsertItem(ctx, repositories.CartItemUpsertRequest{
		UserID:      uid,
		ProductID:   pid,
		Quantity:    quantity,
		MaxQuantity: s.ceiling,
		Mode:        repositories.CartUpsertSet,
		Now:         s.now(),
	})
	if err != nil {
		return domain.Cart{}, s.translateCartWriteError(ctx, uid, pid, err)
	}
	return result.Cart, nil
}

// RemoveItem drops one line from the cart. Removing a line that does not
// exist returns ErrCartNotFound.
func (s *cartService) RemoveItem(ctx context.Context, userID string, productID string) (domain.Cart, error) {
	if s == nil || s.carts == nil {
		return domain.Cart{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	pid := strings.TrimSpace(productID)
	if uid == "" || pid == "" {
		return domain.Cart{}, ErrCartInvalidInput
	}

	cart, err := s.carts.RemoveItem(ctx, uid, pid, s.now())
	if err != nil {
		return domain.Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

// ClearCart empties the cart and reports how many lines were removed.
func (s *cartService) ClearCart(ctx context.Context, userID string) (int, error) {
	if s == nil || s.carts == nil {
		return 0, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return 0, ErrCartInvalidInput
	}

	removed, err := s.carts.ClearItems(ctx, uid, s.now())
	if err != nil {
		return 0, s.translateRepoError(err)
	}
	return removed, nil
}

// GetCart joins the stored cart with live product data and derives totals.
// Lines whose product no longer exists are dropped from the view and logged.
func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	if s == nil || s.carts == nil {
		return CartView{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return CartView{}, ErrCartInvalidInput
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		return CartView{}, s.translateRepoError(err)
	}

	lines, err := s.joinLines(ctx, cart)
	if err != nil {
		return CartView{}, err
	}

	var subtotal domain.Money
	itemCount := 0
	for _, line := range lines {
		subtotal += line.LineTotal
		itemCount += line.Quantity
	}

	return CartView{
		UserID:    uid,
		Lines:     lines,
		Totals:    s.pricing.Totals(subtotal, itemCount),
		UpdatedAt: cart.UpdatedAt,
	}, nil
}

// GetTotals derives the pricing summary for the cart.
func (s *cartService) GetTotals(ctx context.Context, userID string) (domain.CartTotals, error) {
	view, err := s.GetCart(ctx, userID)
	if err != nil {
		return domain.CartTotals{}, err
	}
	return view.Totals, nil
}

// MergeGuestCart merges an anonymous session's cart into the user's cart.
// Lines that fail (missing product, shortage) are reported individually and
// do not abort the merge.
func (s *cartService) MergeGuestCart(ctx context.Context, cmd MergeGuestCartCommand) (MergeGuestCartResult, error) {
	if s == nil || s.carts == nil {
		return MergeGuestCartResult{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(cmd.UserID)
	if uid == "" {
		return MergeGuestCartResult{}, ErrCartInvalidInput
	}

	lines := make([]MergeLineResult, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		pid := strings.TrimSpace(item.ProductID)
		if pid == "" || item.Quantity <= 0 {
			continue
		}
		quantity := s.clampQuantity(item.Quantity)

		result, err := s.carts.UpsertItem(ctx, repositories.CartItemUpsertRequest{
			UserID:      uid,
			ProductID:   pid,
			Quantity:    quantity,
			MaxQuantity: s.ceiling,
			Mode:        repositories.CartUpsertAdd,
			Now:         s.now(),
		})
		if err != nil {
			issue := s.mergeIssue(pid, quantity, err)
			if issue == nil {
				return MergeGuestCartResult{}, s.translateRepoError(err)
			}
			s.logger(ctx, "cart.merge_line_skipped", map[string]any{
				"userID":    uid,
				"productID": pid,
				"code":      issue.Code,
			})
			lines = append(lines, MergeLineResult{ProductID: pid, Issue: issue})
			continue
		}
		lines = append(lines, MergeLineResult{ProductID: pid, Merged: true, Quantity: result.Quantity})
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		return MergeGuestCartResult{}, s.translateRepoError(err)
	}
	return MergeGuestCartResult{Cart: cart, Lines: lines}, nil
}

// Validate is the read-only pre-checkout gate: it reports every line whose
// product vanished or whose quantity exceeds live stock.
func (s *cartService) Validate(ctx context.Context, userID string) ([]domain.CartIssue, error) {
	if s == nil || s.carts == nil {
		return nil, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, ErrCartInvalidInput
	}

	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	if len(cart.Items) == 0 {
		return []domain.CartIssue{}, nil
	}

	products, err := s.loadProducts(ctx, cart)
	if err != nil {
		return nil, err
	}

	issues := make([]domain.CartIssue, 0)
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			issues = append(issues, domain.CartIssue{
				ProductID: item.ProductID,
				Code:      CartIssueProductMissing,
				Message:   "product is no longer available",
				Requested: item.Quantity,
			})
			continue
		}
		if product.HasCapacity(item.Quantity) {
			continue
		}
		available := product.Available()
		code := CartIssueInsufficientStock
		message := fmt.Sprintf("only %d in stock", available)
		if available <= 0 {
			code = CartIssueOutOfStock
			message = "out of stock"
		}
		issues = append(issues, domain.CartIssue{
			ProductID: item.ProductID,
			Code:      code,
			Message:   message,
			Requested: item.Quantity,
			Available: available,
		})
	}
	return issues, nil
}

func (s *cartService) clampQuantity(quantity int) int {
	if quantity < 1 {
		return 1
	}
	if quantity > s.ceiling {
		return s.ceiling
	}
	return quantity
}

func (s *cartService) joinLines(ctx context.Context, cart domain.Cart) ([]domain.CartLine, error) {
	if len(cart.Items) == 0 {
		return []domain.CartLine{}, nil
	}

	products, err := s.loadProducts(ctx, cart)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.CartLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			s.logger(ctx, "cart.stale_line", map[string]any{
				"userID":    cart.UserID,
				"productID": item.ProductID,
			})
			continue
		}
		lines = append(lines, domain.CartLine{
			ProductID:   product.ID,
			Name:        product.Name,
			Slug:        product.Slug,
			Image:       product.Image,
			UnitPrice:   product.Price,
			Quantity:    item.Quantity,
			LineTotal:   product.Price * domain.Money(item.Quantity),
			Stock:       product.Stock,
			InStock:     product.InStock,
			IsLowStock:  product.TrackInventory && product.Stock < item.Quantity,
			HasDiscount: product.CompareAtPrice > product.Price,
			AddedAt:     item.AddedAt,
			UpdatedAt:   item.UpdatedAt,
		})
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].AddedAt.Before(lines[j].AddedAt)
	})
	return lines, nil
}

func (s *cartService) loadProducts(ctx context.Context, cart domain.Cart) (map[string]domain.Product, error) {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return products, nil
}

func (s *cartService) mergeIssue(productID string, requested int, err error) *domain.CartIssue {
	err = shortageFromRepo(err)
	var shortage *StockShortageError
	if errors.As(err, &shortage) {
		code := CartIssueInsufficientStock
		if shortage.Available <= 0 {
			code = CartIssueOutOfStock
		}
		return &domain.CartIssue{
			ProductID: productID,
			Code:      code,
			Message:   shortage.Error(),
			Requested: shortage.Requested,
			Available: shortage.Available,
		}
	}
	if errors.Is(err, ErrStockProductNotFound) {
		return &domain.CartIssue{
			ProductID: productID,
			Code:      CartIssueProductMissing,
			Message:   "product is no longer available",
			Requested: requested,
		}
	}
	return nil
}

// translateCartWriteError surfaces stock shortages with their payload and
// folds everything else into the service sentinels.
func (s *cartService) translateCartWriteError(ctx context.Context, userID, productID string, err error) error {
	translated := shortageFromRepo(err)
	var shortage *StockShortageError
	if errors.As(translated, &shortage) {
		s.logger(ctx, "cart.insufficient_stock", map[string]any{
			"userID":    userID,
			"productID": productID,
			"requested": shortage.Requested,
			"available": shortage.Available,
		})
		return translated
	}
	if errors.Is(translated, ErrStockProductNotFound) {
		return translated
	}
	return s.translateRepoError(translated)
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}
