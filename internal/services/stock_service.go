package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/voltlane/api/internal/repositories"
)

var errStockRepositoryRequired = errors.New("stock service: product repository is required")

// ErrStockInvalidInput indicates the caller supplied invalid input.
var ErrStockInvalidInput = errors.New("stock service: invalid input")

// ErrStockProductNotFound indicates the product has no catalog record.
var ErrStockProductNotFound = errors.New("stock service: product not found")

// ErrStockUnavailable indicates the backing store cannot be reached.
var ErrStockUnavailable = errors.New("stock service: unavailable")

// ErrInsufficientStock is the shared category for stock shortages across
// cart and order operations.
var ErrInsufficientStock = errors.New("services: insufficient stock")

// StockShortageError reports a shortage together with the quantity that is
// still purchasable, so callers can surface it to the customer.
type StockShortageError struct {
	ProductID string
	Requested int
	Available int
}

// Error implements the error interface.
func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Unwrap ties the typed error to the shared category sentinel.
func (e *StockShortageError) Unwrap() error { return ErrInsufficientStock }

// StockServiceDeps wires the catalog read view for stock checks.
type StockServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(context.Context, string, map[string]any)
}

type stockService struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewStockService constructs a StockService enforcing dependency validation.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Products == nil {
		return nil, errStockRepositoryRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockService{
		products: deps.Products,
		logger:   logger,
	}, nil
}

func (s *stockService) Available(ctx context.Context, productID string) (int, error) {
	if s == nil || s.products == nil {
		return 0, ErrStockUnavailable
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return 0, ErrStockInvalidInput
	}

	product, err := s.products.FindByID(ctx, pid)
	if err != nil {
		if isRepoNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrStockProductNotFound, pid)
		}
		return 0, ErrStockUnavailable
	}
	return product.Available(), nil
}

func (s *stockService) HasCapacity(ctx context.Context, productID string, quantity int) (bool, error) {
	if s == nil || s.products == nil {
		return false, ErrStockUnavailable
	}
	pid := strings.TrimSpace(productID)
	if pid == "" || quantity <= 0 {
		return false, ErrStockInvalidInput
	}

	product, err := s.products.FindByID(ctx, pid)
	if err != nil {
		if isRepoNotFound(err) {
			return false, fmt.Errorf("%w: %s", ErrStockProductNotFound, pid)
		}
		return false, ErrStockUnavailable
	}
	return product.HasCapacity(quantity), nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// shortageFromRepo converts a repository StockError into the service-level
// shortage or product-not-found error; other errors pass through unchanged.
func shortageFromRepo(err error) error {
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) {
		return err
	}
	switch stockErr.Code {
	case repositories.StockErrorInsufficient:
		return &StockShortageError{
			ProductID: stockErr.ProductID,
			Requested: stockErr.Requested,
			Available: stockErr.Available,
		}
	case repositories.StockErrorProductNotFound:
		return fmt.Errorf("%w: %s", ErrStockProductNotFound, stockErr.ProductID)
	}
	return err
}
