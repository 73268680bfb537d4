// Package di assembles the runtime dependency graph: configuration,
// repositories and services.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltlane/api/internal/platform/config"
	"github.com/voltlane/api/internal/repositories"
	"github.com/voltlane/api/internal/services"
)

// Services bundles the service-layer contracts the process exposes. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Stock      services.StockService
	Cart       services.CartService
	Orders     services.OrderService
	Returns    services.ReturnsService
	Statistics services.StatisticsService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// ContainerDeps carries optional collaborators injected from main.
type ContainerDeps struct {
	// Notifier publishes order status notifications; nil disables publishing.
	Notifier services.NotificationPublisher
	// Logger receives structured service events; nil means no-op.
	Logger func(context.Context, string, map[string]any)
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// the Firestore registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps ContainerDeps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	pricing := services.Pricing{
		TaxRateBasisPoints:    cfg.Pricing.TaxRateBasisPoints,
		ShippingFlat:          cfg.Pricing.ShippingFlatCents,
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
	}

	var svc Services

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Products: reg.Products(),
		Logger:   deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:           reg.Carts(),
		Products:        reg.Products(),
		Pricing:         pricing,
		QuantityCeiling: cfg.Inventory.CartQuantityCeiling,
		Clock:           clock,
		Logger:          deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   reg.Orders(),
		Products: reg.Products(),
		Carts:    reg.Carts(),
		Notifier: deps.Notifier,
		Pricing:  pricing,
		Clock:    clock,
		Logger:   deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	returnsSvc, err := services.NewReturnsService(services.ReturnsServiceDeps{
		Returns: reg.Returns(),
		Orders:  reg.Orders(),
		Clock:   clock,
		Logger:  deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build returns service: %w", err)
	}
	svc.Returns = returnsSvc

	statsSvc, err := services.NewStatisticsService(services.StatisticsServiceDeps{
		Orders:  orderSvc,
		Returns: returnsSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("build statistics service: %w", err)
	}
	svc.Statistics = statsSvc

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients and other held resources.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}
