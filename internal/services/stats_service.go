package services

import (
	"context"
	"errors"

	domain "github.com/voltlane/api/internal/domain"
)

var (
	errStatsOrdersRequired  = errors.New("statistics service: order statistics provider is required")
	errStatsReturnsRequired = errors.New("statistics service: return statistics provider is required")
)

// orderStatsProvider is the slice of OrderService the rollup consumes.
type orderStatsProvider interface {
	GetStatistics(ctx context.Context, query StatisticsQuery) (domain.OrderStatistics, error)
}

// returnStatsProvider is the slice of ReturnsService the rollup consumes.
type returnStatsProvider interface {
	GetReturnStats(ctx context.Context) (domain.ReturnStatistics, error)
}

// StatisticsServiceDeps wires the upstream aggregators.
type StatisticsServiceDeps struct {
	Orders  orderStatsProvider
	Returns returnStatsProvider
}

type statisticsService struct {
	orders  orderStatsProvider
	returns returnStatsProvider
}

// NewStatisticsService constructs a StatisticsService enforcing dependency validation.
func NewStatisticsService(deps StatisticsServiceDeps) (StatisticsService, error) {
	if deps.Orders == nil {
		return nil, errStatsOrdersRequired
	}
	if deps.Returns == nil {
		return nil, errStatsReturnsRequired
	}
	return &statisticsService{
		orders:  deps.Orders,
		returns: deps.Returns,
	}, nil
}

// Overview composes the order and return rollups into a single report. The
// date window applies to orders; return stats always cover the full history.
func (s *statisticsService) Overview(ctx context.Context, query StatisticsQuery) (StorefrontStatistics, error) {
	orders, err := s.orders.GetStatistics(ctx, query)
	if err != nil {
		return StorefrontStatistics{}, err
	}
	returns, err := s.returns.GetReturnStats(ctx)
	if err != nil {
		return StorefrontStatistics{}, err
	}
	return StorefrontStatistics{Orders: orders, Returns: returns}, nil
}
