package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/iterator"

	"github.com/shelfsort/api/internal/catalog"
	domain "github.com/shelfsort/api/internal/domain"
)

const defaultRecencyWindowDays = 60

// SalesAggregatorDeps bundles constructor inputs for the sales aggregator.
type SalesAggregatorDeps struct {
	Clock  func() time.Time
	Logger Logger
}

type salesAggregator struct {
	clock  func() time.Time
	logger Logger
}

// NewSalesAggregator constructs the order-stream sales aggregator.
func NewSalesAggregator(deps SalesAggregatorDeps) (SalesAggregator, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &salesAggregator{
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Aggregate folds the order stream into per-product metrics. A transport
// failure on any page aborts the pass and discards partial sums; composing a
// ranking over an under-counted stream would silently skew it.
func (a *salesAggregator) Aggregate(ctx context.Context, orders catalog.OrderIterator, query AggregateQuery) (map[string]domain.SalesMetric, error) {
	if orders == nil {
		return nil, errors.New("sales aggregator: order iterator is required")
	}
	windowDays := query.RecencyWindowDays
	if windowDays <= 0 {
		windowDays = defaultRecencyWindowDays
	}
	now := a.clock()
	recencyFloor := now.AddDate(0, 0, -windowDays)

	metrics := make(map[string]domain.SalesMetric)
	var consumed int
	for {
		order, err := orders.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: aggregating orders: %v", ErrDataUnavailable, err)
		}
		consumed++

		recent := !order.CreatedAt.Before(recencyFloor)
		for _, line := range order.LineItems {
			if line.ProductID == "" || line.Quantity <= 0 {
				continue
			}
			metric := metrics[line.ProductID]
			metric.UnitsTotal += line.Quantity
			if recent {
				metric.UnitsRecent += line.Quantity
			}
			unitPrice := line.UnitPrice
			if query.IncludeDiscounts && line.DiscountedUnitPrice != nil {
				unitPrice = *line.DiscountedUnitPrice
			}
			metric.Revenue += unitPrice * int64(line.Quantity)
			metrics[line.ProductID] = metric
		}
	}

	a.logger(ctx, "resort.aggregate.completed", map[string]any{
		"orders":   consumed,
		"products": len(metrics),
	})
	return metrics, nil
}
