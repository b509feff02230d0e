package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/api/iterator"

	domain "github.com/shelfsort/api/internal/domain"
)

type stubProductIterator struct {
	products []domain.Product
	err      error
	index    int
}

func (s *stubProductIterator) Next() (domain.Product, error) {
	if s.index >= len(s.products) {
		if s.err != nil {
			return domain.Product{}, s.err
		}
		return domain.Product{}, iterator.Done
	}
	product := s.products[s.index]
	s.index++
	return product, nil
}

type stubOrderIterator struct {
	orders []domain.OrderRecord
	err    error
	index  int
}

func (s *stubOrderIterator) Next() (domain.OrderRecord, error) {
	if s.index >= len(s.orders) {
		if s.err != nil {
			return domain.OrderRecord{}, s.err
		}
		return domain.OrderRecord{}, iterator.Done
	}
	order := s.orders[s.index]
	s.index++
	return order, nil
}

func newTestAggregator(t *testing.T, now time.Time) SalesAggregator {
	t.Helper()
	aggregator, err := NewSalesAggregator(SalesAggregatorDeps{
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewSalesAggregator() error = %v", err)
	}
	return aggregator
}

func TestAggregateDiscountedPricePreferred(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	discounted := int64(700)
	orders := &stubOrderIterator{orders: []domain.OrderRecord{
		{ID: "o1", CreatedAt: now.AddDate(0, 0, -1), LineItems: []domain.OrderLineItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: 1000},
		}},
		{ID: "o2", CreatedAt: now.AddDate(0, 0, -2), LineItems: []domain.OrderLineItem{
			{ProductID: "p1", Quantity: 1, UnitPrice: 1000, DiscountedUnitPrice: &discounted},
		}},
		{ID: "o3", CreatedAt: now.AddDate(0, 0, -3), LineItems: []domain.OrderLineItem{
			{ProductID: "p1", Quantity: 4, UnitPrice: 800},
		}},
	}}

	aggregator := newTestAggregator(t, now)
	metrics, err := aggregator.Aggregate(context.Background(), orders, AggregateQuery{IncludeDiscounts: true})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	metric := metrics["p1"]
	if metric.UnitsTotal != 7 {
		t.Fatalf("UnitsTotal = %d, want 7", metric.UnitsTotal)
	}
	if metric.Revenue != 5900 {
		t.Fatalf("Revenue = %d, want 5900", metric.Revenue)
	}
}

func TestAggregateIgnoresDiscountWhenDisabled(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	discounted := int64(700)
	orders := &stubOrderIterator{orders: []domain.OrderRecord{
		{ID: "o1", CreatedAt: now, LineItems: []domain.OrderLineItem{
			{ProductID: "p1", Quantity: 1, UnitPrice: 1000, DiscountedUnitPrice: &discounted},
		}},
	}}

	aggregator := newTestAggregator(t, now)
	metrics, err := aggregator.Aggregate(context.Background(), orders, AggregateQuery{IncludeDiscounts: false})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if metrics["p1"].Revenue != 1000 {
		t.Fatalf("Revenue = %d, want list price 1000", metrics["p1"].Revenue)
	}
}

func TestAggregateRecencyWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderIterator{orders: []domain.OrderRecord{
		{ID: "recent", CreatedAt: now.AddDate(0, 0, -10), LineItems: []domain.OrderLineItem{
			{ProductID: "p1", Quantity: 3, UnitPrice: 100},
		}},
		{ID: "stale", CreatedAt: now.AddDate(0, 0, -90), LineItems: []domain.OrderLineItem{
			{ProductID: "p1", Quantity: 5, UnitPrice: 100},
		}},
	}}

	aggregator := newTestAggregator(t, now)
	metrics, err := aggregator.Aggregate(context.Background(), orders, AggregateQuery{RecencyWindowDays: 60})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}

	metric := metrics["p1"]
	if metric.UnitsTotal != 8 {
		t.Fatalf("UnitsTotal = %d, want 8", metric.UnitsTotal)
	}
	if metric.UnitsRecent != 3 {
		t.Fatalf("UnitsRecent = %d, want 3", metric.UnitsRecent)
	}
}

func TestAggregateTransportFailureDiscardsPartial(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderIterator{
		orders: []domain.OrderRecord{
			{ID: "o1", CreatedAt: now, LineItems: []domain.OrderLineItem{
				{ProductID: "p1", Quantity: 2, UnitPrice: 100},
			}},
		},
		err: errors.New("page fetch failed"),
	}

	aggregator := newTestAggregator(t, now)
	metrics, err := aggregator.Aggregate(context.Background(), orders, AggregateQuery{})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Aggregate() error = %v, want ErrDataUnavailable", err)
	}
	if metrics != nil {
		t.Fatalf("metrics = %v, want nil on failure", metrics)
	}
}

func TestAggregateSkipsZeroQuantityLines(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderIterator{orders: []domain.OrderRecord{
		{ID: "o1", CreatedAt: now, LineItems: []domain.OrderLineItem{
			{ProductID: "p1", Quantity: 0, UnitPrice: 100},
			{ProductID: "", Quantity: 4, UnitPrice: 100},
		}},
	}}

	aggregator := newTestAggregator(t, now)
	metrics, err := aggregator.Aggregate(context.Background(), orders, AggregateQuery{})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(metrics) != 0 {
		t.Fatalf("metrics = %v, want empty", metrics)
	}
}
