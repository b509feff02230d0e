// Package catalog defines the typed boundary to the remote commerce catalog.
// The resort engine only ever reads product/order data and writes a position
// list through these interfaces; transport and wire format stay behind them.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
)

// ProductIterator walks a cursor-paginated, finite product listing. Next
// returns google.golang.org/api/iterator.Done once every page has been
// visited. Iterators are restartable from scratch but not resumable
// mid-stream.
type ProductIterator interface {
	Next() (domain.Product, error)
}

// OrderIterator walks a cursor-paginated, finite order listing, newest pages
// first or last at the platform's discretion; the aggregator only requires
// that all pages are visited exactly once.
type OrderIterator interface {
	Next() (domain.OrderRecord, error)
}

// OrderQuery bounds the order listing consumed by sales aggregation.
type OrderQuery struct {
	CreatedAfter time.Time
	Scope        domain.OrderStatusScope
}

// Client is the narrow contract the resort engine holds against the catalog
// platform. Implementations own pagination, retries at the transport level,
// and credential handling.
type Client interface {
	// CollectionSortMode reads the collection's current ordering mode.
	CollectionSortMode(ctx context.Context, collectionID string) (domain.SortMode, error)
	// ListProducts opens a lazy product stream for the collection.
	ListProducts(ctx context.Context, collectionID string) ProductIterator
	// ListOrders opens a lazy order stream for the shop.
	ListOrders(ctx context.Context, query OrderQuery) OrderIterator
	// SubmitReorder sends a complete move list and returns the async job
	// handle, or a UserError when the platform rejects the submission.
	SubmitReorder(ctx context.Context, collectionID string, moves []domain.Move) (domain.ReorderJob, error)
	// JobStatus performs one blocking read of the reorder job's done flag.
	JobStatus(ctx context.Context, jobID string) (bool, error)
}

// UserError carries the platform's own validation messages for a rejected
// mutation, as opposed to a transport failure.
type UserError struct {
	Messages []string
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e == nil || len(e.Messages) == 0 {
		return "catalog: mutation rejected"
	}
	return fmt.Sprintf("catalog: mutation rejected: %s", strings.Join(e.Messages, "; "))
}

// TransportError wraps a failed page fetch or mutation round-trip. Callers
// treat it as retrievable-data-unavailable and abort the current run.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("catalog: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying error.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
