package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is a read-only snapshot of a catalog product taken per resort run.
// The core never mutates products; it only reads them to compute an order.
type Product struct {
	ID             string
	Title          string
	Tags           []string
	TotalInventory int
	CreatedAt      time.Time
	PublishedAt    time.Time
	// Price is the listed unit price in the smallest currency unit.
	Price int64
}

// InStock reports whether the product has sellable inventory.
func (p Product) InStock() bool {
	return p.TotalInventory > 0
}

// HasTag reports whether the product carries the given tag. Matching is
// case-sensitive exact string comparison.
func (p Product) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// OrderLineItem exposes the per-product quantities and prices of a sold line.
type OrderLineItem struct {
	ProductID string
	Quantity  int
	// UnitPrice is the listed unit price in the smallest currency unit.
	UnitPrice int64
	// DiscountedUnitPrice is set when the line sold at a reduced price.
	DiscountedUnitPrice *int64
}

// OrderRecord is the slice of a historical order the aggregator consumes.
type OrderRecord struct {
	ID        string
	CreatedAt time.Time
	Paid      bool
	LineItems []OrderLineItem
}

// SalesMetric accumulates per-product sales figures for one aggregation run.
type SalesMetric struct {
	UnitsTotal  int
	UnitsRecent int
	Revenue     int64
}

// OrderStatusScope selects which historical orders feed the aggregator.
type OrderStatusScope string

const (
	// OrderScopeAll aggregates every order regardless of payment state.
	OrderScopeAll OrderStatusScope = "all"
	// OrderScopePaid restricts aggregation to paid orders.
	OrderScopePaid OrderStatusScope = "paid"
)

// FeatureMode distinguishes permanently pinned entries from scheduled ones.
type FeatureMode string

const (
	// FeatureModeManual pins the entry until the merchant removes it.
	FeatureModeManual FeatureMode = "manual"
	// FeatureModeScheduled pins the entry only inside its schedule window.
	FeatureModeScheduled FeatureMode = "scheduled"
)

// FeaturedEntry is a merchant-chosen product pinned near the top of a
// collection. Entries form an ordered list; the stored order is the intended
// top-of-collection sequence.
type FeaturedEntry struct {
	ProductID    string
	Position     int
	Mode         FeatureMode
	StartsAt     *time.Time
	DurationDays int
}

// ActiveAt reports whether the entry is eligible for top placement at the
// given instant. Manual entries are always active; scheduled entries only
// while now falls inside [StartsAt, StartsAt+DurationDays).
func (e FeaturedEntry) ActiveAt(now time.Time) bool {
	if e.Mode != FeatureModeScheduled {
		return true
	}
	if e.StartsAt == nil || e.DurationDays <= 0 {
		return false
	}
	start := e.StartsAt.UTC()
	end := start.AddDate(0, 0, e.DurationDays)
	return !now.Before(start) && now.Before(end)
}

// TagRule maps a literal product tag to a target ordering bucket. Rules are
// stored as an ordered list; the first matching rule wins.
type TagRule struct {
	Tag    string
	Bucket TagBucket
}

// BehaviorRules hold the merchant's structural sorting switches.
type BehaviorRules struct {
	PushNewProductsUp    bool
	NewProductWindowDays int
	PushDownOutOfStock   bool

	// NewBeatsOutOfStock keeps a recently created but out-of-stock product in
	// the new-products block instead of demoting it.
	NewBeatsOutOfStock bool
	// FeaturedBeatsOutOfStock keeps an out-of-stock featured entry at the top
	// instead of letting it fall through to the out-of-stock block.
	FeaturedBeatsOutOfStock bool
	// TagDefinesOutOfStockOrder preserves tag-bucket ordering inside the
	// pushed-down out-of-stock block; when false the block is placed
	// untagged-first as one undifferentiated group.
	TagDefinesOutOfStockOrder bool
}

// CollectionSettings carry the per-collection sorting configuration.
type CollectionSettings struct {
	SortKey SortKey
	// LookbackDays bounds the order history consumed by the aggregator.
	LookbackDays int
	// RecencyWindowDays sizes the unitsRecent window, independent of lookback.
	RecencyWindowDays int
	OrderScope        OrderStatusScope
	// IncludeDiscounts makes revenue math prefer discounted line prices.
	IncludeDiscounts bool
	// FeatureLimit caps how many featured entries receive top placement.
	// Zero means unlimited.
	FeatureLimit int
}

// SortMode is the catalog's own ordering mode for a collection. Reorders are
// only meaningful against manually sorted collections.
type SortMode string

const (
	// SortModeManual means positions are merchant-controlled and writable.
	SortModeManual SortMode = "manual"
	// SortModeAutomatic means the catalog computes positions itself.
	SortModeAutomatic SortMode = "automatic"
)

// Move assigns one product a zero-based target position in a reorder.
type Move struct {
	ProductID string
	Position  int
}

// ReorderJob is the asynchronous handle returned by a reorder submission.
type ReorderJob struct {
	ID       string
	Done     bool
	IssuedAt time.Time
}

// ResortRunStatus enumerates the lifecycle states of a resort invocation.
type ResortRunStatus string

const (
	// ResortRunRunning marks a run that is still compositing or polling.
	ResortRunRunning ResortRunStatus = "running"
	// ResortRunConfirmed marks a run whose reorder completed remotely.
	ResortRunConfirmed ResortRunStatus = "confirmed"
	// ResortRunUnconfirmed marks a submitted reorder whose completion could
	// not be confirmed inside the polling budget.
	ResortRunUnconfirmed ResortRunStatus = "unconfirmed"
	// ResortRunFailed marks a run that aborted before or during submission.
	ResortRunFailed ResortRunStatus = "failed"
)

// ResortRun records one resort invocation for audit and re-check surfaces.
type ResortRun struct {
	ID           string
	Shop         string
	CollectionID string
	Status       ResortRunStatus
	SortKey      SortKey
	ProductCount int
	JobID        string
	SnapshotPath string
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}
