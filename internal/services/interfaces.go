package services

import (
	"context"
	"time"

	"github.com/shelfsort/api/internal/catalog"
	domain "github.com/shelfsort/api/internal/domain"
)

// Logger defines the minimal logging contract used across services.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Classification holds the five disjoint tag buckets produced by the
// classifier. Each slice preserves the order of the classified product set.
type Classification struct {
	Top              []string
	AfterNew         []string
	BeforeOutOfStock []string
	Bottom           []string
	Unclassified     []string
}

// Bucket returns the ids assigned to the named bucket.
func (c Classification) Bucket(b domain.TagBucket) []string {
	switch b {
	case domain.BucketTop:
		return c.Top
	case domain.BucketAfterNew:
		return c.AfterNew
	case domain.BucketBeforeOutOfStock:
		return c.BeforeOutOfStock
	case domain.BucketBottom:
		return c.Bottom
	default:
		return c.Unclassified
	}
}

// TagClassifier assigns each product to exactly one ordering bucket by
// scanning the rule list in stored order.
type TagClassifier interface {
	Classify(products []domain.Product, rules []domain.TagRule) Classification
}

// AggregateQuery bounds one sales aggregation pass.
type AggregateQuery struct {
	RecencyWindowDays int
	IncludeDiscounts  bool
}

// SalesAggregator folds an order stream into per-product sales metrics.
type SalesAggregator interface {
	Aggregate(ctx context.Context, orders catalog.OrderIterator, query AggregateQuery) (map[string]domain.SalesMetric, error)
}

// CompositionInput is the full per-invocation context consumed by the
// compositor. It is built once per resort and never mutated by the stages.
type CompositionInput struct {
	Products []domain.Product
	Metrics  map[string]domain.SalesMetric
	Settings domain.CollectionSettings
	Behavior domain.BehaviorRules
	Rules    []domain.TagRule
	Featured []domain.FeaturedEntry
	Now      time.Time
}

// RuleCompositor linearizes a product set into a single ordered id list.
type RuleCompositor interface {
	Compose(input CompositionInput) ([]string, error)
}

// ReorderOutcome reports what the reconciler did with a composed order.
type ReorderOutcome struct {
	JobID     string
	Moves     int
	Confirmed bool
	Attempts  int
}

// ReorderReconciler submits a composed order to the catalog and polls the
// resulting job until it completes or the polling budget is exhausted.
type ReorderReconciler interface {
	Reconcile(ctx context.Context, collectionID string, order []string) (ReorderOutcome, error)
}

// ResortCommand identifies the collection to resort.
type ResortCommand struct {
	Shop         string
	CollectionID string
}

// ResortService drives the full resort workflow and records each run.
type ResortService interface {
	Resort(ctx context.Context, cmd ResortCommand) (domain.ResortRun, error)
	GetRun(ctx context.Context, shop, runID string) (domain.ResortRun, error)
	ListRuns(ctx context.Context, shop, collectionID string, pagination domain.Pagination) (domain.CursorPage[domain.ResortRun], error)
}

// SettingsBundle is the complete sorting configuration for one collection.
type SettingsBundle struct {
	Settings domain.CollectionSettings
	Behavior domain.BehaviorRules
	Rules    []domain.TagRule
	Featured []domain.FeaturedEntry
}

// SettingsService manages the per-collection sorting configuration.
type SettingsService interface {
	GetBundle(ctx context.Context, shop, collectionID string) (SettingsBundle, error)
	GetCollectionSettings(ctx context.Context, shop, collectionID string) (domain.CollectionSettings, error)
	UpdateCollectionSettings(ctx context.Context, shop, collectionID string, settings domain.CollectionSettings) (domain.CollectionSettings, error)
	GetBehaviorRules(ctx context.Context, shop, collectionID string) (domain.BehaviorRules, error)
	UpdateBehaviorRules(ctx context.Context, shop, collectionID string, behavior domain.BehaviorRules) (domain.BehaviorRules, error)
	GetTagRules(ctx context.Context, shop, collectionID string) ([]domain.TagRule, error)
	UpdateTagRules(ctx context.Context, shop, collectionID string, rules []domain.TagRule) ([]domain.TagRule, error)
	GetFeaturedEntries(ctx context.Context, shop, collectionID string) ([]domain.FeaturedEntry, error)
	UpdateFeaturedEntries(ctx context.Context, shop, collectionID string, entries []domain.FeaturedEntry) ([]domain.FeaturedEntry, error)
}

// ResortCompletedEvent is emitted after a resort run reaches a terminal
// status.
type ResortCompletedEvent struct {
	RunID        string
	Shop         string
	CollectionID string
	Status       domain.ResortRunStatus
	SortKey      domain.SortKey
	ProductCount int
	JobID        string
	OccurredAt   time.Time
}

// ResortEventPublisher fans resort lifecycle events out to interested
// consumers.
type ResortEventPublisher interface {
	PublishResortCompleted(ctx context.Context, event ResortCompletedEvent) error
}

// SnapshotArchiver persists the submitted move list for later audit.
type SnapshotArchiver interface {
	ArchiveMoves(ctx context.Context, run domain.ResortRun, moves []domain.Move) (string, error)
}

// RunMetrics counts terminal resort runs by status.
type RunMetrics interface {
	RecordRun(ctx context.Context, status domain.ResortRunStatus)
}
