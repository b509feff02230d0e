package repositories

import (
	"context"

	domain "github.com/shelfsort/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for
// dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Settings() SettingsRepository
	Runs() ResortRunRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation
// used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional
// boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SettingsRepository persists the per-collection sorting configuration.
// Every read should return a RepositoryError with IsNotFound when the
// shop/collection pair has never been configured; callers substitute
// defaults.
type SettingsRepository interface {
	GetCollectionSettings(ctx context.Context, shop, collectionID string) (domain.CollectionSettings, error)
	SaveCollectionSettings(ctx context.Context, shop, collectionID string, settings domain.CollectionSettings) error

	GetBehaviorRules(ctx context.Context, shop, collectionID string) (domain.BehaviorRules, error)
	SaveBehaviorRules(ctx context.Context, shop, collectionID string, behavior domain.BehaviorRules) error

	GetTagRules(ctx context.Context, shop, collectionID string) ([]domain.TagRule, error)
	SaveTagRules(ctx context.Context, shop, collectionID string, rules []domain.TagRule) error

	GetFeaturedEntries(ctx context.Context, shop, collectionID string) ([]domain.FeaturedEntry, error)
	SaveFeaturedEntries(ctx context.Context, shop, collectionID string, entries []domain.FeaturedEntry) error
}

// ResortRunRepository records resort invocations and their terminal
// outcomes.
type ResortRunRepository interface {
	Create(ctx context.Context, run domain.ResortRun) error
	Update(ctx context.Context, run domain.ResortRun) error
	FindByID(ctx context.Context, shop, runID string) (domain.ResortRun, error)
	ListByCollection(ctx context.Context, shop, collectionID string, pagination domain.Pagination) (domain.CursorPage[domain.ResortRun], error)
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
