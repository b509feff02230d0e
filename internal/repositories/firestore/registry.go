package firestore

import (
	"context"
	"errors"
	"fmt"

	fs "cloud.google.com/go/firestore"

	pfirestore "github.com/shelfsort/api/internal/platform/firestore"
	"github.com/shelfsort/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	settings *SettingsRepository
	runs     *ResortRunRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryDeps collects the dependencies required to build the registry.
type RegistryDeps struct {
	Provider *pfirestore.Provider
	Health   repositories.HealthRepository
}

// NewRegistry constructs a Firestore-backed repository registry.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Provider == nil {
		return nil, errors.New("repository registry: firestore provider is required")
	}
	if deps.Health == nil {
		return nil, errors.New("repository registry: health repository is required")
	}

	settings, err := NewSettingsRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("repository registry: %w", err)
	}
	runs, err := NewResortRunRepository(deps.Provider)
	if err != nil {
		return nil, fmt.Errorf("repository registry: %w", err)
	}

	return &Registry{
		provider: deps.Provider,
		settings: settings,
		runs:     runs,
		health:   deps.Health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Settings returns the per-collection configuration repository.
func (r *Registry) Settings() repositories.SettingsRepository {
	return r.settings
}

// Runs returns the resort run repository.
func (r *Registry) Runs() repositories.ResortRunRepository {
	return r.runs
}

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository {
	return r.health
}

// RunInTx executes fn within a Firestore transaction. The transaction
// handle stays internal to the platform layer; callers group repository
// writes that must land atomically.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("repository registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *fs.Transaction) error {
		return fn(txCtx)
	})
}
