package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shelfsort/api/internal/catalog"
	"github.com/shelfsort/api/internal/platform/config"
	"github.com/shelfsort/api/internal/repositories"
	"github.com/shelfsort/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Resort   services.ResortService
	Settings services.SettingsService
}

// ContainerDeps carries the externally constructed collaborators the
// container cannot build from configuration alone. Publisher, Archiver, and
// Metrics are optional; the resort service degrades gracefully without them.
type ContainerDeps struct {
	Registry  repositories.Registry
	Catalog   catalog.Client
	Publisher services.ResortEventPublisher
	Archiver  services.SnapshotArchiver
	Metrics   services.RunMetrics
	Logger    services.Logger
	IDGen     func() string
}

// Container wires repositories, services, and background infrastructure for
// runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring
// provides real clients, while tests can supply in-memory registries and
// stub catalogs.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog client is required")
	}

	svc, err := buildServices(cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	settingsSvc, err := services.NewSettingsService(services.SettingsServiceDeps{
		Repo:   deps.Registry.Settings(),
		Clock:  time.Now,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}
	svc.Settings = settingsSvc

	aggregator, err := services.NewSalesAggregator(services.SalesAggregatorDeps{
		Clock:  time.Now,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build sales aggregator: %w", err)
	}

	compositor, err := services.NewRuleCompositor(services.RuleCompositorDeps{
		Classifier: services.NewTagClassifier(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build rule compositor: %w", err)
	}

	reconciler, err := services.NewReorderReconciler(services.ReorderReconcilerDeps{
		Catalog:      deps.Catalog,
		Logger:       deps.Logger,
		PollInterval: cfg.Resort.PollInterval,
		PollAttempts: cfg.Resort.PollAttempts,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reorder reconciler: %w", err)
	}

	resortSvc, err := services.NewResortService(services.ResortServiceDeps{
		Catalog:    deps.Catalog,
		Settings:   settingsSvc,
		Runs:       deps.Registry.Runs(),
		Aggregator: aggregator,
		Compositor: compositor,
		Reconciler: reconciler,
		Publisher:  deps.Publisher,
		Archiver:   deps.Archiver,
		Metrics:    deps.Metrics,
		Clock:      time.Now,
		IDGen:      idGen,
		Logger:     deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build resort service: %w", err)
	}
	svc.Resort = resortSvc

	return svc, nil
}
