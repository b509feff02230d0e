package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/iterator"

	"github.com/shelfsort/api/internal/catalog"
	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/repositories"
)

// ResortServiceDeps bundles constructor inputs for the resort service.
type ResortServiceDeps struct {
	Catalog    catalog.Client
	Settings   SettingsService
	Runs       repositories.ResortRunRepository
	Aggregator SalesAggregator
	Compositor RuleCompositor
	Reconciler ReorderReconciler
	Publisher  ResortEventPublisher
	Archiver   SnapshotArchiver
	Metrics    RunMetrics
	Clock      func() time.Time
	IDGen      func() string
	Logger     Logger
}

type resortService struct {
	catalog    catalog.Client
	settings   SettingsService
	runs       repositories.ResortRunRepository
	aggregator SalesAggregator
	compositor RuleCompositor
	reconciler ReorderReconciler
	publisher  ResortEventPublisher
	archiver   SnapshotArchiver
	metrics    RunMetrics
	clock      func() time.Time
	idGen      func() string
	logger     Logger
}

// NewResortService constructs the resort workflow service.
func NewResortService(deps ResortServiceDeps) (ResortService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("resort service: catalog client is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("resort service: settings service is required")
	}
	if deps.Runs == nil {
		return nil, errors.New("resort service: run repository is required")
	}
	if deps.Aggregator == nil {
		return nil, errors.New("resort service: sales aggregator is required")
	}
	if deps.Compositor == nil {
		return nil, errors.New("resort service: rule compositor is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("resort service: reorder reconciler is required")
	}
	if deps.IDGen == nil {
		return nil, errors.New("resort service: id generator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &resortService{
		catalog:    deps.Catalog,
		settings:   deps.Settings,
		runs:       deps.Runs,
		aggregator: deps.Aggregator,
		compositor: deps.Compositor,
		reconciler: deps.Reconciler,
		publisher:  deps.Publisher,
		archiver:   deps.Archiver,
		metrics:    deps.Metrics,
		clock:      func() time.Time { return clock().UTC() },
		idGen:      deps.IDGen,
		logger:     logger,
	}, nil
}

// Resort runs the full workflow: load configuration, fetch catalog data,
// compose the order, submit it, and poll for confirmation. Every invocation
// leaves a run record behind regardless of outcome. An unconfirmed reorder
// is returned with ErrReorderUnconfirmed and a run in unconfirmed status so
// the caller can re-check later.
func (s *resortService) Resort(ctx context.Context, cmd ResortCommand) (domain.ResortRun, error) {
	shop := strings.TrimSpace(cmd.Shop)
	collectionID := strings.TrimSpace(cmd.CollectionID)
	if shop == "" || collectionID == "" {
		return domain.ResortRun{}, fmt.Errorf("%w: shop and collection id are required", ErrResortInvalidInput)
	}

	bundle, err := s.settings.GetBundle(ctx, shop, collectionID)
	if err != nil {
		return domain.ResortRun{}, fmt.Errorf("resort service: loading configuration: %w", err)
	}

	now := s.clock()
	run := domain.ResortRun{
		ID:           s.idGen(),
		Shop:         shop,
		CollectionID: collectionID,
		Status:       domain.ResortRunRunning,
		SortKey:      bundle.Settings.SortKey,
		StartedAt:    now,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return domain.ResortRun{}, fmt.Errorf("resort service: recording run: %w", err)
	}

	run, err = s.execute(ctx, run, bundle)
	finished := s.clock()
	run.FinishedAt = &finished
	// A request cancelled mid-poll must not strand the run record in
	// running state, so the terminal write and side effects detach from the
	// request context.
	finalCtx := context.WithoutCancel(ctx)
	if updateErr := s.runs.Update(finalCtx, run); updateErr != nil {
		s.logger(finalCtx, "resort.run.update_failed", map[string]any{
			"runId": run.ID,
			"error": updateErr.Error(),
		})
	}
	s.finalize(finalCtx, run)
	return run, err
}

func (s *resortService) execute(ctx context.Context, run domain.ResortRun, bundle SettingsBundle) (domain.ResortRun, error) {
	now := run.StartedAt

	// Products and orders live in unrelated remote collections; paginate
	// them concurrently.
	var (
		wg       sync.WaitGroup
		products []domain.Product
		prodErr  error
		metrics  map[string]domain.SalesMetric
		aggErr   error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		products, prodErr = drainProducts(s.catalog.ListProducts(ctx, run.CollectionID))
	}()
	if bundle.Settings.SortKey.NeedsSalesMetrics() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lookback := bundle.Settings.LookbackDays
			query := catalog.OrderQuery{Scope: bundle.Settings.OrderScope}
			if lookback > 0 {
				query.CreatedAfter = now.AddDate(0, 0, -lookback)
			}
			metrics, aggErr = s.aggregator.Aggregate(ctx, s.catalog.ListOrders(ctx, query), AggregateQuery{
				RecencyWindowDays: bundle.Settings.RecencyWindowDays,
				IncludeDiscounts:  bundle.Settings.IncludeDiscounts,
			})
		}()
	}
	wg.Wait()

	if prodErr != nil {
		return s.failRun(run, fmt.Errorf("%w: listing products: %v", ErrDataUnavailable, prodErr))
	}
	if aggErr != nil {
		return s.failRun(run, aggErr)
	}
	if len(products) == 0 {
		return s.failRun(run, ErrEmptyCollection)
	}
	run.ProductCount = len(products)

	order, err := s.compositor.Compose(CompositionInput{
		Products: products,
		Metrics:  metrics,
		Settings: bundle.Settings,
		Behavior: bundle.Behavior,
		Rules:    bundle.Rules,
		Featured: bundle.Featured,
		Now:      now,
	})
	if err != nil {
		return s.failRun(run, err)
	}

	moves := make([]domain.Move, len(order))
	for i, id := range order {
		moves[i] = domain.Move{ProductID: id, Position: i}
	}
	if s.archiver != nil {
		path, archiveErr := s.archiver.ArchiveMoves(ctx, run, moves)
		if archiveErr != nil {
			// the snapshot is an audit aid, not a precondition
			s.logger(ctx, "resort.snapshot.failed", map[string]any{
				"runId": run.ID,
				"error": archiveErr.Error(),
			})
		} else {
			run.SnapshotPath = path
		}
	}

	outcome, err := s.reconciler.Reconcile(ctx, run.CollectionID, order)
	run.JobID = outcome.JobID
	switch {
	case err == nil:
		run.Status = domain.ResortRunConfirmed
		return run, nil
	case errors.Is(err, ErrReorderUnconfirmed):
		run.Status = domain.ResortRunUnconfirmed
		run.Error = err.Error()
		return run, err
	default:
		return s.failRun(run, err)
	}
}

func (s *resortService) failRun(run domain.ResortRun, err error) (domain.ResortRun, error) {
	run.Status = domain.ResortRunFailed
	run.Error = err.Error()
	return run, err
}

// finalize emits the terminal-status side effects; none of them can fail the
// run itself.
func (s *resortService) finalize(ctx context.Context, run domain.ResortRun) {
	if s.metrics != nil {
		s.metrics.RecordRun(ctx, run.Status)
	}
	if s.publisher != nil {
		event := ResortCompletedEvent{
			RunID:        run.ID,
			Shop:         run.Shop,
			CollectionID: run.CollectionID,
			Status:       run.Status,
			SortKey:      run.SortKey,
			ProductCount: run.ProductCount,
			JobID:        run.JobID,
			OccurredAt:   s.clock(),
		}
		if err := s.publisher.PublishResortCompleted(ctx, event); err != nil {
			s.logger(ctx, "resort.event.publish_failed", map[string]any{
				"runId": run.ID,
				"error": err.Error(),
			})
		}
	}
	s.logger(ctx, "resort.run.finished", map[string]any{
		"runId":        run.ID,
		"shop":         run.Shop,
		"collectionId": run.CollectionID,
		"status":       string(run.Status),
		"products":     run.ProductCount,
	})
}

func (s *resortService) GetRun(ctx context.Context, shop, runID string) (domain.ResortRun, error) {
	shop = strings.TrimSpace(shop)
	runID = strings.TrimSpace(runID)
	if shop == "" || runID == "" {
		return domain.ResortRun{}, fmt.Errorf("%w: shop and run id are required", ErrResortInvalidInput)
	}
	return s.runs.FindByID(ctx, shop, runID)
}

func (s *resortService) ListRuns(ctx context.Context, shop, collectionID string, pagination domain.Pagination) (domain.CursorPage[domain.ResortRun], error) {
	shop = strings.TrimSpace(shop)
	collectionID = strings.TrimSpace(collectionID)
	if shop == "" || collectionID == "" {
		return domain.CursorPage[domain.ResortRun]{}, fmt.Errorf("%w: shop and collection id are required", ErrResortInvalidInput)
	}
	return s.runs.ListByCollection(ctx, shop, collectionID, pagination)
}

func drainProducts(it catalog.ProductIterator) ([]domain.Product, error) {
	if it == nil {
		return nil, errors.New("resort service: product iterator is required")
	}
	var products []domain.Product
	seen := make(map[string]bool)
	for {
		product, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return products, nil
		}
		if err != nil {
			return nil, err
		}
		if seen[product.ID] {
			continue
		}
		seen[product.ID] = true
		products = append(products, product)
	}
}
