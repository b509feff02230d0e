package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
)

var resortNow = time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

type fakeSettingsService struct {
	SettingsService
	bundle    SettingsBundle
	bundleErr error
}

func (f *fakeSettingsService) GetBundle(ctx context.Context, shop, collectionID string) (SettingsBundle, error) {
	if f.bundleErr != nil {
		return SettingsBundle{}, f.bundleErr
	}
	return f.bundle, nil
}

type fakeRunRepo struct {
	created []domain.ResortRun
	updated []domain.ResortRun
	runs    map[string]domain.ResortRun
}

func (f *fakeRunRepo) Create(ctx context.Context, run domain.ResortRun) error {
	f.created = append(f.created, run)
	return nil
}

func (f *fakeRunRepo) Update(ctx context.Context, run domain.ResortRun) error {
	f.updated = append(f.updated, run)
	return nil
}

func (f *fakeRunRepo) FindByID(ctx context.Context, shop, runID string) (domain.ResortRun, error) {
	run, ok := f.runs[runID]
	if !ok {
		return domain.ResortRun{}, errors.New("run not found")
	}
	return run, nil
}

func (f *fakeRunRepo) ListByCollection(ctx context.Context, shop, collectionID string, pagination domain.Pagination) (domain.CursorPage[domain.ResortRun], error) {
	var items []domain.ResortRun
	for _, run := range f.runs {
		if run.Shop == shop && run.CollectionID == collectionID {
			items = append(items, run)
		}
	}
	return domain.CursorPage[domain.ResortRun]{Items: items}, nil
}

type fakePublisher struct {
	events []ResortCompletedEvent
	err    error
}

func (f *fakePublisher) PublishResortCompleted(ctx context.Context, event ResortCompletedEvent) error {
	f.events = append(f.events, event)
	return f.err
}

type fakeArchiver struct {
	moves []domain.Move
	path  string
	err   error
}

func (f *fakeArchiver) ArchiveMoves(ctx context.Context, run domain.ResortRun, moves []domain.Move) (string, error) {
	f.moves = moves
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type fakeRunMetrics struct {
	statuses []domain.ResortRunStatus
}

func (f *fakeRunMetrics) RecordRun(ctx context.Context, status domain.ResortRunStatus) {
	f.statuses = append(f.statuses, status)
}

type resortFixture struct {
	service  ResortService
	catalog  *fakeCatalogClient
	runs     *fakeRunRepo
	events   *fakePublisher
	archiver *fakeArchiver
	metrics  *fakeRunMetrics
}

func newResortFixture(t *testing.T, client *fakeCatalogClient, bundle SettingsBundle) *resortFixture {
	t.Helper()

	aggregator, err := NewSalesAggregator(SalesAggregatorDeps{Clock: func() time.Time { return resortNow }})
	if err != nil {
		t.Fatalf("NewSalesAggregator() error = %v", err)
	}
	compositor, err := NewRuleCompositor(RuleCompositorDeps{Classifier: NewTagClassifier()})
	if err != nil {
		t.Fatalf("NewRuleCompositor() error = %v", err)
	}
	reconciler, err := NewReorderReconciler(ReorderReconcilerDeps{
		Catalog: client,
		Sleep:   func(ctx context.Context, d time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewReorderReconciler() error = %v", err)
	}

	runs := &fakeRunRepo{runs: map[string]domain.ResortRun{}}
	events := &fakePublisher{}
	archiver := &fakeArchiver{path: "snapshots/run.json"}
	metrics := &fakeRunMetrics{}

	var seq int
	service, err := NewResortService(ResortServiceDeps{
		Catalog:    client,
		Settings:   &fakeSettingsService{bundle: bundle},
		Runs:       runs,
		Aggregator: aggregator,
		Compositor: compositor,
		Reconciler: reconciler,
		Publisher:  events,
		Archiver:   archiver,
		Metrics:    metrics,
		Clock:      func() time.Time { return resortNow },
		IDGen: func() string {
			seq++
			return fmt.Sprintf("run-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewResortService() error = %v", err)
	}
	return &resortFixture{
		service:  service,
		catalog:  client,
		runs:     runs,
		events:   events,
		archiver: archiver,
		metrics:  metrics,
	}
}

func resortBundle(key domain.SortKey) SettingsBundle {
	settings := DefaultCollectionSettings()
	settings.SortKey = key
	return SettingsBundle{Settings: settings, Behavior: DefaultBehaviorRules()}
}

func resortProducts() []domain.Product {
	return []domain.Product{
		{ID: "p1", TotalInventory: 3, CreatedAt: resortNow.AddDate(0, 0, -10), Price: 100},
		{ID: "p2", TotalInventory: 1, CreatedAt: resortNow.AddDate(0, 0, -5), Price: 200},
	}
}

func TestResortConfirmedRun(t *testing.T) {
	client := &fakeCatalogClient{
		sortMode:     domain.SortModeManual,
		products:     resortProducts(),
		submitJob:    domain.ReorderJob{ID: "job-1"},
		statusDoneAt: 1,
	}
	fx := newResortFixture(t, client, resortBundle(domain.SortCreatedDesc))

	run, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"})
	if err != nil {
		t.Fatalf("Resort() error = %v", err)
	}
	if run.Status != domain.ResortRunConfirmed {
		t.Fatalf("run.Status = %q, want confirmed", run.Status)
	}
	if run.ProductCount != 2 {
		t.Fatalf("run.ProductCount = %d, want 2", run.ProductCount)
	}
	if run.JobID != "job-1" {
		t.Fatalf("run.JobID = %q, want job-1", run.JobID)
	}
	if run.SnapshotPath != "snapshots/run.json" {
		t.Fatalf("run.SnapshotPath = %q", run.SnapshotPath)
	}
	if run.FinishedAt == nil {
		t.Fatal("run.FinishedAt = nil, want set")
	}

	// created_desc puts the newer p2 first
	if fx.archiver.moves[0].ProductID != "p2" || fx.archiver.moves[0].Position != 0 {
		t.Fatalf("first move = %+v", fx.archiver.moves[0])
	}

	if len(fx.runs.created) != 1 || fx.runs.created[0].Status != domain.ResortRunRunning {
		t.Fatalf("created runs = %+v", fx.runs.created)
	}
	if len(fx.runs.updated) != 1 || fx.runs.updated[0].Status != domain.ResortRunConfirmed {
		t.Fatalf("updated runs = %+v", fx.runs.updated)
	}
	if len(fx.events.events) != 1 || fx.events.events[0].Status != domain.ResortRunConfirmed {
		t.Fatalf("events = %+v", fx.events.events)
	}
	if len(fx.metrics.statuses) != 1 || fx.metrics.statuses[0] != domain.ResortRunConfirmed {
		t.Fatalf("metrics = %v", fx.metrics.statuses)
	}
}

func TestResortEmptyCollection(t *testing.T) {
	client := &fakeCatalogClient{sortMode: domain.SortModeManual}
	fx := newResortFixture(t, client, resortBundle(domain.SortCreatedDesc))

	run, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"})
	if !errors.Is(err, ErrEmptyCollection) {
		t.Fatalf("Resort() error = %v, want ErrEmptyCollection", err)
	}
	if run.Status != domain.ResortRunFailed {
		t.Fatalf("run.Status = %q, want failed", run.Status)
	}
	if len(client.submitted) != 0 {
		t.Fatalf("SubmitReorder called %d times, want 0", len(client.submitted))
	}
}

func TestResortNonManualCollection(t *testing.T) {
	client := &fakeCatalogClient{
		sortMode: domain.SortModeAutomatic,
		products: resortProducts(),
	}
	fx := newResortFixture(t, client, resortBundle(domain.SortCreatedDesc))

	run, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"})
	if !errors.Is(err, ErrNotManualSort) {
		t.Fatalf("Resort() error = %v, want ErrNotManualSort", err)
	}
	if run.Status != domain.ResortRunFailed {
		t.Fatalf("run.Status = %q, want failed", run.Status)
	}
	if len(client.submitted) != 0 {
		t.Fatalf("SubmitReorder called %d times, want 0", len(client.submitted))
	}
}

func TestResortOrderFetchFailureAborts(t *testing.T) {
	client := &fakeCatalogClient{
		sortMode:  domain.SortModeManual,
		products:  resortProducts(),
		ordersErr: errors.New("order page fetch failed"),
	}
	fx := newResortFixture(t, client, resortBundle(domain.SortRevenueDesc))

	run, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"})
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Resort() error = %v, want ErrDataUnavailable", err)
	}
	if run.Status != domain.ResortRunFailed {
		t.Fatalf("run.Status = %q, want failed", run.Status)
	}
	if len(client.submitted) != 0 {
		t.Fatal("reorder must not be submitted over partial sales data")
	}
}

func TestResortSkipsOrderFetchForNonMetricKeys(t *testing.T) {
	client := &fakeCatalogClient{
		sortMode:     domain.SortModeManual,
		products:     resortProducts(),
		ordersErr:    errors.New("orders must not be fetched"),
		submitJob:    domain.ReorderJob{ID: "job-1"},
		statusDoneAt: 1,
	}
	fx := newResortFixture(t, client, resortBundle(domain.SortPriceAsc))

	if _, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"}); err != nil {
		t.Fatalf("Resort() error = %v", err)
	}
}

func TestResortLookbackWindowApplied(t *testing.T) {
	client := &fakeCatalogClient{
		sortMode:     domain.SortModeManual,
		products:     resortProducts(),
		submitJob:    domain.ReorderJob{ID: "job-1"},
		statusDoneAt: 1,
	}
	bundle := resortBundle(domain.SortUnitsDesc)
	bundle.Settings.LookbackDays = 30
	fx := newResortFixture(t, client, bundle)

	if _, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"}); err != nil {
		t.Fatalf("Resort() error = %v", err)
	}
	wantAfter := resortNow.AddDate(0, 0, -30)
	if !client.orderQuery.CreatedAfter.Equal(wantAfter) {
		t.Fatalf("CreatedAfter = %v, want %v", client.orderQuery.CreatedAfter, wantAfter)
	}
	if client.orderQuery.Scope != domain.OrderScopePaid {
		t.Fatalf("Scope = %q, want paid", client.orderQuery.Scope)
	}
}

func TestResortUnconfirmedIsSoftFailure(t *testing.T) {
	client := &fakeCatalogClient{
		sortMode:  domain.SortModeManual,
		products:  resortProducts(),
		submitJob: domain.ReorderJob{ID: "job-1"},
		// never confirms
	}
	fx := newResortFixture(t, client, resortBundle(domain.SortCreatedDesc))

	run, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"})
	if !errors.Is(err, ErrReorderUnconfirmed) {
		t.Fatalf("Resort() error = %v, want ErrReorderUnconfirmed", err)
	}
	if run.Status != domain.ResortRunUnconfirmed {
		t.Fatalf("run.Status = %q, want unconfirmed", run.Status)
	}
	if run.JobID != "job-1" {
		t.Fatalf("run.JobID = %q, want job-1 preserved for re-check", run.JobID)
	}
	if len(fx.metrics.statuses) != 1 || fx.metrics.statuses[0] != domain.ResortRunUnconfirmed {
		t.Fatalf("metrics = %v", fx.metrics.statuses)
	}
}

// ctxBoundRunRepo refuses writes on a dead context, the way a real store
// does once the request is cancelled.
type ctxBoundRunRepo struct {
	fakeRunRepo
}

func (f *ctxBoundRunRepo) Update(ctx context.Context, run domain.ResortRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.fakeRunRepo.Update(ctx, run)
}

func TestResortCancelledRequestStillRecordsTerminalRun(t *testing.T) {
	client := &fakeCatalogClient{
		sortMode:  domain.SortModeManual,
		products:  resortProducts(),
		submitJob: domain.ReorderJob{ID: "job-1"},
		// never confirms
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	compositor, err := NewRuleCompositor(RuleCompositorDeps{Classifier: NewTagClassifier()})
	if err != nil {
		t.Fatalf("NewRuleCompositor() error = %v", err)
	}
	aggregator, err := NewSalesAggregator(SalesAggregatorDeps{Clock: func() time.Time { return resortNow }})
	if err != nil {
		t.Fatalf("NewSalesAggregator() error = %v", err)
	}
	reconciler, err := NewReorderReconciler(ReorderReconcilerDeps{
		Catalog: client,
		Sleep: func(ctx context.Context, d time.Duration) error {
			// the request deadline fires mid-poll
			cancel()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("NewReorderReconciler() error = %v", err)
	}

	runs := &ctxBoundRunRepo{fakeRunRepo{runs: map[string]domain.ResortRun{}}}
	service, err := NewResortService(ResortServiceDeps{
		Catalog:    client,
		Settings:   &fakeSettingsService{bundle: resortBundle(domain.SortCreatedDesc)},
		Runs:       runs,
		Aggregator: aggregator,
		Compositor: compositor,
		Reconciler: reconciler,
		Clock:      func() time.Time { return resortNow },
		IDGen:      func() string { return "run-1" },
	})
	if err != nil {
		t.Fatalf("NewResortService() error = %v", err)
	}

	run, err := service.Resort(ctx, ResortCommand{Shop: "demo-shop", CollectionID: "col-1"})
	if !errors.Is(err, ErrReorderUnconfirmed) {
		t.Fatalf("Resort() error = %v, want ErrReorderUnconfirmed", err)
	}
	if run.Status != domain.ResortRunUnconfirmed {
		t.Fatalf("run.Status = %q, want unconfirmed", run.Status)
	}
	// the terminal write must land despite the dead request context
	if len(runs.updated) != 1 || runs.updated[0].Status != domain.ResortRunUnconfirmed {
		t.Fatalf("updated runs = %+v, want one unconfirmed record", runs.updated)
	}
}

func TestResortSnapshotFailureIsNonFatal(t *testing.T) {
	client := &fakeCatalogClient{
		sortMode:     domain.SortModeManual,
		products:     resortProducts(),
		submitJob:    domain.ReorderJob{ID: "job-1"},
		statusDoneAt: 1,
	}
	fx := newResortFixture(t, client, resortBundle(domain.SortCreatedDesc))
	fx.archiver.err = errors.New("bucket unavailable")

	run, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"})
	if err != nil {
		t.Fatalf("Resort() error = %v", err)
	}
	if run.SnapshotPath != "" {
		t.Fatalf("run.SnapshotPath = %q, want empty after archive failure", run.SnapshotPath)
	}
	if run.Status != domain.ResortRunConfirmed {
		t.Fatalf("run.Status = %q, want confirmed", run.Status)
	}
}

func TestResortValidatesCommand(t *testing.T) {
	client := &fakeCatalogClient{sortMode: domain.SortModeManual}
	fx := newResortFixture(t, client, resortBundle(domain.SortCreatedDesc))

	if _, err := fx.service.Resort(context.Background(), ResortCommand{Shop: " ", CollectionID: "col-1"}); !errors.Is(err, ErrResortInvalidInput) {
		t.Fatalf("Resort() error = %v, want ErrResortInvalidInput", err)
	}
	if len(fx.runs.created) != 0 {
		t.Fatalf("runs created = %d, want 0", len(fx.runs.created))
	}
}

func TestResortDeduplicatesProductStream(t *testing.T) {
	products := resortProducts()
	products = append(products, products[0])
	client := &fakeCatalogClient{
		sortMode:     domain.SortModeManual,
		products:     products,
		submitJob:    domain.ReorderJob{ID: "job-1"},
		statusDoneAt: 1,
	}
	fx := newResortFixture(t, client, resortBundle(domain.SortCreatedDesc))

	run, err := fx.service.Resort(context.Background(), ResortCommand{Shop: "demo-shop", CollectionID: "col-1"})
	if err != nil {
		t.Fatalf("Resort() error = %v", err)
	}
	if run.ProductCount != 2 {
		t.Fatalf("run.ProductCount = %d, want duplicate collapsed to 2", run.ProductCount)
	}
}
