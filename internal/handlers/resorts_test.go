package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/pagination"
	"github.com/shelfsort/api/internal/platform/storage"
	"github.com/shelfsort/api/internal/services"
)

type stubResortService struct {
	resortFn   func(ctx context.Context, cmd services.ResortCommand) (domain.ResortRun, error)
	getRunFn   func(ctx context.Context, shop, runID string) (domain.ResortRun, error)
	listRunsFn func(ctx context.Context, shop, collectionID string, pagination domain.Pagination) (domain.CursorPage[domain.ResortRun], error)
}

func (s *stubResortService) Resort(ctx context.Context, cmd services.ResortCommand) (domain.ResortRun, error) {
	if s.resortFn == nil {
		return domain.ResortRun{}, fmt.Errorf("unexpected Resort call")
	}
	return s.resortFn(ctx, cmd)
}

func (s *stubResortService) GetRun(ctx context.Context, shop, runID string) (domain.ResortRun, error) {
	if s.getRunFn == nil {
		return domain.ResortRun{}, fmt.Errorf("unexpected GetRun call")
	}
	return s.getRunFn(ctx, shop, runID)
}

func (s *stubResortService) ListRuns(ctx context.Context, shop, collectionID string, page domain.Pagination) (domain.CursorPage[domain.ResortRun], error) {
	if s.listRunsFn == nil {
		return domain.CursorPage[domain.ResortRun]{}, fmt.Errorf("unexpected ListRuns call")
	}
	return s.listRunsFn(ctx, shop, collectionID, page)
}

type notFoundError struct{}

func (notFoundError) Error() string       { return "not found" }
func (notFoundError) IsNotFound() bool    { return true }
func (notFoundError) IsConflict() bool    { return false }
func (notFoundError) IsUnavailable() bool { return false }

func newResortTestRouter(h *ResortHandlers) http.Handler {
	return NewRouter(
		WithCollectionRoutes(h, ShopMiddleware),
		WithRunRoutes(h.RunRegistrar(), ShopMiddleware),
	)
}

func doShopRequest(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(ShopHeader, "demo-shop.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestTriggerResortConfirmed(t *testing.T) {
	started := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	svc := &stubResortService{
		resortFn: func(ctx context.Context, cmd services.ResortCommand) (domain.ResortRun, error) {
			if cmd.Shop != "demo-shop.example.com" {
				t.Errorf("expected shop from header, got %q", cmd.Shop)
			}
			if cmd.CollectionID != "col-1" {
				t.Errorf("expected collection col-1, got %q", cmd.CollectionID)
			}
			return domain.ResortRun{
				ID:           "run-1",
				Shop:         cmd.Shop,
				CollectionID: cmd.CollectionID,
				Status:       domain.ResortRunConfirmed,
				SortKey:      domain.SortRevenueDesc,
				ProductCount: 12,
				StartedAt:    started,
			}, nil
		},
	}

	rec := doShopRequest(t, newResortTestRouter(NewResortHandlers(svc)), http.MethodPost, "/collections/col-1/resort")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body resortRunPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "confirmed" {
		t.Errorf("expected confirmed, got %s", body.Status)
	}
	if body.ProductCount != 12 {
		t.Errorf("expected product count 12, got %d", body.ProductCount)
	}
}

func TestTriggerResortUnconfirmedReturns202(t *testing.T) {
	svc := &stubResortService{
		resortFn: func(ctx context.Context, cmd services.ResortCommand) (domain.ResortRun, error) {
			return domain.ResortRun{
				ID:     "run-2",
				Status: domain.ResortRunUnconfirmed,
			}, services.ErrReorderUnconfirmed
		},
	}

	rec := doShopRequest(t, newResortTestRouter(NewResortHandlers(svc)), http.MethodPost, "/collections/col-1/resort")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var body resortRunPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "unconfirmed" {
		t.Errorf("expected unconfirmed, got %s", body.Status)
	}
}

func TestTriggerResortErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", services.ErrResortInvalidInput, http.StatusUnprocessableEntity, "invalid_request"},
		{"not manual", services.ErrNotManualSort, http.StatusUnprocessableEntity, "collection_not_manual"},
		{"empty collection", services.ErrEmptyCollection, http.StatusUnprocessableEntity, "empty_collection"},
		{"reorder rejected", services.ErrReorderRejected, http.StatusUnprocessableEntity, "reorder_rejected"},
		{"data unavailable", services.ErrDataUnavailable, http.StatusBadGateway, "catalog_unavailable"},
		{"unknown failure", fmt.Errorf("boom"), http.StatusInternalServerError, "resort_failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubResortService{
				resortFn: func(ctx context.Context, cmd services.ResortCommand) (domain.ResortRun, error) {
					return domain.ResortRun{}, fmt.Errorf("wrapped: %w", tc.err)
				},
			}

			rec := doShopRequest(t, newResortTestRouter(NewResortHandlers(svc)), http.MethodPost, "/collections/col-1/resort")

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Errorf("expected code %s, got %v", tc.wantCode, body["error"])
			}
		})
	}
}

func TestTriggerResortMissingShopRejected(t *testing.T) {
	svc := &stubResortService{
		resortFn: func(ctx context.Context, cmd services.ResortCommand) (domain.ResortRun, error) {
			t.Fatal("service should not be called without a shop")
			return domain.ResortRun{}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/collections/col-1/resort", nil)
	rec := httptest.NewRecorder()
	newResortTestRouter(NewResortHandlers(svc)).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "missing_shop" {
		t.Errorf("expected missing_shop, got %v", body["error"])
	}
}

func TestTriggerResortRateLimited(t *testing.T) {
	svc := &stubResortService{
		resortFn: func(ctx context.Context, cmd services.ResortCommand) (domain.ResortRun, error) {
			return domain.ResortRun{ID: "run-1", Status: domain.ResortRunConfirmed}, nil
		},
	}
	handler := newResortTestRouter(NewResortHandlers(svc, WithResortRateLimit(1, time.Minute)))

	if rec := doShopRequest(t, handler, http.MethodPost, "/collections/col-1/resort"); rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec := doShopRequest(t, handler, http.MethodPost, "/collections/col-1/resort")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestListRunsForwardsPagination(t *testing.T) {
	finished := time.Date(2024, 5, 2, 10, 5, 0, 0, time.UTC)
	token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{"2024-05-02T10:00:00Z", "run-0"}})
	if err != nil {
		t.Fatalf("encode token: %v", err)
	}
	svc := &stubResortService{
		listRunsFn: func(ctx context.Context, shop, collectionID string, page domain.Pagination) (domain.CursorPage[domain.ResortRun], error) {
			if page.PageSize != 5 {
				t.Errorf("expected page size 5, got %d", page.PageSize)
			}
			if page.PageToken != token {
				t.Errorf("expected page token %q, got %q", token, page.PageToken)
			}
			return domain.CursorPage[domain.ResortRun]{
				Items: []domain.ResortRun{
					{ID: "run-1", Status: domain.ResortRunConfirmed, FinishedAt: &finished},
					{ID: "run-2", Status: domain.ResortRunFailed, Error: "catalog timeout"},
				},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	rec := doShopRequest(t, newResortTestRouter(NewResortHandlers(svc)), http.MethodGet, "/collections/col-1/runs?pageSize=5&pageToken="+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Runs          []resortRunPayload `json:"runs"`
		NextPageToken string             `json:"nextPageToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(body.Runs))
	}
	if body.Runs[1].Error != "catalog timeout" {
		t.Errorf("expected failure message, got %q", body.Runs[1].Error)
	}
	if body.NextPageToken != "tok-2" {
		t.Errorf("expected next token tok-2, got %q", body.NextPageToken)
	}
}

func TestGetRunNotFound(t *testing.T) {
	svc := &stubResortService{
		getRunFn: func(ctx context.Context, shop, runID string) (domain.ResortRun, error) {
			return domain.ResortRun{}, notFoundError{}
		},
	}

	rec := doShopRequest(t, newResortTestRouter(NewResortHandlers(svc)), http.MethodGet, "/runs/run-missing")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "run_not_found" {
		t.Errorf("expected run_not_found, got %v", body["error"])
	}
}

type stubURLSigner struct {
	lastBucket string
	lastObject string
}

func (s *stubURLSigner) SignedDownloadURL(ctx context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURLResult, error) {
	s.lastBucket = bucket
	s.lastObject = object
	return storage.SignedURLResult{
		URL:       "https://storage.example.com/" + object + "?sig=abc",
		Method:    http.MethodGet,
		ExpiresAt: time.Date(2024, 5, 2, 10, 10, 0, 0, time.UTC),
	}, nil
}

func TestSnapshotURLIssuesSignedLink(t *testing.T) {
	svc := &stubResortService{
		getRunFn: func(ctx context.Context, shop, runID string) (domain.ResortRun, error) {
			return domain.ResortRun{
				ID:           "run-1",
				Status:       domain.ResortRunConfirmed,
				SnapshotPath: "snapshots/demo-shop.example.com/col-1/run-1.json",
			}, nil
		},
	}
	signer := &stubURLSigner{}
	h := NewResortHandlers(svc, WithSnapshotDownloads(signer, "resort-snapshots"))

	rec := doShopRequest(t, newResortTestRouter(h), http.MethodGet, "/runs/run-1/snapshot-url")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if signer.lastBucket != "resort-snapshots" {
		t.Errorf("expected snapshot bucket, got %q", signer.lastBucket)
	}
	if signer.lastObject != "snapshots/demo-shop.example.com/col-1/run-1.json" {
		t.Errorf("expected snapshot object path, got %q", signer.lastObject)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["url"] == "" || body["method"] != http.MethodGet {
		t.Errorf("unexpected payload: %v", body)
	}
}

func TestSnapshotURLWithoutArchiveReturns404(t *testing.T) {
	svc := &stubResortService{
		getRunFn: func(ctx context.Context, shop, runID string) (domain.ResortRun, error) {
			return domain.ResortRun{ID: "run-1", Status: domain.ResortRunConfirmed}, nil
		},
	}
	h := NewResortHandlers(svc, WithSnapshotDownloads(&stubURLSigner{}, "resort-snapshots"))

	rec := doShopRequest(t, newResortTestRouter(h), http.MethodGet, "/runs/run-1/snapshot-url")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "snapshot_not_found" {
		t.Errorf("expected snapshot_not_found, got %v", body["error"])
	}
}

func TestGetRunSuccess(t *testing.T) {
	svc := &stubResortService{
		getRunFn: func(ctx context.Context, shop, runID string) (domain.ResortRun, error) {
			if runID != "run-1" {
				t.Errorf("expected run-1, got %q", runID)
			}
			return domain.ResortRun{
				ID:           "run-1",
				Shop:         shop,
				Status:       domain.ResortRunConfirmed,
				SnapshotPath: "snapshots/demo-shop.example.com/col-1/run-1.json",
			}, nil
		},
	}

	rec := doShopRequest(t, newResortTestRouter(NewResortHandlers(svc)), http.MethodGet, "/runs/run-1")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body resortRunPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.SnapshotPath == "" {
		t.Error("expected snapshot path in payload")
	}
}
