package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/httpx"
	"github.com/shelfsort/api/internal/platform/pagination"
	"github.com/shelfsort/api/internal/platform/requestctx"
	"github.com/shelfsort/api/internal/platform/storage"
	"github.com/shelfsort/api/internal/repositories"
	"github.com/shelfsort/api/internal/services"
)

const (
	defaultRunPageSize = 20
	maxRunPageSize     = 100
)

// SnapshotURLSigner issues short-lived download URLs for archived move
// lists.
type SnapshotURLSigner interface {
	SignedDownloadURL(ctx context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURLResult, error)
}

// ResortHandlers exposes the resort trigger and run history endpoints.
type ResortHandlers struct {
	resorts        services.ResortService
	limiter        rateLimiter
	signer         SnapshotURLSigner
	snapshotBucket string
}

// ResortHandlerOption customises ResortHandlers construction.
type ResortHandlerOption func(*ResortHandlers)

// WithResortRateLimit caps how often a single shop may trigger a resort.
func WithResortRateLimit(limit int, window time.Duration) ResortHandlerOption {
	return func(h *ResortHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// WithSnapshotDownloads enables the signed snapshot download endpoint backed
// by the given signer and bucket.
func WithSnapshotDownloads(signer SnapshotURLSigner, bucket string) ResortHandlerOption {
	return func(h *ResortHandlers) {
		bucket = strings.TrimSpace(bucket)
		if signer == nil || bucket == "" {
			return
		}
		h.signer = signer
		h.snapshotBucket = bucket
	}
}

// NewResortHandlers wires the resort endpoints to the resort service.
func NewResortHandlers(resorts services.ResortService, opts ...ResortHandlerOption) *ResortHandlers {
	h := &ResortHandlers{resorts: resorts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the collection-scoped resort endpoints.
func (h *ResortHandlers) Routes(r chi.Router) {
	r.Post("/{collectionID}/resort", h.triggerResort)
	r.Get("/{collectionID}/runs", h.listRuns)
}

// RunRoutes registers the run lookup endpoints. The snapshot download route
// is only mounted when a URL signer is configured.
func (h *ResortHandlers) RunRoutes(r chi.Router) {
	r.Get("/{runID}", h.getRun)
	if h.signer != nil {
		r.Get("/{runID}/snapshot-url", h.snapshotURL)
	}
}

type runRoutes struct {
	handlers *ResortHandlers
}

func (rr runRoutes) Routes(r chi.Router) {
	rr.handlers.RunRoutes(r)
}

// RunRegistrar adapts the run lookup endpoints to the router mount API.
func (h *ResortHandlers) RunRegistrar() RouteRegistrar {
	return runRoutes{handlers: h}
}

type resortRunPayload struct {
	ID           string     `json:"id"`
	Shop         string     `json:"shop"`
	CollectionID string     `json:"collectionId"`
	Status       string     `json:"status"`
	SortKey      string     `json:"sortKey"`
	ProductCount int        `json:"productCount"`
	JobID        string     `json:"jobId,omitempty"`
	SnapshotPath string     `json:"snapshotPath,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

func runPayload(run domain.ResortRun) resortRunPayload {
	return resortRunPayload{
		ID:           run.ID,
		Shop:         run.Shop,
		CollectionID: run.CollectionID,
		Status:       string(run.Status),
		SortKey:      string(run.SortKey),
		ProductCount: run.ProductCount,
		JobID:        run.JobID,
		SnapshotPath: run.SnapshotPath,
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
}

func (h *ResortHandlers) triggerResort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := requestctx.Shop(ctx)
	collectionID := strings.TrimSpace(chi.URLParam(r, "collectionID"))
	if collectionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "collection id is required", http.StatusBadRequest))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(shop) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many resort requests", http.StatusTooManyRequests))
		return
	}

	run, err := h.resorts.Resort(ctx, services.ResortCommand{Shop: shop, CollectionID: collectionID})
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, runPayload(run))
	case errors.Is(err, services.ErrReorderUnconfirmed):
		writeJSONResponse(w, http.StatusAccepted, runPayload(run))
	case errors.Is(err, services.ErrResortInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrNotManualSort):
		httpx.WriteError(ctx, w, httpx.NewError("collection_not_manual", "collection is not using manual sorting", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrEmptyCollection):
		httpx.WriteError(ctx, w, httpx.NewError("empty_collection", "collection has no products to sort", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReorderRejected):
		httpx.WriteError(ctx, w, httpx.NewError("reorder_rejected", "catalog rejected the reorder request", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDataUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog data is temporarily unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("resort_failed", "resort could not be completed", http.StatusInternalServerError))
	}
}

func (h *ResortHandlers) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := requestctx.Shop(ctx)
	collectionID := strings.TrimSpace(chi.URLParam(r, "collectionID"))
	if collectionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "collection id is required", http.StatusBadRequest))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultRunPageSize,
		MaxPageSize:     maxRunPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.resorts.ListRuns(ctx, shop, collectionID, domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeRunLookupError(ctx, w, err)
		return
	}

	runs := make([]resortRunPayload, 0, len(page.Items))
	for _, run := range page.Items {
		runs = append(runs, runPayload(run))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"runs":          runs,
		"nextPageToken": page.NextPageToken,
	})
}

func (h *ResortHandlers) getRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := requestctx.Shop(ctx)
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))
	if runID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "run id is required", http.StatusBadRequest))
		return
	}

	run, err := h.resorts.GetRun(ctx, shop, runID)
	if err != nil {
		writeRunLookupError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, runPayload(run))
}

func (h *ResortHandlers) snapshotURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shop := requestctx.Shop(ctx)
	runID := strings.TrimSpace(chi.URLParam(r, "runID"))
	if runID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "run id is required", http.StatusBadRequest))
		return
	}

	run, err := h.resorts.GetRun(ctx, shop, runID)
	if err != nil {
		writeRunLookupError(ctx, w, err)
		return
	}
	if strings.TrimSpace(run.SnapshotPath) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_not_found", "run has no archived snapshot", http.StatusNotFound))
		return
	}

	signed, err := h.signer.SignedDownloadURL(ctx, h.snapshotBucket, run.SnapshotPath, storage.DownloadOptions{
		Disposition:  fmt.Sprintf("attachment; filename=%q", run.ID+".json"),
		ResponseType: "application/json",
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("snapshot_url_failed", "snapshot download url could not be issued", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"url":       signed.URL,
		"method":    signed.Method,
		"expiresAt": signed.ExpiresAt,
	})
}

func writeRunLookupError(ctx context.Context, w http.ResponseWriter, err error) {
	var repoErr repositories.RepositoryError
	switch {
	case errors.Is(err, services.ErrResortInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.As(err, &repoErr) && repoErr.IsNotFound():
		httpx.WriteError(ctx, w, httpx.NewError("run_not_found", "resort run not found", http.StatusNotFound))
	case errors.As(err, &repoErr) && repoErr.IsUnavailable():
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "run storage is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "request could not be completed", http.StatusInternalServerError))
	}
}
