package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/platform/httpx"
	"github.com/shelfsort/api/internal/platform/requestctx"
	"github.com/shelfsort/api/internal/repositories"
	"github.com/shelfsort/api/internal/services"
)

// SettingsHandlers exposes the per-collection sorting configuration.
type SettingsHandlers struct {
	settings services.SettingsService
}

// NewSettingsHandlers wires the settings endpoints to the settings service.
func NewSettingsHandlers(settings services.SettingsService) *SettingsHandlers {
	return &SettingsHandlers{settings: settings}
}

// Routes registers the collection-scoped settings endpoints.
func (h *SettingsHandlers) Routes(r chi.Router) {
	r.Get("/{collectionID}/settings", h.getBundle)
	r.Get("/{collectionID}/settings/sort", h.getCollectionSettings)
	r.Put("/{collectionID}/settings/sort", h.updateCollectionSettings)
	r.Get("/{collectionID}/settings/behavior", h.getBehaviorRules)
	r.Put("/{collectionID}/settings/behavior", h.updateBehaviorRules)
	r.Get("/{collectionID}/settings/tag-rules", h.getTagRules)
	r.Put("/{collectionID}/settings/tag-rules", h.updateTagRules)
	r.Get("/{collectionID}/settings/featured", h.getFeaturedEntries)
	r.Put("/{collectionID}/settings/featured", h.updateFeaturedEntries)
}

type collectionSettingsPayload struct {
	SortKey           string `json:"sortKey"`
	LookbackDays      int    `json:"lookbackDays"`
	RecencyWindowDays int    `json:"recencyWindowDays"`
	OrderScope        string `json:"orderScope"`
	IncludeDiscounts  bool   `json:"includeDiscounts"`
	FeatureLimit      int    `json:"featureLimit"`
}

func settingsPayload(settings domain.CollectionSettings) collectionSettingsPayload {
	return collectionSettingsPayload{
		SortKey:           string(settings.SortKey),
		LookbackDays:      settings.LookbackDays,
		RecencyWindowDays: settings.RecencyWindowDays,
		OrderScope:        string(settings.OrderScope),
		IncludeDiscounts:  settings.IncludeDiscounts,
		FeatureLimit:      settings.FeatureLimit,
	}
}

func (p collectionSettingsPayload) toDomain() domain.CollectionSettings {
	return domain.CollectionSettings{
		SortKey:           domain.SortKey(p.SortKey),
		LookbackDays:      p.LookbackDays,
		RecencyWindowDays: p.RecencyWindowDays,
		OrderScope:        domain.OrderStatusScope(p.OrderScope),
		IncludeDiscounts:  p.IncludeDiscounts,
		FeatureLimit:      p.FeatureLimit,
	}
}

type behaviorRulesPayload struct {
	PushNewProductsUp         bool `json:"pushNewProductsUp"`
	NewProductWindowDays      int  `json:"newProductWindowDays"`
	PushDownOutOfStock        bool `json:"pushDownOutOfStock"`
	NewBeatsOutOfStock        bool `json:"newBeatsOutOfStock"`
	FeaturedBeatsOutOfStock   bool `json:"featuredBeatsOutOfStock"`
	TagDefinesOutOfStockOrder bool `json:"tagDefinesOutOfStockOrder"`
}

func behaviorPayload(behavior domain.BehaviorRules) behaviorRulesPayload {
	return behaviorRulesPayload{
		PushNewProductsUp:         behavior.PushNewProductsUp,
		NewProductWindowDays:      behavior.NewProductWindowDays,
		PushDownOutOfStock:        behavior.PushDownOutOfStock,
		NewBeatsOutOfStock:        behavior.NewBeatsOutOfStock,
		FeaturedBeatsOutOfStock:   behavior.FeaturedBeatsOutOfStock,
		TagDefinesOutOfStockOrder: behavior.TagDefinesOutOfStockOrder,
	}
}

func (p behaviorRulesPayload) toDomain() domain.BehaviorRules {
	return domain.BehaviorRules{
		PushNewProductsUp:         p.PushNewProductsUp,
		NewProductWindowDays:      p.NewProductWindowDays,
		PushDownOutOfStock:        p.PushDownOutOfStock,
		NewBeatsOutOfStock:        p.NewBeatsOutOfStock,
		FeaturedBeatsOutOfStock:   p.FeaturedBeatsOutOfStock,
		TagDefinesOutOfStockOrder: p.TagDefinesOutOfStockOrder,
	}
}

type tagRulePayload struct {
	Tag    string `json:"tag"`
	Bucket string `json:"bucket"`
}

type featuredEntryPayload struct {
	ProductID    string     `json:"productId"`
	Position     int        `json:"position"`
	Mode         string     `json:"mode"`
	StartsAt     *time.Time `json:"startsAt,omitempty"`
	DurationDays int        `json:"durationDays,omitempty"`
}

func tagRulePayloads(rules []domain.TagRule) []tagRulePayload {
	out := make([]tagRulePayload, 0, len(rules))
	for _, rule := range rules {
		out = append(out, tagRulePayload{Tag: rule.Tag, Bucket: string(rule.Bucket)})
	}
	return out
}

func featuredPayloads(entries []domain.FeaturedEntry) []featuredEntryPayload {
	out := make([]featuredEntryPayload, 0, len(entries))
	for _, entry := range entries {
		out = append(out, featuredEntryPayload{
			ProductID:    entry.ProductID,
			Position:     entry.Position,
			Mode:         string(entry.Mode),
			StartsAt:     entry.StartsAt,
			DurationDays: entry.DurationDays,
		})
	}
	return out
}

func (h *SettingsHandlers) getBundle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	bundle, err := h.settings.GetBundle(ctx, requestctx.Shop(ctx), collectionID)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"settings": settingsPayload(bundle.Settings),
		"behavior": behaviorPayload(bundle.Behavior),
		"tagRules": tagRulePayloads(bundle.Rules),
		"featured": featuredPayloads(bundle.Featured),
	})
}

func (h *SettingsHandlers) getCollectionSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	settings, err := h.settings.GetCollectionSettings(ctx, requestctx.Shop(ctx), collectionID)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, settingsPayload(settings))
}

func (h *SettingsHandlers) updateCollectionSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	var payload collectionSettingsPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	updated, err := h.settings.UpdateCollectionSettings(ctx, requestctx.Shop(ctx), collectionID, payload.toDomain())
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, settingsPayload(updated))
}

func (h *SettingsHandlers) getBehaviorRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	behavior, err := h.settings.GetBehaviorRules(ctx, requestctx.Shop(ctx), collectionID)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, behaviorPayload(behavior))
}

func (h *SettingsHandlers) updateBehaviorRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	var payload behaviorRulesPayload
	if err := decodeJSONBody(r, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	updated, err := h.settings.UpdateBehaviorRules(ctx, requestctx.Shop(ctx), collectionID, payload.toDomain())
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, behaviorPayload(updated))
}

func (h *SettingsHandlers) getTagRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	rules, err := h.settings.GetTagRules(ctx, requestctx.Shop(ctx), collectionID)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tagRules": tagRulePayloads(rules)})
}

func (h *SettingsHandlers) updateTagRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	var payload struct {
		TagRules []tagRulePayload `json:"tagRules"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	rules := make([]domain.TagRule, 0, len(payload.TagRules))
	for _, rule := range payload.TagRules {
		rules = append(rules, domain.TagRule{Tag: rule.Tag, Bucket: domain.TagBucket(rule.Bucket)})
	}

	updated, err := h.settings.UpdateTagRules(ctx, requestctx.Shop(ctx), collectionID, rules)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tagRules": tagRulePayloads(updated)})
}

func (h *SettingsHandlers) getFeaturedEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	entries, err := h.settings.GetFeaturedEntries(ctx, requestctx.Shop(ctx), collectionID)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"featured": featuredPayloads(entries)})
}

func (h *SettingsHandlers) updateFeaturedEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collectionID, ok := settingsScope(w, r)
	if !ok {
		return
	}

	var payload struct {
		Featured []featuredEntryPayload `json:"featured"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is not valid JSON", http.StatusBadRequest))
		return
	}

	entries := make([]domain.FeaturedEntry, 0, len(payload.Featured))
	for _, entry := range payload.Featured {
		entries = append(entries, domain.FeaturedEntry{
			ProductID:    entry.ProductID,
			Position:     entry.Position,
			Mode:         domain.FeatureMode(entry.Mode),
			StartsAt:     entry.StartsAt,
			DurationDays: entry.DurationDays,
		})
	}

	updated, err := h.settings.UpdateFeaturedEntries(ctx, requestctx.Shop(ctx), collectionID, entries)
	if err != nil {
		writeSettingsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"featured": featuredPayloads(updated)})
}

func settingsScope(w http.ResponseWriter, r *http.Request) (string, bool) {
	collectionID := strings.TrimSpace(chi.URLParam(r, "collectionID"))
	if collectionID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "collection id is required", http.StatusBadRequest))
		return "", false
	}
	return collectionID, true
}

func writeSettingsError(ctx context.Context, w http.ResponseWriter, err error) {
	var repoErr repositories.RepositoryError
	switch {
	case errors.Is(err, services.ErrResortInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_settings", err.Error(), http.StatusBadRequest))
	case errors.As(err, &repoErr) && repoErr.IsUnavailable():
		httpx.WriteError(ctx, w, httpx.NewError("storage_unavailable", "settings storage is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "request could not be completed", http.StatusInternalServerError))
	}
}
