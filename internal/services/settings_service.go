package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shelfsort/api/internal/domain"
	"github.com/shelfsort/api/internal/repositories"
)

const (
	defaultLookbackDays  = 90
	defaultRecencyDays   = 60
	defaultNewWindowDays = 30
)

// SettingsServiceDeps bundles constructor inputs for the settings service.
type SettingsServiceDeps struct {
	Repo   repositories.SettingsRepository
	Clock  func() time.Time
	Logger Logger
}

type settingsService struct {
	repo   repositories.SettingsRepository
	clock  func() time.Time
	logger Logger
}

// NewSettingsService constructs the sorting-configuration service.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Repo == nil {
		return nil, errors.New("settings service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &settingsService{
		repo:   deps.Repo,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// DefaultCollectionSettings returns the configuration applied to collections
// that have never been configured.
func DefaultCollectionSettings() domain.CollectionSettings {
	return domain.CollectionSettings{
		SortKey:           domain.SortCreatedDesc,
		LookbackDays:      defaultLookbackDays,
		RecencyWindowDays: defaultRecencyDays,
		OrderScope:        domain.OrderScopePaid,
		IncludeDiscounts:  true,
	}
}

// DefaultBehaviorRules returns the structural switches applied by default.
func DefaultBehaviorRules() domain.BehaviorRules {
	return domain.BehaviorRules{
		NewProductWindowDays: defaultNewWindowDays,
	}
}

func (s *settingsService) GetBundle(ctx context.Context, shop, collectionID string) (SettingsBundle, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return SettingsBundle{}, err
	}

	settings, err := s.GetCollectionSettings(ctx, shop, collectionID)
	if err != nil {
		return SettingsBundle{}, err
	}
	behavior, err := s.GetBehaviorRules(ctx, shop, collectionID)
	if err != nil {
		return SettingsBundle{}, err
	}
	rules, err := s.GetTagRules(ctx, shop, collectionID)
	if err != nil {
		return SettingsBundle{}, err
	}
	featured, err := s.GetFeaturedEntries(ctx, shop, collectionID)
	if err != nil {
		return SettingsBundle{}, err
	}
	return SettingsBundle{Settings: settings, Behavior: behavior, Rules: rules, Featured: featured}, nil
}

func (s *settingsService) GetCollectionSettings(ctx context.Context, shop, collectionID string) (domain.CollectionSettings, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return domain.CollectionSettings{}, err
	}
	settings, err := s.repo.GetCollectionSettings(ctx, shop, collectionID)
	if err != nil {
		if isNotFound(err) {
			return DefaultCollectionSettings(), nil
		}
		return domain.CollectionSettings{}, err
	}
	return settings, nil
}

func (s *settingsService) UpdateCollectionSettings(ctx context.Context, shop, collectionID string, settings domain.CollectionSettings) (domain.CollectionSettings, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return domain.CollectionSettings{}, err
	}
	if !settings.SortKey.Valid() {
		return domain.CollectionSettings{}, fmt.Errorf("%w: unknown sort key %q", ErrResortInvalidInput, settings.SortKey)
	}
	if settings.LookbackDays < 0 || settings.RecencyWindowDays < 0 || settings.FeatureLimit < 0 {
		return domain.CollectionSettings{}, fmt.Errorf("%w: day windows and feature limit must not be negative", ErrResortInvalidInput)
	}
	switch settings.OrderScope {
	case domain.OrderScopeAll, domain.OrderScopePaid:
	case "":
		settings.OrderScope = domain.OrderScopePaid
	default:
		return domain.CollectionSettings{}, fmt.Errorf("%w: unknown order scope %q", ErrResortInvalidInput, settings.OrderScope)
	}
	if settings.LookbackDays == 0 {
		settings.LookbackDays = defaultLookbackDays
	}
	if settings.RecencyWindowDays == 0 {
		settings.RecencyWindowDays = defaultRecencyDays
	}
	if err := s.repo.SaveCollectionSettings(ctx, shop, collectionID, settings); err != nil {
		return domain.CollectionSettings{}, err
	}
	s.logger(ctx, "resort.settings.updated", map[string]any{
		"shop":         shop,
		"collectionId": collectionID,
		"sortKey":      string(settings.SortKey),
	})
	return settings, nil
}

func (s *settingsService) GetBehaviorRules(ctx context.Context, shop, collectionID string) (domain.BehaviorRules, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return domain.BehaviorRules{}, err
	}
	behavior, err := s.repo.GetBehaviorRules(ctx, shop, collectionID)
	if err != nil {
		if isNotFound(err) {
			return DefaultBehaviorRules(), nil
		}
		return domain.BehaviorRules{}, err
	}
	return behavior, nil
}

func (s *settingsService) UpdateBehaviorRules(ctx context.Context, shop, collectionID string, behavior domain.BehaviorRules) (domain.BehaviorRules, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return domain.BehaviorRules{}, err
	}
	if behavior.NewProductWindowDays < 0 {
		return domain.BehaviorRules{}, fmt.Errorf("%w: new-product window must not be negative", ErrResortInvalidInput)
	}
	if behavior.PushNewProductsUp && behavior.NewProductWindowDays == 0 {
		behavior.NewProductWindowDays = defaultNewWindowDays
	}
	if err := s.repo.SaveBehaviorRules(ctx, shop, collectionID, behavior); err != nil {
		return domain.BehaviorRules{}, err
	}
	return behavior, nil
}

func (s *settingsService) GetTagRules(ctx context.Context, shop, collectionID string) ([]domain.TagRule, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return nil, err
	}
	rules, err := s.repo.GetTagRules(ctx, shop, collectionID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return rules, nil
}

func (s *settingsService) UpdateTagRules(ctx context.Context, shop, collectionID string, rules []domain.TagRule) ([]domain.TagRule, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return nil, err
	}
	cleaned := make([]domain.TagRule, 0, len(rules))
	for i, rule := range rules {
		rule.Tag = strings.TrimSpace(rule.Tag)
		if rule.Tag == "" {
			return nil, fmt.Errorf("%w: rule %d has an empty tag", ErrResortInvalidInput, i)
		}
		if !rule.Bucket.Valid() {
			return nil, fmt.Errorf("%w: rule %d targets unknown bucket %q", ErrResortInvalidInput, i, rule.Bucket)
		}
		cleaned = append(cleaned, rule)
	}
	if err := s.repo.SaveTagRules(ctx, shop, collectionID, cleaned); err != nil {
		return nil, err
	}
	return cleaned, nil
}

func (s *settingsService) GetFeaturedEntries(ctx context.Context, shop, collectionID string) ([]domain.FeaturedEntry, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.GetFeaturedEntries(ctx, shop, collectionID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

func (s *settingsService) UpdateFeaturedEntries(ctx context.Context, shop, collectionID string, entries []domain.FeaturedEntry) ([]domain.FeaturedEntry, error) {
	shop, collectionID, err := requireKeys(shop, collectionID)
	if err != nil {
		return nil, err
	}
	cleaned := make([]domain.FeaturedEntry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		entry.ProductID = strings.TrimSpace(entry.ProductID)
		if entry.ProductID == "" {
			return nil, fmt.Errorf("%w: featured entry %d has an empty product id", ErrResortInvalidInput, i)
		}
		if seen[entry.ProductID] {
			return nil, fmt.Errorf("%w: product %s is featured more than once", ErrResortInvalidInput, entry.ProductID)
		}
		seen[entry.ProductID] = true
		switch entry.Mode {
		case domain.FeatureModeManual:
		case "":
			entry.Mode = domain.FeatureModeManual
		case domain.FeatureModeScheduled:
			if entry.StartsAt == nil || entry.DurationDays <= 0 {
				return nil, fmt.Errorf("%w: scheduled entry %s needs a start and a positive duration", ErrResortInvalidInput, entry.ProductID)
			}
		default:
			return nil, fmt.Errorf("%w: unknown feature mode %q", ErrResortInvalidInput, entry.Mode)
		}
		entry.Position = i
		cleaned = append(cleaned, entry)
	}
	if err := s.repo.SaveFeaturedEntries(ctx, shop, collectionID, cleaned); err != nil {
		return nil, err
	}
	return cleaned, nil
}

func requireKeys(shop, collectionID string) (string, string, error) {
	shop = strings.TrimSpace(shop)
	collectionID = strings.TrimSpace(collectionID)
	if shop == "" {
		return "", "", fmt.Errorf("%w: shop is required", ErrResortInvalidInput)
	}
	if collectionID == "" {
		return "", "", fmt.Errorf("%w: collection id is required", ErrResortInvalidInput)
	}
	return shop, collectionID, nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
