package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/shelfsort/api/internal/platform/firestore"

	domain "github.com/shelfsort/api/internal/domain"
)

const (
	collectionSettingsCollection = "collectionSettings"
	behaviorRulesCollection      = "behaviorRules"
	tagRulesCollection           = "tagRules"
	featuredEntriesCollection    = "featuredEntries"
)

type collectionSettingsDocument struct {
	Shop              string    `firestore:"shop"`
	CollectionID      string    `firestore:"collectionId"`
	SortKey           string    `firestore:"sortKey"`
	LookbackDays      int       `firestore:"lookbackDays"`
	RecencyWindowDays int       `firestore:"recencyWindowDays"`
	OrderScope        string    `firestore:"orderScope"`
	IncludeDiscounts  bool      `firestore:"includeDiscounts"`
	FeatureLimit      int       `firestore:"featureLimit"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

type behaviorRulesDocument struct {
	Shop                      string    `firestore:"shop"`
	CollectionID              string    `firestore:"collectionId"`
	PushNewProductsUp         bool      `firestore:"pushNewProductsUp"`
	NewProductWindowDays      int       `firestore:"newProductWindowDays"`
	PushDownOutOfStock        bool      `firestore:"pushDownOutOfStock"`
	NewBeatsOutOfStock        bool      `firestore:"newBeatsOutOfStock"`
	FeaturedBeatsOutOfStock   bool      `firestore:"featuredBeatsOutOfStock"`
	TagDefinesOutOfStockOrder bool      `firestore:"tagDefinesOutOfStockOrder"`
	UpdatedAt                 time.Time `firestore:"updatedAt"`
}

type tagRuleEntry struct {
	Tag    string `firestore:"tag"`
	Bucket string `firestore:"bucket"`
}

type tagRulesDocument struct {
	Shop         string         `firestore:"shop"`
	CollectionID string         `firestore:"collectionId"`
	Rules        []tagRuleEntry `firestore:"rules"`
	UpdatedAt    time.Time      `firestore:"updatedAt"`
}

type featuredEntryRecord struct {
	ProductID    string     `firestore:"productId"`
	Position     int        `firestore:"position"`
	Mode         string     `firestore:"mode"`
	StartsAt     *time.Time `firestore:"startsAt,omitempty"`
	DurationDays int        `firestore:"durationDays,omitempty"`
}

type featuredEntriesDocument struct {
	Shop         string                `firestore:"shop"`
	CollectionID string                `firestore:"collectionId"`
	Entries      []featuredEntryRecord `firestore:"entries"`
	UpdatedAt    time.Time             `firestore:"updatedAt"`
}

// SettingsRepository implements repositories.SettingsRepository backed by
// Firestore, one flat collection per configuration concern.
type SettingsRepository struct {
	provider *pfirestore.Provider
	settings *pfirestore.BaseRepository[collectionSettingsDocument]
	behavior *pfirestore.BaseRepository[behaviorRulesDocument]
	rules    *pfirestore.BaseRepository[tagRulesDocument]
	featured *pfirestore.BaseRepository[featuredEntriesDocument]
	clock    func() time.Time
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		provider: provider,
		settings: pfirestore.NewBaseRepository[collectionSettingsDocument](provider, collectionSettingsCollection, nil, nil),
		behavior: pfirestore.NewBaseRepository[behaviorRulesDocument](provider, behaviorRulesCollection, nil, nil),
		rules:    pfirestore.NewBaseRepository[tagRulesDocument](provider, tagRulesCollection, nil, nil),
		featured: pfirestore.NewBaseRepository[featuredEntriesDocument](provider, featuredEntriesCollection, nil, nil),
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// configDocID derives a Firestore-safe document id for a shop/collection
// pair. Catalog ids may contain slashes, which Firestore treats as path
// separators.
func configDocID(shop, collectionID string) (string, error) {
	shop = strings.TrimSpace(shop)
	collectionID = strings.TrimSpace(collectionID)
	if shop == "" || collectionID == "" {
		return "", errors.New("settings repository: shop and collection id are required")
	}
	replacer := strings.NewReplacer("/", "~", ":", "~")
	return replacer.Replace(shop) + "__" + replacer.Replace(collectionID), nil
}

func (r *SettingsRepository) GetCollectionSettings(ctx context.Context, shop, collectionID string) (domain.CollectionSettings, error) {
	if r == nil || r.settings == nil {
		return domain.CollectionSettings{}, errors.New("settings repository not initialised")
	}
	id, err := configDocID(shop, collectionID)
	if err != nil {
		return domain.CollectionSettings{}, err
	}
	doc, err := r.settings.Get(ctx, id)
	if err != nil {
		return domain.CollectionSettings{}, err
	}
	return domain.CollectionSettings{
		SortKey:           domain.SortKey(doc.Data.SortKey),
		LookbackDays:      doc.Data.LookbackDays,
		RecencyWindowDays: doc.Data.RecencyWindowDays,
		OrderScope:        domain.OrderStatusScope(doc.Data.OrderScope),
		IncludeDiscounts:  doc.Data.IncludeDiscounts,
		FeatureLimit:      doc.Data.FeatureLimit,
	}, nil
}

func (r *SettingsRepository) SaveCollectionSettings(ctx context.Context, shop, collectionID string, settings domain.CollectionSettings) error {
	if r == nil || r.settings == nil {
		return errors.New("settings repository not initialised")
	}
	id, err := configDocID(shop, collectionID)
	if err != nil {
		return err
	}
	_, err = r.settings.Set(ctx, id, collectionSettingsDocument{
		Shop:              strings.TrimSpace(shop),
		CollectionID:      strings.TrimSpace(collectionID),
		SortKey:           string(settings.SortKey),
		LookbackDays:      settings.LookbackDays,
		RecencyWindowDays: settings.RecencyWindowDays,
		OrderScope:        string(settings.OrderScope),
		IncludeDiscounts:  settings.IncludeDiscounts,
		FeatureLimit:      settings.FeatureLimit,
		UpdatedAt:         r.clock(),
	})
	return err
}

func (r *SettingsRepository) GetBehaviorRules(ctx context.Context, shop, collectionID string) (domain.BehaviorRules, error) {
	if r == nil || r.behavior == nil {
		return domain.BehaviorRules{}, errors.New("settings repository not initialised")
	}
	id, err := configDocID(shop, collectionID)
	if err != nil {
		return domain.BehaviorRules{}, err
	}
	doc, err := r.behavior.Get(ctx, id)
	if err != nil {
		return domain.BehaviorRules{}, err
	}
	return domain.BehaviorRules{
		PushNewProductsUp:         doc.Data.PushNewProductsUp,
		NewProductWindowDays:      doc.Data.NewProductWindowDays,
		PushDownOutOfStock:        doc.Data.PushDownOutOfStock,
		NewBeatsOutOfStock:        doc.Data.NewBeatsOutOfStock,
		FeaturedBeatsOutOfStock:   doc.Data.FeaturedBeatsOutOfStock,
		TagDefinesOutOfStockOrder: doc.Data.TagDefinesOutOfStockOrder,
	}, nil
}

func (r *SettingsRepository) SaveBehaviorRules(ctx context.Context, shop, collectionID string, behavior domain.BehaviorRules) error {
	if r == nil || r.behavior == nil {
		return errors.New("settings repository not initialised")
	}
	id, err := configDocID(shop, collectionID)
	if err != nil {
		return err
	}
	_, err = r.behavior.Set(ctx, id, behaviorRulesDocument{
		Shop:                      strings.TrimSpace(shop),
		CollectionID:              strings.TrimSpace(collectionID),
		PushNewProductsUp:         behavior.PushNewProductsUp,
		NewProductWindowDays:      behavior.NewProductWindowDays,
		PushDownOutOfStock:        behavior.PushDownOutOfStock,
		NewBeatsOutOfStock:        behavior.NewBeatsOutOfStock,
		FeaturedBeatsOutOfStock:   behavior.FeaturedBeatsOutOfStock,
		TagDefinesOutOfStockOrder: behavior.TagDefinesOutOfStockOrder,
		UpdatedAt:                 r.clock(),
	})
	return err
}

func (r *SettingsRepository) GetTagRules(ctx context.Context, shop, collectionID string) ([]domain.TagRule, error) {
	if r == nil || r.rules == nil {
		return nil, errors.New("settings repository not initialised")
	}
	id, err := configDocID(shop, collectionID)
	if err != nil {
		return nil, err
	}
	doc, err := r.rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rules := make([]domain.TagRule, 0, len(doc.Data.Rules))
	for _, entry := range doc.Data.Rules {
		rules = append(rules, domain.TagRule{
			Tag:    entry.Tag,
			Bucket: domain.TagBucket(entry.Bucket),
		})
	}
	return rules, nil
}

func (r *SettingsRepository) SaveTagRules(ctx context.Context, shop, collectionID string, rules []domain.TagRule) error {
	if r == nil || r.rules == nil {
		return errors.New("settings repository not initialised")
	}
	id, err := configDocID(shop, collectionID)
	if err != nil {
		return err
	}
	entries := make([]tagRuleEntry, 0, len(rules))
	for _, rule := range rules {
		entries = append(entries, tagRuleEntry{Tag: rule.Tag, Bucket: string(rule.Bucket)})
	}
	_, err = r.rules.Set(ctx, id, tagRulesDocument{
		Shop:         strings.TrimSpace(shop),
		CollectionID: strings.TrimSpace(collectionID),
		Rules:        entries,
		UpdatedAt:    r.clock(),
	})
	return err
}

func (r *SettingsRepository) GetFeaturedEntries(ctx context.Context, shop, collectionID string) ([]domain.FeaturedEntry, error) {
	if r == nil || r.featured == nil {
		return nil, errors.New("settings repository not initialised")
	}
	id, err := configDocID(shop, collectionID)
	if err != nil {
		return nil, err
	}
	doc, err := r.featured.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.FeaturedEntry, 0, len(doc.Data.Entries))
	for _, record := range doc.Data.Entries {
		entry := domain.FeaturedEntry{
			ProductID:    record.ProductID,
			Position:     record.Position,
			Mode:         domain.FeatureMode(record.Mode),
			DurationDays: record.DurationDays,
		}
		if record.StartsAt != nil {
			starts := record.StartsAt.UTC()
			entry.StartsAt = &starts
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *SettingsRepository) SaveFeaturedEntries(ctx context.Context, shop, collectionID string, entries []domain.FeaturedEntry) error {
	if r == nil || r.featured == nil {
		return errors.New("settings repository not initialised")
	}
	id, err := configDocID(shop, collectionID)
	if err != nil {
		return err
	}
	records := make([]featuredEntryRecord, 0, len(entries))
	for _, entry := range entries {
		record := featuredEntryRecord{
			ProductID:    entry.ProductID,
			Position:     entry.Position,
			Mode:         string(entry.Mode),
			DurationDays: entry.DurationDays,
		}
		if entry.StartsAt != nil {
			starts := entry.StartsAt.UTC()
			record.StartsAt = &starts
		}
		records = append(records, record)
	}
	_, err = r.featured.Set(ctx, id, featuredEntriesDocument{
		Shop:         strings.TrimSpace(shop),
		CollectionID: strings.TrimSpace(collectionID),
		Entries:      records,
		UpdatedAt:    r.clock(),
	})
	return err
}
