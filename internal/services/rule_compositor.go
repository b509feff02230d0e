package services

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	domain "github.com/shelfsort/api/internal/domain"
)

// RuleCompositorDeps bundles constructor inputs for the rule compositor.
type RuleCompositorDeps struct {
	Classifier TagClassifier
	// Shuffle permutes n elements for the random sort key. Defaults to
	// math/rand.Shuffle; injectable so tests can pin the permutation.
	Shuffle func(n int, swap func(i, j int))
}

type ruleCompositor struct {
	classifier TagClassifier
	shuffle    func(n int, swap func(i, j int))
}

// NewRuleCompositor constructs the stage-based linearizer.
func NewRuleCompositor(deps RuleCompositorDeps) (RuleCompositor, error) {
	if deps.Classifier == nil {
		return nil, errors.New("rule compositor: classifier is required")
	}
	shuffle := deps.Shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	return &ruleCompositor{classifier: deps.Classifier, shuffle: shuffle}, nil
}

// Compose runs the placement stages over the invocation context and returns
// a permutation of the input product ids. Each stage appends only ids no
// earlier stage has claimed.
func (c *ruleCompositor) Compose(input CompositionInput) ([]string, error) {
	if len(input.Products) == 0 {
		return nil, ErrEmptyCollection
	}
	sortKey := input.Settings.SortKey
	if !sortKey.Valid() {
		return nil, fmt.Errorf("%w: unknown sort key %q", ErrResortInvalidInput, sortKey)
	}
	if sortKey.NeedsSalesMetrics() && input.Metrics == nil {
		return nil, fmt.Errorf("%w: sort key %q requires sales metrics", ErrResortInvalidInput, sortKey)
	}

	baseline := c.baselineSort(input.Products, sortKey, input.Metrics)
	known := make(map[string]domain.Product, len(baseline))
	for _, product := range baseline {
		known[product.ID] = product
	}

	behavior := input.Behavior
	now := input.Now.UTC()
	isNew := func(p domain.Product) bool {
		if !behavior.PushNewProductsUp || behavior.NewProductWindowDays <= 0 {
			return false
		}
		return p.CreatedAt.After(now.AddDate(0, 0, -behavior.NewProductWindowDays))
	}

	// Stock partition. Without push-down every product rides the in-stock
	// path, so stock status never reorders anything.
	var inStock, outOfStock []domain.Product
	for _, product := range baseline {
		switch {
		case !behavior.PushDownOutOfStock:
			inStock = append(inStock, product)
		case product.InStock():
			inStock = append(inStock, product)
		case behavior.NewBeatsOutOfStock && isNew(product):
			inStock = append(inStock, product)
		default:
			outOfStock = append(outOfStock, product)
		}
	}

	var newProducts, regular []domain.Product
	for _, product := range inStock {
		if isNew(product) {
			newProducts = append(newProducts, product)
		} else {
			regular = append(regular, product)
		}
	}

	claimed := make(map[string]bool, len(baseline))
	order := make([]string, 0, len(baseline))
	place := func(id string) {
		if claimed[id] {
			return
		}
		if _, ok := known[id]; !ok {
			return
		}
		claimed[id] = true
		order = append(order, id)
	}
	placeAll := func(ids []string) {
		for _, id := range ids {
			place(id)
		}
	}

	// Featured placement. The limit counts entries active at composition
	// time, walked in stored order; inactive scheduled entries do not
	// consume slots. Entries past the limit fall through to normal
	// classification. An out-of-stock featured product is deferred unless
	// policy pins it at the top.
	featured := sortedFeatured(input.Featured)
	active := 0
	for _, entry := range featured {
		if input.Settings.FeatureLimit > 0 && active >= input.Settings.FeatureLimit {
			break
		}
		if !entry.ActiveAt(now) {
			continue
		}
		active++
		product, ok := known[entry.ProductID]
		if !ok {
			continue
		}
		if product.InStock() || !behavior.PushDownOutOfStock || behavior.FeaturedBeatsOutOfStock {
			place(product.ID)
		}
	}

	buckets := c.classifier.Classify(inStock, input.Rules)

	placeAll(buckets.Top)
	if behavior.PushNewProductsUp {
		for _, product := range newProducts {
			place(product.ID)
		}
	}
	placeAll(buckets.AfterNew)
	placeAll(buckets.Unclassified)
	placeAll(buckets.BeforeOutOfStock)

	// Out-of-stock resolution over the still-unclaimed leftovers.
	if len(outOfStock) > 0 {
		var unclaimed []domain.Product
		for _, product := range outOfStock {
			if !claimed[product.ID] {
				unclaimed = append(unclaimed, product)
			}
		}
		oosBuckets := c.classifier.Classify(unclaimed, input.Rules)
		if behavior.TagDefinesOutOfStockOrder {
			placeAll(oosBuckets.Top)
			placeAll(oosBuckets.AfterNew)
			placeAll(oosBuckets.BeforeOutOfStock)
			placeAll(oosBuckets.Bottom)
			placeAll(oosBuckets.Unclassified)
		} else {
			placeAll(oosBuckets.Unclassified)
			placeAll(oosBuckets.Top)
			placeAll(oosBuckets.AfterNew)
			placeAll(oosBuckets.BeforeOutOfStock)
			placeAll(oosBuckets.Bottom)
		}
	}

	placeAll(buckets.Bottom)

	// Sweep: classification gaps must never drop a product.
	for _, product := range baseline {
		place(product.ID)
	}
	return order, nil
}

// baselineSort orders a copy of the product set by the primary key. Ties
// keep the catalog's enumeration order; the random key shuffles uniformly.
func (c *ruleCompositor) baselineSort(products []domain.Product, key domain.SortKey, metrics map[string]domain.SalesMetric) []domain.Product {
	sorted := make([]domain.Product, len(products))
	copy(sorted, products)

	if key == domain.SortRandom {
		c.shuffle(len(sorted), func(i, j int) {
			sorted[i], sorted[j] = sorted[j], sorted[i]
		})
		return sorted
	}

	metric := func(id string) domain.SalesMetric {
		if metrics == nil {
			return domain.SalesMetric{}
		}
		return metrics[id]
	}
	less := func(a, b domain.Product) bool {
		switch key {
		case domain.SortRevenueDesc:
			return metric(a.ID).Revenue > metric(b.ID).Revenue
		case domain.SortRevenueAsc:
			return metric(a.ID).Revenue < metric(b.ID).Revenue
		case domain.SortUnitsDesc:
			return metric(a.ID).UnitsTotal > metric(b.ID).UnitsTotal
		case domain.SortUnitsAsc:
			return metric(a.ID).UnitsTotal < metric(b.ID).UnitsTotal
		case domain.SortCreatedDesc:
			return a.CreatedAt.After(b.CreatedAt)
		case domain.SortCreatedAsc:
			return a.CreatedAt.Before(b.CreatedAt)
		case domain.SortPublishedDesc:
			return a.PublishedAt.After(b.PublishedAt)
		case domain.SortPublishedAsc:
			return a.PublishedAt.Before(b.PublishedAt)
		case domain.SortPriceDesc:
			return a.Price > b.Price
		case domain.SortPriceAsc:
			return a.Price < b.Price
		case domain.SortInventoryDesc:
			return a.TotalInventory > b.TotalInventory
		case domain.SortInventoryAsc:
			return a.TotalInventory < b.TotalInventory
		}
		return false
	}
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}

// sortedFeatured returns the entries in stored order (ascending position,
// stable for duplicates).
func sortedFeatured(entries []domain.FeaturedEntry) []domain.FeaturedEntry {
	sorted := make([]domain.FeaturedEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	return sorted
}
