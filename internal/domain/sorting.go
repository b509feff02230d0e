package domain

// SortKey selects the baseline ordering applied before rule placement.
type SortKey string

const (
	SortRevenueDesc   SortKey = "revenue_desc"
	SortRevenueAsc    SortKey = "revenue_asc"
	SortUnitsDesc     SortKey = "units_desc"
	SortUnitsAsc      SortKey = "units_asc"
	SortCreatedDesc   SortKey = "created_desc"
	SortCreatedAsc    SortKey = "created_asc"
	SortPublishedDesc SortKey = "published_desc"
	SortPublishedAsc  SortKey = "published_asc"
	SortPriceDesc     SortKey = "price_desc"
	SortPriceAsc      SortKey = "price_asc"
	SortInventoryDesc SortKey = "inventory_desc"
	SortInventoryAsc  SortKey = "inventory_asc"
	SortRandom        SortKey = "random"
)

// Valid reports whether the key is one of the supported baseline orderings.
func (k SortKey) Valid() bool {
	switch k {
	case SortRevenueDesc, SortRevenueAsc,
		SortUnitsDesc, SortUnitsAsc,
		SortCreatedDesc, SortCreatedAsc,
		SortPublishedDesc, SortPublishedAsc,
		SortPriceDesc, SortPriceAsc,
		SortInventoryDesc, SortInventoryAsc,
		SortRandom:
		return true
	}
	return false
}

// NeedsSalesMetrics reports whether the baseline sort consults aggregated
// sales data. Keys that don't need it let a resort run skip order pagination.
func (k SortKey) NeedsSalesMetrics() bool {
	switch k {
	case SortRevenueDesc, SortRevenueAsc, SortUnitsDesc, SortUnitsAsc:
		return true
	}
	return false
}

// TagBucket names the placement block a tag rule assigns a product to.
type TagBucket string

const (
	// BucketTop places products before everything except featured entries.
	BucketTop TagBucket = "top"
	// BucketAfterNew places products directly after the new-products block.
	BucketAfterNew TagBucket = "after_new"
	// BucketBeforeOutOfStock places products just above the out-of-stock block.
	BucketBeforeOutOfStock TagBucket = "before_out_of_stock"
	// BucketBottom places products at the very end of the collection.
	BucketBottom TagBucket = "bottom"
	// BucketUnclassified is the implicit bucket for products no rule matched.
	// It is never a valid rule target.
	BucketUnclassified TagBucket = "unclassified"
)

// Valid reports whether the bucket is a legal tag-rule target.
func (b TagBucket) Valid() bool {
	switch b {
	case BucketTop, BucketAfterNew, BucketBeforeOutOfStock, BucketBottom:
		return true
	}
	return false
}
