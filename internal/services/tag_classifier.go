package services

import (
	domain "github.com/shelfsort/api/internal/domain"
)

type tagClassifier struct{}

// NewTagClassifier constructs the rule-order tag classifier.
func NewTagClassifier() TagClassifier {
	return tagClassifier{}
}

// Classify walks the rule list in stored order for each product; the first
// rule whose tag the product carries decides the bucket. Matching is
// case-sensitive exact-string comparison. Products matching no rule, and
// products with no tags at all, land in the unclassified bucket.
func (tagClassifier) Classify(products []domain.Product, rules []domain.TagRule) Classification {
	var result Classification
	for _, product := range products {
		bucket := domain.BucketUnclassified
		for _, rule := range rules {
			if !rule.Bucket.Valid() {
				continue
			}
			if product.HasTag(rule.Tag) {
				bucket = rule.Bucket
				break
			}
		}
		switch bucket {
		case domain.BucketTop:
			result.Top = append(result.Top, product.ID)
		case domain.BucketAfterNew:
			result.AfterNew = append(result.AfterNew, product.ID)
		case domain.BucketBeforeOutOfStock:
			result.BeforeOutOfStock = append(result.BeforeOutOfStock, product.ID)
		case domain.BucketBottom:
			result.Bottom = append(result.Bottom, product.ID)
		default:
			result.Unclassified = append(result.Unclassified, product.ID)
		}
	}
	return result
}
