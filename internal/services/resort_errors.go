package services

import "errors"

var (
	// ErrResortInvalidInput indicates the caller supplied invalid data to a
	// resort or settings operation.
	ErrResortInvalidInput = errors.New("resort service: invalid input")
	// ErrNotManualSort indicates the target collection is not in manual
	// ordering mode, so computed positions cannot be written.
	ErrNotManualSort = errors.New("resort service: collection is not in manual sort mode")
	// ErrEmptyCollection indicates the collection contains no products.
	ErrEmptyCollection = errors.New("resort service: collection has no products")
	// ErrDataUnavailable indicates a transport failure while reading catalog
	// data; the run aborts rather than composing over partial data.
	ErrDataUnavailable = errors.New("resort service: catalog data unavailable")
	// ErrReorderRejected indicates the catalog refused the submitted move
	// list with its own validation messages.
	ErrReorderRejected = errors.New("resort service: reorder rejected by catalog")
	// ErrReorderUnconfirmed indicates the reorder was submitted but its
	// completion could not be confirmed within the polling budget.
	ErrReorderUnconfirmed = errors.New("resort service: reorder submitted but unconfirmed")
)
