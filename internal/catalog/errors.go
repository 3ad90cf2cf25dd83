package catalog

import "errors"

var (
	// ErrMalformedRecord indicates a product record that cannot be normalised into a Product.
	ErrMalformedRecord = errors.New("catalog: malformed product record")
	// ErrTimeout indicates the product source did not answer within its time budget.
	ErrTimeout = errors.New("catalog: product source timed out")
	// ErrProductNotFound indicates the product source has no record for the requested id.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrSourceUnavailable indicates a transport or server failure at the product source.
	ErrSourceUnavailable = errors.New("catalog: product source unavailable")
	// ErrUnknownCategory indicates a category slug with no configured sources.
	ErrUnknownCategory = errors.New("catalog: unknown category")
)
