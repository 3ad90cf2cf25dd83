package repositories

import (
	"context"

	domain "github.com/Arpitray/commerce/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository persists cart lines keyed by (userID, productID).
type CartRepository interface {
	// IncrementLine adds delta to the stored quantity, creating the line when absent. The stored
	// line is removed when the resulting quantity is not positive.
	IncrementLine(ctx context.Context, userID string, productID domain.ProductID, delta int) (domain.RemoteCartLine, error)
	// SetLineQuantity overwrites the quantity of a line, creating it when absent.
	SetLineQuantity(ctx context.Context, userID string, productID domain.ProductID, quantity int) (domain.RemoteCartLine, error)
	// DeleteLine removes a line. Deleting an absent line succeeds.
	DeleteLine(ctx context.Context, userID string, productID domain.ProductID) error
	// DeleteAll removes every line owned by the user.
	DeleteAll(ctx context.Context, userID string) error
	// ListLines returns the user's lines ordered by creation time.
	ListLines(ctx context.Context, userID string) ([]domain.RemoteCartLine, error)
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
