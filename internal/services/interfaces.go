package services

import (
	"context"
	"time"

	domain "github.com/Arpitray/commerce/internal/domain"
)

// ProductResolver resolves a product id to its normalised record.
type ProductResolver interface {
	Product(ctx context.Context, id domain.ProductID) (domain.Product, error)
}

// DivergenceReporter is notified whenever a local cart mutation failed to reach the remote store.
type DivergenceReporter interface {
	ReportDivergence(ctx context.Context, event CartDivergence) error
}

// IdentitySource exposes the current signed-in user and change notifications. An empty user id
// means no identity is present.
type IdentitySource interface {
	CurrentUserID() (string, bool)
	SubscribeUserID(fn func(userID string)) (unsubscribe func())
}

// CartSessionProvider hands out ready cart sessions per user.
type CartSessionProvider interface {
	Session(ctx context.Context, userID string) (*CartSession, error)
	End(ctx context.Context, userID string) bool
}

// SessionState is the lifecycle state of a cart session.
type SessionState string

const (
	// SessionUnauthenticated means no identity is attached; mutations fail with ErrAuthRequired.
	SessionUnauthenticated SessionState = "unauthenticated"
	// SessionHydrating means the remote cart is being loaded.
	SessionHydrating SessionState = "hydrating"
	// SessionReady means the local cart is populated and mutations are accepted.
	SessionReady SessionState = "ready"
)

// CartOperation names the mutation that produced a divergence.
type CartOperation string

const (
	CartOperationAdd    CartOperation = "add"
	CartOperationUpdate CartOperation = "update_quantity"
	CartOperationRemove CartOperation = "remove"
	CartOperationClear  CartOperation = "clear"
)

// CartDivergence describes a mutation that was applied locally but not persisted.
type CartDivergence struct {
	ID         string
	SessionID  string
	UserID     string
	Operation  CartOperation
	ProductID  domain.ProductID
	Quantity   int
	Reason     string
	OccurredAt time.Time
}

// CartSnapshot is a consistent read of a session.
type CartSnapshot struct {
	SessionID       string
	UserID          string
	State           SessionState
	Lines           []domain.CartLine
	Summary         domain.CartSummary
	HydrationFailed bool
	LocalOnly       int
}
