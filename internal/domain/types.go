package domain

import (
	"time"
)

// ProductID identifies a product in the external catalogue. Sources emit numeric or string ids;
// both are carried as their decimal/string form.
type ProductID string

// String returns the identifier as plain text.
func (id ProductID) String() string { return string(id) }

// Product is the single internal shape every external product record is normalised into.
type Product struct {
	ID          ProductID
	Name        string
	Price       float64
	Description string
	Image       string
	Brand       string
	Category    string
	Rating      float64
	Stock       int
}

// SyncStatus records whether the last mutation of a cart line reached the remote store.
type SyncStatus string

const (
	// SyncStatusSynced indicates the remote store acknowledged the last mutation of the line.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusLocalOnly indicates the line diverges from the remote store after a failed write.
	SyncStatusLocalOnly SyncStatus = "local_only"
	// SyncStatusPending indicates the remote write for the line has not completed yet.
	SyncStatusPending SyncStatus = "pending"
)

// CartLine is one product entry in a cart. Name, Price and Image are snapshots taken when the
// line was created.
type CartLine struct {
	ProductID   ProductID
	Quantity    int
	Name        string
	Price       float64
	Image       string
	Placeholder bool
	Sync        SyncStatus
	AddedAt     time.Time
}

// Subtotal returns price multiplied by quantity for the line.
func (l CartLine) Subtotal() float64 {
	return l.Price * float64(l.Quantity)
}

// RemoteCartLine is the persisted representation of a cart line keyed by (UserID, ProductID).
type RemoteCartLine struct {
	UserID    string
	ProductID ProductID
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartSummary aggregates the totals of a cart.
type CartSummary struct {
	TotalItems int
	TotalPrice float64
	LineCount  int
}

// Category describes a storefront browsing category and the catalogue categories backing it.
type Category struct {
	Slug        string
	DisplayName string
	Sources     []string
	Limit       int
	Shuffle     bool
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// HealthCheck describes the outcome of an individual dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency status for readiness endpoints.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}
