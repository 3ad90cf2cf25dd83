// Package memory provides process-local repository implementations for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/Arpitray/commerce/internal/domain"
	"github.com/Arpitray/commerce/internal/repositories"
)

// FaultFunc decides whether an operation should fail. Returning a non-nil error aborts the call
// before any state changes.
type FaultFunc func(op string, userID string, productID domain.ProductID) error

// CartRepository keeps cart lines in memory keyed by user and product.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string]map[domain.ProductID]*storedLine
	seq   uint64
	now   func() time.Time
	fault FaultFunc
}

type storedLine struct {
	line domain.RemoteCartLine
	seq  uint64
}

// Option customises the memory repository.
type Option func(*CartRepository)

// WithClock overrides the clock used for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *CartRepository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewCartRepository constructs an empty in-memory cart repository.
func NewCartRepository(opts ...Option) *CartRepository {
	r := &CartRepository{
		carts: make(map[string]map[domain.ProductID]*storedLine),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// InjectFault installs fn to simulate backend failures. A nil fn clears the fault.
func (r *CartRepository) InjectFault(fn FaultFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = fn
}

// FailAll makes every subsequent call fail with an unavailable error wrapping err.
func (r *CartRepository) FailAll(err error) {
	if err == nil {
		err = errors.New("memory: injected outage")
	}
	r.InjectFault(func(string, string, domain.ProductID) error { return err })
}

// IncrementLine implements repositories.CartRepository.
func (r *CartRepository) IncrementLine(ctx context.Context, userID string, productID domain.ProductID, delta int) (domain.RemoteCartLine, error) {
	if err := r.check(ctx, "cart.increment", userID, productID); err != nil {
		return domain.RemoteCartLine{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := 0
	if stored, ok := r.carts[userID][productID]; ok {
		current = stored.line.Quantity
	}
	return r.writeLocked(userID, productID, current+delta), nil
}

// SetLineQuantity implements repositories.CartRepository.
func (r *CartRepository) SetLineQuantity(ctx context.Context, userID string, productID domain.ProductID, quantity int) (domain.RemoteCartLine, error) {
	if err := r.check(ctx, "cart.set_quantity", userID, productID); err != nil {
		return domain.RemoteCartLine{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLocked(userID, productID, quantity), nil
}

// DeleteLine implements repositories.CartRepository.
func (r *CartRepository) DeleteLine(ctx context.Context, userID string, productID domain.ProductID) error {
	if err := r.check(ctx, "cart.delete", userID, productID); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(userID, productID)
	return nil
}

// DeleteAll implements repositories.CartRepository.
func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	if err := r.check(ctx, "cart.delete_all", userID, ""); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}

// ListLines implements repositories.CartRepository.
func (r *CartRepository) ListLines(ctx context.Context, userID string) ([]domain.RemoteCartLine, error) {
	if err := r.check(ctx, "cart.list", userID, ""); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]*storedLine, 0, len(r.carts[userID]))
	for _, line := range r.carts[userID] {
		stored = append(stored, line)
	}
	sort.Slice(stored, func(i, j int) bool {
		if !stored[i].line.CreatedAt.Equal(stored[j].line.CreatedAt) {
			return stored[i].line.CreatedAt.Before(stored[j].line.CreatedAt)
		}
		return stored[i].seq < stored[j].seq
	})
	out := make([]domain.RemoteCartLine, len(stored))
	for i, s := range stored {
		out[i] = s.line
	}
	return out, nil
}

// Ping reports whether the repository is accepting calls.
func (r *CartRepository) Ping(ctx context.Context) error {
	return r.check(ctx, "cart.ping", "", "")
}

func (r *CartRepository) check(ctx context.Context, op, userID string, productID domain.ProductID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if op != "cart.ping" && strings.TrimSpace(userID) == "" {
		return &repositories.Error{Op: op, Err: errors.New("user id is required")}
	}
	r.mu.Lock()
	fault := r.fault
	r.mu.Unlock()
	if fault == nil {
		return nil
	}
	if err := fault(op, userID, productID); err != nil {
		return repositories.NewUnavailableError(op, fmt.Errorf("memory: %w", err))
	}
	return nil
}

func (r *CartRepository) writeLocked(userID string, productID domain.ProductID, quantity int) domain.RemoteCartLine {
	now := r.now().UTC()
	if quantity <= 0 {
		r.deleteLocked(userID, productID)
		return domain.RemoteCartLine{UserID: userID, ProductID: productID, UpdatedAt: now}
	}
	cart, ok := r.carts[userID]
	if !ok {
		cart = make(map[domain.ProductID]*storedLine)
		r.carts[userID] = cart
	}
	stored, ok := cart[productID]
	if !ok {
		r.seq++
		stored = &storedLine{
			line: domain.RemoteCartLine{UserID: userID, ProductID: productID, CreatedAt: now},
			seq:  r.seq,
		}
		cart[productID] = stored
	}
	stored.line.Quantity = quantity
	stored.line.UpdatedAt = now
	return stored.line
}

func (r *CartRepository) deleteLocked(userID string, productID domain.ProductID) {
	cart, ok := r.carts[userID]
	if !ok {
		return
	}
	delete(cart, productID)
	if len(cart) == 0 {
		delete(r.carts, userID)
	}
}
