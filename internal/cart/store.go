// Package cart holds the in-process view of a single shopper's cart.
package cart

import (
	"time"

	"github.com/Arpitray/commerce/internal/domain"
)

// Store keeps cart lines in insertion order. It never performs I/O and is not safe for concurrent
// use; the owning session serialises access.
type Store struct {
	lines []domain.CartLine
	index map[domain.ProductID]int
	now   func() time.Time
}

// Option customises Store construction.
type Option func(*Store)

// WithClock overrides the clock used to stamp new lines.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		index: make(map[domain.ProductID]int),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Lines returns a copy of the current lines in insertion order.
func (s *Store) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// Line returns the line for id when present.
func (s *Store) Line(id domain.ProductID) (domain.CartLine, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.CartLine{}, false
	}
	return s.lines[i], true
}

// Len reports the number of distinct lines.
func (s *Store) Len() int {
	return len(s.lines)
}

// Upsert adds delta to the quantity of the product's line, appending a new line snapshotting the
// product when none exists. A zero delta is a no-op. A line whose quantity drops to zero or below
// is removed.
func (s *Store) Upsert(product domain.Product, delta int) {
	if delta == 0 {
		return
	}
	if i, ok := s.index[product.ID]; ok {
		qty := s.lines[i].Quantity + delta
		if qty <= 0 {
			s.Remove(product.ID)
			return
		}
		s.lines[i].Quantity = qty
		return
	}
	if delta < 0 {
		return
	}
	s.index[product.ID] = len(s.lines)
	s.lines = append(s.lines, domain.CartLine{
		ProductID: product.ID,
		Quantity:  delta,
		Name:      product.Name,
		Price:     product.Price,
		Image:     product.Image,
		Sync:      domain.SyncStatusPending,
		AddedAt:   s.now().UTC(),
	})
}

// SetQuantity overwrites the quantity of an existing line in place. A quantity of zero or below
// removes the line. Unknown ids are ignored and reported as false.
func (s *Store) SetQuantity(id domain.ProductID, quantity int) bool {
	if quantity <= 0 {
		return s.Remove(id)
	}
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.lines[i].Quantity = quantity
	return true
}

// Remove deletes the line for id. Removing an absent id is a no-op that reports false.
func (s *Store) Remove(id domain.ProductID) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.lines); j++ {
		s.index[s.lines[j].ProductID] = j
	}
	return true
}

// Clear empties the store.
func (s *Store) Clear() {
	s.lines = nil
	clear(s.index)
}

// Replace swaps the store contents for lines, keeping their order. Lines with a non-positive
// quantity are dropped and later duplicates merge into the first occurrence.
func (s *Store) Replace(lines []domain.CartLine) {
	s.Clear()
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		if i, ok := s.index[line.ProductID]; ok {
			s.lines[i].Quantity += line.Quantity
			continue
		}
		if line.AddedAt.IsZero() {
			line.AddedAt = s.now().UTC()
		}
		s.index[line.ProductID] = len(s.lines)
		s.lines = append(s.lines, line)
	}
}

// MarkSync records the remote outcome for a line. It reports false when the line no longer exists.
func (s *Store) MarkSync(id domain.ProductID, status domain.SyncStatus) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	s.lines[i].Sync = status
	return true
}

// Total returns the sum of price times quantity over all lines.
func (s *Store) Total() float64 {
	var total float64
	for _, line := range s.lines {
		total += line.Subtotal()
	}
	return total
}

// Count returns the sum of quantities over all lines.
func (s *Store) Count() int {
	count := 0
	for _, line := range s.lines {
		count += line.Quantity
	}
	return count
}

// Summary aggregates Count, Total and Len.
func (s *Store) Summary() domain.CartSummary {
	return domain.CartSummary{
		TotalItems: s.Count(),
		TotalPrice: s.Total(),
		LineCount:  len(s.lines),
	}
}
