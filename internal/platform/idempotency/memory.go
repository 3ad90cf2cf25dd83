package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	fingerprint string
	done        bool
	response    Response
	expiresAt   time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore keeps records in process. It backs the memory and postgres cart deployments and
// tests; replays do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key Key, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := key.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok || entry.expired(now) {
		entry = memoryEntry{fingerprint: key.Fingerprint, expiresAt: now.Add(ttl)}
		s.entries[id] = entry
		return Reservation{Outcome: Acquired, ExpiresAt: entry.expiresAt}, nil
	}
	if entry.fingerprint != key.Fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if !entry.done {
		return Reservation{Outcome: InFlight, ExpiresAt: entry.expiresAt}, nil
	}
	return Reservation{
		Outcome: Replay,
		Response: Response{
			Status:  entry.response.Status,
			Headers: entry.response.Headers.Clone(),
			Body:    cloneBody(entry.response.Body),
		},
		ExpiresAt: entry.expiresAt,
	}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := key.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[id]; ok && entry.fingerprint != key.Fingerprint {
		return ErrFingerprintMismatch
	}
	s.entries[id] = memoryEntry{
		fingerprint: key.Fingerprint,
		done:        true,
		response: Response{
			Status:  resp.Status,
			Headers: replayableHeaders(resp.Headers),
			Body:    cloneBody(resp.Body),
		},
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key.ID())
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
