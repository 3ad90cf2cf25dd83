package services

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultSessionIdleTTL = 30 * time.Minute

// CartSessionRegistryDeps configures the per-user session registry.
type CartSessionRegistryDeps struct {
	Session CartSessionDeps
	IdleTTL time.Duration
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type registryEntry struct {
	session  *CartSession
	ready    chan struct{}
	err      error
	lastUsed time.Time
}

// CartSessionRegistry keeps one hydrated CartSession per signed-in user so that concurrent
// requests share the same local cart.
type CartSessionRegistry struct {
	deps    CartSessionDeps
	idleTTL time.Duration
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)

	mu      sync.Mutex
	entries map[string]*registryEntry
}

var _ CartSessionProvider = (*CartSessionRegistry)(nil)

// NewCartSessionRegistry validates the session dependencies and builds an empty registry.
func NewCartSessionRegistry(deps CartSessionRegistryDeps) (*CartSessionRegistry, error) {
	if deps.Session.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Session.Products == nil {
		return nil, errCartProductsRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = deps.Session.Clock
	}
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = deps.Session.Logger
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.IdleTTL
	if ttl <= 0 {
		ttl = defaultSessionIdleTTL
	}
	return &CartSessionRegistry{
		deps:    deps.Session,
		idleTTL: ttl,
		now:     clock,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}, nil
}

// Session returns the user's session, creating and hydrating it on first use. Concurrent callers
// for the same user wait for the single hydration.
func (r *CartSessionRegistry) Session(ctx context.Context, userID string) (*CartSession, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, ErrAuthRequired
	}

	r.mu.Lock()
	entry, ok := r.entries[uid]
	if ok {
		entry.lastUsed = r.now()
		r.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, entry.err
		}
		entry.session.touch()
		return entry.session, nil
	}

	entry = &registryEntry{ready: make(chan struct{}), lastUsed: r.now()}
	r.entries[uid] = entry
	r.mu.Unlock()

	session, err := NewCartSession(r.deps)
	if err == nil {
		// Hydration is shared by every waiter; one caller disconnecting must not abort it.
		err = session.SignIn(context.WithoutCancel(ctx), uid)
	}
	entry.session = session
	entry.err = err
	close(entry.ready)

	if err != nil {
		r.mu.Lock()
		if r.entries[uid] == entry {
			delete(r.entries, uid)
		}
		r.mu.Unlock()
		return nil, err
	}

	r.logger(ctx, "cart.session_started", map[string]any{"sessionId": session.ID(), "userId": uid})
	return session, nil
}

// End signs the user's session out and forgets it. It reports whether a session existed.
func (r *CartSessionRegistry) End(ctx context.Context, userID string) bool {
	uid := strings.TrimSpace(userID)
	r.mu.Lock()
	entry, ok := r.entries[uid]
	if ok {
		delete(r.entries, uid)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return true
	}
	if entry.session != nil && entry.err == nil {
		entry.session.SignOut(ctx)
	}
	return true
}

// EvictIdle signs out and drops sessions unused for longer than the idle TTL. Sessions still
// hydrating are kept.
func (r *CartSessionRegistry) EvictIdle(now time.Time) int {
	var evicted []*registryEntry
	r.mu.Lock()
	for uid, entry := range r.entries {
		select {
		case <-entry.ready:
		default:
			continue
		}
		last := entry.lastUsed
		if entry.session != nil {
			if active := entry.session.LastActive(); active.After(last) {
				last = active
			}
		}
		if now.Sub(last) <= r.idleTTL {
			continue
		}
		delete(r.entries, uid)
		evicted = append(evicted, entry)
	}
	r.mu.Unlock()

	ctx := context.Background()
	for _, entry := range evicted {
		if entry.session == nil {
			continue
		}
		r.logger(ctx, "cart.session_evicted", map[string]any{
			"sessionId": entry.session.ID(),
			"userId":    entry.session.UserID(),
		})
		entry.session.SignOut(ctx)
	}
	return len(evicted)
}

// Len returns the number of tracked sessions.
func (r *CartSessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
