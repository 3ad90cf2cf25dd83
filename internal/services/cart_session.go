package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Arpitray/commerce/internal/cart"
	domain "github.com/Arpitray/commerce/internal/domain"
	"github.com/Arpitray/commerce/internal/repositories"
)

const (
	defaultHydrationConcurrency = 8
	placeholderProductName      = "Unavailable product"
)

// CartSessionDeps wires the collaborators of a cart session.
type CartSessionDeps struct {
	Repository           repositories.CartRepository
	Products             ProductResolver
	Divergence           DivergenceReporter
	Clock                func() time.Time
	Logger               func(context.Context, string, map[string]any)
	IDGenerator          func() string
	HydrationConcurrency int
}

// CartSession keeps one shopper's local cart in step with the persisted cart. Every mutation is
// applied locally first; the remote write is best effort and its failure only marks the line as
// local_only.
type CartSession struct {
	id          string
	repo        repositories.CartRepository
	products    ProductResolver
	divergence  DivergenceReporter
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
	newID       func() string
	concurrency int

	mu              sync.Mutex
	state           SessionState
	userID          string
	generation      uint64
	store           *cart.Store
	hydrationFailed bool
	lastActive      time.Time
}

// NewCartSession constructs an unauthenticated session.
func NewCartSession(deps CartSessionDeps) (*CartSession, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	concurrency := deps.HydrationConcurrency
	if concurrency <= 0 {
		concurrency = defaultHydrationConcurrency
	}

	now := func() time.Time { return clock().UTC() }
	return &CartSession{
		id:          idGen(),
		repo:        deps.Repository,
		products:    deps.Products,
		divergence:  deps.Divergence,
		now:         now,
		logger:      logger,
		newID:       idGen,
		concurrency: concurrency,
		state:       SessionUnauthenticated,
		store:       cart.NewStore(cart.WithClock(now)),
		lastActive:  now(),
	}, nil
}

// ID returns the session identifier used in logs and divergence events.
func (s *CartSession) ID() string { return s.id }

// SignIn attaches userID and hydrates the local cart from the remote store. Lines whose product
// cannot be resolved become placeholders. A failed remote read still ends in Ready with an empty
// cart flagged by HydrationFailed. Signing in again as the same user is a no-op.
func (s *CartSession) SignIn(ctx context.Context, userID string) error {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	s.mu.Lock()
	if s.userID == uid && s.state != SessionUnauthenticated {
		s.mu.Unlock()
		return nil
	}
	s.generation++
	gen := s.generation
	s.userID = uid
	s.state = SessionHydrating
	s.hydrationFailed = false
	s.store.Clear()
	s.lastActive = s.now()
	s.mu.Unlock()

	s.logger(ctx, "cart.hydration_started", map[string]any{"sessionId": s.id, "userId": uid})

	remote, err := s.repo.ListLines(ctx, uid)
	if err != nil {
		err = translateRepoError(err)
		s.logger(ctx, "cart.hydration_failed", map[string]any{
			"sessionId": s.id,
			"userId":    uid,
			"error":     err.Error(),
		})
		s.finishHydration(ctx, gen, nil, true)
		return nil
	}

	lines := s.resolveLines(ctx, remote)
	s.finishHydration(ctx, gen, lines, false)
	return nil
}

func (s *CartSession) resolveLines(ctx context.Context, remote []domain.RemoteCartLine) []domain.CartLine {
	lines := make([]domain.CartLine, len(remote))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, rl := range remote {
		g.Go(func() error {
			line := domain.CartLine{
				ProductID: rl.ProductID,
				Quantity:  rl.Quantity,
				Sync:      domain.SyncStatusSynced,
				AddedAt:   rl.CreatedAt,
			}
			product, err := s.products.Product(ctx, rl.ProductID)
			if err != nil {
				s.logger(ctx, "cart.hydration_placeholder", map[string]any{
					"sessionId": s.id,
					"productId": rl.ProductID.String(),
					"error":     err.Error(),
				})
				line.Name = placeholderProductName
				line.Placeholder = true
			} else {
				line.Name = product.Name
				line.Price = product.Price
				line.Image = product.Image
			}
			lines[i] = line
			return nil
		})
	}
	_ = g.Wait()
	return lines
}

func (s *CartSession) finishHydration(ctx context.Context, gen uint64, lines []domain.CartLine, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger(ctx, "cart.hydration_discarded", map[string]any{"sessionId": s.id})
		return
	}
	s.store.Replace(lines)
	s.hydrationFailed = failed
	s.state = SessionReady
	s.lastActive = s.now()
	s.logger(ctx, "cart.hydration_completed", map[string]any{
		"sessionId": s.id,
		"userId":    s.userID,
		"lines":     s.store.Len(),
		"failed":    failed,
	})
}

// SignOut clears the local cart and detaches the identity. Remote lines are kept.
func (s *CartSession) SignOut(ctx context.Context) {
	s.mu.Lock()
	uid := s.userID
	s.generation++
	s.store.Clear()
	s.userID = ""
	s.state = SessionUnauthenticated
	s.hydrationFailed = false
	s.mu.Unlock()

	if uid != "" {
		s.logger(ctx, "cart.signed_out", map[string]any{"sessionId": s.id, "userId": uid})
	}
}

// Watch follows identity changes from src, signing in and out on a single goroutine. The
// returned stop function unsubscribes and waits for the goroutine to exit.
func (s *CartSession) Watch(ctx context.Context, src IdentitySource) (stop func()) {
	updates := make(chan string, 1)
	push := func(uid string) {
		for {
			select {
			case updates <- uid:
				return
			default:
			}
			// Only the latest identity matters; drop a stale pending one.
			select {
			case <-updates:
			default:
			}
		}
	}

	unsubscribe := src.SubscribeUserID(push)
	if uid, ok := src.CurrentUserID(); ok {
		push(uid)
	} else {
		push("")
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case uid := <-updates:
				if uid == "" {
					s.SignOut(ctx)
					continue
				}
				if err := s.SignIn(ctx, uid); err != nil {
					s.logger(ctx, "cart.sign_in_failed", map[string]any{"sessionId": s.id, "error": err.Error()})
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if unsubscribe != nil {
				unsubscribe()
			}
			close(done)
			wg.Wait()
		})
	}
}

// Add merges quantity units of product into the cart and then asks the remote store to
// create-or-increment the line.
func (s *CartSession) Add(ctx context.Context, product domain.Product, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	if strings.TrimSpace(product.ID.String()) == "" {
		return fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	uid, gen, err := s.apply(func(store *cart.Store) error {
		prev, existed := store.Line(product.ID)
		store.Upsert(product, quantity)
		// An increment cannot repair units a failed write left out remotely.
		if !existed || prev.Sync != domain.SyncStatusLocalOnly {
			store.MarkSync(product.ID, domain.SyncStatusPending)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, remoteErr := s.repo.IncrementLine(ctx, uid, product.ID, quantity)
	s.settle(ctx, gen, uid, CartOperationAdd, product.ID, quantity, remoteErr)
	return nil
}

// UpdateQuantity overwrites the quantity of an existing line. Non-positive quantities remove it.
// Updating a line that is not in the cart changes nothing locally or remotely.
func (s *CartSession) UpdateQuantity(ctx context.Context, productID domain.ProductID, quantity int) error {
	if quantity <= 0 {
		return s.Remove(ctx, productID)
	}
	if strings.TrimSpace(productID.String()) == "" {
		return fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}

	present := false
	uid, gen, err := s.apply(func(store *cart.Store) error {
		if present = store.SetQuantity(productID, quantity); present {
			store.MarkSync(productID, domain.SyncStatusPending)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !present {
		s.logger(ctx, "cart.update_absent_line", map[string]any{
			"sessionId": s.id,
			"userId":    uid,
			"productId": productID.String(),
		})
		return nil
	}

	_, remoteErr := s.repo.SetLineQuantity(ctx, uid, productID, quantity)
	s.settle(ctx, gen, uid, CartOperationUpdate, productID, quantity, remoteErr)
	return nil
}

// Remove deletes the line locally and then remotely. Removing an absent line is not an error.
func (s *CartSession) Remove(ctx context.Context, productID domain.ProductID) error {
	if strings.TrimSpace(productID.String()) == "" {
		return fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	uid, gen, err := s.apply(func(store *cart.Store) error {
		store.Remove(productID)
		return nil
	})
	if err != nil {
		return err
	}

	remoteErr := s.repo.DeleteLine(ctx, uid, productID)
	s.settle(ctx, gen, uid, CartOperationRemove, productID, 0, remoteErr)
	return nil
}

// Clear empties the local cart and then deletes every remote line.
func (s *CartSession) Clear(ctx context.Context) error {
	uid, gen, err := s.apply(func(store *cart.Store) error {
		store.Clear()
		return nil
	})
	if err != nil {
		return err
	}

	remoteErr := s.repo.DeleteAll(ctx, uid)
	s.settle(ctx, gen, uid, CartOperationClear, "", 0, remoteErr)
	return nil
}

// apply runs fn against the store when the session is Ready and returns the identity and
// generation the mutation belongs to.
func (s *CartSession) apply(fn func(store *cart.Store) error) (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionReady {
		return "", 0, ErrAuthRequired
	}
	if err := fn(s.store); err != nil {
		return "", 0, err
	}
	s.lastActive = s.now()
	return s.userID, s.generation, nil
}

// settle records the remote outcome of a mutation. Remote failures are logged, reported and
// swallowed. A local_only line stays local_only until a quantity overwrite succeeds, whatever
// order the remote calls finish in.
func (s *CartSession) settle(ctx context.Context, gen uint64, uid string, op CartOperation, productID domain.ProductID, quantity int, remoteErr error) {
	s.mu.Lock()
	if gen == s.generation && productID != "" {
		if line, ok := s.store.Line(productID); ok {
			switch {
			case remoteErr != nil:
				s.store.MarkSync(productID, domain.SyncStatusLocalOnly)
			case line.Sync == domain.SyncStatusPending:
				s.store.MarkSync(productID, domain.SyncStatusSynced)
			}
		}
	}
	s.mu.Unlock()

	if remoteErr == nil {
		return
	}

	err := translateRepoError(remoteErr)
	s.logger(ctx, "cart.remote_sync_failed", map[string]any{
		"sessionId": s.id,
		"userId":    uid,
		"operation": string(op),
		"productId": productID.String(),
		"quantity":  quantity,
		"error":     err.Error(),
	})

	if s.divergence == nil {
		return
	}
	event := CartDivergence{
		ID:         s.newID(),
		SessionID:  s.id,
		UserID:     uid,
		Operation:  op,
		ProductID:  productID,
		Quantity:   quantity,
		Reason:     err.Error(),
		OccurredAt: s.now(),
	}
	if reportErr := s.divergence.ReportDivergence(ctx, event); reportErr != nil {
		s.logger(ctx, "cart.divergence_report_failed", map[string]any{
			"sessionId": s.id,
			"eventId":   event.ID,
			"error":     reportErr.Error(),
		})
	}
}

// State returns the current lifecycle state.
func (s *CartSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the attached identity, or "" when unauthenticated.
func (s *CartSession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Lines returns the cart lines in insertion order.
func (s *CartSession) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Lines()
}

// Total returns Σ price × quantity.
func (s *CartSession) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Total()
}

// Count returns Σ quantity.
func (s *CartSession) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Count()
}

// Summary aggregates the cart totals.
func (s *CartSession) Summary() domain.CartSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Summary()
}

// Line returns the line for productID, if it is in the cart.
func (s *CartSession) Line(productID domain.ProductID) (domain.CartLine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Line(productID)
}

// Snapshot returns lines, totals and state read under one lock.
func (s *CartSession) Snapshot() CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.store.Lines()
	localOnly := 0
	for _, line := range lines {
		if line.Sync == domain.SyncStatusLocalOnly {
			localOnly++
		}
	}
	return CartSnapshot{
		SessionID:       s.id,
		UserID:          s.userID,
		State:           s.state,
		Lines:           lines,
		Summary:         s.store.Summary(),
		HydrationFailed: s.hydrationFailed,
		LocalOnly:       localOnly,
	}
}

// LastActive reports when the session last hydrated or mutated.
func (s *CartSession) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *CartSession) touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}
