package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Arpitray/commerce/internal/platform/config"
	pfirestore "github.com/Arpitray/commerce/internal/platform/firestore"
	"github.com/Arpitray/commerce/internal/platform/idempotency"
	"github.com/Arpitray/commerce/internal/repositories"
	firestoreRepo "github.com/Arpitray/commerce/internal/repositories/firestore"
	"github.com/Arpitray/commerce/internal/repositories/memory"
	"github.com/Arpitray/commerce/internal/repositories/postgres"
)

type closeFunc func(context.Context) error

// backendRegistry is the repositories.Registry assembled from the configured cart backend.
type backendRegistry struct {
	carts   repositories.CartRepository
	health  repositories.HealthRepository
	closers []closeFunc
}

var _ repositories.Registry = (*backendRegistry)(nil)

func (r *backendRegistry) Carts() repositories.CartRepository    { return r.carts }
func (r *backendRegistry) Health() repositories.HealthRepository { return r.health }

// Close releases backend clients in reverse order of acquisition.
func (r *backendRegistry) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// cartBackend bundles what one persistence backend contributes to the container.
type cartBackend struct {
	carts       repositories.CartRepository
	check       repositories.DependencyCheck
	idempotency idempotency.Store
	closers     []closeFunc
}

func openCartBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (cartBackend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Cart.Backend)) {
	case "", config.CartBackendMemory:
		repo := memory.NewCartRepository()
		logger.Warn("cart backend is in-memory; carts are lost on restart")
		return cartBackend{
			carts:       repo,
			check:       repositories.DependencyCheck{Name: "carts", Check: repo.Ping},
			idempotency: idempotency.NewMemoryStore(),
		}, nil

	case config.CartBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return cartBackend{}, fmt.Errorf("firestore client: %w", err)
		}
		repo, err := firestoreRepo.NewCartRepository(provider)
		if err != nil {
			_ = provider.Close(ctx)
			return cartBackend{}, fmt.Errorf("firestore cart repository: %w", err)
		}
		return cartBackend{
			carts:       repo,
			check:       repositories.DependencyCheck{Name: "firestore", Timeout: 1500 * time.Millisecond, Check: provider.Ping},
			idempotency: idempotency.NewFirestoreStore(provider),
			closers:     []closeFunc{provider.Close},
		}, nil

	case config.CartBackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return cartBackend{}, err
		}
		repo, err := postgres.NewCartRepository(db)
		if err != nil {
			_ = db.Close()
			return cartBackend{}, fmt.Errorf("postgres cart repository: %w", err)
		}
		return cartBackend{
			carts:       repo,
			check:       repositories.DependencyCheck{Name: "postgres", Timeout: 1500 * time.Millisecond, Check: repo.Ping},
			idempotency: idempotency.NewMemoryStore(),
			closers:     []closeFunc{func(context.Context) error { return db.Close() }},
		}, nil

	default:
		return cartBackend{}, fmt.Errorf("unsupported cart backend %q", cfg.Cart.Backend)
	}
}
