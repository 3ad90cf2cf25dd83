package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/Arpitray/commerce/internal/catalog"
	"github.com/Arpitray/commerce/internal/platform/config"
	"github.com/Arpitray/commerce/internal/platform/idempotency"
	"github.com/Arpitray/commerce/internal/platform/jobs"
	"github.com/Arpitray/commerce/internal/platform/observability"
	"github.com/Arpitray/commerce/internal/repositories"
	"github.com/Arpitray/commerce/internal/services"
)

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Catalog      *catalog.Client
	Categories   *catalog.Browser
	Sessions     *services.CartSessionRegistry
	Divergence   services.DivergenceReporter
	Idempotency  idempotency.Store

	closers []closeFunc
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	repositories repositories.Registry
	idempotency  idempotency.Store
	divergence   services.DivergenceReporter
	extraChecks  []repositories.DependencyCheck
	clock        func() time.Time
}

// WithLogger sets the base logger handed to every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRepositories bypasses backend selection and uses reg instead. The caller keeps ownership of
// its lifecycle only if it does not call Container.Close.
func WithRepositories(reg repositories.Registry) Option {
	return func(o *options) {
		o.repositories = reg
	}
}

// WithIdempotencyStore overrides the store picked for the configured backend.
func WithIdempotencyStore(store idempotency.Store) Option {
	return func(o *options) {
		o.idempotency = store
	}
}

// WithDivergenceReporter overrides the Pub/Sub reporter built from Events config.
func WithDivergenceReporter(reporter services.DivergenceReporter) Option {
	return func(o *options) {
		o.divergence = reporter
	}
}

// WithHealthChecks appends readiness probes owned by the caller, such as the secret fetcher.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *options) {
		o.extraChecks = append(o.extraChecks, checks...)
	}
}

// WithClock overrides the clock used by sessions and health probes.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies for the configured cart backend.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger

	c := &Container{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	c.Catalog = catalog.NewClient(cfg.Catalog.BaseURL,
		catalog.WithTimeout(cfg.Catalog.Timeout),
		catalog.WithLogger(logger.Named("catalog")),
	)
	browser, err := catalog.NewBrowser(c.Catalog,
		catalog.WithFetchConcurrency(cfg.Catalog.CategoryConcurrency),
		catalog.WithBrowserLogger(logger.Named("catalog")),
	)
	if err != nil {
		return nil, fmt.Errorf("build category browser: %w", err)
	}
	c.Categories = browser

	checks := []repositories.DependencyCheck{catalogCheck(c.Catalog)}

	divergence := o.divergence
	if divergence == nil && strings.TrimSpace(cfg.Events.DivergenceTopic) != "" {
		publisher, check, closer, err := openDivergencePublisher(ctx, cfg.Events)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, closer)
		checks = append(checks, check)
		divergence = publisher
	}
	c.Divergence = divergence

	reg := o.repositories
	store := o.idempotency
	if reg == nil {
		backend, err := openCartBackend(ctx, cfg, logger.Named("repositories"))
		if err != nil {
			return nil, err
		}
		checks = append(checks, backend.check)
		checks = append(checks, o.extraChecks...)
		health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyClock(o.clock))
		if err != nil {
			for _, closer := range backend.closers {
				_ = closer(ctx)
			}
			return nil, fmt.Errorf("build health repository: %w", err)
		}
		reg = &backendRegistry{carts: backend.carts, health: health, closers: backend.closers}
		if store == nil {
			store = backend.idempotency
		}
	}
	if store == nil {
		store = idempotency.NewMemoryStore()
	}
	c.Repositories = reg
	c.Idempotency = store

	sessions, err := services.NewCartSessionRegistry(services.CartSessionRegistryDeps{
		Session: services.CartSessionDeps{
			Repository:           reg.Carts(),
			Products:             c.Catalog,
			Divergence:           divergence,
			Clock:                o.clock,
			Logger:               observability.ServiceLogger(logger.Named("cart")),
			HydrationConcurrency: cfg.Catalog.HydrationConcurrency,
		},
		IdleTTL: cfg.Cart.SessionIdleTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("build cart session registry: %w", err)
	}
	c.Sessions = sessions

	ok = true
	return c, nil
}

// Close releases resources such as repository clients and the Pub/Sub topic.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func catalogCheck(client *catalog.Client) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:     "catalog",
		Timeout:  3 * time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := client.Products(ctx, 1)
			return err
		},
	}
}

func openDivergencePublisher(ctx context.Context, cfg config.EventsConfig) (services.DivergenceReporter, repositories.DependencyCheck, closeFunc, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, repositories.DependencyCheck{}, nil, errors.New("events: project id is required for divergence topic")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, repositories.DependencyCheck{}, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(strings.TrimSpace(cfg.DivergenceTopic))
	topic.EnableMessageOrdering = true

	publisher, err := jobs.NewPubSubDivergencePublisher(topic)
	if err != nil {
		topic.Stop()
		_ = client.Close()
		return nil, repositories.DependencyCheck{}, nil, err
	}

	check := repositories.DependencyCheck{
		Name:     "events",
		Timeout:  2 * time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			exists, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("pubsub topic %s not found", topic.ID())
			}
			return nil
		},
	}
	closer := func(context.Context) error {
		topic.Stop()
		return client.Close()
	}
	return publisher, check, closer, nil
}
