package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/Arpitray/commerce/internal/di"
	"github.com/Arpitray/commerce/internal/handlers"
	"github.com/Arpitray/commerce/internal/platform/auth"
	"github.com/Arpitray/commerce/internal/platform/config"
	"github.com/Arpitray/commerce/internal/platform/idempotency"
	"github.com/Arpitray/commerce/internal/platform/observability"
	"github.com/Arpitray/commerce/internal/platform/secrets"
	"github.com/Arpitray/commerce/internal/repositories"
)

const (
	shutdownGrace = 10 * time.Second
	closeGrace    = 5 * time.Second
)

func main() {
	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	logger := baseLogger.Named("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(observability.WithLogger(ctx, logger), logger)
	stop()
	_ = baseLogger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or the listener fails. Failures are logged here so main
// only decides the exit code.
func run(ctx context.Context, logger *zap.Logger) error {
	env, err := config.EnvironmentValues()
	if err != nil {
		logger.Error("read environment", zap.Error(err))
		return err
	}

	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		logger.Error("init secret fetcher", zap.Error(err))
		return err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		} else {
			logger.Error("load configuration", zap.Error(err))
		}
		return err
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithHealthChecks(secretManagerCheck(fetcher)),
	)
	if err != nil {
		logger.Error("init dependencies", zap.Error(err))
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeGrace)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close", zap.Error(err))
		}
	}()

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Error("init firebase verifier", zap.Error(err))
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(cfg, container, auth.NewAuthenticator(verifier), env, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	httpLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("cart_backend", cfg.Cart.Backend))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		httpLogger.Info("commerce api listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpLogger.Error("http server stopped", zap.Error(err))
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		httpLogger.Info("draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(every(gctx, cfg.Idempotency.CleanupInterval, cleanupIdempotency(container, cfg, logger.Named("idempotency"))))
	g.Go(every(gctx, cfg.Cart.SessionSweepInterval, func(context.Context) {
		if evicted := container.Sessions.EvictIdle(time.Now()); evicted > 0 {
			logger.Named("cart").Info("idle cart sessions evicted",
				zap.Int("count", evicted), zap.Int("live", container.Sessions.Len()))
		}
	}))
	return g.Wait()
}

func newRouter(cfg config.Config, container *di.Container, authn *auth.Authenticator, env map[string]string, logger *zap.Logger) http.Handler {
	replay := idempotency.Middleware(container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cart := handlers.NewCartHandlers(nil, container.Sessions, container.Catalog, handlers.WithCartIdempotency(replay))
	me := handlers.NewMeHandlers(nil, container.Sessions)
	products := handlers.NewProductHandlers(container.Catalog, container.Categories)
	health := handlers.NewHealthHandlers(container.Repositories.Health(), handlers.WithHealthVersion(buildVersion(env)))

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger.Named("http")),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithPublicRoutes(products.Routes),
		handlers.WithCartRoutes(authenticated(authn, cart.Routes)),
		handlers.WithMeRoutes(authenticated(authn, me.Routes)),
	)
}

// authenticated mounts auth before the user id logger so log lines carry the uid.
func authenticated(authn *auth.Authenticator, registrar handlers.RouteRegistrar) handlers.RouteRegistrar {
	return func(r chi.Router) {
		r.Use(authn.RequireFirebaseAuth(), observability.UserFieldsMiddleware)
		registrar(r)
	}
}

func cleanupIdempotency(container *di.Container, cfg config.Config, logger *zap.Logger) func(context.Context) {
	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		removed, err := container.Idempotency.CleanupExpired(ctx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
		if err != nil {
			logger.Error("idempotency cleanup", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("idempotency records expired", zap.Int("count", removed))
		}
	}
}

// every returns an errgroup task running fn each interval until ctx ends. A non-positive
// interval disables the task.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) func() error {
	return func() error {
		if interval <= 0 {
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const probe = "secret://system/healthz"
	return repositories.DependencyCheck{
		Name:     "secretManager",
		Timeout:  time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, probe)
			if errors.Is(err, secrets.ErrNotFound) {
				return nil
			}
			return err
		},
	}
}

func buildVersion(env map[string]string) string {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	if commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"]); commit != "" {
		version += "+" + commit
	}
	return version
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(otel.Meter("github.com/Arpitray/commerce/internal/platform/secrets")),
	}
	if path := get("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	project := get("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = get("API_FIREBASE_PROJECT_ID")
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if ttl, err := time.ParseDuration(get("API_SECRET_CACHE_TTL")); err == nil {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if creds := get("API_FIREBASE_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve for the selected cart backend.
func requiredSecretNames(env map[string]string) []string {
	if strings.EqualFold(strings.TrimSpace(env["API_CART_BACKEND"]), config.CartBackendPostgres) {
		return []string{"Postgres.DSN"}
	}
	return nil
}
