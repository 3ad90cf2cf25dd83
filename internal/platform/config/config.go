package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultCatalogBaseURL       = "https://dummyjson.com"
	defaultCatalogTimeout       = 5 * time.Second
	defaultHydrationConcurrency = 8
	defaultCategoryConcurrency  = 4
	defaultCartBackend          = CartBackendMemory
	defaultSessionIdleTTL       = 30 * time.Minute
	defaultSessionSweepInterval = 5 * time.Minute
	defaultPostgresMaxOpen      = 20
	defaultPostgresMaxIdle      = 5
	defaultPostgresLifetime     = 30 * time.Minute
	defaultDivergenceTopic      = "cart-divergence"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Cart persistence backends selectable through API_CART_BACKEND.
const (
	CartBackendMemory    = "memory"
	CartBackendFirestore = "firestore"
	CartBackendPostgres  = "postgres"
)

// Config is the resolved runtime configuration, one section per concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Catalog     CatalogConfig
	Cart        CartConfig
	Events      EventsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig identifies the project whose ID tokens are accepted.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CheckRevoked    bool
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the SQL cart backend. DSN may be a secret reference.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// CatalogConfig points at the external product source.
type CatalogConfig struct {
	BaseURL              string
	Timeout              time.Duration
	HydrationConcurrency int
	CategoryConcurrency  int
}

// CartConfig selects the persistence backend and session lifecycle.
type CartConfig struct {
	Backend              string
	SessionIdleTTL       time.Duration
	SessionSweepInterval time.Duration
}

// EventsConfig configures Pub/Sub publication of cart divergence events. An empty topic disables it.
type EventsConfig struct {
	ProjectID       string
	DivergenceTopic string
}

// SecurityConfig names the deployment environment; "local" disables cloud-only defaults.
type SecurityConfig struct {
	Environment string
}

// IdempotencyConfig controls replay of POST /cart/items under an Idempotency-Key.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}


// ValidationError lists the config fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names in check order.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	configFile            string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithEnvFile overrides the dotenv path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithConfigFile reads a YAML config file below the dotenv layer. Without it the path comes
// from API_CONFIG_FILE.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) { o.configFile = strings.TrimSpace(path) }
}

// WithEnvMap adds values that take precedence over every other layer.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret-backed fields (e.g. "Postgres.DSN") that must resolve to a
// non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets turns a MissingSecretsError into a panic.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissingSecrets = true }
}

// EnvironmentValues returns the merged key/value view Load would read from, so callers can
// configure the secret fetcher before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.values(), nil
}

// Load reads configuration from, in increasing precedence, built-in defaults, the YAML config
// file, the dotenv file, the process environment and WithEnvMap, then resolves secret
// references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := newSource(o)
	if err != nil {
		return Config{}, err
	}

	cfg := fromSource(src)

	secrets := &secretFields{resolver: o.secret, resolved: make(map[string]string)}
	if err := secrets.resolve(ctx, "Postgres.DSN", &cfg.Postgres.DSN); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if missing := secrets.missing(o.requiredSecrets); missing != nil {
		if o.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func fromSource(src *source) Config {
	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
			CheckRevoked:    src.boolean("API_FIREBASE_CHECK_REVOKED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:             src.str("API_POSTGRES_DSN", ""),
			MaxOpenConns:    src.integer("API_POSTGRES_MAX_OPEN_CONNS", defaultPostgresMaxOpen),
			MaxIdleConns:    src.integer("API_POSTGRES_MAX_IDLE_CONNS", defaultPostgresMaxIdle),
			ConnMaxLifetime: src.duration("API_POSTGRES_CONN_MAX_LIFETIME", defaultPostgresLifetime),
			AutoMigrate:     src.boolean("API_POSTGRES_AUTO_MIGRATE", true),
		},
		Catalog: CatalogConfig{
			BaseURL:              src.str("API_CATALOG_BASE_URL", defaultCatalogBaseURL),
			Timeout:              src.duration("API_CATALOG_TIMEOUT", defaultCatalogTimeout),
			HydrationConcurrency: src.integer("API_CATALOG_HYDRATION_CONCURRENCY", defaultHydrationConcurrency),
			CategoryConcurrency:  src.integer("API_CATALOG_CATEGORY_CONCURRENCY", defaultCategoryConcurrency),
		},
		Cart: CartConfig{
			Backend:              src.lower("API_CART_BACKEND", defaultCartBackend),
			SessionIdleTTL:       src.duration("API_CART_SESSION_IDLE_TTL", defaultSessionIdleTTL),
			SessionSweepInterval: src.duration("API_CART_SESSION_SWEEP_INTERVAL", defaultSessionSweepInterval),
		},
		Events: EventsConfig{
			ProjectID:       src.str("API_EVENTS_PROJECT_ID", ""),
			DivergenceTopic: src.str("API_EVENTS_DIVERGENCE_TOPIC", ""),
		},
		Security: SecurityConfig{
			Environment: src.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Firestore and Pub/Sub live in the Firebase project unless told otherwise.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.DivergenceTopic == "" && cfg.Security.Environment != defaultSecurityEnvironment {
		cfg.Events.DivergenceTopic = defaultDivergenceTopic
	}
	return cfg
}

func (cfg Config) validate() error {
	var fields []string
	check := func(ok bool, field string) {
		if !ok {
			fields = append(fields, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Catalog.BaseURL != "", "Catalog.BaseURL")
	check(cfg.Catalog.Timeout > 0, "Catalog.Timeout")
	check(cfg.Catalog.HydrationConcurrency > 0, "Catalog.HydrationConcurrency")

	switch cfg.Cart.Backend {
	case CartBackendMemory:
	case CartBackendFirestore:
		check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case CartBackendPostgres:
		check(strings.TrimSpace(cfg.Postgres.DSN) != "", "Postgres.DSN")
	default:
		check(false, "Cart.Backend")
	}
	check(cfg.Cart.SessionIdleTTL > 0, "Cart.SessionIdleTTL")
	check(cfg.Cart.SessionSweepInterval > 0, "Cart.SessionSweepInterval")
	check(cfg.Events.DivergenceTopic == "" || cfg.Events.ProjectID != "", "Events.ProjectID")

	check(cfg.Idempotency.Header != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}
