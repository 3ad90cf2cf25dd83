package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadEnv loads from env alone, isolated from the process environment and any .env file.
func loadEnv(env map[string]string, opts ...Option) (Config, error) {
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func staticResolver(values map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := values[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("unknown secret")}
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadEnv(map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"})
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "shop-dev", cfg.Firestore.ProjectID, "firestore follows the firebase project")
	assert.Equal(t, "shop-dev", cfg.Events.ProjectID)
	assert.False(t, cfg.Firebase.CheckRevoked)

	assert.Equal(t, defaultCatalogBaseURL, cfg.Catalog.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Catalog.Timeout)
	assert.Equal(t, 8, cfg.Catalog.HydrationConcurrency)

	assert.Equal(t, CartBackendMemory, cfg.Cart.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cart.SessionIdleTTL)
	assert.Empty(t, cfg.Events.DivergenceTopic, "no divergence topic for local runs")
	assert.Equal(t, "local", cfg.Security.Environment)
	assert.True(t, cfg.Postgres.AutoMigrate)

	assert.Equal(t, defaultIdempotencyHeader, cfg.Idempotency.Header)
	assert.Equal(t, defaultIdempotencyTTL, cfg.Idempotency.TTL)
	assert.Equal(t, defaultIdempotencyBatchSize, cfg.Idempotency.CleanupBatchSize)
}

func TestLoadOverridesAndResolvesDSN(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_SERVER_WRITE_TIMEOUT":          "25s",
		"API_FIREBASE_PROJECT_ID":           "shop-prod",
		"API_FIREBASE_CHECK_REVOKED":        "true",
		"API_FIRESTORE_PROJECT_ID":          "shop-fire",
		"API_POSTGRES_DSN":                  "secret://cart/dsn",
		"API_POSTGRES_MAX_OPEN_CONNS":       "40",
		"API_POSTGRES_AUTO_MIGRATE":         "false",
		"API_CATALOG_BASE_URL":              "https://catalog.internal",
		"API_CATALOG_TIMEOUT":               "2s",
		"API_CATALOG_HYDRATION_CONCURRENCY": "3",
		"API_CART_BACKEND":                  "Postgres",
		"API_CART_SESSION_IDLE_TTL":         "10m",
		"API_CART_SESSION_SWEEP_INTERVAL":   "1m",
		"API_EVENTS_DIVERGENCE_TOPIC":       "cart-drift",
		"API_SECURITY_ENVIRONMENT":          "PROD",
		"API_IDEMPOTENCY_TTL":               "1h",
	}

	cfg, err := loadEnv(env,
		WithSecretResolver(staticResolver(map[string]string{"secret://cart/dsn": "postgres://cart:pw@db/cart"})),
		WithRequiredSecrets("Postgres.DSN"),
	)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 25*time.Second, cfg.Server.WriteTimeout)
	assert.True(t, cfg.Firebase.CheckRevoked)
	assert.Equal(t, "shop-fire", cfg.Firestore.ProjectID)
	assert.Equal(t, "postgres://cart:pw@db/cart", cfg.Postgres.DSN)
	assert.Equal(t, 40, cfg.Postgres.MaxOpenConns)
	assert.False(t, cfg.Postgres.AutoMigrate)
	assert.Equal(t, CatalogConfig{
		BaseURL:              "https://catalog.internal",
		Timeout:              2 * time.Second,
		HydrationConcurrency: 3,
		CategoryConcurrency:  cfg.Catalog.CategoryConcurrency,
	}, cfg.Catalog)
	assert.Equal(t, CartBackendPostgres, cfg.Cart.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cart.SessionIdleTTL)
	assert.Equal(t, time.Minute, cfg.Cart.SessionSweepInterval)
	assert.Equal(t, "shop-prod", cfg.Events.ProjectID)
	assert.Equal(t, "cart-drift", cfg.Events.DivergenceTopic)
	assert.Equal(t, "prod", cfg.Security.Environment)
	assert.Equal(t, time.Hour, cfg.Idempotency.TTL)
}

func TestLoadDivergenceTopicDefaultsOutsideLocal(t *testing.T) {
	cfg, err := loadEnv(map[string]string{
		"API_FIREBASE_PROJECT_ID":  "shop-stg",
		"API_SECURITY_ENVIRONMENT": "staging",
	})
	require.NoError(t, err)
	assert.Equal(t, defaultDivergenceTopic, cfg.Events.DivergenceTopic)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := writeFile(t, ".env.test", "API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=shop-dot\nexport API_CART_BACKEND=firestore\n")

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "shop-dot", cfg.Firebase.ProjectID)
	assert.Equal(t, CartBackendFirestore, cfg.Cart.Backend)
}

func TestLoadValidation(t *testing.T) {
	tests := map[string]struct {
		env   map[string]string
		field string
	}{
		"no project":           {map[string]string{}, "Firebase.ProjectID"},
		"unknown backend":      {map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_CART_BACKEND": "redis"}, "Cart.Backend"},
		"postgres without dsn": {map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_CART_BACKEND": "postgres"}, "Postgres.DSN"},
		"no hydration workers": {map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_CATALOG_HYDRATION_CONCURRENCY": "0"}, "Catalog.HydrationConcurrency"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := loadEnv(tc.env)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Contains(t, validation.Fields(), tc.field)
		})
	}
}

func TestLoadUnresolvableSecret(t *testing.T) {
	_, err := loadEnv(map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_POSTGRES_DSN":        "secret://missing",
	})
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "secret://missing", secretErr.Ref)
}

func TestLoadLegacySecretScheme(t *testing.T) {
	cfg, err := loadEnv(map[string]string{
		"API_FIREBASE_PROJECT_ID": "shop-dev",
		"API_CART_BACKEND":        "postgres",
		"API_POSTGRES_DSN":        "sm://cart/dsn",
	}, WithSecretResolver(staticResolver(map[string]string{"secret://cart/dsn": "postgres://legacy"})))
	require.NoError(t, err)
	assert.Equal(t, "postgres://legacy", cfg.Postgres.DSN)
}

func TestLoadRequiredSecretsMissing(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "shop-dev"}

	_, err := loadEnv(env, WithRequiredSecrets("Postgres.DSN"))
	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"Postgres.DSN"}, missing.Names())
	assert.Equal(t, []string{redactSecretName("Postgres.DSN")}, missing.RedactedNames())
	assert.NotContains(t, missing.RedactedNames()[0], "Postgres")

	assert.PanicsWithError(t, missing.Error(), func() {
		_, _ = loadEnv(env, WithRequiredSecrets("Postgres.DSN"), WithPanicOnMissingSecrets())
	})
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	path := writeFile(t, ".env.test", "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n")
	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_CART_BACKEND", "firestore")

	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_CATALOG_TIMEOUT":     "3s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "override-project", values["API_FIREBASE_PROJECT_ID"])
	assert.Equal(t, ".dot.local", values["API_SECRET_FALLBACK_FILE"])
	assert.Equal(t, "firestore", values["API_CART_BACKEND"])
	assert.Equal(t, "3s", values["API_CATALOG_TIMEOUT"])
}

func TestLoadYAMLBelowEnvironment(t *testing.T) {
	path := writeFile(t, "commerce.yaml", `
firebase:
  project_id: shop-yaml
cart:
  backend: postgres
  session-idle-ttl: 45m
postgres:
  dsn: postgres://yaml
  max_open_conns: 7
catalog:
  hydration_concurrency: 3
`)

	cfg, err := loadEnv(map[string]string{"API_CATALOG_HYDRATION_CONCURRENCY": "5"}, WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, "shop-yaml", cfg.Firebase.ProjectID)
	assert.Equal(t, CartBackendPostgres, cfg.Cart.Backend)
	assert.Equal(t, "postgres://yaml", cfg.Postgres.DSN)
	assert.Equal(t, 45*time.Minute, cfg.Cart.SessionIdleTTL)
	assert.Equal(t, 7, cfg.Postgres.MaxOpenConns)
	assert.Equal(t, 5, cfg.Catalog.HydrationConcurrency, "env beats yaml")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "broken.yaml", "cart: [unterminated")
	_, err := loadEnv(nil, WithConfigFile(path))
	assert.Error(t, err)
}
