// Package secrets resolves secret:// configuration references, such as the Postgres DSN of the
// cart store, through Google Secret Manager with a local file for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultLocalFile = ".secrets.local"
	defaultCacheTTL  = 10 * time.Minute
	meterName        = "github.com/Arpitray/commerce/internal/platform/secrets"
)

// ErrNotFound reports a secret that Secret Manager does not have. It never falls back to the
// local file.
var ErrNotFound = errors.New("secrets: secret not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type cached struct {
	value     string
	expiresAt time.Time
}

// Fetcher resolves references with a bounded in-memory cache so rotated values are picked up
// after cacheTTL. Concurrent misses for the same version share one Secret Manager call.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	project    string
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger

	localPath string
	localOnce sync.Once
	local     map[string]string
	localErr  error

	calls singleflight.Group
	mu    sync.Mutex
	cache map[string]cached

	resolved metric.Int64Counter
	latency  metric.Float64Histogram
}

type settings struct {
	logger     *zap.Logger
	project    string
	localPath  string
	ttl        time.Duration
	now        func() time.Time
	meter      metric.Meter
	client     accessClient
	clientOpts []option.ClientOption
}

// Option customises NewFetcher.
type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithDefaultProject is used for references without ?project=.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithFallbackFile points at the local secrets file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.localPath = strings.TrimSpace(path) }
}

// WithCacheTTL sets how long a value is reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient supplies the client instead of dialling one. The fetcher will not
// close it.
func WithSecretManagerClient(client accessClient) Option {
	return func(s *settings) { s.client = client }
}

func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher never fails because Secret Manager is unreachable; without a client only the local
// file is consulted.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{localPath: defaultLocalFile, ttl: defaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:    s.client,
		project:   s.project,
		ttl:       s.ttl,
		now:       s.now,
		logger:    s.logger,
		localPath: s.localPath,
		cache:     make(map[string]cached),
	}

	var err error
	if f.resolved, err = s.meter.Int64Counter("secrets.resolve.count",
		metric.WithDescription("Secret resolutions by source")); err != nil {
		s.logger.Warn("secrets: resolve counter unavailable", zap.Error(err))
	}
	if f.latency, err = s.meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency")); err != nil {
		s.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable, using local file only", zap.Error(err))
			return f, nil
		}
		f.client = client
		f.ownsClient = true
	}
	return f, nil
}

func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret lets the fetcher act as the config loader's secret resolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref. Permission and availability failures fall back to the
// local file; ErrNotFound does not.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := f.now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}

	if value, ok := f.fromCache(ref.cacheKey()); ok {
		f.observe(ctx, start, "cache", ref)
		return value, nil
	}

	if name, ok := ref.resourceName(f.project); ok && f.client != nil {
		value, err := f.fetch(ctx, ref.cacheKey(), name)
		switch {
		case err == nil:
			f.observe(ctx, start, "remote", ref)
			return value, nil
		case !canFallBack(err):
			f.observe(ctx, start, "error", ref)
			return "", fmt.Errorf("secrets: resolve %s: %w", ref.canonical(), err)
		}
		f.logger.Debug("secrets: secret manager failed, trying local file",
			zap.String("secret", ref.redacted()), zap.Error(err))
	}

	value, ok := f.fromLocal(ref)
	if !ok {
		f.observe(ctx, start, "error", ref)
		return "", fmt.Errorf("secrets: no local value for %s", ref.canonical())
	}
	f.remember(ref.cacheKey(), value)
	f.observe(ctx, start, "local", ref)
	return value, nil
}

// Invalidate forgets every cached version of ref.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseReference(raw)
	if err != nil {
		return
	}
	prefix := ref.canonical() + "#"
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.cache {
		if strings.HasPrefix(key, prefix) {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) fetch(ctx context.Context, key, name string) (string, error) {
	v, err, _ := f.calls.Do(key, func() (any, error) {
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		if err != nil {
			return nil, err
		}
		if resp.GetPayload() == nil {
			return nil, fmt.Errorf("secrets: empty payload for %s", name)
		}
		value := string(resp.GetPayload().GetData())
		f.remember(key, value)
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) fromCache(key string) (string, bool) {
	if f.ttl == 0 {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !f.now().Before(entry.expiresAt) {
		delete(f.cache, key)
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) remember(key, value string) {
	if f.ttl == 0 {
		return
	}
	f.mu.Lock()
	f.cache[key] = cached{value: value, expiresAt: f.now().Add(f.ttl)}
	f.mu.Unlock()
}

func (f *Fetcher) fromLocal(ref reference) (string, bool) {
	f.localOnce.Do(func() {
		f.local, f.localErr = readLocalSecrets(f.localPath)
	})
	if f.localErr != nil {
		f.logger.Debug("secrets: local file unreadable", zap.Error(f.localErr))
		return "", false
	}
	return lookupLocal(f.local, ref)
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string, ref reference) {
	attrs := metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("secret", ref.redacted()),
	)
	if f.resolved != nil {
		f.resolved.Add(ctx, 1, attrs)
	}
	if f.latency != nil {
		f.latency.Record(ctx, float64(f.now().Sub(start))/float64(time.Millisecond), attrs)
	}
}

func canFallBack(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
