package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Arpitray/commerce/internal/domain"
)

const (
	// DefaultBaseURL points at the public DummyJSON product API.
	DefaultBaseURL = "https://dummyjson.com"
	// DefaultTimeout bounds a single product source request.
	DefaultTimeout = 5 * time.Second

	maxResponseBytes = 4 << 20
	maxErrorBytes    = 1 << 10
)

// Client reads products from a DummyJSON compatible product source.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// ClientOption customises Client construction.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout overrides the per-request time budget.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the logger used for skipped records and source failures.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a product source client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Product fetches and normalises a single product. The request is abandoned with ErrTimeout once
// the configured budget elapses.
func (c *Client) Product(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	trimmed := strings.TrimSpace(id.String())
	if trimmed == "" {
		return domain.Product{}, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	endpoint, err := url.JoinPath(c.baseURL, "products", url.PathEscape(trimmed))
	if err != nil {
		return domain.Product{}, err
	}

	body, err := c.get(ctx, endpoint, ErrProductNotFound)
	if err != nil {
		return domain.Product{}, err
	}
	raw, err := DecodeProduct(body)
	if err != nil {
		return domain.Product{}, err
	}
	return Normalize(raw)
}

// Products lists up to limit products from the source. A non-positive limit uses the source default.
func (c *Client) Products(ctx context.Context, limit int) ([]domain.Product, error) {
	endpoint, err := url.JoinPath(c.baseURL, "products")
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	return c.list(ctx, endpoint)
}

// ProductsByCategory lists products of one source category.
func (c *Client) ProductsByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, ErrUnknownCategory
	}
	endpoint, err := url.JoinPath(c.baseURL, "products", "category", url.PathEscape(category))
	if err != nil {
		return nil, err
	}
	return c.list(ctx, endpoint)
}

type listPayload struct {
	Products []json.RawMessage `json:"products"`
}

func (c *Client) list(ctx context.Context, endpoint string) ([]domain.Product, error) {
	body, err := c.get(ctx, endpoint, ErrSourceUnavailable)
	if err != nil {
		return nil, err
	}
	var payload listPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	products := make([]domain.Product, 0, len(payload.Products))
	skipped := 0
	for _, item := range payload.Products {
		raw, err := DecodeProduct(item)
		if err == nil {
			var product domain.Product
			product, err = Normalize(raw)
			if err == nil {
				products = append(products, product)
				continue
			}
		}
		skipped++
		c.logger.Debug("catalog: skipping malformed record", zap.String("endpoint", endpoint), zap.Error(err))
	}
	if skipped > 0 {
		c.logger.Info("catalog: malformed records skipped", zap.String("endpoint", endpoint), zap.Int("count", skipped))
	}
	return products, nil
}

func (c *Client) get(ctx context.Context, endpoint string, notFound error) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", notFound, endpoint)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: status %d: %s", ErrSourceUnavailable, resp.StatusCode, drainError(resp.Body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	return body, nil
}

func classifyTransportError(parent context.Context, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}

func drainError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBytes))
	return strings.TrimSpace(string(data))
}
