package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Arpitray/commerce/internal/domain"
)

//go:embed categories.yaml
var defaultCategoriesDocument []byte

const defaultFetchConcurrency = 4

type categoryDocument struct {
	Categories []categoryEntry `yaml:"categories"`
}

type categoryEntry struct {
	Slug    string   `yaml:"slug"`
	Name    string   `yaml:"name"`
	Sources []string `yaml:"sources"`
	Limit   int      `yaml:"limit"`
	Shuffle bool     `yaml:"shuffle"`
}

// LoadCategories parses a YAML category document.
func LoadCategories(data []byte) ([]domain.Category, error) {
	var doc categoryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("catalog: parse categories: %w", err)
	}
	seen := make(map[string]struct{}, len(doc.Categories))
	out := make([]domain.Category, 0, len(doc.Categories))
	for i, entry := range doc.Categories {
		slug := strings.ToLower(strings.TrimSpace(entry.Slug))
		if slug == "" {
			return nil, fmt.Errorf("catalog: category %d has no slug", i)
		}
		if _, dup := seen[slug]; dup {
			return nil, fmt.Errorf("catalog: duplicate category %q", slug)
		}
		seen[slug] = struct{}{}

		sources := make([]string, 0, len(entry.Sources))
		for _, src := range entry.Sources {
			if trimmed := strings.TrimSpace(src); trimmed != "" {
				sources = append(sources, trimmed)
			}
		}
		if len(sources) == 0 {
			return nil, fmt.Errorf("catalog: category %q has no sources", slug)
		}
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = slug
		}
		out = append(out, domain.Category{
			Slug:        slug,
			DisplayName: name,
			Sources:     sources,
			Limit:       entry.Limit,
			Shuffle:     entry.Shuffle,
		})
	}
	return out, nil
}

var defaultCategories = sync.OnceValues(func() ([]domain.Category, error) {
	return LoadCategories(defaultCategoriesDocument)
})

// ProductLister lists the products of one source category.
type ProductLister interface {
	ProductsByCategory(ctx context.Context, category string) ([]domain.Product, error)
}

// Browser resolves storefront category slugs into product listings.
type Browser struct {
	source      ProductLister
	order       []domain.Category
	bySlug      map[string]domain.Category
	shuffle     func([]domain.Product)
	concurrency int
	logger      *zap.Logger
}

// BrowserOption customises Browser construction.
type BrowserOption func(*Browser)

// WithCategories replaces the embedded category catalogue.
func WithCategories(categories []domain.Category) BrowserOption {
	return func(b *Browser) {
		if len(categories) > 0 {
			b.order = append([]domain.Category(nil), categories...)
		}
	}
}

// WithShuffle overrides the shuffle applied to categories flagged for it.
func WithShuffle(fn func([]domain.Product)) BrowserOption {
	return func(b *Browser) {
		if fn != nil {
			b.shuffle = fn
		}
	}
}

// WithFetchConcurrency bounds parallel source requests for multi-source categories.
func WithFetchConcurrency(n int) BrowserOption {
	return func(b *Browser) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBrowserLogger sets the logger used for tolerated source failures.
func WithBrowserLogger(logger *zap.Logger) BrowserOption {
	return func(b *Browser) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBrowser constructs a category browser over the given product source.
func NewBrowser(source ProductLister, opts ...BrowserOption) (*Browser, error) {
	if source == nil {
		return nil, errors.New("catalog: product lister is required")
	}
	b := &Browser{
		source:      source,
		shuffle:     shuffleProducts,
		concurrency: defaultFetchConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if len(b.order) == 0 {
		categories, err := defaultCategories()
		if err != nil {
			return nil, err
		}
		b.order = categories
	}
	b.bySlug = make(map[string]domain.Category, len(b.order))
	for _, category := range b.order {
		b.bySlug[category.Slug] = category
	}
	return b, nil
}

// Categories returns the configured categories in declaration order.
func (b *Browser) Categories() []domain.Category {
	out := make([]domain.Category, len(b.order))
	copy(out, b.order)
	return out
}

// Category returns the category metadata and its products. Single-source categories surface
// source errors directly. Multi-source categories tolerate individual source failures and only
// fail when every source failed.
func (b *Browser) Category(ctx context.Context, slug string) (domain.Category, []domain.Product, error) {
	category, ok := b.bySlug[strings.ToLower(strings.TrimSpace(slug))]
	if !ok {
		return domain.Category{}, nil, fmt.Errorf("%w: %q", ErrUnknownCategory, slug)
	}

	var products []domain.Product
	if len(category.Sources) == 1 {
		list, err := b.source.ProductsByCategory(ctx, category.Sources[0])
		if err != nil {
			return category, nil, err
		}
		products = list
	} else {
		list, err := b.fanOut(ctx, category)
		if err != nil {
			return category, nil, err
		}
		products = list
	}

	if category.Shuffle {
		b.shuffle(products)
	}
	if category.Limit > 0 && len(products) > category.Limit {
		products = products[:category.Limit]
	}
	return category, products, nil
}

func (b *Browser) fanOut(ctx context.Context, category domain.Category) ([]domain.Product, error) {
	results := make([][]domain.Product, len(category.Sources))
	failures := make([]error, len(category.Sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, source := range category.Sources {
		g.Go(func() error {
			list, err := b.source.ProductsByCategory(gctx, source)
			if err != nil {
				failures[i] = err
				b.logger.Warn("catalog: category source failed",
					zap.String("category", category.Slug),
					zap.String("source", source),
					zap.Error(err),
				)
				return nil
			}
			results[i] = list
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[domain.ProductID]struct{})
	var out []domain.Product
	succeeded := 0
	for i, list := range results {
		if failures[i] != nil {
			continue
		}
		succeeded++
		for _, product := range list {
			if _, dup := seen[product.ID]; dup {
				continue
			}
			seen[product.ID] = struct{}{}
			out = append(out, product)
		}
	}
	if succeeded == 0 {
		return nil, fmt.Errorf("%w: all sources failed for %q: %v", ErrSourceUnavailable, category.Slug, errors.Join(failures...))
	}
	return out, nil
}

func shuffleProducts(products []domain.Product) {
	rand.Shuffle(len(products), func(i, j int) {
		products[i], products[j] = products[j], products[i]
	})
}
