package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Arpitray/commerce/internal/catalog"
	domain "github.com/Arpitray/commerce/internal/domain"
	"github.com/Arpitray/commerce/internal/platform/httpx"
)

const (
	defaultProductListLimit = 20
	maxProductListLimit     = 100
	publicCacheControl      = "public, max-age=60"
)

// ProductCatalog reads normalised products from the external source.
type ProductCatalog interface {
	Product(ctx context.Context, id domain.ProductID) (domain.Product, error)
	Products(ctx context.Context, limit int) ([]domain.Product, error)
}

// CategoryBrowser resolves storefront category pages.
type CategoryBrowser interface {
	Categories() []domain.Category
	Category(ctx context.Context, slug string) (domain.Category, []domain.Product, error)
}

// ProductHandlers serves the unauthenticated catalogue endpoints.
type ProductHandlers struct {
	products   ProductCatalog
	categories CategoryBrowser
}

// NewProductHandlers wires catalogue reads. Either dependency may be nil, in which case its
// endpoints answer 503.
func NewProductHandlers(products ProductCatalog, categories CategoryBrowser) *ProductHandlers {
	return &ProductHandlers{products: products, categories: categories}
}

// Routes registers the /public endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productId}", h.getProduct)
	r.Get("/categories", h.listCategories)
	r.Get("/categories/{slug}", h.getCategory)
}

type productPayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
	Image       string  `json:"image,omitempty"`
	Brand       string  `json:"brand,omitempty"`
	Category    string  `json:"category,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	Stock       int     `json:"stock"`
}

type productListResponse struct {
	Products []productPayload `json:"products"`
}

type categoryPayload struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
}

type categoryPageResponse struct {
	Category categoryPayload  `json:"category"`
	Products []productPayload `json:"products"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "product catalogue is unavailable", http.StatusServiceUnavailable))
		return
	}

	limit, err := parseListLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
		return
	}

	products, err := h.products.Products(ctx, limit)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if len(products) > limit {
		products = products[:limit]
	}

	w.Header().Set("Cache-Control", publicCacheControl)
	writeJSONResponse(w, http.StatusOK, productListResponse{Products: buildProductPayloads(products)})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "product catalogue is unavailable", http.StatusServiceUnavailable))
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, "productId"))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.products.Product(ctx, domain.ProductID(id))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.Header().Set("Cache-Control", publicCacheControl)
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.categories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "category browser is unavailable", http.StatusServiceUnavailable))
		return
	}

	categories := h.categories.Categories()
	payload := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		payload = append(payload, categoryPayload{Slug: category.Slug, DisplayName: category.DisplayName})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"categories": payload})
}

func (h *ProductHandlers) getCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.categories == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "category browser is unavailable", http.StatusServiceUnavailable))
		return
	}

	category, products, err := h.categories.Category(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, categoryPageResponse{
		Category: categoryPayload{Slug: category.Slug, DisplayName: category.DisplayName},
		Products: buildProductPayloads(products),
	})
}

func parseListLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultProductListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxProductListLimit {
		limit = maxProductListLimit
	}
	return limit, nil
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, catalog.ErrUnknownCategory):
		httpx.WriteError(ctx, w, httpx.NewError("category_not_found", "category not found", http.StatusNotFound))
	case errors.Is(err, catalog.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_timeout", "product source timed out", http.StatusGatewayTimeout))
	case errors.Is(err, catalog.ErrMalformedRecord):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_malformed", "product source returned an invalid record", http.StatusBadGateway))
	case errors.Is(err, catalog.ErrSourceUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "product source is unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read product catalogue", http.StatusInternalServerError))
	}
}

func buildProductPayloads(products []domain.Product) []productPayload {
	out := make([]productPayload, 0, len(products))
	for _, product := range products {
		out = append(out, buildProductPayload(product))
	}
	return out
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:          product.ID.String(),
		Name:        product.Name,
		Price:       product.Price,
		Description: product.Description,
		Image:       product.Image,
		Brand:       product.Brand,
		Category:    product.Category,
		Rating:      product.Rating,
		Stock:       product.Stock,
	}
}
