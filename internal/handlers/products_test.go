package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Arpitray/commerce/internal/catalog"
	domain "github.com/Arpitray/commerce/internal/domain"
)

type stubCatalog struct {
	products  map[domain.ProductID]domain.Product
	list      []domain.Product
	err       error
	lastLimit int
}

func (s *stubCatalog) Product(_ context.Context, id domain.ProductID) (domain.Product, error) {
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
	}
	return product, nil
}

func (s *stubCatalog) Products(_ context.Context, limit int) ([]domain.Product, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.list, nil
}

type stubBrowser struct {
	categories []domain.Category
	products   []domain.Product
}

func (s *stubBrowser) Categories() []domain.Category { return s.categories }

func (s *stubBrowser) Category(_ context.Context, slug string) (domain.Category, []domain.Product, error) {
	for _, category := range s.categories {
		if category.Slug == slug {
			return category, s.products, nil
		}
	}
	return domain.Category{}, nil, catalog.ErrUnknownCategory
}

func newProductRouter(products ProductCatalog, categories CategoryBrowser) chi.Router {
	router := chi.NewRouter()
	router.Route("/public", NewProductHandlers(products, categories).Routes)
	return router
}

func TestProductHandlers_GetProduct(t *testing.T) {
	source := &stubCatalog{products: map[domain.ProductID]domain.Product{
		"1": {ID: "1", Name: "Chair", Price: 10, Image: "a.png", Stock: 4},
	}}
	router := newProductRouter(source, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/products/1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload productPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ID != "1" || payload.Name != "Chair" || payload.Price != 10 || payload.Image != "a.png" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if rr.Header().Get("Cache-Control") != publicCacheControl {
		t.Fatalf("expected cache-control header")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/products/404", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestProductHandlers_CatalogErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("%w: boom", catalog.ErrTimeout), want: http.StatusGatewayTimeout},
		{err: fmt.Errorf("%w: bad", catalog.ErrMalformedRecord), want: http.StatusBadGateway},
		{err: fmt.Errorf("%w: status 500", catalog.ErrSourceUnavailable), want: http.StatusBadGateway},
		{err: fmt.Errorf("other"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newProductRouter(&stubCatalog{err: tc.err}, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/products/1", nil))
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
	}
}

func TestProductHandlers_ListProductsLimit(t *testing.T) {
	list := make([]domain.Product, 0, 5)
	for i := 1; i <= 5; i++ {
		list = append(list, domain.Product{ID: domain.ProductID(fmt.Sprint(i)), Name: fmt.Sprintf("P%d", i), Price: float64(i)})
	}
	source := &stubCatalog{list: list}
	router := newProductRouter(source, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/products?limit=3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if source.lastLimit != 3 || len(payload.Products) != 3 {
		t.Fatalf("expected 3 products with limit 3, got limit %d and %d products", source.lastLimit, len(payload.Products))
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/products", nil))
	if source.lastLimit != defaultProductListLimit {
		t.Fatalf("expected default limit %d, got %d", defaultProductListLimit, source.lastLimit)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/products?limit=500", nil))
	if source.lastLimit != maxProductListLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxProductListLimit, source.lastLimit)
	}

	for _, raw := range []string{"0", "-1", "abc"} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/products?limit="+raw, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("limit %q: expected 400, got %d", raw, rr.Code)
		}
	}
}

func TestProductHandlers_Categories(t *testing.T) {
	browser := &stubBrowser{
		categories: []domain.Category{
			{Slug: "all", DisplayName: "All"},
			{Slug: "lamps", DisplayName: "Lamps", Sources: []string{"lighting"}},
		},
		products: []domain.Product{{ID: "7", Name: "Lamp", Price: 25}},
	}
	router := newProductRouter(nil, browser)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/categories", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var listed struct {
		Categories []categoryPayload `json:"categories"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Categories) != 2 || listed.Categories[1].Slug != "lamps" {
		t.Fatalf("unexpected categories %+v", listed.Categories)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/categories/lamps", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var page categoryPageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Category.DisplayName != "Lamps" || len(page.Products) != 1 || page.Products[0].ID != "7" {
		t.Fatalf("unexpected page %+v", page)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/public/categories/garden", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown category, got %d", rr.Code)
	}
}

func TestProductHandlers_MissingDependencies(t *testing.T) {
	router := newProductRouter(nil, nil)
	for _, path := range []string{"/public/products", "/public/products/1", "/public/categories", "/public/categories/all"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rr.Code)
		}
	}
}

func TestWriteJSONResponseReportsUnencodablePayload(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]float64{"rating": math.NaN()})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "encode_failed" {
		t.Fatalf("expected encode_failed, got %q", body.Error)
	}

	rr = httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusCreated, map[string]int{"count": 2})
	if rr.Code != http.StatusCreated || rr.Body.String() != "{\"count\":2}\n" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
}
