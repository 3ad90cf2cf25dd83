package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Arpitray/commerce/internal/catalog"
	domain "github.com/Arpitray/commerce/internal/domain"
	"github.com/Arpitray/commerce/internal/platform/auth"
	"github.com/Arpitray/commerce/internal/platform/httpx"
	"github.com/Arpitray/commerce/internal/services"
)

const (
	maxCartBodySize        = 16 * 1024
	defaultMutationLimit   = 60
	defaultMutationWindow  = time.Minute
	defaultAddItemQuantity = 1
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn      *auth.Authenticator
	sessions   services.CartSessionProvider
	products   services.ProductResolver
	idempotent func(http.Handler) http.Handler
	limiter    *mutationLimiter
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCartIdempotency guards POST /cart/items with the supplied idempotency middleware.
func WithCartIdempotency(mw func(http.Handler) http.Handler) CartOption {
	return func(h *CartHandlers) {
		h.idempotent = mw
	}
}

// WithCartRateLimit caps mutations per user. A non-positive limit disables limiting.
func WithCartRateLimit(limit int, window time.Duration, clock func() time.Time) CartOption {
	return func(h *CartHandlers) {
		h.limiter = newMutationLimiter(limit, window, clock)
	}
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before touching the
// caller's cart session.
func NewCartHandlers(authn *auth.Authenticator, sessions services.CartSessionProvider, products services.ProductResolver, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{
		authn:    authn,
		sessions: sessions,
		products: products,
		limiter:  newMutationLimiter(defaultMutationLimit, defaultMutationWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)

	r.Group(func(mut chi.Router) {
		mut.Use(h.limiter.middleware)
		add := http.Handler(http.HandlerFunc(h.addItem))
		if h.idempotent != nil {
			add = h.idempotent(add)
		}
		mut.Method(http.MethodPost, "/items", add)
		mut.Patch("/items/{productId}", h.updateItem)
		mut.Delete("/items/{productId}", h.removeItem)
		mut.Delete("/", h.clearCart)
	})
}

type cartItemPayload struct {
	ProductID   string  `json:"productId"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Image       string  `json:"image,omitempty"`
	Quantity    int     `json:"quantity"`
	Subtotal    float64 `json:"subtotal"`
	Placeholder bool    `json:"placeholder,omitempty"`
	Sync        string  `json:"sync"`
	AddedAt     string  `json:"addedAt"`
}

type cartSummaryPayload struct {
	TotalItems int     `json:"totalItems"`
	TotalPrice float64 `json:"totalPrice"`
	LineCount  int     `json:"lineCount"`
}

type cartPayload struct {
	SessionID       string             `json:"sessionId"`
	State           string             `json:"state"`
	Items           []cartItemPayload  `json:"items"`
	Summary         cartSummaryPayload `json:"summary"`
	HydrationFailed bool               `json:"hydrationFailed,omitempty"`
	LocalOnly       int                `json:"localOnly"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type addItemRequest struct {
	ProductID catalog.RawID `json:"productId"`
	Quantity  *int          `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.session(ctx, w)
	if !ok {
		return
	}

	payload := buildCartPayload(session.Snapshot())
	etag := buildCartETag(payload)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, no-cache")
	if match := strings.TrimSpace(r.Header.Get("If-None-Match")); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: payload})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "product catalogue is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, ok := readCartBody(ctx, w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	productID := domain.ProductID(strings.TrimSpace(string(req.ProductID)))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	quantity := defaultAddItemQuantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity < 1 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be at least 1", http.StatusBadRequest))
		return
	}

	session, ok := h.session(ctx, w)
	if !ok {
		return
	}

	product, err := h.products.Product(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	if err := session.Add(ctx, product, quantity); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(session.Snapshot())})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, ok := productIDParam(ctx, w, r)
	if !ok {
		return
	}

	body, ok := readCartBody(ctx, w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	session, ok := h.session(ctx, w)
	if !ok {
		return
	}
	if _, found := session.Line(productID); !found && *req.Quantity > 0 {
		writeCartError(ctx, w, services.ErrCartItemNotFound)
		return
	}
	if err := session.UpdateQuantity(ctx, productID, *req.Quantity); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(session.Snapshot())})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, ok := productIDParam(ctx, w, r)
	if !ok {
		return
	}
	session, ok := h.session(ctx, w)
	if !ok {
		return
	}
	if err := session.Remove(ctx, productID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(session.Snapshot())})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := h.session(ctx, w)
	if !ok {
		return
	}
	if err := session.Clear(ctx); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(session.Snapshot())})
}

// session resolves the caller's ready session, writing the error response itself on failure.
func (h *CartHandlers) session(ctx context.Context, w http.ResponseWriter) (*services.CartSession, bool) {
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	session, err := h.sessions.Session(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return nil, false
	}
	return session, true
}

func readCartBody(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return nil, false
	}
	return body, true
}

func productIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (domain.ProductID, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "productId"))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return "", false
	}
	return domain.ProductID(id), true
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAuthRequired):
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "item not found in cart", http.StatusNotFound))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_ready", "cart is still loading; retry shortly", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart", http.StatusInternalServerError))
	}
}

func buildCartPayload(snapshot services.CartSnapshot) cartPayload {
	items := make([]cartItemPayload, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		item := cartItemPayload{
			ProductID:   line.ProductID.String(),
			Name:        line.Name,
			Price:       line.Price,
			Image:       line.Image,
			Quantity:    line.Quantity,
			Subtotal:    line.Subtotal(),
			Placeholder: line.Placeholder,
			Sync:        string(line.Sync),
		}
		if !line.AddedAt.IsZero() {
			item.AddedAt = line.AddedAt.UTC().Format(time.RFC3339Nano)
		}
		items = append(items, item)
	}
	return cartPayload{
		SessionID: snapshot.SessionID,
		State:     string(snapshot.State),
		Items:     items,
		Summary: cartSummaryPayload{
			TotalItems: snapshot.Summary.TotalItems,
			TotalPrice: snapshot.Summary.TotalPrice,
			LineCount:  snapshot.Summary.LineCount,
		},
		HydrationFailed: snapshot.HydrationFailed,
		LocalOnly:       snapshot.LocalOnly,
	}
}

func buildCartETag(payload cartPayload) string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s|%s|%d", payload.SessionID, payload.State, payload.LocalOnly)
	for _, item := range payload.Items {
		fmt.Fprintf(hasher, "|%s:%d:%s:%s", item.ProductID, item.Quantity, strconv.FormatFloat(item.Price, 'f', -1, 64), item.Sync)
	}
	return `W/"` + hex.EncodeToString(hasher.Sum(nil))[:32] + `"`
}
