package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Arpitray/commerce/internal/platform/httpx"
)

const (
	apiPrefix         = "/api/v1"
	requestTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

// RouteRegistrar attaches one group's routes.
type RouteRegistrar func(r chi.Router)

type routeGroup struct {
	path      string
	registrar RouteRegistrar
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	public      RouteRegistrar
	cart        RouteRegistrar
	me          RouteRegistrar
}

// Option customises NewRouter.
type Option func(*routerConfig)

func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz; without it readiness always reports ok.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithPublicRoutes mounts the anonymous catalogue under /api/v1/public.
func WithPublicRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.public = reg }
}

// WithCartRoutes mounts the signed-in cart under /api/v1/cart.
func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.cart = reg }
}

func WithMeRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.me = reg }
}

// NewRouter assembles the storefront API. A group left without a registrar answers 501 so
// clients can tell a disabled surface from a wrong path.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers(nil)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	groups := []routeGroup{
		{path: "/public", registrar: cfg.public},
		{path: "/cart", registrar: cfg.cart},
		{path: "/me", registrar: cfg.me},
	}
	r.Route(apiPrefix, func(api chi.Router) {
		for _, g := range groups {
			api.Route(g.path, func(sub chi.Router) {
				if g.registrar == nil {
					notImplemented(sub, g.path)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

func notImplemented(r chi.Router, path string) {
	h := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", apiPrefix+path+" is not enabled", http.StatusNotImplemented))
	}
	r.HandleFunc("/", h)
	r.HandleFunc("/*", h)
	r.NotFound(h)
	r.MethodNotAllowed(h)
}
