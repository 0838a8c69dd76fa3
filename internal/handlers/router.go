package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nihonselect/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 30 * time.Second
	corsMaxAge     = 12 * time.Hour
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

// surface is a route group mounted under the API prefix with its own middleware chain.
type surface struct {
	routes      RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	global         []middlewareFunc
	allowedOrigins []string
	health         *HealthHandlers
	storefront     []RouteRegistrar
	admin          surface
	internal       surface
}

type Option func(*routerConfig)

// NewRouter builds the HTTP surface: health probes at the root, storefront routes directly under
// /api/v1, and the admin and internal groups below it. A group without registered routes answers
// 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if len(cfg.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "Accept-Language", "Idempotency-Key"},
			ExposedHeaders:   []string{"X-Request-Id", "X-Idempotent-Replay"},
			AllowCredentials: true,
			MaxAge:           int(corsMaxAge / time.Second),
		}))
	}
	r.Use(middleware.Timeout(requestTimeout))
	for _, mw := range cfg.global {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, register := range cfg.storefront {
			if register != nil {
				register(api)
			}
		}
		cfg.admin.mount(api, "/admin")
		cfg.internal.mount(api, "/internal")
	})
	return r
}

func (s surface) mount(parent chi.Router, path string) {
	parent.Route(path, func(group chi.Router) {
		for _, mw := range s.middlewares {
			if mw != nil {
				group.Use(mw)
			}
		}
		if s.routes != nil {
			s.routes(group)
			return
		}
		unavailable := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", path+" routes are not enabled", http.StatusNotImplemented))
		}
		group.HandleFunc("/", unavailable)
		group.HandleFunc("/*", unavailable)
	})
}

// WithMiddlewares appends middleware applied to every route after request id, CORS and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.global = append(cfg.global, mw...)
	}
}

// WithAllowedOrigins enables CORS for browser clients served from origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(cfg *routerConfig) {
		cfg.allowedOrigins = append(cfg.allowedOrigins, origins...)
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithStorefrontRoutes adds registrars mounted directly under the API prefix (products, checkout,
// orders).
func WithStorefrontRoutes(reg ...RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.storefront = append(cfg.storefront, reg...)
	}
}

func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.admin.routes = reg
	}
}

// WithAdminMiddlewares appends middleware applied to the /admin group only.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.admin.middlewares = append(cfg.admin.middlewares, mw...)
	}
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.internal.routes = reg
	}
}

// WithInternalMiddlewares guards the /internal group, typically with OIDC service identity.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.internal.middlewares = append(cfg.internal.middlewares, mw...)
	}
}
