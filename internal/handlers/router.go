package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	metrics     http.Handler

	shopper  []RouteRegistrar
	admin    RouteRegistrar
	webhooks RouteRegistrar
	internal RouteRegistrar

	shopperMiddlewares  []func(http.Handler) http.Handler
	adminMiddlewares    []func(http.Handler) http.Handler
	internalMiddlewares []func(http.Handler) http.Handler
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router. Guards are applied per group: shopper
// routes get the authentication middleware, admin routes add the role check
// and no-store headers, and internal routes get service authentication.
// Webhook routes carry their own signature guard.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
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
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(cfg.basePath, func(api chi.Router) {
		api.Group(func(group chi.Router) {
			use(group, cfg.shopperMiddlewares)
			for _, registrar := range cfg.shopper {
				if registrar != nil {
					registrar(group)
				}
			}
		})
		mount(api, "/admin", cfg.admin, cfg.adminMiddlewares)
		mount(api, "/webhooks", cfg.webhooks, nil)
		mount(api, "/internal", cfg.internal, cfg.internalMiddlewares)
	})

	return r
}

func mount(api chi.Router, path string, registrar RouteRegistrar, mws []func(http.Handler) http.Handler) {
	if registrar == nil {
		return
	}
	api.Route(path, func(group chi.Router) {
		use(group, mws)
		registrar(group)
	})
}

func use(r chi.Router, mws []func(http.Handler) http.Handler) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// WithMiddlewares appends global middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) { cfg.metrics = h }
}

// WithShopperRoutes adds registrars for signed-in customer endpoints.
func WithShopperRoutes(regs ...RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.shopper = append(cfg.shopper, regs...) }
}

// WithShopperMiddlewares sets the guard chain of customer endpoints.
func WithShopperMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.shopperMiddlewares = append(cfg.shopperMiddlewares, mw...) }
}

// WithAdminRoutes configures the registrar of /admin endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.admin = reg }
}

// WithAdminMiddlewares sets the guard chain of /admin endpoints.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.adminMiddlewares = append(cfg.adminMiddlewares, mw...) }
}

// WithWebhookRoutes configures the registrar of /webhooks endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.webhooks = reg }
}

// WithInternalRoutes configures the registrar of /internal endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.internal = reg }
}

// WithInternalMiddlewares sets the guard chain of /internal endpoints.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.internalMiddlewares = append(cfg.internalMiddlewares, mw...) }
}
