package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shelfsort/api/internal/platform/httpx"
)

// RouteRegistrar attaches a group of endpoints to a router.
type RouteRegistrar interface {
	Routes(r chi.Router)
}

// RegistrarFunc adapts a plain function to the RouteRegistrar interface so
// several handler groups can share one mount point.
type RegistrarFunc func(r chi.Router)

func (f RegistrarFunc) Routes(r chi.Router) {
	f(r)
}

type routeMount struct {
	pattern     string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	health      *HealthHandlers
	mounts      []routeMount
	middlewares []func(http.Handler) http.Handler
	timeout     time.Duration
}

// RouterOption customises router construction.
type RouterOption func(*routerConfig)

// WithMiddlewares appends global middlewares applied to every route.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) RouterOption {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout overrides the default per-request timeout.
func WithRequestTimeout(timeout time.Duration) RouterOption {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithHealthRoutes wires the liveness and readiness endpoints.
func WithHealthRoutes(h *HealthHandlers) RouterOption {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithCollectionRoutes mounts the collection resort and settings endpoints
// under /collections. The supplied middlewares wrap the whole group.
func WithCollectionRoutes(registrar RouteRegistrar, mw ...func(http.Handler) http.Handler) RouterOption {
	return func(cfg *routerConfig) {
		cfg.mounts = append(cfg.mounts, routeMount{pattern: "/collections", registrar: registrar, middlewares: mw})
	}
}

// WithRunRoutes mounts the resort run lookup endpoints under /runs.
func WithRunRoutes(registrar RouteRegistrar, mw ...func(http.Handler) http.Handler) RouterOption {
	return func(cfg *routerConfig) {
		cfg.mounts = append(cfg.mounts, routeMount{pattern: "/runs", registrar: registrar, middlewares: mw})
	}
}

// NewRouter assembles the HTTP surface of the service.
func NewRouter(opts ...RouterOption) http.Handler {
	cfg := &routerConfig{timeout: 60 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.timeout))
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "route not found", http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method not allowed", http.StatusMethodNotAllowed))
	})

	if cfg.health != nil {
		r.Get("/healthz", cfg.health.Healthz)
		r.Get("/readyz", cfg.health.Readyz)
	}

	for _, mount := range cfg.mounts {
		mount := mount
		r.Route(mount.pattern, func(group chi.Router) {
			for _, mw := range mount.middlewares {
				group.Use(mw)
			}
			if mount.registrar != nil {
				mount.registrar.Routes(group)
			}
		})
	}

	return r
}
