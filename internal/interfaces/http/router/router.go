package router

import (
	"net/http"
	"time"

	"github.com/erp/shipmerge/internal/infrastructure/logger"
	"github.com/erp/shipmerge/internal/interfaces/http/dto"
	"github.com/erp/shipmerge/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	root       []RouteRegistrar
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a RouteRegistrar mounted under /api/{version}
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// RegisterRoot adds a RouteRegistrar mounted at the engine root.
// Platform callbacks use fixed paths outside the versioned API.
func (r *Router) RegisterRoot(registrar RouteRegistrar) *Router {
	r.root = append(r.root, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	for _, registrar := range r.root {
		registrar.RegisterRoutes(&r.engine.RouterGroup)
	}

	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dto.NewErrorResponse(dto.ErrCodeNotFound, "Route not found"))
	})
}

// EngineConfig configures the middleware stack built by NewEngine
type EngineConfig struct {
	ServiceName    string
	Tracing        bool
	MaxBodySize    int64
	RequestTimeout time.Duration
	TrustedProxies []string
}

// NewEngine creates a gin engine with the standard middleware chain:
// recovery, request id, tracing, span error marking, request logging,
// body limit and request timeout.
func NewEngine(cfg EngineConfig, log *zap.Logger) (*gin.Engine, error) {
	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(logger.Recovery(log))
	engine.Use(middleware.RequestID())
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.ServiceName,
		Enabled:     cfg.Tracing,
	}))
	engine.Use(middleware.TracingAttributeInjector())
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(logger.GinMiddleware(log))
	if cfg.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodySize))
	}
	engine.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	return engine, nil
}
