package router

import (
	"time"

	"github.com/erp/stockvaluation/internal/infrastructure/config"
	"github.com/erp/stockvaluation/internal/infrastructure/logger"
	"github.com/erp/stockvaluation/internal/infrastructure/telemetry"
	"github.com/erp/stockvaluation/internal/interfaces/http/handler"
	"github.com/erp/stockvaluation/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EngineConfig holds what NewEngine needs besides the handlers
type EngineConfig struct {
	ServiceName    string
	HTTP           config.HTTPConfig
	TracingEnabled bool
	// Meter is optional; nil disables HTTP metrics
	Meter  *telemetry.MeterProvider
	Logger *zap.Logger
}

// Handlers are the HTTP handlers mounted by NewEngine
type Handlers struct {
	Valuation *handler.ValuationHandler
	Admin     *handler.AdminHandler
	System    *handler.SystemHandler
}

// NewEngine builds the gin engine with the middleware stack in order:
// recovery, request logging, tracing, metrics, security headers, CORS,
// body limit, rate limit and company scoping.
func NewEngine(cfg EngineConfig, h Handlers) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.ServiceName,
		Enabled:     cfg.TracingEnabled,
	}))
	engine.Use(middleware.HTTPMetrics(cfg.Meter, log))
	engine.Use(middleware.Secure(middleware.DefaultSecurityConfig()))
	engine.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  cfg.HTTP.CORSAllowOrigins,
		AllowMethods:  cfg.HTTP.CORSAllowMethods,
		AllowHeaders:  cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders: []string{logger.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:        12 * time.Hour,
	}))
	if cfg.HTTP.MaxBodySize > 0 {
		engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	}
	if cfg.HTTP.RateLimitRPS > 0 {
		engine.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)))
		log.Info("Rate limiting enabled",
			zap.Float64("rps", cfg.HTTP.RateLimitRPS),
			zap.Int("burst", cfg.HTTP.RateLimitBurst),
		)
	}

	if h.System != nil {
		engine.GET("/health", h.System.Health)
	}

	scope := middleware.DefaultCompanyScopeConfig()
	scope.Logger = log
	r := NewRouter(engine, WithAPIVersion("v1")).
		Use(middleware.CompanyScope(scope), middleware.SpanEnricher())
	if h.Valuation != nil {
		r.Register(ValuationRoutes(h.Valuation, h.Admin))
	}
	if h.System != nil {
		r.Register(SystemRoutes(h.System))
	}
	r.Setup()

	return engine
}
