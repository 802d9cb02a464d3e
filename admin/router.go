// Package admin serves the operator HTTP API for the cache: health, metrics,
// warming, invalidation, raw key access, optimization and circuit breakers.
package admin

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/optimizer"
	"github.com/learnwise/cachecore/resilience"
	"github.com/learnwise/cachecore/services"
	"github.com/learnwise/cachecore/warming"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the components the router exposes. Nil optional
// components make their endpoints answer 503.
type Dependencies struct {
	Store      *cache.Store
	Scheduler  *warming.Scheduler
	Optimizer  *optimizer.Engine
	Controller *resilience.Controller
	Sessions   *services.SessionCache
	Trading    *services.TradingCache
	Courses    *services.CourseCache

	// Gatherer backs GET /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// IsAdmin gates the operator endpoints. Nil denies every request.
	IsAdmin func(*http.Request) bool
	// Context outlives requests; the warming scheduler started over HTTP
	// runs under it.
	Context context.Context
	Logger  logger.Logger
}

type handler struct {
	Dependencies
	logger logger.Logger
}

// NewRouter returns the admin API.
func NewRouter(d Dependencies) http.Handler {
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Logger == nil {
		d.Logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	h := &handler{Dependencies: d, logger: logger.WithComponent(d.Logger, "admin")}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(RequestLogger(logger.ToZap(h.logger)))

	router.Get("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	router.Route("/cache", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/metrics", h.metrics)
		r.Get("/dashboard", h.dashboard)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin(d.IsAdmin))

			r.Post("/metrics/reset", h.resetMetrics)

			r.Route("/warming", func(r chi.Router) {
				r.Use(h.need(d.Scheduler != nil, "warming scheduler"))
				r.Get("/", h.warmingStatus)
				r.Post("/start", h.startWarming)
				r.Post("/stop", h.stopWarming)
				r.Post("/{strategy}", h.triggerWarming)
			})

			r.Route("/invalidate", func(r chi.Router) {
				r.Use(h.connected)
				r.Delete("/pattern", h.invalidatePattern)
				r.Delete("/tag/{tag}", h.invalidateTag)
				r.With(h.need(d.Sessions != nil, "session cache")).Delete("/user/{userID}", h.invalidateUser)
				r.With(h.need(d.Trading != nil, "trading cache")).Delete("/trading/{symbol}", h.invalidateSymbol)
				r.With(h.need(d.Courses != nil, "course cache")).Delete("/course/{courseID}", h.invalidateCourse)
			})

			r.Route("/keys", func(r chi.Router) {
				r.Use(h.connected)
				r.Get("/", h.listKeys)
				r.Get("/{key}", h.getKey)
				r.Delete("/{key}", h.deleteKey)
			})
			r.With(h.connected).Delete("/clear", h.clear)

			r.Route("/optimization", func(r chi.Router) {
				r.Use(h.need(d.Optimizer != nil, "optimizer"))
				r.Get("/recommendations", h.recommendations)
				r.Get("/config", h.optimizationConfig)
				r.Put("/config", h.updateOptimizationConfig)
				r.Post("/trigger", h.triggerOptimization)
				r.Get("/history", h.optimizationHistory)
			})

			r.Route("/fallback", func(r chi.Router) {
				r.Use(h.need(d.Controller != nil, "fallback controller"))
				r.Get("/strategies", h.fallbackStrategies)
				r.Get("/circuit-breakers", h.circuitBreakers)
				r.Post("/circuit-breakers/{name}/reset", h.resetCircuitBreaker)
			})
		})
	})
	return router
}
