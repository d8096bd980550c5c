package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"roadwatch/internal/core/ports"
	"roadwatch/internal/infrastructure/middleware"
	"roadwatch/internal/infrastructure/monitoring"
)

type RouterConfig struct {
	RateLimit middleware.RateLimitConfig
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// NewRouter wires the query API, health endpoints, metrics and the optional
// display websocket.
func NewRouter(
	cfg RouterConfig,
	api ports.HTTPHandler,
	health *monitoring.HealthChecker,
	display ports.DisplayHandler,
	logger *zap.SugaredLogger,
) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger),
		middleware.ErrorHandlerMiddleware(logger),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": monitoring.StatusHealthy})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	limited := router.Group("/", middleware.NewHTTPRateLimitMiddleware(cfg.RateLimit))
	v1 := limited.Group("/api/v1")
	{
		v1.GET("/stream/status", api.GetStreamStatus)
		v1.GET("/results/latest", api.GetLatestResult)
		v1.GET("/results", api.ListResults)
		v1.GET("/tracks", api.ListTracks)
		v1.GET("/stats", api.GetRunStats)
	}

	if display != nil {
		router.GET("/ws/display", display.HandleConnection)
	}
	return router
}
