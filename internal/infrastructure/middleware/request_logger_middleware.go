package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roadwatch/pkg/logger"
)

// RequestLoggerMiddleware logs one line per request. It must run after
// TracingMiddleware to pick up the trace id.
func RequestLoggerMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	logs := logger.NewContextLogger(log.Desugar())
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logs.LogRequest(c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
		)
	}
}
