package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumichat/billing/pkg/logctx"

	"go.uber.org/zap"
)

// AccessLogMiddleware logs one line per completed request using the
// request-scoped logger attached by RequestLoggerMiddleware.
func AccessLogMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logctx.FromGin(c, base).Infow("http_access",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}
