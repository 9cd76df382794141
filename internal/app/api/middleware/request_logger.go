package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumichat/billing/pkg/logctx"
)

// RequestLoggerMiddleware attaches a request-scoped logger enriched with the
// trace id to gin.Context (key "logger") and the request context.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLogger := base
		if tid := logctx.TraceID(c.Request.Context()); tid != "" {
			reqLogger = base.With("trace_id", tid)
		}

		c.Set("logger", reqLogger)
		c.Request = c.Request.WithContext(logctx.WithLogger(c.Request.Context(), reqLogger))

		c.Next()
	}
}
