package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/lumichat/billing/pkg/logctx"
	"github.com/lumichat/billing/pkg/tool"
)

// TraceMiddleware tags every request with a trace id: the client's
// X-Request-ID when present, a fresh uuid otherwise. The id is stored in
// gin.Context (key "traceID"), the request context and the response header.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Request-ID")
		if traceID == "" {
			traceID = tool.GenerateUUIDV7()
		}

		c.Set("traceID", traceID)
		c.Request = c.Request.WithContext(logctx.WithTraceID(c.Request.Context(), traceID))
		c.Writer.Header().Set("X-Request-ID", traceID)

		c.Next()
	}
}
