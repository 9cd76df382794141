package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumichat/billing/pkg/logctx"
)

func TestTraceMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceMiddleware(), RequestLoggerMiddleware(zap.NewNop().Sugar()))

	var gotTrace string
	var gotLogger bool
	r.GET("/ping", func(c *gin.Context) {
		gotTrace = logctx.TraceID(c.Request.Context())
		gotLogger = logctx.FromGin(c, nil) != nil
		c.Status(http.StatusOK)
	})

	// client-provided id is kept and mirrored back
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "trace-123", gotTrace)
	require.Equal(t, "trace-123", w.Header().Get("X-Request-ID"))
	require.True(t, gotLogger)

	// absent id gets generated
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NotEmpty(t, gotTrace)
	require.Equal(t, gotTrace, w.Header().Get("X-Request-ID"))
}
