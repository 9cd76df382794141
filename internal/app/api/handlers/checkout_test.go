package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lumichat/billing/internal/app/service/checkout"
	"github.com/lumichat/billing/internal/platform/stripeapi"
	"github.com/lumichat/billing/pkg/types"
)

type stubCheckout struct {
	err     error
	lastReq *checkout.Request
}

func (s *stubCheckout) Initiate(_ context.Context, _ types.Identity, req *checkout.Request) (*stripeapi.CheckoutSession, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.lastReq = req
	return &stripeapi.CheckoutSession{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil
}

func (s *stubCheckout) PortalURL(_ context.Context, _ types.Identity) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://billing.example.com/p/1", nil
}

func newCheckoutRouter(stub *stubCheckout) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/v1")
	g.Use(withIdentity(types.Identity{UserID: "u1", Email: "u1@example.com"}))
	RegisterCheckoutRoutes(g, stub)
	return r
}

func postJSON(r *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestApiCreateCheckout(t *testing.T) {
	stub := &stubCheckout{}
	r := newCheckoutRouter(stub)

	w := postJSON(r, "/api/v1/checkout", map[string]any{
		"item_type": "plan", "item_id": "basic",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "https://pay.example.com/cs_1")
	require.Equal(t, types.ItemTypePlan, stub.lastReq.ItemType)
}

func TestApiCreateCheckoutValidation(t *testing.T) {
	r := newCheckoutRouter(&stubCheckout{})

	// missing item_id
	w := postJSON(r, "/api/v1/checkout", map[string]any{"item_type": "plan"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":40000`)

	// item_type outside plan|gift
	w = postJSON(r, "/api/v1/checkout", map[string]any{"item_type": "bundle", "item_id": "x"})
	require.Contains(t, w.Body.String(), `"code":40000`)
}

func TestApiCreateCheckoutUnknownItem(t *testing.T) {
	r := newCheckoutRouter(&stubCheckout{err: checkout.ErrItemNotFound})

	w := postJSON(r, "/api/v1/checkout", map[string]any{"item_type": "plan", "item_id": "nope"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":40400`)
}

func TestApiBillingPortal(t *testing.T) {
	r := newCheckoutRouter(&stubCheckout{})

	w := postJSON(r, "/api/v1/billing-portal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "https://billing.example.com/p/1")
}

func TestRegisterCheckoutRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterCheckoutRoutes(r.Group("/api/v1"), &stubCheckout{})

	routes := r.Routes()
	contains := func(target string) bool {
		for _, rt := range routes {
			if rt.Method+" "+rt.Path == target {
				return true
			}
		}
		return false
	}
	require.True(t, contains("POST /api/v1/checkout"))
	require.True(t, contains("POST /api/v1/billing-portal"))
}
