package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumichat/billing/internal/app/api/middleware"
	"github.com/lumichat/billing/internal/app/service/checkout"
	"github.com/lumichat/billing/internal/platform/stripeapi"
	"github.com/lumichat/billing/pkg/response"
	"github.com/lumichat/billing/pkg/types"
)

// CheckoutInitiator is the slice of the checkout service these routes need.
type CheckoutInitiator interface {
	Initiate(ctx context.Context, id types.Identity, req *checkout.Request) (*stripeapi.CheckoutSession, error)
	PortalURL(ctx context.Context, id types.Identity) (string, error)
}

type checkoutResp struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type portalResp struct {
	URL string `json:"url"`
}

func ApiCreateCheckout(svc CheckoutInitiator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.Identity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		var req checkout.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		sess, err := svc.Initiate(c.Request.Context(), id, &req)
		if err != nil {
			switch {
			case errors.Is(err, checkout.ErrItemNotFound):
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
			case errors.Is(err, checkout.ErrNotConfigured):
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			default:
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			}
			return
		}
		c.JSON(http.StatusOK, response.OKT(checkoutResp{SessionID: sess.ID, URL: sess.URL}))
	}
}

func ApiBillingPortal(svc CheckoutInitiator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.Identity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		url, err := svc.PortalURL(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, checkout.ErrNoCustomer) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, err.Error()))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(portalResp{URL: url}))
	}
}

func RegisterCheckoutRoutes(r gin.IRouter, svc CheckoutInitiator) {
	r.POST("/checkout", ApiCreateCheckout(svc))
	r.POST("/billing-portal", ApiBillingPortal(svc))
}
