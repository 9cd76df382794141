package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/pkg/response"
)

// CatalogReader is the slice of the catalog service these routes need.
type CatalogReader interface {
	ListPlans(ctx context.Context) ([]*models.Plan, error)
	ListGifts(ctx context.Context) ([]*models.Gift, error)
}

func ApiListPlans(cat CatalogReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		plans, err := cat.ListPlans(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(plans))
	}
}

func ApiListGifts(cat CatalogReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		gifts, err := cat.ListGifts(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(gifts))
	}
}

func RegisterCatalogRoutes(r gin.IRouter, cat CatalogReader) {
	r.GET("/catalog/plans", ApiListPlans(cat))
	r.GET("/catalog/gifts", ApiListGifts(cat))
}
