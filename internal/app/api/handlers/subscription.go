package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumichat/billing/internal/app/api/middleware"
	"github.com/lumichat/billing/pkg/response"
	"github.com/lumichat/billing/pkg/types"
)

// PlanResolver is the slice of the reconciler these routes need.
type PlanResolver interface {
	GetCurrentPlan(ctx context.Context, id types.Identity, forceRefresh bool) types.PlanInfo
	CanUseFeature(ctx context.Context, id types.Identity, feature types.Feature) bool
}

type featureResp struct {
	Feature types.Feature `json:"feature"`
	Allowed bool          `json:"allowed"`
}

func ApiGetSubscription(rec PlanResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.Identity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		refresh := c.Query("refresh") == "1"
		info := rec.GetCurrentPlan(c.Request.Context(), id, refresh)
		c.JSON(http.StatusOK, response.OKT(info))
	}
}

func ApiCheckFeature(rec PlanResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.Identity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}
		feature := types.Feature(c.Param("feature"))
		switch feature {
		case types.FeatureAudio, types.FeatureVoice, types.FeatureVideo:
		default:
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "unknown feature"))
			return
		}
		allowed := rec.CanUseFeature(c.Request.Context(), id, feature)
		c.JSON(http.StatusOK, response.OKT(featureResp{Feature: feature, Allowed: allowed}))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, rec PlanResolver) {
	r.GET("/subscription", ApiGetSubscription(rec))
	r.GET("/subscription/feature/:feature", ApiCheckFeature(rec))
}
