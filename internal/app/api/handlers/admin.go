package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/lumichat/billing/internal/app/api/middleware"
	"github.com/lumichat/billing/internal/app/service/reconciler"
	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/pkg/cache"
	"github.com/lumichat/billing/pkg/logctx"
	"github.com/lumichat/billing/pkg/response"
	"github.com/lumichat/billing/pkg/types"

	"go.uber.org/zap"
)

// PlanGetter resolves a plan id against the catalog.
type PlanGetter interface {
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
}

type PurchaseItem struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	GiftID              string    `json:"gift_id"`
	Quantity            int64     `json:"quantity"`
	PricePaid           float64   `json:"price_paid"`
	ProcessorPaymentRef string    `json:"processor_payment_ref"`
	UsedInChatMessageID *string   `json:"used_in_chat_message_id"`
	PurchasedAt         time.Time `json:"purchased_at"`
}

type listPurchasesResp struct {
	Items []*PurchaseItem `json:"items"`
	Total int64           `json:"total"`
}

func toPurchaseItem(m *models.UserPurchasedGift) *PurchaseItem {
	return &PurchaseItem{
		ID:                  m.ID,
		UserID:              m.UserID,
		GiftID:              m.GiftID,
		Quantity:            m.Quantity,
		PricePaid:           m.PricePaid(),
		ProcessorPaymentRef: m.ProcessorPaymentRef,
		UsedInChatMessageID: m.UsedInChatMessageID,
		PurchasedAt:         m.PurchasedAt,
	}
}

func ApiListPurchases(gifts store.GiftLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req store.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := gifts.Scan(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(listPurchasesResp{
			Items: lo.Map(res.Items, func(m *models.UserPurchasedGift, _ int) *PurchaseItem { return toPurchaseItem(m) }),
			Total: res.Total,
		}))
	}
}

type grantPlanRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	PlanID       string `json:"plan_id" binding:"required"`
	DurationDays int    `json:"duration_days"`
}

// ApiGrantPlan writes a subscription record by operator fiat, outside the
// payment flow. The grant is attributed in the record's extra payload.
func ApiGrantPlan(cat PlanGetter, subs store.Subscriptions, c2 cache.Store, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		operator, _ := middleware.Identity(c)

		var req grantPlanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		plan, err := cat.GetPlan(c.Request.Context(), req.PlanID)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		if plan == nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, "unknown plan"))
			return
		}

		days := req.DurationDays
		if days <= 0 {
			days = plan.DurationDays
		}
		now := time.Now()
		extra, _ := json.Marshal(map[string]string{"granted_by": operator.UserID})
		rec := &models.UserSubscription{
			UserID:      req.UserID,
			PlanID:      req.PlanID,
			Status:      types.SubscriptionStatusActive,
			IsActive:    true,
			PeriodStart: &now,
			Extra:       extra,
		}
		if days > 0 {
			end := now.Add(time.Duration(days) * 24 * time.Hour)
			rec.PeriodEnd = &end
		}
		if err := subs.Upsert(c.Request.Context(), rec); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c2.Delete(reconciler.CacheKey(req.UserID))

		logctx.FromGin(c, log).Infow("plan granted",
			"user_id", req.UserID, "plan_id", req.PlanID, "granted_by", operator.UserID)
		c.JSON(http.StatusOK, response.OKT(rec))
	}
}

type attachGiftRequest struct {
	MessageID string `json:"message_id" binding:"required"`
}

func ApiAttachGiftMessage(gifts store.GiftLedger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req attachGiftRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		err := gifts.AttachMessage(c.Request.Context(), c.Param("id"), req.MessageID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, "unknown purchase"))
				return
			}
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterAdminRoutes(r gin.IRouter, gifts store.GiftLedger, subs store.Subscriptions, cat PlanGetter, c2 cache.Store, log *zap.SugaredLogger) {
	r.POST("/purchases/list", ApiListPurchases(gifts))
	r.POST("/grant", ApiGrantPlan(cat, subs, c2, log))
	r.POST("/gifts/:id/attach", ApiAttachGiftMessage(gifts))
}
