package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumichat/billing/internal/app/service/webhookproc"
	"github.com/lumichat/billing/pkg/logctx"

	"go.uber.org/zap"
)

// webhookMaxBody bounds the accepted payload; processor events are small.
const webhookMaxBody = 1 << 20

// WebhookProcessor is the slice of the webhook service this route needs.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, sigHeader string) error
}

// ApiProcessorWebhook answers the payment processor, not browsers: bare
// status codes, no response envelope. A non-2xx asks for redelivery.
func ApiProcessorWebhook(svc WebhookProcessor, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookMaxBody))
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}

		err = svc.Process(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, webhookproc.ErrBadSignature) {
				logctx.FromGin(c, log).Warnw("webhook rejected", "err", err)
				c.Status(http.StatusBadRequest)
				return
			}
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	}
}

func RegisterWebhookRoutes(r gin.IRouter, svc WebhookProcessor, log *zap.SugaredLogger) {
	r.POST("/webhooks/processor", ApiProcessorWebhook(svc, log))
}
