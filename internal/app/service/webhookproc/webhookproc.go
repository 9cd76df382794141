package webhookproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/samber/lo"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/lumichat/billing/internal/app/service/catalog"
	"github.com/lumichat/billing/internal/app/service/eventlog"
	"github.com/lumichat/billing/internal/app/service/reconciler"
	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/internal/platform/stripeapi"
	"github.com/lumichat/billing/pkg/cache"
	cfgpkg "github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/logctx"
	"github.com/lumichat/billing/pkg/metrics"
	"github.com/lumichat/billing/pkg/types"
)

// ErrBadSignature means the payload failed signature verification and must be
// rejected without processing.
var ErrBadSignature = errors.New("webhook signature verification failed")

// Verifier checks the payload signature and parses the event. Injectable so
// handler logic can be exercised without real signing material.
type Verifier func(payload []byte, sigHeader, secret string) (stripe.Event, error)

// Service turns verified processor events into local state transitions. Every
// write is an idempotent upsert keyed on processor refs, so redelivered and
// out-of-order events converge instead of double-applying.
type Service struct {
	cfg       *cfgpkg.Config
	profiles  store.Profiles
	subs      store.Subscriptions
	gifts     store.GiftLedger
	catalog   *catalog.Service
	processor stripeapi.Client
	cache     cache.Store
	events    *eventlog.Service
	prom      *metrics.Prometheus
	log       *zap.SugaredLogger
	verify    Verifier
	now       func() time.Time
}

func NewService(
	cfg *cfgpkg.Config,
	profiles store.Profiles,
	subs store.Subscriptions,
	gifts store.GiftLedger,
	cat *catalog.Service,
	processor stripeapi.Client,
	c cache.Store,
	events *eventlog.Service,
	prom *metrics.Prometheus,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		cfg:       cfg,
		profiles:  profiles,
		subs:      subs,
		gifts:     gifts,
		catalog:   cat,
		processor: processor,
		cache:     c,
		events:    events,
		prom:      prom,
		log:       log,
		verify:    webhook.ConstructEvent,
		now:       time.Now,
	}
}

// Process verifies and applies one raw webhook delivery. A nil return means
// the event is fully applied (or deliberately ignored) and may be acked; an
// error return asks the processor to redeliver.
func (s *Service) Process(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.verify(payload, sigHeader, s.cfg.Stripe.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	log := logctx.FromCtx(ctx, s.log)

	if s.events != nil {
		s.events.Save(ctx, &models.WebhookEventLog{
			EventID:   event.ID,
			EventType: string(event.Type),
			Payload:   datatypes.JSON(payload),
			Status:    models.WebhookEventLogStatusReceived,
		})
	}

	userID, err := s.dispatch(ctx, event)
	outcome := "handled"
	status := models.WebhookEventLogStatusHandled
	if err != nil {
		outcome = "failed"
		status = models.WebhookEventLogStatusHandleFailed
		log.Errorw("webhook handling failed", "event_id", event.ID, "event_type", event.Type, "err", err)
	} else if userID == "" {
		outcome = "ignored"
	}

	if s.prom != nil {
		s.prom.WebhookEvents.WithLabelValues(string(event.Type), outcome).Inc()
	}
	if s.events != nil {
		entry := &models.WebhookEventLog{
			EventID:   event.ID,
			EventType: string(event.Type),
			Status:    status,
		}
		if userID != "" {
			entry.UserID = &userID
		}
		if err != nil {
			res := datatypes.JSON(fmt.Sprintf(`{"error":%q}`, err.Error()))
			entry.Result = &res
		}
		s.events.Save(ctx, entry)
	}
	if err != nil {
		return err
	}

	if userID != "" {
		// the cached plan answer is stale the moment state changed
		s.cache.Delete(reconciler.CacheKey(userID))
		log.Infow("webhook applied", "event_id", event.ID, "event_type", event.Type, "user_id", userID)
	}
	return nil
}

// dispatch routes one verified event. It returns the affected account id, or
// empty when the event is ignored or could not be attributed.
func (s *Service) dispatch(ctx context.Context, event stripe.Event) (string, error) {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded":
		return s.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		return s.handleInvoiceFailed(ctx, event)
	case "customer.subscription.updated":
		return s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		// unknown types are acked so the processor stops redelivering them
		return "", nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (string, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", fmt.Errorf("decode checkout session: %w", err)
	}

	userID := sess.Metadata["user_id"]
	if userID == "" && sess.Customer != nil {
		if p, err := s.profiles.GetByCustomerRef(ctx, sess.Customer.ID); err == nil {
			userID = p.UserID
		}
	}
	if userID == "" {
		logctx.FromCtx(ctx, s.log).Warnw("checkout session has no resolvable account",
			"session_id", sess.ID)
		return "", nil
	}

	if sess.Customer != nil {
		email := sess.CustomerEmail
		if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
			email = sess.CustomerDetails.Email
		}
		if err := s.profiles.SaveCustomerRef(ctx, userID, email, sess.Customer.ID); err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("customer ref save failed", "err", err)
		}
	}

	switch types.ItemType(sess.Metadata["item_type"]) {
	case types.ItemTypeGift:
		return userID, s.recordGiftPurchase(ctx, userID, &sess)
	default:
		// plan checkout, or legacy sessions without item_type metadata
		return userID, s.recordPlanCheckout(ctx, userID, &sess)
	}
}

func (s *Service) recordGiftPurchase(ctx context.Context, userID string, sess *stripe.CheckoutSession) error {
	qty, _ := strconv.ParseInt(sess.Metadata["quantity"], 10, 64)
	if qty < 1 {
		qty = 1
	}
	paymentRef := sess.ID
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		paymentRef = sess.PaymentIntent.ID
	}
	row := &models.UserPurchasedGift{
		UserID:              userID,
		GiftID:              sess.Metadata["item_id"],
		Quantity:            qty,
		PricePaidCents:      sess.AmountTotal,
		ProcessorPaymentRef: paymentRef,
		PurchasedAt:         s.now(),
	}
	if err := s.gifts.Insert(ctx, row); err != nil {
		return fmt.Errorf("record gift purchase: %w", err)
	}
	return nil
}

func (s *Service) recordPlanCheckout(ctx context.Context, userID string, sess *stripe.CheckoutSession) error {
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		logctx.FromCtx(ctx, s.log).Warnw("plan checkout session without subscription", "session_id", sess.ID)
		return nil
	}

	// the plan id rides the session metadata round-trip; the price mapping is
	// only a fallback for sessions created without it
	planID := sess.Metadata["item_id"]

	// the session itself does not carry period data; fetch live state
	live, err := s.processor.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		if planID == "" {
			return fmt.Errorf("load subscription %s: %w", sess.Subscription.ID, err)
		}
		// degrade to the metadata plan so the paid account is not left on free
		logctx.FromCtx(ctx, s.log).Warnw("subscription fetch failed, recording from session metadata",
			"subscription_ref", sess.Subscription.ID, "err", err)
		rec := &models.UserSubscription{
			UserID:                   userID,
			PlanID:                   planID,
			Status:                   types.SubscriptionStatusActive,
			IsActive:                 true,
			ProcessorSubscriptionRef: lo.ToPtr(sess.Subscription.ID),
		}
		if sess.Customer != nil {
			rec.ProcessorCustomerRef = lo.ToPtr(sess.Customer.ID)
		}
		return s.subs.Upsert(ctx, rec)
	}
	if planID == "" {
		planID = s.planFor(ctx, live)
	}
	return s.upsertWithPlan(ctx, userID, planID, live)
}

func (s *Service) handleInvoicePaid(ctx context.Context, event stripe.Event) (string, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return "", fmt.Errorf("decode invoice: %w", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// one-off invoice, nothing subscription-side to update
		return "", nil
	}

	userID := s.resolveAccount(ctx, inv.Subscription.ID, customerID(inv.Customer))
	if userID == "" {
		logctx.FromCtx(ctx, s.log).Warnw("paid invoice has no resolvable account",
			"invoice_id", inv.ID, "subscription_ref", inv.Subscription.ID)
		return "", nil
	}

	live, err := s.processor.GetSubscription(ctx, inv.Subscription.ID)
	if err != nil {
		return userID, fmt.Errorf("load subscription %s: %w", inv.Subscription.ID, err)
	}
	return userID, s.upsertFromProcessor(ctx, userID, live)
}

func (s *Service) handleInvoiceFailed(ctx context.Context, event stripe.Event) (string, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return "", fmt.Errorf("decode invoice: %w", err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return "", nil
	}

	rec, err := s.subs.GetByProcessorRef(ctx, inv.Subscription.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logctx.FromCtx(ctx, s.log).Warnw("failed invoice for unknown subscription",
				"invoice_id", inv.ID, "subscription_ref", inv.Subscription.ID)
			return "", nil
		}
		return "", err
	}

	// grace period: the account stays active until the processor cancels
	rec.Status = types.SubscriptionStatusPastDue
	if err := s.subs.Upsert(ctx, rec); err != nil {
		return rec.UserID, fmt.Errorf("mark past due: %w", err)
	}
	return rec.UserID, nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) (string, error) {
	live, userID, err := s.decodeSubscriptionEvent(ctx, event)
	if err != nil || userID == "" {
		return userID, err
	}
	return userID, s.upsertFromProcessor(ctx, userID, live)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) (string, error) {
	live, userID, err := s.decodeSubscriptionEvent(ctx, event)
	if err != nil || userID == "" {
		return userID, err
	}

	endDate := s.now()
	if live.CanceledAt != nil {
		endDate = *live.CanceledAt
	}
	rec := &models.UserSubscription{
		UserID:                   userID,
		PlanID:                   s.planFor(ctx, live),
		Status:                   types.SubscriptionStatusCanceled,
		IsActive:                 false,
		ProcessorCustomerRef:     lo.ToPtr(live.CustomerRef),
		ProcessorSubscriptionRef: lo.ToPtr(live.Ref),
		PeriodStart:              lo.ToPtr(live.PeriodStart),
		PeriodEnd:                lo.ToPtr(live.PeriodEnd),
		EndDate:                  &endDate,
	}
	if err := s.subs.Upsert(ctx, rec); err != nil {
		return userID, fmt.Errorf("record cancellation: %w", err)
	}
	return userID, nil
}

func (s *Service) decodeSubscriptionEvent(ctx context.Context, event stripe.Event) (*stripeapi.Subscription, string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, "", fmt.Errorf("decode subscription: %w", err)
	}
	live := stripeapi.FromStripeSubscription(&sub)

	userID := s.resolveAccount(ctx, live.Ref, live.CustomerRef)
	if userID == "" {
		logctx.FromCtx(ctx, s.log).Warnw("subscription event has no resolvable account",
			"event_id", event.ID, "subscription_ref", live.Ref)
	}
	return live, userID, nil
}

// resolveAccount attributes a subscription event to an account: the local
// record keyed by subscription ref first, then the customer mapping.
func (s *Service) resolveAccount(ctx context.Context, subscriptionRef, customerRef string) string {
	if rec, err := s.subs.GetByProcessorRef(ctx, subscriptionRef); err == nil {
		return rec.UserID
	}
	if customerRef != "" {
		if p, err := s.profiles.GetByCustomerRef(ctx, customerRef); err == nil {
			return p.UserID
		}
	}
	return ""
}

func (s *Service) upsertFromProcessor(ctx context.Context, userID string, live *stripeapi.Subscription) error {
	return s.upsertWithPlan(ctx, userID, s.planFor(ctx, live), live)
}

func (s *Service) upsertWithPlan(ctx context.Context, userID, planID string, live *stripeapi.Subscription) error {
	status := types.SubscriptionStatus(live.Status)
	rec := &models.UserSubscription{
		UserID:                   userID,
		PlanID:                   planID,
		Status:                   status,
		IsActive:                 subscriptionActive(status),
		ProcessorCustomerRef:     lo.ToPtr(live.CustomerRef),
		ProcessorSubscriptionRef: lo.ToPtr(live.Ref),
		PeriodStart:              lo.ToPtr(live.PeriodStart),
		PeriodEnd:                lo.ToPtr(live.PeriodEnd),
	}
	if err := s.subs.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upsert subscription record: %w", err)
	}
	return nil
}

func (s *Service) planFor(ctx context.Context, live *stripeapi.Subscription) string {
	planID, _ := s.catalog.ResolvePlanForPrice(ctx, live.PriceRef, live.UnitAmountCents)
	return planID
}

// subscriptionActive maps processor statuses onto the local is_active flag.
// past_due stays active: the grace period ends when the processor cancels.
func subscriptionActive(status types.SubscriptionStatus) bool {
	switch status {
	case types.SubscriptionStatusActive, types.SubscriptionStatusTrialing, types.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
