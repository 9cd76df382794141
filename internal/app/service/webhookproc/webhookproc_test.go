package webhookproc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/samber/lo"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumichat/billing/internal/app/service/catalog"
	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/internal/platform/stripeapi"
	"github.com/lumichat/billing/pkg/cache"
	cfgpkg "github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/types"
)

const testSecret = "whsec_test"

// signedPayload builds a raw event body plus a valid signature header for it.
func signedPayload(t *testing.T, eventID, eventType string, object any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"id":          eventID,
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)
	return body, signHeader(body, testSecret, time.Now())
}

func signHeader(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

type fakeProfiles struct {
	profiles map[string]*models.Profile
}

func (f *fakeProfiles) Get(_ context.Context, userID string) (*models.Profile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeProfiles) GetByCustomerRef(_ context.Context, ref string) (*models.Profile, error) {
	for _, p := range f.profiles {
		if p.CustomerRef() == ref {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeProfiles) Ensure(_ context.Context, userID, email string) (*models.Profile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	p := &models.Profile{UserID: userID, Email: email}
	f.profiles[userID] = p
	return p, nil
}

func (f *fakeProfiles) SaveCustomerRef(_ context.Context, userID, email, ref string) error {
	p, ok := f.profiles[userID]
	if !ok {
		p = &models.Profile{UserID: userID, Email: email}
		f.profiles[userID] = p
	}
	p.ProcessorCustomerRef = &ref
	return nil
}

type fakeSubs struct {
	recs map[string]*models.UserSubscription
}

func (f *fakeSubs) Get(_ context.Context, userID string) (*models.UserSubscription, error) {
	if r, ok := f.recs[userID]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeSubs) GetByProcessorRef(_ context.Context, ref string) (*models.UserSubscription, error) {
	for _, r := range f.recs {
		if r.SubscriptionRef() == ref {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeSubs) Upsert(_ context.Context, rec *models.UserSubscription) error {
	f.recs[rec.UserID] = rec
	return nil
}

// fakeGifts mimics the unique payment-ref index: duplicates are no-ops.
type fakeGifts struct {
	rows map[string]*models.UserPurchasedGift
}

func (f *fakeGifts) Insert(_ context.Context, row *models.UserPurchasedGift) error {
	if _, ok := f.rows[row.ProcessorPaymentRef]; ok {
		return nil
	}
	f.rows[row.ProcessorPaymentRef] = row
	return nil
}

func (f *fakeGifts) AttachMessage(_ context.Context, purchaseID, messageID string) error {
	for _, r := range f.rows {
		if r.ID == purchaseID {
			r.UsedInChatMessageID = &messageID
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeGifts) Scan(_ context.Context, _ *store.ScanRequest) (*store.ScanResponse[*models.UserPurchasedGift], error) {
	return &store.ScanResponse[*models.UserPurchasedGift]{}, nil
}

type fakeCatalogStore struct{}

func (fakeCatalogStore) ListPlans(_ context.Context) ([]*models.Plan, error) {
	return []*models.Plan{
		{ID: types.PlanBasic, PriceCents: 2990, ProcessorPriceRef: lo.ToPtr("price_basic")},
		{ID: types.PlanPremium, PriceCents: 9900, ProcessorPriceRef: lo.ToPtr("price_prem")},
	}, nil
}

func (fakeCatalogStore) ListGifts(_ context.Context) ([]*models.Gift, error) { return nil, nil }

type fakeProcessor struct {
	stripeapi.Client

	sub    *stripeapi.Subscription
	subErr error
}

func (f *fakeProcessor) GetSubscription(_ context.Context, _ string) (*stripeapi.Subscription, error) {
	return f.sub, f.subErr
}

type fixture struct {
	svc      *Service
	profiles *fakeProfiles
	subs     *fakeSubs
	gifts    *fakeGifts
	proc     *fakeProcessor
	cache    cache.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &cfgpkg.Config{
		Stripe: cfgpkg.StripeConfig{WebhookSecret: testSecret},
		Cache:  cfgpkg.CacheConfig{CatalogTTL: time.Hour, SubscriptionTTL: 5 * time.Minute},
	}
	log := zap.NewNop().Sugar()
	c := cache.NewMemory()
	f := &fixture{
		profiles: &fakeProfiles{profiles: map[string]*models.Profile{}},
		subs:     &fakeSubs{recs: map[string]*models.UserSubscription{}},
		gifts:    &fakeGifts{rows: map[string]*models.UserPurchasedGift{}},
		proc:     &fakeProcessor{},
		cache:    c,
	}
	cat := catalog.NewService(cfg, fakeCatalogStore{}, c, log)
	f.svc = NewService(cfg, f.profiles, f.subs, f.gifts, cat, f.proc, c, nil, nil, log)
	return f
}

func TestProcessRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	body, _ := signedPayload(t, "evt_1", "checkout.session.completed", map[string]any{"id": "cs_1"})

	err := f.svc.Process(context.Background(), body, signHeader(body, "whsec_wrong", time.Now()))
	require.ErrorIs(t, err, ErrBadSignature)

	err = f.svc.Process(context.Background(), body, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestGiftPurchaseIdempotent(t *testing.T) {
	f := newFixture(t)
	session := map[string]any{
		"id":             "cs_1",
		"customer":       "cus_1",
		"payment_intent": "pi_1",
		"amount_total":   1000,
		"metadata": map[string]string{
			"user_id":   "u1",
			"item_type": "gift",
			"item_id":   "rose",
			"quantity":  "2",
		},
	}
	body, sig := signedPayload(t, "evt_1", "checkout.session.completed", session)

	require.NoError(t, f.svc.Process(context.Background(), body, sig))
	require.Len(t, f.gifts.rows, 1)
	row := f.gifts.rows["pi_1"]
	require.Equal(t, "u1", row.UserID)
	require.Equal(t, "rose", row.GiftID)
	require.EqualValues(t, 2, row.Quantity)
	require.EqualValues(t, 1000, row.PricePaidCents)
	require.Equal(t, 10.0, row.PricePaid())

	// redelivery of the same session adds nothing
	body2, sig2 := signedPayload(t, "evt_2", "checkout.session.completed", session)
	require.NoError(t, f.svc.Process(context.Background(), body2, sig2))
	require.Len(t, f.gifts.rows, 1)
}

func TestPlanCheckoutRecorded(t *testing.T) {
	f := newFixture(t)
	end := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	f.proc.sub = &stripeapi.Subscription{
		Ref:         "sub_1",
		CustomerRef: "cus_1",
		Status:      "active",
		PriceRef:    "price_prem",
		PeriodEnd:   end,
	}
	f.cache.Set("subscription:u1", types.PlanInfo{PlanID: types.PlanFree}, time.Minute)

	body, sig := signedPayload(t, "evt_1", "checkout.session.completed", map[string]any{
		"id":           "cs_1",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata": map[string]string{
			"user_id":   "u1",
			"item_type": "plan",
			"item_id":   "premium",
			"quantity":  "1",
		},
	})
	require.NoError(t, f.svc.Process(context.Background(), body, sig))

	rec := f.subs.recs["u1"]
	require.NotNil(t, rec)
	require.Equal(t, types.PlanPremium, rec.PlanID)
	require.True(t, rec.IsActive)
	require.Equal(t, "sub_1", rec.SubscriptionRef())
	require.Equal(t, "cus_1", f.profiles.profiles["u1"].CustomerRef())

	// the cached plan answer is invalidated
	_, ok := f.cache.Get("subscription:u1")
	require.False(t, ok)
}

func TestPlanCheckoutRedeliveryConverges(t *testing.T) {
	f := newFixture(t)
	end := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second)
	f.proc.sub = &stripeapi.Subscription{
		Ref:         "sub_1",
		CustomerRef: "cus_1",
		Status:      "active",
		PriceRef:    "price_prem",
		PeriodEnd:   end,
	}
	session := map[string]any{
		"id":           "cs_1",
		"customer":     "cus_1",
		"subscription": "sub_1",
		"metadata": map[string]string{
			"user_id":   "u1",
			"item_type": "plan",
			"item_id":   "premium",
			"quantity":  "1",
		},
	}

	body, sig := signedPayload(t, "evt_1", "checkout.session.completed", session)
	require.NoError(t, f.svc.Process(context.Background(), body, sig))
	require.Len(t, f.subs.recs, 1)
	single := *f.subs.recs["u1"]

	// the processor may redeliver the same session; the user_id-keyed upsert
	// must converge on the single-delivery state, not stack a second record
	body2, sig2 := signedPayload(t, "evt_2", "checkout.session.completed", session)
	require.NoError(t, f.svc.Process(context.Background(), body2, sig2))
	require.Len(t, f.subs.recs, 1)
	require.Equal(t, single, *f.subs.recs["u1"])
}

func TestInvoiceFailedKeepsGracePeriod(t *testing.T) {
	f := newFixture(t)
	f.subs.recs["u1"] = &models.UserSubscription{
		UserID:                   "u1",
		PlanID:                   types.PlanBasic,
		Status:                   types.SubscriptionStatusActive,
		IsActive:                 true,
		ProcessorSubscriptionRef: lo.ToPtr("sub_1"),
	}

	body, sig := signedPayload(t, "evt_1", "invoice.payment_failed", map[string]any{
		"id":           "in_1",
		"customer":     "cus_1",
		"subscription": "sub_1",
	})
	require.NoError(t, f.svc.Process(context.Background(), body, sig))

	rec := f.subs.recs["u1"]
	require.Equal(t, types.SubscriptionStatusPastDue, rec.Status)
	require.True(t, rec.IsActive) // not cut off until the processor cancels
}

func TestInvoicePaidRefreshesRecord(t *testing.T) {
	f := newFixture(t)
	f.subs.recs["u1"] = &models.UserSubscription{
		UserID:                   "u1",
		PlanID:                   types.PlanBasic,
		Status:                   types.SubscriptionStatusPastDue,
		IsActive:                 true,
		ProcessorSubscriptionRef: lo.ToPtr("sub_1"),
	}
	f.proc.sub = &stripeapi.Subscription{
		Ref:         "sub_1",
		CustomerRef: "cus_1",
		Status:      "active",
		PriceRef:    "price_basic",
	}

	body, sig := signedPayload(t, "evt_1", "invoice.payment_succeeded", map[string]any{
		"id":           "in_1",
		"customer":     "cus_1",
		"subscription": "sub_1",
	})
	require.NoError(t, f.svc.Process(context.Background(), body, sig))

	rec := f.subs.recs["u1"]
	require.Equal(t, types.SubscriptionStatusActive, rec.Status)
	require.True(t, rec.IsActive)
}

func TestSubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	f.subs.recs["u1"] = &models.UserSubscription{
		UserID:                   "u1",
		PlanID:                   types.PlanPremium,
		Status:                   types.SubscriptionStatusActive,
		IsActive:                 true,
		ProcessorSubscriptionRef: lo.ToPtr("sub_1"),
	}
	canceledAt := time.Now().Add(-time.Hour).Unix()

	body, sig := signedPayload(t, "evt_1", "customer.subscription.deleted", map[string]any{
		"id":          "sub_1",
		"customer":    "cus_1",
		"status":      "canceled",
		"canceled_at": canceledAt,
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": "price_prem", "unit_amount": 9900}},
			},
		},
	})
	require.NoError(t, f.svc.Process(context.Background(), body, sig))

	rec := f.subs.recs["u1"]
	require.Equal(t, types.SubscriptionStatusCanceled, rec.Status)
	require.False(t, rec.IsActive)
	require.NotNil(t, rec.EndDate)
	require.Equal(t, time.Unix(canceledAt, 0), *rec.EndDate)
}

func TestSubscriptionUpdatedResolvesByCustomer(t *testing.T) {
	f := newFixture(t)
	// no local record keyed by sub ref, but the customer mapping is known
	f.profiles.profiles["u1"] = &models.Profile{UserID: "u1", ProcessorCustomerRef: lo.ToPtr("cus_1")}

	body, sig := signedPayload(t, "evt_1", "customer.subscription.updated", map[string]any{
		"id":       "sub_9",
		"customer": "cus_1",
		"status":   "past_due",
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"id": "price_basic", "unit_amount": 2990}},
			},
		},
	})
	require.NoError(t, f.svc.Process(context.Background(), body, sig))

	rec := f.subs.recs["u1"]
	require.NotNil(t, rec)
	require.Equal(t, types.PlanBasic, rec.PlanID)
	require.Equal(t, types.SubscriptionStatusPastDue, rec.Status)
	require.True(t, rec.IsActive)
}

func TestUnattributableEventsAreAcked(t *testing.T) {
	f := newFixture(t)

	// checkout session with no metadata and an unknown customer
	body, sig := signedPayload(t, "evt_1", "checkout.session.completed", map[string]any{
		"id": "cs_1", "customer": "cus_unknown",
	})
	require.NoError(t, f.svc.Process(context.Background(), body, sig))
	require.Empty(t, f.subs.recs)
	require.Empty(t, f.gifts.rows)

	// unknown event type
	body, sig = signedPayload(t, "evt_2", "charge.refunded", map[string]any{"id": "ch_1"})
	require.NoError(t, f.svc.Process(context.Background(), body, sig))
}

func TestHandlerErrorAsksForRedelivery(t *testing.T) {
	f := newFixture(t)
	f.subs.recs["u1"] = &models.UserSubscription{
		UserID:                   "u1",
		ProcessorSubscriptionRef: lo.ToPtr("sub_1"),
	}
	f.proc.subErr = errors.New("processor unavailable")

	body, sig := signedPayload(t, "evt_1", "invoice.payment_succeeded", map[string]any{
		"id": "in_1", "customer": "cus_1", "subscription": "sub_1",
	})
	require.Error(t, f.svc.Process(context.Background(), body, sig))
}

func TestSubscriptionActiveMapping(t *testing.T) {
	cases := []struct {
		status types.SubscriptionStatus
		want   bool
	}{
		{types.SubscriptionStatusActive, true},
		{types.SubscriptionStatusTrialing, true},
		{types.SubscriptionStatusPastDue, true},
		{types.SubscriptionStatusCanceled, false},
		{types.SubscriptionStatusInactive, false},
		{"unpaid", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, subscriptionActive(tc.status), string(tc.status))
	}
}
