package stripeapi

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
	"go.uber.org/fx"

	cfgpkg "github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/types"
)

// Subscription is the processor-side subscription view consumed by the
// reconciler and webhook processor.
type Subscription struct {
	Ref               string
	CustomerRef       string
	Status            string
	PriceRef          string
	UnitAmountCents   int64
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
}

type CheckoutParams struct {
	CustomerRef string
	PriceRef    string
	ItemType    types.ItemType
	Quantity    int64
	SuccessURL  string
	CancelURL   string
	// Metadata is read back verbatim from the completed-checkout webhook;
	// it is the only linkage between a session and its confirmation.
	Metadata map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Client is the payment-processor surface this service consumes. Wrapped
// behind an interface so services can be exercised with fakes.
type Client interface {
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	ListActiveSubscriptions(ctx context.Context, customerRef string, limit int64) ([]*Subscription, error)
	GetSubscription(ctx context.Context, ref string) (*Subscription, error)
	NewCheckoutSession(ctx context.Context, p *CheckoutParams) (*CheckoutSession, error)
	NewBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
}

type apiClient struct {
	api *stripeclient.API
}

func New(cfg *cfgpkg.Config) Client {
	return &apiClient{api: stripeclient.New(cfg.Stripe.SecretKey, nil)}
}

func (c *apiClient) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	iter := c.api.Customers.List(params)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}
	return "", nil
}

func (c *apiClient) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	cus, err := c.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return cus.ID, nil
}

func (c *apiClient) ListActiveSubscriptions(ctx context.Context, customerRef string, limit int64) ([]*Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(limit)
	iter := c.api.Subscriptions.List(params)
	var out []*Subscription
	for iter.Next() {
		out = append(out, FromStripeSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return out, nil
}

func (c *apiClient) GetSubscription(ctx context.Context, ref string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(ref, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", ref, err)
	}
	return FromStripeSubscription(sub), nil
}

func (c *apiClient) NewCheckoutSession(ctx context.Context, p *CheckoutParams) (*CheckoutSession, error) {
	mode := stripe.CheckoutSessionModePayment
	if p.ItemType == types.ItemTypePlan {
		mode = stripe.CheckoutSessionModeSubscription
	}
	qty := p.Quantity
	if qty < 1 {
		qty = 1
	}
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(p.CustomerRef),
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceRef), Quantity: stripe.Int64(qty)},
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (c *apiClient) NewBillingPortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerRef),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// FromStripeSubscription flattens the processor's subscription object into
// the view the reconciler and webhook processor share.
func FromStripeSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		Ref:               s.ID,
		Status:            string(s.Status),
		PeriodStart:       time.Unix(s.CurrentPeriodStart, 0),
		PeriodEnd:         time.Unix(s.CurrentPeriodEnd, 0),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		out.CustomerRef = s.Customer.ID
	}
	if s.CanceledAt > 0 {
		t := time.Unix(s.CanceledAt, 0)
		out.CanceledAt = &t
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		out.PriceRef = s.Items.Data[0].Price.ID
		out.UnitAmountCents = s.Items.Data[0].Price.UnitAmount
	}
	return out
}

var Module = fx.Options(
	fx.Provide(New),
)
