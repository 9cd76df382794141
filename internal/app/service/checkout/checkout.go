package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/lumichat/billing/internal/app/service/catalog"
	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/internal/platform/stripeapi"
	cfgpkg "github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/logctx"
	"github.com/lumichat/billing/pkg/metrics"
	"github.com/lumichat/billing/pkg/types"
)

var (
	// ErrItemNotFound means the requested plan or gift id is not in the catalog.
	ErrItemNotFound = errors.New("checkout item not found")
	// ErrNotConfigured means the catalog row exists but carries no processor
	// price ref, so it cannot be sold.
	ErrNotConfigured = errors.New("item has no processor price configured")
	// ErrNoCustomer means the caller has no processor customer yet, so there is
	// nothing to open a billing portal for.
	ErrNoCustomer = errors.New("no processor customer for account")
)

// Request describes one checkout intent. SuccessURL/CancelURL override the
// configured defaults when set.
type Request struct {
	ItemType   types.ItemType `json:"item_type" binding:"required,oneof=plan gift"`
	ItemID     string         `json:"item_id" binding:"required"`
	Quantity   int64          `json:"quantity"`
	SuccessURL string         `json:"success_url"`
	CancelURL  string         `json:"cancel_url"`
}

// Service creates hosted checkout and billing portal sessions. The session
// metadata carries enough to reconstruct the purchase from the completion
// webhook alone.
type Service struct {
	cfg       *cfgpkg.Config
	profiles  store.Profiles
	catalog   *catalog.Service
	processor stripeapi.Client
	prom      *metrics.Prometheus
	log       *zap.SugaredLogger
}

func NewService(
	cfg *cfgpkg.Config,
	profiles store.Profiles,
	cat *catalog.Service,
	processor stripeapi.Client,
	prom *metrics.Prometheus,
	log *zap.SugaredLogger,
) *Service {
	return &Service{cfg: cfg, profiles: profiles, catalog: cat, processor: processor, prom: prom, log: log}
}

func (s *Service) Initiate(ctx context.Context, id types.Identity, req *Request) (*stripeapi.CheckoutSession, error) {
	priceRef, err := s.priceRefFor(ctx, req.ItemType, req.ItemID)
	if err != nil {
		return nil, err
	}

	customerRef, err := s.ensureCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	qty := req.Quantity
	if qty < 1 {
		qty = 1
	}
	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.cfg.Stripe.SuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.cfg.Stripe.CancelURL
	}

	sess, err := s.processor.NewCheckoutSession(ctx, &stripeapi.CheckoutParams{
		CustomerRef: customerRef,
		PriceRef:    priceRef,
		ItemType:    req.ItemType,
		Quantity:    qty,
		SuccessURL:  successURL,
		CancelURL:   cancelURL,
		Metadata: map[string]string{
			"user_id":   id.UserID,
			"item_type": string(req.ItemType),
			"item_id":   req.ItemID,
			"quantity":  strconv.FormatInt(qty, 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	if s.prom != nil {
		s.prom.CheckoutsTotal.WithLabelValues(string(req.ItemType)).Inc()
	}
	logctx.FromCtx(ctx, s.log).Infow("checkout session created",
		"session_id", sess.ID, "item_type", req.ItemType, "item_id", req.ItemID, "quantity", qty)
	return sess, nil
}

// PortalURL opens a billing portal session for an account that already has a
// processor customer.
func (s *Service) PortalURL(ctx context.Context, id types.Identity) (string, error) {
	profile, err := s.profiles.Ensure(ctx, id.UserID, id.Email)
	if err != nil {
		return "", fmt.Errorf("ensure profile: %w", err)
	}
	ref := profile.CustomerRef()
	if ref == "" {
		found, err := s.processor.FindCustomerByEmail(ctx, id.Email)
		if err != nil {
			return "", fmt.Errorf("find customer: %w", err)
		}
		if found == "" {
			return "", ErrNoCustomer
		}
		ref = found
		if err := s.profiles.SaveCustomerRef(ctx, id.UserID, id.Email, ref); err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("customer ref save failed", "err", err)
		}
	}
	return s.processor.NewBillingPortalSession(ctx, ref, s.cfg.Stripe.PortalURL)
}

func (s *Service) priceRefFor(ctx context.Context, itemType types.ItemType, itemID string) (string, error) {
	switch itemType {
	case types.ItemTypePlan:
		plan, err := s.catalog.GetPlan(ctx, itemID)
		if err != nil {
			return "", fmt.Errorf("load plan: %w", err)
		}
		if plan == nil || plan.ID == types.PlanFree || plan.ID == types.PlanAdmin {
			return "", ErrItemNotFound
		}
		if plan.ProcessorPriceRef == nil || *plan.ProcessorPriceRef == "" {
			return "", ErrNotConfigured
		}
		return *plan.ProcessorPriceRef, nil
	case types.ItemTypeGift:
		gift, err := s.catalog.GetGift(ctx, itemID)
		if err != nil {
			return "", fmt.Errorf("load gift: %w", err)
		}
		if gift == nil {
			return "", ErrItemNotFound
		}
		if gift.ProcessorPriceRef == nil || *gift.ProcessorPriceRef == "" {
			return "", ErrNotConfigured
		}
		return *gift.ProcessorPriceRef, nil
	default:
		return "", ErrItemNotFound
	}
}

// ensureCustomer resolves the processor customer for the account, creating it
// on first checkout. The mapping is upserted keyed by the account id so a
// concurrent first checkout converges on one customer.
func (s *Service) ensureCustomer(ctx context.Context, id types.Identity) (string, error) {
	profile, err := s.profiles.Ensure(ctx, id.UserID, id.Email)
	if err != nil {
		return "", fmt.Errorf("ensure profile: %w", err)
	}
	if ref := profile.CustomerRef(); ref != "" {
		return ref, nil
	}

	ref, err := s.processor.FindCustomerByEmail(ctx, id.Email)
	if err != nil {
		return "", fmt.Errorf("find customer: %w", err)
	}
	if ref == "" {
		ref, err = s.processor.CreateCustomer(ctx, id.UserID, id.Email)
		if err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
	}
	if err := s.profiles.SaveCustomerRef(ctx, id.UserID, id.Email, ref); err != nil {
		return "", fmt.Errorf("save customer ref: %w", err)
	}
	return ref, nil
}
