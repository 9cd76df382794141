package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lumichat/billing/internal/app/service/catalog"
	"github.com/lumichat/billing/internal/app/service/privilege"
	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/internal/platform/stripeapi"
	"github.com/lumichat/billing/pkg/cache"
	cfgpkg "github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/logctx"
	"github.com/lumichat/billing/pkg/metrics"
	"github.com/lumichat/billing/pkg/types"
)

// Service merges the admin override, the processor's live subscription
// state, the local record and the trial window into one plan answer.
// GetCurrentPlan never fails outward: a remote failure degrades the answer,
// it does not propagate.
type Service struct {
	cfg       *cfgpkg.Config
	profiles  store.Profiles
	subs      store.Subscriptions
	catalog   *catalog.Service
	priv      privilege.Resolver
	processor stripeapi.Client
	cache     cache.Store
	prom      *metrics.Prometheus
	log       *zap.SugaredLogger
	now       func() time.Time
}

func NewService(
	cfg *cfgpkg.Config,
	profiles store.Profiles,
	subs store.Subscriptions,
	cat *catalog.Service,
	priv privilege.Resolver,
	processor stripeapi.Client,
	c cache.Store,
	prom *metrics.Prometheus,
	log *zap.SugaredLogger,
) *Service {
	return &Service{
		cfg:       cfg,
		profiles:  profiles,
		subs:      subs,
		catalog:   cat,
		priv:      priv,
		processor: processor,
		cache:     c,
		prom:      prom,
		log:       log,
		now:       time.Now,
	}
}

// CacheKey names the cached plan answer for an account. Webhook handling and
// admin grants invalidate through it, so every writer must use this helper.
func CacheKey(userID string) string { return "subscription:" + userID }

// GetCurrentPlan resolves the account's current plan. forceRefresh
// invalidates the cached answer before recomputation. Degraded answers are
// returned but not cached, so the next call retries the remote tiers.
func (s *Service) GetCurrentPlan(ctx context.Context, id types.Identity, forceRefresh bool) types.PlanInfo {
	key := CacheKey(id.UserID)
	if forceRefresh {
		s.cache.Delete(key)
	} else if v, ok := s.cache.Get(key); ok {
		if info, ok := v.(types.PlanInfo); ok {
			s.count("cache")
			return info
		}
	}

	info, source := s.resolve(ctx, id)
	s.count(source)

	if !info.Degraded {
		ttl := s.cfg.Cache.SubscriptionTTL
		if info.PlanID == types.PlanAdmin {
			ttl = s.cfg.Cache.CatalogTTL
		}
		s.cache.Set(key, info, ttl)
	}
	return info
}

// resolve walks the precedence chain: admin override, live processor state,
// local record, trial window. Each tier is consulted only when the previous
// one is inconclusive.
func (s *Service) resolve(ctx context.Context, id types.Identity) (types.PlanInfo, string) {
	if s.priv.IsAdmin(ctx, id.UserID, id.Email) {
		return types.PlanInfo{
			PlanID:   types.PlanAdmin,
			IsActive: true,
			Status:   types.SubscriptionStatusActive,
		}, "admin"
	}

	degraded := false
	customerHadNoSubs := false

	profile, perr := s.profiles.Ensure(ctx, id.UserID, id.Email)
	if perr != nil {
		logctx.FromCtx(ctx, s.log).Warnw("profile lookup failed", "err", perr)
		degraded = true
	}

	if profile.CustomerRef() != "" {
		live, err := s.processor.ListActiveSubscriptions(ctx, profile.CustomerRef(), 1)
		switch {
		case err != nil:
			// transient processor failure: fall through, do not fail the call
			logctx.FromCtx(ctx, s.log).Warnw("processor subscription list failed", "err", err)
			degraded = true
		case len(live) > 0:
			return s.fromProcessor(ctx, id.UserID, profile, live[0]), "processor"
		default:
			customerHadNoSubs = true
		}
	}

	rec, rerr := s.subs.Get(ctx, id.UserID)
	if rerr == nil {
		if customerHadNoSubs && rec.IsActive {
			// the processor is the source of truth for "active": a local
			// record claiming active with no live subscription is stale
			rec.IsActive = false
			rec.Status = types.SubscriptionStatusInactive
			if err := s.subs.Upsert(ctx, rec); err != nil {
				logctx.FromCtx(ctx, s.log).Warnw("stale record demotion failed", "err", err)
			}
		}
		end := rec.PeriodEnd
		if rec.EndDate != nil {
			end = rec.EndDate
		}
		return types.PlanInfo{
			PlanID:    rec.PlanID,
			IsActive:  rec.IsActive,
			Status:    rec.Status,
			PeriodEnd: end,
			Degraded:  degraded,
		}, "record"
	}
	if !errors.Is(rerr, store.ErrNotFound) {
		logctx.FromCtx(ctx, s.log).Warnw("subscription record lookup failed", "err", rerr)
		degraded = true
	}

	createdAt := s.now()
	if perr == nil {
		createdAt = profile.CreatedAt
	}
	info := s.trialInfo(createdAt)
	info.Degraded = degraded
	return info, "trial"
}

// fromProcessor maps live processor state onto a plan answer and writes it
// back into the local record, self-healing the stored copy.
func (s *Service) fromProcessor(ctx context.Context, userID string, profile *models.Profile, live *stripeapi.Subscription) types.PlanInfo {
	planID, exact := s.catalog.ResolvePlanForPrice(ctx, live.PriceRef, live.UnitAmountCents)
	if !exact {
		logctx.FromCtx(ctx, s.log).Warnw("no exact price match, bucketed by amount",
			"price_ref", live.PriceRef, "unit_amount", live.UnitAmountCents, "plan_id", planID)
	}

	rec := &models.UserSubscription{
		UserID:                   userID,
		PlanID:                   planID,
		Status:                   types.SubscriptionStatus(live.Status),
		IsActive:                 true,
		ProcessorCustomerRef:     lo.ToPtr(profile.CustomerRef()),
		ProcessorSubscriptionRef: lo.ToPtr(live.Ref),
		PeriodStart:              lo.ToPtr(live.PeriodStart),
		PeriodEnd:                lo.ToPtr(live.PeriodEnd),
	}
	if err := s.subs.Upsert(ctx, rec); err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("subscription record writeback failed", "err", err)
	}

	return types.PlanInfo{
		PlanID:    planID,
		IsActive:  true,
		Status:    types.SubscriptionStatus(live.Status),
		PeriodEnd: lo.ToPtr(live.PeriodEnd),
	}
}

func (s *Service) trialInfo(createdAt time.Time) types.PlanInfo {
	trialEnd := createdAt.Add(time.Duration(s.cfg.TrialDays) * 24 * time.Hour)
	if IsTrialActive(s.now(), &trialEnd) {
		return types.PlanInfo{
			PlanID:    types.PlanFree,
			IsActive:  true,
			Status:    types.SubscriptionStatusTrialing,
			PeriodEnd: &trialEnd,
		}
	}
	return types.PlanInfo{
		PlanID:   types.PlanFree,
		IsActive: false,
		Status:   types.SubscriptionStatusFree,
	}
}

// CanUseFeature resolves the caller's current plan and checks the capability
// against the catalog.
func (s *Service) CanUseFeature(ctx context.Context, id types.Identity, feature types.Feature) bool {
	info := s.GetCurrentPlan(ctx, id, false)
	if !info.IsActive && info.PlanID != types.PlanAdmin {
		return false
	}
	return s.catalog.CanUseFeature(ctx, info.PlanID, feature)
}

func (s *Service) count(source string) {
	if s.prom != nil {
		s.prom.Reconciliations.WithLabelValues(source).Inc()
	}
}
