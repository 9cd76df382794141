package catalog

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/pkg/cache"
	cfgpkg "github.com/lumichat/billing/pkg/config"
	"github.com/lumichat/billing/pkg/logctx"
	"github.com/lumichat/billing/pkg/types"
)

const (
	cacheKeyPlans = "catalog:plans"
	cacheKeyGifts = "catalog:gifts"
)

// Service serves plan/gift reference data with long-TTL caching and resolves
// processor prices back onto plan ids.
type Service struct {
	store store.Catalog
	cache cache.Store
	ttl   time.Duration
	log   *zap.SugaredLogger
}

func NewService(cfg *cfgpkg.Config, st store.Catalog, c cache.Store, log *zap.SugaredLogger) *Service {
	return &Service{store: st, cache: c, ttl: cfg.Cache.CatalogTTL, log: log}
}

func (s *Service) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	if v, ok := s.cache.Get(cacheKeyPlans); ok {
		if plans, ok := v.([]*models.Plan); ok {
			return plans, nil
		}
	}
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	s.cache.Set(cacheKeyPlans, plans, s.ttl)
	return plans, nil
}

func (s *Service) ListGifts(ctx context.Context) ([]*models.Gift, error) {
	if v, ok := s.cache.Get(cacheKeyGifts); ok {
		if gifts, ok := v.([]*models.Gift); ok {
			return gifts, nil
		}
	}
	gifts, err := s.store.ListGifts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list gifts: %w", err)
	}
	s.cache.Set(cacheKeyGifts, gifts, s.ttl)
	return gifts, nil
}

// GetPlan returns nil when the id is unknown.
func (s *Service) GetPlan(ctx context.Context, id string) (*models.Plan, error) {
	plans, err := s.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

// GetGift returns nil when the id is unknown.
func (s *Service) GetGift(ctx context.Context, id string) (*models.Gift, error) {
	gifts, err := s.ListGifts(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range gifts {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, nil
}

// ResolvePlanForPrice maps a processor price back onto a plan id. The exact
// match on the stored price ref is primary; the amount-threshold bucket is a
// degraded fallback for catalog rows that never got a price ref.
func (s *Service) ResolvePlanForPrice(ctx context.Context, priceRef string, unitAmountCents int64) (string, bool) {
	if priceRef != "" {
		plans, err := s.ListPlans(ctx)
		if err == nil {
			for _, p := range plans {
				if p.ProcessorPriceRef != nil && *p.ProcessorPriceRef == priceRef {
					return p.ID, true
				}
			}
		} else {
			logctx.FromCtx(ctx, s.log).Warnw("plan lookup failed, falling back to price bucket", "err", err)
		}
	}
	return bucketPlanByAmount(unitAmountCents), false
}

// bucketPlanByAmount buckets a unit price in cents into a plan tier. This is
// a fragile heuristic tied to the current catalog amounts; delete it once
// every plan row carries a processor price ref.
func bucketPlanByAmount(cents int64) string {
	switch {
	case cents <= 0:
		return types.PlanFree
	case cents < 4000:
		return types.PlanBasic
	case cents < 7500:
		return types.PlanIntermediate
	default:
		return types.PlanPremium
	}
}

// staticFeatureTable is the degraded fallback used when the catalog cannot
// be read. Keyed by plan tier, matching the shipped default catalog.
var staticFeatureTable = map[string][]types.Feature{
	types.PlanFree:         {},
	types.PlanBasic:        {types.FeatureAudio},
	types.PlanIntermediate: {types.FeatureAudio, types.FeatureVoice},
	types.PlanPremium:      {types.FeatureAudio, types.FeatureVoice, types.FeatureVideo},
}

// CanUseFeature reports whether a plan grants a capability. Deterministic for
// a given catalog snapshot; "admin" is always entitled. Results are cached
// per (plan, feature) with the catalog TTL.
func (s *Service) CanUseFeature(ctx context.Context, planID string, feature types.Feature) bool {
	if planID == types.PlanAdmin {
		return true
	}
	key := fmt.Sprintf("feature:%s:%s", planID, feature)
	if v, ok := s.cache.Get(key); ok {
		if allowed, ok := v.(bool); ok {
			return allowed
		}
	}

	allowed, err := s.featureFromCatalog(ctx, planID, feature)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("feature lookup degraded to static table", "plan_id", planID, "feature", feature, "err", err)
		return featureFromStaticTable(planID, feature)
	}
	s.cache.Set(key, allowed, s.ttl)
	return allowed
}

func (s *Service) featureFromCatalog(ctx context.Context, planID string, feature types.Feature) (bool, error) {
	plan, err := s.GetPlan(ctx, planID)
	if err != nil {
		return false, err
	}
	if plan == nil {
		return false, nil
	}
	return plan.HasFeature(string(feature)), nil
}

func featureFromStaticTable(planID string, feature types.Feature) bool {
	for _, f := range staticFeatureTable[planID] {
		if f == feature {
			return true
		}
	}
	return false
}
