package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/pkg/cache"
	"github.com/lumichat/billing/pkg/types"
)

type stubCatalogStore struct {
	plans []*models.Plan
	gifts []*models.Gift
	err   error
	calls int
}

func (s *stubCatalogStore) ListPlans(_ context.Context) ([]*models.Plan, error) {
	s.calls++
	return s.plans, s.err
}

func (s *stubCatalogStore) ListGifts(_ context.Context) ([]*models.Gift, error) {
	s.calls++
	return s.gifts, s.err
}

func testPlans() []*models.Plan {
	return []*models.Plan{
		{ID: types.PlanFree, Name: "Free", Features: datatypes.JSONSlice[string]{}},
		{ID: types.PlanBasic, Name: "Basic", PriceCents: 2990, Features: datatypes.JSONSlice[string]{"audio"}, ProcessorPriceRef: lo.ToPtr("price_basic")},
		{ID: types.PlanIntermediate, Name: "Intermediate", PriceCents: 4990, Features: datatypes.JSONSlice[string]{"audio", "voice"}, ProcessorPriceRef: lo.ToPtr("price_mid")},
		{ID: types.PlanPremium, Name: "Premium", PriceCents: 9900, Features: datatypes.JSONSlice[string]{"audio", "voice", "video"}, ProcessorPriceRef: lo.ToPtr("price_top")},
		{ID: types.PlanAdmin, Name: "Admin"},
	}
}

func newTestService(st *stubCatalogStore) *Service {
	return &Service{store: st, cache: cache.NewMemory(), ttl: time.Hour, log: zap.NewNop().Sugar()}
}

func TestBucketPlanByAmount(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, types.PlanFree},
		{2990, types.PlanBasic},
		{3999, types.PlanBasic},
		{4990, types.PlanIntermediate},
		{7499, types.PlanIntermediate},
		{9900, types.PlanPremium},
		{29900, types.PlanPremium},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, bucketPlanByAmount(tc.cents), "cents=%d", tc.cents)
	}
}

func TestResolvePlanForPrice(t *testing.T) {
	s := newTestService(&stubCatalogStore{plans: testPlans()})
	ctx := context.Background()

	planID, exact := s.ResolvePlanForPrice(ctx, "price_mid", 4990)
	require.True(t, exact)
	require.Equal(t, types.PlanIntermediate, planID)

	// unknown ref falls back to the amount bucket
	planID, exact = s.ResolvePlanForPrice(ctx, "price_unknown", 2990)
	require.False(t, exact)
	require.Equal(t, types.PlanBasic, planID)

	planID, exact = s.ResolvePlanForPrice(ctx, "", 9900)
	require.False(t, exact)
	require.Equal(t, types.PlanPremium, planID)
}

func TestCanUseFeature_Deterministic(t *testing.T) {
	s := newTestService(&stubCatalogStore{plans: testPlans()})
	ctx := context.Background()

	tests := []struct {
		plan    string
		feature types.Feature
		want    bool
	}{
		{types.PlanFree, types.FeatureAudio, false},
		{types.PlanBasic, types.FeatureAudio, true},
		{types.PlanBasic, types.FeatureVideo, false},
		{types.PlanIntermediate, types.FeatureVoice, true},
		{types.PlanPremium, types.FeatureVideo, true},
		{types.PlanAdmin, types.FeatureVideo, true},
		{"unknown", types.FeatureAudio, false},
	}
	for _, tc := range tests {
		// same catalog snapshot, same answer, every time
		for i := 0; i < 3; i++ {
			assert.Equal(t, tc.want, s.CanUseFeature(ctx, tc.plan, tc.feature), "plan=%s feature=%s", tc.plan, tc.feature)
		}
	}
}

func TestCanUseFeature_StaticFallbackOnStoreError(t *testing.T) {
	s := newTestService(&stubCatalogStore{err: errors.New("store down")})
	ctx := context.Background()

	require.True(t, s.CanUseFeature(ctx, types.PlanPremium, types.FeatureVideo))
	require.True(t, s.CanUseFeature(ctx, types.PlanIntermediate, types.FeatureVoice))
	require.False(t, s.CanUseFeature(ctx, types.PlanBasic, types.FeatureVideo))
	require.False(t, s.CanUseFeature(ctx, types.PlanFree, types.FeatureAudio))
}

func TestListPlans_Cached(t *testing.T) {
	st := &stubCatalogStore{plans: testPlans()}
	s := newTestService(st)
	ctx := context.Background()

	_, err := s.ListPlans(ctx)
	require.NoError(t, err)
	_, err = s.ListPlans(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.calls)
}
