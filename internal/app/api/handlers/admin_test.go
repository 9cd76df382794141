package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumichat/billing/internal/app/service/reconciler"
	"github.com/lumichat/billing/internal/app/store"
	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/pkg/cache"
	"github.com/lumichat/billing/pkg/types"
)

type stubPlanGetter struct {
	plans map[string]*models.Plan
}

func (s *stubPlanGetter) GetPlan(_ context.Context, id string) (*models.Plan, error) {
	return s.plans[id], nil
}

type stubSubsStore struct {
	recs map[string]*models.UserSubscription
}

func (s *stubSubsStore) Get(_ context.Context, userID string) (*models.UserSubscription, error) {
	if r, ok := s.recs[userID]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubSubsStore) GetByProcessorRef(_ context.Context, _ string) (*models.UserSubscription, error) {
	return nil, store.ErrNotFound
}

func (s *stubSubsStore) Upsert(_ context.Context, rec *models.UserSubscription) error {
	s.recs[rec.UserID] = rec
	return nil
}

func TestApiGrantPlan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cat := &stubPlanGetter{plans: map[string]*models.Plan{
		types.PlanPremium: {ID: types.PlanPremium, DurationDays: 30},
	}}
	subs := &stubSubsStore{recs: map[string]*models.UserSubscription{}}
	c := cache.NewMemory()
	c.Set(reconciler.CacheKey("u1"), types.PlanInfo{PlanID: types.PlanFree}, time.Minute)

	r := gin.New()
	g := r.Group("/api/v1/admin")
	g.Use(withIdentity(types.Identity{UserID: "op1", Email: "ops@example.com"}))
	RegisterAdminRoutes(g, nil, subs, cat, c, zap.NewNop().Sugar())

	w := postJSON(r, "/api/v1/admin/grant", map[string]any{
		"user_id": "u1", "plan_id": "premium",
	})
	require.Equal(t, http.StatusOK, w.Code)

	rec := subs.recs["u1"]
	require.NotNil(t, rec)
	require.Equal(t, types.PlanPremium, rec.PlanID)
	require.True(t, rec.IsActive)
	require.Equal(t, types.SubscriptionStatusActive, rec.Status)
	require.NotNil(t, rec.PeriodEnd)
	require.Contains(t, string(rec.Extra), `"granted_by":"op1"`)

	// the stale plan answer must be invalidated for the next reconciliation
	_, ok := c.Get(reconciler.CacheKey("u1"))
	require.False(t, ok)
}

func TestApiGrantPlanUnknownPlan(t *testing.T) {
	gin.SetMode(gin.TestMode)
	subs := &stubSubsStore{recs: map[string]*models.UserSubscription{}}

	r := gin.New()
	g := r.Group("/api/v1/admin")
	g.Use(withIdentity(types.Identity{UserID: "op1"}))
	RegisterAdminRoutes(g, nil, subs, &stubPlanGetter{plans: map[string]*models.Plan{}}, cache.NewMemory(), zap.NewNop().Sugar())

	w := postJSON(r, "/api/v1/admin/grant", map[string]any{
		"user_id": "u1", "plan_id": "nope",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"code":40400`)
	require.Empty(t, subs.recs)
}
