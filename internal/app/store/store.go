package store

import (
	"context"

	"go.uber.org/fx"

	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/pkg/types"
)

// Profiles maps account identities onto billing-side state.
type Profiles interface {
	Get(ctx context.Context, userID string) (*models.Profile, error)
	GetByCustomerRef(ctx context.Context, customerRef string) (*models.Profile, error)
	// Ensure returns the profile, creating a default row on first sight.
	Ensure(ctx context.Context, userID, email string) (*models.Profile, error)
	// SaveCustomerRef upserts the processor customer mapping keyed by
	// user_id, so a lost lookup-or-create race overwrites rather than splits.
	SaveCustomerRef(ctx context.Context, userID, email, customerRef string) error
}

// Subscriptions persists the local subscription record, one row per account.
type Subscriptions interface {
	Get(ctx context.Context, userID string) (*models.UserSubscription, error)
	GetByProcessorRef(ctx context.Context, subscriptionRef string) (*models.UserSubscription, error)
	// Upsert writes the latest-known state keyed by user_id. Last write wins;
	// the store's conflict resolution is the only cross-request guard.
	Upsert(ctx context.Context, rec *models.UserSubscription) error
}

// GiftLedger is the append-only purchased-gift ledger.
type GiftLedger interface {
	// Insert appends a purchase row. A duplicate processor payment ref is a
	// successful no-op.
	Insert(ctx context.Context, row *models.UserPurchasedGift) error
	AttachMessage(ctx context.Context, purchaseID, messageID string) error
	Scan(ctx context.Context, req *ScanRequest) (*ScanResponse[*models.UserPurchasedGift], error)
}

// Catalog reads plan/gift reference data.
type Catalog interface {
	ListPlans(ctx context.Context) ([]*models.Plan, error)
	ListGifts(ctx context.Context) ([]*models.Gift, error)
}

// ScanRequest is a filtered, paginated admin listing request.
type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

var Module = fx.Options(
	fx.Provide(NewProfiles),
	fx.Provide(NewSubscriptions),
	fx.Provide(NewGiftLedger),
	fx.Provide(NewCatalog),
)
