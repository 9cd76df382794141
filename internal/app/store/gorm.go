package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumichat/billing/internal/models"
	"github.com/lumichat/billing/pkg/tool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

type gormProfiles struct{ db *gorm.DB }

func NewProfiles(db *gorm.DB) Profiles { return &gormProfiles{db: db} }

func (s *gormProfiles) Get(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *gormProfiles) GetByCustomerRef(ctx context.Context, customerRef string) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).Where("processor_customer_ref = ?", customerRef).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *gormProfiles) Ensure(ctx context.Context, userID, email string) (*models.Profile, error) {
	p, err := s.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	fresh := &models.Profile{UserID: userID, Email: email}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, fmt.Errorf("ensure profile: %w", err)
	}
	// re-read so a concurrent creator's row wins
	return s.Get(ctx, userID)
}

func (s *gormProfiles) SaveCustomerRef(ctx context.Context, userID, email, customerRef string) error {
	row := &models.Profile{UserID: userID, Email: email, ProcessorCustomerRef: &customerRef}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"processor_customer_ref", "updated_at"}),
	}).Create(row).Error
}

type gormSubscriptions struct{ db *gorm.DB }

func NewSubscriptions(db *gorm.DB) Subscriptions { return &gormSubscriptions{db: db} }

func (s *gormSubscriptions) Get(ctx context.Context, userID string) (*models.UserSubscription, error) {
	var rec models.UserSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *gormSubscriptions) GetByProcessorRef(ctx context.Context, subscriptionRef string) (*models.UserSubscription, error) {
	var rec models.UserSubscription
	if err := s.db.WithContext(ctx).Where("processor_subscription_ref = ?", subscriptionRef).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *gormSubscriptions) Upsert(ctx context.Context, rec *models.UserSubscription) error {
	if rec.ID == "" {
		rec.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan_id", "status", "is_active",
			"processor_customer_ref", "processor_subscription_ref",
			"period_start", "period_end", "end_date", "extra", "updated_at",
		}),
	}).Create(rec).Error
}

type gormGiftLedger struct{ db *gorm.DB }

func NewGiftLedger(db *gorm.DB) GiftLedger { return &gormGiftLedger{db: db} }

func (s *gormGiftLedger) Insert(ctx context.Context, row *models.UserPurchasedGift) error {
	if row.ID == "" {
		row.ID = tool.GenerateUUIDV7()
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "processor_payment_ref"}},
		DoNothing: true,
	}).Create(row).Error
}

func (s *gormGiftLedger) AttachMessage(ctx context.Context, purchaseID, messageID string) error {
	res := s.db.WithContext(ctx).Model(&models.UserPurchasedGift{}).
		Where("id = ?", purchaseID).
		Update("used_in_chat_message_id", messageID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormGiftLedger) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse[*models.UserPurchasedGift], error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.UserPurchasedGift{})
	for _, f := range req.Filters {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{f}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count purchases: %w", err)
	}

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if req.SortBy == "" {
		req.SortBy = "purchased_at"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})

	var rows []*models.UserPurchasedGift
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return &ScanResponse[*models.UserPurchasedGift]{Items: rows, Total: total}, nil
}

type gormCatalog struct{ db *gorm.DB }

func NewCatalog(db *gorm.DB) Catalog { return &gormCatalog{db: db} }

func (s *gormCatalog) ListPlans(ctx context.Context) ([]*models.Plan, error) {
	var plans []*models.Plan
	if err := s.db.WithContext(ctx).Order("price_cents").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *gormCatalog) ListGifts(ctx context.Context) ([]*models.Gift, error) {
	var gifts []*models.Gift
	if err := s.db.WithContext(ctx).Order("price_cents").Find(&gifts).Error; err != nil {
		return nil, err
	}
	return gifts, nil
}
