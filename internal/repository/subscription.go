package repository

import (
	"context"
	"marketplace-checkout/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error
	Cancel(ctx context.Context, tx *gorm.DB, subscriptionID string, at time.Time) (*model.Subscription, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Subscription, error)
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

func (r *subscriptionRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *subscriptionRepoImpl) Upsert(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "subscription_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"user_id":        sub.UserID,
			"product_id":     sub.ProductID,
			"status":         sub.Status,
			"next_bill_date": sub.NextBillDate,
			"updated_at":     time.Now(),
		}),
	}).Create(sub).Error
}

func (r *subscriptionRepoImpl) Cancel(ctx context.Context, tx *gorm.DB, subscriptionID string, at time.Time) (*model.Subscription, error) {
	db := r.conn(tx).WithContext(ctx)

	result := db.Model(&model.Subscription{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"status":       "deleted",
			"cancelled_at": at,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	var sub model.Subscription
	if err := db.Where("subscription_id = ?", subscriptionID).First(&sub).Error; err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (r *subscriptionRepoImpl) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&sub).
		Error

	if err != nil {
		return nil, notFound(err)
	}

	return &sub, nil
}
