package repository

import (
	"context"
	"marketplace-checkout/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EntitlementRepository interface {
	Grant(ctx context.Context, tx *gorm.DB, entitlement *model.Entitlement) error
	// Revoke withdraws the grant from one source only.
	Revoke(ctx context.Context, tx *gorm.DB, userID, productID, source, sourceID string) error
	HasAccess(ctx context.Context, userID, productID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Entitlement, error)
}

type entitlementRepoImpl struct {
	db *gorm.DB
}

func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepoImpl{
		db: db,
	}
}

func (r *entitlementRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Grant is idempotent; granting again re-activates a revoked entitlement.
func (r *entitlementRepoImpl) Grant(ctx context.Context, tx *gorm.DB, entitlement *model.Entitlement) error {
	return r.conn(tx).WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "product_id"}, {Name: "source"}, {Name: "source_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"revoked_at": nil,
			"updated_at": time.Now(),
		}),
	}).Create(entitlement).Error
}

func (r *entitlementRepoImpl) Revoke(ctx context.Context, tx *gorm.DB, userID, productID, source, sourceID string) error {
	now := time.Now()
	return r.conn(tx).WithContext(ctx).Model(&model.Entitlement{}).
		Where("user_id = ? AND product_id = ? AND revoked_at IS NULL", userID, productID).
		Where("source = ? AND source_id = ?", source, sourceID).
		Updates(map[string]interface{}{
			"revoked_at": now,
			"updated_at": now,
		}).Error
}

func (r *entitlementRepoImpl) HasAccess(ctx context.Context, userID, productID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Entitlement{}).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Where("revoked_at IS NULL").
		Count(&count).Error

	return count > 0, err
}

func (r *entitlementRepoImpl) ListByUser(ctx context.Context, userID string) ([]*model.Entitlement, error) {
	var entitlements []*model.Entitlement
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Order("created_at").
		Find(&entitlements).Error

	if err != nil {
		return nil, err
	}

	return entitlements, nil
}
