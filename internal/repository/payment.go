package repository

import (
	"context"
	"marketplace-checkout/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	PaymentStatusPaid     = "PAID"
	PaymentStatusRefunded = "REFUNDED"
)

type PaymentRepository interface {
	// Create stores the payment unless one with the same order id exists.
	// created reports whether a row was inserted.
	Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) (created bool, err error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID string, at time.Time) (*model.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error)
}

type paymentRepoImpl struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepoImpl{
		db: db,
	}
}

func (r *paymentRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *paymentRepoImpl) Create(ctx context.Context, tx *gorm.DB, payment *model.Payment) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(payment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *paymentRepoImpl) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID string, at time.Time) (*model.Payment, error) {
	var payment model.Payment
	err := r.conn(tx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Payment{}).
			Where("order_id = ?", orderID).
			Updates(map[string]interface{}{
				"status":      PaymentStatusRefunded,
				"refunded_at": at,
				"updated_at":  time.Now(),
			})

		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		return tx.Where("order_id = ?", orderID).First(&payment).Error
	})
	if err != nil {
		return nil, notFound(err)
	}

	return &payment, nil
}

func (r *paymentRepoImpl) FindByOrderID(ctx context.Context, orderID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&payment).Error

	if err != nil {
		return nil, notFound(err)
	}

	return &payment, nil
}
