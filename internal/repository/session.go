package repository

import (
	"context"
	"errors"
	"marketplace-checkout/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionRepository keeps in-flight checkout sessions so a reloaded checkout
// can resume instead of opening a second payment.
type SessionRepository interface {
	Save(ctx context.Context, userID, productID string, session *model.PaymentSession) error
	// FindResumable returns the newest pending session for user and product
	// that has not expired at now, or nil when there is none.
	FindResumable(ctx context.Context, userID, productID string, now time.Time) (*model.PaymentSession, error)
	UpdateStatus(ctx context.Context, transactionID string, status model.PaymentStatus) error
	// Status returns the recorded status, or "" for an unknown transaction.
	Status(ctx context.Context, transactionID string) (model.PaymentStatus, error)
}

type sessionRepoImpl struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepoImpl{
		db: db,
	}
}

func (r *sessionRepoImpl) Save(ctx context.Context, userID, productID string, session *model.PaymentSession) error {
	record := &model.CheckoutSession{
		TransactionID:  session.TransactionID,
		UserID:         userID,
		ProductID:      productID,
		PaymentAddress: session.PaymentAddress,
		Amount:         session.Amount,
		Currency:       session.Currency,
		QRCodeURL:      session.QRCodeURL,
		ExpirationTime: session.ExpirationTime,
		Status:         model.StatusPending,
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"expiration_time": session.ExpirationTime,
			"updated_at":      time.Now(),
		}),
	}).Create(record).Error
}

func (r *sessionRepoImpl) FindResumable(ctx context.Context, userID, productID string, now time.Time) (*model.PaymentSession, error) {
	var record model.CheckoutSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Where("status = ?", model.StatusPending).
		Where("expiration_time > ?", now.UnixMilli()).
		Order("expiration_time DESC").
		First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return record.Session(), nil
}

func (r *sessionRepoImpl) UpdateStatus(ctx context.Context, transactionID string, status model.PaymentStatus) error {
	return r.db.WithContext(ctx).Model(&model.CheckoutSession{}).
		Where("transaction_id = ?", transactionID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (r *sessionRepoImpl) Status(ctx context.Context, transactionID string) (model.PaymentStatus, error) {
	var record model.CheckoutSession
	err := r.db.WithContext(ctx).
		Select("status").
		Where("transaction_id = ?", transactionID).
		First(&record).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}

	return record.Status, nil
}
