package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID        string          `gorm:"primaryKey;size:64;not null"` // provider product id
	Title     string          `gorm:"size:255"`
	Type      ProductType     `gorm:"size:16;index;not null"` // course, ebook
	Price     decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Currency  string          `gorm:"size:16;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

type Subscription struct {
	SubscriptionID string `gorm:"primaryKey;size:64;not null"`
	UserID         string `gorm:"size:64;index;not null"`
	ProductID      string `gorm:"size:64;index;not null"`
	Status         string `gorm:"size:32;not null"` // active, trialing, past_due, paused, deleted
	NextBillDate   string `gorm:"size:32"`
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Entitlement grants a user access to a course or e-book.
const (
	EntitlementSourcePayment      = "payment"
	EntitlementSourceSubscription = "subscription"
	EntitlementSourceCard         = "card"
)

// Entitlement is one grant of a product. A user keeps access while any of
// their grants for it is unrevoked.
type Entitlement struct {
	UserID    string `gorm:"primaryKey;size:64"`
	ProductID string `gorm:"primaryKey;size:64;index"`
	Source    string `gorm:"primaryKey;size:32"`
	SourceID  string `gorm:"primaryKey;size:128"` // order or subscription id
	RevokedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Payment struct {
	ID            string          `gorm:"primaryKey;size:36"`
	OrderID       string          `gorm:"size:128;uniqueIndex;not null"` // provider order / transaction id
	TransactionID string          `gorm:"size:128;index"`                // checkout session transaction id, when known
	UserID        string          `gorm:"size:64;index;not null"`
	ProductID     string          `gorm:"size:64;index;not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Currency      string          `gorm:"size:16;not null"`
	Status        string          `gorm:"size:32;index;not null"` // PAID, REFUNDED
	Provider      string          `gorm:"size:32;not null"`
	RefundedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}

// CheckoutSession is an in-flight payment session that survives a reload of
// the checkout screen.
type CheckoutSession struct {
	TransactionID  string          `gorm:"primaryKey;size:128;not null"`
	UserID         string          `gorm:"size:64;index:idx_checkout_user_product;not null"`
	ProductID      string          `gorm:"size:64;index:idx_checkout_user_product;not null"`
	PaymentAddress string          `gorm:"size:255;not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,8);not null"`
	Currency       string          `gorm:"size:16;not null"`
	QRCodeURL      string          `gorm:"size:1024"`
	ExpirationTime int64           `gorm:"index;not null"`
	Status         PaymentStatus   `gorm:"size:16;index;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c *CheckoutSession) Session() *PaymentSession {
	return &PaymentSession{
		PaymentAddress: c.PaymentAddress,
		Amount:         c.Amount,
		Currency:       c.Currency,
		QRCodeURL:      c.QRCodeURL,
		ExpirationTime: c.ExpirationTime,
		TransactionID:  c.TransactionID,
	}
}
