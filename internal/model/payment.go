package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type ProductType string

const (
	ProductTypeCourse ProductType = "course"
	ProductTypeEbook  ProductType = "ebook"
)

func (t ProductType) Valid() bool {
	return t == ProductTypeCourse || t == ProductTypeEbook
}

// PaymentRequest is built when a purchase starts and is not modified after
// it has been handed to the payment client.
type PaymentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	ProductID   string
	ProductType ProductType
	UserID      string
}

func (r *PaymentRequest) Validate() error {
	switch {
	case !r.Amount.IsPositive():
		return errors.New("amount must be positive")
	case r.Currency == "":
		return errors.New("currency is required")
	case r.ProductID == "":
		return errors.New("product id is required")
	case !r.ProductType.Valid():
		return errors.New("product type must be course or ebook")
	case r.UserID == "":
		return errors.New("user id is required")
	}
	return nil
}

// PaymentSession is the payment API's answer to a PaymentRequest. It lives
// for one checkout attempt.
type PaymentSession struct {
	PaymentAddress string
	Amount         decimal.Decimal
	Currency       string
	QRCodeURL      string
	ExpirationTime int64 // unix ms
	TransactionID  string
}

func (s *PaymentSession) ExpiresAt() time.Time {
	return time.UnixMilli(s.ExpirationTime)
}

// SecondsRemaining is floor((expirationTime - now) / 1000), never negative.
func (s *PaymentSession) SecondsRemaining(now time.Time) int {
	ms := s.ExpirationTime - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return int(ms / 1000)
}

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusConfirmed PaymentStatus = "confirmed"
	StatusFailed    PaymentStatus = "failed"
	StatusExpired   PaymentStatus = "expired"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed, StatusExpired:
		return true
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusExpired
}

type TransactionStatus struct {
	Status          PaymentStatus
	Confirmations   *int
	TransactionHash string
	PaidAt          *int64 // unix ms
}
