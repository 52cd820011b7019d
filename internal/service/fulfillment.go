package service

import (
	"context"
	"errors"
	"fmt"
	"marketplace-checkout/internal/email"
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/reconcile"
	"marketplace-checkout/internal/repository"
	"marketplace-checkout/internal/webhook"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	providerWebhook = "paddle"
	providerCard    = "braintree"
)

// FulfillmentService applies billing webhooks to the catalog, to user
// entitlements and to in-flight checkouts.
type FulfillmentService interface {
	webhook.EventHandler
}

type fulfillmentServiceImpl struct {
	db              *gorm.DB
	productRepo     repository.ProductRepository
	subRepo         repository.SubscriptionRepository
	entitlementRepo repository.EntitlementRepository
	paymentRepo     repository.PaymentRepository
	sessionRepo     repository.SessionRepository
	confirmations   *reconcile.Store
	mailer          email.Sender
	log             *zap.Logger
}

func NewFulfillmentService(
	db *gorm.DB,
	productRepo repository.ProductRepository,
	subRepo repository.SubscriptionRepository,
	entitlementRepo repository.EntitlementRepository,
	paymentRepo repository.PaymentRepository,
	sessionRepo repository.SessionRepository,
	confirmations *reconcile.Store,
	mailer email.Sender,
	log *zap.Logger,
) FulfillmentService {
	return &fulfillmentServiceImpl{
		db:              db,
		productRepo:     productRepo,
		subRepo:         subRepo,
		entitlementRepo: entitlementRepo,
		paymentRepo:     paymentRepo,
		sessionRepo:     sessionRepo,
		confirmations:   confirmations,
		mailer:          mailer,
		log:             log,
	}
}

func (s *fulfillmentServiceImpl) ProductCreated(ctx context.Context, payload *model.WebhookPayload) error {
	return s.upsertProduct(ctx, payload)
}

func (s *fulfillmentServiceImpl) ProductUpdated(ctx context.Context, payload *model.WebhookPayload) error {
	return s.upsertProduct(ctx, payload)
}

func (s *fulfillmentServiceImpl) upsertProduct(ctx context.Context, payload *model.WebhookPayload) error {
	if err := requireFields(payload, "product_id", "product_type", "price", "currency"); err != nil {
		return err
	}

	productType := model.ProductType(payload.String("product_type"))
	if !productType.Valid() {
		return fmt.Errorf("unsupported product_type %q", productType)
	}
	price, err := decimal.NewFromString(payload.String("price"))
	if err != nil {
		return fmt.Errorf("parse price: %w", err)
	}

	title := payload.String("title")
	if title == "" {
		title = payload.String("product_name")
	}

	err = s.productRepo.Upsert(ctx, &model.Product{
		ID:       payload.String("product_id"),
		Title:    title,
		Type:     productType,
		Price:    price,
		Currency: payload.String("currency"),
	})
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *fulfillmentServiceImpl) ProductDeleted(ctx context.Context, payload *model.WebhookPayload) error {
	if err := requireFields(payload, "product_id"); err != nil {
		return err
	}

	if err := s.productRepo.Delete(ctx, payload.String("product_id")); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return nil
}

func (s *fulfillmentServiceImpl) SubscriptionCreated(ctx context.Context, payload *model.WebhookPayload) error {
	return s.upsertSubscription(ctx, payload)
}

func (s *fulfillmentServiceImpl) SubscriptionUpdated(ctx context.Context, payload *model.WebhookPayload) error {
	return s.upsertSubscription(ctx, payload)
}

func (s *fulfillmentServiceImpl) upsertSubscription(ctx context.Context, payload *model.WebhookPayload) error {
	if err := requireFields(payload, "subscription_id", "user_id", "product_id", "status"); err != nil {
		return err
	}

	sub := &model.Subscription{
		SubscriptionID: payload.String("subscription_id"),
		UserID:         payload.String("user_id"),
		ProductID:      payload.String("product_id"),
		Status:         payload.String("status"),
		NextBillDate:   payload.String("next_bill_date"),
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.subRepo.Upsert(ctx, tx, sub); err != nil {
			return fmt.Errorf("upsert subscription: %w", err)
		}

		if !grantsAccess(sub.Status) {
			if err := s.entitlementRepo.Revoke(ctx, tx, sub.UserID, sub.ProductID, model.EntitlementSourceSubscription, sub.SubscriptionID); err != nil {
				return fmt.Errorf("revoke entitlement: %w", err)
			}
			return nil
		}

		err := s.entitlementRepo.Grant(ctx, tx, &model.Entitlement{
			UserID:    sub.UserID,
			ProductID: sub.ProductID,
			Source:    model.EntitlementSourceSubscription,
			SourceID:  sub.SubscriptionID,
		})
		if err != nil {
			return fmt.Errorf("grant entitlement: %w", err)
		}
		return nil
	})
}

func (s *fulfillmentServiceImpl) SubscriptionCancelled(ctx context.Context, payload *model.WebhookPayload) error {
	if err := requireFields(payload, "subscription_id"); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subRepo.Cancel(ctx, tx, payload.String("subscription_id"), time.Now())
		if err != nil {
			return fmt.Errorf("cancel subscription: %w", err)
		}

		if err := s.entitlementRepo.Revoke(ctx, tx, sub.UserID, sub.ProductID, model.EntitlementSourceSubscription, sub.SubscriptionID); err != nil {
			return fmt.Errorf("revoke entitlement: %w", err)
		}
		return nil
	})
}

func (s *fulfillmentServiceImpl) PaymentSucceeded(ctx context.Context, payload *model.WebhookPayload) error {
	if err := requireFields(payload, "order_id", "user_id", "product_id", "currency"); err != nil {
		return err
	}

	amount, err := decimal.NewFromString(firstOf(payload, "sale_gross", "amount"))
	if err != nil {
		return fmt.Errorf("parse payment amount: %w", err)
	}

	payment := &model.Payment{
		ID:            uuid.NewString(),
		OrderID:       payload.String("order_id"),
		TransactionID: firstOf(payload, "transaction_id", "passthrough"),
		UserID:        payload.String("user_id"),
		ProductID:     payload.String("product_id"),
		Amount:        amount,
		Currency:      payload.String("currency"),
		Status:        repository.PaymentStatusPaid,
		Provider:      providerWebhook,
	}

	var created bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.paymentRepo.Create(ctx, tx, payment)
		if err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
		created = inserted
		if !created {
			return nil
		}

		err = s.entitlementRepo.Grant(ctx, tx, &model.Entitlement{
			UserID:    payment.UserID,
			ProductID: payment.ProductID,
			Source:    model.EntitlementSourcePayment,
			SourceID:  payment.OrderID,
		})
		if err != nil {
			return fmt.Errorf("grant entitlement: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if payment.TransactionID != "" {
		s.confirmations.Apply(payment.TransactionID, model.TransactionStatus{Status: model.StatusConfirmed}, reconcile.SourceWebhook)
		if err := s.sessionRepo.UpdateStatus(ctx, payment.TransactionID, model.StatusConfirmed); err != nil {
			return fmt.Errorf("update checkout session: %w", err)
		}
	}

	if !created {
		s.log.Info("payment already recorded", zap.String("order_id", payment.OrderID))
		return nil
	}

	s.sendConfirmation(ctx, payload, payment)
	return nil
}

// sendConfirmation only logs failures.
func (s *fulfillmentServiceImpl) sendConfirmation(ctx context.Context, payload *model.WebhookPayload, payment *model.Payment) {
	to := payload.String("email")
	if to == "" {
		s.log.Warn("payment without customer email", zap.String("order_id", payment.OrderID))
		return
	}

	title := payment.ProductID
	if product, err := s.productRepo.FindByID(ctx, payment.ProductID); err == nil && product.Title != "" {
		title = product.Title
	}

	err := s.mailer.SendPaymentConfirmation(ctx, &email.PaymentConfirmation{
		To:           to,
		ProductTitle: title,
		OrderID:      payment.OrderID,
		Amount:       payment.Amount.StringFixed(2),
		Currency:     payment.Currency,
		ReceiptURL:   payload.String("receipt_url"),
	})
	if err != nil {
		s.log.Error("send payment confirmation", zap.String("order_id", payment.OrderID), zap.Error(err))
	}
}

func (s *fulfillmentServiceImpl) PaymentRefunded(ctx context.Context, payload *model.WebhookPayload) error {
	if err := requireFields(payload, "order_id"); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := s.paymentRepo.MarkRefunded(ctx, tx, payload.String("order_id"), time.Now())
		if err != nil {
			return fmt.Errorf("mark payment refunded: %w", err)
		}

		if err := s.entitlementRepo.Revoke(ctx, tx, payment.UserID, payment.ProductID, grantSource(payment), payment.OrderID); err != nil {
			return fmt.Errorf("revoke entitlement: %w", err)
		}
		return nil
	})
}

func grantSource(payment *model.Payment) string {
	if payment.Provider == providerCard {
		return model.EntitlementSourceCard
	}
	return model.EntitlementSourcePayment
}

var errMissingField = errors.New("missing webhook field")

func requireFields(payload *model.WebhookPayload, keys ...string) error {
	for _, key := range keys {
		if payload.String(key) == "" {
			return fmt.Errorf("%w %q in %s", errMissingField, key, payload.AlertName)
		}
	}
	return nil
}

func firstOf(payload *model.WebhookPayload, keys ...string) string {
	for _, key := range keys {
		if v := payload.String(key); v != "" {
			return v
		}
	}
	return ""
}

func grantsAccess(status string) bool {
	return status == "active" || status == "trialing"
}
