package service

import (
	"context"
	"errors"
	"fmt"
	"marketplace-checkout/internal/client"
	"marketplace-checkout/internal/dto"
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrAlreadyOwned = errors.New("product already owned")

// CardCheckoutService is the card form alternative to the crypto checkout.
type CardCheckoutService interface {
	Checkout(ctx context.Context, userID string, req *dto.CardCheckoutRequest) (*dto.CardCheckoutResponse, error)
}

type cardCheckoutServiceImpl struct {
	db              *gorm.DB
	gateway         client.CardGateway
	productRepo     repository.ProductRepository
	paymentRepo     repository.PaymentRepository
	entitlementRepo repository.EntitlementRepository
	log             *zap.Logger
}

func NewCardCheckoutService(
	db *gorm.DB,
	gateway client.CardGateway,
	productRepo repository.ProductRepository,
	paymentRepo repository.PaymentRepository,
	entitlementRepo repository.EntitlementRepository,
	log *zap.Logger,
) CardCheckoutService {
	return &cardCheckoutServiceImpl{
		db:              db,
		gateway:         gateway,
		productRepo:     productRepo,
		paymentRepo:     paymentRepo,
		entitlementRepo: entitlementRepo,
		log:             log,
	}
}

func (s *cardCheckoutServiceImpl) Checkout(ctx context.Context, userID string, req *dto.CardCheckoutRequest) (*dto.CardCheckoutResponse, error) {
	if req.ProductID == "" || req.Nonce == "" {
		return nil, errors.New("product_id and nonce are required")
	}

	product, err := s.productRepo.FindByID(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}

	owned, err := s.entitlementRepo.HasAccess(ctx, userID, product.ID)
	if err != nil {
		return nil, fmt.Errorf("check entitlement: %w", err)
	}
	if owned {
		return nil, ErrAlreadyOwned
	}

	orderID := uuid.NewString()
	transactionID, err := s.gateway.Charge(ctx, req.Nonce, product.Price, orderID)
	if err != nil {
		return nil, fmt.Errorf("charge card: %w", err)
	}

	// the card is charged; failures from here on need manual reconciliation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.paymentRepo.Create(ctx, tx, &model.Payment{
			ID:            uuid.NewString(),
			OrderID:       orderID,
			TransactionID: transactionID,
			UserID:        userID,
			ProductID:     product.ID,
			Amount:        product.Price,
			Currency:      product.Currency,
			Status:        repository.PaymentStatusPaid,
			Provider:      providerCard,
		})
		if err != nil {
			return fmt.Errorf("record payment: %w", err)
		}

		err = s.entitlementRepo.Grant(ctx, tx, &model.Entitlement{
			UserID:    userID,
			ProductID: product.ID,
			Source:    model.EntitlementSourceCard,
			SourceID:  orderID,
		})
		if err != nil {
			return fmt.Errorf("grant entitlement: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error("card charged but fulfillment failed",
			zap.String("order_id", orderID),
			zap.String("transaction_id", transactionID),
			zap.Error(err),
		)
		return nil, err
	}

	return &dto.CardCheckoutResponse{
		OrderID:       orderID,
		TransactionID: transactionID,
		ProductID:     product.ID,
		Amount:        product.Price.StringFixed(2),
		Currency:      product.Currency,
	}, nil
}
