package client

import (
	"context"
	"errors"
	"fmt"
	"marketplace-checkout/internal/config"

	"github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"
)

var ErrCardDeclined = errors.New("card payment declined")

// CardGateway charges the payment form's card nonce.
type CardGateway interface {
	// Charge settles amount against a one-time nonce and returns the
	// processor transaction id.
	Charge(ctx context.Context, nonce string, amount decimal.Decimal, orderRef string) (string, error)
}

type braintreeGatewayImpl struct {
	gateway *braintree.Braintree
}

func NewCardGateway(cfg *config.Braintree) CardGateway {
	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}

	return &braintreeGatewayImpl{
		gateway: braintree.New(env, cfg.MerchantID, cfg.PublicKey, cfg.PrivateKey),
	}
}

func (c *braintreeGatewayImpl) Charge(ctx context.Context, nonce string, amount decimal.Decimal, orderRef string) (string, error) {
	if nonce == "" {
		return "", errors.New("payment method nonce is required")
	}
	if !amount.IsPositive() {
		return "", errors.New("amount must be positive")
	}

	req := &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             ToBraintreeAmount(amount),
		PaymentMethodNonce: nonce,
		OrderId:            orderRef,
		Options: &braintree.TransactionOptions{
			SubmitForSettlement: true,
		},
	}

	tx, err := c.gateway.Transaction().Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("braintree create transaction: %w", err)
	}

	if tx.Status == braintree.TransactionStatusProcessorDeclined || tx.Status == braintree.TransactionStatusGatewayRejected {
		return "", fmt.Errorf("%w: %s", ErrCardDeclined, tx.ProcessorResponseText)
	}

	return tx.Id, nil
}

// ToBraintreeAmount converts to braintree's fixed two-decimal form,
// rounding half away from zero.
func ToBraintreeAmount(amount decimal.Decimal) *braintree.Decimal {
	cents := amount.Round(2).Mul(decimal.NewFromInt(100)).IntPart()
	return braintree.NewDecimal(cents, 2)
}
