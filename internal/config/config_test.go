package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WEBHOOK_PUBLIC_KEY", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.Checkout.PollInterval)
	assert.Equal(t, time.Second, cfg.Checkout.CountdownInterval)
	assert.Equal(t, 2*time.Second, cfg.Checkout.CopiedDuration)
	assert.Empty(t, cfg.Webhook.PublicKey)
}

func TestLoad_Prefixes(t *testing.T) {
	t.Setenv("WEBHOOK_PUBLIC_KEY", "pem")
	t.Setenv("PAYMENT_API_BASE_URL", "https://pay.example.com")
	t.Setenv("PAYMENT_API_TIMEOUT", "3s")
	t.Setenv("CHECKOUT_POLL_INTERVAL", "5s")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("BRAINTREE_MERCHANT_ID", "m-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pem", cfg.Webhook.PublicKey)
	assert.Equal(t, "https://pay.example.com", cfg.PaymentAPI.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.PaymentAPI.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Checkout.PollInterval)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.Equal(t, "m-1", cfg.BrainTree.MerchantID)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("CHECKOUT_POLL_INTERVAL", "soon")

	_, err := Load()
	assert.Error(t, err)
}
