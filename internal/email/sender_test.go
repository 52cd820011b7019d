package email

import (
	"bytes"
	"context"
	"marketplace-checkout/internal/config"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildConfirmation(t *testing.T) {
	m, err := buildConfirmation("shop@example.com", &PaymentConfirmation{
		To:           "reader@example.com",
		ProductTitle: "Concurrency in Go",
		OrderID:      "o-42",
		Amount:       "19.99",
		Currency:     "USD",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"reader@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"shop@example.com"}, m.GetHeader("From"))

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Concurrency in Go")
	assert.Contains(t, buf.String(), "o-42")
	assert.NotContains(t, buf.String(), "View receipt")
}

func TestBuildConfirmation_NoRecipient(t *testing.T) {
	_, err := buildConfirmation("shop@example.com", &PaymentConfirmation{OrderID: "o-1"})
	assert.Error(t, err)
}

func TestNewSender_WithoutHostOnlyLogs(t *testing.T) {
	s := NewSender(&config.SMTP{}, zap.NewNop())
	require.IsType(t, &logSender{}, s)
	assert.NoError(t, s.SendPaymentConfirmation(context.Background(), &PaymentConfirmation{To: "x@example.com"}))
}
