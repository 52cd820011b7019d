package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"marketplace-checkout/internal/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) ProductCreated(_ context.Context, p *model.WebhookPayload) error {
	return m.Called(p).Error(0)
}
func (m *mockHandler) ProductUpdated(_ context.Context, p *model.WebhookPayload) error {
	return m.Called(p).Error(0)
}
func (m *mockHandler) ProductDeleted(_ context.Context, p *model.WebhookPayload) error {
	return m.Called(p).Error(0)
}
func (m *mockHandler) SubscriptionCreated(_ context.Context, p *model.WebhookPayload) error {
	return m.Called(p).Error(0)
}
func (m *mockHandler) SubscriptionUpdated(_ context.Context, p *model.WebhookPayload) error {
	return m.Called(p).Error(0)
}
func (m *mockHandler) SubscriptionCancelled(_ context.Context, p *model.WebhookPayload) error {
	return m.Called(p).Error(0)
}
func (m *mockHandler) PaymentSucceeded(_ context.Context, p *model.WebhookPayload) error {
	return m.Called(p).Error(0)
}
func (m *mockHandler) PaymentRefunded(_ context.Context, p *model.WebhookPayload) error {
	return m.Called(p).Error(0)
}

type memoryLog struct {
	seen map[string]string
}

func (l *memoryLog) Exists(_ context.Context, id string) (bool, error) {
	_, ok := l.seen[id]
	return ok, nil
}

func (l *memoryLog) MarkProcessed(_ context.Context, id, eventType string) error {
	l.seen[id] = eventType
	return nil
}

func payload(t *testing.T, body string) *model.WebhookPayload {
	t.Helper()
	var p model.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	return &p
}

func TestDispatch_ExactlyOneHandlerPerEvent(t *testing.T) {
	methods := map[model.EventName]string{
		model.EventProductCreated:        "ProductCreated",
		model.EventProductUpdated:        "ProductUpdated",
		model.EventProductDeleted:        "ProductDeleted",
		model.EventSubscriptionCreated:   "SubscriptionCreated",
		model.EventSubscriptionUpdated:   "SubscriptionUpdated",
		model.EventSubscriptionCancelled: "SubscriptionCancelled",
		model.EventPaymentSucceeded:      "PaymentSucceeded",
		model.EventPaymentRefunded:       "PaymentRefunded",
	}
	require.Len(t, methods, len(model.KnownEvents()))

	for event, method := range methods {
		t.Run(string(event), func(t *testing.T) {
			h := &mockHandler{}
			p := payload(t, `{"alert_name":"`+string(event)+`","order_id":"o-1"}`)
			h.On(method, p).Return(nil).Once()

			err := NewDispatcher(h, nil, nil).Dispatch(context.Background(), p)
			require.NoError(t, err)

			h.AssertExpectations(t)
			h.AssertNumberOfCalls(t, method, 1)
			assert.Len(t, h.Calls, 1, "no other handler may run")
		})
	}
}

func TestDispatch_UnknownEventIsIgnored(t *testing.T) {
	h := &mockHandler{}
	err := NewDispatcher(h, nil, nil).Dispatch(context.Background(), payload(t, `{"alert_name":"invoice_paid"}`))
	assert.NoError(t, err)
	assert.Empty(t, h.Calls)
}

func TestDispatch_HandlerErrorPropagates(t *testing.T) {
	h := &mockHandler{}
	boom := errors.New("db down")
	h.On("PaymentSucceeded", mock.Anything).Return(boom)

	err := NewDispatcher(h, nil, nil).Dispatch(context.Background(), payload(t, `{"alert_name":"payment_succeeded"}`))
	assert.ErrorIs(t, err, boom)
}

func TestDispatch_SkipsProcessedAlert(t *testing.T) {
	h := &mockHandler{}
	h.On("PaymentRefunded", mock.Anything).Return(nil)
	events := &memoryLog{seen: map[string]string{}}
	d := NewDispatcher(h, events, nil)

	p := payload(t, `{"alert_name":"payment_refunded","alert_id":123456}`)
	require.NoError(t, d.Dispatch(context.Background(), p))
	require.NoError(t, d.Dispatch(context.Background(), p))

	h.AssertNumberOfCalls(t, "PaymentRefunded", 1)
	assert.Equal(t, "payment_refunded", events.seen["123456"])
}

func TestDispatch_FailedAlertIsRetried(t *testing.T) {
	h := &mockHandler{}
	h.On("ProductDeleted", mock.Anything).Return(errors.New("locked")).Once()
	h.On("ProductDeleted", mock.Anything).Return(nil).Once()
	events := &memoryLog{seen: map[string]string{}}
	d := NewDispatcher(h, events, nil)

	p := payload(t, `{"alert_name":"product_deleted","alert_id":"a-1"}`)
	assert.Error(t, d.Dispatch(context.Background(), p))
	assert.NoError(t, d.Dispatch(context.Background(), p))
	h.AssertNumberOfCalls(t, "ProductDeleted", 2)
}
