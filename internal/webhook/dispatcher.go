package webhook

import (
	"context"
	"fmt"
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/monitoring"

	"go.uber.org/zap"
)

// EventHandler has one method per billing event the marketplace reacts to.
type EventHandler interface {
	ProductCreated(ctx context.Context, payload *model.WebhookPayload) error
	ProductUpdated(ctx context.Context, payload *model.WebhookPayload) error
	ProductDeleted(ctx context.Context, payload *model.WebhookPayload) error
	SubscriptionCreated(ctx context.Context, payload *model.WebhookPayload) error
	SubscriptionUpdated(ctx context.Context, payload *model.WebhookPayload) error
	SubscriptionCancelled(ctx context.Context, payload *model.WebhookPayload) error
	PaymentSucceeded(ctx context.Context, payload *model.WebhookPayload) error
	PaymentRefunded(ctx context.Context, payload *model.WebhookPayload) error
}

// EventLog remembers processed alert ids so a redelivered webhook is not
// handled twice. repository.WebhookEventRepository satisfies it.
type EventLog interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, payload *model.WebhookPayload) error
}

type dispatcherImpl struct {
	handler EventHandler
	events  EventLog
	log     *zap.Logger
}

// NewDispatcher routes payloads to handler. events may be nil, in which
// case redeliveries are handled again.
func NewDispatcher(handler EventHandler, events EventLog, log *zap.Logger) Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &dispatcherImpl{
		handler: handler,
		events:  events,
		log:     log,
	}
}

func (d *dispatcherImpl) Dispatch(ctx context.Context, payload *model.WebhookPayload) error {
	fn := d.route(payload.AlertName)
	if fn == nil {
		d.log.Warn("unhandled webhook event", zap.String("alert_name", string(payload.AlertName)))
		monitoring.WebhookEvents.WithLabelValues("unknown", "ignored").Inc()
		return nil
	}

	name := string(payload.AlertName)
	if d.events != nil && payload.AlertID != "" {
		seen, err := d.events.Exists(ctx, payload.AlertID)
		if err != nil {
			monitoring.WebhookEvents.WithLabelValues(name, "error").Inc()
			return fmt.Errorf("check webhook event: %w", err)
		}
		if seen {
			d.log.Info("webhook event already processed",
				zap.String("alert_name", name),
				zap.String("alert_id", payload.AlertID),
			)
			monitoring.WebhookEvents.WithLabelValues(name, "duplicate").Inc()
			return nil
		}
	}

	if err := fn(ctx, payload); err != nil {
		monitoring.WebhookEvents.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("handle %s: %w", name, err)
	}

	if d.events != nil && payload.AlertID != "" {
		if err := d.events.MarkProcessed(ctx, payload.AlertID, name); err != nil {
			// handled already; a redelivery is the worst outcome
			d.log.Error("record webhook event", zap.String("alert_id", payload.AlertID), zap.Error(err))
		}
	}

	monitoring.WebhookEvents.WithLabelValues(name, "handled").Inc()
	return nil
}

func (d *dispatcherImpl) route(name model.EventName) func(context.Context, *model.WebhookPayload) error {
	switch name {
	case model.EventProductCreated:
		return d.handler.ProductCreated
	case model.EventProductUpdated:
		return d.handler.ProductUpdated
	case model.EventProductDeleted:
		return d.handler.ProductDeleted
	case model.EventSubscriptionCreated:
		return d.handler.SubscriptionCreated
	case model.EventSubscriptionUpdated:
		return d.handler.SubscriptionUpdated
	case model.EventSubscriptionCancelled:
		return d.handler.SubscriptionCancelled
	case model.EventPaymentSucceeded:
		return d.handler.PaymentSucceeded
	case model.EventPaymentRefunded:
		return d.handler.PaymentRefunded
	}
	return nil
}
