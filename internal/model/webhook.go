package model

import (
	"encoding/json"
	"errors"
	"strconv"
)

type EventName string

const (
	EventProductCreated        EventName = "product_created"
	EventProductUpdated        EventName = "product_updated"
	EventProductDeleted        EventName = "product_deleted"
	EventSubscriptionCreated   EventName = "subscription_created"
	EventSubscriptionUpdated   EventName = "subscription_updated"
	EventSubscriptionCancelled EventName = "subscription_cancelled"
	EventPaymentSucceeded      EventName = "payment_succeeded"
	EventPaymentRefunded       EventName = "payment_refunded"
)

func KnownEvents() []EventName {
	return []EventName{
		EventProductCreated,
		EventProductUpdated,
		EventProductDeleted,
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionCancelled,
		EventPaymentSucceeded,
		EventPaymentRefunded,
	}
}

var ErrMissingAlertName = errors.New("webhook payload has no alert_name")

// WebhookPayload keeps alert_name apart and every other field raw, since
// the field set depends on the event.
type WebhookPayload struct {
	AlertName EventName
	AlertID   string
	Fields    map[string]json.RawMessage
}

func (p *WebhookPayload) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("webhook payload is not a json object")
	}

	raw, ok := fields["alert_name"]
	if !ok {
		return ErrMissingAlertName
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return errors.New("alert_name must be a string")
	}
	if name == "" {
		return ErrMissingAlertName
	}

	p.AlertName = EventName(name)
	p.AlertID = stringField(fields["alert_id"])
	p.Fields = fields
	return nil
}

// String returns a field as a string. Numbers are returned in their JSON
// form; missing, null or non-scalar fields give "".
func (p *WebhookPayload) String(key string) string {
	return stringField(p.Fields[key])
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}
