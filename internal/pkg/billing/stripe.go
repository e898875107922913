package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPayload is returned for webhook bodies that are not a
// well-formed provider event.
var ErrInvalidPayload = errors.New("billing: invalid webhook payload")

// stripeRef decodes Stripe fields that are either an id string or an
// expanded object carrying an id.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = stripeRef(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*r = stripeRef(strings.TrimSpace(obj.ID))
	return nil
}

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSubscription struct {
	ID                 string    `json:"id"`
	Customer           stripeRef `json:"customer"`
	Status             string    `json:"status"`
	CurrentPeriodStart int64     `json:"current_period_start"`
	CurrentPeriodEnd   int64     `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Plan *struct {
		ID string `json:"id"`
	} `json:"plan"`
	Metadata map[string]string `json:"metadata"`
}

type stripeInvoice struct {
	ID            string    `json:"id"`
	Customer      stripeRef `json:"customer"`
	Subscription  stripeRef `json:"subscription"`
	BillingReason string    `json:"billing_reason"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription stripeRef `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// ParseStripeEvent decodes a Stripe webhook body into a typed Event.
// Unsupported event types yield an UnknownEvent, not an error.
func ParseStripeEvent(payload []byte) (Event, error) {
	var env stripeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	env.ID = strings.TrimSpace(env.ID)
	if env.ID == "" || strings.TrimSpace(env.Type) == "" {
		return nil, fmt.Errorf("%w: missing event id or type", ErrInvalidPayload)
	}

	eventType := normalizeEventType(env.Type)
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return parseStripeSubscription(env.ID, eventType, env.Data.Object)
	case EventInvoicePaid:
		return parseStripeInvoice(env.ID, env.Data.Object)
	default:
		return UnknownEvent{ExternalEventID: env.ID, Type: eventType}, nil
	}
}

func parseStripeSubscription(eventID, eventType string, object json.RawMessage) (Event, error) {
	var raw stripeSubscription
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, fmt.Errorf("%w: subscription object: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, fmt.Errorf("%w: subscription without id", ErrInvalidPayload)
	}

	ev := SubscriptionEvent{
		ExternalEventID:        eventID,
		Type:                   eventType,
		ProviderSubscriptionID: strings.TrimSpace(raw.ID),
		CustomerRef:            string(raw.Customer),
		Status:                 raw.Status,
		AccountHint:            strings.TrimSpace(raw.Metadata["account_id"]),
		RawPayloadJSON:         string(object),
	}

	start, end := raw.CurrentPeriodStart, raw.CurrentPeriodEnd
	if len(raw.Items.Data) > 0 {
		item := raw.Items.Data[0]
		ev.PlanID = strings.TrimSpace(item.Price.ID)
		// Newer API versions moved the billing period onto the item.
		if start == 0 {
			start = item.CurrentPeriodStart
		}
		if end == 0 {
			end = item.CurrentPeriodEnd
		}
	}
	if ev.PlanID == "" && raw.Plan != nil {
		ev.PlanID = strings.TrimSpace(raw.Plan.ID)
	}
	ev.CurrentPeriodStart = unixTime(start)
	ev.CurrentPeriodEnd = unixTime(end)
	return ev, nil
}

func parseStripeInvoice(eventID string, object json.RawMessage) (Event, error) {
	var raw stripeInvoice
	if err := json.Unmarshal(object, &raw); err != nil {
		return nil, fmt.Errorf("%w: invoice object: %v", ErrInvalidPayload, err)
	}
	subID := string(raw.Subscription)
	if subID == "" && raw.Parent != nil && raw.Parent.SubscriptionDetails != nil {
		subID = string(raw.Parent.SubscriptionDetails.Subscription)
	}
	return InvoicePaidEvent{
		ExternalEventID:        eventID,
		InvoiceID:              strings.TrimSpace(raw.ID),
		ProviderSubscriptionID: subID,
		CustomerRef:            string(raw.Customer),
		BillingReason:          strings.TrimSpace(raw.BillingReason),
	}, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
