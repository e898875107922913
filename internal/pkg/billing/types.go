package billing

import "time"

// Normalized event types handled by the reconciler.
const (
	EventSubscriptionCreated = "subscription.created"
	EventSubscriptionUpdated = "subscription.updated"
	EventSubscriptionDeleted = "subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
)

// BillingReasonSubscriptionCycle marks an invoice for a renewal period.
const BillingReasonSubscriptionCycle = "subscription_cycle"

// Event is a provider webhook event parsed at the boundary. The concrete
// type is one of SubscriptionEvent, InvoicePaidEvent or UnknownEvent.
type Event interface {
	EventID() string
	EventType() string
	billingEvent()
}

// SubscriptionEvent carries a full subscription snapshot.
type SubscriptionEvent struct {
	ExternalEventID        string
	Type                   string
	ProviderSubscriptionID string
	CustomerRef            string
	PlanID                 string
	Status                 string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	// AccountHint is the account id the checkout attached as metadata. It
	// links a customer that has not been seen before.
	AccountHint    string
	RawPayloadJSON string
}

func (e SubscriptionEvent) EventID() string   { return e.ExternalEventID }
func (e SubscriptionEvent) EventType() string { return e.Type }
func (SubscriptionEvent) billingEvent()       {}

// InvoicePaidEvent reports a successful invoice payment.
type InvoicePaidEvent struct {
	ExternalEventID        string
	InvoiceID              string
	ProviderSubscriptionID string
	CustomerRef            string
	BillingReason          string
}

func (e InvoicePaidEvent) EventID() string { return e.ExternalEventID }
func (InvoicePaidEvent) EventType() string { return EventInvoicePaid }
func (InvoicePaidEvent) billingEvent()     {}

// UnknownEvent is any event type the reconciler does not act on.
type UnknownEvent struct {
	ExternalEventID string
	Type            string
}

func (e UnknownEvent) EventID() string   { return e.ExternalEventID }
func (e UnknownEvent) EventType() string { return e.Type }
func (UnknownEvent) billingEvent()       {}

// Outcome describes what the reconciler did with an event.
type Outcome string

const (
	OutcomeGranted   Outcome = "granted"
	OutcomeSynced    Outcome = "synced"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result summarizes the handling of one event.
type Result struct {
	EventID   string  `json:"event_id"`
	EventType string  `json:"event_type"`
	Outcome   Outcome `json:"outcome"`
	AccountID string  `json:"account_id,omitempty"`
	Granted   int64   `json:"granted,omitempty"`
	EntryID   uint    `json:"entry_id,omitempty"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
