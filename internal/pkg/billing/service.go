package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/metrics"
)

// AccountLinker resolves payment-provider customers to local accounts.
type AccountLinker interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByBillingCustomerRef(ctx context.Context, ref string) (*models.Account, error)
	LinkBillingCustomer(ctx context.Context, id, ref string) error
}

// Service reconciles provider billing events into subscriptions and credit
// grants. Every grant carries the provider event id as its idempotency key,
// so redelivered or concurrent copies of an event grant at most once.
type Service struct {
	repo     Repository
	accounts AccountLinker
	ledger   *ledger.Service
	provider string
	metrics  *metrics.Metrics
}

// NewService creates a billing service for the Stripe provider. m may be nil.
func NewService(repo Repository, accounts AccountLinker, ledgerSvc *ledger.Service, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		accounts: accounts,
		ledger:   ledgerSvc,
		provider: models.BillingProviderStripe,
		metrics:  m,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, accounts AccountLinker, ledgerSvc *ledger.Service, m *metrics.Metrics) *Service {
	return NewService(NewRepository(db), accounts, ledgerSvc, m)
}

// ProcessWebhook records a verified webhook delivery, parses it and applies
// it. Exact redeliveries of an already processed event short-circuit. A
// returned error means the provider should retry.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, signatureValid bool) (*Result, error) {
	ev, err := ParseStripeEvent(payload)
	if err != nil {
		s.metrics.WebhookEvent("invalid", "rejected")
		return nil, err
	}

	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        s.provider,
		ProviderEventID: ev.EventID(),
		EventType:       ev.EventType(),
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !created && stored.IsProcessed() {
		log.Infof("[Billing] Duplicate webhook event %s ignored", ev.EventID())
		s.metrics.WebhookEvent(ev.EventType(), string(OutcomeDuplicate))
		return &Result{EventID: ev.EventID(), EventType: ev.EventType(), Outcome: OutcomeDuplicate}, nil
	}

	res, handleErr := s.Handle(ctx, ev)
	if markErr := s.MarkWebhookProcessed(ctx, stored.ID, handleErr); markErr != nil {
		log.Warnf("[Billing] Failed to mark webhook event %s processed: %v", ev.EventID(), markErr)
	}
	if handleErr != nil {
		s.metrics.WebhookEvent(ev.EventType(), "error")
		return nil, handleErr
	}
	s.metrics.WebhookEvent(ev.EventType(), string(res.Outcome))
	return res, nil
}

// Handle applies a single typed event. Events that cannot be matched to a
// local account or subscription are acknowledged with OutcomeUnmatched.
func (s *Service) Handle(ctx context.Context, ev Event) (*Result, error) {
	switch e := ev.(type) {
	case SubscriptionEvent:
		if e.Type == EventSubscriptionDeleted {
			return s.handleSubscriptionDeleted(ctx, e)
		}
		return s.handleSubscriptionChanged(ctx, e)
	case InvoicePaidEvent:
		return s.handleInvoicePaid(ctx, e)
	case UnknownEvent:
		log.Debugf("[Billing] Unhandled event type %s (%s)", e.Type, e.ExternalEventID)
		return &Result{EventID: e.ExternalEventID, EventType: e.Type, Outcome: OutcomeIgnored}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrInvalidPayload, ev)
	}
}

func (s *Service) handleSubscriptionChanged(ctx context.Context, e SubscriptionEvent) (*Result, error) {
	res := &Result{EventID: e.ExternalEventID, EventType: e.Type, Outcome: OutcomeUnmatched}

	acct, err := s.resolveAccount(ctx, e.CustomerRef, e.AccountHint)
	if errors.Is(err, ledger.ErrNotFound) {
		log.Warnf("[Billing] No account for customer %q (event %s)", e.CustomerRef, e.ExternalEventID)
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.AccountID = acct.ID

	sub := s.snapshot(e, acct.ID, normalizeStatus(e.Status))
	applied, err := s.repo.UpsertSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", e.ProviderSubscriptionID, err)
	}
	if !applied {
		log.Infof("[Billing] Stale snapshot of subscription %s ignored (event %s)", e.ProviderSubscriptionID, e.ExternalEventID)
		res.Outcome = OutcomeStale
		return res, nil
	}
	res.Outcome = OutcomeSynced

	if !sub.IsActive() {
		log.Infof("[Billing] Subscription %s synced with status %s, no bonus", sub.ProviderSubscriptionID, sub.Status)
		return res, nil
	}
	return s.grant(ctx, res, sub.AccountID, sub.PlanID, "Monthly subscription bonus")
}

// handleSubscriptionDeleted stores the deletion as a canceled snapshot. A
// subscription seen for the first time is kept as a canceled row so a late
// creation event cannot revive it.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, e SubscriptionEvent) (*Result, error) {
	res := &Result{EventID: e.ExternalEventID, EventType: e.Type, Outcome: OutcomeUnmatched}

	var accountID string
	existing, err := s.repo.GetSubscription(ctx, s.provider, e.ProviderSubscriptionID)
	switch {
	case err == nil:
		accountID = existing.AccountID
	case errors.Is(err, ledger.ErrNotFound):
		acct, err := s.resolveAccount(ctx, e.CustomerRef, e.AccountHint)
		if errors.Is(err, ledger.ErrNotFound) {
			log.Warnf("[Billing] Cancel for unknown subscription %s (event %s)", e.ProviderSubscriptionID, e.ExternalEventID)
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		accountID = acct.ID
	default:
		return nil, err
	}
	res.AccountID = accountID

	sub := s.snapshot(e, accountID, models.BillingStatusCanceled)
	applied, err := s.repo.UpsertSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription %s: %w", e.ProviderSubscriptionID, err)
	}
	if !applied {
		log.Infof("[Billing] Stale cancel of subscription %s ignored (event %s)", e.ProviderSubscriptionID, e.ExternalEventID)
		res.Outcome = OutcomeStale
		return res, nil
	}
	res.Outcome = OutcomeCanceled
	log.Infof("[Billing] Subscription %s canceled", e.ProviderSubscriptionID)
	return res, nil
}

func (s *Service) snapshot(e SubscriptionEvent, accountID, status string) *models.BillingSubscription {
	return &models.BillingSubscription{
		AccountID:              accountID,
		Provider:               s.provider,
		ProviderSubscriptionID: e.ProviderSubscriptionID,
		PlanID:                 e.PlanID,
		Status:                 status,
		CurrentPeriodStart:     e.CurrentPeriodStart,
		CurrentPeriodEnd:       e.CurrentPeriodEnd,
		RawPayloadJSON:         e.RawPayloadJSON,
	}
}

func (s *Service) handleInvoicePaid(ctx context.Context, e InvoicePaidEvent) (*Result, error) {
	res := &Result{EventID: e.ExternalEventID, EventType: EventInvoicePaid, Outcome: OutcomeIgnored}
	if e.BillingReason != BillingReasonSubscriptionCycle {
		log.Debugf("[Billing] Invoice %s with reason %q needs no grant", e.InvoiceID, e.BillingReason)
		return res, nil
	}

	sub, err := s.repo.GetSubscription(ctx, s.provider, e.ProviderSubscriptionID)
	if errors.Is(err, ledger.ErrNotFound) {
		log.Warnf("[Billing] Renewal for unknown subscription %q (event %s)", e.ProviderSubscriptionID, e.ExternalEventID)
		res.Outcome = OutcomeUnmatched
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.AccountID = sub.AccountID
	return s.grant(ctx, res, sub.AccountID, sub.PlanID, "Monthly subscription renewal")
}

// grant credits the plan bonus keyed by the event id.
func (s *Service) grant(ctx context.Context, res *Result, accountID, planID, label string) (*Result, error) {
	mapping, err := s.repo.FindActivePlanMapping(ctx, s.provider, planID)
	if errors.Is(err, ledger.ErrNotFound) {
		log.Warnf("[Billing] No active plan mapping for %q (event %s)", planID, res.EventID)
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	if mapping.CreditBonus <= 0 {
		return res, nil
	}

	entry, err := s.ledger.Mutate(ctx, ledger.MutateInput{
		AccountID:      accountID,
		Amount:         mapping.CreditBonus,
		Kind:           models.LedgerKindSubscriptionBonus,
		Description:    fmt.Sprintf("%s: %d credits", label, mapping.CreditBonus),
		IdempotencyKey: res.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("grant %d credits for event %s: %w", mapping.CreditBonus, res.EventID, err)
	}
	res.Outcome = OutcomeGranted
	res.Granted = mapping.CreditBonus
	res.EntryID = entry.ID
	return res, nil
}

// resolveAccount finds the account for a customer. An unseen customer is
// linked through the account id the checkout stored in metadata.
func (s *Service) resolveAccount(ctx context.Context, customerRef, accountHint string) (*models.Account, error) {
	acct, err := s.accounts.GetByBillingCustomerRef(ctx, customerRef)
	if err == nil || !errors.Is(err, ledger.ErrNotFound) || accountHint == "" || customerRef == "" {
		return acct, err
	}

	acct, err = s.accounts.GetByID(ctx, accountHint)
	if err != nil {
		return nil, err
	}
	if acct.HasBillingCustomer() && *acct.BillingCustomerRef != customerRef {
		log.Warnf("[Billing] Account %s already linked to %s, not relinking to %s", acct.ID, *acct.BillingCustomerRef, customerRef)
		return nil, ledger.ErrNotFound
	}
	if err := s.accounts.LinkBillingCustomer(ctx, acct.ID, customerRef); err != nil {
		return nil, fmt.Errorf("link customer %s: %w", customerRef, err)
	}
	log.Infof("[Billing] Linked customer %s to account %s", customerRef, acct.ID)
	ref := customerRef
	acct.BillingCustomerRef = &ref
	return acct, nil
}

// Subscriptions lists the account's subscriptions, newest first.
func (s *Service) Subscriptions(ctx context.Context, accountID string) ([]models.BillingSubscription, error) {
	return s.repo.ListSubscriptionsByAccount(ctx, accountID)
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}
