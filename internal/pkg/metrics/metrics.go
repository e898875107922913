package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pixelstudio"

// Metrics holds the Prometheus collectors for credit and billing activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ledgerMutations *prometheus.CounterVec
	creditsMoved    *prometheus.CounterVec
	denials         *prometheus.CounterVec
	operations      *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	queueJobs       *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the collectors registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers a fresh set of collectors with reg. Collectors that are
// already registered under the same name are reused.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ledgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "Ledger mutations by entry kind and outcome.",
		}, []string{"kind", "outcome"}),
		creditsMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Absolute credits moved by applied mutations.",
		}, []string{"kind", "direction"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "entitlements",
			Name:      "denials_total",
			Help:      "Entitlement denials by reason.",
		}, []string{"reason"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "operations_total",
			Help:      "Finished operations by type and final status.",
		}, []string{"operation_type", "status"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Billing webhook deliveries by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		queueJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobqueue",
			Name:      "jobs_total",
			Help:      "Async jobs processed by type and outcome.",
		}, []string{"job_type", "outcome"}),
	}
	m.ledgerMutations = register(reg, m.ledgerMutations)
	m.creditsMoved = register(reg, m.creditsMoved)
	m.denials = register(reg, m.denials)
	m.operations = register(reg, m.operations)
	m.webhookEvents = register(reg, m.webhookEvents)
	m.queueJobs = register(reg, m.queueJobs)
	return m
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// LedgerMutation counts one mutation attempt. outcome is "applied",
// "replayed" or an error class.
func (m *Metrics) LedgerMutation(kind, outcome string, amount int64) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(kind, outcome).Inc()
	if outcome != "applied" {
		return
	}
	direction := "credit"
	if amount < 0 {
		direction = "debit"
		amount = -amount
	}
	m.creditsMoved.WithLabelValues(kind, direction).Add(float64(amount))
}

func (m *Metrics) Denial(reason string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(reason).Inc()
}

func (m *Metrics) Operation(operationType, status string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operationType, status).Inc()
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) QueueJob(jobType, outcome string) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(jobType, outcome).Inc()
}
