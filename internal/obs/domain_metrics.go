package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// DocumentsComputedTotal counts document total computations by kind and result.
	DocumentsComputedTotal *prometheus.CounterVec
	// PaymentsRecordedTotal counts payment ledger mutations by operation and result.
	PaymentsRecordedTotal *prometheus.CounterVec
	// StatusTransitionsTotal counts invoice status re-derivations that changed state.
	StatusTransitionsTotal *prometheus.CounterVec
	// WebhookNotifyTotal counts webhook notification outcomes.
	WebhookNotifyTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers billing-specific
// Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		DocumentsComputedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_computed_total",
			Help:      "Count of quote/invoice total computations by outcome.",
		}, []string{"kind", "result"})
		PaymentsRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Count of payment ledger mutations by operation and outcome.",
		}, []string{"op", "result"})
		StatusTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_status_transitions_total",
			Help:      "Count of invoice status transitions by source and target state.",
		}, []string{"from", "to"})
		WebhookNotifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_notify_total",
			Help:      "Count of webhook notification outcomes.",
		}, []string{"result"})

		DocumentsComputedTotal = register(reg, DocumentsComputedTotal)
		PaymentsRecordedTotal = register(reg, PaymentsRecordedTotal)
		StatusTransitionsTotal = register(reg, StatusTransitionsTotal)
		WebhookNotifyTotal = register(reg, WebhookNotifyTotal)
	})
}
