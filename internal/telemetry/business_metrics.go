package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for the payment flow.
// Methods are safe to call on a nil receiver so packages can record
// unconditionally, including in tests that never initialise metrics.
type BusinessMetrics struct {
	// Checkout funnel
	CheckoutStarted   prometheus.Counter
	CheckoutInitiated prometheus.Counter
	CheckoutFailed    *prometheus.CounterVec

	// Verification
	PaymentVerifications *prometheus.CounterVec
	PaymentsConfirmed    prometheus.Counter
	IPNReceived          *prometheus.CounterVec

	// Reconciler
	ReconcilerSweeps prometheus.Counter

	// Email delivery
	EmailSent   prometheus.Counter
	EmailFailed prometheus.Counter

	// External API performance
	GatewayLatency *prometheus.HistogramVec
}

// NewBusinessMetricsWith registers the metrics with reg.
func NewBusinessMetricsWith(reg prometheus.Registerer, namespace string) *BusinessMetrics {
	if namespace == "" {
		namespace = "suya"
	}
	factory := promauto.With(reg)

	return &BusinessMetrics{
		CheckoutStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_started_total",
			Help:      "Checkout initiation requests that passed validation",
		}),
		CheckoutInitiated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_initiated_total",
			Help:      "Checkouts that produced a gateway redirect URL",
		}),
		CheckoutFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkout_failed_total",
				Help:      "Checkout initiations that failed",
			},
			[]string{"reason"}, // reason: auth, submission, unavailable, conflict, invalid, not_found, internal
		),
		PaymentVerifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_verifications_total",
				Help:      "Gateway status lookups by normalized outcome",
			},
			[]string{"outcome"}, // outcome: confirmed, not_confirmed, error
		),
		PaymentsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_confirmed_total",
			Help:      "Orders moved from pending to paid",
		}),
		IPNReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ipn_received_total",
				Help:      "Instant payment notifications received from Pesapal",
			},
			[]string{"notification_type"},
		),
		ReconcilerSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_sweeps_total",
			Help:      "Completed reconciler sweeps",
		}),
		EmailSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_sent_total",
			Help:      "Payment receipts delivered to the mail server",
		}),
		EmailFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_failed_total",
			Help:      "Payment receipts that could not be sent",
		}),
		GatewayLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_request_duration_seconds",
				Help:      "Pesapal API call duration (helps differentiate app slowness from gateway issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 8, 15},
			},
			[]string{"operation", "result"}, // result: ok, error, unavailable
		),
	}
}

// Global instance for easy access from services and handlers
var Business *BusinessMetrics

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetricsWith(prometheus.DefaultRegisterer, namespace)
	return Business
}

func (m *BusinessMetrics) RecordCheckoutStarted() {
	if m == nil {
		return
	}
	m.CheckoutStarted.Inc()
}

func (m *BusinessMetrics) RecordCheckoutInitiated() {
	if m == nil {
		return
	}
	m.CheckoutInitiated.Inc()
}

func (m *BusinessMetrics) RecordCheckoutFailed(reason string) {
	if m == nil {
		return
	}
	m.CheckoutFailed.WithLabelValues(reason).Inc()
}

func (m *BusinessMetrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.PaymentVerifications.WithLabelValues(outcome).Inc()
}

func (m *BusinessMetrics) RecordPaymentConfirmed() {
	if m == nil {
		return
	}
	m.PaymentsConfirmed.Inc()
}

func (m *BusinessMetrics) RecordIPN(notificationType string) {
	if m == nil {
		return
	}
	if notificationType == "" {
		notificationType = "unknown"
	}
	m.IPNReceived.WithLabelValues(notificationType).Inc()
}

func (m *BusinessMetrics) RecordReconcilerSweep() {
	if m == nil {
		return
	}
	m.ReconcilerSweeps.Inc()
}

// RecordEmail counts a receipt delivery attempt.
func (m *BusinessMetrics) RecordEmail(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.EmailFailed.Inc()
		return
	}
	m.EmailSent.Inc()
}

// ObserveGatewayRequest records the duration of one Pesapal call.
func (m *BusinessMetrics) ObserveGatewayRequest(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayLatency.WithLabelValues(operation, result).Observe(d.Seconds())
}
