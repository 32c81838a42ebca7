package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitlement"

// Outcome labels shared by the business counters.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeError     = "error"
	OutcomeNotFound  = "not_found"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

var (
	PurchaseValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "purchase_validations_total",
		Help:      "Client purchase validations by platform, vendor environment and outcome.",
	}, []string{"platform", "environment", "outcome"})

	WebhookNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_notifications_total",
		Help:      "Vendor notifications by platform, notification kind and outcome.",
	}, []string{"platform", "kind", "outcome"})

	SubscriptionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_transitions_total",
		Help:      "Subscription status writes by change reason and resulting status.",
	}, []string{"reason", "status"})
)

// VendorRequestDuration times outbound store calls by vendor, endpoint and HTTP status ("error" on transport failure).
var VendorRequestDuration = mustRegister(&Metric{
	Name:        "request_duration_ms",
	Description: "Store API round trips in milliseconds.",
	Type:        MetricTypeHistogramVec,
	Labels:      []string{"vendor", "endpoint", "code"},
}, "vendor").(*prometheus.HistogramVec)

func mustRegister(m *Metric, subsystem string) prometheus.Collector {
	c := NewMetric(m, subsystem)
	prometheus.MustRegister(c)
	m.Collector = c
	return c
}

// ObserveVendorRequest records one store call started at start.
func ObserveVendorRequest(vendor, endpoint string, code int, start time.Time) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	VendorRequestDuration.WithLabelValues(vendor, endpoint, label).Observe(MillisecondsSince(start))
}
