// Package metrics exposes Prometheus instrumentation for the review engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// proposalsEnqueued counts enqueued proposals.
	// Labels: change_kind, operation
	proposalsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_review",
		Subsystem: "proposals",
		Name:      "enqueued_total",
		Help:      "Total change proposals enqueued",
	}, []string{"change_kind", "operation"})

	// proposalConfidence tracks the distribution of producer confidence scores.
	// Labels: change_kind
	proposalConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ekaya_review",
		Subsystem: "proposals",
		Name:      "confidence",
		Help:      "Distribution of proposal confidence scores",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	}, []string{"change_kind"})

	// transitions counts proposal status transitions.
	// Labels: from, to
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_review",
		Subsystem: "proposals",
		Name:      "transitions_total",
		Help:      "Total proposal status transitions",
	}, []string{"from", "to"})

	// operationErrors counts failed engine operations by error kind.
	// Labels: operation (approve, reject, undo, dry_run), kind
	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_review",
		Subsystem: "engine",
		Name:      "errors_total",
		Help:      "Total review engine errors by kind",
	}, []string{"operation", "kind"})

	// applyLatency measures target writes.
	// Labels: operation (insert, upsert, update, delete, restore), status (success, error)
	applyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ekaya_review",
		Subsystem: "engine",
		Name:      "apply_duration_seconds",
		Help:      "Target record write latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// notificationDeliveries counts notification deliveries per channel.
	// Labels: channel, status (success, error)
	notificationDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_review",
		Subsystem: "notify",
		Name:      "deliveries_total",
		Help:      "Total notification deliveries by channel and status",
	}, []string{"channel", "status"})

	// auditWriteFailures counts audit sink writes that were swallowed.
	// Labels: sink (store, journal)
	auditWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_review",
		Subsystem: "audit",
		Name:      "write_failures_total",
		Help:      "Total audit writes that failed and were dropped",
	}, []string{"sink"})

	// httpRequests counts served HTTP requests.
	// Labels: route (mux pattern), code
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ekaya_review",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route and status code",
	}, []string{"route", "code"})
)

// RecordEnqueue records a newly enqueued proposal.
func RecordEnqueue(changeKind, operation string, confidence float64) {
	proposalsEnqueued.WithLabelValues(changeKind, operation).Inc()
	proposalConfidence.WithLabelValues(changeKind).Observe(confidence)
}

// RecordTransition records a proposal status change.
func RecordTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

// RecordError records a failed engine operation.
func RecordError(operation, kind string) {
	operationErrors.WithLabelValues(operation, kind).Inc()
}

// ObserveApply records the latency of a target write.
func ObserveApply(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	applyLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

// RecordDelivery records a notification delivery attempt.
func RecordDelivery(channel string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	notificationDeliveries.WithLabelValues(channel, status).Inc()
}

// RecordAuditFailure records a dropped audit write.
func RecordAuditFailure(sink string) {
	auditWriteFailures.WithLabelValues(sink).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
