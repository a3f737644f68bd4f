package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "splash", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "splash", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	DocumentOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "splash", Name: "document_operations_total", Help: "Document service operations by collection, operation and outcome."},
		[]string{"collection", "operation", "outcome"},
	)
	EtagConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "splash", Name: "etag_conflicts_total", Help: "Writes rejected because the supplied etag was stale."},
		[]string{"collection"},
	)
	HistoryWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "splash", Name: "history_write_failures_total", Help: "Historic snapshots lost after a committed update."},
		[]string{"collection"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(DocumentOperations)
	reg.MustRegister(EtagConflicts)
	reg.MustRegister(HistoryWriteFailures)
}
