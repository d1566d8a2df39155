package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "records_tickets_issued_total",
			Help: "Tickets minted, including requeues",
		},
	)

	TicketTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_ticket_transitions_total",
			Help: "Ticket state transitions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	LedgerConflictRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_ledger_conflict_retries_total",
			Help: "Transactions retried after a serialization or uniqueness conflict",
		},
		[]string{"operation"},
	)

	RequestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_requests_submitted_total",
			Help: "submitRequest calls by result kind",
		},
		[]string{"result"},
	)

	StatsDriftCorrected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_stats_drift_corrected_total",
			Help: "Snapshots rewritten by reconciliation because they diverged from recomputation",
		},
		[]string{"dimension"},
	)

	StatsReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "records_stats_reconcile_duration_seconds",
			Help:    "Duration of full statistics reconciliation passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	StatsCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_stats_cache_lookups_total",
			Help: "Snapshot cache lookups by result",
		},
		[]string{"result"},
	)

	OutboxRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_outbox_events_relayed_total",
			Help: "Change events delivered to sinks",
		},
		[]string{"sink", "outcome"},
	)

	RealtimeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "records_realtime_sessions",
			Help: "Connected change-stream clients",
		},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_api_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "records_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

func RecordAPIRequest(route, method string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

func RecordTransition(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	TicketTransitions.WithLabelValues(action, outcome).Inc()
}
