package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC
	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "Total Solana JSON-RPC requests by method and result",
	}, []string{"method", "result"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paywatch",
		Subsystem: "rpc",
		Name:      "request_duration_seconds",
		Help:      "Solana JSON-RPC request duration",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})

	WSReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "live",
		Name:      "reconnects_total",
		Help:      "Total websocket re-subscriptions after a dropped feed",
	}, []string{"address"})

	// Events
	EventsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "events",
		Name:      "received_total",
		Help:      "Signatures handed to the processor by delivery path",
	}, []string{"address", "path"})

	EventsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "events",
		Name:      "skipped_total",
		Help:      "Live events dropped before processing",
	}, []string{"reason"})

	ParseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "parser",
		Name:      "failures_total",
		Help:      "Transactions rejected by the parser",
	}, []string{"reason"})

	// Reconciliation
	ReconcileOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "reconcile",
		Name:      "outcomes_total",
		Help:      "Reconciliation outcomes by kind and delivery path",
	}, []string{"outcome", "path"})

	ReconcileUnresolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "reconcile",
		Name:      "unresolved_total",
		Help:      "Payments left unreconciled after store retries were exhausted",
	})

	StoreRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "reconcile",
		Name:      "store_retries_total",
		Help:      "Invoice store calls retried by operation",
	}, []string{"op"})

	// Sweeper
	SweepPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "sweep",
		Name:      "pages_total",
		Help:      "Signature pages fetched by the sweeper",
	}, []string{"address"})

	SweepTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "sweep",
		Name:      "transactions_total",
		Help:      "Transactions processed by the sweeper",
	}, []string{"address"})

	SweepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "sweep",
		Name:      "failures_total",
		Help:      "Aborted sweeps",
	}, []string{"address"})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paywatch",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Sweep duration",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"address"})

	// Audit
	AuditDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "audit",
		Name:      "dropped_total",
		Help:      "Raw events dropped because the audit buffer was full",
	})

	AuditWriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paywatch",
		Subsystem: "audit",
		Name:      "write_errors_total",
		Help:      "Failed raw event sink writes",
	}, []string{"sink"})
)
