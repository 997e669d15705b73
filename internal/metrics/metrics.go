package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts bridge messages by origin and status reached
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_messages_total",
			Help: "Total number of bridge messages by origin and status",
		},
		[]string{"origin", "status"},
	)

	// StageRunsTotal counts stage handler iterations by outcome
	StageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_stage_runs_total",
			Help: "Total number of stage handler runs",
		},
		[]string{"stage", "origin", "outcome"},
	)

	// StageDuration tracks stage handler iteration time
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayer_stage_duration_seconds",
			Help:    "Stage handler iteration duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	// EventsObserved counts indexer events consumed per stream
	EventsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_events_observed_total",
			Help: "Total number of indexer events observed",
		},
		[]string{"stream"},
	)

	// TransactionsSent counts signed transactions broadcast per chain
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_transactions_sent_total",
			Help: "Total number of transactions broadcast",
		},
		[]string{"chain"},
	)

	// RPCFailoversTotal counts endpoint rotations in the failover transport
	RPCFailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_rpc_failovers_total",
			Help: "Total number of RPC endpoint failovers",
		},
		[]string{"chain"},
	)

	// IndexerRetriesTotal counts retried indexer queries per backend
	IndexerRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_indexer_retries_total",
			Help: "Total number of retried indexer queries",
		},
		[]string{"backend"},
	)

	// PendingMessages tracks the pending queue depth per origin
	PendingMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_pending_messages",
			Help: "Number of messages currently in pending status",
		},
		[]string{"origin"},
	)

	// LastProcessedBlock tracks the confirmation ceiling reached per stream
	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_last_processed_block",
			Help: "Last processed block number by event stream",
		},
		[]string{"stream"},
	)

	// VaultBatchesTotal counts vault controller batches by status reached
	VaultBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_vault_batches_total",
			Help: "Total number of vault controller batches",
		},
		[]string{"status"},
	)

	// ErrorsTotal counts errors by component and category
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "category"},
	)
)
