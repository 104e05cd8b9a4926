package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksScanned counts blocks covered by range scans on each chain
	BlocksScanned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_blocks_scanned_total",
			Help: "Total number of blocks covered by log scans",
		},
		[]string{"chain"},
	)

	// EventsDecoded counts recognized events decoded on each chain
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_events_decoded_total",
			Help: "Total number of bridge events decoded",
		},
		[]string{"chain", "event_type"},
	)

	// LogsSkipped counts logs that did not decode to a known event
	LogsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_logs_skipped_total",
			Help: "Total number of unrecognized or malformed logs skipped",
		},
		[]string{"chain"},
	)

	// RelayDispatches counts relay dispatch attempts by outcome
	RelayDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_relay_dispatches_total",
			Help: "Total number of relay dispatch attempts",
		},
		[]string{"outcome"},
	)

	// TransactionTransitions counts transaction status transitions
	TransactionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_transaction_transitions_total",
			Help: "Total number of transaction status transitions",
		},
		[]string{"status"},
	)

	// PendingTransactions tracks transactions awaiting completion by status
	PendingTransactions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listener_transactions",
			Help: "Number of tracked transactions by status",
		},
		[]string{"status"},
	)

	// LastProcessedBlock tracks the scan cursor position per chain
	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "listener_last_processed_block",
			Help: "Last fully processed block number by chain",
		},
		[]string{"chain"},
	)

	// CycleErrors counts poll cycles that ended in an unhandled error
	CycleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "listener_cycle_errors_total",
			Help: "Total number of poll cycles aborted by an unhandled error",
		},
	)

	// ConnectivityErrors counts chain endpoint failures by chain
	ConnectivityErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_connectivity_errors_total",
			Help: "Total number of chain endpoint failures",
		},
		[]string{"chain"},
	)
)
