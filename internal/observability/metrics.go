// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Vault lifecycle metrics
	VaultsInitialized prometheus.Counter
	VaultsCancelled   prometheus.Counter
	VaultsExecuted    prometheus.Counter
	RequestsRejected  *prometheus.CounterVec

	// Settlement metrics
	FeeVolume            *prometheus.CounterVec
	TransfersApplied     prometheus.Counter
	TransfersCompensated prometheus.Counter
	SettlementJournalErr prometheus.Counter

	// Keeper metrics
	PriceUpdatesReceived *prometheus.CounterVec
	KeeperExecutions     *prometheus.CounterVec
	FeedReconnects       prometheus.Counter

	// Latency metrics
	OperationLatency *prometheus.HistogramVec
	RPCCallLatency   *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "autotp"
	}

	return &Metrics{
		// Vault lifecycle metrics
		VaultsInitialized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "initialized_total",
			Help:      "Total number of vaults initialized",
		}),
		VaultsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "cancelled_total",
			Help:      "Total number of successful cancel requests",
		}),
		VaultsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "executed_total",
			Help:      "Total number of successful execute requests",
		}),
		RequestsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "requests_rejected_total",
			Help:      "Total number of rejected requests by operation and reason",
		}, []string{"operation", "reason"}),

		// Settlement metrics
		FeeVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "volume_base_units_total",
			Help:      "Base units released by recipient",
		}, []string{"recipient"}),
		TransfersApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "transfers_applied_total",
			Help:      "Total number of custodial transfers applied",
		}),
		TransfersCompensated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "transfers_compensated_total",
			Help:      "Total number of transfers reversed after a failed settlement",
		}),
		SettlementJournalErr: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "journal_errors_total",
			Help:      "Total number of settlements that could not be journaled",
		}),

		// Keeper metrics
		PriceUpdatesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "price_updates_total",
			Help:      "Total number of price updates received by mint",
		}, []string{"mint"}),
		KeeperExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "executions_total",
			Help:      "Total number of keeper-triggered executions by status",
		}, []string{"status"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "feed_reconnects_total",
			Help:      "Total number of price feed reconnects",
		}),

		// Latency metrics
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "operation_latency_seconds",
			Help:      "Vault operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordVaultInitialized increments the initialized counter.
func RecordVaultInitialized() {
	DefaultMetrics.VaultsInitialized.Inc()
}

// RecordVaultCancelled records a cancel and the amount returned to the owner.
func RecordVaultCancelled(amount uint64) {
	DefaultMetrics.VaultsCancelled.Inc()
	DefaultMetrics.FeeVolume.WithLabelValues("owner").Add(float64(amount))
}

// RecordVaultExecuted records an execute and its split.
func RecordVaultExecuted(referrer, protocol, user uint64) {
	DefaultMetrics.VaultsExecuted.Inc()
	DefaultMetrics.FeeVolume.WithLabelValues("referrer").Add(float64(referrer))
	DefaultMetrics.FeeVolume.WithLabelValues("protocol").Add(float64(protocol))
	DefaultMetrics.FeeVolume.WithLabelValues("owner").Add(float64(user))
}

// RecordRejected records a rejected request.
func RecordRejected(operation, reason string) {
	DefaultMetrics.RequestsRejected.WithLabelValues(operation, reason).Inc()
}

// RecordTransfers records applied and compensated transfers.
func RecordTransfers(applied, compensated int) {
	DefaultMetrics.TransfersApplied.Add(float64(applied))
	DefaultMetrics.TransfersCompensated.Add(float64(compensated))
}

// RecordJournalError increments the settlement journal error counter.
func RecordJournalError() {
	DefaultMetrics.SettlementJournalErr.Inc()
}

// RecordPriceUpdate records a price update for mint.
func RecordPriceUpdate(mint string) {
	DefaultMetrics.PriceUpdatesReceived.WithLabelValues(mint).Inc()
}

// RecordKeeperExecution records a keeper-triggered execute by status.
func RecordKeeperExecution(status string) {
	DefaultMetrics.KeeperExecutions.WithLabelValues(status).Inc()
}

// RecordFeedReconnect increments the feed reconnect counter.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordOperationLatency records vault operation latency.
func RecordOperationLatency(operation string, seconds float64) {
	DefaultMetrics.OperationLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
