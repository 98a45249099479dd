// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for the metadata server's purge path:
//   - Purge queue in-flight executions and expire position
//   - Purge item throughput and object removal counters
//   - Journal append/flush/trim activity and byte counters
//   - Object store operation latency broken down by operation and status
//
// Metrics are exposed via a dedicated HTTP server on /metrics in
// Prometheus format.
//
// Usage:
//
//	purgeMetrics := metrics.NewPurgeMetrics()
//	journalMetrics := metrics.NewJournalMetrics()
//	objMetrics := metrics.NewObjectStoreMetrics()
//
//	store := objectstore.NewInstrumentedStore(s3Store, objMetrics)
//	queue := purge.NewQueue(..., purge.WithMetrics(purgeMetrics))
//
//	metricsServer := metrics.NewServer(":9090")
//	metricsServer.Start()
package metrics

// Status label values shared across subsystems.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)
