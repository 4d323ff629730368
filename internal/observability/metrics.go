package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationActive   prometheus.Gauge
	OperationDuration prometheus.Histogram

	// Download metrics
	ChunksDownloadedTotal prometheus.Counter
	ChunksReusedTotal     prometheus.Counter
	BytesDownloadedTotal  prometheus.Counter
	ChunkChecksumFailures prometheus.Counter

	// Manifest metrics
	ManifestsDecodedTotal *prometheus.CounterVec

	// Assembly metrics
	AssetsAssembledTotal *prometheus.CounterVec
	BytesAssembledTotal  prometheus.Counter

	// Verification metrics
	AssetsVerifiedTotal *prometheus.CounterVec
	RepairPassesTotal   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sophon_operations_total",
				Help: "Engine operations by kind and outcome",
			},
			[]string{"operation", "status"},
		),

		OperationActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sophon_operation_active",
				Help: "Whether an operation is currently running (0/1)",
			},
		),

		OperationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sophon_operation_duration_seconds",
				Help:    "Operation completion time distribution",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		),

		ChunksDownloadedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sophon_chunks_downloaded_total",
				Help: "Chunks fetched over the network",
			},
		),

		ChunksReusedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sophon_chunks_reused_total",
				Help: "Chunks satisfied from the local chunk store",
			},
		),

		BytesDownloadedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sophon_bytes_downloaded_total",
				Help: "Compressed bytes fetched over the network",
			},
		),

		ChunkChecksumFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sophon_chunk_checksum_failures_total",
				Help: "Downloaded chunks whose XXH64 digest did not match",
			},
		),

		ManifestsDecodedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sophon_manifests_decoded_total",
				Help: "Manifest decode attempts by result",
			},
			[]string{"result"},
		),

		AssetsAssembledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sophon_assets_assembled_total",
				Help: "Assets assembled by mode",
			},
			[]string{"mode"},
		),

		BytesAssembledTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sophon_bytes_assembled_total",
				Help: "Decompressed bytes written into target files",
			},
		),

		AssetsVerifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sophon_assets_verified_total",
				Help: "Asset verifications by result",
			},
			[]string{"result"},
		),

		RepairPassesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sophon_repair_passes_total",
				Help: "Verify/repair passes that found conflicts",
			},
		),
	}
}

// RecordOperation records a finished operation.
func (m *Metrics) RecordOperation(kind, status string, durationSeconds float64) {
	m.OperationsTotal.WithLabelValues(kind, status).Inc()
	m.OperationDuration.Observe(durationSeconds)
}

// RecordChunkDownloaded updates counters for a fetched chunk.
func (m *Metrics) RecordChunkDownloaded(compressedBytes int64) {
	m.ChunksDownloadedTotal.Inc()
	m.BytesDownloadedTotal.Add(float64(compressedBytes))
}

// RecordVerify records a per-asset verification result.
func (m *Metrics) RecordVerify(ok bool) {
	result := "ok"
	if !ok {
		result = "conflict"
	}
	m.AssetsVerifiedTotal.WithLabelValues(result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
