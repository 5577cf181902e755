package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landscape_runs_total",
			Help: "Total number of pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "landscape_run_duration_seconds",
			Help:    "Wall-clock duration of a pipeline run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Row/token metrics
	RowsAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "landscape_rows_accepted_total",
			Help: "Total number of rows accepted from a source",
		},
	)

	RowsQuarantinedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "landscape_rows_quarantined_total",
			Help: "Total number of rows quarantined at validation",
		},
	)

	TokenOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landscape_token_outcomes_total",
			Help: "Total number of tokens reaching each terminal outcome",
		},
		[]string{"outcome"},
	)

	NodeProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landscape_node_processing_duration_seconds",
			Help:    "Time taken to process one token at one node, by node type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node_type"},
	)

	// Batch metrics
	BatchesDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "landscape_batches_dispatched_total",
			Help: "Total number of aggregation batches dispatched to a transform",
		},
	)

	BatchesFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "landscape_batches_failed_total",
			Help: "Total number of aggregation batches that failed",
		},
	)

	BatchDispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "landscape_batch_dispatch_duration_seconds",
			Help:    "Time taken to process one dispatched batch in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Concurrency adapter metrics
	WorkerPoolInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "landscape_worker_pool_in_flight",
			Help: "Number of batches currently in flight in a node's worker pool",
		},
		[]string{"node_id"},
	)

	WorkerPoolCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "landscape_worker_pool_capacity",
			Help: "Current AIMD capacity of a node's worker pool",
		},
		[]string{"node_id"},
	)

	// Checkpoint metrics
	CheckpointsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "landscape_checkpoints_created_total",
			Help: "Total number of checkpoints recorded",
		},
	)

	CheckpointCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "landscape_checkpoint_create_duration_seconds",
			Help:    "Time taken to create a checkpoint (including the preceding sink flush) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sink metrics
	SinkWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landscape_sink_write_duration_seconds",
			Help:    "Time taken for a sink to write one row, by sink plugin",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	SinkFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landscape_sink_flush_duration_seconds",
			Help:    "Time taken for a sink to durably flush, by sink plugin",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	// Payload store metrics
	PayloadStoreBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "landscape_payload_store_bytes_total",
			Help: "Total bytes written to the content-addressed payload store",
		},
	)

	// RunTokenOutcomes is a point-in-time snapshot gauge, refreshed by a
	// Collector polling the landscape store for one run; unlike
	// TokenOutcomesTotal (a counter the engine itself never increments), this
	// reflects a full recount on every poll and is safe to read
	// mid-run.
	RunTokenOutcomes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "landscape_run_token_outcomes",
			Help: "Current count of tokens at each terminal outcome for the polled run",
		},
		[]string{"run_id", "outcome"},
	)

	RunRowsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "landscape_run_rows_total",
			Help: "Current count of rows accepted for the polled run",
		},
		[]string{"run_id"},
	)

	RunBatchesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "landscape_run_batches_by_status",
			Help: "Current count of aggregation batches by status for the polled run",
		},
		[]string{"run_id", "status"},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(RowsAcceptedTotal)
	prometheus.MustRegister(RowsQuarantinedTotal)
	prometheus.MustRegister(TokenOutcomesTotal)
	prometheus.MustRegister(NodeProcessingDuration)

	prometheus.MustRegister(BatchesDispatchedTotal)
	prometheus.MustRegister(BatchesFailedTotal)
	prometheus.MustRegister(BatchDispatchDuration)

	prometheus.MustRegister(WorkerPoolInFlight)
	prometheus.MustRegister(WorkerPoolCapacity)

	prometheus.MustRegister(CheckpointsCreatedTotal)
	prometheus.MustRegister(CheckpointCreateDuration)

	prometheus.MustRegister(SinkWriteDuration)
	prometheus.MustRegister(SinkFlushDuration)

	prometheus.MustRegister(PayloadStoreBytesTotal)

	prometheus.MustRegister(RunTokenOutcomes)
	prometheus.MustRegister(RunRowsTotal)
	prometheus.MustRegister(RunBatchesByStatus)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
