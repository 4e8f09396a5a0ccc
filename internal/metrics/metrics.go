// Package metrics provides Prometheus metrics for the replay coordinator.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the coordinator pipeline.
type Metrics struct {
	// Step counters
	StepsSampled prometheus.Counter
	StepsTrained prometheus.Counter
	WeightSyncs  prometheus.Counter

	// Pipeline gauges
	PendingTasks     *prometheus.GaugeVec // pool = "sample" | "replay"
	LearnerQueueLen  prometheus.Gauge
	ShardBufferFill  *prometheus.GaugeVec // shard id

	// Timing metrics
	StageDuration      *prometheus.HistogramVec // stage name
	CheckpointDuration prometheus.Histogram

	// Error metrics
	TaskFailures       *prometheus.CounterVec // kind = "sample" | "replay" | "update_priorities" | "train"
	StalenessWarnings  prometheus.Counter

	// Throughput
	SampleThroughput prometheus.Gauge
	TrainThroughput  prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g. ":9090"
}

var (
	defaultMetrics *Metrics
	initOnce       sync.Once
)

// Init initializes the global metrics instance. Call once at startup;
// repeated calls return the first instance.
func Init(namespace string) *Metrics {
	initOnce.Do(func() {
		if namespace == "" {
			namespace = "replay_coordinator"
		}
		defaultMetrics = newMetrics(namespace)
	})
	return defaultMetrics
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		StepsSampled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_sampled_total",
			Help:      "Total environment steps collected from rollout workers",
		}),
		StepsTrained: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_trained_total",
			Help:      "Total transitions consumed by training steps",
		}),
		WeightSyncs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weight_syncs_total",
			Help:      "Total weight snapshots pushed to rollout workers",
		}),
		PendingTasks: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_tasks",
			Help:      "Outstanding asynchronous calls per task pool",
		}, []string{"pool"}),
		LearnerQueueLen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learner_queue_depth",
			Help:      "Current depth of the learner's inbound queue",
		}),
		ShardBufferFill: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shard_buffer_fill",
			Help:      "Current number of transitions held per replay shard",
		}, []string{"shard"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Control-loop stage durations",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"stage"}),
		CheckpointDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_duration_seconds",
			Help:      "Time spent saving sample checkpoints",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		TaskFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Failed asynchronous calls by kind",
		}, []string{"kind"}),
		StalenessWarnings: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staleness_warnings_total",
			Help:      "Ticks on which no sample completion had arrived for the configured interval",
		}),
		SampleThroughput: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_throughput",
			Help:      "Rolling environment steps sampled per second",
		}),
		TrainThroughput: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "train_throughput",
			Help:      "Rolling transitions trained per second",
		}),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncTaskFailures increments the task failure counter for a kind.
func (m *Metrics) IncTaskFailures(kind string) {
	m.TaskFailures.WithLabelValues(kind).Inc()
}

// SetPendingTasks sets the outstanding call count for a pool.
func (m *Metrics) SetPendingTasks(pool string, n float64) {
	m.PendingTasks.WithLabelValues(pool).Set(n)
}

// ObserveStage records one stage duration.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}
