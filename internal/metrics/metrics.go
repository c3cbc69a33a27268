// Package metrics defines the Prometheus collectors exported by deal-enrich.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inference metrics
	InferenceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealenrich_inference_calls_total",
			Help: "Total number of inference calls by request phase and result kind",
		},
		[]string{"phase", "result"},
	)

	InferenceAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealenrich_inference_attempts_total",
			Help: "Total number of inference HTTP attempts including retries",
		},
		[]string{"phase"},
	)

	InferenceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealenrich_inference_duration_seconds",
			Help:    "Duration of inference calls in seconds, including retries",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"phase"},
	)

	InferenceTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealenrich_inference_tokens_total",
			Help: "Total tokens consumed by direction",
		},
		[]string{"direction"},
	)

	InferenceCost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealenrich_inference_cost_usd_total",
			Help: "Estimated inference spend in USD",
		},
	)

	// Orchestrator metrics
	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealenrich_enrichment_outcomes_total",
			Help: "Total enrichment outcomes by kind (unified, decomposed, failed)",
		},
		[]string{"kind"},
	)

	// Sink metrics
	SinkWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealenrich_sink_writes_total",
			Help: "Total sink writes by sink and status",
		},
		[]string{"sink", "status"},
	)

	SinkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealenrich_sink_write_duration_seconds",
			Help:    "Duration of sink writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	SchemaColumns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealenrich_schema_columns",
			Help: "Current number of columns in the flat-file schema",
		},
	)

	RemoteBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealenrich_remote_breaker_open",
			Help: "1 when the remote sink circuit breaker is open",
		},
	)

	// Batch metrics
	Records = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealenrich_records_total",
			Help: "Total records processed by status (succeeded, failed, skipped)",
		},
		[]string{"status"},
	)

	Checkpointed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealenrich_checkpointed_records",
			Help: "Number of deal ids in the checkpoint for the current source",
		},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
