// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the watermark service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// EngineBuckets covers transcoding runs from sub-second clips to long videos.
var EngineBuckets = []float64{0.25, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

var (
	// RequestsTotal counts HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmstudio_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmstudio_request_duration_seconds",
			Help:    "Request duration",
			Buckets: EngineBuckets,
		},
		[]string{"method", "route"},
	)

	// EngineRunsTotal counts ffmpeg invocations by outcome (success, failure, timeout).
	EngineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmstudio_engine_runs_total",
			Help: "Engine invocations",
		},
		[]string{"outcome"},
	)

	// EngineDuration records ffmpeg wall-clock time in seconds.
	EngineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wmstudio_engine_duration_seconds",
			Help:    "Engine run duration",
			Buckets: EngineBuckets,
		},
	)

	// ProbeResultsTotal counts capability probes by filter and result.
	ProbeResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmstudio_probe_results_total",
			Help: "Filter capability probes",
		},
		[]string{"filter", "result"},
	)

	// ActiveWorkspaces tracks request workspaces currently on disk.
	ActiveWorkspaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wmstudio_workspaces_active",
			Help: "Active workspaces",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		EngineRunsTotal,
		EngineDuration,
		ProbeResultsTotal,
		ActiveWorkspaces,
	)
}
