package metrics

import "github.com/prometheus/client_golang/prometheus"

// Governor Prometheus metrics.
var (
	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aigov",
			Name:      "quota_decisions_total",
			Help:      "Quota admission decisions",
		},
		[]string{"feature", "decision"}, // "allowed" / "denied"
	)

	StreamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aigov",
			Name:      "stream_frames_total",
			Help:      "Decoded stream frames by payload kind",
		},
		[]string{"kind"}, // usage / text / raw / empty / dropped / fault
	)

	StreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aigov",
			Name:      "stream_duration_seconds",
			Help:      "Streamed generation duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"feature", "status"},
	)

	UsageTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aigov",
			Name:      "usage_tokens_total",
			Help:      "Recorded tokens",
		},
		[]string{"feature", "type", "source"}, // type: input/output/total, source: reported/estimated
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aigov",
			Name:      "upstream_requests_total",
			Help:      "Upstream stream openings",
		},
		[]string{"provider", "model", "status"}, // "success" / "error"
	)

	UsageRecordingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aigov",
			Name:      "usage_recording_errors_total",
			Help:      "Usage records that failed to persist",
		},
		[]string{"feature"},
	)
)

var governorMetricsRegistered bool

// RegisterGovernorMetrics registers the quota, stream and usage metrics. Must be called once from main.
func RegisterGovernorMetrics() {
	if governorMetricsRegistered {
		return
	}
	prometheus.MustRegister(QuotaDecisionsTotal)
	prometheus.MustRegister(StreamFramesTotal)
	prometheus.MustRegister(StreamDuration)
	prometheus.MustRegister(UsageTokensTotal)
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UsageRecordingErrorsTotal)
	governorMetricsRegistered = true
}
