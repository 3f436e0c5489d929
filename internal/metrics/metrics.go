package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hlsvod",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hlsvod",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hlsvod",
		Name:      "active_clients",
		Help:      "Number of currently tracked streaming clients.",
	})

	ActiveMedia = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hlsvod",
		Name:      "active_media",
		Help:      "Number of media descriptors resident in the cache.",
	})

	EncodersStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hlsvod",
		Name:      "encoders_started_total",
		Help:      "Total number of ffmpeg encoder processes started.",
	})

	EncoderFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hlsvod",
		Name:      "encoder_failures_total",
		Help:      "Total number of encoders that failed to start or died unexpectedly.",
	})

	SegmentsEncoded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hlsvod",
		Name:      "segments_encoded_total",
		Help:      "Total number of HLS segments written to disk.",
	})

	SegmentWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hlsvod",
		Name:      "segment_wait_seconds",
		Help:      "Time requests spent waiting for a segment to be encoded.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	ProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "hlsvod",
		Name:      "probe_duration_seconds",
		Help:      "Duration of ffprobe source probes in seconds.",
		Buckets:   []float64{0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	})

	CacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hlsvod",
		Name:      "cache_size_bytes",
		Help:      "Current total size of the segment cache in bytes.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveClients,
		ActiveMedia,
		EncodersStarted,
		EncoderFailures,
		SegmentsEncoded,
		SegmentWaitSeconds,
		ProbeDuration,
		CacheSizeBytes,
	)
}
