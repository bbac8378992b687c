package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probelink_readings_decoded_total",
		Help: "Payload lines successfully decoded into canonical readings",
	})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probelink_decode_failures_total",
		Help: "Payload lines dropped because they could not be decoded",
	})

	BufferSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "probelink_buffer_size",
		Help: "Current number of readings held in the stream buffer",
	})

	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probelink_reconnect_attempts_total",
		Help: "Automatic reconnection attempts triggered by the health monitor",
	})

	ConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "probelink_connects_total",
		Help: "Connection attempts by transport kind and outcome",
	}, []string{"kind", "outcome"})

	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "probelink_command_duration_seconds",
		Help:    "Round-trip time of device commands",
		Buckets: prometheus.DefBuckets,
	})

	SessionsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "probelink_sessions_saved_total",
		Help: "Session batches persisted to the store",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "probelink_http_request_duration_seconds",
		Help:    "HTTP control surface latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)
