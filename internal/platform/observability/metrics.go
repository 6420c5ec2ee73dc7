package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	// Audio ingestion
	ChunksIngested *prometheus.CounterVec
	CombinedFrames prometheus.Counter
	CombinedLength prometheus.Histogram
	StaleEvictions prometheus.Counter

	// Recognition sessions
	ActiveSessions       prometheus.Gauge
	QueueDrops           prometheus.Counter
	RecognizerReconnects *prometheus.CounterVec
	Results              *prometheus.CounterVec
	DeliveryDuration     prometheus.Histogram

	// Transport and API
	Events              *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunksIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meetscribe_audio_chunks_total",
			Help: "Audio chunks ingested, by audio type and outcome (admitted, gated, rejected)",
		}, []string{"audio_type", "outcome"}),
		CombinedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "meetscribe_combined_frames_total",
			Help: "Non-empty frames produced by stream combination",
		}),
		CombinedLength: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetscribe_combined_frame_samples",
			Help:    "Samples per combined frame",
			Buckets: prometheus.ExponentialBuckets(160, 2, 10),
		}),
		StaleEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "meetscribe_stale_streams_evicted_total",
			Help: "Streams evicted for exceeding the maximum inter-write delay",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "meetscribe_active_sessions",
			Help: "Recognition sessions currently running",
		}),
		QueueDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "meetscribe_queue_drops_total",
			Help: "Chunks dropped because the recognition queue was full",
		}),
		RecognizerReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meetscribe_recognizer_reconnects_total",
			Help: "Recognizer stream re-establishments, by reason",
		}, []string{"reason"}),
		Results: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meetscribe_transcript_results_total",
			Help: "Recognizer results, by finality and delivery outcome",
		}, []string{"kind", "outcome"}),
		DeliveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "meetscribe_delivery_duration_seconds",
			Help:    "Time for the consumer to confirm a delivered result",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meetscribe_events_total",
			Help: "Generic counters recorded through RecordMetric",
		}, []string{"name"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetscribe_http_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *prometheus.Registry
	defaultMetrics  *Metrics
)

func initDefault() {
	defaultOnce.Do(func() {
		defaultRegistry = prometheus.NewRegistry()
		defaultRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		defaultMetrics = NewMetrics(defaultRegistry)
	})
}

// Default returns the process-wide collectors.
func Default() *Metrics {
	initDefault()
	return defaultMetrics
}

// Handler serves the process-wide registry in the Prometheus text format.
func Handler() http.Handler {
	initDefault()
	return promhttp.HandlerFor(defaultRegistry, promhttp.HandlerOpts{})
}
