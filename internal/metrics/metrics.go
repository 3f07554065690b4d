package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raggateway_chat_turns_total",
			Help: "Total number of chat turns processed",
		},
		[]string{"status", "demo"},
	)

	ChatTurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raggateway_chat_turn_duration_seconds",
			Help:    "Chat turn duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"language", "domain"},
	)

	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raggateway_stream_events_total",
			Help: "Total number of stream events relayed to callers",
		},
		[]string{"type"},
	)

	PredictRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raggateway_predict_retries_total",
			Help: "Total number of predict attempts that were retried",
		},
	)

	DiscoveryRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raggateway_discovery_refreshes_total",
			Help: "Total number of discovery refresh cycles",
		},
		[]string{"result"},
	)

	DiscoveryEndpointErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raggateway_discovery_endpoint_errors_total",
			Help: "Total number of endpoints skipped during discovery refresh",
		},
		[]string{"endpoint"},
	)

	CapabilityCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raggateway_capabilities",
			Help: "Number of entries in the current capability map",
		},
	)

	ResolutionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raggateway_resolution_cache_hits_total",
			Help: "Total number of configuration resolutions served from cache",
		},
	)

	ResolutionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raggateway_resolution_cache_misses_total",
			Help: "Total number of configuration resolutions that missed the cache",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "raggateway_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "raggateway_active_streams",
			Help: "Number of chat turn streams currently open",
		},
	)
)

func RecordChatTurn(status string, demo bool, language, domain string, durationSec float64) {
	demoLabel := "false"
	if demo {
		demoLabel = "true"
	}
	ChatTurnsTotal.WithLabelValues(status, demoLabel).Inc()
	ChatTurnDuration.WithLabelValues(language, domain).Observe(durationSec)
}

func RecordStreamEvent(eventType string) {
	StreamEventsTotal.WithLabelValues(eventType).Inc()
}

func RecordDiscoveryRefresh(result string) {
	DiscoveryRefreshesTotal.WithLabelValues(result).Inc()
}

func RecordEndpointError(endpoint string) {
	DiscoveryEndpointErrors.WithLabelValues(endpoint).Inc()
}

func SetCapabilityCount(n int) {
	CapabilityCount.Set(float64(n))
}

func RecordRateLimitHit() {
	RateLimitHits.Inc()
}
