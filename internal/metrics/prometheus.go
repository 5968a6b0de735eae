// Package metrics exports orchestrator operational metrics in Prometheus
// format: request latency, intent distribution, provider failover, agent
// dispatch outcomes, and push delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports conversation engine metrics in Prometheus format.
type Exporter struct {
	registry *prometheus.Registry

	// Conversation turn metrics
	turnLatency    *prometheus.HistogramVec
	turnRequests   *prometheus.CounterVec
	sessionsActive prometheus.Gauge

	// Intent classification metrics
	intentTotal       *prometheus.CounterVec
	intentLatency     *prometheus.HistogramVec
	intentCacheHits   prometheus.Counter
	intentCacheMisses prometheus.Counter

	// LLM provider metrics
	llmLatency   *prometheus.HistogramVec
	llmFailovers *prometheus.CounterVec
	llmTokens    *prometheus.CounterVec

	// Agent dispatch metrics
	dispatchTotal   *prometheus.CounterVec
	dispatchTimeout *prometheus.CounterVec

	// Push channel metrics
	pushDelivered     *prometheus.CounterVec
	pushDropped       *prometheus.CounterVec
	connectionsActive prometheus.Gauge
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}
}

// New creates a new metrics Exporter.
func New(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carebridge",
			Subsystem: "orchestrator",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end conversation turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"intent", "path"}, // path: "direct" or "agent"
	)

	e.turnRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "orchestrator",
			Name:      "turn_requests_total",
			Help:      "Total number of conversation turns processed",
		},
		[]string{"intent", "status"},
	)

	e.sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "carebridge",
			Subsystem: "orchestrator",
			Name:      "sessions_active",
			Help:      "Number of sessions with activity in the current window",
		},
	)

	e.intentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "intent",
			Name:      "classifications_total",
			Help:      "Total intent classifications by resolved intent and source",
		},
		[]string{"intent", "source"},
	)

	e.intentLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carebridge",
			Subsystem: "intent",
			Name:      "classification_latency_seconds",
			Help:      "Intent classification latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"source"},
	)

	e.intentCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carebridge",
		Subsystem: "intent",
		Name:      "cache_hits_total",
		Help:      "Total intent classification cache hits",
	})

	e.intentCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "carebridge",
		Subsystem: "intent",
		Name:      "cache_misses_total",
		Help:      "Total intent classification cache misses",
	})

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carebridge",
			Subsystem: "llm",
			Name:      "request_latency_seconds",
			Help:      "LLM provider request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider"},
	)

	e.llmFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "llm",
			Name:      "failovers_total",
			Help:      "Total failovers from one provider to the next",
		},
		[]string{"from_provider", "reason"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"provider", "token_type"},
	)

	e.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Total agent dispatches by agent type and outcome",
		},
		[]string{"agent_type", "outcome"}, // outcome: dispatched, success, error, timeout
	)

	e.dispatchTimeout = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "dispatch",
			Name:      "timeouts_total",
			Help:      "Total dispatches that hit their soft or hard deadline",
		},
		[]string{"agent_type", "deadline_kind"}, // deadline_kind: soft, hard
	)

	e.pushDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "push",
			Name:      "delivered_total",
			Help:      "Total push events delivered to a connected client",
		},
		[]string{"event_type"},
	)

	e.pushDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "carebridge",
			Subsystem: "push",
			Name:      "dropped_total",
			Help:      "Total push events dropped due to no connection or a full buffer",
		},
		[]string{"event_type"},
	)

	e.connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "carebridge",
		Subsystem: "push",
		Name:      "connections_active",
		Help:      "Number of live push-channel connections",
	})

	registry.MustRegister(
		e.turnLatency,
		e.turnRequests,
		e.sessionsActive,
		e.intentTotal,
		e.intentLatency,
		e.intentCacheHits,
		e.intentCacheMisses,
		e.llmLatency,
		e.llmFailovers,
		e.llmTokens,
		e.dispatchTotal,
		e.dispatchTimeout,
		e.pushDelivered,
		e.pushDropped,
		e.connectionsActive,
	)

	return e
}

// RecordTurn records a completed conversation turn.
func (e *Exporter) RecordTurn(intent, path string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.turnRequests.WithLabelValues(intent, status).Inc()
	e.turnLatency.WithLabelValues(intent, path).Observe(latency.Seconds())
}

// SetActiveSessions sets the active-session gauge.
func (e *Exporter) SetActiveSessions(count int) {
	e.sessionsActive.Set(float64(count))
}

// RecordIntent records a classification result and its latency.
func (e *Exporter) RecordIntent(intent, source string, latency time.Duration) {
	e.intentTotal.WithLabelValues(intent, source).Inc()
	e.intentLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordIntentCacheHit records a classification cache hit.
func (e *Exporter) RecordIntentCacheHit() { e.intentCacheHits.Inc() }

// RecordIntentCacheMiss records a classification cache miss.
func (e *Exporter) RecordIntentCacheMiss() { e.intentCacheMisses.Inc() }

// RecordLLMRequest records an LLM provider call's latency.
func (e *Exporter) RecordLLMRequest(provider string, latency time.Duration) {
	e.llmLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// RecordLLMFailover records a failover away from a provider.
func (e *Exporter) RecordLLMFailover(fromProvider, reason string) {
	e.llmFailovers.WithLabelValues(fromProvider, reason).Inc()
}

// RecordLLMTokens records token usage for a provider call.
func (e *Exporter) RecordLLMTokens(provider, tokenType string, count int) {
	e.llmTokens.WithLabelValues(provider, tokenType).Add(float64(count))
}

// RecordDispatch records an agent dispatch outcome.
func (e *Exporter) RecordDispatch(agentType, outcome string) {
	e.dispatchTotal.WithLabelValues(agentType, outcome).Inc()
}

// RecordDispatchTimeout records a soft- or hard-deadline timeout.
func (e *Exporter) RecordDispatchTimeout(agentType, deadlineKind string) {
	e.dispatchTimeout.WithLabelValues(agentType, deadlineKind).Inc()
}

// RecordPushDelivered records a successfully delivered push event.
func (e *Exporter) RecordPushDelivered(eventType string) {
	e.pushDelivered.WithLabelValues(eventType).Inc()
}

// RecordPushDropped records a push event that could not be delivered.
func (e *Exporter) RecordPushDropped(eventType string) {
	e.pushDropped.WithLabelValues(eventType).Inc()
}

// SetActiveConnections sets the live push-connection gauge.
func (e *Exporter) SetActiveConnections(count int) {
	e.connectionsActive.Set(float64(count))
}

// Handler returns the HTTP handler serving metrics in Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
