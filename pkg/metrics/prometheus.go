// Package metrics provides Prometheus-based metrics recording for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal      *prometheus.CounterVec
	tokensTotal        *prometheus.CounterVec
	costsTotal         *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	throttleTotal      *prometheus.CounterVec
	generationsTotal   *prometheus.CounterVec
	generationAttempts *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, session, agent, and status",
			},
			[]string{"model", "session_id", "agent_key", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "session_id", "agent_key", "type"},
		),
		costsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_costs_total",
				Help: "Total cost in USD for LLM requests",
			},
			[]string{"model", "session_id", "agent_key"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "session_id", "agent_key"},
		),
		throttleTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_throttle_total",
				Help: "Total number of LLM throttling events",
			},
			[]string{"model", "reason"},
		),
		generationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generations_total",
				Help: "Total number of finished generation tasks by agent and status",
			},
			[]string{"agent_key", "status"},
		),
		generationAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_attempts_total",
				Help: "Total number of generation attempts by agent",
			},
			[]string{"agent_key"},
		),
		generationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "generation_duration_seconds",
				Help:    "Duration of generation tasks in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent_key"},
		),
		validationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_validation_failures_total",
				Help: "Total number of generation attempts rejected by validation",
			},
			[]string{"agent_key"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, sessionID, agentKey string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	// Determine status label
	status := "success"
	if !success {
		status = "error"
	}

	// Record request count
	p.requestsTotal.WithLabelValues(model, sessionID, agentKey, status, errorType).Inc()

	// Record tokens and costs (only on success)
	if success {
		p.tokensTotal.WithLabelValues(model, sessionID, agentKey, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, sessionID, agentKey, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(model, sessionID, agentKey).Add(cost)
	}

	// Record request duration
	p.requestDuration.WithLabelValues(model, sessionID, agentKey).Observe(duration.Seconds())
}

// IncThrottle increments the throttle counter for rate limiting events.
func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

// ObserveGeneration records the outcome of a finished generation task.
func (p *PrometheusRecorder) ObserveGeneration(agentKey, status string, attempts int, duration time.Duration) {
	p.generationsTotal.WithLabelValues(agentKey, status).Inc()
	p.generationAttempts.WithLabelValues(agentKey).Add(float64(attempts))
	p.generationDuration.WithLabelValues(agentKey).Observe(duration.Seconds())
}

// IncValidationFailure increments the validation failure counter for an agent.
func (p *PrometheusRecorder) IncValidationFailure(agentKey string) {
	p.validationFailures.WithLabelValues(agentKey).Inc()
}
