// Package metrics provides metrics recording for LLM requests and file
// generation outcomes, with Prometheus and in-memory implementations.
package metrics

import (
	"time"
)

// MetaProvider provides the session identity attached to request metrics.
type MetaProvider interface {
	// GetSessionID returns the ID of the session issuing the request.
	GetSessionID() string
	// GetAgentKey returns the key of the agent the session belongs to.
	GetAgentKey() string
}

// Recorder defines the interface for recording engine metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, sessionID, agentKey string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveGeneration records the outcome of a file generation task.
	ObserveGeneration(agentKey, status string, attempts int, duration time.Duration)

	// IncValidationFailure increments the counter for generation attempts
	// rejected by project validation.
	IncValidationFailure(agentKey string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(
	_, _, _ string,
	_, _ int,
	_ float64,
	_ bool,
	_ string,
	_ time.Duration,
) {
	// No-op
}

// IncThrottle does nothing in the no-op recorder.
func (n *NoopRecorder) IncThrottle(_, _ string) {
	// No-op
}

// ObserveGeneration does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveGeneration(_, _ string, _ int, _ time.Duration) {
	// No-op
}

// IncValidationFailure does nothing in the no-op recorder.
func (n *NoopRecorder) IncValidationFailure(_ string) {
	// No-op
}

// multiRecorder forwards every observation to a list of recorders.
type multiRecorder struct {
	recorders []Recorder
}

// Multi returns a Recorder that forwards each observation to all of rs.
// It lets the Prometheus and internal recorders receive the same stream.
func Multi(rs ...Recorder) Recorder {
	return &multiRecorder{recorders: rs}
}

// ObserveRequest forwards the observation to every recorder.
func (m *multiRecorder) ObserveRequest(
	model, sessionID, agentKey string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	for _, r := range m.recorders {
		r.ObserveRequest(model, sessionID, agentKey, promptTokens, completionTokens, cost, success, errorType, duration)
	}
}

// IncThrottle forwards the event to every recorder.
func (m *multiRecorder) IncThrottle(model, reason string) {
	for _, r := range m.recorders {
		r.IncThrottle(model, reason)
	}
}

// ObserveGeneration forwards the observation to every recorder.
func (m *multiRecorder) ObserveGeneration(agentKey, status string, attempts int, duration time.Duration) {
	for _, r := range m.recorders {
		r.ObserveGeneration(agentKey, status, attempts, duration)
	}
}

// IncValidationFailure forwards the event to every recorder.
func (m *multiRecorder) IncValidationFailure(agentKey string) {
	for _, r := range m.recorders {
		r.IncValidationFailure(agentKey)
	}
}
