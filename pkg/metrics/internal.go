// Package metrics provides internal metrics tracking for engine runs.
package metrics

import (
	"sync"
	"time"
)

// InternalRecorder implements the Recorder interface using in-memory aggregation.
// This is much simpler than Prometheus and doesn't require external services.
type InternalRecorder struct {
	agents    map[string]*AgentUsage // agentKey -> aggregated usage
	throttles int64
	mu        sync.RWMutex
}

// AgentUsage represents aggregated usage for one agent across a run.
//
//nolint:govet
type AgentUsage struct {
	PromptTokens         int64     `json:"prompt_tokens"`
	CompletionTokens     int64     `json:"completion_tokens"`
	TotalTokens          int64     `json:"total_tokens"`
	RequestCount         int64     `json:"request_count"`
	GenerationsCompleted int64     `json:"generations_completed"`
	GenerationsFailed    int64     `json:"generations_failed"`
	ValidationFailures   int64     `json:"validation_failures"`
	TotalCost            float64   `json:"total_cost_usd"`
	AgentKey             string    `json:"agent_key"`
	LastUpdated          time.Time `json:"last_updated"`
}

var (
	// Singleton instance and initialization synchronization.
	internalInstance *InternalRecorder //nolint:gochecknoglobals
	internalOnce     sync.Once         //nolint:gochecknoglobals
)

// NewInternalRecorder returns a singleton internal metrics recorder.
func NewInternalRecorder() *InternalRecorder {
	internalOnce.Do(func() {
		internalInstance = &InternalRecorder{
			agents: make(map[string]*AgentUsage),
		}
	})
	return internalInstance
}

// usage returns the entry for agentKey, creating it if needed.
// Callers must hold the write lock.
func (r *InternalRecorder) usage(agentKey string) *AgentUsage {
	agent, exists := r.agents[agentKey]
	if !exists {
		agent = &AgentUsage{
			AgentKey: agentKey,
		}
		r.agents[agentKey] = agent
	}
	return agent
}

// ObserveRequest records usage for a completed LLM request.
func (r *InternalRecorder) ObserveRequest(
	_, _, agentKey string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	_ string,
	_ time.Duration,
) {
	// Only record successful requests for token/cost tracking
	if !success || agentKey == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent := r.usage(agentKey)
	agent.PromptTokens += int64(promptTokens)
	agent.CompletionTokens += int64(completionTokens)
	agent.TotalTokens = agent.PromptTokens + agent.CompletionTokens
	agent.TotalCost += cost
	agent.RequestCount++
	agent.LastUpdated = time.Now()
}

// IncThrottle counts rate limiting events across the whole run.
func (r *InternalRecorder) IncThrottle(_, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.throttles++
}

// ObserveGeneration records the outcome of a finished generation task.
func (r *InternalRecorder) ObserveGeneration(agentKey, status string, _ int, _ time.Duration) {
	if agentKey == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent := r.usage(agentKey)
	if status == "completed" {
		agent.GenerationsCompleted++
	} else {
		agent.GenerationsFailed++
	}
	agent.LastUpdated = time.Now()
}

// IncValidationFailure counts a validation-rejected attempt for an agent.
func (r *InternalRecorder) IncValidationFailure(agentKey string) {
	if agentKey == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	agent := r.usage(agentKey)
	agent.ValidationFailures++
	agent.LastUpdated = time.Now()
}

// GetAgentUsage returns the aggregated usage for a specific agent.
func (r *InternalRecorder) GetAgentUsage(agentKey string) *AgentUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if agent, exists := r.agents[agentKey]; exists {
		// Return a copy to prevent external modification
		clone := *agent
		return &clone
	}
	return nil
}

// GetAllAgentUsage returns usage for all agents seen this run.
func (r *InternalRecorder) GetAllAgentUsage() map[string]*AgentUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentUsage)
	for agentKey, agent := range r.agents {
		clone := *agent
		result[agentKey] = &clone
	}
	return result
}

// GetThrottleCount returns the number of rate limiting events seen this run.
func (r *InternalRecorder) GetThrottleCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.throttles
}

// Reset clears all usage (useful for testing).
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*AgentUsage)
	r.throttles = 0
}
