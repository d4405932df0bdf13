package persistence

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run represents a single engine invocation, from user request to final result.
type Run struct {
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	ID          string     `json:"id"`
	UserRequest string     `json:"user_request"`
	Mode        string     `json:"mode"` // "run", "plan", or "task"
	Status      string     `json:"status"`
	TotalSteps  int        `json:"total_steps"`
}

// PlanRecord represents a persisted execution plan for a run.
type PlanRecord struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	UserRequest string    `json:"user_request"`
	Raw         string    `json:"raw"` // Verbatim planner model output
	TotalSteps  int       `json:"total_steps"`
	Fallback    bool      `json:"fallback"`
}

// PlanStepRecord represents one step of a persisted plan.
type PlanStepRecord struct {
	PlanID    string `json:"plan_id"`
	Agent     string `json:"agent"`
	Task      string `json:"task"`
	DependsOn string `json:"depends_on,omitempty"` // JSON array of step indices
	StepIndex int    `json:"step_index"`
}

// Generation represents a single coder task execution within a run.
//
//nolint:govet // struct alignment optimization not critical for this type
type Generation struct {
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	BytesWritten int64      `json:"bytes_written"`
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	AgentKey     string     `json:"agent_key"`
	Task         string     `json:"task"`
	Status       string     `json:"status"`
	StepIndex    int        `json:"step_index"`
	Attempts     int        `json:"attempts"`
	FilesWritten int        `json:"files_written"`
}

// GenerationFile represents a file written to the project by a generation.
type GenerationFile struct {
	CreatedAt    time.Time `json:"created_at"`
	GenerationID string    `json:"generation_id"`
	Path         string    `json:"path"`
	Bytes        int64     `json:"bytes"`
}

// GenerationError represents a failed attempt within a generation.
type GenerationError struct {
	CreatedAt    time.Time `json:"created_at"`
	GenerationID string    `json:"generation_id"`
	Message      string    `json:"message"`
	Attempt      int       `json:"attempt"`
}

// LLMSession represents a conversation session with a model.
type LLMSession struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	AgentKey  string    `json:"agent_key"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
}

// LLMMessage represents one message within an LLM session.
type LLMMessage struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
}

// Run status constants.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run mode constants.
const (
	RunModeRun  = "run"
	RunModePlan = "plan"
	RunModeTask = "task"
)

// Generation status constants.
const (
	GenerationStatusPending   = "pending"
	GenerationStatusRunning   = "running"
	GenerationStatusCompleted = "completed"
	GenerationStatusFailed    = "failed"
)

// ValidGenerationStatuses returns all valid generation statuses.
func ValidGenerationStatuses() []string {
	return []string{
		GenerationStatusPending,
		GenerationStatusRunning,
		GenerationStatusCompleted,
		GenerationStatusFailed,
	}
}

// IsValidGenerationStatus checks if a status string is valid.
func IsValidGenerationStatus(status string) bool {
	for _, validStatus := range ValidGenerationStatuses() {
		if status == validStatus {
			return true
		}
	}
	return false
}

// GenerateRunID generates a new UUID for a run.
func GenerateRunID() string {
	return uuid.New().String()
}

// GeneratePlanID generates a new UUID for a plan record.
func GeneratePlanID() string {
	return uuid.New().String()
}

// GenerateMessageID generates a new UUID for an LLM message record.
func GenerateMessageID() string {
	return uuid.New().String()
}

// GenerateGenerationID generates an 8-character hex ID for a generation
// (like git commit hashes), convenient for log output.
func GenerateGenerationID() (string, error) {
	bytes := make([]byte, 4) // 4 bytes = 8 hex characters
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("%x", bytes), nil
}

// GenerationFilter represents criteria for querying generations.
type GenerationFilter struct {
	Status   *string  `json:"status,omitempty"`
	AgentKey *string  `json:"agent_key,omitempty"`
	Statuses []string `json:"statuses,omitempty"` // For IN queries
}

// RunSummary represents aggregated metrics for a run.
type RunSummary struct {
	LastCompleted        *time.Time `json:"last_completed,omitempty"`
	RunID                string     `json:"run_id"`
	TotalBytes           int64      `json:"total_bytes"`
	TotalGenerations     int        `json:"total_generations"`
	CompletedGenerations int        `json:"completed_generations"`
	TotalFiles           int        `json:"total_files"`
}
