package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPlanNotFound is returned when no plan has been recorded for the current run.
var ErrPlanNotFound = errors.New("plan not found")

// UpdateRunStatusRequest represents a run status update.
type UpdateRunStatusRequest struct {
	Timestamp  time.Time `json:"timestamp,omitempty"`
	Error      *string   `json:"error,omitempty"`
	TotalSteps *int      `json:"total_steps,omitempty"`
	Status     string    `json:"status"`
}

// UpdateGenerationStatusRequest represents a generation status update.
type UpdateGenerationStatusRequest struct {
	Timestamp    time.Time `json:"timestamp,omitempty"`
	Attempts     *int      `json:"attempts,omitempty"`
	FilesWritten *int      `json:"files_written,omitempty"`
	BytesWritten *int64    `json:"bytes_written,omitempty"`
	GenerationID string    `json:"generation_id"`
	Status       string    `json:"status"`
}

// DatabaseOperations provides methods for database operations.
// All reads and writes are scoped to a single run.
type DatabaseOperations struct {
	db    *sql.DB
	runID string
}

// NewDatabaseOperations creates a new DatabaseOperations instance scoped to the given run.
func NewDatabaseOperations(db *sql.DB, runID string) *DatabaseOperations {
	return &DatabaseOperations{db: db, runID: runID}
}

// UpsertRun inserts or updates the run record for this operations instance.
func (ops *DatabaseOperations) UpsertRun(run *Run) error {
	query := `
		INSERT INTO runs (id, user_request, mode, status, total_steps)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_request = excluded.user_request,
			mode = excluded.mode,
			status = excluded.status,
			total_steps = excluded.total_steps
	`

	_, err := ops.db.Exec(query, run.ID, run.UserRequest, run.Mode, run.Status, run.TotalSteps)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunStatus updates the status and optionally completion fields of the current run.
func (ops *DatabaseOperations) UpdateRunStatus(req *UpdateRunStatusRequest) error {
	setParts := []string{"status = ?"}
	args := []interface{}{req.Status}

	// Terminal states record a completion timestamp
	if req.Status == RunStatusCompleted || req.Status == RunStatusFailed {
		setParts = append(setParts, "completed_at = ?")
		timestamp := req.Timestamp
		if timestamp.IsZero() {
			timestamp = time.Now()
		}
		args = append(args, timestamp)
	}

	if req.Error != nil {
		setParts = append(setParts, "error = ?")
		args = append(args, *req.Error)
	}

	if req.TotalSteps != nil {
		setParts = append(setParts, "total_steps = ?")
		args = append(args, *req.TotalSteps)
	}

	args = append(args, ops.runID)

	//nolint:gosec // Using safe string concatenation for dynamic query building with bounded inputs
	query := `UPDATE runs SET ` + strings.Join(setParts, ", ") + ` WHERE id = ?`

	result, err := ops.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run status for %s: %w", ops.runID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run %s not found", ops.runID)
	}

	return nil
}

// GetRunByID returns a run by its ID.
func (ops *DatabaseOperations) GetRunByID(runID string) (*Run, error) {
	query := `
		SELECT id, user_request, mode, status, total_steps, created_at, completed_at, error
		FROM runs WHERE id = ?
	`

	run := &Run{}
	err := ops.db.QueryRow(query, runID).Scan(
		&run.ID, &run.UserRequest, &run.Mode, &run.Status,
		&run.TotalSteps, &run.CreatedAt, &run.CompletedAt, &run.Error,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	return run, nil
}

// SavePlanWithSteps atomically inserts a plan and its steps.
// This ensures the plan row exists before any steps are created, preventing
// foreign key constraint errors.
func (ops *DatabaseOperations) SavePlanWithSteps(plan *PlanRecord, steps []*PlanStepRecord) error {
	tx, err := ops.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() // Ignore rollback errors
		}
	}()

	planQuery := `
		INSERT INTO plans (id, run_id, user_request, raw, is_fallback, total_steps)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_request = excluded.user_request,
			raw = excluded.raw,
			is_fallback = excluded.is_fallback,
			total_steps = excluded.total_steps
	`

	_, err = tx.Exec(planQuery, plan.ID, ops.runID, plan.UserRequest, plan.Raw, plan.Fallback, plan.TotalSteps)
	if err != nil {
		return fmt.Errorf("failed to upsert plan %s: %w", plan.ID, err)
	}

	stepQuery := `
		INSERT INTO plan_steps (plan_id, step_index, agent, task, depends_on)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, step_index) DO UPDATE SET
			agent = excluded.agent,
			task = excluded.task,
			depends_on = excluded.depends_on
	`

	for _, step := range steps {
		_, err = tx.Exec(stepQuery, plan.ID, step.StepIndex, step.Agent, step.Task, step.DependsOn)
		if err != nil {
			return fmt.Errorf("failed to upsert plan step %d: %w", step.StepIndex, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetLatestPlan returns the most recent plan for the current run.
// Returns ErrPlanNotFound if no plan has been recorded.
func (ops *DatabaseOperations) GetLatestPlan() (*PlanRecord, error) {
	query := `
		SELECT id, run_id, user_request, raw, is_fallback, total_steps, created_at
		FROM plans
		WHERE run_id = ?
		ORDER BY created_at DESC LIMIT 1
	`

	plan := &PlanRecord{}
	err := ops.db.QueryRow(query, ops.runID).Scan(
		&plan.ID, &plan.RunID, &plan.UserRequest, &plan.Raw,
		&plan.Fallback, &plan.TotalSteps, &plan.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest plan: %w", err)
	}

	return plan, nil
}

// GetPlanSteps returns all steps for a plan in document order.
func (ops *DatabaseOperations) GetPlanSteps(planID string) ([]*PlanStepRecord, error) {
	query := `
		SELECT plan_id, step_index, agent, task, depends_on
		FROM plan_steps
		WHERE plan_id = ?
		ORDER BY step_index ASC
	`

	rows, err := ops.db.Query(query, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan steps for %s: %w", planID, err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var steps []*PlanStepRecord
	for rows.Next() {
		var step PlanStepRecord
		var dependsOn sql.NullString
		if err := rows.Scan(&step.PlanID, &step.StepIndex, &step.Agent, &step.Task, &dependsOn); err != nil {
			return nil, fmt.Errorf("failed to scan plan step: %w", err)
		}
		step.DependsOn = dependsOn.String
		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return steps, nil
}

// UpsertGeneration inserts or updates a generation record, scoped to the current run.
func (ops *DatabaseOperations) UpsertGeneration(generation *Generation) error {
	query := `
		INSERT INTO generations (
			id, run_id, step_index, agent_key, task, status,
			attempts, files_written, bytes_written, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			step_index = excluded.step_index,
			agent_key = excluded.agent_key,
			task = excluded.task,
			status = excluded.status,
			attempts = excluded.attempts,
			files_written = excluded.files_written,
			bytes_written = excluded.bytes_written,
			completed_at = excluded.completed_at
	`

	_, err := ops.db.Exec(query,
		generation.ID, ops.runID, generation.StepIndex, generation.AgentKey,
		generation.Task, generation.Status, generation.Attempts,
		generation.FilesWritten, generation.BytesWritten, generation.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert generation %s: %w", generation.ID, err)
	}
	return nil
}

// UpdateGenerationStatus updates the status and optionally progress fields of a generation.
func (ops *DatabaseOperations) UpdateGenerationStatus(req *UpdateGenerationStatusRequest) error {
	setParts := []string{"status = ?"}
	args := []interface{}{req.Status}

	// Terminal states record a completion timestamp
	if req.Status == GenerationStatusCompleted || req.Status == GenerationStatusFailed {
		setParts = append(setParts, "completed_at = ?")
		timestamp := req.Timestamp
		if timestamp.IsZero() {
			timestamp = time.Now()
		}
		args = append(args, timestamp)
	}

	if req.Attempts != nil {
		setParts = append(setParts, "attempts = ?")
		args = append(args, *req.Attempts)
	}

	if req.FilesWritten != nil {
		setParts = append(setParts, "files_written = ?")
		args = append(args, *req.FilesWritten)
	}

	if req.BytesWritten != nil {
		setParts = append(setParts, "bytes_written = ?")
		args = append(args, *req.BytesWritten)
	}

	args = append(args, req.GenerationID, ops.runID)

	//nolint:gosec // Using safe string concatenation for dynamic query building with bounded inputs
	query := `UPDATE generations SET ` + strings.Join(setParts, ", ") + ` WHERE id = ? AND run_id = ?`

	result, err := ops.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update generation status for %s: %w", req.GenerationID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("generation %s not found", req.GenerationID)
	}

	return nil
}

// GetGenerationByID returns a generation by its ID, scoped to the current run.
func (ops *DatabaseOperations) GetGenerationByID(generationID string) (*Generation, error) {
	query := `
		SELECT id, run_id, step_index, agent_key, task, status,
		       attempts, files_written, bytes_written, created_at, completed_at
		FROM generations WHERE id = ? AND run_id = ?
	`

	generation := &Generation{}
	err := ops.db.QueryRow(query, generationID, ops.runID).Scan(
		&generation.ID, &generation.RunID, &generation.StepIndex,
		&generation.AgentKey, &generation.Task, &generation.Status,
		&generation.Attempts, &generation.FilesWritten, &generation.BytesWritten,
		&generation.CreatedAt, &generation.CompletedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("generation %s not found", generationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation %s: %w", generationID, err)
	}

	return generation, nil
}

// QueryGenerationsByFilter returns generations matching the given filter criteria,
// scoped to the current run.
func (ops *DatabaseOperations) QueryGenerationsByFilter(filter *GenerationFilter) ([]*Generation, error) {
	query := `
		SELECT id, run_id, step_index, agent_key, task, status,
		       attempts, files_written, bytes_written, created_at, completed_at
		FROM generations WHERE run_id = ?
	`
	args := []interface{}{ops.runID}

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, *filter.Status)
	}
	if filter.AgentKey != nil {
		query += " AND agent_key = ?"
		args = append(args, *filter.AgentKey)
	}
	if len(filter.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Statuses))
		placeholders = placeholders[:len(placeholders)-1] // Remove trailing comma
		query += fmt.Sprintf(" AND status IN (%s)", placeholders)
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}

	query += " ORDER BY step_index ASC, created_at ASC"

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var generations []*Generation
	for rows.Next() {
		generation := &Generation{}
		err := rows.Scan(
			&generation.ID, &generation.RunID, &generation.StepIndex,
			&generation.AgentKey, &generation.Task, &generation.Status,
			&generation.Attempts, &generation.FilesWritten, &generation.BytesWritten,
			&generation.CreatedAt, &generation.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		generations = append(generations, generation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return generations, nil
}

// AddGenerationFile records a file written to the project by a generation.
func (ops *DatabaseOperations) AddGenerationFile(generationID, path string, bytes int64) error {
	query := `
		INSERT INTO generation_files (generation_id, path, bytes)
		VALUES (?, ?, ?)
		ON CONFLICT(generation_id, path) DO UPDATE SET
			bytes = excluded.bytes
	`

	_, err := ops.db.Exec(query, generationID, path, bytes)
	if err != nil {
		return fmt.Errorf("failed to add generation file %s: %w", path, err)
	}
	return nil
}

// GetGenerationFiles returns all files written by a generation.
func (ops *DatabaseOperations) GetGenerationFiles(generationID string) ([]*GenerationFile, error) {
	query := `
		SELECT generation_id, path, bytes, created_at
		FROM generation_files
		WHERE generation_id = ?
		ORDER BY path ASC
	`

	rows, err := ops.db.Query(query, generationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files for generation %s: %w", generationID, err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var files []*GenerationFile
	for rows.Next() {
		var file GenerationFile
		if err := rows.Scan(&file.GenerationID, &file.Path, &file.Bytes, &file.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation file: %w", err)
		}
		files = append(files, &file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return files, nil
}

// AddGenerationError records a failed attempt within a generation.
func (ops *DatabaseOperations) AddGenerationError(generationID string, attempt int, message string) error {
	query := `
		INSERT OR REPLACE INTO generation_errors (generation_id, attempt, message)
		VALUES (?, ?, ?)
	`

	_, err := ops.db.Exec(query, generationID, attempt, message)
	if err != nil {
		return fmt.Errorf("failed to add generation error for attempt %d: %w", attempt, err)
	}
	return nil
}

// GetGenerationErrors returns all failed attempts for a generation in attempt order.
func (ops *DatabaseOperations) GetGenerationErrors(generationID string) ([]*GenerationError, error) {
	query := `
		SELECT generation_id, attempt, message, created_at
		FROM generation_errors
		WHERE generation_id = ?
		ORDER BY attempt ASC
	`

	rows, err := ops.db.Query(query, generationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query errors for generation %s: %w", generationID, err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var genErrors []*GenerationError
	for rows.Next() {
		var genErr GenerationError
		if err := rows.Scan(&genErr.GenerationID, &genErr.Attempt, &genErr.Message, &genErr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation error: %w", err)
		}
		genErrors = append(genErrors, &genErr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return genErrors, nil
}

// GetRunSummary returns aggregated metrics for the current run.
func (ops *DatabaseOperations) GetRunSummary() (*RunSummary, error) {
	query := `
		SELECT
			run_id,
			COUNT(*) as total_generations,
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) as completed_generations,
			SUM(files_written) as total_files,
			SUM(bytes_written) as total_bytes,
			MAX(CASE WHEN status = 'completed' THEN completed_at END) as last_completed
		FROM generations
		WHERE run_id = ?
		GROUP BY run_id
	`

	summary := &RunSummary{RunID: ops.runID}
	var lastCompleted sql.NullString
	err := ops.db.QueryRow(query, ops.runID).Scan(
		&summary.RunID,
		&summary.TotalGenerations,
		&summary.CompletedGenerations,
		&summary.TotalFiles,
		&summary.TotalBytes,
		&lastCompleted,
	)

	if errors.Is(err, sql.ErrNoRows) {
		// No generations for this run yet
		return summary, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run summary for %s: %w", ops.runID, err)
	}

	if lastCompleted.Valid {
		if t, ok := parseTimeText(lastCompleted.String); ok {
			summary.LastCompleted = &t
		}
	}

	return summary, nil
}

// parseTimeText parses a timestamp stored as text. Aggregate expressions lose
// the column's declared type, so the driver returns their values as raw text
// rather than time.Time.
func parseTimeText(s string) (time.Time, bool) {
	if i := strings.Index(s, " m="); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	layouts := []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// UpsertLLMSession inserts or updates an LLM session record, scoped to the current run.
func (ops *DatabaseOperations) UpsertLLMSession(session *LLMSession) error {
	query := `
		INSERT INTO llm_sessions (id, run_id, agent_key, title, model)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_key = excluded.agent_key,
			title = excluded.title,
			model = excluded.model
	`

	_, err := ops.db.Exec(query, session.ID, ops.runID, session.AgentKey, session.Title, session.Model)
	if err != nil {
		return fmt.Errorf("failed to upsert LLM session %s: %w", session.ID, err)
	}
	return nil
}

// GetLLMSessions returns all LLM sessions for the current run.
func (ops *DatabaseOperations) GetLLMSessions() ([]*LLMSession, error) {
	query := `
		SELECT id, run_id, agent_key, title, model, created_at
		FROM llm_sessions
		WHERE run_id = ?
		ORDER BY created_at ASC
	`

	rows, err := ops.db.Query(query, ops.runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query LLM sessions: %w", err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var sessions []*LLMSession
	for rows.Next() {
		var session LLMSession
		var model sql.NullString
		if err := rows.Scan(&session.ID, &session.RunID, &session.AgentKey, &session.Title, &model, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan LLM session: %w", err)
		}
		session.Model = model.String
		sessions = append(sessions, &session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sessions, nil
}

// AddLLMMessage appends a message to an LLM session.
func (ops *DatabaseOperations) AddLLMMessage(message *LLMMessage) error {
	query := `
		INSERT INTO llm_messages (id, session_id, seq, role, content)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := ops.db.Exec(query, message.ID, message.SessionID, message.Seq, message.Role, message.Content)
	if err != nil {
		return fmt.Errorf("failed to add LLM message %s: %w", message.ID, err)
	}
	return nil
}

// GetLLMMessages returns all messages for an LLM session in sequence order.
func (ops *DatabaseOperations) GetLLMMessages(sessionID string) ([]*LLMMessage, error) {
	query := `
		SELECT id, session_id, seq, role, content, created_at
		FROM llm_messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`

	rows, err := ops.db.Query(query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for session %s: %w", sessionID, err)
	}
	defer func() {
		_ = rows.Close() // Ignore error - operation should not fail due to close error
	}()

	var messages []*LLMMessage
	for rows.Next() {
		var message LLMMessage
		if err := rows.Scan(&message.ID, &message.SessionID, &message.Seq, &message.Role, &message.Content, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan LLM message: %w", err)
		}
		messages = append(messages, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return messages, nil
}
