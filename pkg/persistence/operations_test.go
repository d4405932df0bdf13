package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Helper function to create a new database for each test.
func createTestDB(t *testing.T) (*DatabaseOperations, func()) {
	tempDir, err := os.MkdirTemp("", "persistence_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")

	db, err := InitializeDatabase(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tempDir)
	}

	// Use test-run as run ID for all test operations
	return NewDatabaseOperations(db, "test-run"), cleanup
}

// createTestRun inserts the run row that scoped operations expect to exist.
func createTestRun(t *testing.T, ops *DatabaseOperations) {
	t.Helper()
	run := &Run{
		ID:          "test-run",
		UserRequest: "make a platformer with double jump",
		Mode:        RunModeRun,
		Status:      RunStatusRunning,
	}
	if err := ops.UpsertRun(run); err != nil {
		t.Fatalf("Failed to create test run: %v", err)
	}
}

func TestDatabaseOperations(t *testing.T) {
	// Test run lifecycle
	t.Run("RunLifecycle", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		createTestRun(t, ops)

		run, err := ops.GetRunByID("test-run")
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if run.UserRequest != "make a platformer with double jump" {
			t.Errorf("Expected user request to round-trip, got %q", run.UserRequest)
		}
		if run.Status != RunStatusRunning {
			t.Errorf("Expected status %q, got %q", RunStatusRunning, run.Status)
		}
		if run.CompletedAt != nil {
			t.Error("Expected completed_at to be unset for a running run")
		}

		totalSteps := 3
		updateReq := &UpdateRunStatusRequest{
			Status:     RunStatusCompleted,
			TotalSteps: &totalSteps,
		}
		if err := ops.UpdateRunStatus(updateReq); err != nil {
			t.Fatalf("Failed to update run status: %v", err)
		}

		updated, err := ops.GetRunByID("test-run")
		if err != nil {
			t.Fatalf("Failed to get updated run: %v", err)
		}
		if updated.Status != RunStatusCompleted {
			t.Errorf("Expected status %q, got %q", RunStatusCompleted, updated.Status)
		}
		if updated.TotalSteps != 3 {
			t.Errorf("Expected 3 total steps, got %d", updated.TotalSteps)
		}
		if updated.CompletedAt == nil {
			t.Error("Expected completed_at to be set for completed run")
		}
	})

	// Test run failure recording
	t.Run("RunFailure", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		createTestRun(t, ops)

		errMsg := "godot binary not found"
		updateReq := &UpdateRunStatusRequest{
			Status: RunStatusFailed,
			Error:  &errMsg,
		}
		if err := ops.UpdateRunStatus(updateReq); err != nil {
			t.Fatalf("Failed to update run status: %v", err)
		}

		failed, err := ops.GetRunByID("test-run")
		if err != nil {
			t.Fatalf("Failed to get failed run: %v", err)
		}
		if failed.Error == nil || *failed.Error != errMsg {
			t.Errorf("Expected error %q to be recorded, got %v", errMsg, failed.Error)
		}
	})

	// Test plan operations
	t.Run("PlanOperations", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		createTestRun(t, ops)

		plan := &PlanRecord{
			ID:          GeneratePlanID(),
			UserRequest: "make a platformer with double jump",
			Raw:         `{"steps":[{"agent":"game-designer","task":"design levels"}]}`,
			Fallback:    false,
			TotalSteps:  2,
		}
		steps := []*PlanStepRecord{
			{StepIndex: 0, Agent: "game-designer", Task: "design levels", DependsOn: "[]"},
			{StepIndex: 1, Agent: "game-coder", Task: "implement player movement", DependsOn: "[0]"},
		}

		if err := ops.SavePlanWithSteps(plan, steps); err != nil {
			t.Fatalf("Failed to save plan with steps: %v", err)
		}

		latest, err := ops.GetLatestPlan()
		if err != nil {
			t.Fatalf("Failed to get latest plan: %v", err)
		}
		if latest.ID != plan.ID {
			t.Errorf("Expected plan ID %q, got %q", plan.ID, latest.ID)
		}
		if latest.Raw != plan.Raw {
			t.Errorf("Expected raw plan text to round-trip, got %q", latest.Raw)
		}
		if latest.Fallback {
			t.Error("Expected fallback to be false")
		}

		retrieved, err := ops.GetPlanSteps(plan.ID)
		if err != nil {
			t.Fatalf("Failed to get plan steps: %v", err)
		}
		if len(retrieved) != 2 {
			t.Fatalf("Expected 2 steps, got %d", len(retrieved))
		}
		if retrieved[0].Agent != "game-designer" || retrieved[1].Agent != "game-coder" {
			t.Errorf("Expected steps in document order, got %q then %q", retrieved[0].Agent, retrieved[1].Agent)
		}
		if retrieved[1].DependsOn != "[0]" {
			t.Errorf("Expected depends_on [0], got %q", retrieved[1].DependsOn)
		}
	})

	// Test missing plan
	t.Run("PlanNotFound", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		_, err := ops.GetLatestPlan()
		if err != ErrPlanNotFound {
			t.Errorf("Expected ErrPlanNotFound, got %v", err)
		}
	})

	// Test generation lifecycle
	t.Run("GenerationLifecycle", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		createTestRun(t, ops)

		genID := mustGenerateGenerationID()
		generation := &Generation{
			ID:       genID,
			AgentKey: "Game Coder",
			Task:     "implement player movement",
			Status:   GenerationStatusRunning,
		}
		if err := ops.UpsertGeneration(generation); err != nil {
			t.Fatalf("Failed to upsert generation: %v", err)
		}

		retrieved, err := ops.GetGenerationByID(genID)
		if err != nil {
			t.Fatalf("Failed to get generation: %v", err)
		}
		if retrieved.Task != generation.Task {
			t.Errorf("Expected task %q, got %q", generation.Task, retrieved.Task)
		}
		if retrieved.RunID != "test-run" {
			t.Errorf("Expected generation to be scoped to test-run, got %q", retrieved.RunID)
		}

		attempts := 2
		filesWritten := 4
		bytesWritten := int64(2048)
		updateReq := &UpdateGenerationStatusRequest{
			GenerationID: genID,
			Status:       GenerationStatusCompleted,
			Attempts:     &attempts,
			FilesWritten: &filesWritten,
			BytesWritten: &bytesWritten,
		}
		if err := ops.UpdateGenerationStatus(updateReq); err != nil {
			t.Fatalf("Failed to update generation status: %v", err)
		}

		updated, err := ops.GetGenerationByID(genID)
		if err != nil {
			t.Fatalf("Failed to get updated generation: %v", err)
		}
		if updated.Status != GenerationStatusCompleted {
			t.Errorf("Expected status %q, got %q", GenerationStatusCompleted, updated.Status)
		}
		if updated.Attempts != 2 || updated.FilesWritten != 4 || updated.BytesWritten != 2048 {
			t.Errorf("Expected progress fields to update, got attempts=%d files=%d bytes=%d",
				updated.Attempts, updated.FilesWritten, updated.BytesWritten)
		}
		if updated.CompletedAt == nil {
			t.Error("Expected completed_at to be set for completed generation")
		}
	})

	// Test generation files and errors
	t.Run("GenerationFilesAndErrors", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		createTestRun(t, ops)

		genID := mustGenerateGenerationID()
		generation := &Generation{
			ID:       genID,
			AgentKey: "Game Coder",
			Task:     "implement player movement",
			Status:   GenerationStatusRunning,
		}
		if err := ops.UpsertGeneration(generation); err != nil {
			t.Fatalf("Failed to upsert generation: %v", err)
		}

		if err := ops.AddGenerationFile(genID, "scripts/player.gd", 512); err != nil {
			t.Fatalf("Failed to add file: %v", err)
		}
		if err := ops.AddGenerationFile(genID, "scenes/player.tscn", 256); err != nil {
			t.Fatalf("Failed to add file: %v", err)
		}
		// Re-writing the same path updates the byte count
		if err := ops.AddGenerationFile(genID, "scripts/player.gd", 600); err != nil {
			t.Fatalf("Failed to re-add file: %v", err)
		}

		files, err := ops.GetGenerationFiles(genID)
		if err != nil {
			t.Fatalf("Failed to get generation files: %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("Expected 2 files, got %d", len(files))
		}
		for _, file := range files {
			if file.Path == "scripts/player.gd" && file.Bytes != 600 {
				t.Errorf("Expected updated byte count 600, got %d", file.Bytes)
			}
		}

		if err := ops.AddGenerationError(genID, 1, "Attempt 1: No files extracted"); err != nil {
			t.Fatalf("Failed to add error: %v", err)
		}
		if err := ops.AddGenerationError(genID, 2, "Attempt 2: Parse error at line 10"); err != nil {
			t.Fatalf("Failed to add error: %v", err)
		}

		genErrors, err := ops.GetGenerationErrors(genID)
		if err != nil {
			t.Fatalf("Failed to get generation errors: %v", err)
		}
		if len(genErrors) != 2 {
			t.Fatalf("Expected 2 errors, got %d", len(genErrors))
		}
		if genErrors[0].Attempt != 1 || genErrors[1].Attempt != 2 {
			t.Errorf("Expected errors in attempt order, got %d then %d", genErrors[0].Attempt, genErrors[1].Attempt)
		}
	})

	// Test queries
	t.Run("Queries", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		createTestRun(t, ops)

		generations := []*Generation{
			{ID: mustGenerateGenerationID(), StepIndex: 0, AgentKey: "Game Coder", Task: "Task A", Status: GenerationStatusCompleted},
			{ID: mustGenerateGenerationID(), StepIndex: 1, AgentKey: "Game Coder", Task: "Task B", Status: GenerationStatusRunning},
			{ID: mustGenerateGenerationID(), StepIndex: 2, AgentKey: "Sound Designer", Task: "Task C", Status: GenerationStatusFailed},
		}

		for _, generation := range generations {
			if upsertErr := ops.UpsertGeneration(generation); upsertErr != nil {
				t.Fatalf("Failed to create generation %s: %v", generation.ID, upsertErr)
			}
		}

		// Query by status
		filter := &GenerationFilter{Status: &[]string{GenerationStatusCompleted}[0]}
		results, err := ops.QueryGenerationsByFilter(filter)
		if err != nil {
			t.Fatalf("Failed to query by status: %v", err)
		}
		if len(results) != 1 || results[0].Status != GenerationStatusCompleted {
			t.Errorf("Expected 1 completed generation, got %d", len(results))
		}

		// Query by multiple statuses
		filter = &GenerationFilter{Statuses: []string{GenerationStatusRunning, GenerationStatusFailed}}
		results, err = ops.QueryGenerationsByFilter(filter)
		if err != nil {
			t.Fatalf("Failed to query by multiple statuses: %v", err)
		}
		if len(results) != 2 {
			t.Errorf("Expected 2 generations, got %d", len(results))
		}

		// Query by agent
		agentKey := "Sound Designer"
		filter = &GenerationFilter{AgentKey: &agentKey}
		results, err = ops.QueryGenerationsByFilter(filter)
		if err != nil {
			t.Fatalf("Failed to query by agent: %v", err)
		}
		if len(results) != 1 || results[0].Task != "Task C" {
			t.Errorf("Expected Task C for Sound Designer, got %d results", len(results))
		}
	})

	// Test run summary
	t.Run("RunSummary", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		createTestRun(t, ops)

		// Empty run has an empty summary
		empty, err := ops.GetRunSummary()
		if err != nil {
			t.Fatalf("Failed to get empty summary: %v", err)
		}
		if empty.TotalGenerations != 0 {
			t.Errorf("Expected 0 generations in empty summary, got %d", empty.TotalGenerations)
		}

		generations := []*Generation{
			{ID: mustGenerateGenerationID(), StepIndex: 0, AgentKey: "Game Coder", Task: "Task A", Status: GenerationStatusRunning, FilesWritten: 3, BytesWritten: 1024},
			{ID: mustGenerateGenerationID(), StepIndex: 1, AgentKey: "Game Coder", Task: "Task B", Status: GenerationStatusRunning, FilesWritten: 2, BytesWritten: 512},
			{ID: mustGenerateGenerationID(), StepIndex: 2, AgentKey: "Game Coder", Task: "Task C", Status: GenerationStatusFailed, FilesWritten: 0, BytesWritten: 0},
		}
		for _, generation := range generations {
			if upsertErr := ops.UpsertGeneration(generation); upsertErr != nil {
				t.Fatalf("Failed to create generation: %v", upsertErr)
			}
		}

		// Complete the first two so last_completed is populated
		for _, generation := range generations[:2] {
			updateReq := &UpdateGenerationStatusRequest{
				GenerationID: generation.ID,
				Status:       GenerationStatusCompleted,
			}
			if err := ops.UpdateGenerationStatus(updateReq); err != nil {
				t.Fatalf("Failed to complete generation: %v", err)
			}
		}

		summary, err := ops.GetRunSummary()
		if err != nil {
			t.Fatalf("Failed to get run summary: %v", err)
		}
		if summary.TotalGenerations != 3 {
			t.Errorf("Expected 3 total generations, got %d", summary.TotalGenerations)
		}
		if summary.CompletedGenerations != 2 {
			t.Errorf("Expected 2 completed generations, got %d", summary.CompletedGenerations)
		}
		if summary.TotalFiles != 5 {
			t.Errorf("Expected 5 total files, got %d", summary.TotalFiles)
		}
		if summary.TotalBytes != 1536 {
			t.Errorf("Expected 1536 total bytes, got %d", summary.TotalBytes)
		}
		if summary.LastCompleted == nil {
			t.Error("Expected last_completed to be set")
		}
	})

	// Test LLM session recording
	t.Run("LLMSessions", func(t *testing.T) {
		ops, cleanup := createTestDB(t)
		defer cleanup()

		createTestRun(t, ops)

		session := &LLMSession{
			ID:       GenerateMessageID(),
			AgentKey: "Game Coder",
			Title:    "Agent: Game Coder",
			Model:    "claude-sonnet-4-5",
		}
		if err := ops.UpsertLLMSession(session); err != nil {
			t.Fatalf("Failed to upsert LLM session: %v", err)
		}

		messages := []*LLMMessage{
			{ID: GenerateMessageID(), SessionID: session.ID, Seq: 0, Role: "system", Content: "You are a Godot game developer."},
			{ID: GenerateMessageID(), SessionID: session.ID, Seq: 1, Role: "user", Content: "implement player movement"},
			{ID: GenerateMessageID(), SessionID: session.ID, Seq: 2, Role: "assistant", Content: "```gdscript\n# filename: scripts/player.gd\n```"},
		}
		for _, message := range messages {
			if err := ops.AddLLMMessage(message); err != nil {
				t.Fatalf("Failed to add message: %v", err)
			}
		}

		retrieved, err := ops.GetLLMMessages(session.ID)
		if err != nil {
			t.Fatalf("Failed to get messages: %v", err)
		}
		if len(retrieved) != 3 {
			t.Fatalf("Expected 3 messages, got %d", len(retrieved))
		}
		if retrieved[0].Role != "system" || retrieved[2].Role != "assistant" {
			t.Errorf("Expected messages in sequence order, got %q first and %q last",
				retrieved[0].Role, retrieved[2].Role)
		}

		sessions, err := ops.GetLLMSessions()
		if err != nil {
			t.Fatalf("Failed to get sessions: %v", err)
		}
		if len(sessions) != 1 || sessions[0].Title != "Agent: Game Coder" {
			t.Errorf("Expected 1 session titled 'Agent: Game Coder', got %d", len(sessions))
		}
	})
}

func TestIDGeneration(t *testing.T) {
	// Test run ID generation
	runID := GenerateRunID()
	if len(runID) != 36 { // UUID length
		t.Errorf("Expected run ID length 36, got %d", len(runID))
	}

	// Test generation ID generation
	genID, err := GenerateGenerationID()
	if err != nil {
		t.Fatalf("Failed to generate generation ID: %v", err)
	}
	if len(genID) != 8 {
		t.Errorf("Expected generation ID length 8, got %d", len(genID))
	}

	// Test uniqueness
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := GenerateGenerationID()
		if err != nil {
			t.Fatalf("Failed to generate generation ID: %v", err)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestValidGenerationStatus(t *testing.T) {
	for _, status := range ValidGenerationStatuses() {
		if !IsValidGenerationStatus(status) {
			t.Errorf("Expected %q to be valid", status)
		}
	}
	if IsValidGenerationStatus("exploded") {
		t.Error("Expected unknown status to be invalid")
	}
}

// Helper functions.
func mustGenerateGenerationID() string {
	id, err := GenerateGenerationID()
	if err != nil {
		panic(err)
	}
	return id
}

// TestRunIsolation verifies that database operations are properly isolated by run_id.
func TestRunIsolation(t *testing.T) {
	// Create a shared database for multiple runs
	tempDir, err := os.MkdirTemp("", "run_isolation_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "test.db")
	db, err := InitializeDatabase(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// runCounter ensures unique run IDs for each sub-test
	runCounter := 0
	createRuns := func(t *testing.T) (*DatabaseOperations, *DatabaseOperations) {
		t.Helper()
		runCounter++
		runA := fmt.Sprintf("run-%03d-a", runCounter)
		runB := fmt.Sprintf("run-%03d-b", runCounter)
		opsA := NewDatabaseOperations(db, runA)
		opsB := NewDatabaseOperations(db, runB)
		for _, pair := range []struct {
			ops *DatabaseOperations
			id  string
		}{{opsA, runA}, {opsB, runB}} {
			run := &Run{ID: pair.id, UserRequest: "request for " + pair.id, Mode: RunModeRun, Status: RunStatusRunning}
			if err := pair.ops.UpsertRun(run); err != nil {
				t.Fatalf("Failed to create run %s: %v", pair.id, err)
			}
		}
		return opsA, opsB
	}

	// Test 1: Generations should be isolated by run
	t.Run("GenerationIsolation", func(t *testing.T) {
		opsA, opsB := createRuns(t)

		genA := &Generation{ID: mustGenerateGenerationID(), AgentKey: "Game Coder", Task: "Task A", Status: GenerationStatusRunning}
		genB := &Generation{ID: mustGenerateGenerationID(), AgentKey: "Game Coder", Task: "Task B", Status: GenerationStatusRunning}

		if err := opsA.UpsertGeneration(genA); err != nil {
			t.Fatalf("Failed to insert generation A: %v", err)
		}
		if err := opsB.UpsertGeneration(genB); err != nil {
			t.Fatalf("Failed to insert generation B: %v", err)
		}

		// Run A should only see its own generation
		retrievedA, err := opsA.GetGenerationByID(genA.ID)
		if err != nil {
			t.Fatalf("Failed to get generation A: %v", err)
		}
		if retrievedA.Task != "Task A" {
			t.Errorf("Expected Task A, got %q", retrievedA.Task)
		}

		// Run A should NOT see run B's generation
		if _, err := opsA.GetGenerationByID(genB.ID); err == nil {
			t.Error("Run A should not be able to retrieve run B's generation")
		}

		// Filter queries are run-scoped
		resultsA, err := opsA.QueryGenerationsByFilter(&GenerationFilter{})
		if err != nil {
			t.Fatalf("Failed to query generations for run A: %v", err)
		}
		if len(resultsA) != 1 {
			t.Errorf("Run A should see 1 generation, got %d", len(resultsA))
		}
	})

	// Test 2: Status updates should be isolated by run
	t.Run("StatusUpdateIsolation", func(t *testing.T) {
		opsA, opsB := createRuns(t)

		genA := &Generation{ID: mustGenerateGenerationID(), AgentKey: "Game Coder", Task: "Task A", Status: GenerationStatusRunning}
		if err := opsA.UpsertGeneration(genA); err != nil {
			t.Fatalf("Failed to insert generation A: %v", err)
		}

		// Run B must not be able to update run A's generation
		updateReq := &UpdateGenerationStatusRequest{
			GenerationID: genA.ID,
			Status:       GenerationStatusFailed,
		}
		if err := opsB.UpdateGenerationStatus(updateReq); err == nil {
			t.Error("Run B should not be able to update run A's generation")
		}

		// Run A's generation is untouched
		still, err := opsA.GetGenerationByID(genA.ID)
		if err != nil {
			t.Fatalf("Failed to get generation A: %v", err)
		}
		if still.Status != GenerationStatusRunning {
			t.Errorf("Expected status %q, got %q", GenerationStatusRunning, still.Status)
		}
	})

	// Test 3: Plans and summaries should be isolated by run
	t.Run("PlanAndSummaryIsolation", func(t *testing.T) {
		opsA, opsB := createRuns(t)

		plan := &PlanRecord{
			ID:          GeneratePlanID(),
			UserRequest: "request for run A",
			Raw:         "{}",
			TotalSteps:  1,
		}
		steps := []*PlanStepRecord{{StepIndex: 0, Agent: "game-coder", Task: "do it", DependsOn: "[]"}}
		if err := opsA.SavePlanWithSteps(plan, steps); err != nil {
			t.Fatalf("Failed to save plan for run A: %v", err)
		}

		if _, err := opsA.GetLatestPlan(); err != nil {
			t.Errorf("Run A should see its plan: %v", err)
		}
		if _, err := opsB.GetLatestPlan(); err != ErrPlanNotFound {
			t.Errorf("Run B should see no plan, got %v", err)
		}

		genA := &Generation{ID: mustGenerateGenerationID(), AgentKey: "Game Coder", Task: "Task A", Status: GenerationStatusCompleted, FilesWritten: 2, BytesWritten: 100}
		if err := opsA.UpsertGeneration(genA); err != nil {
			t.Fatalf("Failed to insert generation A: %v", err)
		}

		summaryB, err := opsB.GetRunSummary()
		if err != nil {
			t.Fatalf("Failed to get summary for run B: %v", err)
		}
		if summaryB.TotalGenerations != 0 {
			t.Errorf("Run B summary should be empty, got %d generations", summaryB.TotalGenerations)
		}
	})

	// Test 4: LLM sessions should be isolated by run
	t.Run("LLMSessionIsolation", func(t *testing.T) {
		opsA, opsB := createRuns(t)

		session := &LLMSession{
			ID:       GenerateMessageID(),
			AgentKey: "Game Coder",
			Title:    "Agent: Game Coder",
			Model:    "claude-sonnet-4-5",
		}
		if err := opsA.UpsertLLMSession(session); err != nil {
			t.Fatalf("Failed to upsert session for run A: %v", err)
		}

		sessionsA, err := opsA.GetLLMSessions()
		if err != nil {
			t.Fatalf("Failed to get sessions for run A: %v", err)
		}
		if len(sessionsA) != 1 {
			t.Errorf("Run A should see 1 session, got %d", len(sessionsA))
		}

		sessionsB, err := opsB.GetLLMSessions()
		if err != nil {
			t.Fatalf("Failed to get sessions for run B: %v", err)
		}
		if len(sessionsB) != 0 {
			t.Errorf("Run B should see 0 sessions, got %d", len(sessionsB))
		}
	})
}
