package persistence

// Fire-and-forget recording helpers. All of these are safe to call when the
// database has not been initialized (for example in plan-only mode or tests);
// they simply do nothing. Failures are logged, never propagated, so recording
// can never break a run.

// RecordRun persists a run record.
func RecordRun(run *Run) {
	if !IsInitialized() || run == nil {
		return
	}
	if err := Ops().UpsertRun(run); err != nil {
		dbLogger.Warn("failed to record run: %v", err)
	}
}

// RecordRunStatus persists a run status update.
func RecordRunStatus(req *UpdateRunStatusRequest) {
	if !IsInitialized() || req == nil {
		return
	}
	if err := Ops().UpdateRunStatus(req); err != nil {
		dbLogger.Warn("failed to record run status: %v", err)
	}
}

// RecordPlan persists a plan and its steps.
func RecordPlan(plan *PlanRecord, steps []*PlanStepRecord) {
	if !IsInitialized() || plan == nil {
		return
	}
	if err := Ops().SavePlanWithSteps(plan, steps); err != nil {
		dbLogger.Warn("failed to record plan: %v", err)
	}
}

// RecordGeneration persists a generation record.
func RecordGeneration(generation *Generation) {
	if !IsInitialized() || generation == nil {
		return
	}
	if err := Ops().UpsertGeneration(generation); err != nil {
		dbLogger.Warn("failed to record generation: %v", err)
	}
}

// RecordGenerationStatus persists a generation status update.
func RecordGenerationStatus(req *UpdateGenerationStatusRequest) {
	if !IsInitialized() || req == nil {
		return
	}
	if err := Ops().UpdateGenerationStatus(req); err != nil {
		dbLogger.Warn("failed to record generation status: %v", err)
	}
}

// RecordGenerationFile persists a file written by a generation.
func RecordGenerationFile(generationID, path string, bytes int64) {
	if !IsInitialized() || generationID == "" {
		return
	}
	if err := Ops().AddGenerationFile(generationID, path, bytes); err != nil {
		dbLogger.Warn("failed to record generation file: %v", err)
	}
}

// RecordGenerationError persists a failed attempt within a generation.
func RecordGenerationError(generationID string, attempt int, message string) {
	if !IsInitialized() || generationID == "" {
		return
	}
	if err := Ops().AddGenerationError(generationID, attempt, message); err != nil {
		dbLogger.Warn("failed to record generation error: %v", err)
	}
}

// RecordLLMSession persists an LLM session record.
func RecordLLMSession(session *LLMSession) {
	if !IsInitialized() || session == nil {
		return
	}
	if err := Ops().UpsertLLMSession(session); err != nil {
		dbLogger.Warn("failed to record LLM session: %v", err)
	}
}

// RecordLLMMessage persists a message within an LLM session.
func RecordLLMMessage(message *LLMMessage) {
	if !IsInitialized() || message == nil {
		return
	}
	if err := Ops().AddLLMMessage(message); err != nil {
		dbLogger.Warn("failed to record LLM message: %v", err)
	}
}
