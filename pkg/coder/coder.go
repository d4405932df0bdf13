// Package coder drives bounded generation runs: ask the model for project
// files, extract them from the reply, write them into the project, validate
// the project, and retry with a corrective prompt until validation passes or
// the attempt budget is spent.
//
// Each run emits an ordered stream of progress events whose legal shapes are
// defined by GenerationTransitions. Infrastructure failures (transport, the
// filesystem, a validator that cannot start) abort the run with an error;
// everything the model gets wrong is absorbed into the retry loop.
package coder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gamesmith/pkg/config"
	"gamesmith/pkg/extract"
	"gamesmith/pkg/llm"
	"gamesmith/pkg/llm/llmerrors"
	"gamesmith/pkg/logx"
	"gamesmith/pkg/metrics"
	"gamesmith/pkg/persistence"
	"gamesmith/pkg/proto"
	"gamesmith/pkg/session"
	"gamesmith/pkg/templates"
	"gamesmith/pkg/utils"
	"gamesmith/pkg/validate"
	"gamesmith/pkg/workspace"
)

// Config describes one coding agent.
type Config struct {
	// AgentKey labels metrics and persistence rows, e.g. "game-coder".
	AgentKey string
	// SessionName is the transport session identity, e.g. "Game Coder".
	// Defaults to AgentKey.
	SessionName string
	// Model is the default generation model; Generate may override per call.
	Model string
	// MaxRetries is the default attempt budget. Zero means the configured
	// default.
	MaxRetries int
	// AllowedPatterns is the workspace write allowlist. Empty means the
	// configured default patterns.
	AllowedPatterns []string
}

// Coder generates project files for one agent through one cached session.
type Coder struct {
	logger      *logx.Logger
	transport   session.Transport
	cache       *session.Cache
	validator   validate.Validator
	recorder    metrics.Recorder
	renderer    *templates.Renderer
	agentKey    string
	sessionName string
	model       string
	maxRetries  int
	patterns    []string
}

// GenerateOptions describes one generation task.
type GenerateOptions struct {
	// Prompt is the task text sent on the first attempt.
	Prompt string
	// ProjectPath is the project root files are written under and the
	// validator checks.
	ProjectPath string
	// Model overrides the coder's default model when non-empty.
	Model string
	// MaxRetries overrides the coder's attempt budget when positive.
	MaxRetries int
	// StepIndex is the task's position in its plan, recorded with the
	// generation.
	StepIndex int
	// OnProgress receives the run's ordered event stream. Optional.
	OnProgress proto.ProgressFunc
}

// New creates a coder. The cache is shared with other agents so each agent
// key keeps exactly one conversation across tasks.
func New(transport session.Transport, cache *session.Cache, validator validate.Validator, recorder metrics.Recorder, cfg Config) (*Coder, error) {
	if cfg.AgentKey == "" {
		return nil, fmt.Errorf("coder config requires an agent key")
	}
	if cfg.SessionName == "" {
		cfg.SessionName = cfg.AgentKey
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = config.DefaultMaxRetries
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load coder templates: %w", err)
	}

	// Roster keys are user-authored and may carry characters that garble
	// log prefixes or file names.
	return &Coder{
		logger:      logx.NewLogger(utils.SanitizeIdentifier(cfg.AgentKey)),
		transport:   transport,
		cache:       cache,
		validator:   validator,
		recorder:    recorder,
		renderer:    renderer,
		agentKey:    cfg.AgentKey,
		sessionName: cfg.SessionName,
		model:       cfg.Model,
		maxRetries:  cfg.MaxRetries,
		patterns:    cfg.AllowedPatterns,
	}, nil
}

// attemptFailure classifies why an attempt failed. It selects the corrective
// prompt for the next attempt.
type attemptFailure int

const (
	failureNone attemptFailure = iota
	failureNoReply
	failureNoFiles
	failureValidation
)

// run carries the state of one Generate call across attempts.
type run struct {
	coder     *Coder
	opts      GenerateOptions
	writer    *workspace.Writer
	sessionID string
	model     string
	budget    int
	genID     string
	started   time.Time

	result       *proto.GenerationResult
	lastKind     proto.ProgressKind
	filesWritten int
	bytesWritten int64

	failure    attemptFailure
	diagnostic string
}

// Generate runs the bounded generation loop for one task.
//
// The returned result always has Attempts equal to the number of model calls
// actually made, one Errors entry per failed attempt, and Files holding the
// most recent extraction. Infrastructure failures return a nil result and the
// error; a run that merely exhausted its budget returns a result with
// Success false and a nil error.
func (c *Coder) Generate(ctx context.Context, opts GenerateOptions) (*proto.GenerationResult, error) {
	if strings.TrimSpace(opts.Prompt) == "" {
		return nil, fmt.Errorf("generation task is empty")
	}
	if opts.ProjectPath == "" {
		return nil, fmt.Errorf("project path is required")
	}

	writer, err := workspace.NewWriter(opts.ProjectPath, c.patterns)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}
	budget := opts.MaxRetries
	if budget <= 0 {
		budget = c.maxRetries
	}

	sessionID, err := c.cache.GetOrCreate(ctx, c.sessionName)
	if err != nil {
		return nil, err //nolint:wrapcheck // Transport failures must reach callers unmodified.
	}

	r := &run{
		coder:     c,
		opts:      opts,
		writer:    writer,
		sessionID: sessionID,
		model:     model,
		budget:    budget,
		started:   time.Now(),
		result:    &proto.GenerationResult{Files: []proto.GeneratedFile{}, Errors: []string{}},
	}
	r.begin()

	c.logger.Info("⚙️ Generation started (model %s, budget %d): %s", model, budget, summarize(opts.Prompt))

	for attempt := 1; attempt <= r.budget; attempt++ {
		r.result.Attempts = attempt

		done, err := r.attempt(ctx, attempt)
		if err != nil {
			if llmerrors.IsServiceUnavailable(err) {
				c.logger.Warn("⏸️ Provider unavailable, aborting generation")
			}
			r.finish(persistence.GenerationStatusFailed)
			return nil, err
		}
		if done {
			r.finish(persistence.GenerationStatusCompleted)
			c.logger.Info("✅ Generation completed in %d attempt(s)", attempt)
			return r.result, nil
		}

		errText := r.result.Errors[len(r.result.Errors)-1]
		if attempt < r.budget {
			c.logger.Warn("🔄 Attempt %d/%d failed, retrying: %s", attempt, r.budget, summarize(errText))
			r.emit(proto.ProgressRetrying, attempt, errText)
		} else {
			c.logger.Warn("❌ Generation failed after %d attempt(s): %s", attempt, summarize(errText))
			r.emit(proto.ProgressError, attempt, errText)
		}
	}

	r.finish(persistence.GenerationStatusFailed)
	return r.result, nil
}

// attempt runs one generate/extract/write/validate cycle. done reports that
// validation accepted the project. A non-nil error aborts the whole run;
// model mistakes are recorded on the result instead and feed the next
// corrective prompt.
func (r *run) attempt(ctx context.Context, attempt int) (bool, error) {
	c := r.coder

	r.emit(proto.ProgressGenerating, attempt, fmt.Sprintf("attempt %d/%d", attempt, r.budget))

	prompt, err := c.buildPrompt(r.opts.Prompt, r.failure, r.diagnostic)
	if err != nil {
		return false, err
	}

	reply, err := c.transport.SendPrompt(ctx, session.SendOptions{
		SessionID:   r.sessionID,
		Text:        prompt,
		Agent:       c.sessionName,
		Model:       r.model,
		Temperature: llm.TemperatureDeterministic,
	})
	if err != nil {
		return false, err //nolint:wrapcheck // Transport failures must reach callers unmodified.
	}

	// An empty reply never reaches extraction; the attempt dies here.
	if strings.TrimSpace(reply.Text) == "" {
		r.fail(attempt, "No response from AI", failureNoReply, "")
		return false, nil
	}

	r.emit(proto.ProgressExtracting, attempt, "")
	files := extract.Files(reply.Text)
	if attempt > 1 && len(files) > 0 {
		c.logRetryDiffs(attempt, r.result.Files, files)
	}

	// The result always carries the latest extraction, even an empty one;
	// only a skipped extraction leaves the previous files in place.
	if files == nil {
		files = []proto.GeneratedFile{}
	}
	r.result.Files = files

	if len(files) == 0 {
		c.logger.Debug("📦 Attempt %d reply (%d chars) contained no file blocks", attempt, len(reply.Text))
		r.fail(attempt, "No files extracted", failureNoFiles, "")
		return false, nil
	}

	r.emit(proto.ProgressWriting, attempt, fmt.Sprintf("%d file(s)", len(files)))
	if err := r.write(files); err != nil {
		return false, err
	}

	r.emit(proto.ProgressValidating, attempt, "")
	outcome, err := c.validator.CheckOnly(ctx, r.opts.ProjectPath, "")
	if err != nil {
		return false, fmt.Errorf("validation could not run: %w", err)
	}
	if outcome.OK() {
		r.result.Success = true
		r.emit(proto.ProgressComplete, attempt, fmt.Sprintf("validated after %d attempt(s)", attempt))
		return true, nil
	}

	c.recorder.IncValidationFailure(c.agentKey)
	r.fail(attempt, outcome.Diagnostic(), failureValidation, outcome.Diagnostic())
	return false, nil
}

// buildPrompt selects the text for the next model call. The first attempt
// sends the task as-is; retries send a corrective prompt shaped by what the
// previous attempt got wrong.
func (c *Coder) buildPrompt(task string, failure attemptFailure, diagnostic string) (string, error) {
	switch failure {
	case failureNone:
		return task, nil
	case failureValidation:
		return c.renderer.Render(templates.RetryValidationTemplate, &templates.TemplateData{
			Task:             task,
			ValidationErrors: diagnostic,
		})
	default:
		// Empty replies and file-less replies get the same correction: the
		// model needs the output format restated, not diagnostics.
		return c.renderer.Render(templates.RetryNoFilesTemplate, &templates.TemplateData{
			Task: task,
		})
	}
}

// emit delivers one progress event. Transitions are checked against the
// canonical table; a violation is a coder bug and is logged loudly rather
// than panicking so the run still finishes.
func (r *run) emit(kind proto.ProgressKind, attempt int, message string) {
	if !IsValidTransition(r.lastKind, kind) {
		r.coder.logger.Error("progress transition %q -> %q violates the generation table", r.lastKind, kind)
	}
	if message != "" {
		r.coder.logger.DebugState("progress", string(kind), message)
	} else {
		r.coder.logger.DebugState("progress", string(kind))
	}
	r.lastKind = kind
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(proto.Progress{Kind: kind, Attempt: attempt, Message: message})
	}
}

// fail records one failed attempt on the result, in the store, and as input
// to the next corrective prompt.
func (r *run) fail(attempt int, errText string, failure attemptFailure, diagnostic string) {
	r.result.Errors = append(r.result.Errors, fmt.Sprintf("Attempt %d: %s", attempt, errText))
	r.failure = failure
	r.diagnostic = diagnostic
	persistence.RecordGenerationError(r.genID, attempt, errText)
}

// write lands the extracted files in the project tree. Rejected paths are
// skipped so one bad declaration cannot sink an otherwise good attempt; real
// I/O failures abort the run.
func (r *run) write(files []proto.GeneratedFile) error {
	for i := range files {
		f := &files[i]
		_, n, err := r.writer.WriteFile(f.Path, f.Content)
		if errors.Is(err, workspace.ErrPathRejected) {
			r.coder.logger.Warn("🚫 Skipping %q: %v", f.Path, err)
			continue
		}
		if err != nil {
			return err
		}
		r.filesWritten++
		r.bytesWritten += int64(n)
		persistence.RecordGenerationFile(r.genID, f.Path, int64(n))
	}
	return nil
}

// begin opens the generation's row in the store.
func (r *run) begin() {
	id, err := persistence.GenerateGenerationID()
	if err != nil {
		r.coder.logger.Debug("generation ID unavailable, skipping persistence: %v", err)
		return
	}
	r.genID = id
	persistence.RecordGeneration(&persistence.Generation{
		ID:        id,
		RunID:     persistence.GetRunID(),
		AgentKey:  r.coder.agentKey,
		Task:      r.opts.Prompt,
		Status:    persistence.GenerationStatusRunning,
		StepIndex: r.opts.StepIndex,
		CreatedAt: r.started.UTC(),
	})
}

// finish closes the generation's row and reports the outcome to metrics.
func (r *run) finish(status string) {
	attempts := r.result.Attempts
	persistence.RecordGenerationStatus(&persistence.UpdateGenerationStatusRequest{
		GenerationID: r.genID,
		Status:       status,
		Attempts:     &attempts,
		FilesWritten: &r.filesWritten,
		BytesWritten: &r.bytesWritten,
		Timestamp:    time.Now().UTC(),
	})
	r.coder.recorder.ObserveGeneration(r.coder.agentKey, status, attempts, time.Since(r.started))
}

// summarize compresses text to one log-friendly line.
func summarize(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	const maxLen = 120
	if len(line) > maxLen {
		line = line[:maxLen] + "..."
	}
	return line
}
