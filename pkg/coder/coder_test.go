package coder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gamesmith/pkg/config"
	"gamesmith/pkg/llm"
	"gamesmith/pkg/llm/llmerrors"
	"gamesmith/pkg/metrics"
	"gamesmith/pkg/proto"
	"gamesmith/pkg/session"
)

// scriptedTransport scripts the session layer: each SendPrompt consumes the
// next reply in order.
type scriptedTransport struct {
	replies   []string
	sendErr   error
	sendErrAt int // 1-indexed call the error fires on; 0 means the first
	createErr error
	created   []string
	sent      []session.SendOptions
	nextID    int
}

func (s *scriptedTransport) CreateSession(_ context.Context, title string) (session.Handle, error) {
	if s.createErr != nil {
		return session.Handle{}, s.createErr
	}
	s.nextID++
	s.created = append(s.created, title)
	return session.Handle{ID: fmt.Sprintf("session-%d", s.nextID), Title: title}, nil
}

func (s *scriptedTransport) SendPrompt(_ context.Context, opts session.SendOptions) (session.Reply, error) {
	s.sent = append(s.sent, opts)
	if s.sendErr != nil && (s.sendErrAt == 0 || len(s.sent) == s.sendErrAt) {
		return session.Reply{}, s.sendErr
	}
	if len(s.sent) > len(s.replies) {
		return session.Reply{}, nil
	}
	text := s.replies[len(s.sent)-1]
	reply := session.Reply{Text: text}
	if text != "" {
		reply.Parts = []string{text}
	}
	return reply, nil
}

// scriptedValidator scripts the external checker: each CheckOnly consumes
// the next outcome in order, defaulting to a clean pass.
type scriptedValidator struct {
	outcomes []proto.ValidationOutcome
	err      error
	paths    []string
	scripts  []string
}

func (v *scriptedValidator) CheckOnly(_ context.Context, projectPath, scriptPath string) (proto.ValidationOutcome, error) {
	v.paths = append(v.paths, projectPath)
	v.scripts = append(v.scripts, scriptPath)
	if v.err != nil {
		return proto.ValidationOutcome{}, v.err
	}
	if len(v.paths) > len(v.outcomes) {
		return proto.ValidationOutcome{}, nil
	}
	return v.outcomes[len(v.paths)-1], nil
}

// progressLog collects the emitted event stream.
type progressLog struct {
	events []proto.Progress
}

func (p *progressLog) record(ev proto.Progress) {
	p.events = append(p.events, ev)
}

func (p *progressLog) kinds() []proto.ProgressKind {
	kinds := make([]proto.ProgressKind, len(p.events))
	for i, ev := range p.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (p *progressLog) has(kind proto.ProgressKind) bool {
	for _, ev := range p.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func newTestCoder(t *testing.T, transport session.Transport, validator *scriptedValidator) *Coder {
	t.Helper()

	c, err := New(transport, session.NewCache(transport), validator, metrics.Nop(), Config{
		AgentKey:    "game-coder",
		SessionName: "Game Coder",
		Model:       "claude-sonnet-4-5",
		MaxRetries:  3,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func fileReply(path, body string) string {
	return "Here you go:\n" +
		"```gdscript\n" +
		"# filename: " + path + "\n" +
		body + "\n" +
		"```\n"
}

func assertKinds(t *testing.T, got, want []proto.ProgressKind) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Event stream mismatch:\nwant %v\ngot  %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Event %d: expected %q, got %q (stream %v)", i, want[i], got[i], got)
		}
	}
}

// =============================================================================
// Success paths
// =============================================================================

func TestGenerate_FirstAttemptSuccess(t *testing.T) {
	projectDir := t.TempDir()
	transport := &scriptedTransport{replies: []string{fileReply("scripts/player.gd", "extends CharacterBody2D")}}
	validator := &scriptedValidator{}
	progress := &progressLog{}

	c := newTestCoder(t, transport, validator)
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a player character",
		ProjectPath: projectDir,
		OnProgress:  progress.record,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !result.Success {
		t.Error("Expected success")
	}
	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Expected no errors, got %v", result.Errors)
	}
	if len(result.Files) != 1 || result.Files[0].Path != "scripts/player.gd" {
		t.Fatalf("Unexpected files: %+v", result.Files)
	}

	content, err := os.ReadFile(filepath.Join(projectDir, "scripts", "player.gd"))
	if err != nil {
		t.Fatalf("Generated file missing on disk: %v", err)
	}
	if string(content) != "extends CharacterBody2D" {
		t.Errorf("Unexpected file content: %q", content)
	}

	assertKinds(t, progress.kinds(), kinds(
		proto.ProgressGenerating, proto.ProgressExtracting,
		proto.ProgressWriting, proto.ProgressValidating,
		proto.ProgressComplete,
	))
	if err := ValidateSequence(progress.kinds()); err != nil {
		t.Errorf("Event stream violates the transition table: %v", err)
	}
}

func TestGenerate_FirstAttemptSendsTaskVerbatim(t *testing.T) {
	transport := &scriptedTransport{replies: []string{fileReply("main.gd", "extends Node")}}
	validator := &scriptedValidator{}

	c := newTestCoder(t, transport, validator)
	if _, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a player character",
		ProjectPath: t.TempDir(),
	}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(transport.created) != 1 || transport.created[0] != "Agent: Game Coder" {
		t.Errorf("Unexpected session titles: %v", transport.created)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("Expected 1 prompt, got %d", len(transport.sent))
	}
	sent := transport.sent[0]
	if sent.Text != "Create a player character" {
		t.Errorf("First attempt must send the task verbatim, got %q", sent.Text)
	}
	if sent.Agent != "Game Coder" {
		t.Errorf("Expected agent %q, got %q", "Game Coder", sent.Agent)
	}
	if sent.Model != "claude-sonnet-4-5" {
		t.Errorf("Expected configured model, got %q", sent.Model)
	}
	if sent.Temperature != llm.TemperatureDeterministic {
		t.Errorf("Expected deterministic temperature, got %v", sent.Temperature)
	}
	if validator.scripts[0] != "" {
		t.Errorf("Whole-project validation must pass an empty script path, got %q", validator.scripts[0])
	}
}

func TestGenerate_ModelOverridePerCall(t *testing.T) {
	transport := &scriptedTransport{replies: []string{fileReply("main.gd", "extends Node")}}
	c := newTestCoder(t, transport, &scriptedValidator{})

	if _, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a title screen",
		ProjectPath: t.TempDir(),
		Model:       "gpt-5",
	}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if transport.sent[0].Model != "gpt-5" {
		t.Errorf("Expected per-call model override, got %q", transport.sent[0].Model)
	}
}

// =============================================================================
// Retry behavior
// =============================================================================

func TestGenerate_ValidationFailureThenSuccess(t *testing.T) {
	diagnostic := `Parse Error: Expected ":" at line 5`
	projectDir := t.TempDir()
	transport := &scriptedTransport{replies: []string{
		fileReply("scripts/player.gd", "extends CharacterBody2D"),
		fileReply("scripts/player.gd", "extends CharacterBody2D\n\nfunc _ready():\n\tpass"),
	}}
	validator := &scriptedValidator{outcomes: []proto.ValidationOutcome{
		{ExitCode: 1, Stderr: diagnostic},
		{ExitCode: 0},
	}}
	progress := &progressLog{}

	c := newTestCoder(t, transport, validator)
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a player character",
		ProjectPath: projectDir,
		OnProgress:  progress.record,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !result.Success {
		t.Error("Expected success on the second attempt")
	}
	if result.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", result.Attempts)
	}
	wantErrors := []string{`Attempt 1: Parse Error: Expected ":" at line 5`}
	if len(result.Errors) != 1 || result.Errors[0] != wantErrors[0] {
		t.Errorf("Expected errors %v, got %v", wantErrors, result.Errors)
	}

	retryPrompt := transport.sent[1].Text
	if !strings.Contains(retryPrompt, "Validation Errors") {
		t.Error("Retry prompt must carry a Validation Errors section")
	}
	if !strings.Contains(retryPrompt, diagnostic) {
		t.Error("Retry prompt must quote the diagnostic text")
	}
	if !strings.Contains(retryPrompt, "Create a player character") {
		t.Error("Retry prompt must carry the original task")
	}

	assertKinds(t, progress.kinds(), kinds(
		proto.ProgressGenerating, proto.ProgressExtracting,
		proto.ProgressWriting, proto.ProgressValidating,
		proto.ProgressRetrying,
		proto.ProgressGenerating, proto.ProgressExtracting,
		proto.ProgressWriting, proto.ProgressValidating,
		proto.ProgressComplete,
	))

	// Attempt numbers track the loop, including on the retry marker.
	if progress.events[4].Attempt != 1 {
		t.Errorf("Retrying event should belong to attempt 1, got %d", progress.events[4].Attempt)
	}
	if progress.events[5].Attempt != 2 {
		t.Errorf("Second generating event should belong to attempt 2, got %d", progress.events[5].Attempt)
	}

	content, err := os.ReadFile(filepath.Join(projectDir, "scripts", "player.gd"))
	if err != nil {
		t.Fatalf("Generated file missing on disk: %v", err)
	}
	if !strings.Contains(string(content), "_ready") {
		t.Errorf("Disk should hold the last attempt's content, got %q", content)
	}
}

func TestGenerate_DiagnosticFallsBackToStdout(t *testing.T) {
	transport := &scriptedTransport{replies: []string{
		fileReply("main.gd", "extends Node"),
		fileReply("main.gd", "extends Node2D"),
	}}
	validator := &scriptedValidator{outcomes: []proto.ValidationOutcome{
		{ExitCode: 1, Stdout: "script load failed"},
		{ExitCode: 0},
	}}

	c := newTestCoder(t, transport, validator)
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a main scene",
		ProjectPath: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Errors[0] != "Attempt 1: script load failed" {
		t.Errorf("Expected stdout fallback in the error, got %q", result.Errors[0])
	}
	if !strings.Contains(transport.sent[1].Text, "script load failed") {
		t.Error("Retry prompt must quote the stdout diagnostic")
	}
}

func TestGenerate_NoFilesEveryAttempt(t *testing.T) {
	transport := &scriptedTransport{replies: []string{
		"Sure! First you should open the editor and...",
		"As discussed, the player needs a sprite.",
	}}
	validator := &scriptedValidator{}
	progress := &progressLog{}

	c := newTestCoder(t, transport, validator)
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a player character",
		ProjectPath: t.TempDir(),
		MaxRetries:  2,
		OnProgress:  progress.record,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if result.Success {
		t.Error("Expected failure")
	}
	if result.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", result.Attempts)
	}
	if len(result.Files) != 0 {
		t.Errorf("Expected no files, got %+v", result.Files)
	}
	wantErrors := []string{"Attempt 1: No files extracted", "Attempt 2: No files extracted"}
	if len(result.Errors) != len(wantErrors) {
		t.Fatalf("Expected errors %v, got %v", wantErrors, result.Errors)
	}
	for i := range wantErrors {
		if result.Errors[i] != wantErrors[i] {
			t.Errorf("Error %d: expected %q, got %q", i, wantErrors[i], result.Errors[i])
		}
	}

	if progress.has(proto.ProgressWriting) || progress.has(proto.ProgressValidating) {
		t.Errorf("writing/validating must not be emitted without files, got %v", progress.kinds())
	}
	if len(validator.paths) != 0 {
		t.Error("Validator must never run when nothing was extracted")
	}
	assertKinds(t, progress.kinds(), kinds(
		proto.ProgressGenerating, proto.ProgressExtracting, proto.ProgressRetrying,
		proto.ProgressGenerating, proto.ProgressExtracting, proto.ProgressError,
	))

	if !strings.Contains(transport.sent[1].Text, "did not contain any valid Godot files") {
		t.Error("Retry prompt must state that no valid files were found")
	}
	if !strings.Contains(transport.sent[1].Text, "Create a player character") {
		t.Error("Retry prompt must repeat the original task")
	}
}

func TestGenerate_EmptyReplySkipsExtraction(t *testing.T) {
	transport := &scriptedTransport{replies: []string{
		"",
		fileReply("main.gd", "extends Node"),
	}}
	validator := &scriptedValidator{}
	progress := &progressLog{}

	c := newTestCoder(t, transport, validator)
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a main scene",
		ProjectPath: t.TempDir(),
		OnProgress:  progress.record,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !result.Success || result.Attempts != 2 {
		t.Errorf("Expected success on attempt 2, got success=%v attempts=%d", result.Success, result.Attempts)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "Attempt 1: No response from AI" {
		t.Errorf("Unexpected errors: %v", result.Errors)
	}

	assertKinds(t, progress.kinds(), kinds(
		proto.ProgressGenerating, proto.ProgressRetrying,
		proto.ProgressGenerating, proto.ProgressExtracting,
		proto.ProgressWriting, proto.ProgressValidating,
		proto.ProgressComplete,
	))

	if !strings.Contains(transport.sent[1].Text, "did not contain any valid Godot files") {
		t.Error("Empty replies use the no-files corrective prompt")
	}
}

func TestGenerate_BudgetExhaustedKeepsLastFiles(t *testing.T) {
	transport := &scriptedTransport{replies: []string{
		fileReply("scripts/enemy.gd", "extends Area2D"),
		"",
	}}
	validator := &scriptedValidator{outcomes: []proto.ValidationOutcome{
		{ExitCode: 1, Stderr: "enemy.gd:1 - Parse Error"},
	}}

	c := newTestCoder(t, transport, validator)
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create an enemy",
		ProjectPath: t.TempDir(),
		MaxRetries:  2,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if result.Success {
		t.Error("Expected failure")
	}
	if result.Attempts != 2 || len(result.Errors) != 2 {
		t.Errorf("Expected 2 attempts with 2 errors, got attempts=%d errors=%v", result.Attempts, result.Errors)
	}
	// The empty second reply skipped extraction, so the first attempt's
	// files survive on the failed result.
	if len(result.Files) != 1 || result.Files[0].Path != "scripts/enemy.gd" {
		t.Errorf("Expected the last extraction's files to survive, got %+v", result.Files)
	}
	if result.Errors[1] != "Attempt 2: No response from AI" {
		t.Errorf("Unexpected final error: %q", result.Errors[1])
	}
}

func TestGenerate_FilesReflectLastExtraction(t *testing.T) {
	transport := &scriptedTransport{replies: []string{
		fileReply("scripts/enemy.gd", "extends Area2D"),
		"No code this time, just advice.",
	}}
	validator := &scriptedValidator{outcomes: []proto.ValidationOutcome{
		{ExitCode: 1, Stderr: "Parse Error"},
	}}

	c := newTestCoder(t, transport, validator)
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create an enemy",
		ProjectPath: t.TempDir(),
		MaxRetries:  2,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// The second attempt ran extraction and got nothing, so the result
	// carries that empty extraction, not the first attempt's files.
	if len(result.Files) != 0 {
		t.Errorf("Expected the last extraction (empty) on the result, got %+v", result.Files)
	}
}

func TestGenerate_DefaultBudget(t *testing.T) {
	transport := &scriptedTransport{replies: []string{"prose", "prose", "prose"}}
	validator := &scriptedValidator{}

	c, err := New(transport, session.NewCache(transport), validator, metrics.Nop(), Config{
		AgentKey: "game-coder",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a shop",
		ProjectPath: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Attempts != config.DefaultMaxRetries {
		t.Errorf("Expected the default budget of %d attempts, got %d", config.DefaultMaxRetries, result.Attempts)
	}
}

// =============================================================================
// Infrastructure failures
// =============================================================================

func TestGenerate_TransportErrorPropagates(t *testing.T) {
	sendErr := errors.New("model unavailable")
	transport := &scriptedTransport{sendErr: sendErr}
	validator := &scriptedValidator{}

	c := newTestCoder(t, transport, validator)
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a player character",
		ProjectPath: t.TempDir(),
	})
	if !errors.Is(err, sendErr) {
		t.Fatalf("Expected transport error to propagate, got %v", err)
	}
	if result != nil {
		t.Error("No partial result is synthesized on transport failure")
	}
	if len(validator.paths) != 0 {
		t.Error("Validator must not run after a transport failure")
	}
}

func TestGenerate_ServiceUnavailableSurfacesTyped(t *testing.T) {
	sendErr := llmerrors.NewServiceUnavailableError(errors.New("upstream returned 503"), 4)
	transport := &scriptedTransport{sendErr: sendErr}

	c := newTestCoder(t, transport, &scriptedValidator{})
	_, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a player character",
		ProjectPath: t.TempDir(),
	})
	if !llmerrors.IsServiceUnavailable(err) {
		t.Fatalf("Expected a service-unavailable error, got %v", err)
	}
}

func TestGenerate_TransportErrorMidRunAbandonsRetries(t *testing.T) {
	sendErr := errors.New("connection reset")
	transport := &scriptedTransport{
		replies:   []string{fileReply("main.gd", "extends Node"), ""},
		sendErr:   sendErr,
		sendErrAt: 2,
	}
	validator := &scriptedValidator{outcomes: []proto.ValidationOutcome{
		{ExitCode: 1, Stderr: "Parse Error"},
	}}

	c := newTestCoder(t, transport, validator)
	if _, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a main scene",
		ProjectPath: t.TempDir(),
	}); !errors.Is(err, sendErr) {
		t.Fatalf("Expected mid-run transport error to propagate, got %v", err)
	}
	if len(transport.sent) != 2 {
		t.Errorf("Expected the run to stop after the failed call, got %d calls", len(transport.sent))
	}
}

func TestGenerate_SessionCreateErrorPropagates(t *testing.T) {
	createErr := errors.New("no backend")
	transport := &scriptedTransport{createErr: createErr}

	c := newTestCoder(t, transport, &scriptedValidator{})
	if _, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a player character",
		ProjectPath: t.TempDir(),
	}); !errors.Is(err, createErr) {
		t.Fatalf("Expected session creation error to propagate, got %v", err)
	}
}

func TestGenerate_ValidatorSpawnErrorAborts(t *testing.T) {
	spawnErr := errors.New("godot binary not found")
	transport := &scriptedTransport{replies: []string{fileReply("main.gd", "extends Node")}}
	validator := &scriptedValidator{err: spawnErr}

	c := newTestCoder(t, transport, validator)
	if _, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a main scene",
		ProjectPath: t.TempDir(),
	}); !errors.Is(err, spawnErr) {
		t.Fatalf("Expected validator spawn error to propagate, got %v", err)
	}
}

func TestGenerate_WriteFailureAborts(t *testing.T) {
	projectDir := t.TempDir()
	// A regular file where the writer needs a directory forces a real I/O
	// failure, as opposed to an allowlist rejection.
	if err := os.WriteFile(filepath.Join(projectDir, "scripts"), []byte("in the way"), 0o644); err != nil {
		t.Fatal(err)
	}

	transport := &scriptedTransport{replies: []string{fileReply("scripts/player.gd", "extends CharacterBody2D")}}
	c := newTestCoder(t, transport, &scriptedValidator{})

	if _, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create a player character",
		ProjectPath: projectDir,
	}); err == nil {
		t.Fatal("Expected a filesystem failure to abort the run")
	}
}

// =============================================================================
// Workspace safety
// =============================================================================

func TestGenerate_RejectedPathsAreSkipped(t *testing.T) {
	projectDir := t.TempDir()
	reply := strings.Join([]string{
		"Two files:",
		"```gdscript",
		"# filename: ../outside.gd",
		"extends Node",
		"```",
		"```gdscript",
		"# filename: scripts/safe.gd",
		"extends Node2D",
		"```",
	}, "\n")
	transport := &scriptedTransport{replies: []string{reply}}
	progress := &progressLog{}

	c := newTestCoder(t, transport, &scriptedValidator{})
	result, err := c.Generate(context.Background(), GenerateOptions{
		Prompt:      "Create two scripts",
		ProjectPath: projectDir,
		OnProgress:  progress.record,
	})
	if err != nil {
		t.Fatalf("A rejected path must not abort the run: %v", err)
	}

	if !result.Success {
		t.Error("Expected success")
	}
	// Extraction still reports both files; only the write was refused.
	if len(result.Files) != 2 {
		t.Errorf("Expected both extracted files on the result, got %+v", result.Files)
	}
	if _, err := os.Stat(filepath.Join(projectDir, "scripts", "safe.gd")); err != nil {
		t.Errorf("Allowed file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(projectDir), "outside.gd")); !os.IsNotExist(err) {
		t.Error("Escaping path must never be written")
	}
	if !progress.has(proto.ProgressValidating) {
		t.Error("Validation still runs for the surviving files")
	}
}

// =============================================================================
// Session reuse
// =============================================================================

func TestGenerate_SessionReusedAcrossTasks(t *testing.T) {
	transport := &scriptedTransport{replies: []string{
		fileReply("main.gd", "extends Node"),
		fileReply("hud.gd", "extends CanvasLayer"),
	}}
	c := newTestCoder(t, transport, &scriptedValidator{})

	for _, task := range []string{"Create a main scene", "Create a HUD"} {
		if _, err := c.Generate(context.Background(), GenerateOptions{
			Prompt:      task,
			ProjectPath: t.TempDir(),
		}); err != nil {
			t.Fatalf("Generate(%q) failed: %v", task, err)
		}
	}

	if len(transport.created) != 1 {
		t.Errorf("Expected one session across tasks, got %d (%v)", len(transport.created), transport.created)
	}
	if transport.sent[0].SessionID != transport.sent[1].SessionID {
		t.Error("Both tasks must reuse the same session")
	}
}

func TestGenerate_InputValidation(t *testing.T) {
	c := newTestCoder(t, &scriptedTransport{}, &scriptedValidator{})

	if _, err := c.Generate(context.Background(), GenerateOptions{ProjectPath: t.TempDir()}); err == nil {
		t.Error("Expected an error for an empty task")
	}
	if _, err := c.Generate(context.Background(), GenerateOptions{Prompt: "Create a player"}); err == nil {
		t.Error("Expected an error for a missing project path")
	}
}

func TestNew_SanitizesLoggerKey(t *testing.T) {
	transport := &scriptedTransport{}
	c, err := New(transport, session.NewCache(transport), &scriptedValidator{}, metrics.Nop(), Config{
		AgentKey: "level designer:01",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := c.logger.GetAgentID(); got != "level-designer-01" {
		t.Errorf("logger agent id = %q, want the sanitized key", got)
	}
}
