package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

// setupTestLogger redirects log output to a buffer for inspection.
func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	return &buf
}

// resetTestLogger resets the logger to default stderr.
func resetTestLogger() {
	logWriterLock.Lock()
	logWriter = nil
	logWriterLock.Unlock()
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-agent")

	if logger.GetAgentID() != "test-agent" {
		t.Errorf("Expected agent ID 'test-agent', got '%s'", logger.GetAgentID())
	}
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("planner")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[planner]") {
		t.Errorf("Expected agent ID in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO") {
		t.Errorf("Expected level in output, got: %s", output)
	}
	if !strings.Contains(output, "Test message with formatting") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
	// ISO timestamp
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestLogLevels(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("test-agent")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line")

	output := buf.String()
	for _, want := range []string{"INFO: info line", "WARN: warn line", "ERROR: error line"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
}

func TestDebugGating(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	defer SetDebugConfig(false, nil)

	SetDebugConfig(false, nil)
	logger := NewLogger("test-agent")
	logger.Debug("hidden line")
	if strings.Contains(buf.String(), "hidden line") {
		t.Error("Expected debug output to be suppressed when disabled")
	}

	SetDebugConfig(true, nil)
	logger.Debug("visible line")
	if !strings.Contains(buf.String(), "DEBUG: visible line") {
		t.Errorf("Expected debug output when enabled, got: %s", buf.String())
	}
}

func TestDebugState(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	defer SetDebugConfig(false, nil)

	SetDebugConfig(true, nil)
	logger := NewLogger("game-coder")

	logger.DebugState("progress", "GENERATING", "attempt 1/3")
	if !strings.Contains(buf.String(), "State progress: GENERATING - attempt 1/3") {
		t.Errorf("Expected state line with detail, got: %s", buf.String())
	}

	logger.DebugState("progress", "EXTRACTING")
	if !strings.Contains(buf.String(), "State progress: EXTRACTING") {
		t.Errorf("Expected state line without detail, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	defer SetDebugConfig(false, nil)

	SetDebugConfig(true, []string{"coder"})
	if !IsDebugEnabledForDomain("coder") {
		t.Error("Expected coder domain to be enabled")
	}
	if IsDebugEnabledForDomain("session") {
		t.Error("Expected session domain to be disabled")
	}

	SetDebugConfig(true, nil)
	if !IsDebugEnabledForDomain("session") {
		t.Error("Expected all domains enabled when no filter is set")
	}

	SetDebugConfig(false, nil)
	if IsDebugEnabledForDomain("coder") {
		t.Error("Expected all domains disabled when debug is off")
	}
}

func TestContextDebugCarriesAgentID(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()
	defer SetDebugConfig(false, nil)

	SetDebugConfig(true, []string{"coder"})
	ctx := WithAgentID(context.Background(), "game-coder")
	Debug(ctx, "coder", "attempt %d", 2)

	output := buf.String()
	if !strings.Contains(output, "[game-coder]") {
		t.Errorf("Expected agent ID from context, got: %s", output)
	}
	if !strings.Contains(output, "[coder] attempt 2") {
		t.Errorf("Expected domain-prefixed message, got: %s", output)
	}

	// Filtered domains stay silent.
	Debug(ctx, "session", "should not appear")
	if strings.Contains(buf.String(), "should not appear") {
		t.Error("Expected filtered domain to be suppressed")
	}
}

func TestWrap(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	if err := Wrap(nil, "ignored"); err != nil {
		t.Errorf("Expected nil error to pass through, got %v", err)
	}

	base := errors.New("connection refused")
	err := Wrap(base, "db connect")
	if err == nil {
		t.Fatal("Expected wrapped error")
	}
	if !errors.Is(err, base) {
		t.Error("Expected wrapped error to unwrap to the cause")
	}
	if !strings.HasPrefix(err.Error(), "db connect: ") {
		t.Errorf("Expected message prefix, got %q", err.Error())
	}
	if !strings.Contains(buf.String(), "db connect: ") {
		t.Errorf("Expected wrap to log, got: %s", buf.String())
	}
}

func TestErrorfReturnsError(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	err := Errorf("setup failed: %d", 7)
	if err == nil {
		t.Fatal("Expected error")
	}
	if err.Error() != "setup failed: 7" {
		t.Errorf("Expected formatted message, got %q", err.Error())
	}
	if !strings.Contains(buf.String(), "ERROR: setup failed: 7") {
		t.Errorf("Expected error to log, got: %s", buf.String())
	}
}
