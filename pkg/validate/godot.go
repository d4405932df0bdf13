// Package validate runs the Godot binary against a generated project to
// check that it still loads.
//
// Non-zero exit codes and timeouts are data in the returned outcome, not Go
// errors; only a failure to spawn the binary surfaces as an error from
// CheckOnly.
package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"gamesmith/pkg/config"
	"gamesmith/pkg/logx"
	"gamesmith/pkg/proto"
)

// Validator checks a generated project with an external tool.
type Validator interface {
	// CheckOnly validates the project at projectPath. A non-empty scriptPath
	// narrows the check to a single script.
	CheckOnly(ctx context.Context, projectPath, scriptPath string) (proto.ValidationOutcome, error)
}

// Godot invokes the Godot binary in headless mode.
type Godot struct {
	logger     *logx.Logger
	binaryPath string
	extraArgs  []string
	timeout    time.Duration
}

// NewGodot creates a validator from the Godot configuration.
func NewGodot(cfg *config.GodotConfig) *Godot {
	return &Godot{
		binaryPath: cfg.BinaryPath,
		timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
		extraArgs:  append([]string{}, cfg.ExtraArgs...),
		logger:     logx.NewLogger("validate"),
	}
}

// CheckOnly validates the project at projectPath with the Godot binary.
// With a scriptPath the run is a script syntax check; without one Godot
// loads the whole project and quits.
func (g *Godot) CheckOnly(ctx context.Context, projectPath, scriptPath string) (proto.ValidationOutcome, error) {
	if _, err := os.Stat(projectPath); os.IsNotExist(err) {
		return proto.ValidationOutcome{}, fmt.Errorf("project path does not exist: %s", projectPath)
	}

	args := []string{"--headless", "--path", projectPath}
	if scriptPath != "" {
		args = append(args, "--check-only", "--script", scriptPath)
	} else {
		args = append(args, "--quit")
	}
	args = append(args, g.extraArgs...)

	runCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.logger.Debug("🔍 Validating %s (script: %q)", projectPath, scriptPath)

	cmd := exec.CommandContext(runCtx, g.binaryPath, args...)

	// Capture stdout and stderr
	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()

	outcome := proto.ValidationOutcome{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	if err != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			// The run was killed by the validation timeout.
			outcome.ExitCode = -1
			outcome.TimedOut = true
		case errors.Is(ctx.Err(), context.Canceled):
			return proto.ValidationOutcome{}, fmt.Errorf("validation canceled: %w", ctx.Err())
		default:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// Non-zero exit is a validation result, not an error.
				outcome.ExitCode = exitErr.ExitCode()
			} else {
				return proto.ValidationOutcome{}, fmt.Errorf("failed to run godot: %w", err)
			}
		}
	}

	if !outcome.OK() {
		g.logger.Debug("🔍 Validation failed (exit %d, timed out: %v)", outcome.ExitCode, outcome.TimedOut)
	}

	return outcome, nil
}
