// Package proto defines the shared data types exchanged between the planning
// and generation agents and their callers. The JSON field names are the wire
// contract consumed by frontends and must not change shape casually.
package proto

import (
	"fmt"
	"strings"
)

// GeneratedFile is a single artifact extracted from a model reply.
type GeneratedFile struct {
	// Path is the project-relative path exactly as declared in the reply.
	Path string `json:"path"`
	// Content is the file body without the filename declaration line.
	Content string `json:"content"`
	// Type is the language tag from the opening code fence (gdscript, ini, ...).
	Type string `json:"type"`
}

// ValidationOutcome is the observable result of one validator run. A non-zero
// exit code is data, not an error: the caller decides what to do with it.
type ValidationOutcome struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timedOut"`
}

// OK reports whether the validator accepted the project.
func (v ValidationOutcome) OK() bool {
	return v.ExitCode == 0 && !v.TimedOut
}

// Diagnostic returns the text a corrective prompt should quote: stderr when
// the validator wrote any, stdout as the fallback. When both streams are
// empty a short synthetic description keeps the prompt usable.
func (v ValidationOutcome) Diagnostic() string {
	if s := strings.TrimSpace(v.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(v.Stdout); s != "" {
		return s
	}
	if v.TimedOut {
		return "validation timed out"
	}
	return fmt.Sprintf("validation exited with code %d", v.ExitCode)
}

// GenerationResult summarizes one full generation run.
//
// Attempts always equals the number of model calls actually made. Files
// reflects the most recent extraction performed, so a failed run can still
// carry the files of its final attempt. Errors holds exactly one entry per
// failed attempt; on a failed run len(Errors) == Attempts.
type GenerationResult struct {
	Success  bool            `json:"success"`
	Attempts int             `json:"attempts"`
	Files    []GeneratedFile `json:"files"`
	Errors   []string        `json:"errors"`
}

// PlanStep is one unit of work in an execution plan, addressed to a named
// specialist agent. DependsOn lists agent names of earlier steps whose output
// this step builds on; it is advisory until resolved to indices.
type PlanStep struct {
	Agent     string   `json:"agent"`
	Task      string   `json:"task"`
	DependsOn []string `json:"dependsOn"`
}

// ExecutionPlan is an ordered list of steps. TotalSteps is always recomputed
// from len(Steps) when a plan is accepted, regardless of what a model claimed.
type ExecutionPlan struct {
	Steps      []PlanStep `json:"steps"`
	TotalSteps int        `json:"totalSteps"`
}

// PlanResult pairs an accepted plan with the verbatim model text it came
// from. Raw is empty only when the transport returned no text at all; a plan
// built by the deterministic fallback still carries the unparseable text.
type PlanResult struct {
	Plan ExecutionPlan `json:"plan"`
	Raw  string        `json:"raw"`
}

// NewExecutionPlan builds a plan from steps, normalizing TotalSteps and
// replacing nil DependsOn slices with empty ones so the wire shape is stable.
func NewExecutionPlan(steps []PlanStep) ExecutionPlan {
	for i := range steps {
		if steps[i].DependsOn == nil {
			steps[i].DependsOn = []string{}
		}
	}
	return ExecutionPlan{Steps: steps, TotalSteps: len(steps)}
}
