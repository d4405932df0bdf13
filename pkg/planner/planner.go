// Package planner turns a user request into an execution plan by asking the
// planning model, validating its JSON reply, and deterministically falling
// back to a single coder step whenever the reply is unusable.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gamesmith/pkg/llm"
	"gamesmith/pkg/logx"
	"gamesmith/pkg/persistence"
	"gamesmith/pkg/proto"
	"gamesmith/pkg/session"
	"gamesmith/pkg/templates"
)

// MaxPlanSteps caps plan length. The cap is enforced through the prompt; the
// parser accepts what the model sent.
const MaxPlanSteps = 6

// fallbackAgentKey is the agent the deterministic fallback plan delegates to.
const fallbackAgentKey = "game-coder"

// Planner creates execution plans through one cached planning session.
type Planner struct {
	logger    *logx.Logger
	transport session.Transport
	cache     *session.Cache
	renderer  *templates.Renderer
	roster    *Roster
	model     string
}

// New creates a planner that plans with the given model. The cache is shared
// with the coders so the planner's conversation lives in the same registry.
func New(transport session.Transport, cache *session.Cache, roster *Roster, model string) (*Planner, error) {
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load planner templates: %w", err)
	}

	if cache == nil {
		cache = session.NewCache(transport)
	}

	return &Planner{
		logger:    logx.NewLogger("planner"),
		transport: transport,
		cache:     cache,
		renderer:  renderer,
		roster:    roster,
		model:     model,
	}, nil
}

// CreatePlan asks the model to decompose userRequest into steps. Transport
// failures propagate; everything else degrades to the fallback plan, so a
// returned plan is always usable.
func (p *Planner) CreatePlan(ctx context.Context, userRequest string) (*proto.PlanResult, error) {
	sessionID, err := p.cache.GetOrCreate(ctx, p.sessionKey())
	if err != nil {
		return nil, err //nolint:wrapcheck // Transport failures must reach callers unmodified.
	}

	prompt, err := p.renderer.Render(templates.PlanRequestTemplate, &templates.TemplateData{
		AgentRoster: p.roster.Describe(),
		UserRequest: userRequest,
		MaxSteps:    MaxPlanSteps,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render plan prompt: %w", err)
	}

	p.logger.Info("📋 Planning: %s", userRequest)

	reply, err := p.transport.SendPrompt(ctx, session.SendOptions{
		SessionID:   sessionID,
		Text:        prompt,
		Agent:       p.sessionKey(),
		Model:       p.model,
		Temperature: llm.TemperatureDefault,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // Transport failures must reach callers unmodified.
	}

	plan, ok := decodePlan(reply.Text)
	result := &proto.PlanResult{Plan: plan, Raw: reply.Text}
	if !ok {
		p.logger.Warn("📋 Planner reply unusable, falling back to a single-step plan")
		result.Plan = fallbackPlan(userRequest)
	}

	resolved := p.ResolveDependencies(result.Plan)
	p.record(userRequest, result, !ok, resolved)

	p.logger.Info("📋 Plan accepted: %d step(s)", result.Plan.TotalSteps)
	return result, nil
}

// sessionKey is the fixed planning session identity.
func (p *Planner) sessionKey() string {
	if a, ok := p.roster.ByKey("game-planner"); ok {
		return a.Name
	}
	return "Game Planner"
}

// record persists the accepted plan with resolved dependency indices.
func (p *Planner) record(userRequest string, result *proto.PlanResult, fallback bool, resolved [][]int) {
	planID := persistence.GeneratePlanID()

	steps := make([]*persistence.PlanStepRecord, len(result.Plan.Steps))
	for i, step := range result.Plan.Steps {
		depJSON, err := json.Marshal(resolved[i])
		if err != nil {
			depJSON = []byte("[]")
		}
		steps[i] = &persistence.PlanStepRecord{
			PlanID:    planID,
			StepIndex: i,
			Agent:     step.Agent,
			Task:      step.Task,
			DependsOn: string(depJSON),
		}
	}

	persistence.RecordPlan(&persistence.PlanRecord{
		ID:          planID,
		RunID:       persistence.GetRunID(),
		UserRequest: userRequest,
		Raw:         result.Raw,
		TotalSteps:  result.Plan.TotalSteps,
		Fallback:    fallback,
		CreatedAt:   time.Now().UTC(),
	}, steps)
}
