package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gamesmith/pkg/coder"
	"gamesmith/pkg/config"
	"gamesmith/pkg/logx"
	"gamesmith/pkg/metrics"
	"gamesmith/pkg/persistence"
	"gamesmith/pkg/planner"
	"gamesmith/pkg/proto"
	"gamesmith/pkg/session"
	"gamesmith/pkg/utils"
	"gamesmith/pkg/validate"
)

// defaultCoderKey is where steps naming unknown or unplannable agents land.
// The plan parser accepts whatever agent names the model produced; routing
// problems are resolved here, not there.
const defaultCoderKey = "game-coder"

// engine wires one CLI invocation: a session manager over the configured
// providers, one shared session cache so every agent keeps one conversation,
// the planner, and a lazily built coder per roster agent.
type engine struct {
	logger     *logx.Logger
	cfg        config.Config
	manager    *session.Manager
	cache      *session.Cache
	validator  validate.Validator
	recorder   metrics.Recorder
	usage      *metrics.InternalRecorder
	roster     *planner.Roster
	planner    *planner.Planner
	coders     map[string]*coder.Coder
	projectDir string
	coderModel string
	maxRetries int
}

func newEngine(projectDir string, cfg config.Config, withPrometheus bool, modelOverride string, retriesOverride int) (*engine, error) {
	roster, err := planner.LoadRoster(filepath.Join(projectDir, config.ProjectConfigDir, config.RosterFilename))
	if err != nil {
		return nil, err
	}

	instructions, err := utils.LoadUserInstructions(projectDir)
	if err != nil {
		return nil, err
	}

	// The internal recorder always runs; it feeds the end-of-run usage
	// summary. Prometheus joins in when the endpoint is served.
	usage := metrics.NewInternalRecorder()
	recorder := metrics.Recorder(usage)
	if withPrometheus {
		recorder = metrics.Multi(metrics.NewPrometheusRecorder(), usage)
	}

	manager := session.NewManager(*cfg.Agents, roster.Profiles(), instructions, recorder)
	cache := session.NewCache(manager)

	p, err := planner.New(manager, cache, roster, cfg.Agents.PlannerModel)
	if err != nil {
		return nil, err
	}

	coderModel := modelOverride
	if coderModel == "" {
		coderModel = cfg.Agents.CoderModel
	}
	maxRetries := retriesOverride
	if maxRetries <= 0 {
		maxRetries = cfg.Agents.MaxRetries
	}

	return &engine{
		logger:     logx.NewLogger("engine"),
		cfg:        cfg,
		manager:    manager,
		cache:      cache,
		validator:  validate.NewGodot(cfg.Godot),
		recorder:   recorder,
		usage:      usage,
		roster:     roster,
		planner:    p,
		coders:     make(map[string]*coder.Coder),
		projectDir: projectDir,
		coderModel: coderModel,
		maxRetries: maxRetries,
	}, nil
}

// planRequest creates a plan and prints it without executing anything.
func (e *engine) planRequest(ctx context.Context, request string) (err error) {
	e.beginRun(request, persistence.RunModePlan)
	total := 0
	defer func() { e.endRun(err, total) }()

	result, err := e.planner.CreatePlan(ctx, request)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	total = result.Plan.TotalSteps

	printPlan(result.Plan)
	return nil
}

// runRequest plans a request and executes every step. Steps run in plan
// order; dependsOn is advisory and already satisfied by earlier steps.
func (e *engine) runRequest(ctx context.Context, request string) (err error) {
	e.beginRun(request, persistence.RunModeRun)
	total := 0
	defer func() { e.endRun(err, total) }()

	result, err := e.planner.CreatePlan(ctx, request)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	plan := result.Plan
	total = plan.TotalSteps

	printPlan(plan)

	for i, step := range plan.Steps {
		fmt.Printf("\n▶ Step %d/%d [%s] %s\n", i+1, plan.TotalSteps, step.Agent, oneline(step.Task))
		if err = e.runStep(ctx, i, step); err != nil {
			return err
		}
	}

	fmt.Printf("\n🎉 All %d step(s) completed\n", plan.TotalSteps)
	return nil
}

// runTask runs a single coding task without planning.
func (e *engine) runTask(ctx context.Context, task string) (err error) {
	e.beginRun(task, persistence.RunModeTask)
	defer func() { e.endRun(err, 1) }()

	fmt.Printf("\n▶ Task [%s] %s\n", defaultCoderKey, oneline(task))
	if err = e.runStep(ctx, 0, proto.PlanStep{Agent: defaultCoderKey, Task: task}); err != nil {
		return err
	}

	fmt.Println("\n🎉 Task completed")
	return nil
}

// runStep drives one generation through the step's coder. Infrastructure
// failures and exhausted budgets both surface as errors; the distinction is
// in the message, not the control flow, because either way the run stops.
func (e *engine) runStep(ctx context.Context, index int, step proto.PlanStep) error {
	c, err := e.coderFor(step.Agent)
	if err != nil {
		return err
	}

	result, err := c.Generate(ctx, coder.GenerateOptions{
		Prompt:      step.Task,
		ProjectPath: e.projectDir,
		StepIndex:   index,
		OnProgress:  printProgress,
	})
	if err != nil {
		return fmt.Errorf("step %d aborted: %w", index+1, err)
	}
	if !result.Success {
		lastErr := "no attempts made"
		if len(result.Errors) > 0 {
			lastErr = result.Errors[len(result.Errors)-1]
		}
		return fmt.Errorf("step %d failed after %d attempt(s): %s", index+1, result.Attempts, lastErr)
	}
	return nil
}

// coderFor returns the coder for a plan-step agent key, creating it on first
// use. Unknown and unplannable keys route to the default coder.
func (e *engine) coderFor(agentKey string) (*coder.Coder, error) {
	agent, ok := e.roster.ByKey(agentKey)
	if !ok || agent.Automatic || agent.Kind == "PLANNER" {
		e.logger.Warn("⚠️ Plan step names unplannable agent %q, routing to %s", agentKey, defaultCoderKey)
		if agent, ok = e.roster.ByKey(defaultCoderKey); !ok {
			return nil, fmt.Errorf("roster has no %s agent to fall back to", defaultCoderKey)
		}
	}

	if c, ok := e.coders[agent.Key]; ok {
		return c, nil
	}

	c, err := coder.New(e.manager, e.cache, e.validator, e.recorder, coder.Config{
		AgentKey:        agent.Key,
		SessionName:     agent.Name,
		Model:           e.coderModel,
		MaxRetries:      e.maxRetries,
		AllowedPatterns: e.workspacePatterns(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create coder %s: %w", agent.Key, err)
	}
	e.coders[agent.Key] = c
	return c, nil
}

func (e *engine) workspacePatterns() []string {
	if e.cfg.Workspace == nil {
		return nil
	}
	return e.cfg.Workspace.AllowedPatterns
}

// beginRun opens the run's row in the store.
func (e *engine) beginRun(userRequest, mode string) {
	persistence.RecordRun(&persistence.Run{
		ID:          persistence.GetRunID(),
		UserRequest: userRequest,
		Mode:        mode,
		Status:      persistence.RunStatusRunning,
		CreatedAt:   time.Now().UTC(),
	})
}

// endRun closes the run's row with its final status.
func (e *engine) endRun(runErr error, totalSteps int) {
	req := &persistence.UpdateRunStatusRequest{
		Status:    persistence.RunStatusCompleted,
		Timestamp: time.Now().UTC(),
	}
	if totalSteps > 0 {
		req.TotalSteps = &totalSteps
	}
	if runErr != nil {
		req.Status = persistence.RunStatusFailed
		msg := runErr.Error()
		req.Error = &msg
	}
	persistence.RecordRunStatus(req)
}

// printUsage prints the model usage accumulated across this invocation.
// Generation counters live on plan-agent keys without request traffic; the
// summary shows only rows that actually spent tokens.
func (e *engine) printUsage() {
	all := e.usage.GetAllAgentUsage()

	keys := make([]string, 0, len(all))
	for key, u := range all {
		if u.RequestCount > 0 {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)

	fmt.Println("\n💰 Model usage:")
	for _, key := range keys {
		u := all[key]
		fmt.Printf("  %-14s %3d request(s)  %6d in / %6d out tokens  $%.4f\n",
			key, u.RequestCount, u.PromptTokens, u.CompletionTokens, u.TotalCost)
	}
	if throttles := e.usage.GetThrottleCount(); throttles > 0 {
		fmt.Printf("  ⏳ %d rate-limit wait(s)\n", throttles)
	}
}

// printCumulativeUsage queries an external Prometheus server for the usage
// accumulated across all runs. Off unless the config names a server.
func (e *engine) printCumulativeUsage(ctx context.Context) {
	if e.cfg.Metrics == nil || e.cfg.Metrics.PrometheusURL == "" {
		return
	}

	svc, err := metrics.NewQueryService(e.cfg.Metrics.PrometheusURL)
	if err != nil {
		e.logger.Warn("⚠️ Prometheus query service unavailable: %v", err)
		return
	}

	// Metrics are labeled with session identities, the roster agent names.
	names := make([]string, 0, len(e.roster.Agents))
	for _, a := range e.roster.Agents {
		names = append(names, a.Name)
	}

	rows, err := cumulativeUsage(ctx, svc, names)
	if err != nil {
		e.logger.Warn("⚠️ Failed to query cumulative usage: %v", err)
		return
	}
	if len(rows) == 0 {
		return
	}

	fmt.Println("\n📈 Cumulative usage (all runs):")
	for _, row := range rows {
		fmt.Printf("  %-14s %6d in / %6d out tokens  $%.4f\n",
			row.AgentKey, row.PromptTokens, row.CompletionTokens, row.TotalCost)
	}
}

// cumulativeUsage fetches per-agent totals, dropping agents the server has no
// traffic for.
func cumulativeUsage(ctx context.Context, svc *metrics.QueryService, agentKeys []string) ([]*metrics.AgentMetrics, error) {
	var rows []*metrics.AgentMetrics
	for _, key := range agentKeys {
		m, err := svc.GetAgentMetrics(ctx, key)
		if err != nil {
			return nil, err //nolint:wrapcheck // Query failures must reach the caller unmodified.
		}
		if m.TotalTokens == 0 && m.TotalCost == 0 {
			continue
		}
		rows = append(rows, m)
	}
	return rows, nil
}

// printPlan renders an accepted plan for the console.
func printPlan(plan proto.ExecutionPlan) {
	fmt.Printf("\n📋 Plan: %d step(s)\n", plan.TotalSteps)
	for i, step := range plan.Steps {
		if len(step.DependsOn) > 0 {
			fmt.Printf("  %d. [%s] %s (after %s)\n", i+1, step.Agent, step.Task, strings.Join(step.DependsOn, ", "))
		} else {
			fmt.Printf("  %d. [%s] %s\n", i+1, step.Agent, step.Task)
		}
	}
}

// formatProgress renders one generation progress event as a console line.
func formatProgress(ev proto.Progress) string {
	switch ev.Kind {
	case proto.ProgressGenerating:
		return fmt.Sprintf("  🤖 Generating (%s)", ev.Message)
	case proto.ProgressExtracting:
		return "  📦 Extracting files"
	case proto.ProgressWriting:
		return fmt.Sprintf("  📝 Writing %s", ev.Message)
	case proto.ProgressValidating:
		return "  🔍 Validating with Godot"
	case proto.ProgressRetrying:
		return fmt.Sprintf("  🔄 Retrying after: %s", ev.Message)
	case proto.ProgressComplete:
		return fmt.Sprintf("  ✅ %s", ev.Message)
	case proto.ProgressError:
		return fmt.Sprintf("  ❌ %s", ev.Message)
	default:
		return fmt.Sprintf("  %s %s", ev.Kind, ev.Message)
	}
}

func printProgress(ev proto.Progress) {
	fmt.Println(formatProgress(ev))
}

// oneline compresses task text for step headers.
func oneline(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	const maxLen = 100
	if len(line) > maxLen {
		line = line[:maxLen] + "..."
	}
	return line
}
