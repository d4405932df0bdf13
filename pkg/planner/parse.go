package planner

import (
	"encoding/json"
	"strings"

	"gamesmith/pkg/proto"
	"gamesmith/pkg/utils"
)

// fallbackPlan is the deterministic single-step plan used whenever the model
// reply cannot be accepted: the whole request goes to the coder verbatim.
func fallbackPlan(userRequest string) proto.ExecutionPlan {
	return proto.NewExecutionPlan([]proto.PlanStep{
		{Agent: fallbackAgentKey, Task: userRequest, DependsOn: []string{}},
	})
}

// decodePlan interprets raw as a plan. The reply must parse as a bare JSON
// object with a non-empty steps array whose entries all carry a non-empty
// agent and task; any deviation, including a code fence around otherwise
// valid JSON, rejects the whole reply.
func decodePlan(raw string) (proto.ExecutionPlan, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return proto.ExecutionPlan{}, false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return proto.ExecutionPlan{}, false
	}

	rawSteps, err := utils.GetMapField[[]any](payload, "steps")
	if err != nil || len(rawSteps) == 0 {
		return proto.ExecutionPlan{}, false
	}

	steps := make([]proto.PlanStep, 0, len(rawSteps))
	for _, rawStep := range rawSteps {
		entry, err := utils.AssertMapStringAny(rawStep)
		if err != nil {
			return proto.ExecutionPlan{}, false
		}

		agent, err := utils.GetMapField[string](entry, "agent")
		if err != nil || strings.TrimSpace(agent) == "" {
			return proto.ExecutionPlan{}, false
		}
		task, err := utils.GetMapField[string](entry, "task")
		if err != nil || strings.TrimSpace(task) == "" {
			return proto.ExecutionPlan{}, false
		}

		deps, ok := decodeDependsOn(entry)
		if !ok {
			return proto.ExecutionPlan{}, false
		}

		steps = append(steps, proto.PlanStep{Agent: agent, Task: task, DependsOn: deps})
	}

	return proto.NewExecutionPlan(steps), true
}

// decodeDependsOn reads an optional dependsOn list of agent names.
func decodeDependsOn(entry map[string]any) ([]string, bool) {
	rawDeps, present := entry["dependsOn"]
	if !present || rawDeps == nil {
		return []string{}, true
	}

	list, ok := utils.SafeAssert[[]any](rawDeps)
	if !ok {
		return nil, false
	}

	deps := make([]string, 0, len(list))
	for _, item := range list {
		name, ok := utils.SafeAssert[string](item)
		if !ok {
			return nil, false
		}
		deps = append(deps, name)
	}
	return deps, true
}
