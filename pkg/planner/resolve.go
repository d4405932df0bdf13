package planner

import "gamesmith/pkg/proto"

// ResolveDependencies maps each step's dependsOn agent names to step
// indices. A name resolves to the nearest preceding step with that agent;
// names matching no preceding step are dropped with a warning, since a junk
// reference should not sink an otherwise usable plan. Steps are never
// reordered.
func (p *Planner) ResolveDependencies(plan proto.ExecutionPlan) [][]int {
	resolved := make([][]int, len(plan.Steps))

	for i, step := range plan.Steps {
		indices := []int{}
		for _, name := range step.DependsOn {
			idx := -1
			for j := i - 1; j >= 0; j-- {
				if plan.Steps[j].Agent == name {
					idx = j
					break
				}
			}
			if idx == -1 {
				p.logger.Warn("📋 Step %d depends on %q, which matches no earlier step; dropping", i+1, name)
				continue
			}
			indices = append(indices, idx)
		}
		resolved[i] = indices
	}

	return resolved
}
