package domain

import (
	"fmt"

	"github.com/dominikbraun/graph"
)

// dependencies maps each step to the steps whose annotations it reads.
var dependencies = map[StepName][]StepName{
	StepMoments:            {StepFilterAndNormalize},
	StepRecoverDynamics:    {StepMoments},
	StepVelocity:           {StepMoments, StepRecoverDynamics},
	StepVelocityGraph:      {StepVelocity},
	StepVelocityPseudotime: {StepVelocityGraph},
	StepLatentTime:         {StepRecoverDynamics, StepVelocityGraph},
	StepVelocityConfidence: {StepVelocity},
}

func stepHash(s StepName) StepName { return s }

// Plan returns the steps to execute for the given mode, in the fixed
// order of Steps. Dynamical-only steps are left out unless mode is
// ModeDynamical. The order is checked against the dependency graph.
func Plan(mode Mode) ([]StepName, error) {
	if !mode.IsSet() {
		return nil, ErrMissingMode
	}

	plan := make([]StepName, 0, len(Steps))
	for _, step := range Steps {
		if step.DynamicalOnly() && !mode.IsDynamical() {
			continue
		}
		plan = append(plan, step)
	}

	if err := checkOrder(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// checkOrder builds the dependency graph of plan and verifies that every
// step comes after the steps it reads from.
func checkOrder(plan []StepName) error {
	g := graph.New(stepHash, graph.Directed(), graph.PreventCycles())

	pos := make(map[StepName]int, len(plan))
	for i, step := range plan {
		pos[step] = i
		if err := g.AddVertex(step); err != nil {
			return fmt.Errorf("failed to add step %s: %w", step, err)
		}
	}

	for _, step := range plan {
		for _, dep := range dependencies[step] {
			if _, ok := pos[dep]; !ok {
				continue
			}
			if err := g.AddEdge(dep, step); err != nil {
				return fmt.Errorf("failed to link %s -> %s: %w", dep, step, err)
			}
		}
	}

	predecessors, err := g.PredecessorMap()
	if err != nil {
		return fmt.Errorf("failed to read step graph: %w", err)
	}
	for step, deps := range predecessors {
		for dep := range deps {
			if pos[dep] >= pos[step] {
				return fmt.Errorf("step %s is ordered before its dependency %s", step, dep)
			}
		}
	}
	return nil
}
