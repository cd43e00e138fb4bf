package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	base := []StepName{
		StepFilterAndNormalize,
		StepMoments,
		StepVelocity,
		StepVelocityGraph,
		StepVelocityPseudotime,
		StepVelocityConfidence,
	}

	tests := []struct {
		name string
		mode Mode
		want []StepName
	}{
		{"steady state", ModeSteadyState, base},
		{"stochastic", ModeStochastic, base},
		{"dynamical", ModeDynamical, []StepName{
			StepFilterAndNormalize,
			StepMoments,
			StepRecoverDynamics,
			StepVelocity,
			StepVelocityGraph,
			StepVelocityPseudotime,
			StepLatentTime,
			StepVelocityConfidence,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Plan(tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	for _, mode := range []Mode{ModeSteadyState, ModeStochastic, ModeDynamical} {
		first, err := Plan(mode)
		require.NoError(t, err)
		for i := 0; i < 50; i++ {
			got, err := Plan(mode)
			require.NoError(t, err)
			require.Equal(t, first, got, mode.String())
		}
	}
}

func TestCheckOrderRejectsDependencyInversion(t *testing.T) {
	err := checkOrder([]StepName{StepFilterAndNormalize, StepVelocity, StepMoments})
	assert.ErrorContains(t, err, "ordered before its dependency")

	assert.NoError(t, checkOrder([]StepName{StepFilterAndNormalize, StepMoments, StepVelocity}))
}

func TestPlanUnsetMode(t *testing.T) {
	_, err := Plan(ModeUnset)
	assert.ErrorIs(t, err, ErrMissingMode)
}

func TestPlanRespectsDependencies(t *testing.T) {
	for _, mode := range []Mode{ModeSteadyState, ModeStochastic, ModeDynamical} {
		plan, err := Plan(mode)
		require.NoError(t, err)

		pos := make(map[StepName]int, len(plan))
		for i, step := range plan {
			pos[step] = i
		}

		for _, step := range plan {
			for _, dep := range step.Requires() {
				depPos, ok := pos[dep]
				if !ok {
					assert.True(t, dep.DynamicalOnly(), "%s depends on missing %s", step, dep)
					continue
				}
				assert.Less(t, depPos, pos[step], "%s must run after %s", step, dep)
			}
		}
	}
}

func TestStepTable(t *testing.T) {
	for _, step := range Steps {
		assert.True(t, step.Valid(), step)
		assert.NotEmpty(t, step.Function(), step)
	}
	assert.False(t, StepName("umap").Valid())

	assert.True(t, StepRecoverDynamics.DynamicalOnly())
	assert.True(t, StepLatentTime.DynamicalOnly())
	assert.Equal(t, "tl.velocity", StepVelocity.Function())
	assert.Equal(t, "pp.filter_and_normalize", StepFilterAndNormalize.Function())
}
