package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/aescanero/velodago/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatrix(t *testing.T, genes, cells int) *domain.CountMatrix {
	t.Helper()
	g := make([]string, genes)
	for i := range g {
		g[i] = "gene" + string(rune('A'+i))
	}
	c := make([]string, cells)
	for i := range c {
		c[i] = "cell" + string(rune('a'+i))
	}
	data := make([]float64, genes*cells)
	for i := range data {
		data[i] = float64(i % 7)
	}
	m, err := domain.NewCountMatrix(g, c, data)
	require.NoError(t, err)
	return m
}

func runPlan(t *testing.T, ctx context.Context, s interface {
	Call(context.Context, domain.StepName, map[string]any) error
}, mode domain.Mode) {
	t.Helper()
	plan, err := domain.Plan(mode)
	require.NoError(t, err)
	for _, step := range plan {
		var kw map[string]any
		if step == domain.StepVelocity {
			kw = map[string]any{"mode": mode.String()}
		}
		require.NoError(t, s.Call(ctx, step, kw), step)
	}
}

func TestBackendFullPipeline(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	s, err := b.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CreateDataset(ctx, testMatrix(t, 4, 3), testMatrix(t, 4, 3)))

	runPlan(t, ctx, s, domain.ModeDynamical)

	result, err := s.Extract(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Obs.NRows())
	assert.Equal(t, 4, result.Var.NRows())
	require.NotNil(t, result.AnnData)
	assert.Contains(t, result.AnnData.Layers, "spliced")
	assert.Contains(t, result.AnnData.Layers, "unspliced")
	for _, step := range domain.Steps {
		assert.True(t, result.AnnData.HasAnnotations(step.Annotations()), step)
	}

	require.NoError(t, s.Close())
	assert.Equal(t, 0, b.OpenSessions())
	assert.Equal(t, domain.Steps, b.Steps(s.ID()))
}

func TestBackendExtractWithoutAnnData(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	s, err := b.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateDataset(ctx, testMatrix(t, 2, 5), testMatrix(t, 2, 5)))
	runPlan(t, ctx, s, domain.ModeStochastic)

	result, err := s.Extract(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, result.AnnData)
	assert.Contains(t, result.Obs.Columns, "velocity_pseudotime")
	assert.NotContains(t, result.Obs.Columns, "latent_time")
}

func TestBackendShapeMismatch(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	s, err := b.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close()

	err = s.CreateDataset(ctx, testMatrix(t, 4, 3), testMatrix(t, 4, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ValueError")

	// The dataset was never built.
	assert.Error(t, s.Call(ctx, domain.StepFilterAndNormalize, nil))
}

func TestBackendEnforcesStepDependencies(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()

	s, err := b.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateDataset(ctx, testMatrix(t, 2, 2), testMatrix(t, 2, 2)))
	require.NoError(t, s.Call(ctx, domain.StepFilterAndNormalize, nil))
	require.NoError(t, s.Call(ctx, domain.StepMoments, nil))

	// Dynamical velocity reads the recovered dynamics.
	err = s.Call(ctx, domain.StepVelocity, map[string]any{"mode": "dynamical"})
	assert.Error(t, err)

	assert.NoError(t, s.Call(ctx, domain.StepVelocity, map[string]any{"mode": "stochastic"}))
	assert.Error(t, s.Call(ctx, domain.StepLatentTime, nil))
}

func TestBackendFailStep(t *testing.T) {
	ctx := context.Background()
	b := NewBackend()
	boom := errors.New("LinAlgError: SVD did not converge")
	b.FailStep(domain.StepMoments, boom)

	s, err := b.NewSession(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateDataset(ctx, testMatrix(t, 2, 2), testMatrix(t, 2, 2)))
	require.NoError(t, s.Call(ctx, domain.StepFilterAndNormalize, nil))

	err = s.Call(ctx, domain.StepMoments, nil)
	assert.Same(t, boom, err)
}

func TestBackendFailNewSession(t *testing.T) {
	b := NewBackend()
	boom := errors.New("no interpreter")
	b.FailNewSession(boom)

	_, err := b.NewSession(context.Background())
	assert.Same(t, boom, err)
	assert.Equal(t, 0, b.SessionsCreated())

	b.FailNewSession(nil)
	s, err := b.NewSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, b.OpenSessions())
	require.NoError(t, s.Close())
}

func TestSessionCloseIdempotent(t *testing.T) {
	b := NewBackend()
	s, err := b.NewSession(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, b.OpenSessions())

	err = s.CreateDataset(context.Background(), testMatrix(t, 1, 1), testMatrix(t, 1, 1))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionHonoursCancelledContext(t *testing.T) {
	b := NewBackend()
	s, err := b.NewSession(context.Background())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.CreateDataset(ctx, testMatrix(t, 1, 1), testMatrix(t, 1, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
