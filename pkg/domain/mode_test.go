package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"steady_state", ModeSteadyState},
		{"stochastic", ModeStochastic},
		{"dynamical", ModeDynamical},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
			assert.True(t, got.IsSet())
		})
	}
}

func TestParseModeUnknown(t *testing.T) {
	for _, in := range []string{"", "Dynamical", "deterministic"} {
		_, err := ParseMode(in)
		assert.ErrorIs(t, err, ErrUnknownMode, in)
	}
}

func TestModeIsDynamical(t *testing.T) {
	assert.True(t, ModeDynamical.IsDynamical())
	assert.False(t, ModeStochastic.IsDynamical())
	assert.False(t, ModeSteadyState.IsDynamical())
	assert.False(t, ModeUnset.IsDynamical())
	assert.False(t, ModeUnset.IsSet())
}

func TestModeText(t *testing.T) {
	var opts VelocityOptions
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"stochastic"}`), &opts))
	assert.Equal(t, ModeStochastic, opts.Mode)

	data, err := json.Marshal(opts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"stochastic"}`, string(data))

	_, err = ModeUnset.MarshalText()
	assert.ErrorIs(t, err, ErrMissingMode)

	err = json.Unmarshal([]byte(`{"mode":"fast"}`), &opts)
	assert.ErrorIs(t, err, ErrUnknownMode)
}
