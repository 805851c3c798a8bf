package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredictProbaIsHigherForPositiveWeightedFeature(t *testing.T) {
	r := New(Config{Weights: map[string]float64{"adx": 0.1}, Bias: -1}, nil)
	low, err := r.PredictProba(map[string]float64{"adx": 0})
	require.NoError(t, err)
	high, err := r.PredictProba(map[string]float64{"adx": 100})
	require.NoError(t, err)
	require.Greater(t, high, low)
	require.GreaterOrEqual(t, low, 0.0)
	require.LessOrEqual(t, high, 1.0)
}

func TestFeatureOrderIsStableAcrossCalls(t *testing.T) {
	r := New(Config{Weights: map[string]float64{"a": 1, "b": 2, "c": 3}}, nil)
	first, err := r.PredictProba(map[string]float64{"a": 1, "b": 2, "c": 3})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.PredictProba(map[string]float64{"a": 1, "b": 2, "c": 3})
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestPredictThresholdsAtConfiguredCutoff(t *testing.T) {
	r := New(Config{Weights: map[string]float64{"x": 10}, Threshold: 0.9}, nil)
	ok, err := r.Predict(map[string]float64{"x": 0})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.Predict(map[string]float64{"x": 10})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCalibratorAppliesPlattScaling(t *testing.T) {
	// weight*x + bias = 0 -> raw sigmoid = 0.5; calibrator a=-1,b=0 maps it
	// to 1/(1+exp(-0.5)).
	cal := &Calibrator{A: -1, B: 0}
	r := New(Config{Weights: map[string]float64{"x": 1}, Calibrator: cal}, nil)
	p, err := r.PredictProba(map[string]float64{"x": 0})
	require.NoError(t, err)
	require.InDelta(t, 0.6224593312, p, 1e-9)
}

func TestUnsupportedBackendReturnsError(t *testing.T) {
	r := New(Config{Backend: BackendGraph}, nil)
	_, err := r.PredictProba(map[string]float64{"x": 1})
	require.ErrorIs(t, err, ErrUnsupportedBackend)
}
