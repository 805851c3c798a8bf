package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func oscillatingCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 5*math.Sin(float64(i)/3.0)
	}
	return out
}

func TestComputeStochRSIStaysWithinBounds(t *testing.T) {
	b := &Bars{Close: oscillatingCloses(80)}
	r := ComputeStochRSI(b, StochRSIParams{})
	for i, v := range r.K {
		if math.IsNaN(v) {
			continue
		}
		require.GreaterOrEqual(t, v, -1e-6)
		require.LessOrEqual(t, v, 100.0001)
		require.GreaterOrEqual(t, r.RSI[i], 0.0)
		require.LessOrEqual(t, r.RSI[i], 100.0)
	}
}

func TestComputeStochRSIFisherTransformIsFinite(t *testing.T) {
	b := &Bars{Close: oscillatingCloses(80)}
	r := ComputeStochRSI(b, StochRSIParams{Fisher: true})
	require.NotNil(t, r.Fisher)
	for i, v := range r.Fisher {
		if math.IsNaN(v) {
			continue
		}
		require.False(t, math.IsInf(v, 0))
	}
}

func TestStochRSIStateMatchesBatchAfterWarmup(t *testing.T) {
	closes := oscillatingCloses(80)
	b := &Bars{Close: closes}
	batch := ComputeStochRSI(b, StochRSIParams{})

	s := NewStochRSIState(StochRSIParams{})
	var rsi, k, d float64
	for _, c := range closes {
		rsi, k, d, _ = s.Update(c)
	}
	last := len(closes) - 1
	require.InDelta(t, batch.RSI[last], rsi, 1e-6)
	require.InDelta(t, batch.K[last], k, 1e-6)
	require.InDelta(t, batch.D[last], d, 1e-6)
}
