package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleBars() *Bars {
	return &Bars{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		TsEvent:   []int64{0, 60000, 120000, 180000, 240000, 300000},
		Open:      []float64{100, 101, 102, 101, 103, 104},
		High:      []float64{102, 103, 104, 103, 105, 106},
		Low:       []float64{99, 100, 101, 100, 102, 103},
		Close:     []float64{101, 102, 103, 102, 104, 105},
		Volume:    []float64{10, 12, 8, 15, 9, 11},
	}
}

func TestComputeATRWarmupThenStable(t *testing.T) {
	b := sampleBars()
	r := ComputeATR(b, ATRParams{Period: 3})
	require.False(t, math.IsNaN(r.ATR[2]))
	require.True(t, math.IsNaN(r.ATR[1]))
	for _, v := range r.ATR[2:] {
		require.False(t, math.IsNaN(v))
		require.Greater(t, v, 0.0)
	}
}

func TestComputeATRFirstTrueRangeIsHighMinusLow(t *testing.T) {
	b := sampleBars()
	r := ComputeATR(b, ATRParams{Period: 3})
	require.InDelta(t, b.High[0]-b.Low[0], r.TR[0], 1e-9)
}

func TestComputeATRNATRAndBands(t *testing.T) {
	b := sampleBars()
	r := ComputeATR(b, ATRParams{Period: 3, NATR: true, Bands: true, BandMul: 2})
	require.NotNil(t, r.NATR)
	require.NotNil(t, r.Upper)
	require.NotNil(t, r.Lower)
	for i := 2; i < b.Len(); i++ {
		require.Greater(t, r.Upper[i], b.Close[i])
		require.Less(t, r.Lower[i], b.Close[i])
	}
}

func TestATRStateMatchesBatchAfterWarmup(t *testing.T) {
	b := sampleBars()
	batch := ComputeATR(b, ATRParams{Period: 3})

	s := NewATRState(ATRParams{Period: 3})
	var last float64
	for i := 0; i < b.Len(); i++ {
		last = s.Update(b.High[i], b.Low[i], b.Close[i])
	}
	require.InDelta(t, batch.ATR[b.Len()-1], last, 1e-9)
}
