package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func trendingBars() *Bars {
	n := 30
	b := &Bars{Symbol: "BTCUSDT", Timeframe: "1h"}
	for i := 0; i < n; i++ {
		base := 100.0 + float64(i)*2
		b.TsEvent = append(b.TsEvent, int64(i)*3600000)
		b.Open = append(b.Open, base)
		b.High = append(b.High, base+1.5)
		b.Low = append(b.Low, base-0.5)
		b.Close = append(b.Close, base+1)
		b.Volume = append(b.Volume, 100)
	}
	return b
}

func TestComputeADXRisesOnSustainedUptrend(t *testing.T) {
	b := trendingBars()
	r := ComputeADX(b, ADXParams{Period: 14})
	last := len(r.ADX) - 1
	require.False(t, math.IsNaN(r.ADX[last]))
	require.Greater(t, r.PlusDI[last], r.MinusDI[last])
}

func TestComputeADXRWhenRequested(t *testing.T) {
	b := trendingBars()
	r := ComputeADX(b, ADXParams{Period: 7, ADXR: true})
	require.NotNil(t, r.ADXR)
	require.False(t, math.IsNaN(r.ADXR[len(r.ADXR)-1]))
}

func TestADXStateMatchesBatchAfterWarmup(t *testing.T) {
	b := trendingBars()
	batch := ComputeADX(b, ADXParams{Period: 14})

	s := NewADXState(ADXParams{Period: 14})
	var plusDI, minusDI, adx float64
	for i := 0; i < b.Len(); i++ {
		plusDI, minusDI, adx = s.Update(b.High[i], b.Low[i], b.Close[i])
	}
	last := b.Len() - 1
	require.InDelta(t, batch.PlusDI[last], plusDI, 1e-6)
	require.InDelta(t, batch.MinusDI[last], minusDI, 1e-6)
	require.InDelta(t, batch.ADX[last], adx, 1e-6)
}
