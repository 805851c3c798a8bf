package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dayBars() *Bars {
	day0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	return &Bars{
		Symbol:    "ETHUSDT",
		Timeframe: "1h",
		TsEvent:   []int64{day0, day0 + 3600000, day0 + 2*3600000, day0 + 86400000, day0 + 86400000 + 3600000},
		Open:      []float64{100, 101, 102, 110, 111},
		High:      []float64{102, 103, 104, 112, 113},
		Low:       []float64{99, 100, 101, 109, 110},
		Close:     []float64{101, 102, 103, 111, 112},
		Volume:    []float64{10, 20, 30, 5, 5},
	}
}

func TestComputeVWAPAccumulatesWithinAnchorAndResetsAcrossDay(t *testing.T) {
	b := dayBars()
	r := ComputeVWAP(b, VWAPParams{Anchor: AnchorDay, Price: PriceClose, Volume: VolumeRaw})

	expected0 := b.Close[0]
	require.InDelta(t, expected0, r.VWAP[0], 1e-9)

	cumPV := b.Close[0]*b.Volume[0] + b.Close[1]*b.Volume[1]
	cumV := b.Volume[0] + b.Volume[1]
	require.InDelta(t, cumPV/cumV, r.VWAP[1], 1e-9)

	// new day: resets, so vwap[3] should equal close[3] alone (single bar so far in bucket)
	require.InDelta(t, b.Close[3], r.VWAP[3], 1e-9)
}

func TestComputeVWAPBandsStraddleLine(t *testing.T) {
	b := dayBars()
	r := ComputeVWAP(b, VWAPParams{Anchor: AnchorDay, Bands: true, BandK: 1})
	require.NotNil(t, r.Upper)
	for i := range r.VWAP {
		require.GreaterOrEqual(t, r.Upper[i], r.VWAP[i])
		require.LessOrEqual(t, r.Lower[i], r.VWAP[i])
	}
}

func TestVWAPStateMatchesBatch(t *testing.T) {
	b := dayBars()
	batch := ComputeVWAP(b, VWAPParams{Anchor: AnchorDay})
	s := NewVWAPState(VWAPParams{Anchor: AnchorDay})
	var last float64
	for i := 0; i < b.Len(); i++ {
		last = s.Update(b.TsEvent[i], b.Open[i], b.High[i], b.Low[i], b.Close[i], b.Volume[i])
	}
	require.InDelta(t, batch.VWAP[b.Len()-1], last, 1e-9)
}
