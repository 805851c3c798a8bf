package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClipOutliersIQRClampsExtremeValues(t *testing.T) {
	x := []float64{10, 11, 12, 13, 14, 1000}
	out, clipped := ClipOutliersIQR(x, 1.5)
	require.Equal(t, 1, clipped)
	require.Less(t, out[5], 1000.0)
	require.InDelta(t, 10.0, out[0], 1e-9)
}

func TestClipOutliersIQRPassesThroughNaN(t *testing.T) {
	x := []float64{1, 2, math.NaN(), 4, 5}
	out, _ := ClipOutliersIQR(x, 1.5)
	require.True(t, math.IsNaN(out[2]))
}

func TestForwardFillRespectsLimit(t *testing.T) {
	x := []float64{1, math.NaN(), math.NaN(), math.NaN(), 5}
	out, filled := ForwardFill(x, 2)
	require.Equal(t, 2, filled)
	require.InDelta(t, 1.0, out[1], 1e-9)
	require.InDelta(t, 1.0, out[2], 1e-9)
	require.True(t, math.IsNaN(out[3])) // run length 3 exceeds limit 2
	require.InDelta(t, 5.0, out[4], 1e-9)
}

func TestForwardFillLeavesLeadingNaN(t *testing.T) {
	x := []float64{math.NaN(), math.NaN(), 3}
	out, filled := ForwardFill(x, 5)
	require.Equal(t, 0, filled)
	require.True(t, math.IsNaN(out[0]))
	require.True(t, math.IsNaN(out[1]))
}

func TestRunQualityReportsInvalidRate(t *testing.T) {
	x := []float64{1, 2, 3, 4, math.NaN(), math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	_, report := RunQuality("atr_atr", x, QualityParams{FfillLimit: 1})
	require.Equal(t, "atr_atr", report.Column)
	require.Equal(t, 9, report.Total)
	require.Greater(t, report.InvalidRate(), 0.0)
}
