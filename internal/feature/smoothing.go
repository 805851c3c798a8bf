// Package feature implements FeatureEngine (C10): canonicalization,
// indicator computation (ATR, ADX, VWAP, OBV, Ichimoku, StochRSI), quality
// control, and per-row content hashing. Grounded on
// original_source/features/feature_engine.py and its indicators/ package.
package feature

import "math"

// Method selects the smoothing kernel shared by ATR/ADX/StochRSI, mirroring
// the Python originals' "wilder"|"ema"|"sma" literal.
type Method string

const (
	MethodWilder Method = "wilder"
	MethodEMA    Method = "ema"
	MethodSMA    Method = "sma"
)

// wilderRMA seeds with the simple average of the first `period` values,
// then recurses with Wilder's smoothing constant (period-1)/period.
func wilderRMA(x []float64, period int) []float64 {
	out := fullNaN(len(x))
	if len(x) < period {
		return out
	}
	var seed float64
	for i := 0; i < period; i++ {
		seed += x[i]
	}
	seed /= float64(period)
	out[period-1] = seed
	alpha := float64(period-1) / float64(period)
	inv := 1.0 / float64(period)
	for i := period; i < len(x); i++ {
		out[i] = alpha*out[i-1] + inv*x[i]
	}
	return out
}

func ema(x []float64, period int) []float64 {
	out := fullNaN(len(x))
	if len(x) < period {
		return out
	}
	var seed float64
	for i := 0; i < period; i++ {
		seed += x[i]
	}
	seed /= float64(period)
	out[period-1] = seed
	alpha := 2.0 / (float64(period) + 1.0)
	for i := period; i < len(x); i++ {
		out[i] = (1-alpha)*out[i-1] + alpha*x[i]
	}
	return out
}

func sma(x []float64, period int) []float64 {
	out := fullNaN(len(x))
	if len(x) < period {
		return out
	}
	csum := make([]float64, len(x)+1)
	for i, v := range x {
		csum[i+1] = csum[i] + v
	}
	for i := period - 1; i < len(x); i++ {
		out[i] = (csum[i+1] - csum[i+1-period]) / float64(period)
	}
	return out
}

// smooth applies the selected kernel, skipping any leading NaNs (an upstream
// warm-up) so the kernel seeds from the first valid value.
func smooth(x []float64, period int, method Method) []float64 {
	start := 0
	for start < len(x) && math.IsNaN(x[start]) {
		start++
	}
	kernel := wilderRMA
	switch method {
	case MethodEMA:
		kernel = ema
	case MethodSMA:
		kernel = sma
	}
	out := fullNaN(len(x))
	copy(out[start:], kernel(x[start:], period))
	return out
}

func fullNaN(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func rollingMax(x []float64, window int) []float64 {
	out := fullNaN(len(x))
	for i := range x {
		if i+1 < window {
			continue
		}
		m := x[i-window+1]
		for j := i - window + 2; j <= i; j++ {
			if x[j] > m {
				m = x[j]
			}
		}
		out[i] = m
	}
	return out
}

func rollingMin(x []float64, window int) []float64 {
	out := fullNaN(len(x))
	for i := range x {
		if i+1 < window {
			continue
		}
		m := x[i-window+1]
		for j := i - window + 2; j <= i; j++ {
			if x[j] < m {
				m = x[j]
			}
		}
		out[i] = m
	}
	return out
}

func shiftForward(x []float64, n int) []float64 {
	out := fullNaN(len(x))
	for i := n; i < len(x); i++ {
		out[i] = x[i-n]
	}
	return out
}

func shiftBackward(x []float64, n int) []float64 {
	out := fullNaN(len(x))
	for i := 0; i+n < len(x); i++ {
		out[i] = x[i+n]
	}
	return out
}
