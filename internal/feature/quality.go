package feature

import (
	"math"
	"sort"
)

// QualityParams configures the QC pass applied after indicators are
// computed, per spec.md §4.10 step 3. Grounded on
// original_source/features/quality_control.py's clip_outliers_iqr and
// forward_fill.
type QualityParams struct {
	IQRk        float64 // IQR multiple for outlier clipping, default 1.5
	FfillLimit  int     // max consecutive NaNs to forward-fill, default 3
}

func (p QualityParams) withDefaults() QualityParams {
	if p.IQRk <= 0 {
		p.IQRk = 1.5
	}
	if p.FfillLimit <= 0 {
		p.FfillLimit = 3
	}
	return p
}

// QualityReport summarizes what the QC pass did to one column, feeding the
// feature_invalid_rate metric.
type QualityReport struct {
	Column       string
	Total        int
	ClippedCount int
	FilledCount  int
	RemainingNaN int
}

// InvalidRate returns the fraction of values that are still NaN after
// clipping and forward-fill, i.e. could not be repaired.
func (r QualityReport) InvalidRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.RemainingNaN) / float64(r.Total)
}

// ClipOutliersIQR clips values outside [Q1-k*IQR, Q3+k*IQR] to the nearest
// bound, ignoring NaNs when computing quartiles. Returns the clipped series
// and how many values were altered.
func ClipOutliersIQR(x []float64, k float64) ([]float64, int) {
	clean := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) < 4 {
		out := make([]float64, len(x))
		copy(out, x)
		return out, 0
	}
	sort.Float64s(clean)
	q1 := percentile(clean, 0.25)
	q3 := percentile(clean, 0.75)
	iqr := q3 - q1
	lo := q1 - k*iqr
	hi := q3 + k*iqr

	out := make([]float64, len(x))
	clipped := 0
	for i, v := range x {
		switch {
		case math.IsNaN(v):
			out[i] = v
		case v < lo:
			out[i] = lo
			clipped++
		case v > hi:
			out[i] = hi
			clipped++
		default:
			out[i] = v
		}
	}
	return out, clipped
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// ForwardFill fills at most the first `limit` entries of each NaN run with
// the last valid value before the run. The rest of a longer run, and any
// leading NaNs before the first valid value, are left as NaN.
func ForwardFill(x []float64, limit int) ([]float64, int) {
	out := make([]float64, len(x))
	copy(out, x)
	filled := 0

	i := 0
	for i < len(out) {
		if !math.IsNaN(out[i]) {
			i++
			continue
		}
		runStart := i
		for i < len(out) && math.IsNaN(out[i]) {
			i++
		}
		if runStart == 0 {
			continue
		}
		last := out[runStart-1]
		for j := runStart; j < i && j < runStart+limit; j++ {
			out[j] = last
			filled++
		}
	}
	return out, filled
}

// RunQuality applies IQR clipping then forward-fill to one column, returning
// the repaired series and a report of what happened.
func RunQuality(column string, x []float64, p QualityParams) ([]float64, QualityReport) {
	p = p.withDefaults()
	clipped, clippedCount := ClipOutliersIQR(x, p.IQRk)
	filled, filledCount := ForwardFill(clipped, p.FfillLimit)

	remaining := 0
	for _, v := range filled {
		if math.IsNaN(v) {
			remaining++
		}
	}

	return filled, QualityReport{
		Column:       column,
		Total:        len(x),
		ClippedCount: clippedCount,
		FilledCount:  filledCount,
		RemainingNaN: remaining,
	}
}
