// Package rule implements RuleEngine (C11): a deterministic composite score
// over a feature row's adx/atr/vwap/close, grounded on
// original_source/signals/rule_engine.py's rule_score().
package rule

import (
	"math"

	"github.com/adred-codev/mdingest/internal/telemetry"
)

const eps = 1e-9

// Row is the subset of a feature row RuleEngine needs. Field names match
// FEATURE_SCHEMA's indicator keys (adx, atr, vwap) plus the bar's close.
type Row struct {
	ADX   float64
	ATR   float64
	VWAP  float64
	Close float64
}

// Engine computes the composite rule score (§4.11).
type Engine struct {
	metrics *telemetry.Registry
}

// New constructs an Engine. metrics may be nil.
func New(metrics *telemetry.Registry) *Engine {
	return &Engine{metrics: metrics}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score ports rule_score(): a weighted blend of normalized ADX trend
// strength, sign of price vs VWAP, and normalized ATR volatility penalty,
// clamped to [-1, +1].
func (e *Engine) Score(r Row) float64 {
	adxNorm := clamp(r.ADX, 0, 50) / 50.0

	aboveVWAP := -1.0
	if r.Close > r.VWAP {
		aboveVWAP = 1.0
	}

	ref := r.Close
	if ref == 0 {
		ref = eps
	}
	atrNorm := clamp(math.Abs(r.ATR)/ref, 0, 0.05) / 0.05

	score := clamp(0.6*adxNorm+0.2*aboveVWAP-0.2*atrNorm, -1, 1)

	if e.metrics != nil && e.metrics.RuleScoreComputed != nil {
		e.metrics.RuleScoreComputed.Observe(score)
	}
	return score
}
