// Package scorer implements FinalScorer (C13): fuses a rule-based score
// with an ML take-profit probability into a single directional score,
// grounded on original_source/signals/final_scorer.py.
package scorer

import (
	"math"

	"github.com/adred-codev/mdingest/internal/telemetry"
)

// Direction is the trading direction derived from a fused score.
type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Neutral Direction = "NEUTRAL"
)

// directionThreshold is the symmetric cutoff §4.13 fixes at 0.35.
const directionThreshold = 0.35

// Scorer computes the fused score (§4.13).
type Scorer struct {
	metrics *telemetry.Registry
}

// New constructs a Scorer. metrics may be nil.
func New(metrics *telemetry.Registry) *Scorer {
	return &Scorer{metrics: metrics}
}

// Result is one fused scoring outcome.
type Result struct {
	Score      float64
	Direction  Direction
	Confidence float64
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Score ports final_score()/direction_from_score()/score_to_confidence():
// score = 0.6*rule + 0.4*ml_scaled, direction from symmetric threshold,
// confidence = |score|.
func (s *Scorer) Score(ruleScore, mlProbTP float64) Result {
	ruleScore = clamp(ruleScore, -1, 1)
	mlScaled := clamp(mlProbTP, 0, 1)*2 - 1
	score := clamp(0.6*ruleScore+0.4*mlScaled, -1, 1)

	dir := Neutral
	switch {
	case score >= directionThreshold:
		dir = Long
	case score <= -directionThreshold:
		dir = Short
	}

	if s.metrics != nil && s.metrics.FinalScoreComputed != nil {
		s.metrics.FinalScoreComputed.Observe(score)
	}

	return Result{Score: score, Direction: dir, Confidence: math.Abs(score)}
}
