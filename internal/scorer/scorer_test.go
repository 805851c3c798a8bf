package scorer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreDirectionThresholds(t *testing.T) {
	s := New(nil)

	long := s.Score(1.0, 1.0)
	require.Equal(t, Long, long.Direction)
	require.InDelta(t, 1.0, long.Score, 1e-9)

	short := s.Score(-1.0, 0.0)
	require.Equal(t, Short, short.Direction)
	require.InDelta(t, -1.0, short.Score, 1e-9)

	neutral := s.Score(0.0, 0.5)
	require.Equal(t, Neutral, neutral.Direction)
	require.InDelta(t, 0.0, neutral.Score, 1e-9)
}

func TestScoreConfidenceIsAbsoluteValue(t *testing.T) {
	s := New(nil)
	r := s.Score(-0.5, 0.5)
	require.InDelta(t, r.Score, -r.Confidence, 1e-9)
}

func TestScoreClampsInputsBeforeFusing(t *testing.T) {
	s := New(nil)
	r := s.Score(5.0, 5.0)
	require.LessOrEqual(t, r.Score, 1.0)
}
