package feature

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func obvBars() *Bars {
	return &Bars{
		Close:  []float64{100, 102, 101, 101, 103},
		Volume: []float64{10, 5, 7, 3, 9},
	}
}

func TestComputeOBVAddsOnUpSubtractsOnDown(t *testing.T) {
	b := obvBars()
	out := ComputeOBV(b, OBVParams{})
	require.Equal(t, []float64{0, 5, -2, -2, 7}, out)
}

func TestComputeOBVTieCarryRepeatsLastSigned(t *testing.T) {
	b := obvBars()
	out := ComputeOBV(b, OBVParams{Tie: TieCarry})
	// bar 3 ties bar 2's close (101==101): carry repeats the -7 contribution
	require.Equal(t, []float64{0, 5, -2, -9, 0}, out)
}

func TestOBVStateMatchesBatch(t *testing.T) {
	b := obvBars()
	batch := ComputeOBV(b, OBVParams{})
	s := NewOBVState(OBVParams{})
	var last float64
	for i := 0; i < b.Len(); i++ {
		last = s.Update(b.Close[i], b.Volume[i])
	}
	require.InDelta(t, batch[len(batch)-1], last, 1e-9)
}
