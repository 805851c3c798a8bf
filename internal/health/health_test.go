package health

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/mdingest/internal/telemetry"
)

func TestSamplerPopulatesSnapshot(t *testing.T) {
	metrics := telemetry.New("mdingest_health_test")
	s, err := NewSampler(metrics, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	s.Run(ctx, 10*time.Millisecond)

	snap := s.Current()
	require.False(t, snap.SampledAt.IsZero())
	require.GreaterOrEqual(t, snap.Goroutines, 1)
}
