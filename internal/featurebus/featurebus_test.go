package featurebus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestSubjectFormat(t *testing.T) {
	require.Equal(t, "features.BTCUSDT.1m", Subject("BTCUSDT", "1m"))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, nats.DefaultURL, cfg.URL)
	require.Equal(t, -1, cfg.MaxReconnects)
	require.Equal(t, 2*time.Second, cfg.ReconnectWait)
}
