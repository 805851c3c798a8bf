// Package featurebus publishes the latest feature row per (symbol,
// timeframe) to NATS, the lightweight pub/sub fan-out for the signal
// worker's feature cache read path (§6.5), alongside the kvstore KV
// fallback. Grounded on the teacher's NATS client
// (go-server/pkg/nats/client.go): connection-event handlers wired to
// metrics, JSON publish helper, and subject-builder convention.
package featurebus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/mdingest/internal/telemetry"
)

// Subject returns the subject a feature row for (symbol, tf) publishes to.
func Subject(symbol, tf string) string {
	return fmt.Sprintf("features.%s.%s", symbol, tf)
}

// Config configures a Bus connection.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1 // retry forever, matching the teacher's always-on session intent
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	return c
}

// Bus wraps a NATS connection for the feature-cache transport.
type Bus struct {
	conn    *nats.Conn
	metrics *telemetry.Registry
	logger  zerolog.Logger
}

// Connect dials NATS and wires connection-lifecycle metrics.
func Connect(cfg Config, metrics *telemetry.Registry, logger zerolog.Logger) (*Bus, error) {
	cfg = cfg.withDefaults()
	b := &Bus{metrics: metrics, logger: logger}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.ConnectHandler(b.onConnect),
		nats.DisconnectErrHandler(b.onDisconnect),
		nats.ReconnectHandler(b.onReconnect),
		nats.ErrorHandler(b.onError),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.URL, err)
	}
	b.conn = conn
	if metrics != nil {
		metrics.NATSConnected.Set(1)
	}
	return b, nil
}

func (b *Bus) onConnect(conn *nats.Conn) {
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("connected to NATS")
	if b.metrics != nil {
		b.metrics.NATSConnected.Set(1)
	}
}

func (b *Bus) onDisconnect(_ *nats.Conn, err error) {
	b.logger.Warn().Err(err).Msg("disconnected from NATS")
	if b.metrics != nil {
		b.metrics.NATSConnected.Set(0)
	}
}

func (b *Bus) onReconnect(conn *nats.Conn) {
	b.logger.Info().Str("url", conn.ConnectedUrl()).Msg("reconnected to NATS")
	if b.metrics != nil {
		b.metrics.NATSConnected.Set(1)
		b.metrics.NATSReconnectsTotal.Inc()
	}
}

func (b *Bus) onError(_ *nats.Conn, _ *nats.Subscription, err error) {
	b.logger.Error().Err(err).Msg("NATS error")
	if b.metrics != nil {
		b.metrics.NATSErrorsTotal.WithLabelValues("conn").Inc()
	}
}

// PublishFeatureRow publishes value (JSON-marshaled) to the feature
// subject for (symbol, tf). Never returns an error the caller must treat
// as fatal; the kvstore cache is the durable path, this is best-effort
// fan-out.
func (b *Bus) PublishFeatureRow(symbol, tf string, value any) error {
	start := time.Now()
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode feature row: %w", err)
	}
	if err := b.conn.Publish(Subject(symbol, tf), data); err != nil {
		if b.metrics != nil {
			b.metrics.NATSErrorsTotal.WithLabelValues("publish").Inc()
		}
		return fmt.Errorf("publish feature row for %s/%s: %w", symbol, tf, err)
	}
	if b.metrics != nil {
		b.metrics.NATSMessagesTotal.WithLabelValues("publish").Inc()
		b.metrics.NATSPublishLatency.Observe(time.Since(start).Seconds())
	}
	return nil
}

// Subscribe registers handle for every message published to the feature
// subject for (symbol, tf).
func (b *Bus) Subscribe(symbol, tf string, handle func(data []byte)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(Subject(symbol, tf), func(msg *nats.Msg) {
		if b.metrics != nil {
			b.metrics.NATSMessagesTotal.WithLabelValues("receive").Inc()
		}
		handle(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s/%s: %w", symbol, tf, err)
	}
	return sub, nil
}

// Close closes the underlying connection without draining it.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
		if b.metrics != nil {
			b.metrics.NATSConnected.Set(0)
		}
	}
}
