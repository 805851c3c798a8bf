// Package restbackfill implements RestBackfiller, a supplement to
// WsConsumer (C2): a REST poller that recovers OHLCV candles missed
// around a WebSocket drop/reconnect. Grounded on
// original_source/ingestion/rest_fetcher.py's _fetch_ohlcv_with_retry
// (jittered exponential backoff across a bounded retry budget) and
// _to_payload (candle-open ts as the event's ts_event, fetch time as
// ingest_ts). Recovered candles are normalized through the same
// adapter.Adapter parse path as live WsConsumer frames, just the REST
// half of it, and fed into the same ingestmgr.Manager used by the live
// path, so dedup/schema/batch/publish behave identically either way.
package restbackfill

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/mdingest/internal/adapter"
	"github.com/adred-codev/mdingest/internal/event"
	"github.com/adred-codev/mdingest/internal/telemetry"
)

// Config configures a Backfiller's HTTP and retry behavior.
type Config struct {
	RequestTimeout time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	BackoffCap     time.Duration
	Limit          int // candles to fetch per gap-fill call
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.Limit <= 0 {
		c.Limit = 50
	}
	return c
}

// Backfiller fetches historical candles over HTTP when a WsConsumer
// session drops, so the gap doesn't silently disappear from the archive.
type Backfiller struct {
	cfg     Config
	client  *http.Client
	logger  zerolog.Logger
	metrics *telemetry.Registry
}

// New constructs a Backfiller. metrics may be nil.
func New(cfg Config, logger zerolog.Logger, metrics *telemetry.Registry) *Backfiller {
	cfg = cfg.withDefaults()
	return &Backfiller{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger,
		metrics: metrics,
	}
}

// Backfill fetches the most recent Config.Limit candles for (a, symbol, tf)
// over REST, retrying with jittered exponential backoff, and returns them
// as NormalizedEvents with IngestTs stamped at fetch time. It makes at most
// Config.MaxRetries+1 attempts (the first try plus MaxRetries retries); a
// venue that is still down after that is left for the next reconnect
// attempt to pick up live.
func (b *Backfiller) Backfill(ctx context.Context, a adapter.Adapter, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	body, err := b.fetchWithRetry(ctx, a.RestKlinesURL(symbol, tf, b.cfg.Limit))
	if err != nil {
		b.incError(a.Name(), "fetch")
		return nil, fmt.Errorf("rest backfill fetch %s %s/%s: %w", a.Name(), symbol, tf, err)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		b.incError(a.Name(), "decode")
		return nil, fmt.Errorf("rest backfill decode %s %s/%s: %w", a.Name(), symbol, tf, err)
	}

	events, err := a.ParseRestKlines(decoded, symbol, tf)
	if err != nil {
		b.incError(a.Name(), "parse")
		return nil, fmt.Errorf("rest backfill parse %s %s/%s: %w", a.Name(), symbol, tf, err)
	}

	now := time.Now().UnixMilli()
	for _, ev := range events {
		ev.IngestTs = now
	}
	if b.metrics != nil {
		b.metrics.RestBackfillEventsTotal.WithLabelValues(a.Name()).Add(float64(len(events)))
	}
	b.logger.Info().Str("source", a.Name()).Str("symbol", symbol).Str("tf", string(tf)).
		Int("count", len(events)).Msg("rest backfill recovered candles")
	return events, nil
}

// fetchWithRetry ports _fetch_ohlcv_with_retry's backoff loop: base*2^attempt
// capped at BackoffCap, jittered by +/-35%.
func (b *Backfiller) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		body, err := b.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt == b.cfg.MaxRetries {
			break
		}
		sleep := jitter(minDuration(b.cfg.BackoffCap, b.cfg.BaseBackoff*(1<<uint(attempt))), 0.35)
		b.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("sleep", sleep).Msg("rest backfill retry")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil, lastErr
}

func (b *Backfiller) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

func (b *Backfiller) incError(source, reason string) {
	if b.metrics != nil {
		b.metrics.RestBackfillErrorsTotal.WithLabelValues(source, reason).Inc()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// jitter applies the same uniform +/-frac jitter as _jitter() in the
// Python original.
func jitter(d time.Duration, frac float64) time.Duration {
	f := float64(d)
	return time.Duration(f*(1-frac) + rand.Float64()*f*frac*2)
}
