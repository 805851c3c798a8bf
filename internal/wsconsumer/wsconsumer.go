// Package wsconsumer implements WsConsumer (C2): an always-on WebSocket
// session to a single venue endpoint, with reconnect backoff, optional TLS
// certificate pinning, heartbeats, and subscription batching. Grounded on
// original_source/ingestion/websocket_consumer.py for the reconnect/backoff
// and TLS-pin contract, and on the teacher's frame-handling idiom in
// ws/internal/shared/pump_read.go (gobwas/ws + wsutil).
package wsconsumer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/mdingest/internal/adapter"
	"github.com/adred-codev/mdingest/internal/event"
	"github.com/adred-codev/mdingest/internal/logging"
)

// SubscribeBatchSize is S in §4.2: subscription messages are issued in
// batches of at most this many at a time.
const SubscribeBatchSize = 20

// Stream is one (symbol, timeframe) subscription target.
type Stream struct {
	Symbol string
	TF     event.Timeframe
}

// Config configures a Consumer.
type Config struct {
	Source  string
	Streams []Stream

	PingInterval time.Duration // default 20s
	PongTimeout  time.Duration // default 30s

	MaxRetries int // 0 means infinite (§4.2)

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// TLSPinSHA256 is the lowercase hex SHA-256 of the expected peer
	// certificate DER. Empty disables pinning.
	TLSPinSHA256 string

	// InboundRateLimit caps parsed-frame throughput per second (0 disables
	// limiting); InboundBurst sets the token bucket's burst size.
	InboundRateLimit float64
	InboundBurst     int
}

func (c Config) withDefaults() Config {
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 30 * time.Second
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 60 * time.Second
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 2.0
	}
	return c
}

// Consumer maintains one venue WebSocket session and yields normalized
// events on Events().
type Consumer struct {
	cfg     Config
	adapter adapter.Adapter
	logger  zerolog.Logger
	limiter *rate.Limiter

	events chan *event.NormalizedEvent
	errs   chan error

	cancel context.CancelFunc
}

// New constructs a Consumer for one venue adapter.
func New(cfg Config, a adapter.Adapter, logger zerolog.Logger) *Consumer {
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.InboundRateLimit > 0 {
		burst := cfg.InboundBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.InboundRateLimit), burst)
	}
	return &Consumer{
		cfg:     cfg,
		adapter: a,
		limiter: limiter,
		logger:  logger,
		events:  make(chan *event.NormalizedEvent, 1024),
		errs:    make(chan error, 16),
	}
}

// Events returns the channel of parsed NormalizedEvents. The channel is
// closed when Run returns.
func (c *Consumer) Events() <-chan *event.NormalizedEvent { return c.events }

// Errors returns the channel of non-fatal parse/connection errors,
// surfaced for metrics without blocking the event stream.
func (c *Consumer) Errors() <-chan error { return c.errs }

// Close stops the consumer's Run loop and closes the current connection.
func (c *Consumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Run drives the connect/read/reconnect loop until ctx is cancelled or
// Close is called. It never returns an error; connection failures are
// retried per the backoff policy (max_retries=0 means infinite).
func (c *Consumer) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer close(c.events)
	defer logging.RecoverPanic(c.logger, "wsconsumer."+c.cfg.Source, nil)

	backoff := c.cfg.BackoffInitial
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.cfg.MaxRetries > 0 && attempts >= c.cfg.MaxRetries {
			c.logger.Error().Str("source", c.cfg.Source).Int("attempts", attempts).Msg("max retries exhausted, giving up")
			return
		}

		connected := false
		err := c.connectAndServe(ctx, func() { connected = true })
		if err == nil {
			// Context cancellation, clean shutdown.
			return
		}
		if connected {
			// A fresh connection was established and served at least one
			// frame before dropping; restart the backoff ladder instead of
			// carrying forward whatever it had grown to across flaps.
			backoff = c.cfg.BackoffInitial
			attempts = 0
		}

		attempts++
		c.reportErr(err)
		sleep := minDuration(c.cfg.BackoffMax, backoff) + jitter()
		c.logger.Warn().Err(err).Str("source", c.cfg.Source).Dur("sleep", sleep).Msg("websocket error, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		backoff = minDuration(c.cfg.BackoffMax, time.Duration(float64(backoff)*c.cfg.BackoffFactor))
	}
}

func jitter() time.Duration {
	return time.Duration(rand.Float64() * float64(500*time.Millisecond))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (c *Consumer) reportErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}

// connectAndServe dials once, verifies the TLS pin if configured,
// subscribes, and reads frames until the connection drops or ctx is
// cancelled. Returns nil only on clean ctx cancellation.
func (c *Consumer) connectAndServe(ctx context.Context, onConnected func()) error {
	dialer := ws.Dialer{}
	conn, _, _, err := dialer.Dial(ctx, c.adapter.WSURL())
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.adapter.WSURL(), err)
	}
	defer conn.Close()

	if err := c.verifyPin(conn); err != nil {
		return err
	}

	c.logger.Info().Str("source", c.cfg.Source).Msg("connected")
	onConnected()

	if err := c.subscribeAll(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	return c.readLoop(ctx, conn)
}

// verifyPin checks the peer certificate's SHA-256 DER digest against the
// configured pin, when pinning is enabled (§4.2).
func (c *Consumer) verifyPin(conn net.Conn) error {
	if c.cfg.TLSPinSHA256 == "" {
		return nil
	}
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return fmt.Errorf("TLS pinning configured but connection is not TLS")
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("TLS pinning configured but no peer certificate presented")
	}
	sum := sha256.Sum256(state.PeerCertificates[0].Raw)
	got := hex.EncodeToString(sum[:])
	if got != c.cfg.TLSPinSHA256 {
		return fmt.Errorf("TLS pin mismatch: got %s expected %s", got, c.cfg.TLSPinSHA256)
	}
	return nil
}

// subscribeAll issues one subscription message per configured stream, in
// bursts of at most SubscribeBatchSize with a brief pause between bursts
// to avoid venue-side rate limiting.
func (c *Consumer) subscribeAll(conn net.Conn) error {
	for i := 0; i < len(c.cfg.Streams); i += SubscribeBatchSize {
		end := i + SubscribeBatchSize
		if end > len(c.cfg.Streams) {
			end = len(c.cfg.Streams)
		}
		for _, s := range c.cfg.Streams[i:end] {
			msg, err := c.adapter.Subscribe(s.Symbol, s.TF)
			if err != nil {
				return fmt.Errorf("build subscribe message for %s/%s: %w", s.Symbol, s.TF, err)
			}
			body, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode subscribe message: %w", err)
			}
			if err := wsutil.WriteClientMessage(conn, ws.OpText, body); err != nil {
				return fmt.Errorf("write subscribe message: %w", err)
			}
		}
		if end < len(c.cfg.Streams) {
			time.Sleep(50 * time.Millisecond)
		}
	}
	return nil
}

// readLoop reads frames until the connection errors or ctx is cancelled.
// Text frames are decoded as JSON and handed to the adapter; binary
// frames are ignored (adapters may be extended to override this).
// Invalid JSON is counted as an error and skipped; the consumer continues.
func (c *Consumer) readLoop(ctx context.Context, conn net.Conn) error {
	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	frames := make(chan frameOrErr, 64)
	go c.readFrames(conn, frames)

	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pingTicker.C:
			if err := wsutil.WriteClientMessage(conn, ws.OpPing, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		case fe, ok := <-frames:
			if !ok {
				return fmt.Errorf("connection closed")
			}
			if fe.err != nil {
				return fe.err
			}
			conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
			c.handleFrame(fe.op, fe.data)
		}
	}
}

type frameOrErr struct {
	op   ws.OpCode
	data []byte
	err  error
}

func (c *Consumer) readFrames(conn net.Conn, out chan<- frameOrErr) {
	defer close(out)
	for {
		data, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			out <- frameOrErr{err: err}
			return
		}
		out <- frameOrErr{op: op, data: data}
	}
}

func (c *Consumer) handleFrame(op ws.OpCode, data []byte) {
	if op != ws.OpText {
		return // binary frames ignored unless adapter overridden
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return // inbound rate cap exceeded, drop frame
	}

	var decoded map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		c.reportErr(fmt.Errorf("invalid JSON from %s: %w", c.cfg.Source, err))
		return
	}

	ne, err := c.adapter.Parse(decoded)
	if err != nil {
		c.reportErr(fmt.Errorf("parse failure from %s: %w", c.cfg.Source, err))
		return
	}
	if ne == nil {
		return // non-data frame (ack/pong/subscription confirmation)
	}
	ne.Source = c.cfg.Source
	ne.IngestTs = time.Now().UnixMilli()

	select {
	case c.events <- ne:
	default:
		c.reportErr(fmt.Errorf("event channel full for %s, dropping", c.cfg.Source))
	}
}
