// Package ingestmgr implements IngestionManager (C5), the adaptive
// batching core of the pipeline: single cooperative consumer loop per
// Manager instance that dedupes, validates, batches, and publishes
// NormalizedEvents, adjusting its batch size target from observed
// publisher backpressure. Grounded on
// original_source/ingestion/ingestion_manager.py's run()/_adjust_batch_size.
package ingestmgr

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/mdingest/internal/broker"
	"github.com/adred-codev/mdingest/internal/dedup"
	"github.com/adred-codev/mdingest/internal/event"
	"github.com/adred-codev/mdingest/internal/schema"
	"github.com/adred-codev/mdingest/internal/telemetry"
)

// Config bounds the queue, hysteresis thresholds, and batch-size limits
// (§4.5).
type Config struct {
	Topic string

	QueueCapacity int
	HighWatermark int
	LowWatermark  int
	MinBatch      int
	MaxBatch      int
	MaxBatchLatency time.Duration
	PullTimeout     time.Duration

	DedupCapacity int
	DedupTTL      time.Duration
}

// DefaultConfig returns the §4.5 defaults.
func DefaultConfig(topic string) Config {
	return Config{
		Topic:           topic,
		QueueCapacity:   100_000,
		HighWatermark:   50_000,
		LowWatermark:    5_000,
		MinBatch:        50,
		MaxBatch:        5_000,
		MaxBatchLatency: 800 * time.Millisecond,
		PullTimeout:     200 * time.Millisecond,
		DedupCapacity:   dedup.DefaultCapacity,
		DedupTTL:        dedup.DefaultTTL,
	}
}

// Manager runs the single-threaded adaptive-batching loop. Multiple
// WsConsumers feed it through Submit; Manager itself is not safe for
// concurrent Run calls (only one loop goroutine owns batch state), but
// Submit is safe to call from any number of producer goroutines.
type Manager struct {
	cfg       Config
	logger    zerolog.Logger
	metrics   *telemetry.Registry
	publisher broker.Publisher
	schemas   *schema.Registry
	dedupe    *dedup.Store

	queue chan *event.NormalizedEvent

	batchSize int // current adaptive target B
	now       func() time.Time
}

// New constructs a Manager. publisher and schemas must be non-nil; metrics
// may be nil in tests where instrumentation isn't under test.
func New(cfg Config, logger zerolog.Logger, metrics *telemetry.Registry, publisher broker.Publisher, schemas *schema.Registry) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		schemas:   schemas,
		dedupe:    dedup.New(cfg.DedupCapacity, cfg.DedupTTL),
		queue:     make(chan *event.NormalizedEvent, cfg.QueueCapacity),
		batchSize: cfg.MinBatch,
		now:       time.Now,
	}
}

// Submit enqueues a NormalizedEvent produced by a WsConsumer. Returns
// false if the queue is at capacity; callers increment their own drop
// counters on false rather than Manager deciding a producer-side policy.
func (m *Manager) Submit(e *event.NormalizedEvent) bool {
	select {
	case m.queue <- e:
		return true
	default:
		return false
	}
}

// QueueDepth reports the current ingest queue length, used by consumers
// who want to shed load before Submit would reject.
func (m *Manager) QueueDepth() int { return len(m.queue) }

// Run executes the cooperative processing loop until ctx is cancelled. On
// cancellation it drains and flushes the current batch within a bounded
// wait before returning, per §4.5's termination contract.
func (m *Manager) Run(ctx context.Context) {
	var batch []*event.NormalizedEvent
	batchStarted := m.now()

	for {
		select {
		case <-ctx.Done():
			m.flush(ctx, batch)
			return
		default:
		}

		ev, timedOut := m.pull(ctx)
		if ev == nil && !timedOut {
			// ctx cancelled mid-pull.
			m.flush(ctx, batch)
			return
		}

		now := m.now()

		if ev != nil {
			if accepted := m.ingest(ev); accepted {
				batch = append(batch, ev)
			}
		}

		shouldFlush := len(batch) >= m.batchSize
		if !shouldFlush && ev == nil && len(batch) > 0 && now.Sub(batchStarted) >= m.cfg.MaxBatchLatency {
			shouldFlush = true
		}

		if shouldFlush && len(batch) > 0 {
			m.adjustBatchSize()
			m.flush(ctx, batch)
			batch = nil
			batchStarted = m.now()
		}
	}
}

// pull waits up to PullTimeout for the next event. timedOut distinguishes
// "no event, timeout expired" (continue looping) from "no event, context
// cancelled" (stop).
func (m *Manager) pull(ctx context.Context) (ev *event.NormalizedEvent, timedOut bool) {
	timer := time.NewTimer(m.cfg.PullTimeout)
	defer timer.Stop()

	select {
	case ev := <-m.queue:
		return ev, false
	case <-timer.C:
		return nil, true
	case <-ctx.Done():
		return nil, false
	}
}

// ingest runs dedup + ensure-ingest_ts + validate for one pulled event,
// routing failures to DLT. Returns true if the event should be appended
// to the batch.
func (m *Manager) ingest(ev *event.NormalizedEvent) bool {
	if m.dedupe.Contains(ev.CorrelationID) {
		if m.metrics != nil {
			m.metrics.DedupHitsTotal.Inc()
		}
		return false
	}
	m.dedupe.Add(ev.CorrelationID)
	if m.metrics != nil {
		m.metrics.DedupMissesTotal.Inc()
		m.metrics.DedupSize.Set(float64(m.dedupe.Len()))
	}

	if ev.IngestTs == 0 {
		ev.IngestTs = m.now().UnixMilli()
	}

	if m.metrics != nil {
		lagMs := event.ClampIngestSkew(ev.IngestTs, ev.TsEvent)
		m.metrics.WSClockSkewSeconds.WithLabelValues(ev.Source).Observe(float64(lagMs) / 1000)
	}

	ok, reason := m.schemas.Validate(schema.Key{Name: "events", Version: 2}, ev)
	if !ok {
		m.toDLT(ev, reason)
		return false
	}
	return true
}

func (m *Manager) toDLT(ev *event.NormalizedEvent, reason string) {
	raw, err := json.Marshal(ev)
	if err != nil {
		raw = []byte(`{"marshal_error":true}`)
	}
	headers := map[string]string{"correlation_id": ev.CorrelationID}
	m.publisher.ProduceToDLT(context.Background(), m.cfg.Topic, raw, reason, headers)
	if m.metrics != nil {
		m.metrics.PublishDLTTotal.WithLabelValues(m.cfg.Topic, reason).Inc()
	}
}

// flush publishes every item in batch, routing per-item produce failures
// to DLT with reason "produce_failed", then flushes the underlying
// producer within a bounded wait.
func (m *Manager) flush(ctx context.Context, batch []*event.NormalizedEvent) {
	if len(batch) == 0 {
		return
	}
	for _, ev := range batch {
		headers := map[string]string{"correlation_id": ev.CorrelationID}
		err := m.publisher.Publish(ctx, m.cfg.Topic, ev, ev.Symbol, string(ev.TF), headers, ev.TsEvent)
		if err != nil {
			m.toDLT(ev, "produce_failed")
			if m.metrics != nil {
				m.metrics.PublishTotal.WithLabelValues(m.cfg.Topic, "error").Inc()
			}
			continue
		}
		if m.metrics != nil {
			m.metrics.PublishTotal.WithLabelValues(m.cfg.Topic, "ok").Inc()
		}
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.publisher.Flush(flushCtx); err != nil {
		m.logger.Warn().Err(err).Msg("producer flush did not complete within bound")
	}

	if m.metrics != nil {
		m.metrics.IngestBatchesFlushed.WithLabelValues("size_or_latency").Inc()
	}
}

// adjustBatchSize applies the §4.5 step 5 hysteresis rule. qlen == -1
// (unavailable) makes no change, per the resolved Open Question.
func (m *Manager) adjustBatchSize() {
	qlen := m.publisher.QueueLen()
	switch {
	case qlen < 0:
		// no change
	case qlen >= m.cfg.HighWatermark:
		m.batchSize = maxInt(m.cfg.MinBatch, m.batchSize/2)
	case qlen <= m.cfg.LowWatermark:
		m.batchSize = minInt(m.cfg.MaxBatch, ceilMul(m.batchSize, 1.5))
	}
	if m.metrics != nil {
		m.metrics.IngestBatchSize.Set(float64(m.batchSize))
		m.metrics.IngestQueueDepth.Set(float64(m.QueueDepth()))
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func ceilMul(v int, factor float64) int {
	f := float64(v) * factor
	i := int(f)
	if float64(i) < f {
		i++
	}
	return i
}
