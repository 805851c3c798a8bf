// Package telemetry centralizes the Prometheus metrics exposed by every
// component (C1-C15), following the naming and registration pattern of the
// teacher's metrics.go: one collector struct per process, MustRegister at
// construction, and a handler mounted on /metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge/histogram the pipeline exposes, scoped
// under the namespace passed to New. Components hold a *Registry and update
// its exported collectors, so metric construction and registration stay in
// one place.
type Registry struct {
	reg *prometheus.Registry

	// WsConsumer (C2)
	WSConnectionsActive  *prometheus.GaugeVec
	WSReconnectsTotal    *prometheus.CounterVec
	WSMessagesReceived   *prometheus.CounterVec
	WSParseErrorsTotal   *prometheus.CounterVec
	WSClockSkewSeconds   *prometheus.HistogramVec

	// RestBackfiller (gap backfill, supplementing C2)
	RestBackfillEventsTotal *prometheus.CounterVec
	RestBackfillErrorsTotal *prometheus.CounterVec

	// DedupStore (C3)
	DedupHitsTotal   prometheus.Counter
	DedupMissesTotal prometheus.Counter
	DedupSize        prometheus.Gauge

	// SchemaValidator (C4)
	SchemaRejectsTotal *prometheus.CounterVec

	// IngestionManager (C5)
	IngestQueueDepth     prometheus.Gauge
	IngestBatchSize      prometheus.Gauge
	IngestBatchesFlushed *prometheus.CounterVec
	IngestBatchLatency   prometheus.Histogram

	// Publisher (C6)
	PublishTotal       *prometheus.CounterVec
	PublishDLTTotal    *prometheus.CounterVec
	PublishLatency     prometheus.Histogram

	// ReplayEngine (C7)
	ReplayEventsEmitted prometheus.Counter
	ReplayErrorsTotal   prometheus.Counter

	// PartitionManager (C8)
	PartitionWritesTotal *prometheus.CounterVec
	PartitionBytesTotal  *prometheus.CounterVec
	PartitionCompactions prometheus.Counter

	// StateManager (C9)
	StateWindowsActive prometheus.Gauge
	StateEmitsTotal    *prometheus.CounterVec

	// FeatureEngine (C10)
	FeatureRowsComputed   *prometheus.CounterVec
	FeatureInvalidRate    *prometheus.GaugeVec
	FeatureComputeLatency prometheus.Histogram

	// RuleEngine / ModelRunner / FinalScorer (C11-C13)
	RuleScoreComputed   prometheus.Histogram
	ModelInferenceTotal *prometheus.CounterVec
	FinalScoreComputed  prometheus.Histogram

	// RiskController (C14)
	RiskRejectionsTotal *prometheus.CounterVec
	RiskKillSwitchState prometheus.Gauge

	// SignalEmitter (C15)
	SignalsEmittedTotal *prometheus.CounterVec
	SignalSinkFailures  *prometheus.CounterVec

	// Process resource sampling (health.Sampler), reported alongside
	// IngestQueueDepth; it does not feed IngestionManager's batch sizing.
	ProcessCPUPercent prometheus.Gauge
	ProcessMemoryMB   prometheus.Gauge
	ProcessGoroutines prometheus.Gauge

	// Feature-cache pub/sub transport (§6.5).
	NATSConnected       prometheus.Gauge
	NATSReconnectsTotal prometheus.Counter
	NATSMessagesTotal   *prometheus.CounterVec
	NATSErrorsTotal     *prometheus.CounterVec
	NATSPublishLatency  prometheus.Histogram
}

// New constructs a fully-registered Registry backed by its own
// prometheus.Registry. Registration panics on duplicate metric names within
// that registry, matching the teacher's init()-time MustRegister behavior;
// separate calls do not collide with each other.
func New(namespace string) *Registry {
	reg := prometheus.NewRegistry()
	f := promauto(reg, namespace)

	r := &Registry{
		reg: reg,

		WSConnectionsActive: f.gaugeVec("ws_connections_active", "Active WebSocket connections", "source"),
		WSReconnectsTotal:   f.counterVec("ws_reconnects_total", "Total WebSocket reconnect attempts", "source", "reason"),
		WSMessagesReceived:  f.counterVec("ws_messages_received_total", "Total raw messages received", "source"),
		WSParseErrorsTotal:  f.counterVec("ws_parse_errors_total", "Total frames that failed adapter parsing", "source"),
		WSClockSkewSeconds:  f.histogramVec("ws_clock_skew_seconds", "ingest_ts - ts_event skew per source", []float64{0, .01, .05, .1, .5, 1, 5, 10, 30}, "source"),

		RestBackfillEventsTotal: f.counterVec("rest_backfill_events_total", "OHLCV candles recovered via REST gap backfill", "source"),
		RestBackfillErrorsTotal: f.counterVec("rest_backfill_errors_total", "REST backfill fetch/parse failures", "source", "reason"),

		DedupHitsTotal:   f.counter("dedup_hits_total", "Events rejected as duplicates"),
		DedupMissesTotal: f.counter("dedup_misses_total", "Events admitted as new"),
		DedupSize:        f.gauge("dedup_size", "Current dedup store entry count"),

		SchemaRejectsTotal: f.counterVec("schema_rejects_total", "Events rejected by schema validation", "reason"),

		IngestQueueDepth:     f.gauge("ingest_queue_depth", "Current ingestion queue length"),
		IngestBatchSize:      f.gauge("ingest_batch_size", "Current adaptive batch size target"),
		IngestBatchesFlushed: f.counterVec("ingest_batches_flushed_total", "Batches flushed by trigger", "trigger"),
		IngestBatchLatency:   f.histogram("ingest_batch_latency_seconds", "Time from batch open to flush", []float64{.01, .05, .1, .25, .5, .8, 1, 2, 5}),

		PublishTotal:    f.counterVec("publish_total", "Publish attempts by result", "topic", "result"),
		PublishDLTTotal: f.counterVec("publish_dlt_total", "Messages routed to dead-letter topic", "topic", "reason"),
		PublishLatency:  f.histogram("publish_latency_seconds", "Broker publish round-trip latency", prometheus.DefBuckets),

		ReplayEventsEmitted: f.counter("replay_events_emitted_total", "Events re-emitted by replay"),
		ReplayErrorsTotal:   f.counter("replay_errors_total", "Replay records skipped due to parse errors"),

		PartitionWritesTotal: f.counterVec("partition_writes_total", "Partition file writes by result", "result"),
		PartitionBytesTotal:  f.counterVec("partition_bytes_total", "Bytes written per partition format", "format"),
		PartitionCompactions: f.counter("partition_compactions_total", "Compaction passes executed"),

		StateWindowsActive: f.gauge("state_windows_active", "Active (symbol,tf) window states"),
		StateEmitsTotal:    f.counterVec("state_emits_total", "Window emissions by kind", "kind"),

		FeatureRowsComputed:   f.counterVec("feature_rows_computed_total", "Feature rows computed by outcome", "outcome"),
		FeatureInvalidRate:    f.gaugeVec("feature_invalid_rate", "Fraction of invalid values per indicator after QC", "indicator"),
		FeatureComputeLatency: f.histogram("feature_compute_latency_seconds", "Feature computation latency per batch", prometheus.DefBuckets),

		RuleScoreComputed:   f.histogram("rule_score", "Distribution of computed rule scores", prometheus.LinearBuckets(-1, 0.2, 11)),
		ModelInferenceTotal: f.counterVec("model_inference_total", "Model inference calls by result", "result"),
		FinalScoreComputed:  f.histogram("final_score", "Distribution of fused final scores", prometheus.LinearBuckets(-1, 0.2, 11)),

		RiskRejectionsTotal: f.counterVec("risk_rejections_total", "Orders rejected by reason", "reason"),
		RiskKillSwitchState: f.gauge("risk_kill_switch_active", "1 if the kill switch is engaged"),

		SignalsEmittedTotal: f.counterVec("signals_emitted_total", "Signals emitted by direction", "direction"),
		SignalSinkFailures:  f.counterVec("signal_sink_failures_total", "Signal sink write failures by sink", "sink"),

		ProcessCPUPercent: f.gauge("process_cpu_percent", "Process CPU usage percentage sampled via gopsutil"),
		ProcessMemoryMB:   f.gauge("process_memory_mb", "Process resident memory in MiB sampled via gopsutil"),
		ProcessGoroutines: f.gauge("process_goroutines", "Current goroutine count"),

		NATSConnected:       f.gauge("nats_connected", "1 if the feature-cache NATS connection is up"),
		NATSReconnectsTotal: f.counter("nats_reconnects_total", "Total NATS reconnects"),
		NATSMessagesTotal:   f.counterVec("nats_messages_total", "NATS messages by direction", "direction"),
		NATSErrorsTotal:     f.counterVec("nats_errors_total", "NATS client errors by kind", "kind"),
		NATSPublishLatency:  f.histogram("nats_publish_latency_seconds", "Feature-cache publish latency", prometheus.DefBuckets),
	}
	return r
}

// Handler returns the HTTP handler to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// factory adapts prometheus constructors to auto-register against a
// specific registry and namespace, avoiding the teacher's package-level
// var block in favor of an instance the process owns.
type factory struct {
	reg       *prometheus.Registry
	namespace string
}

func promauto(reg *prometheus.Registry, namespace string) *factory {
	return &factory{reg: reg, namespace: namespace}
}

func (f *factory) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: f.namespace, Name: name, Help: help})
	f.reg.MustRegister(c)
	return c
}

func (f *factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: f.namespace, Name: name, Help: help}, labels)
	f.reg.MustRegister(c)
	return c
}

func (f *factory) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: f.namespace, Name: name, Help: help})
	f.reg.MustRegister(g)
	return g
}

func (f *factory) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: f.namespace, Name: name, Help: help}, labels)
	f.reg.MustRegister(g)
	return g
}

func (f *factory) histogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: f.namespace, Name: name, Help: help, Buckets: buckets})
	f.reg.MustRegister(h)
	return h
}

func (f *factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: f.namespace, Name: name, Help: help, Buckets: buckets}, labels)
	f.reg.MustRegister(h)
	return h
}
