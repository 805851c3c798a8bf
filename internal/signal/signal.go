// Package signal implements SignalEmitter (C15): assembles v2 signal
// payloads with an ATR-based stop-loss/take-profit policy and publishes
// them, preferring the broker and falling back to an append-only JSONL
// file. Grounded on original_source/signals/signal_emitter.py.
package signal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adred-codev/mdingest/internal/broker"
	"github.com/adred-codev/mdingest/internal/telemetry"
)

// Side mirrors FinalScorer's Direction as the signal's uppercase wire value.
type Side string

const (
	Long    Side = "LONG"
	Short   Side = "SHORT"
	Neutral Side = "NEUTRAL"
)

// SchemaVersion is the current signal payload schema version.
const SchemaVersion = "2.0.0"

// SLTPPolicy configures stop-loss/take-profit distance as a multiple of ATR
// and a reward:risk ratio, per §4.15.
type SLTPPolicy struct {
	ATRMultiple float64
	RRRatio     float64
}

func (p SLTPPolicy) withDefaults() SLTPPolicy {
	if p.ATRMultiple <= 0 {
		p.ATRMultiple = 1.5
	}
	if p.RRRatio <= 0 {
		p.RRRatio = 2.0
	}
	return p
}

// Rationale carries an optional explanation for why a signal fired.
type Rationale struct {
	RationaleID string   `json:"rationale_id,omitempty"`
	TopFeatures []string `json:"top_features,omitempty"`
}

// Signal is the v2 wire payload.
type Signal struct {
	SchemaVersion string         `json:"schema_version"`
	SignalID      string         `json:"signal_id"`
	Symbol        string         `json:"symbol"`
	TF            string         `json:"tf"`
	TsEvent       string         `json:"ts_event"`
	TsSignal      string         `json:"ts_signal"`
	Side          string         `json:"side"`
	ProbTP        float64        `json:"prob_tp"`
	Entry         float64        `json:"entry"`
	SL            float64        `json:"sl"`
	TP            float64        `json:"tp"`
	ModelVersion  string         `json:"model_version"`
	Rationale     *Rationale     `json:"rationale,omitempty"`
	Risk          map[string]any `json:"risk,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// Row is the subset of a scored feature row SignalEmitter needs.
type Row struct {
	Symbol    string
	Timeframe string
	TsEvent   int64 // ms since epoch, UTC
	Close     float64
	ATR       float64 // NaN if unavailable; falls back to 1% of close
}

// Config configures an Emitter.
type Config struct {
	Topic  string
	SLTP   SLTPPolicy
	OutDir string // directory for the JSONL fallback sink
}

func (c Config) withDefaults() Config {
	c.SLTP = c.SLTP.withDefaults()
	if c.Topic == "" {
		c.Topic = "signals"
	}
	if c.OutDir == "" {
		c.OutDir = "./signals-out"
	}
	return c
}

// Emitter is SignalEmitter (C15).
type Emitter struct {
	cfg       Config
	publisher broker.Publisher
	metrics   *telemetry.Registry

	fileMu sync.Mutex
}

// New constructs an Emitter. publisher and metrics may both be nil (nil
// publisher always falls back to the JSONL file sink).
func New(cfg Config, publisher broker.Publisher, metrics *telemetry.Registry) *Emitter {
	return &Emitter{cfg: cfg.withDefaults(), publisher: publisher, metrics: metrics}
}

// signalID computes the first 16 hex chars of sha256("symbol|tf|ts_event
// ISO UTC"), per §4.15.
func signalID(symbol, tf string, tsEvent int64) string {
	base := fmt.Sprintf("%s|%s|%s", symbol, tf, time.UnixMilli(tsEvent).UTC().Format(time.RFC3339Nano))
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])[:16]
}

func clampProb(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// calcSLTP ports _calc_sltp(): risk distance is ATR (or 1% of close if ATR
// is unavailable) scaled by ATRMultiple; SL/TP straddle close by
// risk/reward*risk on the appropriate side, and collapse to close for a
// neutral signal.
func calcSLTP(side Side, close, atr float64, policy SLTPPolicy) (sl, tp float64, err error) {
	if math.IsNaN(close) || math.IsInf(close, 0) {
		return 0, 0, errors.New("signal: close price is NaN/inf, cannot compute SL/TP")
	}
	riskBase := atr
	if math.IsNaN(riskBase) || math.IsInf(riskBase, 0) {
		riskBase = 0.01 * close
	}
	risk := riskBase * policy.ATRMultiple

	switch side {
	case Long:
		sl = close - risk
		tp = close + policy.RRRatio*risk
	case Short:
		sl = close + risk
		tp = close - policy.RRRatio*risk
	default:
		sl, tp = close, close
	}
	return sl, tp, nil
}

// Assemble builds a Signal from a scored row without publishing it.
func (e *Emitter) Assemble(row Row, probTP float64, side Side, modelVersion string, rationale *Rationale, risk map[string]any, extra map[string]any) (*Signal, error) {
	sl, tp, err := calcSLTP(side, row.Close, row.ATR, e.cfg.SLTP)
	if err != nil {
		return nil, err
	}

	sig := &Signal{
		SchemaVersion: SchemaVersion,
		SignalID:      signalID(row.Symbol, row.Timeframe, row.TsEvent),
		Symbol:        row.Symbol,
		TF:            row.Timeframe,
		TsEvent:       time.UnixMilli(row.TsEvent).UTC().Format(time.RFC3339Nano),
		TsSignal:      time.Now().UTC().Format(time.RFC3339Nano),
		Side:          string(side),
		ProbTP:        clampProb(probTP),
		Entry:         row.Close,
		SL:            sl,
		TP:            tp,
		ModelVersion:  modelVersion,
		Rationale:     rationale,
		Risk:          risk,
		Extra:         extra,
	}

	if e.metrics != nil && e.metrics.SignalsEmittedTotal != nil {
		e.metrics.SignalsEmittedTotal.WithLabelValues(string(side)).Inc()
	}
	return sig, nil
}

// Publish writes sig to the broker topic, keyed by signal_id; on any broker
// failure (including a nil publisher) it falls back to appending a JSON
// line to <out_dir>/<topic>.jsonl.
func (e *Emitter) Publish(ctx context.Context, sig *Signal) error {
	if e.publisher != nil {
		err := e.publisher.Publish(ctx, e.cfg.Topic, sig, sig.Symbol, sig.TF, map[string]string{"signal_id": sig.SignalID}, time.Now().UnixMilli())
		if err == nil {
			e.observe("broker", "ok")
			return nil
		}
		e.observe("broker", "fail")
	}

	value, err := json.Marshal(sig)
	if err != nil {
		e.observe("file", "fail")
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := e.writeFile(value); err != nil {
		e.observe("file", "fail")
		return err
	}
	e.observe("file", "ok")
	return nil
}

// writeFile appends one JSON line to <out_dir>/<topic>.jsonl.
func (e *Emitter) writeFile(value []byte) error {
	e.fileMu.Lock()
	defer e.fileMu.Unlock()

	if err := os.MkdirAll(e.cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create signals out dir: %w", err)
	}
	path := filepath.Join(e.cfg.OutDir, e.cfg.Topic+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open signals file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(value, '\n')); err != nil {
		return fmt.Errorf("write signals file %s: %w", path, err)
	}
	return nil
}

func (e *Emitter) observe(sink, result string) {
	if e.metrics == nil || e.metrics.SignalSinkFailures == nil {
		return
	}
	if result == "fail" {
		e.metrics.SignalSinkFailures.WithLabelValues(sink).Inc()
	}
}

// Close is a no-op placeholder for symmetry with broker.Publisher.Close;
// the underlying publisher's lifecycle is owned by its constructor, not by
// Emitter.
func (e *Emitter) Close() {}
