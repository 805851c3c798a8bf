// Package event defines the normalized market-data event schema (v2) shared
// by every stage of the ingestion pipeline: adapters produce it, the
// ingestion manager batches it, the broker carries it, and the compute
// stage consumes it from the log.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SchemaVersion is the current NormalizedEvent schema version.
const SchemaVersion = 2

// Type enumerates the kinds of normalized events the pipeline understands.
type Type string

const (
	TypeOHLCV   Type = "ohlcv"
	TypeTick    Type = "tick"
	TypeFunding Type = "funding"
	TypeOI      Type = "oi"
)

// Timeframe is a label for kline/ohlcv aggregation periods. Non-kline event
// types carry an empty Timeframe.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF6h  Timeframe = "6h"
	TF8h  Timeframe = "8h"
	TF12h Timeframe = "12h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
	TF1mo Timeframe = "1mo"
)

// ValidTimeframes is the allowed set of timeframe labels (§3.1).
var ValidTimeframes = map[Timeframe]bool{
	TF1m: true, TF5m: true, TF15m: true, TF30m: true,
	TF1h: true, TF2h: true, TF4h: true, TF6h: true, TF8h: true, TF12h: true,
	TF1d: true, TF1w: true, TF1mo: true,
}

// SpanMillis returns the fixed millisecond span of a timeframe, and false
// for "1mo" which has no fixed span (calendar-month bucketed instead).
func (tf Timeframe) SpanMillis() (int64, bool) {
	const (
		second = int64(1000)
		minute = 60 * second
		hour   = 60 * minute
		day    = 24 * hour
		week   = 7 * day
	)
	switch tf {
	case TF1m:
		return minute, true
	case TF5m:
		return 5 * minute, true
	case TF15m:
		return 15 * minute, true
	case TF30m:
		return 30 * minute, true
	case TF1h:
		return hour, true
	case TF2h:
		return 2 * hour, true
	case TF4h:
		return 4 * hour, true
	case TF6h:
		return 6 * hour, true
	case TF8h:
		return 8 * hour, true
	case TF12h:
		return 12 * hour, true
	case TF1d:
		return day, true
	case TF1w:
		return week, true
	case TF1mo:
		return 0, false
	default:
		return 0, false
	}
}

// OHLCV is the event-specific payload body for event_type="ohlcv".
type OHLCV struct {
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// Valid checks the OHLCV ordering invariant: l <= min(o,c) <= max(o,c) <= h,
// and all values non-negative.
func (o OHLCV) Valid() bool {
	if o.Open < 0 || o.High < 0 || o.Low < 0 || o.Close < 0 || o.Volume < 0 {
		return false
	}
	lo := o.Open
	if o.Close < lo {
		lo = o.Close
	}
	hi := o.Open
	if o.Close > hi {
		hi = o.Close
	}
	return o.Low <= lo && hi <= o.High
}

// NormalizedEvent is the uniform, venue-independent market-data record
// (§3.1). Payload carries event-specific fields; OHLCV is parsed into
// structured fields (Candle), everything else is kept as a generic map.
type NormalizedEvent struct {
	V             int            `json:"v"`
	Source        string         `json:"source"`
	EventType     Type           `json:"event_type"`
	Symbol        string         `json:"symbol"`
	TF            Timeframe      `json:"tf,omitempty"`
	TsEvent       int64          `json:"ts_event"`
	IngestTs      int64          `json:"ingest_ts"`
	CorrelationID string         `json:"correlation_id"`
	Candle        *OHLCV         `json:"-"`
	Payload       map[string]any `json:"payload"`
}

// wireEvent mirrors NormalizedEvent's JSON shape for marshal/unmarshal,
// letting MarshalJSON/UnmarshalJSON fold Candle into Payload instead of
// exposing it as a separate top-level key (§6.3 requires exactly
// {v,source,event_type,symbol,tf,ts_event,ingest_ts,correlation_id,payload}).
type wireEvent struct {
	V             int            `json:"v"`
	Source        string         `json:"source"`
	EventType     Type           `json:"event_type"`
	Symbol        string         `json:"symbol"`
	TF            *Timeframe     `json:"tf"` // null for non-kline events
	TsEvent       int64          `json:"ts_event"`
	IngestTs      int64          `json:"ingest_ts"`
	CorrelationID string         `json:"correlation_id"`
	Payload       map[string]any `json:"payload"`
}

// MarshalJSON folds Candle (when present) into Payload under o/h/l/c/v
// keys, so the wire form carries exactly the §6.3 top-level key set.
func (e *NormalizedEvent) MarshalJSON() ([]byte, error) {
	payload := map[string]any{}
	for k, v := range e.Payload {
		payload[k] = v
	}
	if e.Candle != nil {
		payload["o"] = e.Candle.Open
		payload["h"] = e.Candle.High
		payload["l"] = e.Candle.Low
		payload["c"] = e.Candle.Close
		payload["v"] = e.Candle.Volume
	}
	w := wireEvent{
		V: e.V, Source: e.Source, EventType: e.EventType, Symbol: e.Symbol,
		TsEvent: e.TsEvent, IngestTs: e.IngestTs,
		CorrelationID: e.CorrelationID, Payload: payload,
	}
	if e.TF != "" {
		tf := e.TF
		w.TF = &tf
	}
	return json.Marshal(w)
}

// UnmarshalJSON reverses MarshalJSON: o/h/l/c/v keys in payload are lifted
// back into Candle for ohlcv events and removed from Payload; any other
// payload keys are preserved as-is.
func (e *NormalizedEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.V, e.Source, e.EventType, e.Symbol = w.V, w.Source, w.EventType, w.Symbol
	e.TsEvent, e.IngestTs, e.CorrelationID = w.TsEvent, w.IngestTs, w.CorrelationID
	e.TF = ""
	if w.TF != nil {
		e.TF = *w.TF
	}
	e.Payload = w.Payload
	e.Candle = nil

	if e.EventType == TypeOHLCV && w.Payload != nil {
		o, oOK := w.Payload["o"]
		h, hOK := w.Payload["h"]
		l, lOK := w.Payload["l"]
		c, cOK := w.Payload["c"]
		v, vOK := w.Payload["v"]
		if oOK && hOK && lOK && cOK && vOK {
			candle := OHLCV{
				Open:  toFloat(o),
				High:  toFloat(h),
				Low:   toFloat(l),
				Close: toFloat(c),
				Volume: toFloat(v),
			}
			e.Candle = &candle
			rest := map[string]any{}
			for k, val := range w.Payload {
				switch k {
				case "o", "h", "l", "c", "v":
				default:
					rest[k] = val
				}
			}
			e.Payload = rest
		}
	}
	return nil
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

// CorrelationID computes the deterministic dedup key over
// (symbol | event_type | ts_event) per §3.1.
func CorrelationID(symbol string, eventType Type, tsEvent int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", symbol, eventType, tsEvent)))
	return hex.EncodeToString(sum[:])
}

// Validate performs the structural+semantic checks SchemaValidator enforces
// before an event may reach the primary topic. It returns a short reason
// string (suitable for a dlt_reason header) on failure.
func (e *NormalizedEvent) Validate() (ok bool, reason string) {
	if e.V != SchemaVersion {
		return false, "schema_invalid"
	}
	if e.Source == "" || e.Symbol == "" || e.CorrelationID == "" {
		return false, "schema_invalid"
	}
	switch e.EventType {
	case TypeOHLCV, TypeTick, TypeFunding, TypeOI:
	default:
		return false, "schema_invalid"
	}
	if e.TF != "" && !ValidTimeframes[e.TF] {
		return false, "schema_invalid"
	}
	if e.TsEvent <= 0 {
		return false, "schema_invalid"
	}
	want := CorrelationID(e.Symbol, e.EventType, e.TsEvent)
	if e.CorrelationID != want {
		return false, "schema_invalid"
	}
	if e.EventType == TypeOHLCV {
		if e.Candle == nil || !e.Candle.Valid() {
			return false, "schema_invalid"
		}
	}
	return true, ""
}

// ClampIngestSkew clamps a negative ingest_ts-ts_event skew to zero for
// metrics purposes, per the §3.1 invariant tolerance note. It never
// modifies the event itself, only the reported lag.
func ClampIngestSkew(ingestTs, tsEvent int64) int64 {
	lag := ingestTs - tsEvent
	if lag < 0 {
		return 0
	}
	return lag
}
