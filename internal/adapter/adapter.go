// Package adapter implements the per-venue ExchangeAdapter contract (§4.1):
// a stateless, polymorphic translation from venue-specific WebSocket
// framing into the uniform NormalizedEvent schema. Each adapter owns its
// own subscription message and field-ordering quirks; WsConsumer never
// inspects raw venue payloads directly.
package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/adred-codev/mdingest/internal/event"
)

// Adapter is the venue contract. Subscribe returns the venue-specific
// subscription payload; Parse translates one decoded JSON frame into a
// NormalizedEvent, or returns (nil, nil) for non-data frames (acks, pongs,
// subscription confirmations). RestKlinesURL and ParseRestKlines are the
// REST-side counterpart used by RestBackfiller to recover gaps around a
// WsConsumer reconnect: they reuse the same field-order knowledge as Parse
// but over a venue's historical-candles HTTP endpoint instead of its push
// stream.
type Adapter interface {
	Name() string
	WSURL() string
	Subscribe(symbol string, tf event.Timeframe) (any, error)
	Parse(raw map[string]any) (*event.NormalizedEvent, error)
	RestKlinesURL(symbol string, tf event.Timeframe, limit int) string
	ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error)
}

// Registry maps venue name to Adapter, resolved at startup from
// configuration.
type Registry struct {
	byName map[string]Adapter
}

// NewRegistry builds a registry pre-populated with every built-in venue
// adapter (§4.1 variants list).
func NewRegistry() *Registry {
	r := &Registry{byName: map[string]Adapter{}}
	for _, a := range []Adapter{
		Binance{}, Bybit{}, Bingx{}, Bitget{}, Coinex{}, Kucoin{}, OKX{},
	} {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter under its own Name().
func (r *Registry) Register(a Adapter) {
	r.byName[a.Name()] = a
}

// Get resolves a venue adapter by name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// normalize assembles the common NormalizedEvent fields once field
// extraction has happened, computing the deterministic correlation_id and
// leaving IngestTs for the caller (WsConsumer stamps ingest_ts; dedup uses
// correlation_id immediately after parse).
func normalize(source, symbol string, tf event.Timeframe, tsEvent int64, o, h, l, c, v float64) (*event.NormalizedEvent, error) {
	candle := event.OHLCV{Open: o, High: h, Low: l, Close: c, Volume: v}
	ne := &event.NormalizedEvent{
		V:             event.SchemaVersion,
		Source:        source,
		EventType:     event.TypeOHLCV,
		Symbol:        symbol,
		TF:            tf,
		TsEvent:       tsEvent,
		CorrelationID: event.CorrelationID(symbol, event.TypeOHLCV, tsEvent),
		Candle:        &candle,
	}
	return ne, nil
}

// rowOrder names which positional layout a venue's REST kline row uses.
// Every venue here serializes [ts, ...] followed by four prices and a
// volume; only the order of open/high/low/close varies.
type rowOrder int

const (
	orderOHLC rowOrder = iota // ts, open, high, low, close, volume
	orderOCHL                 // ts, open, close, high, low, volume
)

// parseArrayKlines decodes decoded as a top-level or nested []any of
// per-candle rows (each itself a []any in rowOrder layout) into
// NormalizedEvents. rows is pre-extracted by the caller from whatever
// envelope the venue wraps candles in (bare array, {"data":[...]},
// {"result":{"list":[...]}}, etc.).
func parseArrayKlines(source, symbol string, tf event.Timeframe, rows []any, order rowOrder) ([]*event.NormalizedEvent, error) {
	out := make([]*event.NormalizedEvent, 0, len(rows))
	for _, r := range rows {
		row, err := asSlice(r)
		if err != nil || len(row) < 6 {
			return nil, fmt.Errorf("rest kline row: %w", err)
		}
		ts, err := asInt64(row[0])
		if err != nil {
			return nil, err
		}
		var o, h, l, c float64
		switch order {
		case orderOHLC:
			if o, err = asFloat(row[1]); err != nil {
				return nil, err
			}
			if h, err = asFloat(row[2]); err != nil {
				return nil, err
			}
			if l, err = asFloat(row[3]); err != nil {
				return nil, err
			}
			if c, err = asFloat(row[4]); err != nil {
				return nil, err
			}
		case orderOCHL:
			if o, err = asFloat(row[1]); err != nil {
				return nil, err
			}
			if c, err = asFloat(row[2]); err != nil {
				return nil, err
			}
			if h, err = asFloat(row[3]); err != nil {
				return nil, err
			}
			if l, err = asFloat(row[4]); err != nil {
				return nil, err
			}
		}
		v, err := asFloat(row[5])
		if err != nil {
			return nil, err
		}
		ev, err := normalize(source, symbol, tf, ts, o, h, l, c, v)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// restDataRows extracts the {"data":[...]} envelope shared by OKX's and
// Bitget's REST candle endpoints.
func restDataRows(decoded any) ([]any, error) {
	obj, err := asMap(decoded)
	if err != nil {
		return nil, err
	}
	return asSlice(obj["data"])
}

func asFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	case json.Number:
		return t.Float64()
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func asInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case int64:
		return t, nil
	case json.Number:
		i, err := t.Int64()
		if err == nil {
			return i, nil
		}
		f, err := t.Float64()
		return int64(f), err
	case string:
		var i int64
		if _, err := fmt.Sscanf(t, "%d", &i); err != nil {
			return 0, fmt.Errorf("not an integer: %q", t)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported integer type %T", v)
	}
}

// asSlice extracts a JSON array field, failing loudly rather than silently
// treating a malformed frame as a non-data frame.
func asSlice(v any) ([]any, error) {
	s, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	return s, nil
}

func asMap(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return m, nil
}
