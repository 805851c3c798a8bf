package adapter

import (
	"fmt"

	"github.com/adred-codev/mdingest/internal/event"
)

// Binance adapts Binance's combined kline stream
// (wss://stream.binance.com:9443/ws), frame shape {"s":..,"k":{"i":..,"o":..}}.
type Binance struct{}

func (Binance) Name() string { return "binance" }
func (Binance) WSURL() string { return "wss://stream.binance.com:9443/ws" }

func (Binance) Subscribe(symbol string, tf event.Timeframe) (any, error) {
	return map[string]any{
		"method": "SUBSCRIBE",
		"params": []string{lowerSymbol(symbol) + "@kline_" + string(tf)},
		"id":     1,
	}, nil
}

func (Binance) Parse(raw map[string]any) (*event.NormalizedEvent, error) {
	kRaw, ok := raw["k"]
	if !ok {
		// Non-kline control frame (subscription ack, etc).
		return nil, nil
	}
	k, err := asMap(kRaw)
	if err != nil {
		return nil, err
	}
	symbol, _ := raw["s"].(string)
	tf, _ := k["i"].(string)
	o, err := asFloat(k["o"])
	if err != nil {
		return nil, err
	}
	h, err := asFloat(k["h"])
	if err != nil {
		return nil, err
	}
	l, err := asFloat(k["l"])
	if err != nil {
		return nil, err
	}
	c, err := asFloat(k["c"])
	if err != nil {
		return nil, err
	}
	v, err := asFloat(k["v"])
	if err != nil {
		return nil, err
	}
	ts, err := asInt64(k["t"])
	if err != nil {
		return nil, err
	}
	return normalize("binance", symbol, event.Timeframe(tf), ts, o, h, l, c, v)
}

// RestKlinesURL builds Binance's public klines endpoint
// (https://binance-docs.github.io/apidocs/spot/en/#kline-candlestick-data).
func (Binance) RestKlinesURL(symbol string, tf event.Timeframe, limit int) string {
	return fmt.Sprintf("https://api.binance.com/api/v3/klines?symbol=%s&interval=%s&limit=%d", symbol, tf, limit)
}

// ParseRestKlines decodes Binance's bare top-level array of
// [openTime, open, high, low, close, volume, closeTime, ...] rows.
func (Binance) ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	rows, err := asSlice(decoded)
	if err != nil {
		return nil, err
	}
	return parseArrayKlines("binance", symbol, tf, rows, orderOHLC)
}

func lowerSymbol(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 'A' && b <= 'Z' {
			b += 'a' - 'A'
		}
		out[i] = b
	}
	return string(out)
}
