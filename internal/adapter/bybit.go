package adapter

import (
	"fmt"

	"github.com/adred-codev/mdingest/internal/event"
)

// Bybit adapts Bybit v5 linear public kline stream, frame shape
// {"data":[{"symbol":..,"interval":..,"start":..}]}.
type Bybit struct{}

func (Bybit) Name() string  { return "bybit" }
func (Bybit) WSURL() string { return "wss://stream.bybit.com/v5/public/linear" }

func (Bybit) Subscribe(symbol string, tf event.Timeframe) (any, error) {
	return map[string]any{
		"op":   "subscribe",
		"args": []string{"kline." + string(tf) + "." + symbol},
	}, nil
}

func (Bybit) Parse(raw map[string]any) (*event.NormalizedEvent, error) {
	dataRaw, ok := raw["data"]
	if !ok {
		return nil, nil
	}
	arr, err := asSlice(dataRaw)
	if err != nil || len(arr) == 0 {
		return nil, err
	}
	data, err := asMap(arr[0])
	if err != nil {
		return nil, err
	}
	symbol, _ := data["symbol"].(string)
	tf, _ := data["interval"].(string)
	o, err := asFloat(data["open"])
	if err != nil {
		return nil, err
	}
	h, err := asFloat(data["high"])
	if err != nil {
		return nil, err
	}
	l, err := asFloat(data["low"])
	if err != nil {
		return nil, err
	}
	c, err := asFloat(data["close"])
	if err != nil {
		return nil, err
	}
	v, err := asFloat(data["volume"])
	if err != nil {
		return nil, err
	}
	ts, err := asInt64(data["start"])
	if err != nil {
		return nil, err
	}
	return normalize("bybit", symbol, event.Timeframe(tf), ts, o, h, l, c, v)
}

// RestKlinesURL builds Bybit v5's public kline endpoint (linear category).
func (Bybit) RestKlinesURL(symbol string, tf event.Timeframe, limit int) string {
	return fmt.Sprintf("https://api.bybit.com/v5/market/kline?category=linear&symbol=%s&interval=%s&limit=%d", symbol, tf, limit)
}

// ParseRestKlines decodes Bybit's {"result":{"list":[[start,o,h,l,c,v,turnover],...]}}.
func (Bybit) ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	obj, err := asMap(decoded)
	if err != nil {
		return nil, err
	}
	result, err := asMap(obj["result"])
	if err != nil {
		return nil, err
	}
	rows, err := asSlice(result["list"])
	if err != nil {
		return nil, err
	}
	return parseArrayKlines("bybit", symbol, tf, rows, orderOHLC)
}
