package adapter

import (
	"fmt"

	"github.com/adred-codev/mdingest/internal/event"
)

// OKX adapts OKX's v5 public candle channel, same arg/data[ts,o,h,l,c,v]
// shape as Bitget's candle stream.
type OKX struct{}

func (OKX) Name() string  { return "okx" }
func (OKX) WSURL() string { return "wss://ws.okx.com:8443/ws/v5/public" }

func (OKX) Subscribe(symbol string, tf event.Timeframe) (any, error) {
	return map[string]any{
		"op": "subscribe",
		"args": []map[string]string{
			{"channel": "candle" + string(tf), "instId": symbol},
		},
	}, nil
}

func (OKX) Parse(raw map[string]any) (*event.NormalizedEvent, error) {
	return parseCandleArrayFrame("okx", raw)
}

// RestKlinesURL builds OKX v5's public candlesticks endpoint.
func (OKX) RestKlinesURL(symbol string, tf event.Timeframe, limit int) string {
	return fmt.Sprintf("https://www.okx.com/api/v5/market/candles?instId=%s&bar=%s&limit=%d", symbol, tf, limit)
}

// ParseRestKlines decodes OKX's {"data":[[ts,o,h,l,c,vol,...],...]} envelope,
// the same row layout parseCandleArrayFrame uses for the WS push.
func (OKX) ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	rows, err := restDataRows(decoded)
	if err != nil {
		return nil, err
	}
	return parseArrayKlines("okx", symbol, tf, rows, orderOHLC)
}

// parseCandleArrayFrame handles the arg/data[[ts,o,h,l,c,v]] wire shape
// shared by OKX and Bitget: arg.channel is "candle<tf>", arg.instId is the
// symbol, and data[0] holds one row as [ts, open, high, low, close, volume].
func parseCandleArrayFrame(source string, raw map[string]any) (*event.NormalizedEvent, error) {
	argRaw, ok := raw["arg"]
	if !ok {
		return nil, nil
	}
	arg, err := asMap(argRaw)
	if err != nil {
		return nil, err
	}
	dataRaw, ok := raw["data"]
	if !ok {
		return nil, nil
	}
	rows, err := asSlice(dataRaw)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	row, err := asSlice(rows[0])
	if err != nil || len(row) < 6 {
		return nil, err
	}

	symbol, _ := arg["instId"].(string)
	channel, _ := arg["channel"].(string)
	tf := stripPrefix(channel, "candle")

	ts, err := asInt64(row[0])
	if err != nil {
		return nil, err
	}
	o, err := asFloat(row[1])
	if err != nil {
		return nil, err
	}
	h, err := asFloat(row[2])
	if err != nil {
		return nil, err
	}
	l, err := asFloat(row[3])
	if err != nil {
		return nil, err
	}
	c, err := asFloat(row[4])
	if err != nil {
		return nil, err
	}
	v, err := asFloat(row[5])
	if err != nil {
		return nil, err
	}
	return normalize(source, symbol, event.Timeframe(tf), ts, o, h, l, c, v)
}

func stripPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
