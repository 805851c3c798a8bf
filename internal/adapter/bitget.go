package adapter

import (
	"fmt"

	"github.com/adred-codev/mdingest/internal/event"
)

// Bitget adapts Bitget's spot candle stream, frame shape
// {"arg":{"instId":..,"channel":"candle1m"},"data":[[ts,o,h,l,c,v], ...]}.
type Bitget struct{}

func (Bitget) Name() string  { return "bitget" }
func (Bitget) WSURL() string { return "wss://ws.bitget.com/spot/v1/stream" }

func (Bitget) Subscribe(symbol string, tf event.Timeframe) (any, error) {
	return map[string]any{
		"op":   "subscribe",
		"args": []string{"candle" + string(tf) + ":" + symbol},
	}, nil
}

func (Bitget) Parse(raw map[string]any) (*event.NormalizedEvent, error) {
	return parseCandleArrayFrame("bitget", raw)
}

// RestKlinesURL builds Bitget's public spot candlestick endpoint.
func (Bitget) RestKlinesURL(symbol string, tf event.Timeframe, limit int) string {
	return fmt.Sprintf("https://api.bitget.com/api/v2/spot/market/candles?symbol=%s&granularity=%s&limit=%d", symbol, tf, limit)
}

// ParseRestKlines decodes Bitget's {"data":[[ts,o,h,l,c,v],...]} envelope,
// the same row layout its WS candle stream uses.
func (Bitget) ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	rows, err := restDataRows(decoded)
	if err != nil {
		return nil, err
	}
	return parseArrayKlines("bitget", symbol, tf, rows, orderOHLC)
}
