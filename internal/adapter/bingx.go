package adapter

import (
	"fmt"

	"github.com/adred-codev/mdingest/internal/event"
)

// Bingx adapts BingX's kline stream, frame shape identical to Binance's
// ({"s":..,"k":{"i":..}}) but served off BingX's own endpoint.
type Bingx struct{}

func (Bingx) Name() string  { return "bingx" }
func (Bingx) WSURL() string { return "wss://open-api-ws.bingx.com/market" }

func (Bingx) Subscribe(symbol string, tf event.Timeframe) (any, error) {
	return map[string]any{
		"id":     1,
		"method": "SUBSCRIBE",
		"params": []string{lowerSymbol(symbol) + "@kline_" + string(tf)},
	}, nil
}

func (Bingx) Parse(raw map[string]any) (*event.NormalizedEvent, error) {
	kRaw, ok := raw["k"]
	if !ok {
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
	return normalize("bingx", symbol, event.Timeframe(tf), ts, o, h, l, c, v)
}

// RestKlinesURL builds BingX's public spot kline endpoint.
func (Bingx) RestKlinesURL(symbol string, tf event.Timeframe, limit int) string {
	return fmt.Sprintf("https://open-api.bingx.com/openApi/spot/v2/market/kline?symbol=%s&interval=%s&limit=%d", symbol, tf, limit)
}

// ParseRestKlines decodes BingX's {"data":[[ts,o,h,l,c,v],...]} envelope.
func (Bingx) ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	rows, err := restDataRows(decoded)
	if err != nil {
		return nil, err
	}
	return parseArrayKlines("bingx", symbol, tf, rows, orderOHLC)
}
