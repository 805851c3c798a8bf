package adapter

import (
	"fmt"

	"github.com/adred-codev/mdingest/internal/event"
)

// Coinex adapts CoinEx's kline.update notification, frame shape
// {"method":"kline.update","params":[symbol, tf, [ts,open,close,high,low,volume]]}.
// Note the data-row field order: close precedes high/low, unlike the
// OKX/Bitget array shape.
type Coinex struct{}

func (Coinex) Name() string  { return "coinex" }
func (Coinex) WSURL() string { return "wss://socket.coinex.com/" }

func (Coinex) Subscribe(symbol string, tf event.Timeframe) (any, error) {
	return map[string]any{
		"method": "kline.subscribe",
		"params": []string{symbol, string(tf)},
		"id":     1,
	}, nil
}

func (Coinex) Parse(raw map[string]any) (*event.NormalizedEvent, error) {
	paramsRaw, ok := raw["params"]
	if !ok {
		return nil, nil
	}
	params, err := asSlice(paramsRaw)
	if err != nil || len(params) < 3 {
		// Subscription ack echoes back [symbol, tf] with no data row.
		return nil, nil
	}
	symbol, _ := params[0].(string)
	tf, _ := params[1].(string)

	row, err := asSlice(params[2])
	if err != nil || len(row) < 6 {
		return nil, err
	}

	ts, err := asInt64(row[0])
	if err != nil {
		return nil, err
	}
	o, err := asFloat(row[1])
	if err != nil {
		return nil, err
	}
	c, err := asFloat(row[2])
	if err != nil {
		return nil, err
	}
	h, err := asFloat(row[3])
	if err != nil {
		return nil, err
	}
	l, err := asFloat(row[4])
	if err != nil {
		return nil, err
	}
	v, err := asFloat(row[5])
	if err != nil {
		return nil, err
	}
	return normalize("coinex", symbol, event.Timeframe(tf), ts, o, h, l, c, v)
}

// RestKlinesURL builds CoinEx's public kline endpoint.
func (Coinex) RestKlinesURL(symbol string, tf event.Timeframe, limit int) string {
	return fmt.Sprintf("https://api.coinex.com/v2/spot/kline?market=%s&period=%s&limit=%d", symbol, tf, limit)
}

// ParseRestKlines decodes CoinEx's {"data":[[ts,open,close,high,low,volume],...]}
// envelope, the same open-close-high-low row order as its WS push.
func (Coinex) ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	rows, err := restDataRows(decoded)
	if err != nil {
		return nil, err
	}
	return parseArrayKlines("coinex", symbol, tf, rows, orderOCHL)
}
