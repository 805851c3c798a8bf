package adapter

import (
	"fmt"
	"strings"

	"github.com/adred-codev/mdingest/internal/event"
)

// Kucoin adapts KuCoin's market/candles topic push, frame shape
// {"subject":symbol,"topic":"/market/candles:SYM_1min","data":[ts,open,close,high,low,volume,...]}.
type Kucoin struct{}

func (Kucoin) Name() string  { return "kucoin" }
func (Kucoin) WSURL() string { return "wss://ws-api-spot.kucoin.com/" }

func (Kucoin) Subscribe(symbol string, tf event.Timeframe) (any, error) {
	return map[string]any{
		"id":    1,
		"type":  "subscribe",
		"topic": "/market/candles:" + symbol + "_" + string(tf),
	}, nil
}

func (Kucoin) Parse(raw map[string]any) (*event.NormalizedEvent, error) {
	dataRaw, ok := raw["data"]
	if !ok {
		return nil, nil
	}
	row, err := asSlice(dataRaw)
	if err != nil || len(row) < 6 {
		return nil, err
	}

	symbol, _ := raw["subject"].(string)
	topic, _ := raw["topic"].(string)
	tf := tfFromKucoinTopic(topic)

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
	return normalize("kucoin", symbol, event.Timeframe(tf), ts, o, h, l, c, v)
}

// RestKlinesURL builds KuCoin's public candles endpoint. KuCoin's REST API
// takes a start/end range rather than a limit; limit is approximated by
// leaving the range open, matching the historical-gap-fill use case where
// the caller reads as far back as the venue will serve.
func (Kucoin) RestKlinesURL(symbol string, tf event.Timeframe, limit int) string {
	return fmt.Sprintf("https://api.kucoin.com/api/v1/market/candles?symbol=%s&type=%s", symbol, tf)
}

// ParseRestKlines decodes KuCoin's {"data":[[time,open,close,high,low,volume,turnover],...]}
// envelope, the same open-close-high-low row order as its WS push.
func (Kucoin) ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	rows, err := restDataRows(decoded)
	if err != nil {
		return nil, err
	}
	return parseArrayKlines("kucoin", symbol, tf, rows, orderOCHL)
}

// tfFromKucoinTopic extracts the "1min"-style suffix from
// "/market/candles:BTC-USDT_1min".
func tfFromKucoinTopic(topic string) string {
	idx := strings.LastIndex(topic, "_")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
