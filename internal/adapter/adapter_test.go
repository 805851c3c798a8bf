package adapter

import (
	"encoding/json"
	"testing"

	"github.com/adred-codev/mdingest/internal/event"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolvesBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"binance", "bybit", "bingx", "bitget", "coinex", "kucoin", "okx"} {
		a, ok := r.Get(name)
		require.True(t, ok, name)
		require.Equal(t, name, a.Name())
		require.NotEmpty(t, a.WSURL())
	}
}

func TestBinanceParse(t *testing.T) {
	frame := map[string]any{
		"s": "BTCUSDT",
		"k": map[string]any{
			"i": "1m", "o": "100.5", "h": "101", "l": "99.5", "c": "100.8", "v": "12.3", "t": float64(1700000000000),
		},
	}
	ne, err := Binance{}.Parse(frame)
	require.NoError(t, err)
	require.NotNil(t, ne)
	require.Equal(t, "BTCUSDT", ne.Symbol)
	require.Equal(t, event.Timeframe("1m"), ne.TF)
	require.Equal(t, 100.5, ne.Candle.Open)
	require.Equal(t, int64(1700000000000), ne.TsEvent)
	require.Equal(t, event.CorrelationID("BTCUSDT", event.TypeOHLCV, 1700000000000), ne.CorrelationID)
}

func TestBinanceParseNonDataFrame(t *testing.T) {
	ne, err := Binance{}.Parse(map[string]any{"result": nil, "id": float64(1)})
	require.NoError(t, err)
	require.Nil(t, ne)
}

func TestBybitParse(t *testing.T) {
	frame := map[string]any{
		"data": []any{
			map[string]any{"symbol": "BTCUSDT", "interval": "1", "open": "100", "high": "110", "low": "90", "close": "105", "volume": "5", "start": float64(1700000000000)},
		},
	}
	ne, err := Bybit{}.Parse(frame)
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", ne.Symbol)
	require.Equal(t, 110.0, ne.Candle.High)
}

func TestBitgetAndOKXParseCandleArray(t *testing.T) {
	frame := map[string]any{
		"arg":  map[string]any{"instId": "BTCUSDT", "channel": "candle1m"},
		"data": []any{[]any{float64(1700000000000), "100", "110", "90", "105", "5"}},
	}
	for _, a := range []Adapter{Bitget{}, OKX{}} {
		ne, err := a.Parse(frame)
		require.NoError(t, err, a.Name())
		require.Equal(t, "BTCUSDT", ne.Symbol, a.Name())
		require.Equal(t, event.Timeframe("1m"), ne.TF, a.Name())
		require.Equal(t, 100.0, ne.Candle.Open, a.Name())
		require.Equal(t, 110.0, ne.Candle.High, a.Name())
		require.Equal(t, 90.0, ne.Candle.Low, a.Name())
		require.Equal(t, 105.0, ne.Candle.Close, a.Name())
	}
}

func TestCoinexParse(t *testing.T) {
	frame := map[string]any{
		"params": []any{
			"BTCUSDT", "1min",
			[]any{float64(1700000000000), "100", "105", "110", "90", "5"},
		},
	}
	ne, err := Coinex{}.Parse(frame)
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", ne.Symbol)
	require.Equal(t, event.Timeframe("1min"), ne.TF)
	require.Equal(t, 100.0, ne.Candle.Open)
	require.Equal(t, 105.0, ne.Candle.Close)
	require.Equal(t, 110.0, ne.Candle.High)
	require.Equal(t, 90.0, ne.Candle.Low)
}

func TestCoinexParseSubscribeAck(t *testing.T) {
	ne, err := Coinex{}.Parse(map[string]any{"params": []any{"BTCUSDT", "1min"}})
	require.NoError(t, err)
	require.Nil(t, ne)
}

func TestKucoinParse(t *testing.T) {
	frame := map[string]any{
		"subject": "BTCUSDT",
		"topic":   "/market/candles:BTC-USDT_1min",
		"data":    []any{float64(1700000000000), "100", "105", "110", "90", "5"},
	}
	ne, err := Kucoin{}.Parse(frame)
	require.NoError(t, err)
	require.Equal(t, "BTCUSDT", ne.Symbol)
	require.Equal(t, event.Timeframe("1min"), ne.TF)
	require.Equal(t, 105.0, ne.Candle.Close)
}

func TestBinanceParseRestKlines(t *testing.T) {
	require.Contains(t, Binance{}.RestKlinesURL("BTCUSDT", "1m", 50), "limit=50")

	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`[[1700000000000,"100","110","90","105","5"]]`), &decoded))
	events, err := Binance{}.ParseRestKlines(decoded, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 100.0, events[0].Candle.Open)
	require.Equal(t, 110.0, events[0].Candle.High)
	require.Equal(t, 90.0, events[0].Candle.Low)
	require.Equal(t, 105.0, events[0].Candle.Close)
}

func TestBitgetParseRestKlines(t *testing.T) {
	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`{"data":[[1700000000000,"100","110","90","105","5"]]}`), &decoded))
	events, err := Bitget{}.ParseRestKlines(decoded, "BTCUSDT", "1m")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "bitget", events[0].Source)
}

func TestBybitParseRestKlines(t *testing.T) {
	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`{"result":{"list":[[1700000000000,"100","110","90","105","5","0"]]}}`), &decoded))
	events, err := Bybit{}.ParseRestKlines(decoded, "BTCUSDT", "1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 110.0, events[0].Candle.High)
}

func TestCoinexParseRestKlinesUsesOCHLOrder(t *testing.T) {
	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`{"data":[[1700000000000,"100","105","110","90","5"]]}`), &decoded))
	events, err := Coinex{}.ParseRestKlines(decoded, "BTCUSDT", "1min")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, 100.0, events[0].Candle.Open)
	require.Equal(t, 105.0, events[0].Candle.Close)
	require.Equal(t, 110.0, events[0].Candle.High)
	require.Equal(t, 90.0, events[0].Candle.Low)
}

func TestAllAdaptersImplementRestKlines(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"binance", "bybit", "bingx", "bitget", "coinex", "kucoin", "okx"} {
		a, _ := r.Get(name)
		require.NotEmpty(t, a.RestKlinesURL("BTCUSDT", event.TF1m, 10), name)
	}
}

func TestAllAdaptersSubscribePayload(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"binance", "bybit", "bingx", "bitget", "coinex", "kucoin", "okx"} {
		a, _ := r.Get(name)
		msg, err := a.Subscribe("BTCUSDT", event.TF1m)
		require.NoError(t, err, name)
		require.NotNil(t, msg, name)
	}
}
