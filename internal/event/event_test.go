package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCorrelationIDDeterministic(t *testing.T) {
	id1 := CorrelationID("BTCUSDT", TypeOHLCV, 1_700_000_000_000)
	id2 := CorrelationID("BTCUSDT", TypeOHLCV, 1_700_000_000_000)
	require.Equal(t, id1, id2)
	require.Len(t, id1, 64)

	other := CorrelationID("ETHUSDT", TypeOHLCV, 1_700_000_000_000)
	require.NotEqual(t, id1, other)
}

func TestOHLCVValid(t *testing.T) {
	require.True(t, OHLCV{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}.Valid())
	require.False(t, OHLCV{Open: 1, High: 1, Low: 2, Close: 1, Volume: 0}.Valid(), "low > high")
	require.False(t, OHLCV{Open: -1, High: 2, Low: 0, Close: 1, Volume: 1}.Valid(), "negative open")
}

func TestValidateRequiresMatchingCorrelationID(t *testing.T) {
	e := &NormalizedEvent{
		V: SchemaVersion, Source: "binance", EventType: TypeOHLCV,
		Symbol: "BTCUSDT", TF: TF1m, TsEvent: 1700000000000, IngestTs: 1700000000100,
		CorrelationID: "deadbeef",
		Candle:        &OHLCV{Open: 1, High: 2, Low: 1, Close: 1.5, Volume: 1},
	}
	ok, reason := e.Validate()
	require.False(t, ok)
	require.Equal(t, "schema_invalid", reason)

	e.CorrelationID = CorrelationID(e.Symbol, e.EventType, e.TsEvent)
	ok, _ = e.Validate()
	require.True(t, ok)
}

func TestValidateRejectsBadOHLCV(t *testing.T) {
	e := &NormalizedEvent{
		V: SchemaVersion, Source: "binance", EventType: TypeOHLCV,
		Symbol: "BTCUSDT", TsEvent: 1700000000000,
		Candle: &OHLCV{Open: 1, High: 1, Low: 2, Close: 1, Volume: 0},
	}
	e.CorrelationID = CorrelationID(e.Symbol, e.EventType, e.TsEvent)
	ok, reason := e.Validate()
	require.False(t, ok)
	require.Equal(t, "schema_invalid", reason)
}

func TestMarshalUnmarshalRoundTripsCandleThroughPayload(t *testing.T) {
	e := &NormalizedEvent{
		V: SchemaVersion, Source: "binance", EventType: TypeOHLCV,
		Symbol: "BTCUSDT", TF: TF1m, TsEvent: 1700000000000, IngestTs: 1700000000100,
		Candle: &OHLCV{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	}
	e.CorrelationID = CorrelationID(e.Symbol, e.EventType, e.TsEvent)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	require.Contains(t, string(data), `"o":1`)
	require.NotContains(t, string(data), `"candle"`)

	var got NormalizedEvent
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, *e.Candle, *got.Candle)
	require.Equal(t, e.CorrelationID, got.CorrelationID)
	ok, _ := got.Validate()
	require.True(t, ok)
}

func TestClampIngestSkew(t *testing.T) {
	require.Equal(t, int64(0), ClampIngestSkew(99, 100))
	require.Equal(t, int64(5), ClampIngestSkew(105, 100))
}
