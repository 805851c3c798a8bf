package signal

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	fail bool
	last *struct {
		topic, symbol, tf string
	}
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, value any, symbol, tf string, headers map[string]string, timestampMs int64) error {
	if f.fail {
		return errors.New("broker down")
	}
	f.last = &struct{ topic, symbol, tf string }{topic, symbol, tf}
	return nil
}
func (f *fakePublisher) ProduceToDLT(ctx context.Context, topic string, raw []byte, reason string, headers map[string]string) {
}
func (f *fakePublisher) QueueLen() int             { return 0 }
func (f *fakePublisher) Flush(ctx context.Context) error { return nil }
func (f *fakePublisher) Close()                    {}

func testRow() Row {
	return Row{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		TsEvent:   1700000000000,
		Close:     100.0,
		ATR:       2.0,
	}
}

func TestSignalIDIsDeterministicAnd16Hex(t *testing.T) {
	id1 := signalID("BTCUSDT", "1m", 1700000000000)
	id2 := signalID("BTCUSDT", "1m", 1700000000000)
	require.Equal(t, id1, id2)
	require.Len(t, id1, 16)

	id3 := signalID("ETHUSDT", "1m", 1700000000000)
	require.NotEqual(t, id1, id3)
}

func TestCalcSLTPLong(t *testing.T) {
	sl, tp, err := calcSLTP(Long, 100, 2, SLTPPolicy{ATRMultiple: 1.5, RRRatio: 2.0})
	require.NoError(t, err)
	require.InDelta(t, 100-3, sl, 1e-9)
	require.InDelta(t, 100+6, tp, 1e-9)
}

func TestCalcSLTPShort(t *testing.T) {
	sl, tp, err := calcSLTP(Short, 100, 2, SLTPPolicy{ATRMultiple: 1.5, RRRatio: 2.0})
	require.NoError(t, err)
	require.InDelta(t, 103, sl, 1e-9)
	require.InDelta(t, 94, tp, 1e-9)
}

func TestCalcSLTPNeutralCollapsesToClose(t *testing.T) {
	sl, tp, err := calcSLTP(Neutral, 100, 2, SLTPPolicy{ATRMultiple: 1.5, RRRatio: 2.0})
	require.NoError(t, err)
	require.InDelta(t, 100, sl, 1e-9)
	require.InDelta(t, 100, tp, 1e-9)
}

func TestCalcSLTPFallsBackToPercentOfCloseWhenATRMissing(t *testing.T) {
	sl, _, err := calcSLTP(Long, 100, math.NaN(), SLTPPolicy{ATRMultiple: 1.0, RRRatio: 2.0})
	require.NoError(t, err)
	require.InDelta(t, 99, sl, 1e-9) // risk = 0.01*100*1.0 = 1
}

func TestAssembleBuildsV2Payload(t *testing.T) {
	e := New(Config{Topic: "signals"}, nil, nil)
	sig, err := e.Assemble(testRow(), 0.8, Long, "linear-v1", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, sig.SchemaVersion)
	require.Len(t, sig.SignalID, 16)
	require.Equal(t, "LONG", sig.Side)
	require.InDelta(t, 0.8, sig.ProbTP, 1e-9)
	require.InDelta(t, 100, sig.Entry, 1e-9)
}

func TestAssembleClampsProbTP(t *testing.T) {
	e := New(Config{}, nil, nil)
	sig, err := e.Assemble(testRow(), 5.0, Long, "linear-v1", nil, nil, nil)
	require.NoError(t, err)
	require.InDelta(t, 1.0, sig.ProbTP, 1e-9)
}

func TestPublishPrefersBroker(t *testing.T) {
	fp := &fakePublisher{}
	e := New(Config{Topic: "signals"}, fp, nil)
	sig, err := e.Assemble(testRow(), 0.6, Long, "linear-v1", nil, nil, nil)
	require.NoError(t, err)

	err = e.Publish(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, fp.last)
	require.Equal(t, "signals", fp.last.topic)
}

func TestPublishFallsBackToFileOnBrokerFailure(t *testing.T) {
	dir := t.TempDir()
	fp := &fakePublisher{fail: true}
	e := New(Config{Topic: "signals", OutDir: dir}, fp, nil)
	sig, err := e.Assemble(testRow(), 0.6, Long, "linear-v1", nil, nil, nil)
	require.NoError(t, err)

	err = e.Publish(context.Background(), sig)
	require.NoError(t, err)

	path := filepath.Join(dir, "signals.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Signal
	require.NoError(t, json.Unmarshal(data[:len(data)-1], &got))
	require.Equal(t, sig.SignalID, got.SignalID)
}

func TestPublishWithNilPublisherWritesFile(t *testing.T) {
	dir := t.TempDir()
	e := New(Config{Topic: "signals", OutDir: dir}, nil, nil)
	sig, err := e.Assemble(testRow(), 0.6, Short, "linear-v1", nil, nil, nil)
	require.NoError(t, err)

	err = e.Publish(context.Background(), sig)
	require.NoError(t, err)

	path := filepath.Join(dir, "signals.jsonl")
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestConfigDefaults(t *testing.T) {
	e := New(Config{}, nil, nil)
	require.Equal(t, "signals", e.cfg.Topic)
	require.Equal(t, "./signals-out", e.cfg.OutDir)
	require.InDelta(t, 1.5, e.cfg.SLTP.ATRMultiple, 1e-9)
	require.InDelta(t, 2.0, e.cfg.SLTP.RRRatio, 1e-9)
}
