package wsconsumer

import (
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/mdingest/internal/adapter"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 20*time.Second, cfg.PingInterval)
	require.Equal(t, 30*time.Second, cfg.PongTimeout)
	require.Equal(t, time.Second, cfg.BackoffInitial)
	require.Equal(t, 60*time.Second, cfg.BackoffMax)
	require.Equal(t, 2.0, cfg.BackoffFactor)
}

func TestVerifyPinDisabledWhenNoPinConfigured(t *testing.T) {
	c := New(Config{Source: "binance"}, adapter.Binance{}, zerolog.Nop())
	client, _ := net.Pipe()
	defer client.Close()
	require.NoError(t, c.verifyPin(client))
}

func TestVerifyPinRejectsNonTLSConn(t *testing.T) {
	c := New(Config{Source: "binance", TLSPinSHA256: "deadbeef"}, adapter.Binance{}, zerolog.Nop())
	client, _ := net.Pipe()
	defer client.Close()
	require.Error(t, c.verifyPin(client))
}

func TestHandleFrameParsesDataFrameAndEmitsEvent(t *testing.T) {
	c := New(Config{Source: "binance"}, adapter.Binance{}, zerolog.Nop())
	frame := []byte(`{"s":"BTCUSDT","k":{"i":"1m","o":"100","h":"101","l":"99","c":"100.5","v":"5","t":1700000000000}}`)

	c.handleFrame(ws.OpText, frame)

	select {
	case ne := <-c.events:
		require.Equal(t, "BTCUSDT", ne.Symbol)
		require.Equal(t, "binance", ne.Source)
		require.NotZero(t, ne.IngestTs)
	case <-time.After(time.Second):
		t.Fatal("expected an event to be emitted")
	}
}

func TestHandleFrameIgnoresBinaryFrames(t *testing.T) {
	c := New(Config{Source: "binance"}, adapter.Binance{}, zerolog.Nop())
	c.handleFrame(ws.OpBinary, []byte{0x01, 0x02})

	select {
	case <-c.events:
		t.Fatal("binary frame should not produce an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleFrameReportsInvalidJSON(t *testing.T) {
	c := New(Config{Source: "binance"}, adapter.Binance{}, zerolog.Nop())
	c.handleFrame(ws.OpText, []byte(`{not json`))

	select {
	case err := <-c.errs:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected a reported error for invalid JSON")
	}
}

func TestHandleFrameSkipsNonDataFrame(t *testing.T) {
	c := New(Config{Source: "binance"}, adapter.Binance{}, zerolog.Nop())
	c.handleFrame(ws.OpText, []byte(`{"result":null,"id":1}`))

	select {
	case <-c.events:
		t.Fatal("ack frame should not produce an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllBatchesWrites(t *testing.T) {
	streams := make([]Stream, SubscribeBatchSize+3)
	for i := range streams {
		streams[i] = Stream{Symbol: "BTCUSDT", TF: "1m"}
	}
	c := New(Config{Source: "binance", Streams: streams}, adapter.Binance{}, zerolog.Nop())

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// Drain the server side continuously so subscribeAll's writes over
	// the unbuffered pipe never block.
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		buf := make([]byte, 4096)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- c.subscribeAll(client) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribeAll did not complete in time")
	}
	client.Close()
	server.Close()
	<-drainDone
}
