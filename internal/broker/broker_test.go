package broker

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashKeyDeterministicByKeyFields(t *testing.T) {
	a := hashKey("BTCUSDT", "1m")
	b := hashKey("BTCUSDT", "1m")
	require.True(t, bytes.Equal(a, b))

	c := hashKey("ETHUSDT", "1m")
	require.False(t, bytes.Equal(a, c))
}

func TestMemoryPublisherRecordsPublish(t *testing.T) {
	p := NewMemoryPublisher()
	err := p.Publish(context.Background(), "events.v2", map[string]any{"x": 1}, "BTCUSDT", "1m", map[string]string{"correlation_id": "abc"}, 1700000000000)
	require.NoError(t, err)

	recs := p.Records()
	require.Len(t, recs, 1)
	require.Equal(t, "events.v2", recs[0].Topic)
	require.Equal(t, "BTCUSDT", recs[0].Symbol)
}

func TestMemoryPublisherDLT(t *testing.T) {
	p := NewMemoryPublisher()
	p.ProduceToDLT(context.Background(), "events.v2", []byte(`{"bad":true}`), "schema_invalid", nil)

	recs := p.Records()
	require.Len(t, recs, 1)
	require.Equal(t, "events.v2.DLT", recs[0].Topic)
	require.Equal(t, "schema_invalid", recs[0].DLTReason)
	require.True(t, recs[0].DLT)
}

func TestMemoryPublisherFailureCallback(t *testing.T) {
	p := NewMemoryPublisher()
	var gotTopic string
	var gotErr error
	p.SetOnFailure(func(topic string, err error) {
		gotTopic, gotErr = topic, err
	})
	p.FailTopic("events.v2")

	require.NoError(t, p.Publish(context.Background(), "events.v2", map[string]any{}, "BTCUSDT", "1m", nil, 1))
	require.Equal(t, "events.v2", gotTopic)
	require.Error(t, gotErr)
}
