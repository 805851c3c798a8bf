package broker

import (
	"context"
	"encoding/json"
	"sync"
)

// Record captures one call to Publish or ProduceToDLT, for test assertions
// and for the JSONL-file-fallback sinks that reuse this shape.
type Record struct {
	Topic       string
	Value       json.RawMessage
	Symbol, TF  string
	Headers     map[string]string
	TimestampMs int64
	DLT         bool
	DLTReason   string
}

// MemoryPublisher is an in-process Publisher used by tests and by
// single-process deployments that don't need a real broker. Publish
// returns an error only when the value cannot be marshaled; topics marked
// with FailTopic report a simulated delivery failure through the failure
// callback instead. QueueLen() always returns -1 (no local queue), and
// every record is captured for inspection.
type MemoryPublisher struct {
	mu       sync.Mutex
	records  []Record
	failTopic map[string]bool
	onFailure FailureFunc
}

// NewMemoryPublisher constructs an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{failTopic: map[string]bool{}}
}

// FailTopic makes every subsequent Publish to the given topic report an
// async delivery failure via onFailure, simulating a broker-side reject.
func (m *MemoryPublisher) FailTopic(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTopic[topic] = true
}

// SetOnFailure installs the failure callback Publish invokes for
// simulated failures.
func (m *MemoryPublisher) SetOnFailure(f FailureFunc) { m.onFailure = f }

func (m *MemoryPublisher) Publish(_ context.Context, topic string, value any, symbol, tf string, headers map[string]string, timestampMs int64) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	fail := m.failTopic[topic]
	m.records = append(m.records, Record{Topic: topic, Value: body, Symbol: symbol, TF: tf, Headers: headers, TimestampMs: timestampMs})
	m.mu.Unlock()

	if fail && m.onFailure != nil {
		m.onFailure(topic, errFakeDelivery)
	}
	return nil
}

var errFakeDelivery = fakeErr("simulated delivery failure")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func (m *MemoryPublisher) ProduceToDLT(_ context.Context, topic string, raw []byte, reason string, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, Record{Topic: topic + DLTSuffix, Value: raw, Headers: headers, DLT: true, DLTReason: reason})
}

func (m *MemoryPublisher) QueueLen() int { return -1 }

func (m *MemoryPublisher) Flush(_ context.Context) error { return nil }

func (m *MemoryPublisher) Close() {}

// Records returns a snapshot copy of every captured record.
func (m *MemoryPublisher) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
