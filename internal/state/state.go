// Package state implements the StateManager (C9): per-(symbol, timeframe)
// sliding/tumbling window buffers over feature rows, plus stream-offset
// commit/read backed by internal/kvstore. Grounded on
// original_source/features/state_manager.py's SeriesState/StateManager.
package state

import (
	"fmt"
	"sync"

	"github.com/adred-codev/mdingest/internal/kvstore"
)

// WindowMode selects how a configured stream emits its buffered rows.
type WindowMode string

const (
	// Sliding always returns the full current window on every update.
	Sliding WindowMode = "sliding"
	// Tumbling accumulates until `slide` updates have landed and the
	// buffer has reached its target window length, then emits and clears.
	Tumbling WindowMode = "tumbling"
)

// Row is one feature/candle record; callers key it by symbol/timeframe
// themselves via ConfigureStream, but each row is expected to carry its own
// "symbol"/"tf"/"ts_event" keys for downstream consumers.
type Row map[string]any

// seriesState is the ring-buffer-like backing store for one configured
// stream. Unlike a fixed-capacity ring buffer, the window length is
// entirely determined by maxlen via a simple drop-oldest policy, mirroring
// the original's collections.deque(maxlen=...).
type seriesState struct {
	maxlen         int
	buffer         []Row
	countSinceEmit int
}

func (s *seriesState) append(row Row) {
	s.buffer = append(s.buffer, row)
	if s.maxlen > 0 && len(s.buffer) > s.maxlen {
		s.buffer = s.buffer[len(s.buffer)-s.maxlen:]
	}
}

func (s *seriesState) snapshot() []Row {
	out := make([]Row, len(s.buffer))
	copy(out, s.buffer)
	return out
}

type key struct {
	symbol string
	tf     string
}

// Manager holds window state for every configured (symbol, tf) stream and
// commits/reads processing offsets through a kvstore.Store.
type Manager struct {
	mu     sync.Mutex
	states map[key]*seriesState
	modes  map[key]WindowMode
	slide  map[key]int
	kv     *kvstore.Store
}

// New constructs an empty Manager. kv may be nil, in which case
// CommitOffset/ReadOffset return an error when called (offsets are optional
// for callers that never restart, e.g. tests).
func New(kv *kvstore.Store) *Manager {
	return &Manager{
		states: map[key]*seriesState{},
		modes:  map[key]WindowMode{},
		slide:  map[key]int{},
		kv:     kv,
	}
}

// ConfigureStream registers (or re-registers) a window for (symbol, tf).
// window is the buffer's target length (sliding window size, or tumbling
// emit size); slide is the number of updates between tumbling emissions
// (ignored in sliding mode) and is clamped to at least 1.
func (m *Manager) ConfigureStream(symbol, tf string, window int, mode WindowMode, slide int) {
	if slide < 1 {
		slide = 1
	}
	k := key{symbol, tf}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[k] = &seriesState{maxlen: window}
	m.modes[k] = mode
	m.slide[k] = slide
}

// Update appends row to its configured stream's buffer and returns the
// window to emit, if any. In sliding mode every call returns the current
// window. In tumbling mode, a window is returned (and the buffer cleared)
// only once `slide` updates have landed since the last emit and the buffer
// has reached its target length.
func (m *Manager) Update(symbol, tf string, row Row) ([]Row, error) {
	k := key{symbol, tf}
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[k]
	if !ok {
		return nil, fmt.Errorf("unconfigured stream for symbol=%s tf=%s: call ConfigureStream first", symbol, tf)
	}
	mode := m.modes[k]
	slide := m.slide[k]
	st.append(row)

	switch mode {
	case Tumbling:
		st.countSinceEmit++
		if st.countSinceEmit >= slide && len(st.buffer) >= st.maxlen {
			st.countSinceEmit = 0
			frame := st.snapshot()
			st.buffer = st.buffer[:0]
			return frame, nil
		}
		return nil, nil
	default: // Sliding
		return st.snapshot(), nil
	}
}

// CommitOffset persists the last processed ts_event for a stream.
func (m *Manager) CommitOffset(stream string, ts int64) error {
	if m.kv == nil {
		return fmt.Errorf("state manager has no kvstore configured")
	}
	return m.kv.CommitOffset(stream, ts)
}

// ReadOffset returns the last committed ts_event for a stream.
func (m *Manager) ReadOffset(stream string) (int64, bool, error) {
	if m.kv == nil {
		return 0, false, fmt.Errorf("state manager has no kvstore configured")
	}
	return m.kv.ReadOffset(stream)
}
