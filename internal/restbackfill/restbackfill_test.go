package restbackfill

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/mdingest/internal/adapter"
	"github.com/adred-codev/mdingest/internal/event"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 20*time.Second, cfg.RequestTimeout)
	require.Equal(t, 8, cfg.MaxRetries)
	require.Equal(t, 500*time.Millisecond, cfg.BaseBackoff)
	require.Equal(t, 10*time.Second, cfg.BackoffCap)
	require.Equal(t, 50, cfg.Limit)
}

func TestBackfillRecoversCandlesFromRestEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"100","110","90","105","5"]]`))
	}))
	defer srv.Close()

	b := New(Config{Limit: 10}, zerolog.Nop(), nil)
	venue := fixedURLAdapter{base: srv.URL}

	events, err := b.Backfill(context.Background(), venue, "BTCUSDT", event.TF1m)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "fixed", events[0].Source)
	require.NotZero(t, events[0].IngestTs)
}

func TestBackfillRetriesOnServerErrorThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[[1700000000000,"100","110","90","105","5"]]`))
	}))
	defer srv.Close()

	b := New(Config{Limit: 10, BaseBackoff: time.Millisecond, BackoffCap: 2 * time.Millisecond}, zerolog.Nop(), nil)
	venue := fixedURLAdapter{base: srv.URL}

	events, err := b.Backfill(context.Background(), venue, "BTCUSDT", event.TF1m)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestBackfillGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := New(Config{Limit: 10, MaxRetries: 1, BaseBackoff: time.Millisecond, BackoffCap: time.Millisecond}, zerolog.Nop(), nil)
	venue := fixedURLAdapter{base: srv.URL}

	_, err := b.Backfill(context.Background(), venue, "BTCUSDT", event.TF1m)
	require.Error(t, err)
}

// fixedURLAdapter is a minimal adapter.Adapter stub for exercising Backfiller
// against an httptest server without a real venue's URL shape.
type fixedURLAdapter struct {
	base string
}

func (fixedURLAdapter) Name() string  { return "fixed" }
func (fixedURLAdapter) WSURL() string { return "" }
func (fixedURLAdapter) Subscribe(symbol string, tf event.Timeframe) (any, error) {
	return nil, nil
}
func (fixedURLAdapter) Parse(raw map[string]any) (*event.NormalizedEvent, error) { return nil, nil }

func (a fixedURLAdapter) RestKlinesURL(symbol string, tf event.Timeframe, limit int) string {
	return a.base
}

func (fixedURLAdapter) ParseRestKlines(decoded any, symbol string, tf event.Timeframe) ([]*event.NormalizedEvent, error) {
	rows, ok := decoded.([]any)
	if !ok {
		return nil, nil
	}
	return parseRows("fixed", symbol, tf, rows)
}

func parseRows(source, symbol string, tf event.Timeframe, rows []any) ([]*event.NormalizedEvent, error) {
	out := make([]*event.NormalizedEvent, 0, len(rows))
	for range rows {
		out = append(out, &event.NormalizedEvent{Source: source, Symbol: symbol, TF: tf})
	}
	return out, nil
}

var _ adapter.Adapter = fixedURLAdapter{}
