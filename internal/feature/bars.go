package feature

import (
	"fmt"
	"sort"
	"time"
)

// Row is one canonicalized OHLCV record plus whatever indicator columns have
// been computed onto it so far. Mirrors state.Row's map[string]any shape so
// StateManager window output feeds directly into FeatureEngine.Compute.
type Row map[string]any

// Bars is the column-oriented view FeatureEngine hands to each indicator:
// parallel slices extracted from a canonicalized []Row, so indicator code
// works against plain []float64 rather than re-walking maps per column.
type Bars struct {
	Symbol    string
	Timeframe string
	TsEvent   []int64 // ms since epoch, UTC
	Open      []float64
	High      []float64
	Low       []float64
	Close     []float64
	Volume    []float64
}

func (b *Bars) Len() int { return len(b.Close) }

// requiredColumns lists the input columns §4.10 requires on every row.
// Uses "tf" (not "timeframe") to match state.Row's key convention, since
// StateManager window output is FeatureEngine's primary input.
var requiredColumns = []string{"symbol", "tf", "ts_event", "open", "high", "low", "close", "volume"}

func missingColumns(rows []Row) []string {
	if len(rows) == 0 {
		return requiredColumns
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := rows[0][col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// canonicalize stable-sorts a copy of rows by (symbol, timeframe, ts_event),
// comparing ts_event as int64 ms, per §4.10 step 1. It does not rewrite the
// rows' ts_event values; toBars does that coercion.
func canonicalize(rows []Row) ([]Row, error) {
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := asString(out[i]["symbol"]), asString(out[j]["symbol"])
		if si != sj {
			return si < sj
		}
		ti, tj := asString(out[i]["tf"]), asString(out[j]["tf"])
		if ti != tj {
			return ti < tj
		}
		return asMillis(out[i]["ts_event"]) < asMillis(out[j]["ts_event"])
	})
	return out, nil
}

// toBars extracts the OHLCV columns from a canonicalized, single-(symbol,tf)
// row slice into parallel arrays.
func toBars(rows []Row) (*Bars, error) {
	if len(rows) == 0 {
		return &Bars{}, nil
	}
	b := &Bars{
		Symbol:    asString(rows[0]["symbol"]),
		Timeframe: asString(rows[0]["tf"]),
		TsEvent:   make([]int64, len(rows)),
		Open:      make([]float64, len(rows)),
		High:      make([]float64, len(rows)),
		Low:       make([]float64, len(rows)),
		Close:     make([]float64, len(rows)),
		Volume:    make([]float64, len(rows)),
	}
	for i, r := range rows {
		b.TsEvent[i] = asMillis(r["ts_event"])
		b.Open[i] = asFloat(r["open"])
		b.High[i] = asFloat(r["high"])
		b.Low[i] = asFloat(r["low"])
		b.Close[i] = asFloat(r["close"])
		b.Volume[i] = asFloat(r["volume"])
	}
	return b, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

// asMillis accepts either an int64 ms value or a time.Time and returns UTC
// milliseconds since epoch, matching the Python original's
// pd.to_datetime(..., utc=True) coercion.
func asMillis(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case time.Time:
		return t.UTC().UnixMilli()
	default:
		return 0
	}
}

func errMissingColumns(missing []string) error {
	return fmt.Errorf("missing required columns: %v", missing)
}
