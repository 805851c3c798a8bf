package feature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/adred-codev/mdingest/internal/config"
	"github.com/adred-codev/mdingest/internal/schema"
	"github.com/adred-codev/mdingest/internal/telemetry"
)

// computeCodeHash ports _stable_code_hash()'s intent (§4.10's "code_hash"
// contract: a row's feature_hash binds the values to the exact code that
// produced them) without hashing source file bytes, which Go has no stable
// runtime handle on: a sha256 over the canonical JSON of the configured
// indicator names and parameters, so any change to which indicators run or
// how they're parameterized changes every row's feature_hash it touches.
func computeCodeHash(indicators []IndicatorSpec) string {
	b, _ := json.Marshal(indicators)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// IndicatorSpec is one configured indicator: its registry name (matching the
// INDICATOR_FUNCS keys the original uses: "ichimoku", "adx",
// "stochastic_rsi", "atr", "vwap", "obv") and its free-form parameters.
type IndicatorSpec struct {
	Name   string
	Params map[string]any
}

// EngineConfig configures an Engine: which indicators to compute, in order,
// and the quality-control thresholds applied to every output column.
type EngineConfig struct {
	Indicators []IndicatorSpec
	Quality    QualityParams
}

// Engine is FeatureEngine (C10): canonicalize -> compute indicators -> QC ->
// hash -> schema-validate. Grounded on
// original_source/features/feature_engine.py's FeatureEngine.compute().
type Engine struct {
	cfg      EngineConfig
	schemas  *schema.Registry
	metrics  *telemetry.Registry
	codeHash string
}

// NewEngine constructs an Engine. schemas and metrics may both be nil
// (metrics become no-ops; schema validation is skipped). codeHash is
// derived once from cfg.Indicators, not recomputed per row.
func NewEngine(cfg EngineConfig, schemas *schema.Registry, metrics *telemetry.Registry) *Engine {
	return &Engine{cfg: cfg, schemas: schemas, metrics: metrics, codeHash: computeCodeHash(cfg.Indicators)}
}

// SpecsFromConfig adapts the YAML-driven config.IndicatorConfig list (§6.4)
// into the IndicatorSpec list Engine expects.
func SpecsFromConfig(cfgs []config.IndicatorConfig) []IndicatorSpec {
	out := make([]IndicatorSpec, len(cfgs))
	for i, c := range cfgs {
		out[i] = IndicatorSpec{Name: c.Name, Params: c.Params}
	}
	return out
}

// FeatureRow is one computed, QC'd, hashed output record: the input's key
// columns plus every namespaced indicator column and the content hash that
// binds them together.
type FeatureRow struct {
	Symbol      string
	Timeframe   string
	TsEvent     int64
	Indicators  map[string]float64
	FeatureHash string
}

// featuresSchemaKey is the (name, version) this package registers against
// schema.Registry, mirroring FEATURE_SCHEMA_NAME/FEATURE_SCHEMA_V.
var featuresSchemaKey = schema.Key{Name: "features", Version: 2}

// Compute runs the full pipeline over one (symbol, timeframe) window of
// rows. Rows spanning more than one (symbol, tf) pair are canonicalized
// together but indicators are computed per-bar across the whole input, so
// callers should pass one series at a time (as StateManager.Update does).
func (e *Engine) Compute(rows []Row) ([]FeatureRow, []QualityReport, error) {
	start := time.Now()
	if missing := missingColumns(rows); len(missing) > 0 {
		return nil, nil, errMissingColumns(missing)
	}

	canon, err := canonicalize(rows)
	if err != nil {
		return nil, nil, err
	}
	bars, err := toBars(canon)
	if err != nil {
		return nil, nil, err
	}

	raw := map[string][]float64{}
	for _, spec := range e.cfg.Indicators {
		cols, err := computeIndicator(spec.Name, bars, spec.Params)
		if err != nil {
			e.observe("error", 0, time.Since(start))
			return nil, nil, fmt.Errorf("compute indicator %s: %w", spec.Name, err)
		}
		for col, series := range cols {
			name := col
			if !hasPrefix(name, spec.Name) {
				name = spec.Name + "_" + col
			}
			if _, dup := raw[name]; dup {
				return nil, nil, fmt.Errorf("duplicate feature column after namespacing: %s", name)
			}
			raw[name] = series
		}
	}

	featureCols := sortedKeys(raw)
	cleaned := map[string][]float64{}
	reports := make([]QualityReport, 0, len(featureCols))
	for _, col := range featureCols {
		repaired, report := RunQuality(col, raw[col], e.cfg.Quality)
		cleaned[col] = repaired
		reports = append(reports, report)
		if e.metrics != nil && e.metrics.FeatureInvalidRate != nil {
			e.metrics.FeatureInvalidRate.WithLabelValues(col).Set(report.InvalidRate())
		}
	}

	n := bars.Len()
	out := make([]FeatureRow, n)
	for i := 0; i < n; i++ {
		indicators := make(map[string]float64, len(featureCols))
		for _, col := range featureCols {
			indicators[col] = cleaned[col][i]
		}
		row := FeatureRow{
			Symbol:     bars.Symbol,
			Timeframe:  bars.Timeframe,
			TsEvent:    bars.TsEvent[i],
			Indicators: indicators,
		}
		row.FeatureHash = rowHash(row, featureCols, e.codeHash)
		out[i] = row

		if e.schemas != nil {
			ok, reason := e.schemas.ValidateFeature(featuresSchemaKey, map[string]any{
				"symbol":     row.Symbol,
				"tf":         row.Timeframe,
				"timestamp":  row.TsEvent,
				"indicators": row.Indicators,
			})
			if !ok {
				e.observe("invalid", 1, 0)
				return nil, nil, fmt.Errorf("%s", reason)
			}
		}
	}

	e.observe("ok", n, time.Since(start))
	return out, reports, nil
}

func (e *Engine) observe(outcome string, rows int, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	if e.metrics.FeatureRowsComputed != nil && rows > 0 {
		e.metrics.FeatureRowsComputed.WithLabelValues(outcome).Add(float64(rows))
	} else if e.metrics.FeatureRowsComputed != nil && outcome == "error" {
		e.metrics.FeatureRowsComputed.WithLabelValues(outcome).Inc()
	}
	if e.metrics.FeatureComputeLatency != nil && elapsed > 0 {
		e.metrics.FeatureComputeLatency.Observe(elapsed.Seconds())
	}
}

// rowHash ports _row_hash(): a sha256 over a JSON object with sorted keys,
// binding symbol/timeframe/ts_event, every feature value rounded to 10
// decimal places (NaN/Inf become null), and codeHash.
func rowHash(row FeatureRow, cols []string, codeHash string) string {
	values := make([]any, len(cols))
	for i, c := range cols {
		v := row.Indicators[c]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			values[i] = nil
		} else {
			values[i] = roundTo(v, 10)
		}
	}
	payload := map[string]any{
		"symbol":    row.Symbol,
		"timeframe": row.Timeframe,
		"ts_event":  time.UnixMilli(row.TsEvent).UTC().Format(time.RFC3339Nano),
		"features":  values,
		"code_hash": codeHash,
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func sortedKeys(m map[string][]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
