// Package model implements ModelRunner (C12): a probability-of-take-profit
// predictor with optional Platt-scaling calibration, grounded on
// original_source/signals/model_runner.py's ModelRunner.
//
// No third-party ML runtime (sklearn/ONNX equivalent) appears anywhere in
// the example pack, so the "tree-like probability matrix" backend is
// reimplemented here as a plain logistic-regression scorer over named
// features, the same numeric contract (predict_proba in [0,1], threshold
// at tau) without a model-file loader. The "portable inference graph"
// backend the spec allows for is left unimplemented (ErrUnsupportedBackend)
// since there is nothing in the pack to ground an ONNX-equivalent runtime
// on.
package model

import (
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/adred-codev/mdingest/internal/telemetry"
)

// Backend selects the inference path, mirroring the original's
// model_type in {"sklearn", "onnx"}.
type Backend string

const (
	// BackendLinear is a logistic-regression scorer over named features:
	// z = bias + sum(weight[f] * x[f]); p = sigmoid(z).
	BackendLinear Backend = "linear"
	// BackendGraph stands in for the original's ONNX path. Not
	// implemented in this package; see the package doc.
	BackendGraph Backend = "graph"
)

// ErrUnsupportedBackend is returned by PredictProba for any Backend other
// than BackendLinear.
var ErrUnsupportedBackend = errors.New("model: unsupported backend")

// Calibrator applies Platt scaling to a raw probability: p' = 1/(1+exp(a*p+b)).
// Mirrors the original's fallback when the configured calibrator has no
// probability interface of its own.
type Calibrator struct {
	A, B float64
}

func (c *Calibrator) apply(p float64) float64 {
	if c == nil {
		return p
	}
	return 1.0 / (1.0 + math.Exp(c.A*p+c.B))
}

// Config configures a Runner.
type Config struct {
	Backend Backend
	// Weights maps feature name to its logistic-regression coefficient.
	Weights map[string]float64
	Bias    float64
	// FeatureOrder pins evaluation order when present (as model metadata
	// would); if empty, the order is derived once from the first input
	// row's keys (sorted) and held fixed for every subsequent call.
	FeatureOrder []string
	Calibrator   *Calibrator
	// Threshold is the predict() cutoff, default 0.5.
	Threshold float64
	// ModelVersion is surfaced to SignalEmitter for the signal payload's
	// model_version field.
	ModelVersion string
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendLinear
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	if c.ModelVersion == "" {
		c.ModelVersion = "linear-v1"
	}
	return c
}

// Runner is ModelRunner (C12).
type Runner struct {
	cfg     Config
	metrics *telemetry.Registry

	mu    sync.Mutex
	order []string // resolved feature order, cached after first call
}

// New constructs a Runner. metrics may be nil.
func New(cfg Config, metrics *telemetry.Registry) *Runner {
	return &Runner{cfg: cfg.withDefaults(), metrics: metrics}
}

// ModelVersion returns the configured model version string.
func (r *Runner) ModelVersion() string { return r.cfg.ModelVersion }

func (r *Runner) featureOrder(row map[string]float64) []string {
	if len(r.cfg.FeatureOrder) > 0 {
		return r.cfg.FeatureOrder
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.order != nil {
		return r.order
	}
	order := make([]string, 0, len(row))
	for k := range row {
		order = append(order, k)
	}
	sort.Strings(order)
	r.order = order
	return order
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// PredictProba ports predict_proba(): a logistic score over the resolved
// feature order, optionally passed through a Platt calibrator.
func (r *Runner) PredictProba(row map[string]float64) (float64, error) {
	if r.cfg.Backend != BackendLinear {
		r.observe("error")
		return 0, ErrUnsupportedBackend
	}
	order := r.featureOrder(row)
	z := r.cfg.Bias
	for _, name := range order {
		z += r.cfg.Weights[name] * row[name]
	}
	p := sigmoid(z)
	if r.cfg.Calibrator != nil {
		p = r.cfg.Calibrator.apply(p)
	}
	r.observe("ok")
	return clamp01(p), nil
}

// Predict ports predict(): thresholds PredictProba's output at Threshold.
func (r *Runner) Predict(row map[string]float64) (bool, error) {
	p, err := r.PredictProba(row)
	if err != nil {
		return false, err
	}
	return p >= r.cfg.Threshold, nil
}

func (r *Runner) observe(result string) {
	if r.metrics == nil || r.metrics.ModelInferenceTotal == nil {
		return
	}
	r.metrics.ModelInferenceTotal.WithLabelValues(result).Inc()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
