// Package schema implements SchemaValidator (C4): a registry of named,
// versioned schemas that check required-field presence/type and the
// domain-specific OHLCV ordering invariant before an event may reach the
// primary broker topic.
package schema

import (
	"fmt"

	"github.com/adred-codev/mdingest/internal/event"
)

// Key identifies a registered schema by name and version, matching §4.4's
// "(name, version)" registration key.
type Key struct {
	Name    string
	Version int
}

// Validator is a single registered schema check against a NormalizedEvent.
type Validator func(e *event.NormalizedEvent) (ok bool, reason string)

// FeatureValidator is a single registered schema check against a feature
// row's field map, used by FeatureEngine (C10) rather than the event
// pipeline. Decoupled from Validator since FeatureRow has no
// event.NormalizedEvent to check against.
type FeatureValidator func(fields map[string]any) (ok bool, reason string)

// Registry holds every registered (name, version) schema, for both the
// event pipeline and the feature pipeline.
type Registry struct {
	byKey        map[Key]Validator
	byFeatureKey map[Key]FeatureValidator
}

// NewRegistry constructs a Registry pre-populated with "events v2" (the
// schema IngestionManager validates against) and "features v2" (the schema
// FeatureEngine validates against).
func NewRegistry() *Registry {
	r := &Registry{byKey: map[Key]Validator{}, byFeatureKey: map[Key]FeatureValidator{}}
	r.Register(Key{Name: "events", Version: 2}, validateEventsV2)
	r.RegisterFeature(Key{Name: "features", Version: 2}, validateFeaturesV2)
	return r
}

// Register adds or replaces an event schema validator.
func (r *Registry) Register(k Key, v Validator) {
	r.byKey[k] = v
}

// RegisterFeature adds or replaces a feature schema validator.
func (r *Registry) RegisterFeature(k Key, v FeatureValidator) {
	r.byFeatureKey[k] = v
}

// Validate looks up an event schema by key and runs it. An unknown key is
// itself a validation failure, reported as "schema_invalid" with the
// missing-key detail folded into the reason.
func (r *Registry) Validate(k Key, e *event.NormalizedEvent) (ok bool, reason string) {
	v, found := r.byKey[k]
	if !found {
		return false, fmt.Sprintf("schema_invalid: unregistered schema %s/%d", k.Name, k.Version)
	}
	return v(e)
}

// ValidateFeature looks up a feature schema by key and runs it against a
// row's field map (symbol, tf, timestamp, indicators).
func (r *Registry) ValidateFeature(k Key, fields map[string]any) (ok bool, reason string) {
	v, found := r.byFeatureKey[k]
	if !found {
		return false, fmt.Sprintf("schema_invalid: unregistered schema %s/%d", k.Name, k.Version)
	}
	return v(fields)
}

// validateEventsV2 delegates to NormalizedEvent's own structural/semantic
// checks; kept as a standalone function (rather than inlining
// e.Validate() at call sites) so additional schema-layer checks can be
// layered on without touching event.NormalizedEvent itself.
func validateEventsV2(e *event.NormalizedEvent) (bool, string) {
	if e == nil {
		return false, "schema_invalid"
	}
	return e.Validate()
}

// validateFeaturesV2 requires symbol, tf, timestamp, and a non-empty
// indicators object, matching FEATURE_SCHEMA's required fields.
// additionalProperties inside "indicators" is always allowed, as in the
// original; the object itself must be present.
func validateFeaturesV2(fields map[string]any) (bool, string) {
	symbol, _ := fields["symbol"].(string)
	if symbol == "" {
		return false, "schema_invalid: missing symbol"
	}
	tf, _ := fields["tf"].(string)
	if tf == "" {
		return false, "schema_invalid: missing tf"
	}
	if _, ok := fields["timestamp"]; !ok {
		return false, "schema_invalid: missing timestamp"
	}
	indicators, ok := fields["indicators"].(map[string]float64)
	if !ok || len(indicators) == 0 {
		return false, "schema_invalid: missing indicators"
	}
	return true, ""
}
