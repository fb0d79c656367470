package weather

import (
	"fmt"
	"sort"
)

// SourcePriorityConfig is the declarative merge policy: which providers win
// per field and per location class, and how far apart two providers'
// numeric values may sit before the disagreement is recorded as a conflict.
// The value is immutable once loaded and is threaded explicitly through
// every merge call. Field names here are the base names ("temperature"),
// never period-qualified ones.
//
// Note: no omitempty on any field. Empty and nil collections must both
// survive a serialization round trip unchanged.
type SourcePriorityConfig struct {
	DomesticDefault      []string            `json:"domestic_default" mapstructure:"domestic_default"`
	InternationalDefault []string            `json:"international_default" mapstructure:"international_default"`
	FieldOverrides       map[string][]string `json:"field_overrides" mapstructure:"field_overrides"`
	ConflictThresholds   map[string]float64  `json:"conflict_threshold_by_field" mapstructure:"conflict_threshold_by_field"`
}

// DefaultSourcePriorityConfig returns the built-in policy: the domestic
// authority leads at home, the global fallback leads elsewhere, and the two
// wind/temperature thresholds mirror what forecasters treat as a real
// disagreement rather than model noise.
func DefaultSourcePriorityConfig() SourcePriorityConfig {
	return SourcePriorityConfig{
		DomesticDefault:      []string{"nws", "openmeteo", "visualcrossing"},
		InternationalDefault: []string{"openmeteo", "visualcrossing", "nws"},
		FieldOverrides: map[string][]string{
			// Enrichment data is the most complete UV source we have.
			"uv_index": {"visualcrossing", "openmeteo", "nws"},
		},
		ConflictThresholds: map[string]float64{
			"temperature": 5, // °F
			"wind_speed":  8, // mph
		},
	}
}

// Validate checks the policy against the set of registered adapter names.
// A reference to an unknown provider is a configuration error: fatal at
// load time, impossible at fetch time.
func (c SourcePriorityConfig) Validate(known []string) error {
	knownSet := make(map[string]bool, len(known))
	for _, name := range known {
		knownSet[name] = true
	}

	if len(c.DomesticDefault) == 0 {
		return fmt.Errorf("priority config: domestic_default must list at least one provider")
	}
	if len(c.InternationalDefault) == 0 {
		return fmt.Errorf("priority config: international_default must list at least one provider")
	}

	check := func(list []string, where string) error {
		for _, name := range list {
			if !knownSet[name] {
				return fmt.Errorf("priority config: %s references unknown provider %q", where, name)
			}
		}
		return nil
	}
	if err := check(c.DomesticDefault, "domestic_default"); err != nil {
		return err
	}
	if err := check(c.InternationalDefault, "international_default"); err != nil {
		return err
	}

	// Deterministic error selection when several overrides are bad.
	fields := make([]string, 0, len(c.FieldOverrides))
	for field := range c.FieldOverrides {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if len(c.FieldOverrides[field]) == 0 {
			return fmt.Errorf("priority config: field_overrides[%s] is empty", field)
		}
		if err := check(c.FieldOverrides[field], "field_overrides["+field+"]"); err != nil {
			return err
		}
	}

	for field, threshold := range c.ConflictThresholds {
		if threshold <= 0 {
			return fmt.Errorf("priority config: conflict threshold for %q must be positive, got %v", field, threshold)
		}
	}
	return nil
}

// EffectiveOrder resolves the provider order for a field: the field's
// override when present, otherwise the default table for the location
// class.
func (c SourcePriorityConfig) EffectiveOrder(field string, domestic bool) []string {
	if order, ok := c.FieldOverrides[field]; ok && len(order) > 0 {
		return order
	}
	if domestic {
		return c.DomesticDefault
	}
	return c.InternationalDefault
}

// Threshold returns the conflict threshold for a field, if one is
// configured.
func (c SourcePriorityConfig) Threshold(field string) (float64, bool) {
	t, ok := c.ConflictThresholds[field]
	return t, ok
}
