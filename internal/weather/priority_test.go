package weather

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownProviders = []string{"nws", "openmeteo", "visualcrossing"}

func TestDefaultSourcePriorityConfigValid(t *testing.T) {
	cfg := DefaultSourcePriorityConfig()
	require.NoError(t, cfg.Validate(knownProviders))
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Run("empty domestic default", func(t *testing.T) {
		cfg := DefaultSourcePriorityConfig()
		cfg.DomesticDefault = nil
		require.Error(t, cfg.Validate(knownProviders))
	})

	t.Run("empty international default", func(t *testing.T) {
		cfg := DefaultSourcePriorityConfig()
		cfg.InternationalDefault = []string{}
		require.Error(t, cfg.Validate(knownProviders))
	})

	t.Run("unknown provider in default", func(t *testing.T) {
		cfg := DefaultSourcePriorityConfig()
		cfg.DomesticDefault = []string{"nws", "wunderground"}
		err := cfg.Validate(knownProviders)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wunderground")
	})

	t.Run("unknown provider in override", func(t *testing.T) {
		cfg := DefaultSourcePriorityConfig()
		cfg.FieldOverrides["humidity"] = []string{"accuweather"}
		err := cfg.Validate(knownProviders)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "field_overrides[humidity]")
	})

	t.Run("empty override list", func(t *testing.T) {
		cfg := DefaultSourcePriorityConfig()
		cfg.FieldOverrides["humidity"] = nil
		require.Error(t, cfg.Validate(knownProviders))
	})

	t.Run("non-positive threshold", func(t *testing.T) {
		cfg := DefaultSourcePriorityConfig()
		cfg.ConflictThresholds["humidity"] = 0
		require.Error(t, cfg.Validate(knownProviders))
	})
}

func TestEffectiveOrder(t *testing.T) {
	cfg := DefaultSourcePriorityConfig()

	assert.Equal(t, []string{"nws", "openmeteo", "visualcrossing"}, cfg.EffectiveOrder("temperature", true))
	assert.Equal(t, []string{"openmeteo", "visualcrossing", "nws"}, cfg.EffectiveOrder("temperature", false))

	// The override applies regardless of location class.
	assert.Equal(t, []string{"visualcrossing", "openmeteo", "nws"}, cfg.EffectiveOrder("uv_index", true))
	assert.Equal(t, []string{"visualcrossing", "openmeteo", "nws"}, cfg.EffectiveOrder("uv_index", false))
}

func TestThreshold(t *testing.T) {
	cfg := DefaultSourcePriorityConfig()

	v, ok := cfg.Threshold("temperature")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	_, ok = cfg.Threshold("humidity")
	assert.False(t, ok)
}

func TestPriorityConfigRoundTrip(t *testing.T) {
	cfg := DefaultSourcePriorityConfig()

	raw, err := json.Marshal(cfg)
	require.NoError(t, err)

	var decoded SourcePriorityConfig
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, cfg, decoded)
}
