package sink

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-fusion/internal/weather"
)

func TestSerializeResult(t *testing.T) {
	loc := weather.Location{Name: "NYC", Latitude: 40.7128, Longitude: -74.0060, Domestic: true}
	data := weather.WeatherData{
		Location:    loc,
		FetchedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Current:     &weather.CurrentConditions{Temperature: weather.Float64(70)},
		Attribution: weather.NewFieldAttribution(),
	}

	msg, err := serializeResult(data)
	require.NoError(t, err)

	assert.Equal(t, loc.Key(), string(msg.Key), "messages are keyed by location for partition ordering")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "NYC", headers["location"])
	assert.Equal(t, "2026-03-01T12:00:00Z", headers["fetched_at"])

	var decoded weather.WeatherData
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, loc, decoded.Location)
	require.NotNil(t, decoded.Current)
	assert.Equal(t, 70.0, *decoded.Current.Temperature)
}
