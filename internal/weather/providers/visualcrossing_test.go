package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-fusion/internal/weather"
)

func testVC(baseURL, apiKey string) *VisualCrossingProvider {
	return &VisualCrossingProvider{
		name:    "visualcrossing",
		apiKey:  apiKey,
		baseURL: baseURL,
		httpCfg: testHTTPCfg(),
		circuit: newCircuit("visualcrossing-test"),
	}
}

func TestVisualCrossingRequiresKey(t *testing.T) {
	p := testVC("http://localhost", "")

	_, err := p.FetchCurrent(context.Background(), testLoc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is not configured")

	_, err = p.FetchAlerts(context.Background(), testLoc)
	require.Error(t, err)
}

func TestVisualCrossingCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "secret", q.Get("key"))
		assert.Equal(t, "us", q.Get("unitGroup"))
		assert.Equal(t, "current", q.Get("include"))
		assert.Contains(t, r.URL.Path, "40.7128,-74.0060")
		fmt.Fprint(w, `{"currentConditions":{
			"temp":71.2,
			"feelslike":73.0,
			"humidity":58,
			"windspeed":9.4,
			"pressure":1016,
			"visibility":9.9,
			"uvindex":5,
			"conditions":"Clear"
		}}`)
	}))
	defer srv.Close()

	cur, err := testVC(srv.URL, "secret").FetchCurrent(context.Background(), testLoc)
	require.NoError(t, err)

	require.NotNil(t, cur.Temperature)
	assert.Equal(t, 71.2, *cur.Temperature)
	require.NotNil(t, cur.Pressure)
	assert.InDelta(t, 30.0, *cur.Pressure, 0.01, "pressure arrives in millibars even for the us unit group")
	require.NotNil(t, cur.UVIndex)
	assert.Equal(t, 5.0, *cur.UVIndex)
	require.NotNil(t, cur.Condition)
	assert.Equal(t, "Clear", *cur.Condition)
}

func TestVisualCrossingForecast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "days", r.URL.Query().Get("include"))
		fmt.Fprint(w, `{"days":[
			{"datetimeEpoch":1772323200,"tempmax":49.5,"tempmin":37.2,"precipprob":35,"windspeed":11.0,"snow":0,"uvindex":4,"conditions":"Rain, Partially cloudy"}
		]}`)
	}))
	defer srv.Close()

	periods, err := testVC(srv.URL, "secret").FetchForecast(context.Background(), testLoc)
	require.NoError(t, err)
	require.Len(t, periods, 1)

	fp := periods[0]
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), fp.Start)
	assert.Equal(t, 24*time.Hour, fp.End.Sub(fp.Start))
	require.NotNil(t, fp.Temperature)
	assert.Equal(t, 49.5, *fp.Temperature)
	require.NotNil(t, fp.TemperatureMin)
	assert.Equal(t, 37.2, *fp.TemperatureMin)
	require.NotNil(t, fp.UVIndex)
	assert.Equal(t, 4.0, *fp.UVIndex)
	require.NotNil(t, fp.Condition)
	assert.Equal(t, "Rain, Partially cloudy", *fp.Condition)
}

func TestVisualCrossingHourlyCapsAtTwoDays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hours", r.URL.Query().Get("include"))

		base := int64(1772323200)
		var days []map[string]any
		for d := 0; d < 3; d++ {
			var hours []map[string]any
			for h := 0; h < 24; h++ {
				hours = append(hours, map[string]any{
					"datetimeEpoch": base + int64(d*24+h)*3600,
					"temp":          40.0,
				})
			}
			days = append(days, map[string]any{"hours": hours})
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"days": days}))
	}))
	defer srv.Close()

	periods, err := testVC(srv.URL, "secret").FetchHourly(context.Background(), testLoc)
	require.NoError(t, err)
	require.Len(t, periods, 48, "three days of hours trim to two")

	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), periods[0].Start)
	assert.Equal(t, time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC), periods[47].Start)
}

func TestVisualCrossingAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alerts", r.URL.Query().Get("include"))
		fmt.Fprint(w, `{"alerts":[
			{"event":"Flood Warning","headline":"Flood Warning for Litchfield County","description":"The river is rising.","onsetEpoch":1772355600,"endsEpoch":1772388000},
			{"event":"Dense Fog Advisory","headline":"Dense Fog Advisory until noon","description":"","onsetEpoch":0,"endsEpoch":0}
		]}`)
	}))
	defer srv.Close()

	alerts, err := testVC(srv.URL, "secret").FetchAlerts(context.Background(), testLoc)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	flood := alerts[0]
	assert.Equal(t, "Flood Warning", flood.EventType)
	assert.Equal(t, weather.SeveritySevere, flood.Severity)
	assert.Equal(t, "The river is rising.", flood.Description)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), flood.Onset)
	assert.Equal(t, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC), flood.Expires)

	fog := alerts[1]
	assert.Equal(t, weather.SeverityMinor, fog.Severity)
	assert.Equal(t, "Dense Fog Advisory until noon", fog.Description, "the headline stands in for an empty description")
	assert.True(t, fog.Onset.IsZero(), "a zero epoch stays a zero time")
}

func TestInferSeverity(t *testing.T) {
	cases := map[string]weather.Severity{
		"Extreme Wind Warning":      weather.SeverityExtreme,
		"Hurricane Local Emergency": weather.SeverityExtreme,
		"Tornado Warning":           weather.SeveritySevere,
		"Flash Flood Watch":         weather.SeverityModerate,
		"Wind Advisory":             weather.SeverityMinor,
		"Special Weather Statement": weather.SeverityMinor,
		"Hydrologic Outlook":        weather.SeverityMinor,
		"Air Quality Alert":         weather.SeverityUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, inferSeverity(in), "event %q", in)
	}
}
