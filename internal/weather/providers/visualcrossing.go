package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-fusion/internal/weather"
)

// VisualCrossingProvider adapts the Visual Crossing timeline API. It is the
// enrichment source: UV index, precipitation probability, and snowfall are
// consistently present here even when the higher-priority providers omit
// them. It also carries government alerts for most of the world, which
// makes it the second alert source next to NWS.
type VisualCrossingProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewVisualCrossingProvider(client *http.Client, apiKey string) *VisualCrossingProvider {
	return &VisualCrossingProvider{
		name:    "visualcrossing",
		apiKey:  apiKey,
		baseURL: "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline",
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuit("visualcrossing"),
	}
}

func (p *VisualCrossingProvider) Name() string {
	return p.name
}

func (p *VisualCrossingProvider) buildTimeline(loc weather.Location, include string) (func() (*http.Request, error), error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("visualcrossing api key is not configured")
	}
	return func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		values.Set("unitGroup", "us")
		values.Set("include", include)
		values.Set("contentType", "json")

		u := fmt.Sprintf("%s/%.4f,%.4f?%s", p.baseURL, loc.Latitude, loc.Longitude, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return req, nil
	}, nil
}

func (p *VisualCrossingProvider) FetchCurrent(ctx context.Context, loc weather.Location) (*weather.CurrentConditions, error) {
	build, err := p.buildTimeline(loc, "current")
	if err != nil {
		return nil, err
	}

	var payload struct {
		CurrentConditions struct {
			Temp       *float64 `json:"temp"`
			FeelsLike  *float64 `json:"feelslike"`
			Dew        *float64 `json:"dew"`
			Humidity   *float64 `json:"humidity"`
			WindSpeed  *float64 `json:"windspeed"`
			WindGust   *float64 `json:"windgust"`
			WindDir    *float64 `json:"winddir"`
			Pressure   *float64 `json:"pressure"`
			Visibility *float64 `json:"visibility"`
			UVIndex    *float64 `json:"uvindex"`
			Conditions string   `json:"conditions"`
		} `json:"currentConditions"`
	}
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, build, &payload); err != nil {
		return nil, fmt.Errorf("current conditions: %w", err)
	}

	c := payload.CurrentConditions
	cur := &weather.CurrentConditions{
		Temperature:   c.Temp,
		FeelsLike:     c.FeelsLike,
		DewPoint:      c.Dew,
		Humidity:      c.Humidity,
		WindSpeed:     c.WindSpeed,
		WindGust:      c.WindGust,
		WindDirection: c.WindDir,
		// The us unit group still reports pressure in millibars.
		Pressure:   convert(c.Pressure, millibarsToInHg),
		Visibility: c.Visibility,
		UVIndex:    c.UVIndex,
	}
	if c.Conditions != "" {
		cur.Condition = weather.String(c.Conditions)
	}
	return cur, nil
}

func (p *VisualCrossingProvider) FetchForecast(ctx context.Context, loc weather.Location) ([]weather.ForecastPeriod, error) {
	build, err := p.buildTimeline(loc, "days")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Days []vcDay `json:"days"`
	}
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, build, &payload); err != nil {
		return nil, fmt.Errorf("daily forecast: %w", err)
	}

	periods := make([]weather.ForecastPeriod, 0, len(payload.Days))
	for _, day := range payload.Days {
		start := time.Unix(day.DatetimeEpoch, 0).UTC()
		fp := weather.ForecastPeriod{
			Start:             start,
			End:               start.Add(24 * time.Hour),
			Temperature:       day.TempMax,
			TemperatureMin:    day.TempMin,
			PrecipProbability: day.PrecipProb,
			WindSpeed:         day.WindSpeed,
			Snowfall:          day.Snow,
			UVIndex:           day.UVIndex,
		}
		if day.Conditions != "" {
			fp.Condition = weather.String(day.Conditions)
		}
		periods = append(periods, fp)
	}
	return periods, nil
}

func (p *VisualCrossingProvider) FetchHourly(ctx context.Context, loc weather.Location) ([]weather.HourlyPeriod, error) {
	build, err := p.buildTimeline(loc, "hours")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Days []struct {
			Hours []struct {
				DatetimeEpoch int64    `json:"datetimeEpoch"`
				Temp          *float64 `json:"temp"`
				PrecipProb    *float64 `json:"precipprob"`
				WindSpeed     *float64 `json:"windspeed"`
				Humidity      *float64 `json:"humidity"`
				UVIndex       *float64 `json:"uvindex"`
				Conditions    string   `json:"conditions"`
			} `json:"hours"`
		} `json:"days"`
	}
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, build, &payload); err != nil {
		return nil, fmt.Errorf("hourly forecast: %w", err)
	}

	// Two days of hours is plenty; the merge trims overlap anyway.
	const maxHours = 48
	var periods []weather.HourlyPeriod
	for _, day := range payload.Days {
		for _, h := range day.Hours {
			if len(periods) >= maxHours {
				return periods, nil
			}
			start := time.Unix(h.DatetimeEpoch, 0).UTC()
			hp := weather.HourlyPeriod{
				Start:             start,
				End:               start.Add(time.Hour),
				Temperature:       h.Temp,
				PrecipProbability: h.PrecipProb,
				WindSpeed:         h.WindSpeed,
				Humidity:          h.Humidity,
				UVIndex:           h.UVIndex,
			}
			if h.Conditions != "" {
				hp.Condition = weather.String(h.Conditions)
			}
			periods = append(periods, hp)
		}
	}
	return periods, nil
}

func (p *VisualCrossingProvider) FetchAlerts(ctx context.Context, loc weather.Location) ([]weather.Alert, error) {
	build, err := p.buildTimeline(loc, "alerts")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Alerts []struct {
			Event       string `json:"event"`
			Headline    string `json:"headline"`
			Description string `json:"description"`
			OnsetEpoch  int64  `json:"onsetEpoch"`
			EndsEpoch   int64  `json:"endsEpoch"`
		} `json:"alerts"`
	}
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, build, &payload); err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}

	alerts := make([]weather.Alert, 0, len(payload.Alerts))
	for _, raw := range payload.Alerts {
		a := weather.Alert{
			EventType:   raw.Event,
			Description: raw.Description,
			Severity:    inferSeverity(raw.Event),
		}
		if a.Description == "" {
			a.Description = raw.Headline
		}
		if raw.OnsetEpoch > 0 {
			a.Onset = time.Unix(raw.OnsetEpoch, 0).UTC()
		}
		if raw.EndsEpoch > 0 {
			a.Expires = time.Unix(raw.EndsEpoch, 0).UTC()
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// inferSeverity guesses a severity tier from the event name, since the
// timeline alert feed carries none. US-style event names end in the tier.
func inferSeverity(event string) weather.Severity {
	e := strings.ToLower(event)
	switch {
	case containsAny(e, "extreme", "emergency"):
		return weather.SeverityExtreme
	case containsAny(e, "warning"):
		return weather.SeveritySevere
	case containsAny(e, "watch"):
		return weather.SeverityModerate
	case containsAny(e, "advisory", "statement", "outlook"):
		return weather.SeverityMinor
	}
	return weather.SeverityUnknown
}

// vcDay is a day entry from the timeline response.
type vcDay struct {
	DatetimeEpoch int64    `json:"datetimeEpoch"`
	TempMax       *float64 `json:"tempmax"`
	TempMin       *float64 `json:"tempmin"`
	PrecipProb    *float64 `json:"precipprob"`
	WindSpeed     *float64 `json:"windspeed"`
	Snow          *float64 `json:"snow"`
	UVIndex       *float64 `json:"uvindex"`
	Conditions    string   `json:"conditions"`
}
