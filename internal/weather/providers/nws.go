package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-fusion/internal/weather"
)

// DefaultNWSUserAgent identifies us to api.weather.gov, which rejects
// anonymous clients.
const DefaultNWSUserAgent = "weather-fusion (github.com/i474232898/weather-fusion)"

// nwsEndpoints is what the points lookup resolves a coordinate to.
type nwsEndpoints struct {
	forecast            string
	forecastHourly      string
	observationStations string
}

// NWSProvider adapts the National Weather Service API. It is the only
// built-in adapter that serves alerts. Coordinates must first be resolved
// to gridpoint URLs via the points endpoint; those lookups are cached per
// location since grid assignment never changes.
type NWSProvider struct {
	name      string
	baseURL   string
	userAgent string
	httpCfg   HTTPClientConfig
	circuit   *gobreaker.CircuitBreaker

	mu       sync.Mutex
	grid     map[string]nwsEndpoints
	stations map[string]string
}

func NewNWSProvider(client *http.Client, userAgent string) *NWSProvider {
	if userAgent == "" {
		userAgent = DefaultNWSUserAgent
	}
	return &NWSProvider{
		name:      "nws",
		baseURL:   "https://api.weather.gov",
		userAgent: userAgent,
		httpCfg:   defaultHTTPConfig(client),
		circuit:   newCircuit("nws"),
		grid:      make(map[string]nwsEndpoints),
		stations:  make(map[string]string),
	}
}

func (p *NWSProvider) Name() string {
	return p.name
}

func (p *NWSProvider) buildGet(u string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", p.userAgent)
		req.Header.Set("Accept", "application/geo+json")
		return req, nil
	}
}

// endpoints resolves loc to its gridpoint URLs, consulting the cache first.
func (p *NWSProvider) endpoints(ctx context.Context, loc weather.Location) (nwsEndpoints, error) {
	p.mu.Lock()
	ep, ok := p.grid[loc.Key()]
	p.mu.Unlock()
	if ok {
		return ep, nil
	}

	var payload struct {
		Properties struct {
			Forecast            string `json:"forecast"`
			ForecastHourly      string `json:"forecastHourly"`
			ObservationStations string `json:"observationStations"`
		} `json:"properties"`
	}
	u := fmt.Sprintf("%s/points/%.4f,%.4f", p.baseURL, loc.Latitude, loc.Longitude)
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildGet(u), &payload); err != nil {
		return nwsEndpoints{}, fmt.Errorf("points lookup: %w", err)
	}
	if payload.Properties.Forecast == "" {
		return nwsEndpoints{}, fmt.Errorf("points lookup returned no forecast endpoint")
	}

	ep = nwsEndpoints{
		forecast:            payload.Properties.Forecast,
		forecastHourly:      payload.Properties.ForecastHourly,
		observationStations: payload.Properties.ObservationStations,
	}
	p.mu.Lock()
	p.grid[loc.Key()] = ep
	p.mu.Unlock()
	return ep, nil
}

// stationURL resolves the nearest observation station for loc, cached.
func (p *NWSProvider) stationURL(ctx context.Context, loc weather.Location) (string, error) {
	p.mu.Lock()
	st, ok := p.stations[loc.Key()]
	p.mu.Unlock()
	if ok {
		return st, nil
	}

	ep, err := p.endpoints(ctx, loc)
	if err != nil {
		return "", err
	}
	if ep.observationStations == "" {
		return "", fmt.Errorf("no observation stations endpoint for location")
	}

	var payload struct {
		Features []struct {
			ID string `json:"id"`
		} `json:"features"`
	}
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildGet(ep.observationStations), &payload); err != nil {
		return "", fmt.Errorf("station lookup: %w", err)
	}
	if len(payload.Features) == 0 {
		return "", fmt.Errorf("no observation stations near location")
	}

	st = payload.Features[0].ID
	p.mu.Lock()
	p.stations[loc.Key()] = st
	p.mu.Unlock()
	return st, nil
}

func (p *NWSProvider) FetchCurrent(ctx context.Context, loc weather.Location) (*weather.CurrentConditions, error) {
	station, err := p.stationURL(ctx, loc)
	if err != nil {
		return nil, err
	}

	// Observation values come back SI regardless of the station.
	var payload struct {
		Properties struct {
			TextDescription    string        `json:"textDescription"`
			Temperature        nwsQuantity   `json:"temperature"`
			Dewpoint           nwsQuantity   `json:"dewpoint"`
			WindDirection      nwsQuantity   `json:"windDirection"`
			WindSpeed          nwsQuantity   `json:"windSpeed"`
			WindGust           nwsQuantity   `json:"windGust"`
			BarometricPressure nwsQuantity   `json:"barometricPressure"`
			Visibility         nwsQuantity   `json:"visibility"`
			RelativeHumidity   nwsQuantity   `json:"relativeHumidity"`
			HeatIndex          nwsQuantity   `json:"heatIndex"`
			WindChill          nwsQuantity   `json:"windChill"`
		} `json:"properties"`
	}
	u := station + "/observations/latest"
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildGet(u), &payload); err != nil {
		return nil, fmt.Errorf("latest observation: %w", err)
	}

	props := payload.Properties
	cur := &weather.CurrentConditions{
		Temperature:   convert(props.Temperature.Value, celsiusToFahrenheit),
		DewPoint:      convert(props.Dewpoint.Value, celsiusToFahrenheit),
		Humidity:      convert(props.RelativeHumidity.Value, nil),
		WindSpeed:     convert(props.WindSpeed.Value, kmhToMph),
		WindGust:      convert(props.WindGust.Value, kmhToMph),
		WindDirection: convert(props.WindDirection.Value, nil),
		Pressure:      convert(props.BarometricPressure.Value, pascalsToInHg),
		Visibility:    convert(props.Visibility.Value, metersToMiles),
	}

	// Feels-like is heat index in summer, wind chill in winter; whichever
	// the observation carries.
	if v := convert(props.HeatIndex.Value, celsiusToFahrenheit); v != nil {
		cur.FeelsLike = v
	} else if v := convert(props.WindChill.Value, celsiusToFahrenheit); v != nil {
		cur.FeelsLike = v
	}

	if props.TextDescription != "" {
		cur.Condition = weather.String(props.TextDescription)
	}
	return cur, nil
}

func (p *NWSProvider) FetchForecast(ctx context.Context, loc weather.Location) ([]weather.ForecastPeriod, error) {
	ep, err := p.endpoints(ctx, loc)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Properties struct {
			Periods []nwsPeriod `json:"periods"`
		} `json:"properties"`
	}
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildGet(ep.forecast), &payload); err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}

	periods := make([]weather.ForecastPeriod, 0, len(payload.Properties.Periods))
	for _, raw := range payload.Properties.Periods {
		start, end, err := raw.window()
		if err != nil {
			return nil, fmt.Errorf("forecast period: %w", err)
		}
		fp := weather.ForecastPeriod{
			Start:             start,
			End:               end,
			Temperature:       weather.Float64(float64(raw.Temperature)),
			PrecipProbability: raw.ProbabilityOfPrecipitation.Value,
			WindSpeed:         parseWindSpeed(raw.WindSpeed),
		}
		if raw.Name != "" {
			fp.Name = weather.String(raw.Name)
		}
		if raw.ShortForecast != "" {
			fp.Condition = weather.String(raw.ShortForecast)
		}
		periods = append(periods, fp)
	}
	return periods, nil
}

func (p *NWSProvider) FetchHourly(ctx context.Context, loc weather.Location) ([]weather.HourlyPeriod, error) {
	ep, err := p.endpoints(ctx, loc)
	if err != nil {
		return nil, err
	}
	if ep.forecastHourly == "" {
		return nil, fmt.Errorf("no hourly forecast endpoint for location")
	}

	var payload struct {
		Properties struct {
			Periods []nwsPeriod `json:"periods"`
		} `json:"properties"`
	}
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildGet(ep.forecastHourly), &payload); err != nil {
		return nil, fmt.Errorf("hourly forecast: %w", err)
	}

	periods := make([]weather.HourlyPeriod, 0, len(payload.Properties.Periods))
	for _, raw := range payload.Properties.Periods {
		start, end, err := raw.window()
		if err != nil {
			return nil, fmt.Errorf("hourly period: %w", err)
		}
		hp := weather.HourlyPeriod{
			Start:             start,
			End:               end,
			Temperature:       weather.Float64(float64(raw.Temperature)),
			PrecipProbability: raw.ProbabilityOfPrecipitation.Value,
			WindSpeed:         parseWindSpeed(raw.WindSpeed),
			Humidity:          raw.RelativeHumidity.Value,
		}
		if raw.ShortForecast != "" {
			hp.Condition = weather.String(raw.ShortForecast)
		}
		periods = append(periods, hp)
	}
	return periods, nil
}

func (p *NWSProvider) FetchAlerts(ctx context.Context, loc weather.Location) ([]weather.Alert, error) {
	var payload struct {
		Features []struct {
			Geometry   json.RawMessage `json:"geometry"`
			Properties struct {
				Event       string `json:"event"`
				AreaDesc    string `json:"areaDesc"`
				Severity    string `json:"severity"`
				Onset       string `json:"onset"`
				Effective   string `json:"effective"`
				Expires     string `json:"expires"`
				Ends        string `json:"ends"`
				Description string `json:"description"`
				Instruction string `json:"instruction"`
			} `json:"properties"`
		} `json:"features"`
	}

	values := url.Values{}
	values.Set("point", fmt.Sprintf("%.4f,%.4f", loc.Latitude, loc.Longitude))
	values.Set("status", "actual")
	u := fmt.Sprintf("%s/alerts/active?%s", p.baseURL, values.Encode())
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildGet(u), &payload); err != nil {
		return nil, fmt.Errorf("active alerts: %w", err)
	}

	alerts := make([]weather.Alert, 0, len(payload.Features))
	for _, f := range payload.Features {
		props := f.Properties
		a := weather.Alert{
			EventType:       props.Event,
			AreaDescription: props.AreaDesc,
			Severity:        normalizeSeverity(props.Severity),
			Description:     props.Description,
			Instruction:     props.Instruction,
			Onset:           parseAlertTime(props.Onset, props.Effective),
			Expires:         parseAlertTime(props.Expires, props.Ends),
			Bounds:          geometryBounds(f.Geometry),
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// nwsQuantity is the unitCode/value pair observations use. Value is nil
// when the station did not report the measurement.
type nwsQuantity struct {
	Value *float64 `json:"value"`
}

// nwsPeriod covers both the 12-hour and the hourly forecast period shapes.
type nwsPeriod struct {
	Name                       string      `json:"name"`
	StartTime                  string      `json:"startTime"`
	EndTime                    string      `json:"endTime"`
	Temperature                int         `json:"temperature"`
	WindSpeed                  string      `json:"windSpeed"`
	ShortForecast              string      `json:"shortForecast"`
	ProbabilityOfPrecipitation nwsQuantity `json:"probabilityOfPrecipitation"`
	RelativeHumidity           nwsQuantity `json:"relativeHumidity"`
}

func (p nwsPeriod) window() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, p.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(time.RFC3339, p.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start.UTC(), end.UTC(), nil
}

// convert applies a unit conversion to a nullable measurement.
func convert(v *float64, f func(float64) float64) *float64 {
	if v == nil {
		return nil
	}
	if f == nil {
		return weather.Float64(*v)
	}
	return weather.Float64(f(*v))
}

// parseWindSpeed handles the "5 mph" and "5 to 10 mph" strings the forecast
// endpoints use. Ranges collapse to their upper bound.
func parseWindSpeed(s string) *float64 {
	fields := strings.Fields(s)
	var last *float64
	for _, f := range fields {
		if v, err := strconv.ParseFloat(f, 64); err == nil {
			last = weather.Float64(v)
		}
	}
	return last
}

func normalizeSeverity(s string) weather.Severity {
	switch strings.ToLower(s) {
	case "extreme":
		return weather.SeverityExtreme
	case "severe":
		return weather.SeveritySevere
	case "moderate":
		return weather.SeverityModerate
	case "minor":
		return weather.SeverityMinor
	default:
		return weather.SeverityUnknown
	}
}

func parseAlertTime(primary, fallback string) time.Time {
	for _, s := range []string{primary, fallback} {
		if s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// geometryBounds reduces an alert's GeoJSON geometry to a bounding box.
// Alerts frequently ship with null geometry; those get no bounds and fall
// back to area-description matching during dedup.
func geometryBounds(raw json.RawMessage) *weather.AreaBounds {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var geom struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &geom); err != nil {
		return nil
	}

	var rings [][][]float64
	switch geom.Type {
	case "Polygon":
		if err := json.Unmarshal(geom.Coordinates, &rings); err != nil {
			return nil
		}
	case "MultiPolygon":
		var multi [][][][]float64
		if err := json.Unmarshal(geom.Coordinates, &multi); err != nil {
			return nil
		}
		for _, poly := range multi {
			rings = append(rings, poly...)
		}
	default:
		return nil
	}

	var b *weather.AreaBounds
	for _, ring := range rings {
		for _, pt := range ring {
			if len(pt) < 2 {
				continue
			}
			lng, lat := pt[0], pt[1]
			if b == nil {
				b = &weather.AreaBounds{LatLo: lat, LatHi: lat, LngLo: lng, LngHi: lng}
				continue
			}
			if lat < b.LatLo {
				b.LatLo = lat
			}
			if lat > b.LatHi {
				b.LatHi = lat
			}
			if lng < b.LngLo {
				b.LngLo = lng
			}
			if lng > b.LngHi {
				b.LngHi = lng
			}
		}
	}
	return b
}
