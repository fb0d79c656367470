package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-fusion/internal/weather"
)

// OpenMeteoProvider adapts the Open-Meteo forecast API. No API key, global
// coverage, no alerts. All requests ask for imperial units and UTC
// timestamps so the payload needs no conversion beyond pressure.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuit("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) buildQuery(loc weather.Location, extra url.Values) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
		values.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
		values.Set("temperature_unit", "fahrenheit")
		values.Set("wind_speed_unit", "mph")
		values.Set("precipitation_unit", "inch")
		values.Set("timezone", "UTC")
		for k, vs := range extra {
			for _, v := range vs {
				values.Add(k, v)
			}
		}
		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return req, nil
	}
}

func (p *OpenMeteoProvider) FetchCurrent(ctx context.Context, loc weather.Location) (*weather.CurrentConditions, error) {
	var payload struct {
		Current struct {
			Temperature   *float64 `json:"temperature_2m"`
			Apparent      *float64 `json:"apparent_temperature"`
			DewPoint      *float64 `json:"dew_point_2m"`
			Humidity      *float64 `json:"relative_humidity_2m"`
			WindSpeed     *float64 `json:"wind_speed_10m"`
			WindGusts     *float64 `json:"wind_gusts_10m"`
			WindDirection *float64 `json:"wind_direction_10m"`
			Pressure      *float64 `json:"surface_pressure"`
			WeatherCode   *int     `json:"weather_code"`
		} `json:"current"`
	}

	extra := url.Values{}
	extra.Set("current", "temperature_2m,apparent_temperature,dew_point_2m,relative_humidity_2m,wind_speed_10m,wind_gusts_10m,wind_direction_10m,surface_pressure,weather_code")
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildQuery(loc, extra), &payload); err != nil {
		return nil, fmt.Errorf("current conditions: %w", err)
	}

	c := payload.Current
	cur := &weather.CurrentConditions{
		Temperature:   c.Temperature,
		FeelsLike:     c.Apparent,
		DewPoint:      c.DewPoint,
		Humidity:      c.Humidity,
		WindSpeed:     c.WindSpeed,
		WindGust:      c.WindGusts,
		WindDirection: c.WindDirection,
		// surface_pressure stays hPa whatever the unit params say.
		Pressure: convert(c.Pressure, millibarsToInHg),
	}
	if c.WeatherCode != nil {
		cur.Condition = describeWeatherCode(*c.WeatherCode)
	}
	return cur, nil
}

func (p *OpenMeteoProvider) FetchForecast(ctx context.Context, loc weather.Location) ([]weather.ForecastPeriod, error) {
	var payload struct {
		Daily struct {
			Time         []string   `json:"time"`
			TempMax      []*float64 `json:"temperature_2m_max"`
			TempMin      []*float64 `json:"temperature_2m_min"`
			PrecipProb   []*float64 `json:"precipitation_probability_max"`
			WindSpeedMax []*float64 `json:"wind_speed_10m_max"`
			SnowfallSum  []*float64 `json:"snowfall_sum"`
			UVIndexMax   []*float64 `json:"uv_index_max"`
			WeatherCode  []*int     `json:"weather_code"`
		} `json:"daily"`
	}

	extra := url.Values{}
	extra.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_probability_max,wind_speed_10m_max,snowfall_sum,uv_index_max,weather_code")
	extra.Set("forecast_days", "7")
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildQuery(loc, extra), &payload); err != nil {
		return nil, fmt.Errorf("daily forecast: %w", err)
	}

	daily := payload.Daily
	periods := make([]weather.ForecastPeriod, 0, len(daily.Time))
	for i, day := range daily.Time {
		start, err := time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("daily forecast: bad date %q: %w", day, err)
		}
		start = start.UTC()
		fp := weather.ForecastPeriod{
			Start:             start,
			End:               start.Add(24 * time.Hour),
			Temperature:       at(daily.TempMax, i),
			TemperatureMin:    at(daily.TempMin, i),
			PrecipProbability: at(daily.PrecipProb, i),
			WindSpeed:         at(daily.WindSpeedMax, i),
			Snowfall:          at(daily.SnowfallSum, i),
			UVIndex:           at(daily.UVIndexMax, i),
		}
		if i < len(daily.WeatherCode) && daily.WeatherCode[i] != nil {
			fp.Condition = describeWeatherCode(*daily.WeatherCode[i])
		}
		periods = append(periods, fp)
	}
	return periods, nil
}

func (p *OpenMeteoProvider) FetchHourly(ctx context.Context, loc weather.Location) ([]weather.HourlyPeriod, error) {
	var payload struct {
		Hourly struct {
			Time        []string   `json:"time"`
			Temperature []*float64 `json:"temperature_2m"`
			PrecipProb  []*float64 `json:"precipitation_probability"`
			WindSpeed   []*float64 `json:"wind_speed_10m"`
			Humidity    []*float64 `json:"relative_humidity_2m"`
			UVIndex     []*float64 `json:"uv_index"`
			WeatherCode []*int     `json:"weather_code"`
		} `json:"hourly"`
	}

	extra := url.Values{}
	extra.Set("hourly", "temperature_2m,precipitation_probability,wind_speed_10m,relative_humidity_2m,uv_index,weather_code")
	extra.Set("forecast_days", "2")
	if err := fetchJSON(ctx, p.httpCfg, p.circuit, p.buildQuery(loc, extra), &payload); err != nil {
		return nil, fmt.Errorf("hourly forecast: %w", err)
	}

	hourly := payload.Hourly
	periods := make([]weather.HourlyPeriod, 0, len(hourly.Time))
	for i, ts := range hourly.Time {
		start, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			return nil, fmt.Errorf("hourly forecast: bad time %q: %w", ts, err)
		}
		start = start.UTC()
		hp := weather.HourlyPeriod{
			Start:             start,
			End:               start.Add(time.Hour),
			Temperature:       at(hourly.Temperature, i),
			PrecipProbability: at(hourly.PrecipProb, i),
			WindSpeed:         at(hourly.WindSpeed, i),
			Humidity:          at(hourly.Humidity, i),
			UVIndex:           at(hourly.UVIndex, i),
		}
		if i < len(hourly.WeatherCode) && hourly.WeatherCode[i] != nil {
			hp.Condition = describeWeatherCode(*hourly.WeatherCode[i])
		}
		periods = append(periods, hp)
	}
	return periods, nil
}

// at guards against the API returning arrays shorter than the time axis.
func at(values []*float64, i int) *float64 {
	if i >= len(values) || values[i] == nil {
		return nil
	}
	return weather.Float64(*values[i])
}

// describeWeatherCode turns a WMO weather code into display text.
func describeWeatherCode(code int) *string {
	switch {
	case code == 0:
		return weather.String("Clear")
	case code >= 1 && code <= 2:
		return weather.String("Partly Cloudy")
	case code == 3:
		return weather.String("Overcast")
	case code == 45 || code == 48:
		return weather.String("Fog")
	case code >= 51 && code <= 57:
		return weather.String("Drizzle")
	case code >= 61 && code <= 67:
		return weather.String("Rain")
	case code >= 71 && code <= 77:
		return weather.String("Snow")
	case code >= 80 && code <= 82:
		return weather.String("Rain Showers")
	case code == 85 || code == 86:
		return weather.String("Snow Showers")
	case code >= 95:
		return weather.String("Thunderstorm")
	default:
		return nil
	}
}
