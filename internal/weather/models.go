package weather

import (
	"fmt"
	"time"
)

// Location is a logical place for which weather is reconciled. It is
// resolved once (coordinates plus domestic classification) and never
// mutated afterwards.
type Location struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// Domestic selects the default provider priority table. See
	// ClassifyDomestic for how it is derived from coordinates.
	Domestic bool `json:"domestic"`
}

// Key returns a canonical string key for indexing this location in the
// cache and stores. Identity is positional; Name is display-only.
func (l Location) Key() string {
	return fmt.Sprintf("%.4f:%.4f", l.Latitude, l.Longitude)
}

// usBox is a coarse lat/lng rectangle used for domestic classification.
type usBox struct {
	latLo, latHi, lngLo, lngHi float64
}

// Continental US, Alaska, Hawaii, Puerto Rico. Coarse on purpose: the
// domestic authority itself rejects points outside its coverage, this only
// picks which priority table to start from.
var usBoxes = []usBox{
	{24.5, 49.4, -125.0, -66.9},
	{51.0, 71.5, -170.0, -129.0},
	{18.5, 22.8, -160.6, -154.5},
	{17.5, 18.6, -67.5, -65.1},
}

// ClassifyDomestic reports whether the coordinates fall inside the domestic
// authority's coverage area.
func ClassifyDomestic(lat, lng float64) bool {
	for _, b := range usBoxes {
		if lat >= b.latLo && lat <= b.latHi && lng >= b.lngLo && lng <= b.lngHi {
			return true
		}
	}
	return false
}

// Section names the four independently fetchable parts of a weather result.
type Section string

const (
	SectionCurrent  Section = "current"
	SectionForecast Section = "forecast"
	SectionHourly   Section = "hourly_forecast"
	SectionAlerts   Section = "alerts"
)

// AllSections lists sections in output order.
var AllSections = []Section{SectionCurrent, SectionForecast, SectionHourly, SectionAlerts}

// CurrentConditions is the normalized observation snapshot. Units follow
// the domestic authority's conventions: °F, mph, inHg, miles. Nil means the
// contributing provider did not report the field, as opposed to a zero
// reading.
type CurrentConditions struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	FeelsLike     *float64 `json:"feels_like,omitempty"`
	DewPoint      *float64 `json:"dew_point,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	WindSpeed     *float64 `json:"wind_speed,omitempty"`
	WindGust      *float64 `json:"wind_gust,omitempty"`
	WindDirection *float64 `json:"wind_direction,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"`
	Visibility    *float64 `json:"visibility,omitempty"`
	UVIndex       *float64 `json:"uv_index,omitempty"`
	Condition     *string  `json:"condition,omitempty"`
}

// ForecastPeriod is one entry of the normalized daily/half-daily forecast
// timeline. Temperature carries the period's representative (high) value;
// TemperatureMin is only set by providers that report a low separately.
type ForecastPeriod struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	Name              *string   `json:"name,omitempty"`
	Temperature       *float64  `json:"temperature,omitempty"`
	TemperatureMin    *float64  `json:"temperature_min,omitempty"`
	Condition         *string   `json:"condition,omitempty"`
	PrecipProbability *float64  `json:"precip_probability,omitempty"`
	WindSpeed         *float64  `json:"wind_speed,omitempty"`
	Snowfall          *float64  `json:"snowfall,omitempty"`
	UVIndex           *float64  `json:"uv_index,omitempty"`
}

// HourlyPeriod is one entry of the normalized hourly timeline.
type HourlyPeriod struct {
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	Temperature       *float64  `json:"temperature,omitempty"`
	Condition         *string   `json:"condition,omitempty"`
	PrecipProbability *float64  `json:"precip_probability,omitempty"`
	WindSpeed         *float64  `json:"wind_speed,omitempty"`
	Humidity          *float64  `json:"humidity,omitempty"`
	UVIndex           *float64  `json:"uv_index,omitempty"`
}

// Severity is the alert severity scale, ordered Extreme > Severe >
// Moderate > Minor > Unknown.
type Severity string

const (
	SeverityUnknown  Severity = "Unknown"
	SeverityMinor    Severity = "Minor"
	SeverityModerate Severity = "Moderate"
	SeveritySevere   Severity = "Severe"
	SeverityExtreme  Severity = "Extreme"
)

var severityRank = map[Severity]int{
	SeverityUnknown:  0,
	SeverityMinor:    1,
	SeverityModerate: 2,
	SeveritySevere:   3,
	SeverityExtreme:  4,
}

// Rank returns the numeric ordering of a severity; unrecognized values rank
// lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AreaBounds is a coarse lat/lng bounding box for an alert's affected area,
// stored when the provider exposes geometry. Used to upgrade area matching
// from string comparison to geometric intersection.
type AreaBounds struct {
	LatLo float64 `json:"lat_lo"`
	LatHi float64 `json:"lat_hi"`
	LngLo float64 `json:"lng_lo"`
	LngHi float64 `json:"lng_hi"`
}

// Alert is one active hazard notification, normalized across providers.
// SourceProviders is populated during aggregation and lists every provider
// that reported the event.
type Alert struct {
	EventType       string      `json:"event_type"`
	AreaDescription string      `json:"area_description"`
	Onset           time.Time   `json:"onset"`
	Expires         time.Time   `json:"expires"`
	Description     string      `json:"description"`
	Instruction     string      `json:"instruction,omitempty"`
	Severity        Severity    `json:"severity"`
	Bounds          *AreaBounds `json:"bounds,omitempty"`
	SourceProviders []string    `json:"source_providers"`
}

// FieldConflict records a disagreement beyond the configured threshold.
// Candidates holds every successful provider's value for the field.
type FieldConflict struct {
	Field      string             `json:"field"`
	Candidates map[string]float64 `json:"candidate_values_by_provider"`
	Chosen     string             `json:"chosen_provider"`
}

// FieldAttribution maps merged field names to the provider that supplied
// the winning value, plus any conflicts encountered along the way.
type FieldAttribution struct {
	Sources   map[string]string `json:"sources"`
	Conflicts []FieldConflict   `json:"conflicts,omitempty"`
}

// NewFieldAttribution returns an empty attribution ready for use.
func NewFieldAttribution() FieldAttribution {
	return FieldAttribution{Sources: make(map[string]string)}
}

// WeatherData is the unified output of one orchestration cycle. The caller
// owns the returned value; the cache keeps its own copy.
type WeatherData struct {
	Location  Location  `json:"location"`
	FetchedAt time.Time `json:"fetched_at"`

	Current  *CurrentConditions `json:"current,omitempty"`
	Forecast []ForecastPeriod   `json:"forecast,omitempty"`
	Hourly   []HourlyPeriod     `json:"hourly_forecast,omitempty"`
	Alerts   []Alert            `json:"alerts"`

	Attribution        FieldAttribution `json:"attribution"`
	IncompleteSections []Section        `json:"incomplete_sections,omitempty"`

	Stale       bool       `json:"stale"`
	StaleSince  *time.Time `json:"stale_since,omitempty"`
	StaleReason string     `json:"stale_reason,omitempty"`
}

// HasSection reports whether the named section carries data.
func (w WeatherData) HasSection(s Section) bool {
	switch s {
	case SectionCurrent:
		return w.Current != nil
	case SectionForecast:
		return len(w.Forecast) > 0
	case SectionHourly:
		return len(w.Hourly) > 0
	case SectionAlerts:
		return len(w.Alerts) > 0
	}
	return false
}

// Clone returns a deep copy. Every pointer, slice, and map is re-allocated
// so cache readers and writers can never alias each other's data.
func (w WeatherData) Clone() WeatherData {
	out := w
	out.Current = w.Current.clone()
	out.Forecast = cloneForecast(w.Forecast)
	out.Hourly = cloneHourly(w.Hourly)
	out.Alerts = CloneAlerts(w.Alerts)
	out.Attribution = w.Attribution.clone()
	out.IncompleteSections = append([]Section(nil), w.IncompleteSections...)
	out.StaleSince = copyTime(w.StaleSince)
	return out
}

func (c *CurrentConditions) clone() *CurrentConditions {
	if c == nil {
		return nil
	}
	out := &CurrentConditions{}
	out.Temperature = copyFloat(c.Temperature)
	out.FeelsLike = copyFloat(c.FeelsLike)
	out.DewPoint = copyFloat(c.DewPoint)
	out.Humidity = copyFloat(c.Humidity)
	out.WindSpeed = copyFloat(c.WindSpeed)
	out.WindGust = copyFloat(c.WindGust)
	out.WindDirection = copyFloat(c.WindDirection)
	out.Pressure = copyFloat(c.Pressure)
	out.Visibility = copyFloat(c.Visibility)
	out.UVIndex = copyFloat(c.UVIndex)
	out.Condition = copyString(c.Condition)
	return out
}

func cloneForecast(ps []ForecastPeriod) []ForecastPeriod {
	if ps == nil {
		return nil
	}
	out := make([]ForecastPeriod, len(ps))
	for i, p := range ps {
		q := p
		q.Name = copyString(p.Name)
		q.Temperature = copyFloat(p.Temperature)
		q.TemperatureMin = copyFloat(p.TemperatureMin)
		q.Condition = copyString(p.Condition)
		q.PrecipProbability = copyFloat(p.PrecipProbability)
		q.WindSpeed = copyFloat(p.WindSpeed)
		q.Snowfall = copyFloat(p.Snowfall)
		q.UVIndex = copyFloat(p.UVIndex)
		out[i] = q
	}
	return out
}

func cloneHourly(ps []HourlyPeriod) []HourlyPeriod {
	if ps == nil {
		return nil
	}
	out := make([]HourlyPeriod, len(ps))
	for i, p := range ps {
		q := p
		q.Temperature = copyFloat(p.Temperature)
		q.Condition = copyString(p.Condition)
		q.PrecipProbability = copyFloat(p.PrecipProbability)
		q.WindSpeed = copyFloat(p.WindSpeed)
		q.Humidity = copyFloat(p.Humidity)
		q.UVIndex = copyFloat(p.UVIndex)
		out[i] = q
	}
	return out
}

// CloneAlerts deep-copies an alert list.
func CloneAlerts(as []Alert) []Alert {
	if as == nil {
		return nil
	}
	out := make([]Alert, len(as))
	for i, a := range as {
		b := a
		b.SourceProviders = append([]string(nil), a.SourceProviders...)
		if a.Bounds != nil {
			bounds := *a.Bounds
			b.Bounds = &bounds
		}
		out[i] = b
	}
	return out
}

func (a FieldAttribution) clone() FieldAttribution {
	out := NewFieldAttribution()
	for k, v := range a.Sources {
		out.Sources[k] = v
	}
	if a.Conflicts != nil {
		out.Conflicts = make([]FieldConflict, len(a.Conflicts))
		for i, c := range a.Conflicts {
			d := c
			d.Candidates = make(map[string]float64, len(c.Candidates))
			for k, v := range c.Candidates {
				d.Candidates[k] = v
			}
			out.Conflicts[i] = d
		}
	}
	return out
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Float64 returns a pointer to v. Convenience for building normalized
// records whose optional fields are pointers.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
