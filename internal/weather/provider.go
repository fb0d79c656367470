package weather

import (
	"context"
	"time"
)

// Adapter abstracts one external weather source (e.g. NWS, Open-Meteo,
// Visual Crossing). Implementations map their native schema into the
// normalized types at this boundary; provider-specific shapes never reach
// the fusion engine. Each method either returns its section or an error;
// assembling per-provider SourceRecords is the coordinator's job, so a
// failing adapter can never take a fetch cycle down with it.
type Adapter interface {
	Name() string
	FetchCurrent(ctx context.Context, loc Location) (*CurrentConditions, error)
	FetchForecast(ctx context.Context, loc Location) ([]ForecastPeriod, error)
	FetchHourly(ctx context.Context, loc Location) ([]HourlyPeriod, error)
}

// AlertAdapter marks adapters that can also supply hazard alerts. The
// coordinator type-asserts for this capability; providers without it are
// simply absent from alert aggregation.
type AlertAdapter interface {
	Adapter
	FetchAlerts(ctx context.Context, loc Location) ([]Alert, error)
}

// SourceRecord is one provider's contribution for one location for one
// fetch cycle: whichever sections succeeded, plus failure details for the
// ones that did not. Records are created by the coordinator, consumed by
// the fusion stage, and discarded after the merge.
type SourceRecord struct {
	Provider  string
	FetchedAt time.Time

	Current  *CurrentConditions
	Forecast []ForecastPeriod
	Hourly   []HourlyPeriod
	Alerts   []Alert

	// AlertsFetched distinguishes "alert fetch succeeded with zero active
	// alerts" from "alerts were not requested or the fetch failed".
	AlertsFetched bool

	// Success is true when at least one requested section was retrieved.
	// Err summarizes the failed sections; SectionErrors carries them
	// individually. Failure is data here, never control flow.
	Success       bool
	Err           string
	SectionErrors map[Section]string
}

// SectionFailed reports whether the named section's fetch failed for this
// record.
func (r SourceRecord) SectionFailed(s Section) bool {
	_, failed := r.SectionErrors[s]
	return failed
}

// Store journals unified results per location. The in-memory implementation
// is the default; a Redis-backed one is selected by configuration.
type Store interface {
	Save(loc Location, data WeatherData)
	Latest(loc Location) (WeatherData, error)
	Range(loc Location, from, to time.Time) ([]WeatherData, error)
}

// ResultPublisher receives every successfully refreshed unified result, for
// downstream consumers outside this process. Publishing failures are logged
// and never fail the cycle.
type ResultPublisher interface {
	Publish(ctx context.Context, data WeatherData) error
}
