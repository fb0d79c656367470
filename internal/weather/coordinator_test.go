package weather

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter implements Adapter with overridable section behaviour. Nil
// functions return canned data so tests only script what they care about.
type fakeAdapter struct {
	name     string
	current  func(context.Context) (*CurrentConditions, error)
	forecast func(context.Context) ([]ForecastPeriod, error)
	hourly   func(context.Context) ([]HourlyPeriod, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchCurrent(ctx context.Context, loc Location) (*CurrentConditions, error) {
	if f.current != nil {
		return f.current(ctx)
	}
	return &CurrentConditions{Temperature: Float64(70)}, nil
}

func (f *fakeAdapter) FetchForecast(ctx context.Context, loc Location) ([]ForecastPeriod, error) {
	if f.forecast != nil {
		return f.forecast(ctx)
	}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return []ForecastPeriod{{Start: start, End: start.Add(24 * time.Hour), Temperature: Float64(72)}}, nil
}

func (f *fakeAdapter) FetchHourly(ctx context.Context, loc Location) ([]HourlyPeriod, error) {
	if f.hourly != nil {
		return f.hourly(ctx)
	}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return []HourlyPeriod{{Start: start, End: start.Add(time.Hour), Temperature: Float64(71)}}, nil
}

// fakeAlertAdapter adds the alert capability on top of fakeAdapter.
type fakeAlertAdapter struct {
	fakeAdapter
	alerts     func(context.Context) ([]Alert, error)
	alertCalls atomic.Int32
}

func (f *fakeAlertAdapter) FetchAlerts(ctx context.Context, loc Location) ([]Alert, error) {
	f.alertCalls.Add(1)
	if f.alerts != nil {
		return f.alerts(ctx)
	}
	return nil, nil
}

var testLoc = Location{Name: "NYC", Latitude: 40.7128, Longitude: -74.0060, Domestic: true}

func TestFetchCollectsAllSections(t *testing.T) {
	a := &fakeAlertAdapter{fakeAdapter: fakeAdapter{name: "nws"}}
	b := &fakeAdapter{name: "openmeteo"}
	c := NewFetchCoordinator([]Adapter{a, b}, time.Second)

	records := c.Fetch(context.Background(), testLoc, true)
	require.Len(t, records, 2)

	// Registration order, not completion order.
	assert.Equal(t, "nws", records[0].Provider)
	assert.Equal(t, "openmeteo", records[1].Provider)

	for _, rec := range records {
		assert.True(t, rec.Success)
		assert.Empty(t, rec.Err)
		assert.Empty(t, rec.SectionErrors)
		assert.NotNil(t, rec.Current)
		assert.Len(t, rec.Forecast, 1)
		assert.Len(t, rec.Hourly, 1)
		assert.False(t, rec.FetchedAt.IsZero())
	}

	assert.True(t, records[0].AlertsFetched)
	assert.False(t, records[1].AlertsFetched, "adapter without the capability never fetches alerts")
}

func TestFetchSectionFailureIsData(t *testing.T) {
	a := &fakeAdapter{
		name: "nws",
		current: func(context.Context) (*CurrentConditions, error) {
			return nil, errors.New("station offline")
		},
	}
	c := NewFetchCoordinator([]Adapter{a}, time.Second)

	records := c.Fetch(context.Background(), testLoc, false)
	require.Len(t, records, 1)
	rec := records[0]

	assert.True(t, rec.Success, "one failed section does not fail the record")
	assert.Empty(t, rec.Err)
	assert.Nil(t, rec.Current)
	assert.True(t, rec.SectionFailed(SectionCurrent))
	assert.Contains(t, rec.SectionErrors[SectionCurrent], "station offline")
	assert.Len(t, rec.Forecast, 1)
}

func TestFetchAllSectionsFailed(t *testing.T) {
	fail := errors.New("api down")
	a := &fakeAdapter{
		name:     "nws",
		current:  func(context.Context) (*CurrentConditions, error) { return nil, fail },
		forecast: func(context.Context) ([]ForecastPeriod, error) { return nil, fail },
		hourly:   func(context.Context) ([]HourlyPeriod, error) { return nil, fail },
	}
	c := NewFetchCoordinator([]Adapter{a}, time.Second)

	records := c.Fetch(context.Background(), testLoc, false)
	rec := records[0]

	assert.False(t, rec.Success)
	assert.Equal(t, "current: api down; forecast: api down; hourly_forecast: api down", rec.Err)
}

func TestFetchTimeoutBoundsTheCycle(t *testing.T) {
	// The slow call ignores its context entirely; the coordinator must
	// abandon it rather than wait.
	slow := &fakeAdapter{
		name: "nws",
		current: func(context.Context) (*CurrentConditions, error) {
			time.Sleep(2 * time.Second)
			return &CurrentConditions{Temperature: Float64(0)}, nil
		},
	}
	fast := &fakeAdapter{name: "openmeteo"}
	c := NewFetchCoordinator([]Adapter{slow, fast}, 50*time.Millisecond)

	start := time.Now()
	records := c.Fetch(context.Background(), testLoc, false)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "cycle cost tracks the timeout, not the slow call")

	assert.Nil(t, records[0].Current)
	assert.Contains(t, records[0].SectionErrors[SectionCurrent], "timed out after 50ms")
	assert.True(t, records[0].Success, "other sections still landed")

	assert.True(t, records[1].Success)
	assert.Empty(t, records[1].SectionErrors, "sibling provider is not affected by the slow one")
	assert.NotNil(t, records[1].Current)
}

func TestFetchPanicConvertedToError(t *testing.T) {
	a := &fakeAdapter{
		name: "nws",
		forecast: func(context.Context) ([]ForecastPeriod, error) {
			panic("nil dereference in decoder")
		},
	}
	c := NewFetchCoordinator([]Adapter{a}, time.Second)

	records := c.Fetch(context.Background(), testLoc, false)
	rec := records[0]

	assert.True(t, rec.Success)
	assert.Contains(t, rec.SectionErrors[SectionForecast], "provider panic: nil dereference in decoder")
	assert.NotNil(t, rec.Current)
}

func TestFetchCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := func(ctx context.Context) (*CurrentConditions, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a := &fakeAdapter{name: "nws", current: block}
	c := NewFetchCoordinator([]Adapter{a}, time.Second)

	records := c.Fetch(ctx, testLoc, false)
	assert.True(t, records[0].SectionFailed(SectionCurrent))
}

func TestFetchAlertsNotRequested(t *testing.T) {
	a := &fakeAlertAdapter{fakeAdapter: fakeAdapter{name: "nws"}}
	c := NewFetchCoordinator([]Adapter{a}, time.Second)

	records := c.Fetch(context.Background(), testLoc, false)

	assert.Equal(t, int32(0), a.alertCalls.Load())
	assert.False(t, records[0].AlertsFetched)
	assert.False(t, records[0].SectionFailed(SectionAlerts))
}

func TestFetchAlertFailureCountsWhenRequested(t *testing.T) {
	fail := errors.New("alert feed 503")
	a := &fakeAlertAdapter{
		fakeAdapter: fakeAdapter{
			name:     "nws",
			current:  func(context.Context) (*CurrentConditions, error) { return nil, fail },
			forecast: func(context.Context) ([]ForecastPeriod, error) { return nil, fail },
			hourly:   func(context.Context) ([]HourlyPeriod, error) { return nil, fail },
		},
		alerts: func(context.Context) ([]Alert, error) { return nil, fail },
	}
	c := NewFetchCoordinator([]Adapter{a}, time.Second)

	records := c.Fetch(context.Background(), testLoc, true)
	rec := records[0]

	assert.False(t, rec.Success)
	assert.Equal(t,
		"current: alert feed 503; forecast: alert feed 503; hourly_forecast: alert feed 503; alerts: alert feed 503",
		rec.Err)
}

func TestFetchZeroAlertsIsStillSuccess(t *testing.T) {
	a := &fakeAlertAdapter{
		fakeAdapter: fakeAdapter{name: "nws"},
		alerts:      func(context.Context) ([]Alert, error) { return []Alert{}, nil },
	}
	c := NewFetchCoordinator([]Adapter{a}, time.Second)

	records := c.Fetch(context.Background(), testLoc, true)
	rec := records[0]

	assert.True(t, rec.AlertsFetched, "a quiet day is not a failed fetch")
	assert.Empty(t, rec.Alerts)
	assert.False(t, rec.SectionFailed(SectionAlerts))
}

func TestAdapterNames(t *testing.T) {
	c := NewFetchCoordinator([]Adapter{
		&fakeAdapter{name: "nws"},
		&fakeAdapter{name: "openmeteo"},
	}, 0)

	assert.Equal(t, []string{"nws", "openmeteo"}, c.AdapterNames())
	assert.Equal(t, DefaultCallTimeout, c.Timeout())
}
