package weather

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-fusion/internal/observability"
)

type recordingStore struct {
	mu    sync.Mutex
	saved []WeatherData
}

func (r *recordingStore) Save(loc Location, data WeatherData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, data)
}

func (r *recordingStore) Latest(loc Location) (WeatherData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return WeatherData{}, errors.New("empty")
	}
	return r.saved[len(r.saved)-1], nil
}

func (r *recordingStore) Range(loc Location, from, to time.Time) ([]WeatherData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WeatherData(nil), r.saved...), nil
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []WeatherData
	err       error
}

func (r *recordingPublisher) Publish(ctx context.Context, data WeatherData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, data)
	return r.err
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func newServiceFor(adapters []Adapter, ttl time.Duration, store Store, pub ResultPublisher) *Service {
	return NewService(ServiceOptions{
		Coordinator: NewFetchCoordinator(adapters, 5*time.Second),
		Priority:    DefaultSourcePriorityConfig(),
		Aggregator:  NewAlertAggregator(time.Hour),
		Cache:       NewFreshnessCache(ttl),
		Store:       store,
		Publisher:   pub,
		Metrics:     observability.NewMetricsForTesting(),
	})
}

func TestGetMissFetchesOnceThenServesFresh(t *testing.T) {
	freezeClock(t)

	var calls atomic.Int32
	a := &fakeAdapter{
		name: "nws",
		current: func(context.Context) (*CurrentConditions, error) {
			calls.Add(1)
			return &CurrentConditions{Temperature: Float64(70)}, nil
		},
	}
	svc := newServiceFor([]Adapter{a}, 10*time.Minute, nil, nil)

	data := svc.Get(context.Background(), testLoc, false)
	require.NotNil(t, data.Current)
	assert.Equal(t, 70.0, *data.Current.Temperature)
	assert.False(t, data.Stale)
	assert.Equal(t, int32(1), calls.Load())

	svc.Get(context.Background(), testLoc, false)
	assert.Equal(t, int32(1), calls.Load(), "a fresh hit never reaches the providers")
	assert.Equal(t, 1, svc.CachedLocations())
}

func TestGetStaleServesOldDataAndRefreshesBehind(t *testing.T) {
	fake := freezeClock(t)

	var calls atomic.Int32
	a := &fakeAdapter{
		name: "nws",
		current: func(context.Context) (*CurrentConditions, error) {
			if calls.Add(1) == 1 {
				return &CurrentConditions{Temperature: Float64(70)}, nil
			}
			return &CurrentConditions{Temperature: Float64(55)}, nil
		},
	}
	svc := newServiceFor([]Adapter{a}, 10*time.Minute, nil, nil)

	first := svc.Get(context.Background(), testLoc, false)
	cachedAt := clock.Now().UTC()
	require.Equal(t, 70.0, *first.Current.Temperature)

	fake.Advance(11 * time.Minute)

	stale := svc.Get(context.Background(), testLoc, false)
	assert.Equal(t, 70.0, *stale.Current.Temperature, "the stale value is served, not the new one")
	assert.True(t, stale.Stale)
	assert.Equal(t, StaleReasonExpired, stale.StaleReason)
	require.NotNil(t, stale.StaleSince)
	assert.True(t, stale.StaleSince.Equal(cachedAt))

	require.Eventually(t, func() bool {
		return svc.Get(context.Background(), testLoc, false).Stale == false
	}, 2*time.Second, 10*time.Millisecond, "the background refresh lands for later callers")

	refreshed := svc.Get(context.Background(), testLoc, false)
	assert.Equal(t, 55.0, *refreshed.Current.Temperature)
}

func TestStaleRefreshesAreCoalesced(t *testing.T) {
	fake := freezeClock(t)

	gate := make(chan struct{})
	var calls atomic.Int32
	a := &fakeAdapter{
		name: "nws",
		current: func(context.Context) (*CurrentConditions, error) {
			calls.Add(1)
			<-gate
			return &CurrentConditions{Temperature: Float64(55)}, nil
		},
	}
	svc := newServiceFor([]Adapter{a}, 10*time.Minute, nil, nil)

	svc.cache.Put(testLoc, sampleData(testLoc))
	fake.Advance(11 * time.Minute)

	stale1 := svc.Get(context.Background(), testLoc, false)
	assert.True(t, stale1.Stale)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	stale2 := svc.Get(context.Background(), testLoc, false)
	assert.True(t, stale2.Stale)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "a second stale hit while a refresh is in flight starts nothing")

	close(gate)
	require.Eventually(t, func() bool {
		_, state := svc.cache.Get(testLoc)
		return state == CacheFresh
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshTotalFailureWithoutCache(t *testing.T) {
	freezeClock(t)

	fail := errors.New("everything is down")
	a := &fakeAlertAdapter{
		fakeAdapter: fakeAdapter{
			name:     "nws",
			current:  func(context.Context) (*CurrentConditions, error) { return nil, fail },
			forecast: func(context.Context) ([]ForecastPeriod, error) { return nil, fail },
			hourly:   func(context.Context) ([]HourlyPeriod, error) { return nil, fail },
		},
		alerts: func(context.Context) ([]Alert, error) { return nil, fail },
	}
	svc := newServiceFor([]Adapter{a}, 10*time.Minute, nil, nil)

	data := svc.Refresh(context.Background(), testLoc, true)

	assert.Nil(t, data.Current)
	assert.Empty(t, data.Forecast)
	assert.Equal(t, AllSections, data.IncompleteSections, "every section is flagged incomplete")
	assert.False(t, data.FetchedAt.IsZero())
	assert.NotNil(t, data.Attribution.Sources)

	_, state := svc.cache.Get(testLoc)
	assert.Equal(t, CacheMiss, state, "a failed cycle writes nothing")
}

func TestRefreshTotalFailureKeepsLastGoodData(t *testing.T) {
	fake := freezeClock(t)

	fail := errors.New("everything is down")
	a := &fakeAdapter{
		name:     "nws",
		current:  func(context.Context) (*CurrentConditions, error) { return nil, fail },
		forecast: func(context.Context) ([]ForecastPeriod, error) { return nil, fail },
		hourly:   func(context.Context) ([]HourlyPeriod, error) { return nil, fail },
	}
	svc := newServiceFor([]Adapter{a}, 10*time.Minute, nil, nil)

	svc.cache.Put(testLoc, sampleData(testLoc))
	cachedAt := clock.Now().UTC()
	fake.Advance(11 * time.Minute)

	data := svc.Refresh(context.Background(), testLoc, false)

	require.NotNil(t, data.Current)
	assert.Equal(t, 70.0, *data.Current.Temperature, "the last good result survives a failed cycle")
	assert.True(t, data.Stale)
	assert.Equal(t, StaleReasonAllFailed, data.StaleReason)
	require.NotNil(t, data.StaleSince)
	assert.True(t, data.StaleSince.Equal(cachedAt))

	entry, _ := svc.cache.Get(testLoc)
	assert.False(t, entry.Data.Stale, "the cached entry itself is never overwritten by failure")
}

func TestRefreshPartialFailureFlagsOnlyAlerts(t *testing.T) {
	freezeClock(t)

	a := &fakeAlertAdapter{
		fakeAdapter: fakeAdapter{name: "nws"},
		alerts: func(context.Context) ([]Alert, error) {
			return nil, errors.New("alert feed 503")
		},
	}
	b := &fakeAdapter{name: "openmeteo"}
	svc := newServiceFor([]Adapter{a, b}, 10*time.Minute, nil, nil)

	data := svc.Refresh(context.Background(), testLoc, true)

	assert.Equal(t, []Section{SectionAlerts}, data.IncompleteSections)
	assert.NotNil(t, data.Current)
	assert.NotEmpty(t, data.Forecast)
	assert.NotEmpty(t, data.Hourly)
	assert.Empty(t, data.Alerts)
}

func TestRefreshMergesAlertsAcrossProviders(t *testing.T) {
	freezeClock(t)

	onset := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	nws := &fakeAlertAdapter{
		fakeAdapter: fakeAdapter{name: "nws"},
		alerts: func(context.Context) ([]Alert, error) {
			return []Alert{{EventType: "Flood Advisory", AreaDescription: "Litchfield County", Onset: onset, Severity: SeverityMinor}}, nil
		},
	}
	vc := &fakeAlertAdapter{
		fakeAdapter: fakeAdapter{name: "visualcrossing"},
		alerts: func(context.Context) ([]Alert, error) {
			return []Alert{{EventType: "Flood Advisory", Onset: onset.Add(10 * time.Minute), Severity: SeverityModerate}}, nil
		},
	}
	svc := newServiceFor([]Adapter{nws, vc}, 10*time.Minute, nil, nil)

	data := svc.Refresh(context.Background(), testLoc, true)

	require.Len(t, data.Alerts, 1)
	assert.Equal(t, []string{"nws", "visualcrossing"}, data.Alerts[0].SourceProviders)
	assert.Equal(t, SeverityModerate, data.Alerts[0].Severity)
	assert.Empty(t, data.IncompleteSections)
}

func TestRefreshStoresHistoryAndPublishes(t *testing.T) {
	freezeClock(t)

	store := &recordingStore{}
	pub := &recordingPublisher{}
	svc := newServiceFor([]Adapter{&fakeAdapter{name: "nws"}}, 10*time.Minute, store, pub)

	svc.Refresh(context.Background(), testLoc, false)

	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, pub.count())
}

func TestRefreshSkipsStoreAndPublisherOnFailure(t *testing.T) {
	freezeClock(t)

	fail := errors.New("down")
	a := &fakeAdapter{
		name:     "nws",
		current:  func(context.Context) (*CurrentConditions, error) { return nil, fail },
		forecast: func(context.Context) ([]ForecastPeriod, error) { return nil, fail },
		hourly:   func(context.Context) ([]HourlyPeriod, error) { return nil, fail },
	}
	store := &recordingStore{}
	pub := &recordingPublisher{}
	svc := newServiceFor([]Adapter{a}, 10*time.Minute, store, pub)

	svc.Refresh(context.Background(), testLoc, false)

	assert.Equal(t, 0, store.count(), "failed cycles are not journaled")
	assert.Equal(t, 0, pub.count(), "failed cycles are not published")
}

func TestPublishErrorDoesNotFailTheCycle(t *testing.T) {
	freezeClock(t)

	pub := &recordingPublisher{err: errors.New("broker unreachable")}
	svc := newServiceFor([]Adapter{&fakeAdapter{name: "nws"}}, 10*time.Minute, nil, pub)

	data := svc.Refresh(context.Background(), testLoc, false)

	require.NotNil(t, data.Current)
	_, state := svc.cache.Get(testLoc)
	assert.Equal(t, CacheFresh, state, "the result is cached even when publishing fails")
}

func TestHistoryWithoutStore(t *testing.T) {
	svc := newServiceFor([]Adapter{&fakeAdapter{name: "nws"}}, 10*time.Minute, nil, nil)

	_, err := svc.Latest(testLoc)
	assert.Error(t, err)

	_, err = svc.History(testLoc, time.Time{}, time.Time{})
	assert.Error(t, err)
}
