package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-fusion/internal/observability"
)

// StaleReasonExpired and StaleReasonAllFailed are the two reasons a caller
// can see stale data.
const (
	StaleReasonExpired   = "ttl expired"
	StaleReasonAllFailed = "all providers failed"
)

// Service is the orchestrator: one entry point that decides between serving
// from cache, refreshing in the background, and fetching synchronously.
// Provider trouble never surfaces as an error from here; it shows up inside
// the returned WeatherData as staleness and incomplete sections.
type Service struct {
	coordinator *FetchCoordinator
	priority    SourcePriorityConfig
	aggregator  *AlertAggregator
	cache       *FreshnessCache

	store     Store
	publisher ResultPublisher
	metrics   *observability.Metrics
}

// ServiceOptions wires a Service. Coordinator, Priority, Aggregator and
// Cache are required; Store, Publisher and Metrics may be nil.
type ServiceOptions struct {
	Coordinator *FetchCoordinator
	Priority    SourcePriorityConfig
	Aggregator  *AlertAggregator
	Cache       *FreshnessCache
	Store       Store
	Publisher   ResultPublisher
	Metrics     *observability.Metrics
}

// NewService creates the orchestrator.
func NewService(opts ServiceOptions) *Service {
	return &Service{
		coordinator: opts.Coordinator,
		priority:    opts.Priority,
		aggregator:  opts.Aggregator,
		cache:       opts.Cache,
		store:       opts.Store,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
	}
}

// Get serves weather for loc. A fresh cache entry returns immediately. A
// stale entry is returned flagged as stale while a background refresh is
// kicked off for the next caller. A miss fetches synchronously. The result
// is always structurally valid, possibly marked stale or incomplete.
func (s *Service) Get(ctx context.Context, loc Location, includeAlerts bool) WeatherData {
	entry, state := s.cache.Get(loc)
	s.metrics.ObserveCacheLookup(state.String())

	switch state {
	case CacheFresh:
		return entry.Data

	case CacheStale:
		s.refreshAsync(loc, includeAlerts)
		s.metrics.ObserveStaleServed(StaleReasonExpired)
		return markStale(entry, StaleReasonExpired)

	default:
		return s.Refresh(ctx, loc, includeAlerts)
	}
}

// Refresh runs one synchronous fetch cycle for loc and caches the result.
// On total provider failure it degrades: the newest cache entry flagged
// stale when one exists, otherwise an empty result with every section
// marked incomplete. The last good cache entry is never overwritten by a
// failed cycle.
func (s *Service) Refresh(ctx context.Context, loc Location, includeAlerts bool) WeatherData {
	data, ok := s.runCycle(ctx, loc, includeAlerts)
	if ok {
		s.cache.Put(loc, data)
		if s.store != nil {
			s.store.Save(loc, data)
		}
		s.publish(ctx, data)
		return data
	}

	entry, state := s.cache.Get(loc)
	switch state {
	case CacheFresh:
		// A concurrent refresh landed while ours was failing.
		return entry.Data
	case CacheStale:
		s.metrics.ObserveStaleServed(StaleReasonAllFailed)
		return markStale(entry, StaleReasonAllFailed)
	default:
		return emptyResult(loc)
	}
}

// CachedLocations reports how many locations currently have a cached entry.
func (s *Service) CachedLocations() int {
	return s.cache.Len()
}

// Latest returns the newest stored result for loc.
func (s *Service) Latest(loc Location) (WeatherData, error) {
	if s.store == nil {
		return WeatherData{}, fmt.Errorf("history store not configured")
	}
	return s.store.Latest(loc)
}

// History returns stored results for loc inside [from, to].
func (s *Service) History(loc Location, from, to time.Time) ([]WeatherData, error) {
	if s.store == nil {
		return nil, fmt.Errorf("history store not configured")
	}
	return s.store.Range(loc, from, to)
}

// refreshAsync starts a background refresh unless one is already in flight
// for this location. The refresh runs under its own deadline, detached
// from the request that triggered it; its result lands in the cache for
// the next caller and never rewrites a response already delivered.
func (s *Service) refreshAsync(loc Location, includeAlerts bool) {
	if !s.cache.TryBeginRefresh(loc) {
		s.metrics.ObserveRefreshCoalesced()
		return
	}
	go func() {
		defer s.cache.EndRefresh(loc)
		ctx, cancel := context.WithTimeout(context.Background(), s.coordinator.Timeout()+10*time.Second)
		defer cancel()
		s.Refresh(ctx, loc, includeAlerts)
	}()
}

// runCycle is fan-out, fuse, aggregate. The bool reports whether at least
// one provider contributed anything.
func (s *Service) runCycle(ctx context.Context, loc Location, includeAlerts bool) (WeatherData, bool) {
	cycleID := uuid.NewString()
	start := clock.Now()

	records := s.coordinator.Fetch(ctx, loc, includeAlerts)

	okCount := 0
	for _, r := range records {
		s.metrics.ObserveProviderCall(r.Provider, r.Success)
		if r.Success {
			okCount++
		}
	}

	log := logrus.WithFields(logrus.Fields{
		"cycle":    cycleID,
		"location": loc.Key(),
	})

	if okCount == 0 {
		log.WithField("providers", len(records)).Warn("fetch cycle failed: no provider succeeded")
		s.metrics.ObserveCycle("total_failure", clock.Now().Sub(start))
		return WeatherData{}, false
	}

	current, attribution := MergeCurrent(records, s.priority, loc.Domestic)

	forecast, forecastAttr := MergeForecast(records, s.priority, loc.Domestic)
	mergeAttributions(&attribution, forecastAttr)

	hourly, hourlyAttr := MergeHourly(records, s.priority, loc.Domestic)
	mergeAttributions(&attribution, hourlyAttr)

	var alerts []Alert
	alertsFetched := false
	if includeAlerts {
		byProvider := make(map[string][]Alert)
		rawAlerts := 0
		for _, r := range records {
			if r.AlertsFetched {
				byProvider[r.Provider] = r.Alerts
				rawAlerts += len(r.Alerts)
				alertsFetched = true
			}
		}
		alerts = s.aggregator.Aggregate(byProvider)
		s.metrics.AddAlertsDeduped(rawAlerts - len(alerts))
	}

	var incomplete []Section
	if current == nil {
		incomplete = append(incomplete, SectionCurrent)
	}
	if len(forecast) == 0 {
		incomplete = append(incomplete, SectionForecast)
	}
	if len(hourly) == 0 {
		incomplete = append(incomplete, SectionHourly)
	}
	if includeAlerts && !alertsFetched {
		incomplete = append(incomplete, SectionAlerts)
	}

	data := WeatherData{
		Location:           loc,
		FetchedAt:          clock.Now().UTC(),
		Current:            current,
		Forecast:           forecast,
		Hourly:             hourly,
		Alerts:             alerts,
		Attribution:        attribution,
		IncompleteSections: incomplete,
	}

	result := "success"
	if len(incomplete) > 0 {
		result = "partial"
	}
	elapsed := clock.Now().Sub(start)
	s.metrics.ObserveCycle(result, elapsed)
	s.metrics.AddConflicts(len(attribution.Conflicts))

	log.WithFields(logrus.Fields{
		"providers_ok":     okCount,
		"providers_failed": len(records) - okCount,
		"conflicts":        len(attribution.Conflicts),
		"incomplete":       incomplete,
		"elapsed_ms":       elapsed.Milliseconds(),
	}).Info("fetch cycle complete")

	return data, true
}

func (s *Service) publish(ctx context.Context, data WeatherData) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, data); err != nil {
		logrus.WithField("location", data.Location.Key()).WithError(err).Error("result publish failed")
	}
}

// markStale flags a cached entry for serving past its window. The entry is
// already a private copy, so mutating it here is safe.
func markStale(entry CachedEntry, reason string) WeatherData {
	data := entry.Data
	since := entry.CachedAt
	data.Stale = true
	data.StaleSince = &since
	data.StaleReason = reason
	return data
}

// emptyResult is the total-failure, nothing-cached answer: structurally
// valid, every section flagged incomplete.
func emptyResult(loc Location) WeatherData {
	sections := make([]Section, len(AllSections))
	copy(sections, AllSections)
	return WeatherData{
		Location:           loc,
		FetchedAt:          clock.Now().UTC(),
		Attribution:        NewFieldAttribution(),
		IncompleteSections: sections,
	}
}
