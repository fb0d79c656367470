package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// fusion engine.
type Metrics struct {
	FetchCycles   *prometheus.CounterVec // labels: result={success,partial,total_failure}
	CycleDuration prometheus.Histogram
	ProviderCalls *prometheus.CounterVec // labels: provider, outcome={success,failure}

	CacheLookups       *prometheus.CounterVec // labels: state={miss,fresh,stale}
	StaleServed        *prometheus.CounterVec // labels: reason
	RefreshesCoalesced prometheus.Counter
	FieldConflicts     prometheus.Counter
	AlertsDeduped      prometheus.Counter
	LocationsCached    prometheus.Gauge
}

// NewMetrics creates and registers all fusion metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FetchCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_fusion",
			Name:      "fetch_cycles_total",
			Help:      "Completed fetch cycles by result.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weather_fusion",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fan-out, fuse, aggregate cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_fusion",
			Name:      "provider_calls_total",
			Help:      "Provider fetches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_fusion",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by freshness state.",
		}, []string{"state"}),
		StaleServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_fusion",
			Name:      "stale_served_total",
			Help:      "Responses served from cache past their TTL, by reason.",
		}, []string{"reason"}),
		RefreshesCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_fusion",
			Name:      "refreshes_coalesced_total",
			Help:      "Background refreshes skipped because one was already in flight.",
		}),
		FieldConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_fusion",
			Name:      "field_conflicts_total",
			Help:      "Merged fields where providers disagreed beyond the threshold.",
		}),
		AlertsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_fusion",
			Name:      "alerts_deduped_total",
			Help:      "Redundant alerts removed by cross-provider aggregation.",
		}),
		LocationsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_fusion",
			Name:      "locations_cached",
			Help:      "Locations currently held in the freshness cache.",
		}),
	}

	prometheus.MustRegister(
		m.FetchCycles,
		m.CycleDuration,
		m.ProviderCalls,
		m.CacheLookups,
		m.StaleServed,
		m.RefreshesCoalesced,
		m.FieldConflicts,
		m.AlertsDeduped,
		m.LocationsCached,
	)

	return m
}

// NewMetricsForTesting creates Metrics whose collectors are never
// registered, so repeated constructions across tests cannot panic with
// duplicate registration.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FetchCycles:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "weather_fusion", Name: "fetch_cycles_total"}, []string{"result"}),
		CycleDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "weather_fusion", Name: "cycle_duration_seconds"}),
		ProviderCalls:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "weather_fusion", Name: "provider_calls_total"}, []string{"provider", "outcome"}),
		CacheLookups:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "weather_fusion", Name: "cache_lookups_total"}, []string{"state"}),
		StaleServed:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "weather_fusion", Name: "stale_served_total"}, []string{"reason"}),
		RefreshesCoalesced: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "weather_fusion", Name: "refreshes_coalesced_total"}),
		FieldConflicts:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "weather_fusion", Name: "field_conflicts_total"}),
		AlertsDeduped:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "weather_fusion", Name: "alerts_deduped_total"}),
		LocationsCached:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "weather_fusion", Name: "locations_cached"}),
	}
}

// The recording helpers below are nil-safe so callers that run without
// metrics (tests, library embedding) can skip the wiring entirely.

func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FetchCycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveProviderCall(provider string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.ProviderCalls.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveCacheLookup(state string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveStaleServed(reason string) {
	if m == nil {
		return
	}
	m.StaleServed.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRefreshCoalesced() {
	if m == nil {
		return
	}
	m.RefreshesCoalesced.Inc()
}

func (m *Metrics) AddConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FieldConflicts.Add(float64(n))
}

func (m *Metrics) AddAlertsDeduped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AlertsDeduped.Add(float64(n))
}

func (m *Metrics) SetLocationsCached(n int) {
	if m == nil {
		return
	}
	m.LocationsCached.Set(float64(n))
}
