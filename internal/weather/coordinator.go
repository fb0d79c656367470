package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCallTimeout bounds a single provider section call when the
// coordinator is built without an explicit timeout.
const DefaultCallTimeout = 5 * time.Second

// FetchCoordinator fans a fetch cycle out across every registered adapter
// concurrently. Each section call is individually bounded by the call
// timeout, so cycle wall-clock cost tracks the slowest single call rather
// than the sum. Provider failures never escape as errors: they come back
// inside the SourceRecord.
type FetchCoordinator struct {
	adapters    []Adapter
	callTimeout time.Duration
}

// NewFetchCoordinator builds a coordinator over the given adapters.
// A non-positive timeout falls back to DefaultCallTimeout.
func NewFetchCoordinator(adapters []Adapter, callTimeout time.Duration) *FetchCoordinator {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &FetchCoordinator{
		adapters:    adapters,
		callTimeout: callTimeout,
	}
}

// Timeout reports the per-call bound the coordinator enforces.
func (c *FetchCoordinator) Timeout() time.Duration {
	return c.callTimeout
}

// AdapterNames returns the registered provider names in registration order.
func (c *FetchCoordinator) AdapterNames() []string {
	names := make([]string, 0, len(c.adapters))
	for _, a := range c.adapters {
		names = append(names, a.Name())
	}
	return names
}

// Fetch runs one cycle for loc: every adapter in parallel, every section of
// every adapter in parallel. It returns one SourceRecord per adapter, in
// registration order, after all calls have completed or timed out.
// Cancellation of one call never cancels a sibling.
func (c *FetchCoordinator) Fetch(ctx context.Context, loc Location, includeAlerts bool) []SourceRecord {
	records := make([]SourceRecord, len(c.adapters))

	var wg sync.WaitGroup
	for i, a := range c.adapters {
		i, a := i, a
		wg.Add(1)
		go func() {
			defer wg.Done()
			records[i] = c.fetchOne(ctx, a, loc, includeAlerts)
		}()
	}
	wg.Wait()

	return records
}

// fetchOne collects all sections for a single adapter. Sections run
// concurrently; a section that errors, panics, or outlives the timeout
// leaves its slot nil and its reason in SectionErrors.
func (c *FetchCoordinator) fetchOne(ctx context.Context, a Adapter, loc Location, includeAlerts bool) SourceRecord {
	rec := SourceRecord{
		Provider:      a.Name(),
		FetchedAt:     clock.Now().UTC(),
		SectionErrors: make(map[Section]string),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	// fetch writes only goroutine-local state; commit runs in this record's
	// section goroutine after a successful bounded call, so abandoned calls
	// can never mutate the record after it is returned.
	section := func(s Section, fetch func(context.Context) error, commit func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.bounded(ctx, fetch); err != nil {
				mu.Lock()
				rec.SectionErrors[s] = err.Error()
				mu.Unlock()
				logrus.WithFields(logrus.Fields{
					"provider": rec.Provider,
					"section":  s,
					"location": loc.Key(),
				}).WithError(err).Warn("provider section fetch failed")
				return
			}
			commit()
		}()
	}

	var cur *CurrentConditions
	section(SectionCurrent, func(ctx context.Context) error {
		var err error
		cur, err = a.FetchCurrent(ctx, loc)
		return err
	}, func() { rec.Current = cur })

	var forecast []ForecastPeriod
	section(SectionForecast, func(ctx context.Context) error {
		var err error
		forecast, err = a.FetchForecast(ctx, loc)
		return err
	}, func() { rec.Forecast = forecast })

	var hourly []HourlyPeriod
	section(SectionHourly, func(ctx context.Context) error {
		var err error
		hourly, err = a.FetchHourly(ctx, loc)
		return err
	}, func() { rec.Hourly = hourly })

	if includeAlerts {
		if aa, ok := a.(AlertAdapter); ok {
			var alerts []Alert
			section(SectionAlerts, func(ctx context.Context) error {
				var err error
				alerts, err = aa.FetchAlerts(ctx, loc)
				return err
			}, func() {
				rec.Alerts = alerts
				rec.AlertsFetched = true
			})
		}
	}

	wg.Wait()

	rec.Success, rec.Err = summarize(rec)
	return rec
}

// bounded runs call under the per-call timeout. If the call ignores its
// context and keeps running past the deadline, it is abandoned; its result
// is discarded. A panic inside the call is converted into an error.
func (c *FetchCoordinator) bounded(ctx context.Context, call func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("provider panic: %v", r)
			}
		}()
		done <- call(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out after %s", c.callTimeout)
		}
		return ctx.Err()
	}
}

// summarize decides record-level success: any requested section landing
// counts. When everything failed, Err carries the per-section reasons in a
// fixed order so the string is stable for logs and API consumers.
func summarize(rec SourceRecord) (bool, string) {
	if len(rec.SectionErrors) == 0 {
		return true, ""
	}

	requested := []Section{SectionCurrent, SectionForecast, SectionHourly}
	if _, failed := rec.SectionErrors[SectionAlerts]; failed || rec.AlertsFetched {
		requested = append(requested, SectionAlerts)
	}

	anyOK := false
	var reasons []string
	for _, s := range requested {
		if msg, failed := rec.SectionErrors[s]; failed {
			reasons = append(reasons, fmt.Sprintf("%s: %s", s, msg))
		} else {
			anyOK = true
		}
	}
	if anyOK {
		return true, ""
	}
	return false, strings.Join(reasons, "; ")
}
