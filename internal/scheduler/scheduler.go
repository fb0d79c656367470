package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-fusion/internal/observability"
	"github.com/i474232898/weather-fusion/internal/weather"
)

// Scheduler keeps the cache warm: it refreshes every configured location on
// an interval so interactive callers mostly hit fresh entries.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *weather.Service
	metrics   *observability.Metrics
	locations []weather.Location
	interval  time.Duration
}

// New creates a new Scheduler. metrics may be nil.
func New(locations []weather.Location, interval time.Duration, service *weather.Service, metrics *observability.Metrics) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		metrics:   metrics,
		locations: locations,
		interval:  interval,
	}
}

// Start schedules the periodic refresh job and starts the underlying
// scheduler.
func (s *Scheduler) Start() error {
	if len(s.locations) == 0 {
		logrus.Info("scheduler: no locations configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	_, err := s.scheduler.Every(minutes).Minutes().Do(func() {
		logrus.WithField("locations", len(s.locations)).Info("scheduler: refreshing locations")

		var wg sync.WaitGroup
		for _, loc := range s.locations {
			loc := loc
			wg.Add(1)
			go func() {
				defer wg.Done()

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				data := s.service.Refresh(ctx, loc, true)
				if data.Stale || len(data.IncompleteSections) > 0 {
					logrus.WithFields(logrus.Fields{
						"location":   loc.Key(),
						"stale":      data.Stale,
						"incomplete": data.IncompleteSections,
					}).Warn("scheduler: refresh degraded")
				}
			}()
		}
		wg.Wait()

		s.metrics.SetLocationsCached(s.service.CachedLocations())
		logrus.Info("scheduler: refresh job complete")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
