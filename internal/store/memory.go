package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/weather-fusion/internal/weather"
)

var (
	// ErrNotFound is returned when no data is available for a given location.
	ErrNotFound = errors.New("no weather data for location")
)

// history holds a time-ordered journal of fused results for one location.
type history struct {
	results []weather.WeatherData
}

// MemoryStore is a concurrency-safe in-memory journal of fused results.
// Results are deep-copied on the way in and out so callers never share
// state with the journal.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key, value: journal
	data map[string]*history

	// retention configuration
	maxHistory int           // max number of results per location
	maxAge     time.Duration // optional max age for results
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*history),
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// Save appends a new result for a location and enforces retention.
func (s *MemoryStore) Save(loc weather.Location, data weather.WeatherData) {
	key := loc.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.data[key]
	if !ok {
		h = &history{}
		s.data[key] = h
	}

	h.results = append(h.results, data.Clone())

	// Enforce retention by count.
	if s.maxHistory > 0 && len(h.results) > s.maxHistory {
		over := len(h.results) - s.maxHistory
		h.results = h.results[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := clock.Now().Add(-s.maxAge)
		i := 0
		for ; i < len(h.results); i++ {
			if !h.results[i].FetchedAt.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			h.results = h.results[i:]
		}
	}
}

// Latest returns the most recent result for a location.
func (s *MemoryStore) Latest(loc weather.Location) (weather.WeatherData, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[key]
	if !ok || len(h.results) == 0 {
		return weather.WeatherData{}, ErrNotFound
	}
	return h.results[len(h.results)-1].Clone(), nil
}

// Range returns all results for a location between from and to (inclusive),
// oldest first.
func (s *MemoryStore) Range(loc weather.Location, from, to time.Time) ([]weather.WeatherData, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[key]
	if !ok || len(h.results) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.WeatherData
	for _, data := range h.results {
		if !data.FetchedAt.Before(from) && !data.FetchedAt.After(to) {
			result = append(result, data.Clone())
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
