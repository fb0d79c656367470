package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-fusion/internal/weather"
)

const redisKeyPrefix = "weather:history:"

// RedisStore journals fused results in Redis, newest first, one list per
// location. It satisfies the same contract as MemoryStore and is the pick
// when results must survive restarts or be shared between replicas.
type RedisStore struct {
	client     *redis.Client
	maxHistory int64
	maxAge     time.Duration
}

// NewRedisStore wraps an existing client. maxHistory <= 0 keeps the list
// unbounded; maxAge <= 0 disables expiry.
func NewRedisStore(client *redis.Client, maxHistory int, maxAge time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		maxHistory: int64(maxHistory),
		maxAge:     maxAge,
	}
}

func redisKey(loc weather.Location) string {
	return redisKeyPrefix + loc.Key()
}

// Save pushes the result onto the location's list and enforces retention.
// The store contract is fire-and-forget, so Redis trouble is logged rather
// than returned; reads will surface the gap.
func (s *RedisStore) Save(loc weather.Location, data weather.WeatherData) {
	payload, err := json.Marshal(data)
	if err != nil {
		logrus.WithField("location", loc.Key()).WithError(err).Error("marshal result for redis")
		return
	}

	ctx := context.Background()
	key := redisKey(loc)

	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	if s.maxHistory > 0 {
		pipe.LTrim(ctx, key, 0, s.maxHistory-1)
	}
	if s.maxAge > 0 {
		pipe.Expire(ctx, key, s.maxAge)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logrus.WithField("location", loc.Key()).WithError(err).Error("redis save failed")
	}
}

// Latest returns the most recent result for a location.
func (s *RedisStore) Latest(loc weather.Location) (weather.WeatherData, error) {
	raw, err := s.client.LIndex(context.Background(), redisKey(loc), 0).Result()
	if err == redis.Nil {
		return weather.WeatherData{}, ErrNotFound
	}
	if err != nil {
		return weather.WeatherData{}, fmt.Errorf("redis latest: %w", err)
	}

	var data weather.WeatherData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return weather.WeatherData{}, fmt.Errorf("redis latest: decode: %w", err)
	}
	return data, nil
}

// Range returns all results for a location between from and to (inclusive),
// oldest first.
func (s *RedisStore) Range(loc weather.Location, from, to time.Time) ([]weather.WeatherData, error) {
	items, err := s.client.LRange(context.Background(), redisKey(loc), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}

	// The list is newest first; walk backwards for ascending time.
	var result []weather.WeatherData
	for i := len(items) - 1; i >= 0; i-- {
		var data weather.WeatherData
		if err := json.Unmarshal([]byte(items[i]), &data); err != nil {
			return nil, fmt.Errorf("redis range: decode: %w", err)
		}
		if !data.FetchedAt.Before(from) && !data.FetchedAt.After(to) {
			result = append(result, data)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
