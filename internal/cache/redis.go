// Package cache keeps the most recent samples of every flight in Redis, so
// that dashboards can poll a flight without reading it back from the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
)

const (
	DefaultPrefix      = "dronemon"
	DefaultHistorySize = 1000
)

// ErrMiss is returned when nothing is cached for a flight
var ErrMiss = errors.New("cache miss")

// Config of the Redis connection
type Config struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`      // Prefix of every key
	HistorySize int           `yaml:"historySize"` // Samples kept per flight
	TTL         time.Duration `yaml:"-"`           // Expiry of a flight's keys, zero keeps them
}

// WithLogger sets the logger for the cache
func WithLogger(logger *slog.Logger) func(c *RedisCache) {
	return func(c *RedisCache) {
		c.logger = logger
	}
}

// RedisCache stores the latest sample of each flight under
// <prefix>:flight:<id>:latest and a bounded history ordered by time under
// <prefix>:flight:<id>:history.
type RedisCache struct {
	client      *redis.Client
	prefix      string
	historySize int64
	ttl         time.Duration
	logger      *slog.Logger
}

// NewRedisCache creates a cache; it does not connect until first used
func NewRedisCache(cfg Config, options ...func(c *RedisCache)) *RedisCache {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	c := RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix:      cfg.Prefix,
		historySize: int64(cfg.HistorySize),
		ttl:         cfg.TTL,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	return nil
}

// Put makes s the latest sample of its flight and appends it to the history
func (c *RedisCache) Put(ctx context.Context, s *survey.Sample) error {
	p, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling sample: %w", err)
	}

	latest, history := c.latestKey(s.FlightID), c.historyKey(s.FlightID)

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, latest, p, c.ttl)
	pipe.ZAdd(ctx, history, &redis.Z{
		Score:  float64(s.Timestamp.UnixMilli()),
		Member: p,
	})
	pipe.ZRemRangeByRank(ctx, history, 0, -(c.historySize + 1))
	if c.ttl > 0 {
		pipe.Expire(ctx, history, c.ttl)
	}

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching sample of flight %d: %w", s.FlightID, err)
	}
	return nil
}

// Latest returns the most recent sample of a flight or ErrMiss
func (c *RedisCache) Latest(ctx context.Context, flightID int64) (*survey.Sample, error) {
	p, err := c.client.Get(ctx, c.latestKey(flightID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("%w: flight %d", ErrMiss, flightID)
	case err != nil:
		return nil, fmt.Errorf("reading latest sample of flight %d: %w", flightID, err)
	}

	var s survey.Sample
	if err = json.Unmarshal(p, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling sample: %w", err)
	}
	return &s, nil
}

// History returns up to n of the most recent samples of a flight, oldest
// first
func (c *RedisCache) History(ctx context.Context, flightID int64, n int) ([]*survey.Sample, error) {
	if n <= 0 {
		return nil, nil
	}

	members, err := c.client.ZRange(ctx, c.historyKey(flightID), -int64(n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading history of flight %d: %w", flightID, err)
	}

	samples := make([]*survey.Sample, 0, len(members))
	for _, m := range members {
		var s survey.Sample
		if err = json.Unmarshal([]byte(m), &s); err != nil {
			c.logger.Warn("skipping malformed cached sample", slog.Int64("flightID", flightID), slog.Any("error", err))
			continue
		}
		samples = append(samples, &s)
	}
	return samples, nil
}

// Close closes the connection pool
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) latestKey(flightID int64) string {
	return fmt.Sprintf("%s:flight:%d:latest", c.prefix, flightID)
}

func (c *RedisCache) historyKey(flightID int64) string {
	return fmt.Sprintf("%s:flight:%d:history", c.prefix, flightID)
}
