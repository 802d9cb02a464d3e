package cache

import (
	"context"
	"time"

	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/metrics"
)

// DefaultTTL is the TTL callers fall back to when they have no better value.
const DefaultTTL = time.Hour

// DefaultQueryTimeout is the per-operation timeout for every Redis call.
const DefaultQueryTimeout = 5 * time.Second

// Initial connection budget.
const (
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 2 * time.Second
)

// CompressionThreshold is the payload size above which writes are compressed
// once compression is enabled.
const CompressionThreshold = 1024

// config holds the resolved configuration for a Store or Memory.
type config struct {
	defaultTTL      time.Duration
	queryTimeout    time.Duration
	expiryCheck     time.Duration
	prefix          string
	codec           Codec
	logger          logger.Logger
	collector       metrics.Collector
	connectAttempts int
	connectDelay    time.Duration
	compression     bool
}

// Option configures a Store or Memory.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:      DefaultTTL,
		queryTimeout:    DefaultQueryTimeout,
		expiryCheck:     time.Minute,
		codec:           JSON,
		collector:       metrics.Noop{},
		connectAttempts: DefaultConnectAttempts,
		connectDelay:    DefaultConnectDelay,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	return cfg
}

// WithDefaultTTL sets the TTL reported by DefaultTTL. Defaults to one hour.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithQueryTimeout sets the per-operation timeout. Defaults to DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the janitor interval of the in-process Memory tier.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix namespaces every key written by the Store. Defaults to no prefix.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// WithCodec sets the value codec used by the typed helpers. Defaults to JSON.
func WithCodec(codec Codec) Option {
	return func(c *config) { c.codec = codec }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *config) { c.logger = log }
}

// WithCollector forwards counters and latencies to a metrics collector.
func WithCollector(collector metrics.Collector) Option {
	return func(c *config) { c.collector = collector }
}

// WithConnectRetry sets the attempt budget and fixed delay used by Connect.
func WithConnectRetry(attempts int, delay time.Duration) Option {
	return func(c *config) {
		c.connectAttempts = attempts
		c.connectDelay = delay
	}
}

// WithCompression starts the store with compression enabled.
func WithCompression(enabled bool) Option {
	return func(c *config) { c.compression = enabled }
}

// CacheConfig configures the Exec helper.
type CacheConfig struct {
	// Key is the cache key. Required.
	Key string
	// TTL for the stored value. Zero uses the store default TTL.
	TTL time.Duration
	// Tags associated with the stored value.
	Tags []string
}

// Invoker is a function that produces a value of type T.
// The bool return indicates whether a value was found. Return false to signal
// "not found" without caching a zero value.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Save encodes v with the store codec, writes it under key and records it
// under tags.
func (s *Store) Save(ctx context.Context, key string, v any, ttl time.Duration, tags ...string) bool {
	data, err := s.cfg.codec.Marshal(v)
	if err != nil {
		s.logger.Warn("encode %s: %v", key, err)
		s.metrics.recordError()
		return false
	}
	if !s.Set(ctx, key, data, ttl) {
		return false
	}
	if len(tags) > 0 {
		s.Tag(ctx, key, ttl, tags...)
	}
	return true
}

// Load reads key and decodes it into out. An undecodable entry is reported
// as a miss.
func (s *Store) Load(ctx context.Context, key string, out any) bool {
	data, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := s.cfg.codec.Unmarshal(data, out); err != nil {
		s.logger.Warn("decode %s: %v", key, err)
		s.metrics.recordError()
		return false
	}
	return true
}

// SetValue is Save for a typed value.
func SetValue[T any](ctx context.Context, s *Store, key string, v T, ttl time.Duration, tags ...string) bool {
	return s.Save(ctx, key, v, ttl, tags...)
}

// GetValue reads key into a T.
func GetValue[T any](ctx context.Context, s *Store, key string) (T, bool) {
	var result T
	if !s.Load(ctx, key, &result) {
		var zero T
		return zero, false
	}
	return result, true
}

// Exec is a cache-aside helper. On a hit it returns the cached value. On a
// miss it calls invoke; a found value is stored and returned, a not-found
// result is returned without caching. Store failures never fail the call:
// the invoker result is returned even when the write-back is dropped.
func Exec[T any](ctx context.Context, config CacheConfig, s *Store, invoke Invoker[T]) (bool, T, error) {
	if val, ok := GetValue[T](ctx, s, config.Key); ok {
		return true, val, nil
	}

	result, ok, err := invoke(ctx)
	if err != nil {
		var zero T
		return false, zero, err
	}
	if !ok {
		var zero T
		return false, zero, nil
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = s.DefaultTTL()
	}
	SetValue(ctx, s, config.Key, result, ttl, config.Tags...)
	return true, result, nil
}
