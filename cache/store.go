package cache

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/metrics"
	"github.com/learnwise/cachecore/resilience"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/learnwise/cachecore/cache")

// ErrNotConnected is returned by operator calls made while the store is down.
var ErrNotConnected = errors.New("cache store is not connected")

// Reconnect backoff applied by the client between retries of one command.
const (
	MinRetryBackoff = 50 * time.Millisecond
	MaxRetryBackoff = 3 * time.Second
)

// ClientConfig describes how to reach Redis.
type ClientConfig struct {
	Host        string
	Port        int
	Password    string
	DB          int
	DialTimeout time.Duration
	MaxRetries  int
}

// Addr returns host:port.
func (c ClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewRedisClient builds the single client shared by every component.
func NewRedisClient(cfg ClientConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: MinRetryBackoff,
		MaxRetryBackoff: MaxRetryBackoff,
	})
}

// Store is the Redis adapter every cache component goes through. Reads and
// writes are best-effort: failures are logged and counted, never returned.
type Store struct {
	client    *redis.Client
	cfg       config
	logger    logger.Logger
	collector metrics.Collector
	metrics   *Metrics

	connected    atomic.Bool
	compression  atomic.Bool
	defaultTTL   atomic.Int64
	queryTimeout atomic.Int64
}

// NewStore wraps client. Call Connect before serving traffic.
func NewStore(client *redis.Client, opts ...Option) *Store {
	cfg := applyOptions(opts)
	s := &Store{
		client:    client,
		cfg:       cfg,
		logger:    logger.WithComponent(cfg.logger, "cache"),
		collector: cfg.collector,
		metrics:   newMetrics(),
	}
	s.compression.Store(cfg.compression)
	s.defaultTTL.Store(int64(cfg.defaultTTL))
	s.queryTimeout.Store(int64(cfg.queryTimeout))
	return s
}

func (s *Store) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.QueryTimeout())
}

func (s *Store) prefixKey(key string) string {
	if s.cfg.prefix == "" {
		return key
	}
	return s.cfg.prefix + ":" + key
}

func (s *Store) prefixKeys(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = s.prefixKey(k)
	}
	return out
}

func (s *Store) unprefixKey(key string) string {
	if s.cfg.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.cfg.prefix+":")
}

func (s *Store) startSpan(ctx context.Context, op string, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("cache.key", key),
		))
}

func (s *Store) observe(started time.Time) {
	s.collector.ObserveHistogram(metrics.CacheOpSeconds, time.Since(started).Seconds())
}

func (s *Store) succeed(span trace.Span) {
	span.SetStatus(codes.Ok, "")
	s.setConnected(true)
}

func (s *Store) fail(span trace.Span, op string, key string, err error) {
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	s.collector.IncCounter(metrics.CacheErrors, 1)
	s.logger.Warn("%s %s failed: %v", op, key, err)
	if isConnectionError(err) {
		s.setConnected(false)
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *Store) setConnected(v bool) {
	if s.connected.Swap(v) != v {
		var g int64
		if v {
			g = 1
		}
		s.collector.SetGauge(metrics.CacheConnected, g)
	}
}

// Connect pings Redis until it answers or the connect budget is spent.
func (s *Store) Connect(ctx context.Context) error {
	addr := s.client.Options().Addr
	var attempt int
	err := resilience.Retry(ctx, resilience.FixedDelay(s.cfg.connectAttempts, s.cfg.connectDelay), func() error {
		attempt++
		qctx, cancel := s.queryCtx(ctx)
		defer cancel()
		if err := s.client.Ping(qctx).Err(); err != nil {
			s.logger.Warn("connect attempt %d/%d to %s failed: %v", attempt, s.cfg.connectAttempts, addr, err)
			return err
		}
		return nil
	})
	if err != nil {
		s.setConnected(false)
		return errors.Wrapf(err, "connect to redis at %s", addr)
	}
	s.setConnected(true)
	s.logger.Info("connected to redis at %s", addr)
	return nil
}

// IsConnected reports whether the last connection-level interaction succeeded.
func (s *Store) IsConnected() bool {
	return s.connected.Load()
}

// Close closes the client.
func (s *Store) Close() error {
	s.setConnected(false)
	return s.client.Close()
}

// Client returns the underlying client.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Logger returns the store logger.
func (s *Store) Logger() logger.Logger {
	return s.logger
}

// Metrics returns the live counters.
func (s *Store) Metrics() *Metrics {
	return s.metrics
}

// ResetMetrics zeroes the counters.
func (s *Store) ResetMetrics() {
	s.metrics.Reset()
	s.logger.Info("metrics reset")
}

// DefaultTTL is the TTL used when a caller passes none.
func (s *Store) DefaultTTL() time.Duration {
	return time.Duration(s.defaultTTL.Load())
}

func (s *Store) SetDefaultTTL(d time.Duration) {
	s.defaultTTL.Store(int64(d))
}

// QueryTimeout is the per-operation timeout.
func (s *Store) QueryTimeout() time.Duration {
	return time.Duration(s.queryTimeout.Load())
}

func (s *Store) SetQueryTimeout(d time.Duration) {
	s.queryTimeout.Store(int64(d))
}

// CompressionEnabled reports whether large writes are compressed.
func (s *Store) CompressionEnabled() bool {
	return s.compression.Load()
}

func (s *Store) SetCompression(enabled bool) {
	s.compression.Store(enabled)
}

// Codec returns the codec used by the typed helpers.
func (s *Store) Codec() Codec {
	return s.cfg.codec
}

// Get returns the value stored under key. A miss and a failed read both
// report false; failed reads are also counted as errors.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	data, ok, _ := s.Fetch(ctx, key)
	return data, ok
}

// Fetch is Get for callers that need to tell a miss from a failure, such as
// the fallback controller. Metrics are recorded the same way.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := s.startSpan(ctx, "get", key)
	defer span.End()
	started := time.Now()
	defer s.observe(started)

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	s.collector.IncCounter(metrics.CacheRequests, 1)

	data, err := s.client.Get(qctx, s.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.metrics.recordMiss()
		s.collector.IncCounter(metrics.CacheMisses, 1)
		s.succeed(span)
		return nil, false, nil
	}
	if err == nil {
		data, err = decompress(data)
	}
	if err != nil {
		s.metrics.recordFailedRead()
		s.fail(span, "get", key, err)
		return nil, false, errors.Wrapf(err, "get %s", key)
	}
	s.metrics.recordHit()
	s.collector.IncCounter(metrics.CacheHits, 1)
	s.succeed(span)
	return data, true, nil
}

// MGet reads several keys in one round trip. Only hits are returned.
func (s *Store) MGet(ctx context.Context, keys ...string) map[string][]byte {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out
	}
	ctx, span := s.startSpan(ctx, "mget", strings.Join(keys, ","))
	defer span.End()
	started := time.Now()
	defer s.observe(started)

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	s.collector.IncCounter(metrics.CacheRequests, int64(len(keys)))

	values, err := s.client.MGet(qctx, s.prefixKeys(keys)...).Result()
	if err != nil {
		for range keys {
			s.metrics.recordFailedRead()
		}
		s.fail(span, "mget", strings.Join(keys, ","), err)
		return out
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			s.metrics.recordMiss()
			s.collector.IncCounter(metrics.CacheMisses, 1)
			continue
		}
		data, err := decompress([]byte(str))
		if err != nil {
			s.metrics.recordFailedRead()
			s.logger.Warn("mget %s: %v", keys[i], err)
			continue
		}
		s.metrics.recordHit()
		s.collector.IncCounter(metrics.CacheHits, 1)
		out[keys[i]] = data
	}
	s.succeed(span)
	return out
}

func (s *Store) encodePayload(value []byte) []byte {
	if s.compression.Load() && len(value) > CompressionThreshold {
		s.collector.IncCounter(metrics.CacheCompressed, 1)
		return compress(value)
	}
	return value
}

// Set writes value under key. A ttl <= 0 stores the value without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	return s.Put(ctx, key, value, ttl) == nil
}

// Put is Set returning the failure.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := s.startSpan(ctx, "set", key)
	defer span.End()
	started := time.Now()
	defer s.observe(started)

	if ttl < 0 {
		ttl = 0
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.client.Set(qctx, s.prefixKey(key), s.encodePayload(value), ttl).Err(); err != nil {
		s.metrics.recordError()
		s.fail(span, "set", key, err)
		return errors.Wrapf(err, "set %s", key)
	}
	s.metrics.recordSet()
	s.collector.IncCounter(metrics.CacheSets, 1)
	s.succeed(span)
	return nil
}

// SetMany writes every entry with the same ttl in one pipeline.
func (s *Store) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) bool {
	if len(entries) == 0 {
		return true
	}
	ctx, span := s.startSpan(ctx, "setmany", strconv.Itoa(len(entries)))
	defer span.End()
	started := time.Now()
	defer s.observe(started)

	if ttl < 0 {
		ttl = 0
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err := s.client.Pipelined(qctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			pipe.Set(qctx, s.prefixKey(k), s.encodePayload(v), ttl)
		}
		return nil
	})
	if err != nil {
		s.metrics.recordError()
		s.fail(span, "setmany", strconv.Itoa(len(entries)), err)
		return false
	}
	s.metrics.sets.Add(int64(len(entries)))
	s.collector.IncCounter(metrics.CacheSets, int64(len(entries)))
	s.succeed(span)
	return true
}

// Del removes keys. Deleting nothing succeeds.
func (s *Store) Del(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	ctx, span := s.startSpan(ctx, "del", strings.Join(keys, ","))
	defer span.End()
	started := time.Now()
	defer s.observe(started)

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	n, err := s.client.Del(qctx, s.prefixKeys(keys)...).Result()
	if err != nil {
		s.metrics.recordError()
		s.fail(span, "del", strings.Join(keys, ","), err)
		return false
	}
	s.metrics.recordDeletes(n)
	s.collector.IncCounter(metrics.CacheDeletes, n)
	s.succeed(span)
	return true
}

// Exists reports whether key is present. Failures report false.
func (s *Store) Exists(ctx context.Context, key string) bool {
	ctx, span := s.startSpan(ctx, "exists", key)
	defer span.End()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	n, err := s.client.Exists(qctx, s.prefixKey(key)).Result()
	if err != nil {
		s.metrics.recordError()
		s.fail(span, "exists", key, err)
		return false
	}
	s.succeed(span)
	return n > 0
}

// TTL returns the remaining lifetime of key. Keys without expiry report
// zero with ok true; missing keys report ok false.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, bool) {
	ctx, span := s.startSpan(ctx, "ttl", key)
	defer span.End()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	d, err := s.client.TTL(qctx, s.prefixKey(key)).Result()
	if err != nil {
		s.metrics.recordError()
		s.fail(span, "ttl", key, err)
		return 0, false
	}
	s.succeed(span)
	switch {
	case d == -2:
		return 0, false
	case d < 0:
		return 0, true
	}
	return d, true
}

// Keys returns every key matching the glob pattern. It iterates with SCAN
// so the server is never blocked.
func (s *Store) Keys(ctx context.Context, pattern string) []string {
	ctx, span := s.startSpan(ctx, "keys", pattern)
	defer span.End()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(qctx, cursor, s.prefixKey(pattern), 100).Result()
		if err != nil {
			s.metrics.recordError()
			s.fail(span, "keys", pattern, err)
			return keys
		}
		for _, k := range batch {
			keys = append(keys, s.unprefixKey(k))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.succeed(span)
	return keys
}

// FlushAll removes every entry. With a prefix only the namespaced keys are
// removed, otherwise the whole database is flushed.
func (s *Store) FlushAll(ctx context.Context) bool {
	if s.cfg.prefix != "" {
		return s.Del(ctx, s.Keys(ctx, "*")...)
	}
	ctx, span := s.startSpan(ctx, "flush", "*")
	defer span.End()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.client.FlushDB(qctx).Err(); err != nil {
		s.metrics.recordError()
		s.fail(span, "flush", "*", err)
		return false
	}
	s.logger.Info("cache flushed")
	s.succeed(span)
	return true
}

// SetConfig runs CONFIG SET. Unlike the data path it returns errors since
// operators need to see them.
func (s *Store) SetConfig(ctx context.Context, parameter, value string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	if err := s.client.ConfigSet(qctx, parameter, value).Err(); err != nil {
		return errors.Wrapf(err, "config set %s=%s", parameter, value)
	}
	s.logger.Info("config set %s=%s", parameter, value)
	return nil
}

// MemoryInfo is the subset of INFO memory the optimizer needs.
type MemoryInfo struct {
	UsedMemory int64  `json:"usedMemory"`
	MaxMemory  int64  `json:"maxMemory"`
	Policy     string `json:"policy"`
}

// UsageRatio is UsedMemory/MaxMemory, 0 when no limit is set.
func (m MemoryInfo) UsageRatio() float64 {
	if m.MaxMemory <= 0 {
		return 0
	}
	return float64(m.UsedMemory) / float64(m.MaxMemory)
}

// MemoryInfo reads INFO memory.
func (s *Store) MemoryInfo(ctx context.Context) (MemoryInfo, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	raw, err := s.client.Info(qctx, "memory").Result()
	if err != nil {
		return MemoryInfo{}, errors.Wrap(err, "info memory")
	}
	return parseMemoryInfo(raw), nil
}

func parseMemoryInfo(raw string) MemoryInfo {
	var info MemoryInfo
	for _, line := range strings.Split(raw, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch k {
		case "used_memory":
			info.UsedMemory, _ = strconv.ParseInt(v, 10, 64)
		case "maxmemory":
			info.MaxMemory, _ = strconv.ParseInt(v, 10, 64)
		case "maxmemory_policy":
			info.Policy = v
		}
	}
	return info
}

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health is the result of HealthCheck.
type Health struct {
	Status      string        `json:"status"`
	IsConnected bool          `json:"isConnected"`
	Latency     time.Duration `json:"latency"`
	Metrics     Snapshot      `json:"metrics"`
	Error       string        `json:"error,omitempty"`
}

// HealthCheck pings Redis. The store is healthy only when the ping succeeds.
func (s *Store) HealthCheck(ctx context.Context) Health {
	ctx, span := s.startSpan(ctx, "ping", "")
	defer span.End()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	started := time.Now()
	err := s.client.Ping(qctx).Err()
	h := Health{Latency: time.Since(started)}
	if err != nil {
		s.fail(span, "ping", "", err)
		s.setConnected(false)
		h.Status = StatusUnhealthy
		h.Error = err.Error()
	} else {
		s.succeed(span)
		h.Status = StatusHealthy
	}
	h.IsConnected = s.IsConnected()
	h.Metrics = s.metrics.Snapshot()
	return h
}
