package httpcache

import (
	"net/http"
	"time"

	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/metrics"
	"github.com/learnwise/cachecore/resilience"
)

// DefaultTTL is used for routes that do not set WithTTL.
const DefaultTTL = 5 * time.Minute

// Anonymous is the identity of callers when no identity function is set.
const Anonymous = "anonymous"

// KeyFunc derives the cache key of a request.
type KeyFunc func(r *http.Request, identity string, body []byte) string

type options struct {
	ttl        time.Duration
	tags       []string
	tagFunc    func(*http.Request) []string
	condition  func(*http.Request) bool
	identity   func(*http.Request) string
	keyFunc    KeyFunc
	logger     logger.Logger
	collector  metrics.Collector
	controller *resilience.Controller
}

// Option configures Middleware and Invalidate.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		ttl:       DefaultTTL,
		condition: func(*http.Request) bool { return true },
		identity:  func(*http.Request) string { return Anonymous },
		keyFunc:   DefaultKey,
		collector: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	o.logger = logger.WithComponent(o.logger, "httpcache")
	return o
}

// WithTTL sets how long responses are kept.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithTags tags every stored response.
func WithTags(tags ...string) Option {
	return func(o *options) { o.tags = append(o.tags, tags...) }
}

// WithTagFunc derives extra tags from the request, e.g. from path parameters.
func WithTagFunc(fn func(*http.Request) []string) Option {
	return func(o *options) { o.tagFunc = fn }
}

// WithCondition skips caching for requests where fn returns false.
func WithCondition(fn func(*http.Request) bool) Option {
	return func(o *options) { o.condition = fn }
}

// WithIdentity sets how the caller is identified. Responses are never shared
// between identities.
func WithIdentity(fn func(*http.Request) string) Option {
	return func(o *options) { o.identity = fn }
}

// WithKeyFunc replaces the key derivation.
func WithKeyFunc(fn KeyFunc) Option {
	return func(o *options) { o.keyFunc = fn }
}

// WithFastHash derives keys with xxhash instead of sha256.
func WithFastHash() Option {
	return func(o *options) { o.keyFunc = FastKey }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithCollector reports HIT/MISS/BYPASS counters.
func WithCollector(c metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithController routes lookups through the cache-read strategy and writes
// through the cache-write strategy of c. Store failures then count against
// the strategy circuits, and responses are not stored while cache-write
// should fall back.
func WithController(c *resilience.Controller) Option {
	return func(o *options) { o.controller = c }
}

func (o *options) tagsFor(r *http.Request) []string {
	if o.tagFunc == nil {
		return o.tags
	}
	tags := append([]string{}, o.tags...)
	return append(tags, o.tagFunc(r)...)
}
