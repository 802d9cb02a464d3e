// Package config resolves process settings from flags, the environment, an
// optional YAML file and defaults, in that order of precedence.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/env"
	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/optimizer"
	"github.com/learnwise/cachecore/warming"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Config is read once at startup.
type Config struct {
	Redis                cache.ClientConfig
	LogLevel             string
	DefaultTTL           time.Duration
	QueryTimeout         time.Duration
	KeyPrefix            string
	Compression          bool
	WarmingCheckInterval time.Duration
	OptimizationInterval time.Duration
	AdminAddr            string
	AdminToken           string
	OTLPEndpoint         string
	OTLPToken            string
}

// Defaults returns the settings used when nothing else is given.
func Defaults() Config {
	return Config{
		Redis: cache.ClientConfig{
			Host:        "localhost",
			Port:        6379,
			DialTimeout: 10 * time.Second,
			MaxRetries:  3,
		},
		LogLevel:             "info",
		DefaultTTL:           cache.DefaultTTL,
		QueryTimeout:         cache.DefaultQueryTimeout,
		WarmingCheckInterval: warming.DefaultCheckInterval,
		OptimizationInterval: optimizer.DefaultInterval,
		AdminAddr:            ":8080",
	}
}

// setting binds one field to its flag, environment variable and YAML key.
type setting struct {
	flag  string
	env   string
	yaml  string
	usage string
	set   func(c *Config, v string) error
}

var settings = []setting{
	{"redis-host", "REDIS_HOST", "redis.host", "redis host", func(c *Config, v string) error {
		c.Redis.Host = v
		return nil
	}},
	{"redis-port", "REDIS_PORT", "redis.port", "redis port", intField(func(c *Config) *int { return &c.Redis.Port })},
	{"redis-password", "REDIS_PASSWORD", "redis.password", "redis password", func(c *Config, v string) error {
		c.Redis.Password = v
		return nil
	}},
	{"redis-db", "REDIS_DB", "redis.db", "redis database number", intField(func(c *Config) *int { return &c.Redis.DB })},
	{"redis-connect-timeout", "REDIS_CONNECT_TIMEOUT", "redis.connectTimeout", "redis dial timeout", durationField(func(c *Config) *time.Duration { return &c.Redis.DialTimeout })},
	{"redis-max-retries", "REDIS_MAX_RETRIES", "redis.maxRetries", "retries per redis command", intField(func(c *Config) *int { return &c.Redis.MaxRetries })},
	{"log-level", logger.EnvLogLevel, "logLevel", "trace, debug, info, warn or error", func(c *Config, v string) error {
		c.LogLevel = v
		return nil
	}},
	{"default-ttl", "CACHE_DEFAULT_TTL", "cache.defaultTTL", "default entry TTL", durationField(func(c *Config) *time.Duration { return &c.DefaultTTL })},
	{"query-timeout", "CACHE_QUERY_TIMEOUT", "cache.queryTimeout", "per-operation redis timeout", durationField(func(c *Config) *time.Duration { return &c.QueryTimeout })},
	{"key-prefix", "CACHE_KEY_PREFIX", "cache.keyPrefix", "prefix prepended to every key", func(c *Config, v string) error {
		c.KeyPrefix = v
		return nil
	}},
	{"compression", "CACHE_COMPRESSION", "cache.compression", "compress large values", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Compression = b
		return nil
	}},
	{"warming-check-interval", "CACHE_WARMING_CHECK_INTERVAL", "warming.checkInterval", "how often due warming strategies are looked for", durationField(func(c *Config) *time.Duration { return &c.WarmingCheckInterval })},
	{"optimization-interval", "CACHE_OPTIMIZATION_INTERVAL", "optimizer.interval", "time between optimization cycles", durationField(func(c *Config) *time.Duration { return &c.OptimizationInterval })},
	{"admin-addr", "CACHE_ADMIN_ADDR", "admin.addr", "admin http listen address", func(c *Config, v string) error {
		c.AdminAddr = v
		return nil
	}},
	{"admin-token", "CACHE_ADMIN_TOKEN", "admin.token", "bearer token required by admin endpoints", func(c *Config, v string) error {
		c.AdminToken = v
		return nil
	}},
	{"otlp-endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT", "telemetry.endpoint", "OTLP/HTTP collector that receives cache traces", func(c *Config, v string) error {
		c.OTLPEndpoint = v
		return nil
	}},
	{"otlp-token", "CACHE_OTLP_TOKEN", "telemetry.token", "bearer token sent to --otlp-endpoint", func(c *Config, v string) error {
		c.OTLPToken = v
		return nil
	}},
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func durationField(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// AddFlags registers every setting plus --config and --env-file as
// persistent flags of cmd.
func AddFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML config file (env CACHE_CONFIG)")
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	for _, s := range settings {
		flags.String(s.flag, "", s.usage+" (env "+s.env+")")
	}
}

// Load resolves the configuration for cmd. The dotenv file only fills
// variables that are not already set.
func Load(cmd *cobra.Command) (Config, error) {
	c := Defaults()

	if fn, _ := cmd.Flags().GetString("env-file"); fn != "" {
		lines, err := env.ParseEnvFile(fn)
		if err != nil {
			return c, err
		}
		if err := env.Apply(lines); err != nil {
			return c, err
		}
	}

	values := make(map[string]string)
	if fn := env.FlagOrEnv(cmd, "config", "CACHE_CONFIG", ""); fn != "" {
		buf, err := os.ReadFile(fn)
		if err != nil {
			return c, errors.Wrap(err, "read config file")
		}
		if values, err = parseYAML(buf); err != nil {
			return c, errors.Wrapf(err, "parse %s", fn)
		}
	}

	var errs []error
	for _, s := range settings {
		v := env.FlagOrEnv(cmd, s.flag, s.env, values[s.yaml])
		if v == "" {
			continue
		}
		if err := s.set(&c, v); err != nil {
			errs = append(errs, errors.Wrapf(err, "%s", s.flag))
		}
	}
	if len(errs) > 0 {
		return c, errors.Join(errs...)
	}
	return c, c.Validate()
}

// parseYAML flattens nested mappings into dotted keys.
func parseYAML(buf []byte) (map[string]string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			switch val := v.(type) {
			case map[string]any:
				walk(key, val)
			case nil:
			default:
				out[key] = strings.TrimSpace(stringify(val))
			}
		}
	}
	walk("", doc)
	return out, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		out, _ := yaml.Marshal(val)
		return string(out)
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Redis.Host == "" {
		errs = append(errs, errors.New("redis host is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, errors.Newf("redis port %d out of range", c.Redis.Port))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, errors.Newf("redis db %d is negative", c.Redis.DB))
	}
	if c.Redis.DialTimeout <= 0 {
		errs = append(errs, errors.New("redis connect timeout must be positive"))
	}
	if c.DefaultTTL <= 0 {
		errs = append(errs, errors.New("default ttl must be positive"))
	}
	if c.QueryTimeout <= 0 {
		errs = append(errs, errors.New("query timeout must be positive"))
	}
	if c.WarmingCheckInterval <= 0 {
		errs = append(errs, errors.New("warming check interval must be positive"))
	}
	if c.OptimizationInterval <= 0 {
		errs = append(errs, errors.New("optimization interval must be positive"))
	}
	if level := logger.ParseLevel(c.LogLevel, -1); level < 0 {
		errs = append(errs, errors.Newf("unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Level is the parsed LogLevel.
func (c Config) Level() logger.LogLevel {
	return logger.ParseLevel(c.LogLevel, logger.LevelInfo)
}
