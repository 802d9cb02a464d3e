package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/config"
	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cachectl",
	Short: "Run and operate the Redis cache of the learning platform",
	Long: `cachectl runs the cache admin server and performs one-off cache
operations against Redis.

Examples:
  # Serve the admin API, warming and optimization
  cachectl serve --admin-token $TOKEN --sources-url http://api:3000/internal

  # Inspect keys
  cachectl keys 'course:*'
  cachectl get course:go-101:data

  # Drop everything tagged with a course
  cachectl invalidate course go-101`,
	SilenceUsage: true,
}

func init() {
	config.AddFlags(rootCmd)
}

// session is what every command needs: resolved settings, a logger and a
// connected store.
type session struct {
	cfg    config.Config
	logger logger.Logger
	store  *cache.Store
}

// prepare resolves the configuration and builds the store without
// connecting it.
func prepare(cmd *cobra.Command, collector metrics.Collector) (*session, error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, err
	}
	log := logger.NewConsoleLogger(cfg.Level())
	redis.SetLogger(logger.ToRedis(log))

	if collector == nil {
		collector = metrics.Noop{}
	}
	store := cache.NewStore(cache.NewRedisClient(cfg.Redis),
		cache.WithLogger(log),
		cache.WithCollector(collector),
		cache.WithDefaultTTL(cfg.DefaultTTL),
		cache.WithQueryTimeout(cfg.QueryTimeout),
		cache.WithPrefix(cfg.KeyPrefix),
		cache.WithCompression(cfg.Compression))
	return &session{cfg: cfg, logger: log, store: store}, nil
}

// open is prepare followed by a connect that must succeed.
func open(ctx context.Context, cmd *cobra.Command, collector metrics.Collector) (*session, error) {
	s, err := prepare(cmd, collector)
	if err != nil {
		return nil, err
	}
	if err := s.store.Connect(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	s.store.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encoding output")
	}
	return nil
}
