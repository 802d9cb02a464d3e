package main

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/admin"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/httpcache"
	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/metrics"
	cacheprom "github.com/learnwise/cachecore/metrics/prometheus"
	"github.com/learnwise/cachecore/optimizer"
	"github.com/learnwise/cachecore/resilience"
	"github.com/learnwise/cachecore/services"
	"github.com/learnwise/cachecore/sys"
	"github.com/learnwise/cachecore/telemetry"
	"github.com/learnwise/cachecore/warming"
	"github.com/spf13/cobra"
)

var (
	sourcesURL   string
	sourcesToken string
	upstreamURL  string
	proxyAddr    string
	proxyTTL     time.Duration
)

const (
	shutdownTimeout     = 10 * time.Second
	reconnectInterval   = 5 * time.Second
	reconnectMaxBackoff = 3 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the admin API and run warming and optimization",
	Long: `Serve connects to Redis and runs, until SIGINT or SIGTERM:
- the admin API on --admin-addr
- the optimization engine
- the warming scheduler, when --sources-url is set
- a caching reverse proxy in front of --upstream on --proxy-addr, when set`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&sourcesURL, "sources-url", "", "platform API base URL the warming strategies read from")
	serveCmd.Flags().StringVar(&sourcesToken, "sources-token", "", "bearer token for --sources-url")
	serveCmd.Flags().StringVar(&upstreamURL, "upstream", "", "API whose GET responses are cached by the proxy")
	serveCmd.Flags().StringVar(&proxyAddr, "proxy-addr", ":8081", "listen address of the caching proxy")
	serveCmd.Flags().DurationVar(&proxyTTL, "proxy-ttl", httpcache.DefaultTTL, "TTL of proxied responses")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	collector := cacheprom.New(nil)
	s, err := prepare(cmd, collector)
	if err != nil {
		return err
	}
	defer s.Close()
	log := s.logger

	if s.cfg.OTLPEndpoint != "" {
		flush, err := telemetry.New(ctx, s.cfg.OTLPEndpoint, s.cfg.OTLPToken, "cachectl", log)
		if err != nil {
			return err
		}
		defer flush()
	}

	// a cache that is down only degrades the platform, so serve anyway and
	// let health report the outage
	if err := s.store.Connect(ctx); err != nil {
		log.Error("starting without redis: %v", err)
	}
	go watchConnection(ctx, s.store, log)

	if s.cfg.AdminToken == "" {
		log.Warn("no admin token configured, operator endpoints are disabled")
	}

	controller := resilience.NewController(resilience.WithErrorRater(s.store.Metrics()), resilience.WithLogger(log))
	engine := optimizer.NewEngine(s.store,
		optimizer.WithInterval(s.cfg.OptimizationInterval),
		optimizer.WithLogger(log),
		optimizer.WithCollector(collector))

	sessions := services.NewSessionCache(s.store)
	trading := services.NewTradingCache(s.store)
	courses := services.NewCourseCache(s.store)

	deps := admin.Dependencies{
		Store:      s.store,
		Optimizer:  engine,
		Controller: controller,
		Sessions:   sessions,
		Trading:    trading,
		Courses:    courses,
		IsAdmin:    admin.BearerToken(s.cfg.AdminToken),
		Context:    ctx,
		Logger:     log,
	}

	if sourcesURL != "" {
		scheduler := warming.NewScheduler(
			warming.WithCheckInterval(s.cfg.WarmingCheckInterval),
			warming.WithLogger(log),
			warming.WithCollector(collector),
			warming.WithStrategies(warming.DefaultCatalog(newHTTPSources(sourcesURL, sourcesToken), courses, trading)...))
		deps.Scheduler = scheduler
		go func() {
			defer sys.RecoverPanic(log)
			if err := scheduler.Start(ctx); err != nil {
				log.Error("warming scheduler: %v", err)
			}
		}()
		defer scheduler.Stop()
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	servers := []*http.Server{{Addr: s.cfg.AdminAddr, Handler: admin.NewRouter(deps)}}
	if upstreamURL != "" {
		proxy, err := newCachingProxy(s.store, controller, upstreamURL, proxyTTL, log, collector)
		if err != nil {
			return err
		}
		servers = append(servers, &http.Server{Addr: proxyAddr, Handler: proxy})
	}

	errs := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			log.Info("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}

	select {
	case <-sys.CreateShutdownChannel():
		log.Info("shutting down")
	case err := <-errs:
		log.Error("server failed: %v", err)
		cancel()
		shutdown(servers, log)
		return err
	}
	cancel()
	shutdown(servers, log)
	return nil
}

// watchConnection pings a disconnected store until it answers again. Each
// round retries with exponential backoff capped at reconnectMaxBackoff.
func watchConnection(ctx context.Context, store *cache.Store, log logger.Logger) {
	defer sys.RecoverPanic(log)
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if store.IsConnected() {
				continue
			}
			if err := reconnect(ctx, store); err == nil {
				log.Info("redis is reachable again")
			}
		}
	}
}

func reconnect(ctx context.Context, store *cache.Store) error {
	config := resilience.DefaultRetryConfig()
	config.MaxBackoff = reconnectMaxBackoff
	return resilience.Retry(ctx, config, func() error {
		if h := store.HealthCheck(ctx); !h.IsConnected {
			return cache.ErrNotConnected
		}
		return nil
	})
}

func shutdown(servers []*http.Server, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("shutdown of %s: %v", srv.Addr, err)
		}
	}
}

// newCachingProxy forwards every request to upstream and caches successful
// GET and HEAD responses per caller. Lookups and writes run under the
// controller's cache-read and cache-write strategies. Writes through the
// proxy invalidate the cached responses under the same path.
func newCachingProxy(store *cache.Store, controller *resilience.Controller, upstream string, ttl time.Duration, log logger.Logger, collector metrics.Collector) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing upstream %q", upstream)
	}
	opts := []httpcache.Option{
		httpcache.WithTTL(ttl),
		httpcache.WithIdentity(callerIdentity),
		httpcache.WithFastHash(),
		httpcache.WithTagFunc(func(r *http.Request) []string { return []string{pathTag(r.URL.Path)} }),
		httpcache.WithLogger(log),
		httpcache.WithCollector(collector),
		httpcache.WithController(controller),
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	invalidate := httpcache.InvalidateFunc(store, func(r *http.Request) httpcache.Invalidation {
		return httpcache.Invalidation{Tags: []string{pathTag(r.URL.Path)}}
	}, opts...)
	return httpcache.Middleware(store, opts...)(invalidate(proxy)), nil
}

// callerIdentity keys responses by the credential sent, so cached bodies are
// never served to a different caller.
func callerIdentity(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return cache.Digest(auth)
	}
	return httpcache.Anonymous
}

func pathTag(path string) string {
	return "http:" + path
}
