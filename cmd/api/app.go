package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/casematch/internal/abtest"
	"github.com/onnwee/casematch/internal/alert"
	"github.com/onnwee/casematch/internal/api"
	"github.com/onnwee/casematch/internal/config"
	"github.com/onnwee/casematch/internal/db"
	"github.com/onnwee/casematch/internal/drift"
	"github.com/onnwee/casematch/internal/enrichment"
	"github.com/onnwee/casematch/internal/equity"
	"github.com/onnwee/casematch/internal/feature"
	"github.com/onnwee/casematch/internal/health"
	"github.com/onnwee/casematch/internal/jobs"
	"github.com/onnwee/casematch/internal/middleware"
	"github.com/onnwee/casematch/internal/ranking"
	"github.com/onnwee/casematch/internal/retry"
)

const serviceName = "casematch"

// app is the wired service: the HTTP handler, the background consumers and
// the periodic jobs.
type app struct {
	handler http.Handler
	runners []*jobs.Runner
	// workers run until the context passed to start is cancelled.
	workers []func(ctx context.Context)
	closers []func() error

	engine   *ranking.Engine
	registry abtest.Registry
	monitor  *drift.Monitor
	alerts   *alert.Dispatcher
	logger   *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// metricsSet holds every package's collectors so they share one registry.
type metricsSet struct {
	http       *middleware.Metrics
	ranking    *ranking.Metrics
	enrichment *enrichment.Metrics
	abtest     *abtest.Metrics
	drift      *drift.Metrics
	alert      *alert.Metrics
	jobs       *jobs.Metrics
}

func newMetricsSet(reg prometheus.Registerer) (*metricsSet, error) {
	m := &metricsSet{
		http:       middleware.NewMetrics(),
		ranking:    ranking.NewMetrics(),
		enrichment: enrichment.NewMetrics(),
		abtest:     abtest.NewMetrics(),
		drift:      drift.NewMetrics(),
		alert:      alert.NewMetrics(),
		jobs:       jobs.NewMetrics(),
	}
	registrations := []func(prometheus.Registerer) error{
		m.http.Register,
		m.ranking.Register,
		m.enrichment.Register,
		m.abtest.Register,
		m.drift.Register,
		m.alert.Register,
		m.jobs.Register,
	}
	for _, register := range registrations {
		if err := register(reg); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

// newApp builds the service from cfg. Storage backends are optional: without
// DATABASE_URL the A/B registry and alerts stay in memory, without REDIS_URL
// the enrichment cache and rate limits are per process.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := newMetricsSet(reg)
	if err != nil {
		return nil, err
	}

	healthCfg := api.HealthHandlersConfig{}
	alertSinks := []alert.Sink{alert.NewLogSink(logger)}

	// Postgres
	var sqlDB *sql.DB
	if cfg.DatabaseURL != "" {
		sqlDB, err = db.Open(ctx, cfg.DatabaseURL, db.Options{Migrate: true})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sqlDB.Close)
		healthCfg.DBChecker = health.NewDBChecker(sqlDB)
		alertSinks = append(alertSinks, alert.NewPostgresSink(sqlDB))
		a.registry = abtest.NewPostgresRegistry(sqlDB)
		logger.Info("using postgres a/b test registry")
	} else {
		a.registry = abtest.NewMemoryRegistry()
		alertSinks = append(alertSinks, alert.NewMemorySink())
		logger.Warn("DATABASE_URL not set, a/b tests and alerts are kept in memory")
	}

	// Redis
	var (
		rdb          *redis.Client
		enrichStore  enrichment.Store
		memoryStore  *enrichment.MemoryStore
		limiterStore middleware.RateLimitStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		a.closers = append(a.closers, rdb.Close)
		healthCfg.RedisChecker = health.NewRedisChecker(rdb)
		enrichStore = enrichment.NewRedisStore(rdb)
		limiterStore = middleware.NewRedisRateLimitStore(rdb).
			WithMetrics(metrics.http).
			WithLogger(logger)
		alertSinks = append(alertSinks, alert.NewRedisSink(rdb, alert.DefaultChannel))
	} else {
		memoryStore = enrichment.NewMemoryStore()
		enrichStore = memoryStore
		limiterStore = middleware.NewInMemoryRateLimitStore()
	}

	a.alerts = alert.NewDispatcher(metrics.alert, logger, alertSinks...)

	// Enrichment
	var enricher feature.Enricher
	if cfg.EnrichmentURL != "" {
		policy := retry.DefaultPolicy()
		policy.MaxAttempts = cfg.EnrichmentRetries
		enricher = enrichment.NewLoader(enrichment.NewHTTPSource(cfg.EnrichmentURL, nil), enrichment.LoaderConfig{
			Timeout:   cfg.EnrichmentTimeout,
			CacheTTL:  cfg.EnrichmentCacheTTL,
			Retry:     policy,
			RateLimit: cfg.EnrichmentRateLimit,
			Burst:     int(math.Ceil(cfg.EnrichmentRateLimit)),
			Store:     enrichStore,
			Logger:    logger,
			Metrics:   metrics.enrichment,
		})
		healthCfg.EnrichmentChecker = health.NewHTTPChecker("enrichment", cfg.EnrichmentURL+"/health")
	} else {
		logger.Warn("ENRICHMENT_URL not set, curriculum and soft-skill features use defaults")
	}

	// Ranking
	featureCfg := feature.DefaultConfig()
	featureCfg.Priors = cfg.Priors
	featureCfg.Logger = logger

	catalog, err := ranking.LoadCalibration(cfg.CalibrationFile, logger)
	if catalog == nil {
		a.close()
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}

	driftStore := drift.NewStore(0)
	sampler := drift.NewSampler(driftStore, 0, metrics.drift)

	a.engine = ranking.NewEngine(ranking.EngineConfig{
		Features:    feature.NewCalculator(featureCfg, enricher),
		Catalog:     catalog,
		Equity:      equity.NewMemoryStore(),
		Lambda:      cfg.EquityLambda,
		DefaultTopN: cfg.DefaultTopN,
		Workers:     cfg.RankWorkers,
		Observer:    sampler,
		Logger:      logger,
		Metrics:     metrics.ranking,
	})

	// A/B testing
	recorder := abtest.NewRecorder(abtest.RecorderConfig{
		Sink:    a.registry,
		Logger:  logger,
		Metrics: metrics.abtest,
	})
	router := abtest.NewRouter(abtest.RouterConfig{
		DefaultModel: cfg.DefaultModel,
		Registry:     a.registry,
		Recorder:     recorder,
		Logger:       logger,
	})
	manager := abtest.NewManager(abtest.ManagerConfig{
		Registry: a.registry,
		Recorder: recorder,
		Alerts:   a.alerts,
		Logger:   logger,
		Metrics:  metrics.abtest,
	})

	// Drift
	monitorCfg := drift.MonitorConfig{
		Store:     driftStore,
		Threshold: cfg.DriftThreshold,
		Alerts:    a.alerts,
		Logger:    logger,
		Metrics:   metrics.drift,
	}
	if cfg.R2Enabled() {
		archiver, err := drift.NewS3Archiver(drift.S3Config{
			Bucket:          cfg.R2BucketName,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create drift archiver: %w", err)
		}
		monitorCfg.Archiver = archiver
	}
	a.monitor = drift.NewMonitor(monitorCfg)

	a.workers = append(a.workers, sampler.Run, recorder.Run)

	// Jobs
	a.runners = append(a.runners,
		jobs.NewRunner(jobs.RunnerConfig{
			Name:     jobs.JobTypeABAnalysis,
			Interval: cfg.ABAnalysisInterval,
			Logger:   logger,
			Metrics:  metrics.jobs,
			Alerts:   a.alerts,
		}, manager.EvaluateAll),
		jobs.NewRunner(jobs.RunnerConfig{
			Name:     jobs.JobTypeDriftDetection,
			Interval: cfg.DriftInterval,
			Logger:   logger,
			Metrics:  metrics.jobs,
			Alerts:   a.alerts,
		}, func(ctx context.Context) error {
			return a.monitor.DetectAll(ctx, cfg.DriftWindow)
		}),
	)
	if memoryStore != nil {
		a.runners = append(a.runners, jobs.NewRunner(jobs.RunnerConfig{
			Name:     jobs.JobTypeCachePurge,
			Interval: cfg.EnrichmentCacheTTL,
			Logger:   logger,
			Metrics:  metrics.jobs,
			Alerts:   a.alerts,
		}, func(ctx context.Context) error {
			if n := memoryStore.Purge(); n > 0 {
				logger.DebugContext(ctx, "purged expired enrichment entries", "count", n)
			}
			return nil
		}))
	}

	// HTTP
	mux := api.NewMux(api.Handlers{
		Rank:    api.NewRankHandlers(a.engine, router, logger),
		ABTest:  api.NewABTestHandlers(a.registry, manager, logger),
		Drift:   api.NewDriftHandlers(a.monitor, cfg.DriftWindow, logger),
		Health:  api.NewHealthHandlers(healthCfg),
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	a.handler = buildHandler(mux, limiterStore, metrics.http, logger)

	return a, nil
}

// buildHandler applies the middleware chain. Ranking gets its own, tighter
// per-user limit on top of the global one.
func buildHandler(mux http.Handler, store middleware.RateLimitStore, metrics *middleware.Metrics, logger *slog.Logger) http.Handler {
	rankLimited := middleware.RateLimiter(store, middleware.DefaultRankLimit(), middleware.UserKeyFunc(), metrics)(mux)
	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/rank" {
			rankLimited.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	var h http.Handler = routed
	h = middleware.RateLimiter(store, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc(), metrics)(h)
	h = middleware.HTTPMetrics(metrics)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.Tracing(serviceName)(h)
	h = middleware.UserID(h)
	h = middleware.RequestID(h)
	h = middleware.Recover(logger)(h)
	return h
}

// start launches the background workers and the periodic jobs.
func (a *app) start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	for _, w := range a.workers {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			w(ctx)
		}()
	}
	for _, r := range a.runners {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job %s: %w", r.Name(), err)
		}
	}
	return nil
}

// stop halts the jobs, lets the workers flush and releases storage.
func (a *app) stop(ctx context.Context) error {
	for _, r := range a.runners {
		r.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("background workers did not stop: %w", ctx.Err())
	}
	return errors.Join(err, a.close())
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// server wraps the handler with the timeouts used in production.
func (a *app) server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
