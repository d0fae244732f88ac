package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/julienvalera/velib-harvester/internal/circuitbreaker"
	"github.com/julienvalera/velib-harvester/internal/client"
	"github.com/julienvalera/velib-harvester/internal/config"
	"github.com/julienvalera/velib-harvester/internal/gate"
	httphandler "github.com/julienvalera/velib-harvester/internal/http"
	"github.com/julienvalera/velib-harvester/internal/lifecycle"
	"github.com/julienvalera/velib-harvester/internal/observability"
	"github.com/julienvalera/velib-harvester/internal/scheduler"
	"github.com/julienvalera/velib-harvester/internal/schema"
	"github.com/julienvalera/velib-harvester/internal/service"
	"github.com/julienvalera/velib-harvester/internal/snapshot"
	"github.com/julienvalera/velib-harvester/internal/storage"
	"github.com/julienvalera/velib-harvester/internal/traffic"
	"github.com/julienvalera/velib-harvester/internal/watermark"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		return 1
	}

	loc, err := snapshot.LoadLocation(cfg.SnapshotTimezone)
	if err != nil {
		logger.Error("snapshot timezone", zap.Error(err))
		return 1
	}

	clientOpts := client.Options{
		Timeout:        cfg.FeedTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		MaxBodyBytes:   cfg.MaxBodyBytes,
	}
	if cfg.BreakerEnabled {
		const component = "velib_feed"
		clientOpts.Breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        component,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerTransitionsTotal.WithLabelValues(component, from.String(), to.String()).Inc()
				observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.WithLabelValues(component).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}
	feedClient, err := client.NewVelibClient(cfg.FeedBaseURL, clientOpts)
	if err != nil {
		logger.Error("feed client", zap.Error(err))
		return 1
	}

	validator, err := schema.NewValidator(schema.Options{StrictBikeTypes: cfg.StrictBikeTypes})
	if err != nil {
		logger.Error("schema validator", zap.Error(err))
		return 1
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	checks := make(map[string]func(ctx context.Context) error)
	var closers []func() error

	var store watermark.Store
	switch cfg.WatermarkBackend {
	case config.WatermarkMemory:
		store = watermark.NewMemoryStore()
		logger.Warn("watermark backend: memory; the watermark is lost on restart")
	case config.WatermarkMemcached:
		mc := watermark.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedKey, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached unreachable at startup", zap.Error(err))
		}
		checks["watermark"] = func(context.Context) error { return mc.Ping() }
		closers = append(closers, mc.Close)
		store = mc
		logger.Info("watermark backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case config.WatermarkPostgres:
		pg, err := watermark.NewPostgresStore(startCtx, cfg.DatabaseURL, cfg.PostgresWatermarkName)
		if err != nil {
			logger.Error("postgres watermark", zap.Error(err))
			return 1
		}
		checks["watermark"] = pg.Ping
		closers = append(closers, pg.Close)
		store = pg
		logger.Info("watermark backend: postgres", zap.String("name", cfg.PostgresWatermarkName))
	default:
		fs := watermark.NewFileStore(cfg.WatermarkFile)
		store = fs
		logger.Info("watermark backend: file", zap.String("path", fs.Path()))
	}
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Error("close watermark backend", zap.Error(err))
			}
		}
	}()

	g, err := gate.New(store, gate.Policy(cfg.GatePolicy))
	if err != nil {
		logger.Error("gate", zap.Error(err))
		return 1
	}

	var writer storage.Writer
	switch cfg.StorageBackend {
	case config.StorageS3:
		s3w, err := storage.NewS3Writer(startCtx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			logger.Error("s3 writer", zap.Error(err))
			return 1
		}
		writer = s3w
		logger.Info("storage backend: s3", zap.String("bucket", cfg.S3Bucket), zap.String("prefix", cfg.S3Prefix))
	default:
		writer = storage.NewFSWriter(cfg.FilesystemRoot)
		logger.Info("storage backend: filesystem", zap.String("root", cfg.FilesystemRoot))
	}
	startCancel()

	tracker := traffic.NewTracker(cfg.DegradedWindow)
	observability.RegisterRunWindowGauges(tracker)

	harvester, err := service.NewHarvestService(service.Options{
		Client:     feedClient,
		Validator:  validator,
		Gate:       g,
		Writer:     writer,
		Logger:     logger,
		Location:   loc,
		Suffix:     cfg.SnapshotSuffix,
		RunTimeout: cfg.RunTimeout,
		Tracker:    tracker,
	})
	if err != nil {
		logger.Error("harvest service", zap.Error(err))
		return 1
	}

	if cfg.SchedulerInterval == 0 {
		logger.Info("single run mode")
		res, err := harvester.Run(context.Background())
		flushTelemetry(logger)
		if err != nil {
			logger.Error("run failed", zap.String("run_id", res.RunID), zap.String("stage", res.Stage), zap.Error(err))
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(harvester, cfg.SchedulerInterval, loc, cfg.RunOnStart, logger)
	if err := sched.Start(context.Background()); err != nil {
		logger.Error("scheduler", zap.Error(err))
		return 1
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	handler := httphandler.NewHandler(harvester, tracker, &httphandler.HealthConfig{
		DegradedErrorPct: cfg.DegradedErrorPct,
		Checks:           checks,
		Watermark:        store.Read,
	}, logger)
	router := httphandler.NewRouter(handler, logger, limiter, 5*time.Second)

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// POST /runs answers after a full run.
		WriteTimeout: cfg.RunTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if n := lifecycle.RunsInFlight(); n > 0 {
		logger.Info("waiting for in-flight run", zap.Int64("count", n))
	}
	if err := lifecycle.WaitForRuns(shutdownCtx); err != nil {
		logger.Warn("in-flight run not completed; aborting", zap.Error(err))
		sched.Abort()
	}
	sched.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := lifecycle.WaitForRequests(shutdownCtx); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err),
			zap.Int64("remaining", lifecycle.RequestsInFlight()))
	}

	flushTelemetry(logger)
	logger.Info("shutdown complete")
	return 0
}

func flushTelemetry(logger *zap.Logger) {
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
}
