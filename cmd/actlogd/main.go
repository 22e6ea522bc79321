// Command actlogd is a standalone daemon that loads a configuration
// file, activates the default dispatcher against it, and serves the
// ambient metrics/health/profiling endpoints until told to shut down.
// Most applications embed the actlog library directly; this binary
// exists for standalone deployments and for exercising the full ambient
// stack end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/actlog"
	"github.com/loomhq/actlog/internal/config"
	"github.com/loomhq/actlog/internal/health"
	"github.com/loomhq/actlog/internal/logging"
	"github.com/loomhq/actlog/internal/metrics"
	"github.com/loomhq/actlog/internal/profiling"
	"github.com/loomhq/actlog/internal/server"
	"github.com/loomhq/actlog/internal/shutdown"
	"github.com/loomhq/actlog/internal/tracing"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	tailMode   = flag.Bool("tail", false, "Follow the configured binary-file handler paths live instead of activating the dispatcher")
	version    = "0.1.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logging.SetGlobal(logger)
	logger.Info().Str("version", version).Msg("starting actlogd")

	if *tailMode {
		return runTail(cfg, logger)
	}

	ctx := context.Background()

	var tracer trace.Tracer
	tracingProvider, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Endpoint:     cfg.Tracing.Endpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		EnableStdout: cfg.Tracing.EnableStdout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	tracer = tracingProvider.Tracer()

	def, err := actlog.EnsureActiveDefault(cfg, tracer)
	if err != nil {
		return fmt.Errorf("failed to activate default dispatcher: %w", err)
	}

	collector := metrics.GetGlobalCollector()

	healthChecker := health.NewChecker(cfg.Health.Timeout)
	healthChecker.Register("dispatcher", func(ctx context.Context) health.ComponentHealth {
		select {
		case <-def.Dispatcher.StoppedToken():
			return health.ComponentHealth{Status: health.StatusUnhealthy, Message: "dispatcher stopped"}
		default:
			return health.ComponentHealth{Status: health.StatusHealthy, Message: "dispatcher running"}
		}
	})

	var srv *server.Server
	if cfg.Metrics.Enabled || cfg.Health.Enabled {
		srv = server.New(server.Config{
			MetricsAddress:  cfg.Metrics.Address,
			MetricsPath:     cfg.Metrics.Path,
			HealthAddress:   cfg.Health.Address,
			LivenessPath:    cfg.Health.LivenessPath,
			ReadinessPath:   cfg.Health.ReadinessPath,
			MetricsRegistry: collector.Registry(),
			HealthChecker:   healthChecker,
			Logger:          logger,
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start ambient HTTP server: %w", err)
		}
	}

	var profiler *profiling.Profiler
	if cfg.Profiling.Enabled {
		profiler, err = profiling.New(profiling.Config{
			Enabled:            cfg.Profiling.Enabled,
			Address:            cfg.Profiling.Address,
			CPUProfilePath:     cfg.Profiling.CPUProfilePath,
			MemProfilePath:     cfg.Profiling.MemProfilePath,
			BlockProfile:       cfg.Profiling.BlockProfile,
			MutexProfile:       cfg.Profiling.MutexProfile,
			GoroutineThreshold: cfg.Profiling.GoroutineThreshold,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create profiler: %w", err)
		}
		if err := profiler.Start(); err != nil {
			return fmt.Errorf("failed to start profiler: %w", err)
		}
	}

	shutdownMgr := shutdown.New(shutdown.Config{Timeout: 30 * time.Second, Logger: logger})
	shutdownMgr.RegisterFunc("dispatcher", func(context.Context) error {
		return actlog.Dispose(10 * time.Second)
	})
	if srv != nil {
		shutdownMgr.RegisterFunc("server", func(ctx context.Context) error {
			return srv.Stop(ctx)
		})
	}
	if profiler != nil {
		shutdownMgr.RegisterFunc("profiler", func(context.Context) error {
			return profiler.Stop()
		})
	}
	shutdownMgr.RegisterFunc("tracing", func(ctx context.Context) error {
		return tracingProvider.Shutdown(ctx)
	})

	logger.Info().Msg("actlogd is running")
	shutdownMgr.WaitForSignal()
	<-shutdownMgr.Done()

	logger.Info().Msg("actlogd stopped")
	return nil
}
