package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/climatetwin/api"
	"github.com/mjasion/balena-home/climatetwin/config"
	"github.com/mjasion/balena-home/climatetwin/dashboard"
	"github.com/mjasion/balena-home/climatetwin/forecast"
	"github.com/mjasion/balena-home/climatetwin/panel"
	"github.com/mjasion/balena-home/climatetwin/pkg/buffer"
	pkgmetrics "github.com/mjasion/balena-home/climatetwin/pkg/metrics"
	"github.com/mjasion/balena-home/climatetwin/pkg/profiling"
	"github.com/mjasion/balena-home/climatetwin/pkg/telemetry"
	"github.com/mjasion/balena-home/climatetwin/pkg/types"
)

func main() {
	configPath := flag.String("c", "config.yaml", "Path to configuration file")
	apiURL := flag.String("api-url", "", "Backend API base URL (overrides config and API_URL)")
	check := flag.Bool("check", false, "Probe the backend health endpoint and exit")
	envFile := flag.String("env-file", config.DefaultEnvFile, "Environment defaults file")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Resolve(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve backend URL: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting climate twin dashboard")
	cfg.PrintConfig(logger)
	cfg.CheckEnvironment(*envFile, logger)

	client, err := api.New(api.Config{
		BaseURL:     cfg.API.URL,
		APIKey:      cfg.API.Key,
		Timeout:     cfg.API.Timeout(),
		LogRequests: cfg.Logging.Requests,
	}, logger)
	if err != nil {
		logger.Error("failed to create API client", zap.Error(err))
		os.Exit(1)
	}

	if *check {
		os.Exit(runCheck(client, logger))
	}

	profiler, err := profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		logger.Error("failed to initialize profiler", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if profiler != nil {
			if err := profiler.Stop(); err != nil {
				logger.Error("failed to shutdown profiler", zap.Error(err))
			}
		}
	}()

	ctx := context.Background()
	otelProviders, err := telemetry.InitProviders(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry providers", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if otelProviders != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := otelProviders.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown OpenTelemetry providers", zap.Error(err))
			}
		}
	}()

	ctx, mainSpan := otel.Tracer("main").Start(ctx, "main.run")
	defer mainSpan.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	// history backs /api/history; the export buffer only exists when something drains it
	history := buffer.New[*types.Reading](cfg.Dashboard.HistorySize, logger)
	recorders := panel.Recorders{history}

	var (
		ringBuffer *buffer.RingBuffer[*types.Reading]
		pusher     *pkgmetrics.Pusher
	)
	if cfg.Prometheus.Enabled {
		ringBuffer = buffer.New[*types.Reading](cfg.Prometheus.BufferSize, logger)
		recorders = append(recorders, ringBuffer)
		pusher = pkgmetrics.New(pkgmetrics.Config{
			URL:          cfg.Prometheus.URL,
			Username:     cfg.Prometheus.Username,
			Password:     cfg.Prometheus.Password,
			PushInterval: time.Duration(cfg.Prometheus.PushIntervalSeconds) * time.Second,
			BatchSize:    cfg.Prometheus.BatchSize,
			TimeSeriesBuilder: pkgmetrics.CombineBuilders(
				pkgmetrics.BuildEnvironmentTimeSeries,
				pkgmetrics.BuildHealthTimeSeries,
				pkgmetrics.BuildRoomTimeSeries,
			),
		}, ringBuffer, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			pusher.Start(ctx)
		}()
	} else {
		logger.Info("prometheus export disabled")
	}

	scheduler := panel.NewScheduler(logger)
	panels := panel.Build(client, cfg.Thresholds, panel.Intervals{
		Environmental: cfg.Panels.Environmental,
		Alerts:        cfg.Panels.Alerts,
		ClimateTwin:   cfg.Panels.ClimateTwin,
		SystemHealth:  cfg.Panels.SystemHealth,
		RetryDelay:    cfg.Panels.RetryDelay,
	}, recorders, logger)
	for _, p := range panels {
		if err := scheduler.Add(p); err != nil {
			logger.Error("failed to register panel", zap.Error(err))
			os.Exit(1)
		}
	}

	opts := dashboard.Options{
		Panels:     scheduler,
		Backend:    client,
		Thresholds: cfg.Thresholds,
		Grafana:    cfg.Grafana,
		Forecast:   forecast.Handler(forecast.NewFetcher(forecast.DefaultURL, cfg.API.Timeout(), logger), logger),
		History:    history,
		Logger:     logger,
	}
	if pusher != nil {
		opts.Exporter = pusher
	}
	server := dashboard.New(opts)

	scheduler.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf(":%d", cfg.Dashboard.Port)
		shutdownTimeout := time.Duration(cfg.Dashboard.ShutdownTimeoutSeconds) * time.Second
		if err := server.Run(ctx, addr, shutdownTimeout); err != nil {
			logger.Error("dashboard server failed", zap.Error(err))
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	cancel()

	logger.Info("stopping panel scheduler")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Dashboard.ShutdownTimeoutSeconds)*time.Second)
	scheduler.Stop(stopCtx)
	stopCancel()

	if pusher != nil {
		readings := ringBuffer.GetAllAndClear()
		if len(readings) > 0 {
			finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := pusher.Push(finalCtx, readings); err != nil {
				logger.Error("failed final metrics push", zap.Error(err))
			} else {
				logger.Info("final metrics push successful", zap.Int("reading_count", len(readings)))
			}
			finalCancel()
		}
	}

	logger.Info("waiting for goroutines to finish")
	wg.Wait()

	logger.Info("climate twin dashboard stopped")
}

// runCheck probes the backend health endpoint and returns the exit code
func runCheck(client *api.Client, logger *zap.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		logger.Error("backend health check failed", zap.String("url", client.BaseURL()+"/health"), zap.Error(err))
		return 1
	}
	logger.Info("backend healthy", zap.String("url", client.BaseURL()+"/health"))
	return 0
}
