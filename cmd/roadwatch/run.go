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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"roadwatch/internal/core/domain"
	"roadwatch/internal/core/ports"
	"roadwatch/internal/core/services"
	httphandlers "roadwatch/internal/handlers/http"
	"roadwatch/internal/infrastructure/capture"
	"roadwatch/internal/infrastructure/detection"
	"roadwatch/internal/infrastructure/display"
	"roadwatch/internal/infrastructure/middleware"
	"roadwatch/internal/infrastructure/monitoring"
	"roadwatch/internal/infrastructure/publisher"
	"roadwatch/internal/infrastructure/reliability"
	"roadwatch/internal/infrastructure/repositories"
	"roadwatch/internal/infrastructure/sinks"
	"roadwatch/internal/infrastructure/storage/filestore"
	"roadwatch/internal/infrastructure/storage/sqlite"
	"roadwatch/pkg/circuitbreaker"
	"roadwatch/pkg/clock"
	"roadwatch/pkg/config"
	"roadwatch/pkg/tracing"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run vehicle detection on a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&flags.detector, "detector", "", "Detector endpoint (overrides detection.endpoint)")
	cmd.Flags().Float64Var(&flags.maxFPS, "max-fps", 0, "Maximum frames per second, 0 for unlimited")
	cmd.Flags().StringVar(&flags.classes, "classes", "", "Comma separated vehicle classes")
	cmd.Flags().Float64Var(&flags.confidence, "confidence", 0, "Minimum detection confidence")
	cmd.Flags().Float64Var(&flags.metersPerUnit, "meters-per-unit", 0, "Meters per image unit")
	cmd.Flags().BoolVar(&flags.saveFrames, "save-frames", false, "Save every processed frame as JPEG")
	return cmd
}

func breakerConfig(cfg *config.Config) circuitbreaker.Config {
	cb := cfg.Reliability.CircuitBreaker
	return circuitbreaker.Config{
		FailureThreshold:    cb.FailureThreshold,
		SuccessThreshold:    cb.SuccessThreshold,
		Timeout:             cb.Timeout,
		MaxRequestsHalfOpen: cb.MaxRequestsHalfOpen,
	}
}

func streamEndpoint(cfg *config.Config) (domain.StreamEndpoint, error) {
	return domain.NewStreamEndpoint(
		cfg.Stream.URL,
		cfg.Stream.ConnectTimeout,
		cfg.Stream.MaxRetries,
		cfg.Stream.RetryDelay,
		cfg.Stream.BufferSize,
	)
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Failed to flush traces", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(registry)

	endpoint, err := streamEndpoint(cfg)
	if err != nil {
		return err
	}
	clk := clock.Real{}
	stream := services.NewStreamManager(endpoint, capture.NewGocvOpener(log), clk, collector, log)
	tracks := services.NewTrackHistoryStore(cfg.Tracking.HistorySize)
	estimator := services.NewKinematicEstimator(cfg.Kinematics.MetersPerUnit)

	breakerCfg := breakerConfig(cfg)
	detector := detection.NewHTTPDetector(detection.Config{
		Endpoint:    cfg.Detection.Endpoint,
		Timeout:     cfg.Detection.Timeout,
		JPEGQuality: cfg.Detection.JPEGQuality,
	}, circuitbreaker.New("detector", breakerCfg), log)

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("Error closing repository factory", "error", err)
		}
	}()
	results := repoFactory.CreateResultRepository()

	var outputs []ports.Sink
	if cfg.Output.SaveReports || cfg.Output.SaveFrames {
		files, err := filestore.New(cfg.Output.Directory, cfg.Detection.JPEGQuality)
		if err != nil {
			return err
		}
		if cfg.Output.SaveFrames {
			outputs = append(outputs, sinks.NewFrameSink(files, log))
		}
		if cfg.Output.SaveReports {
			outputs = append(outputs, sinks.NewReportSink("report", files))
		}
		log.Infow("Writing results to disk", "directory", files.Dir())
	}

	if cfg.SQLite.Enabled {
		store, err := sqlite.Open(cfg.SQLite.Path, log)
		if err != nil {
			return err
		}
		defer store.Close()
		outputs = append(outputs, sinks.NewReportSink("sqlite", store))
	}

	outputs = append(outputs, sinks.NewRepositorySink(results))

	if cfg.MQTT.Enabled {
		pub := publisher.NewMQTTPublisher(publisher.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
			Timeout:  cfg.MQTT.Timeout,
		}, log)
		if err := pub.Connect(ctx); err != nil {
			log.Warnw("MQTT broker unavailable, publishing once it reconnects", "broker", cfg.MQTT.Broker, "error", err)
		}
		defer pub.Close()
		outputs = append(outputs, sinks.NewPublishSink("mqtt", pub))
	}

	if cfg.Output.LogResults {
		outputs = append(outputs, sinks.NewLogSink(log, cfg.Kinematics.SpeedUnit))
	}

	var hub *display.Hub
	if cfg.Display.Enabled {
		hub = display.NewHub(display.Config{
			ClientBuffer: cfg.Display.ClientBuffer,
			PingInterval: cfg.Display.PingInterval,
			WriteTimeout: cfg.Display.WriteTimeout,
		}, log)
		defer hub.Close()
		outputs = append(outputs, sinks.NewDisplaySink(hub))
	}

	remote := map[string]bool{
		"sqlite":     true,
		"mqtt":       true,
		"repository": repoFactory.UsingRedis(),
	}
	outputs = reliability.GuardAll(outputs, remote, breakerCfg, log)

	pipeline := services.NewPipeline(services.PipelineConfig{
		VehicleClasses:      cfg.Detection.VehicleClasses,
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		MaxFPS:              cfg.Detection.MaxFPS,
		IdleTimeout:         cfg.Tracking.IdleTimeout,
		StatsInterval:       cfg.Output.StatsInterval,
	}, services.PipelineDeps{
		Stream:    stream,
		Detector:  detector,
		Tracks:    tracks,
		Estimator: estimator,
		Sinks:     outputs,
		Metrics:   collector,
		Stats:     services.NewMetricsService(clk),
		Clock:     clk,
		Logger:    log,
	})

	health := monitoring.NewHealthChecker(clk)
	interval := cfg.Monitoring.HealthCheckInterval
	health.AddStreamCheck(stream, cfg.Monitoring.StaleFrameThreshold, interval)
	health.AddRepositoryCheck(results, interval, 2*time.Second)
	if repoFactory.UsingRedis() {
		health.AddPingCheck("redis", repoFactory.HealthCheck, interval, 2*time.Second)
	}
	health.StartBackgroundChecks(ctx)

	var srv *http.Server
	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}

		routerCfg := httphandlers.RouterConfig{
			RateLimit: middleware.RateLimitConfig{
				Enabled:           cfg.Server.RateLimit.Enabled,
				RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
				Burst:             cfg.Server.RateLimit.Burst,
				MaxConcurrent:     cfg.Server.RateLimit.MaxConcurrent,
			},
		}
		if cfg.Monitoring.PrometheusEnabled {
			routerCfg.Gatherer = registry
		}
		var displayHandler ports.DisplayHandler
		if hub != nil {
			displayHandler = hub
			go broadcastStatus(ctx, hub, stream, cfg.Output.StatsInterval)
		}

		api := httphandlers.NewDetectionHandler(stream, results, tracks, estimator, pipeline)
		srv = &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      httphandlers.NewRouter(routerCfg, api, health, displayHandler, log),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		go func() {
			log.Infow("Starting Roadwatch API server", "address", cfg.Server.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	runErr := awaitPipeline(ctx, pipeline.Start, serverErr)
	cancel()
	if errors.Is(runErr, context.Canceled) {
		log.Info("Received shutdown signal")
		runErr = nil
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error during server shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("Error force closing server", "error", closeErr)
			}
		}
	}

	stats := pipeline.Stats()
	log.Infow("Roadwatch stopped",
		"run_id", pipeline.RunID(),
		"frames_processed", stats.FramesProcessed,
		"vehicles_detected", stats.VehiclesDetected,
	)
	return runErr
}

// awaitPipeline runs start until it returns or the API server fails. On a
// server failure the pipeline is cancelled and drained before returning, so
// the stream is released before the caller closes the sinks.
func awaitPipeline(ctx context.Context, start func(context.Context) error, serverErr <-chan error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- start(ctx)
	}()

	select {
	case err := <-done:
		return err
	case err := <-serverErr:
		cancel()
		<-done
		return fmt.Errorf("api server failed: %w", err)
	}
}

// broadcastStatus pushes the stream status to display viewers until ctx is
// done.
func broadcastStatus(ctx context.Context, hub *display.Hub, stream *services.StreamManager, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hub.BroadcastStatus(stream.Status())
		}
	}
}
