package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tebeka/atexit"

	"github.com/okian/iotreat/internal/adapters/http/api"
	"github.com/okian/iotreat/internal/adapters/http/swagger"
	"github.com/okian/iotreat/internal/adapters/repository"
	app "github.com/okian/iotreat/internal/app"
	"github.com/okian/iotreat/internal/config"
	"github.com/okian/iotreat/internal/domain/feeding"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/pkg/logger"
	"github.com/okian/iotreat/pkg/metrics"
)

// Server and shutdown timeouts.
const (
	readTimeout          = 10 * time.Second
	writeTimeout         = 10 * time.Second
	idleTimeout          = 60 * time.Second
	readHeaderTimeout    = 5 * time.Second
	shutdownTimeout      = 30 * time.Second
	closeActuatorTimeout = 2 * time.Second
)

func main() {
	atexit.Exit(run())
}

func run() int { //nolint:funlen // linear startup and shutdown sequence
	// Broker credentials and certificate paths may live in .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Stderr.WriteString("failed to load .env: " + err.Error() + "\n")
		return 1
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr since the logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	metrics.Configure(
		metrics.WithMetricsEnabled(cfg.Metrics.Enabled),
		metrics.WithCustomLabels(map[string]string{"device_id": cfg.DeviceID}),
	)

	history, err := repository.Open(ctx, cfg.History.Driver, cfg.History.DSN,
		repository.WithLogger(log.Named("history")),
	)
	if err != nil {
		log.Error(ctx, "failed to open feeding history", logger.Error(err))
		return 1
	}
	defer func() {
		if err := history.Close(); err != nil {
			log.Warn(ctx, "history close failed", logger.Error(err))
		}
	}()

	hw, err := openHardware(ctx, cfg.Hardware)
	if err != nil {
		log.Error(ctx, "failed to open hardware", logger.String("driver", cfg.Hardware.Driver), logger.Error(err))
		return 1
	}
	closeActuator := func() {
		cctx, cancel := context.WithTimeout(context.Background(), closeActuatorTimeout)
		defer cancel()
		if err := hw.close(cctx); err != nil {
			log.Error(cctx, "failed to close actuator", logger.Error(err))
		}
	}
	atexit.Register(closeActuator)

	src, err := openDetector(ctx, cfg.Detector, os.Stdin)
	if err != nil {
		log.Error(ctx, "failed to start detector", logger.String("command", cfg.Detector.Command), logger.Error(err))
		return 1
	}

	mq, sink, err := openTransport(ctx, cfg.MQTT, log)
	if err != nil {
		log.Error(ctx, "failed to create mqtt client", logger.Error(err))
		return 1
	}

	svc, err := app.New(speciesDefaults(cfg), hw.actuator, hw.sensor,
		app.WithLogger(log.Named("service")),
		app.WithDeviceID(cfg.DeviceID),
		app.WithEligible(species.NewSet(cfg.FeedingSpecies...)),
		app.WithQueueSize(cfg.Telemetry.QueueSize),
		app.WithDispenseTimings(cfg.Dispense.Timeout, cfg.Dispense.PollInterval, cfg.Dispense.ProgressInterval),
		app.WithFrameInterval(cfg.Detector.FrameInterval),
		app.WithPublishTimeout(cfg.MQTT.PublishTimeout),
		app.WithSink(sink),
		app.WithHistory(history),
	)
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return 1
	}
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return 1
	}

	if mq != nil {
		if err := mq.Subscribe(ctx, cfg.MQTT.SettingsTopic, svc.OnConfigMessage); err != nil {
			log.Error(ctx, "failed to subscribe to settings", logger.String("topic", cfg.MQTT.SettingsTopic), logger.Error(err))
		}
	}

	if cfg.Metrics.Enabled {
		go runProcessSampler(ctx, cfg.Metrics.SampleInterval, log.Named("process"))
	}

	mux := http.NewServeMux()
	api.NewServer(svc, svc, history, api.WithMaxHistoryLimit(cfg.History.MaxLimit)).Register(mux)
	swagger.Register(mux)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
		}
	}()

	code := 0
	if err := svc.Run(ctx, src.detector); err != nil {
		if errors.Is(err, feeding.ErrDetectorStopped) {
			log.Error(ctx, "detector stopped; shutting down", logger.Error(err))
		} else {
			log.Error(ctx, "feeding loop failed", logger.Error(err))
		}
		code = 1
	}
	log.Info(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	closeActuator()
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "telemetry not fully drained", logger.Error(err))
	}
	if mq != nil {
		_ = mq.Unsubscribe(shutdownCtx, cfg.MQTT.SettingsTopic)
		mq.Disconnect()
	}
	if err := src.stop(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "detector stop failed", logger.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "feeder stopped")
	return code
}
