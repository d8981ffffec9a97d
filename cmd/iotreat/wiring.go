package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/okian/iotreat/internal/adapters/detector"
	"github.com/okian/iotreat/internal/adapters/hardware"
	"github.com/okian/iotreat/internal/adapters/mq/mqtt"
	workerpool "github.com/okian/iotreat/internal/adapters/mq/worker"
	"github.com/okian/iotreat/internal/config"
	"github.com/okian/iotreat/internal/domain/dispense"
	"github.com/okian/iotreat/internal/domain/feeding"
	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/pkg/logger"
	"github.com/okian/iotreat/pkg/metrics"
)

// speciesDefaults converts the configured species table into store defaults.
func speciesDefaults(cfg *config.Config) map[species.Species]settings.SpeciesSettings {
	out := make(map[species.Species]settings.SpeciesSettings, len(cfg.Species))
	for name, sc := range cfg.Species {
		out[species.Normalize(name)] = settings.SpeciesSettings{
			CooldownSeconds: sc.Cooldown,
			TargetGrams:     sc.Grams,
		}
	}
	return out
}

// hardwareSet is the actuator and sensor pair plus the call that forces the
// actuator closed.
type hardwareSet struct {
	actuator dispense.Actuator
	sensor   dispense.Sensor
	close    func(ctx context.Context) error
}

func openHardware(ctx context.Context, cfg config.HardwareConfig) (hardwareSet, error) {
	switch cfg.Driver {
	case config.HardwareGPIO:
		lid, cell, err := hardware.OpenGPIO(ctx, hardware.GPIOConfig{
			ServoPin:        cfg.ServoPin,
			RelayPin:        cfg.RelayPin,
			DoutPin:         cfg.HX711DoutPin,
			SckPin:          cfg.HX711SckPin,
			ServoOpenDuty:   cfg.ServoOpenDuty,
			ServoClosedDuty: cfg.ServoClosedDuty,
			ServoSettle:     cfg.ServoSettle,
			ReadTimeout:     cfg.ReadTimeout,
			Offset:          cfg.Offset,
			Scale:           cfg.Scale,
		})
		if err != nil {
			return hardwareSet{}, err
		}
		return hardwareSet{actuator: lid, sensor: cell, close: lid.Close}, nil
	case config.HardwareSim:
		h := hardware.NewHopper(hardware.WithFlowRate(cfg.SimFlowGramsPerSecond))
		return hardwareSet{actuator: h, sensor: h, close: h.Close}, nil
	default:
		return hardwareSet{}, fmt.Errorf("unknown hardware driver %q", cfg.Driver)
	}
}

// detectorSource is the running detector and how to stop it.
type detectorSource struct {
	detector feeding.Detector
	stop     func(ctx context.Context) error
}

// openDetector starts the configured classifier command, or reads detection
// lines from stdin when none is set.
func openDetector(ctx context.Context, cfg config.DetectorConfig, stdin io.Reader) (detectorSource, error) {
	opts := []detector.Option{
		detector.WithLabels(cfg.Labels),
		detector.WithMinConfidence(cfg.MinConfidence),
	}
	if cfg.Command == "" {
		return detectorSource{
			detector: detector.NewStream(stdin, opts...),
			stop:     func(context.Context) error { return nil },
		}, nil
	}

	proc, err := detector.NewSubprocess(cfg.Command, cfg.Args, opts...)
	if err != nil {
		return detectorSource{}, err
	}
	if err := proc.Start(ctx); err != nil {
		return detectorSource{}, err
	}
	return detectorSource{detector: proc, stop: proc.Stop}, nil
}

// openTransport connects to the broker. With no broker configured it returns
// a nil client and telemetry goes to the log. A connect timeout is not fatal:
// the client keeps retrying in the background.
func openTransport(ctx context.Context, cfg config.MQTTConfig, log logger.Logger) (*mqtt.Client, workerpool.Sink, error) {
	if cfg.Broker == "" {
		log.Info(ctx, "no mqtt broker configured; telemetry goes to the log")
		return nil, workerpool.NewLogSink(log.Named("telemetry")), nil
	}

	client, err := mqtt.New(cfg.Broker,
		mqtt.WithClientID(cfg.ClientID),
		mqtt.WithTLSFiles(cfg.CAFile, cfg.CertFile, cfg.KeyFile),
		mqtt.WithQoS(byte(cfg.QoS)), //nolint:gosec // validated to 0..2
		mqtt.WithTelemetryTopic(cfg.TelemetryTopic),
		mqtt.WithConnectTimeout(cfg.ConnectTimeout),
		mqtt.WithPublishTimeout(cfg.PublishTimeout),
		mqtt.WithLogger(log.Named("mqtt")),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := client.Connect(ctx); err != nil {
		log.Warn(ctx, "mqtt connect failed; retrying in background", logger.Error(err))
	}
	return client, client, nil
}

// runProcessSampler samples CPU and memory into the process gauges until ctx
// is done.
func runProcessSampler(ctx context.Context, interval time.Duration, log logger.Logger) {
	sampler, err := metrics.NewProcessSampler()
	if err != nil {
		log.Warn(ctx, "process metrics disabled", logger.Error(err))
		return
	}
	sampler.Run(ctx, interval, func(err error) {
		log.Debug(ctx, "process sample failed", logger.Error(err))
	})
}
