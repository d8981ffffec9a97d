package config

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment knobs.
const (
	EnvPrefix     = "IOTREAT_"
	EnvConfigFile = "IOTREAT_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if IOTREAT_CONFIG is set
//  3. env (prefix IOTREAT_, "__" separates nested keys)
func Load(_ context.Context) (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// IOTREAT_MQTT__BROKER -> mqtt.broker, IOTREAT_LOG_LEVEL -> log_level.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		if s == strings.TrimPrefix(EnvConfigFile, EnvPrefix) {
			return ""
		}
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := New()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := mergeSpecies(k, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeSpecies restores the default fields a species entry left out. The
// decoder replaces map values whole, so IOTREAT_SPECIES__CAT__GRAMS=40 alone
// would otherwise zero the cat's cooldown.
func mergeSpecies(k *koanf.Koanf, cfg *Config) error {
	defaults := New().Species
	var errs []error
	for name, sc := range cfg.Species {
		prefix := "species." + name + "."
		if !k.Exists("species." + name) {
			continue
		}
		def, known := defaults[name]
		if !k.Exists(prefix + "cooldown") {
			if !known {
				errs = append(errs, fmt.Errorf("species %s: cooldown is required", name))
			}
			sc.Cooldown = def.Cooldown
		}
		if !k.Exists(prefix + "grams") {
			if !known {
				errs = append(errs, fmt.Errorf("species %s: grams is required", name))
			}
			sc.Grams = def.Grams
		}
		cfg.Species[name] = sc
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Addr == "" {
		add("addr must not be empty")
	}
	if len(c.Species) == 0 {
		add("species must not be empty")
	}
	for name, sc := range c.Species {
		if strings.TrimSpace(name) == "" {
			add("species name must not be empty")
		}
		if sc.Cooldown < 0 {
			add("species %s: cooldown must be >= 0", name)
		}
		if sc.Grams < 0 || math.IsNaN(sc.Grams) || math.IsInf(sc.Grams, 0) {
			add("species %s: grams must be a finite number >= 0", name)
		}
	}
	for _, name := range c.FeedingSpecies {
		if _, ok := c.Species[strings.ToLower(strings.TrimSpace(name))]; !ok {
			add("feeding_species: %q is not a configured species", name)
		}
	}

	if c.Dispense.Timeout <= 0 {
		add("dispense.timeout must be > 0")
	}
	if c.Dispense.PollInterval <= 0 {
		add("dispense.poll_interval must be > 0")
	}
	if c.Dispense.ProgressInterval <= 0 {
		add("dispense.progress_interval must be > 0")
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		add("detector.min_confidence must be within [0,1]")
	}

	switch c.Hardware.Driver {
	case HardwareSim:
		if c.Hardware.SimFlowGramsPerSecond <= 0 {
			add("hardware.sim_flow_grams_per_second must be > 0")
		}
	case HardwareGPIO:
		if c.Hardware.Scale == 0 {
			add("hardware.scale must not be zero")
		}
	default:
		add("hardware.driver %q is not one of %s, %s", c.Hardware.Driver, HardwareGPIO, HardwareSim)
	}

	switch c.History.Driver {
	case HistoryMemory:
	case HistorySQLite, HistoryPostgres:
		if c.History.DSN == "" {
			add("history.dsn is required for driver %s", c.History.Driver)
		}
	default:
		add("history.driver %q is not one of %s, %s, %s", c.History.Driver, HistoryMemory, HistorySQLite, HistoryPostgres)
	}
	if c.History.MaxLimit <= 0 {
		add("history.max_limit must be > 0")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos must be 0, 1 or 2")
	}
	if c.Telemetry.QueueSize <= 0 {
		add("telemetry.queue_size must be > 0")
	}
	if c.Metrics.Enabled && c.Metrics.SampleInterval <= 0 {
		add("metrics.sample_interval must be > 0")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
