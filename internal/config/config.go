// Package config defines the feeder configuration and its loading hooks.
//
// Conventions:
// - New() builds a Config with defaults; Load layers file and env on top.
// - Validate reports every problem wrapped in ErrInvalidConfig.
package config

import (
	"time"
)

// Supported drivers.
const (
	HardwareGPIO = "gpio"
	HardwareSim  = "sim"

	HistoryMemory   = "memory"
	HistorySQLite   = "sqlite"
	HistoryPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the local HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DeviceID identifies the feeder in device_ready.
	DeviceID string `koanf:"device_id"`

	// Species holds the default settings per species. Its keys are the
	// species the device knows; config updates cannot add new ones. A file or
	// env entry for a default species overrides only the fields it names. A
	// new species must name both fields.
	Species map[string]SpeciesConfig `koanf:"species"`

	// FeedingSpecies narrows which detected species trigger a dispense.
	// Empty means every configured species.
	FeedingSpecies []string `koanf:"feeding_species"`

	Dispense  DispenseConfig  `koanf:"dispense"`
	Detector  DetectorConfig  `koanf:"detector"`
	Hardware  HardwareConfig  `koanf:"hardware"`
	MQTT      MQTTConfig      `koanf:"mqtt"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	History   HistoryConfig   `koanf:"history"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// SpeciesConfig is the default cooldown and portion for one species.
type SpeciesConfig struct {
	Cooldown int     `koanf:"cooldown"`
	Grams    float64 `koanf:"grams"`
}

// DispenseConfig bounds a single dispense attempt.
type DispenseConfig struct {
	Timeout          time.Duration `koanf:"timeout"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	ProgressInterval time.Duration `koanf:"progress_interval"`
}

// DetectorConfig describes the external classifier process.
type DetectorConfig struct {
	Command       string            `koanf:"command"`
	Args          []string          `koanf:"args"`
	MinConfidence float64           `koanf:"min_confidence"`
	Labels        map[string]string `koanf:"labels"`
	FrameInterval time.Duration     `koanf:"frame_interval"`
}

// HardwareConfig selects and tunes the actuator and scale.
type HardwareConfig struct {
	Driver string `koanf:"driver"`

	ServoPin        string        `koanf:"servo_pin"`
	RelayPin        string        `koanf:"relay_pin"`
	HX711DoutPin    string        `koanf:"hx711_dout_pin"`
	HX711SckPin     string        `koanf:"hx711_sck_pin"`
	ServoOpenDuty   float64       `koanf:"servo_open_duty"`
	ServoClosedDuty float64       `koanf:"servo_closed_duty"`
	ServoSettle     time.Duration `koanf:"servo_settle"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	Offset          int32         `koanf:"offset"`
	Scale           float64       `koanf:"scale"`

	// SimFlowGramsPerSecond is the fill rate of the simulated hopper.
	SimFlowGramsPerSecond float64 `koanf:"sim_flow_grams_per_second"`
}

// MQTTConfig configures the broker connection. An empty Broker disables
// MQTT and telemetry goes to the log.
type MQTTConfig struct {
	Broker         string        `koanf:"broker"`
	ClientID       string        `koanf:"client_id"`
	CAFile         string        `koanf:"ca_file"`
	CertFile       string        `koanf:"cert_file"`
	KeyFile        string        `koanf:"key_file"`
	TelemetryTopic string        `koanf:"telemetry_topic"`
	SettingsTopic  string        `koanf:"settings_topic"`
	QoS            int           `koanf:"qos"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
}

// TelemetryConfig sizes the outbound event buffer.
type TelemetryConfig struct {
	QueueSize int `koanf:"queue_size"`
}

// HistoryConfig selects where dispense attempts are recorded.
type HistoryConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`

	// MaxLimit caps GET /history?limit.
	MaxLimit int `koanf:"max_limit"`
}

// MetricsConfig switches Prometheus recording and sets how often process
// CPU and memory are sampled.
type MetricsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	SampleInterval time.Duration `koanf:"sample_interval"`
}

// New creates a Config with defaults matching the reference hardware.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",
		DeviceID:  "iotreat",
		Species: map[string]SpeciesConfig{
			"cat":   {Cooldown: 120, Grams: 50},
			"dog":   {Cooldown: 120, Grams: 50},
			"human": {Cooldown: 60, Grams: 0},
		},
		Dispense: DispenseConfig{
			Timeout:          30 * time.Second,
			PollInterval:     50 * time.Millisecond,
			ProgressInterval: time.Second,
		},
		Detector: DetectorConfig{
			MinConfidence: 0.5,
			Labels: map[string]string{
				"cat":    "cat",
				"dog":    "dog",
				"person": "human",
			},
			FrameInterval: 50 * time.Millisecond,
		},
		Hardware: HardwareConfig{
			Driver:                HardwareSim,
			ServoPin:              "GPIO18",
			RelayPin:              "GPIO23",
			HX711DoutPin:          "GPIO5",
			HX711SckPin:           "GPIO6",
			ServoOpenDuty:         7.5,
			ServoClosedDuty:       5.0,
			ServoSettle:           300 * time.Millisecond,
			ReadTimeout:           500 * time.Millisecond,
			Offset:                -131480,
			Scale:                 1563.7,
			SimFlowGramsPerSecond: 10,
		},
		MQTT: MQTTConfig{
			ClientID:       "IOTreat",
			TelemetryTopic: "iotreat/petFeeder",
			SettingsTopic:  "iotreat/petFeederSettings",
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			QueueSize: 256,
		},
		History: HistoryConfig{
			Driver:   HistoryMemory,
			MaxLimit: 100,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			SampleInterval: 10 * time.Second,
		},
	}
}
