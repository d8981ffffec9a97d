package operator

import (
	"time"

	"github.com/okian/iotreat/internal/adapters/mq/mqtt"
)

// Defaults for the operator tool.
const (
	defaultBaseURL  = "http://localhost:9080"
	defaultClientID = "iotreat-ctl"
	defaultTimeout  = 10 * time.Second
)

// Config holds the connection settings shared by every command.
type Config struct {
	Broker         string        // MQTT broker; empty sends settings over HTTP
	ClientID       string        // must differ from the device's client id
	CAFile         string        // CA bundle for TLS brokers
	CertFile       string        // client certificate
	KeyFile        string        // client key
	SettingsTopic  string        // where settings messages are published
	TelemetryTopic string        // what watch subscribes to
	QoS            int           // MQTT quality of service
	BaseURL        string        // device HTTP API
	Timeout        time.Duration // per request / connect timeout
}

// DefaultConfig returns the settings matching a device on defaults.
func DefaultConfig() Config {
	return Config{
		ClientID:       defaultClientID,
		SettingsTopic:  mqtt.DefaultSettingsTopic,
		TelemetryTopic: mqtt.DefaultTelemetryTopic,
		QoS:            1,
		BaseURL:        defaultBaseURL,
		Timeout:        defaultTimeout,
	}
}
