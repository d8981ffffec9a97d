package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/iotreat/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithClientID sets the MQTT client id.
func WithClientID(id string) Option {
	return func(c *Client) {
		if id != "" {
			c.clientID = id
		}
	}
}

// WithTLSFiles enables mutual TLS with a CA bundle and a client key pair, as
// required by AWS IoT Core.
func WithTLSFiles(caFile, certFile, keyFile string) Option {
	return func(c *Client) {
		c.caFile = caFile
		c.certFile = certFile
		c.keyFile = keyFile
	}
}

// WithQoS sets the QoS for publishes and subscriptions.
func WithQoS(qos byte) Option {
	return func(c *Client) {
		if qos <= 2 {
			c.qos = qos
		}
	}
}

// WithTelemetryTopic sets the topic used by Send.
func WithTelemetryTopic(topic string) Option {
	return func(c *Client) {
		if topic != "" {
			c.telemetryTopic = topic
		}
	}
}

// WithConnectTimeout bounds the initial connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithPublishTimeout bounds each publish when the caller has no deadline.
func WithPublishTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.publishTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithPahoClient replaces the underlying client, bypassing option building.
func WithPahoClient(pc paho.Client) Option {
	return func(c *Client) {
		if pc != nil {
			c.client = pc
		}
	}
}
