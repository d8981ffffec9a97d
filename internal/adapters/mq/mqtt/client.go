// Package mqtt is the publish/subscribe transport of the feeder: telemetry out,
// settings in. It wraps paho with TLS for AWS IoT Core, automatic reconnect and
// re-subscription after reconnect.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/logger"
)

// Default client settings.
const (
	DefaultTelemetryTopic = "iotreat/petFeeder"
	DefaultSettingsTopic  = "iotreat/petFeederSettings"

	defaultClientID       = "iotreat-feeder"
	defaultQoS            = 1
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	connectRetryInterval  = 2 * time.Second
	maxReconnectInterval  = 30 * time.Second
	disconnectQuiesceMs   = 250
)

// Handler receives the payload of one inbound message.
type Handler func(ctx context.Context, topic string, payload []byte)

// Stats are transport counters.
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Received  uint64 `json:"received"`
	Errors    uint64 `json:"errors"`
}

// Client publishes telemetry and delivers subscriptions.
type Client struct {
	broker         string
	clientID       string
	caFile         string
	certFile       string
	keyFile        string
	qos            byte
	telemetryTopic string
	connectTimeout time.Duration
	publishTimeout time.Duration
	log            logger.Logger

	client paho.Client

	mu        sync.RWMutex
	connected bool
	subs      map[string]Handler
	published uint64
	received  uint64
	errors    uint64
}

// New creates a client for broker, e.g. "ssl://xxxx-ats.iot.eu-west-1.amazonaws.com:8883".
// A bare host:port gets ssl:// when TLS files are configured and tcp:// otherwise.
func New(broker string, opts ...Option) (*Client, error) {
	c := &Client{
		broker:         broker,
		clientID:       defaultClientID,
		qos:            defaultQoS,
		telemetryTopic: DefaultTelemetryTopic,
		connectTimeout: defaultConnectTimeout,
		publishTimeout: defaultPublishTimeout,
		subs:           make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("mqtt")
	}
	if c.client != nil {
		return c, nil
	}
	if broker == "" {
		return nil, ErrNoBroker
	}

	po := paho.NewClientOptions()
	po.AddBroker(c.brokerURL())
	po.SetClientID(c.clientID)
	po.SetCleanSession(true)
	po.SetAutoReconnect(true)
	po.SetConnectRetry(true)
	po.SetConnectRetryInterval(connectRetryInterval)
	po.SetMaxReconnectInterval(maxReconnectInterval)
	po.SetOrderMatters(false)
	po.SetOnConnectHandler(c.onConnect)
	po.SetConnectionLostHandler(c.onConnectionLost)

	if c.tlsEnabled() {
		tc, err := c.tlsConfig()
		if err != nil {
			return nil, err
		}
		po.SetTLSConfig(tc)
	}

	c.client = paho.NewClient(po)
	return c, nil
}

func (c *Client) tlsEnabled() bool {
	return c.caFile != "" || c.certFile != "" || c.keyFile != ""
}

func (c *Client) brokerURL() string {
	if strings.Contains(c.broker, "://") {
		return c.broker
	}
	if c.tlsEnabled() {
		return "ssl://" + c.broker
	}
	return "tcp://" + c.broker
}

// tlsConfig loads the CA bundle and client certificate.
func (c *Client) tlsConfig() (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12}

	if c.caFile != "" {
		pem, err := os.ReadFile(c.caFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read ca: %w", ErrTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrTLSConfig, c.caFile)
		}
		tc.RootCAs = pool
	}

	if c.certFile != "" || c.keyFile != "" {
		if c.certFile == "" || c.keyFile == "" {
			return nil, fmt.Errorf("%w: cert_file and key_file must be set together", ErrTLSConfig)
		}
		pair, err := tls.LoadX509KeyPair(c.certFile, c.keyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: key pair: %w", ErrTLSConfig, err)
		}
		tc.Certificates = []tls.Certificate{pair}
	}
	return tc, nil
}

// Connect starts the connection and waits up to the connect timeout. On
// timeout paho keeps retrying in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info(ctx, "connecting to mqtt broker", logger.String("broker", c.broker), logger.String("client_id", c.clientID))
	if err := wait(ctx, c.client.Connect(), c.connectTimeout, ErrConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.setConnected(true)
	return nil
}

func (c *Client) onConnect(pc paho.Client) {
	c.setConnected(true)
	ctx := context.Background()
	c.log.Info(ctx, "mqtt connection established", logger.String("broker", c.broker))

	// Clean sessions drop subscriptions, so restore them on every connect.
	c.mu.RLock()
	topics := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		topics[t] = h
	}
	c.mu.RUnlock()
	for topic, h := range topics {
		tok := pc.Subscribe(topic, c.qos, c.route(h))
		go func(topic string, tok paho.Token) {
			if err := wait(ctx, tok, c.connectTimeout, ErrConnectTimeout); err != nil {
				c.countError()
				c.log.Warn(ctx, "resubscribe failed", logger.String("topic", topic), logger.Error(err))
			}
		}(topic, tok)
	}
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	c.setConnected(false)
	c.log.Warn(context.Background(), "mqtt connection lost, will auto-reconnect",
		logger.String("broker", c.broker),
		logger.Error(err),
	)
}

// Send publishes ev to the telemetry topic. It implements the telemetry
// worker sink.
func (c *Client) Send(ctx context.Context, ev telemetry.Event) error { //nolint:gocritic // hugeParam: Event passed by value through the queue
	payload, err := json.Marshal(ev)
	if err != nil {
		c.countError()
		return fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	return c.Publish(ctx, c.telemetryTopic, payload)
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		c.countError()
		return ErrNotConnected
	}
	if err := wait(ctx, c.client.Publish(topic, c.qos, false, payload), c.publishTimeout, ErrPublishTimeout); err != nil {
		c.countError()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	c.mu.Lock()
	c.published++
	c.mu.Unlock()
	return nil
}

// Subscribe registers h for topic. The subscription is restored after every
// reconnect. If the client is offline it is only registered.
func (c *Client) Subscribe(ctx context.Context, topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.IsConnected() {
		c.log.Warn(ctx, "mqtt offline, subscription deferred until connect", logger.String("topic", topic))
		return nil
	}
	if err := wait(ctx, c.client.Subscribe(topic, c.qos, c.route(h)), c.connectTimeout, ErrConnectTimeout); err != nil {
		c.countError()
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, topic, err)
	}
	c.log.Info(ctx, "subscribed", logger.String("topic", topic), logger.Int("qos", int(c.qos)))
	return nil
}

// Unsubscribe removes topic.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	if err := wait(ctx, c.client.Unsubscribe(topic), c.connectTimeout, ErrConnectTimeout); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// route adapts a Handler to paho's callback signature.
func (c *Client) route(h Handler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		c.mu.Lock()
		c.received++
		c.mu.Unlock()
		h(context.Background(), msg.Topic(), msg.Payload())
	}
}

// Disconnect closes the connection after a short grace period.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnectionOpen() {
		c.client.Disconnect(disconnectQuiesceMs)
		c.log.Info(context.Background(), "mqtt disconnected")
	}
	c.setConnected(false)
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Stats returns transport counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Connected: c.connected,
		Published: c.published,
		Received:  c.received,
		Errors:    c.errors,
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) countError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// wait blocks until the token completes, ctx ends, or timeout elapses.
func wait(ctx context.Context, tok paho.Token, timeout time.Duration, timeoutErr error) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return timeoutErr
	}
}
