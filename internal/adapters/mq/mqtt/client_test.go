package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/iotreat/internal/domain/species"
	"github.com/okian/iotreat/internal/domain/telemetry"
	"github.com/okian/iotreat/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init(logger.WithOutput(io.Discard))
	os.Exit(m.Run())
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePaho struct {
	mu           sync.Mutex
	connectTok   paho.Token
	publishErr   error
	publishHang  bool
	published    []published
	handlers     map[string]paho.MessageHandler
	disconnected bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connectTok: doneToken(nil), handlers: map[string]paho.MessageHandler{}}
}

func (f *fakePaho) IsConnected() bool      { return true }
func (f *fakePaho) IsConnectionOpen() bool { return true }
func (f *fakePaho) Connect() paho.Token    { return f.connectTok }
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
}

func (f *fakePaho) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	if f.publishHang {
		return pendingToken()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return doneToken(f.publishErr)
	}
	f.published = append(f.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken(nil)
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	f.handlers[topic] = cb
	f.mu.Unlock()
	return doneToken(nil)
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, cb paho.MessageHandler) paho.Token {
	for t := range filters {
		f.Subscribe(t, 0, cb)
	}
	return doneToken(nil)
}

func (f *fakePaho) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	f.mu.Unlock()
	return doneToken(nil)
}

func (f *fakePaho) AddRoute(topic string, cb paho.MessageHandler) { f.Subscribe(topic, 0, cb) }

func (f *fakePaho) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (f *fakePaho) deliver(topic string, payload []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if ok {
		h(f, fakeMessage{topic: topic, payload: payload})
	}
	return ok
}

func (f *fakePaho) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func TestClient(t *testing.T) {
	Convey("Given a client over a fake broker connection", t, func() {
		fp := newFakePaho()
		c, err := New("", WithPahoClient(fp), WithQoS(1),
			WithConnectTimeout(50*time.Millisecond), WithPublishTimeout(50*time.Millisecond))
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When publishing before connecting", func() {
			err := c.Send(ctx, telemetry.NewSpeciesDetected(time.UnixMilli(5), species.Cat))

			Convey("Then it should fail with ErrNotConnected", func() {
				So(errors.Is(err, ErrNotConnected), ShouldBeTrue)
				So(c.Stats().Errors, ShouldEqual, 1)
			})
		})

		Convey("When connected", func() {
			So(c.Connect(ctx), ShouldBeNil)
			So(c.IsConnected(), ShouldBeTrue)

			Convey("Send should publish the event JSON to the telemetry topic", func() {
				So(c.Send(ctx, telemetry.NewSpeciesDetected(time.UnixMilli(5), species.Cat)), ShouldBeNil)

				sent := fp.sent()
				So(sent, ShouldHaveLength, 1)
				So(sent[0].topic, ShouldEqual, DefaultTelemetryTopic)
				So(sent[0].qos, ShouldEqual, 1)

				var body map[string]any
				So(json.Unmarshal(sent[0].payload, &body), ShouldBeNil)
				So(body["event"], ShouldEqual, "species_detected")
				So(body["species"], ShouldEqual, "cat")
				So(body["ts"], ShouldEqual, float64(5))
				So(c.Stats().Published, ShouldEqual, 1)
			})

			Convey("A broker error should be returned and counted", func() {
				fp.publishErr = errors.New("not authorized")
				err := c.Publish(ctx, "x", []byte("{}"))
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "not authorized")
				So(c.Stats().Errors, ShouldEqual, 1)
			})

			Convey("An unacknowledged publish should time out", func() {
				fp.publishHang = true
				err := c.Publish(ctx, "x", []byte("{}"))
				So(errors.Is(err, ErrPublishTimeout), ShouldBeTrue)
			})

			Convey("Subscribed handlers should receive inbound payloads", func() {
				var got []byte
				So(c.Subscribe(ctx, DefaultSettingsTopic, func(_ context.Context, _ string, p []byte) {
					got = p
				}), ShouldBeNil)

				So(fp.deliver(DefaultSettingsTopic, []byte(`{"species":"cat","grams":10}`)), ShouldBeTrue)
				So(string(got), ShouldEqual, `{"species":"cat","grams":10}`)
				So(c.Stats().Received, ShouldEqual, 1)

				Convey("And Unsubscribe should remove the route", func() {
					So(c.Unsubscribe(ctx, DefaultSettingsTopic), ShouldBeNil)
					So(fp.deliver(DefaultSettingsTopic, []byte(`{}`)), ShouldBeFalse)
				})
			})

			Convey("Disconnect should close the connection", func() {
				c.Disconnect()
				So(fp.disconnected, ShouldBeTrue)
				So(c.IsConnected(), ShouldBeFalse)
			})
		})

		Convey("When subscribing while offline", func() {
			calls := 0
			So(c.Subscribe(ctx, DefaultSettingsTopic, func(context.Context, string, []byte) { calls++ }), ShouldBeNil)
			So(fp.deliver(DefaultSettingsTopic, nil), ShouldBeFalse)

			Convey("Then the subscription should be restored on connect", func() {
				c.onConnect(fp)
				So(c.IsConnected(), ShouldBeTrue)
				So(fp.deliver(DefaultSettingsTopic, []byte(`{}`)), ShouldBeTrue)
				So(calls, ShouldEqual, 1)
			})
		})

		Convey("When the connection is lost", func() {
			So(c.Connect(ctx), ShouldBeNil)
			c.onConnectionLost(fp, errors.New("EOF"))

			Convey("Then publishes should be refused until reconnect", func() {
				So(errors.Is(c.Publish(ctx, "x", nil), ErrNotConnected), ShouldBeTrue)
				c.onConnect(fp)
				So(c.Publish(ctx, "x", []byte("{}")), ShouldBeNil)
			})
		})

		Convey("When the broker never acknowledges the connect", func() {
			fp.connectTok = pendingToken()
			err := c.Connect(ctx)

			Convey("Then Connect should time out", func() {
				So(errors.Is(err, ErrConnectTimeout), ShouldBeTrue)
				So(c.IsConnected(), ShouldBeFalse)
			})
		})
	})
}

func TestNew(t *testing.T) {
	Convey("Given client construction", t, func() {
		Convey("An empty broker should be rejected", func() {
			_, err := New("")
			So(errors.Is(err, ErrNoBroker), ShouldBeTrue)
		})

		Convey("A bare host should get a scheme", func() {
			c, err := New("localhost:1883")
			So(err, ShouldBeNil)
			So(c.brokerURL(), ShouldEqual, "tcp://localhost:1883")

			c.caFile = "ca.pem"
			So(c.brokerURL(), ShouldEqual, "ssl://localhost:1883")
		})

		Convey("An explicit scheme should be kept", func() {
			c, err := New("ws://broker:9001")
			So(err, ShouldBeNil)
			So(c.brokerURL(), ShouldEqual, "ws://broker:9001")
		})

		Convey("Missing TLS files should fail with ErrTLSConfig", func() {
			_, err := New("broker:8883", WithTLSFiles("/nonexistent/ca.pem", "", ""))
			So(errors.Is(err, ErrTLSConfig), ShouldBeTrue)
		})

		Convey("A cert without a key should fail with ErrTLSConfig", func() {
			_, err := New("broker:8883", WithTLSFiles("", "cert.pem", ""))
			So(errors.Is(err, ErrTLSConfig), ShouldBeTrue)
		})

		Convey("A CA file without certificates should fail", func() {
			dir := t.TempDir()
			path := dir + "/ca.pem"
			So(os.WriteFile(path, []byte("not a cert"), 0o600), ShouldBeNil)
			_, err := New("broker:8883", WithTLSFiles(path, "", ""))
			So(errors.Is(err, ErrTLSConfig), ShouldBeTrue)
		})
	})
}
