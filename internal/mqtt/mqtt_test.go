package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

// fakeBroker records publishes and can answer them synchronously.
type fakeBroker struct {
	mu        sync.Mutex
	published []published
	onPublish func(topic string, payload []byte)
	pubErr    error
}

func (f *fakeBroker) IsConnected() bool      { return true }
func (f *fakeBroker) IsConnectionOpen() bool { return true }
func (f *fakeBroker) Connect() mqtt.Token    { return doneToken{} }
func (f *fakeBroker) Disconnect(uint)        {}
func (f *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b := payload.([]byte)
	f.mu.Lock()
	f.published = append(f.published, published{topic: topic, payload: b})
	cb := f.onPublish
	f.mu.Unlock()
	if f.pubErr != nil {
		return doneToken{err: f.pubErr}
	}
	if cb != nil {
		go cb(topic, b)
	}
	return doneToken{}
}
func (f *fakeBroker) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return doneToken{} }
func (f *fakeBroker) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken{}
}
func (f *fakeBroker) Unsubscribe(...string) mqtt.Token        { return doneToken{} }
func (f *fakeBroker) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakeBroker) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func newTestClient(broker *fakeBroker) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := newClient(config.Config{MQTTTopicPrefix: "omega"}, logger)
	c.client = broker
	c.setConnected(true)
	return c
}

func TestTopic(t *testing.T) {
	if got := Topic("omega", "+", LeafTelemetry); got != "omega/+/telemetry" {
		t.Fatalf("unexpected topic %q", got)
	}
	if got := SerialFromTopic("site/omega/12345/reply"); got != "12345" {
		t.Fatalf("unexpected serial %q", got)
	}
	if got := SerialFromTopic("reply"); got != "" {
		t.Fatalf("expected empty serial, got %q", got)
	}
}

func TestHandleMessage(t *testing.T) {
	ts := time.Date(2021, 6, 28, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    bool
	}{
		{"valid single probe", `{"serial":"01234","timestamp":"2021-06-28T12:00:00Z","values":[20.1,45.2,7.9]}`, true},
		{"valid two probes", `{"serial":"56789","timestamp":"2021-06-28T12:00:00Z","values":[1,2,3,4,5,6]}`, true},
		{"bad json", `{"serial":`, false},
		{"missing serial", `{"timestamp":"2021-06-28T12:00:00Z","values":[1,2,3]}`, false},
		{"missing timestamp", `{"serial":"01234","values":[1,2,3]}`, false},
		{"wrong value count", `{"serial":"01234","timestamp":"2021-06-28T12:00:00Z","values":[1,2]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(&fakeBroker{})
			var got []types.Telemetry
			c.SetMessageHandler(func(tel types.Telemetry) error {
				got = append(got, tel)
				return nil
			})

			c.handleMessage("omega/x/telemetry", []byte(tt.payload))

			if tt.want != (len(got) == 1) {
				t.Fatalf("handler called %d times, want called=%v", len(got), tt.want)
			}
			if tt.want && !got[0].Timestamp.Equal(ts) {
				t.Fatalf("unexpected timestamp %v", got[0].Timestamp)
			}
		})
	}
}

func TestHandleMessageWithoutHandler(t *testing.T) {
	c := newTestClient(&fakeBroker{})
	c.handleMessage("omega/x/telemetry", []byte(`{"serial":"a","timestamp":"2021-06-28T12:00:00Z","values":[1,2,3]}`))
}

func TestRead(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(broker)
	broker.onPublish = func(topic string, payload []byte) {
		var req readRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}
		// an unrelated reply first, it must be ignored
		c.handleReply("omega/56789/reply", []byte(`{"request_id":"other","temperature":1,"humidity":1,"dewpoint":1}`))
		reply := map[string]any{"request_id": req.RequestID, "temperature": 21.5, "humidity": 40.25, "dewpoint": float64(req.Probe)}
		b, _ := json.Marshal(reply)
		c.handleReply("omega/56789/reply", b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := c.Read(ctx, "56789", types.ProbeSecond)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Temperature != 21.5 || got.Humidity != 40.25 || got.Dewpoint != 2 {
		t.Fatalf("unexpected triple %+v", got)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.published) != 1 || broker.published[0].topic != "omega/56789/read" {
		t.Fatalf("unexpected publishes %+v", broker.published)
	}
	if len(c.pending) != 0 {
		t.Fatalf("pending requests leaked: %d", len(c.pending))
	}
}

func TestReadDeviceError(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(broker)
	broker.onPublish = func(_ string, payload []byte) {
		var req readRequest
		_ = json.Unmarshal(payload, &req)
		c.handleReply("omega/01234/reply", []byte(`{"request_id":"`+req.RequestID+`","error":"socket timed out"}`))
	}

	_, err := c.Read(context.Background(), "01234", types.ProbeSingle)
	if !errors.Is(err, ErrDevice) || !strings.Contains(err.Error(), "socket timed out") {
		t.Fatalf("expected device error, got %v", err)
	}
}

func TestReadTimeout(t *testing.T) {
	c := newTestClient(&fakeBroker{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Read(ctx, "01234", types.ProbeSingle)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestReadNotConnected(t *testing.T) {
	c := newTestClient(&fakeBroker{})
	c.setConnected(false)

	if _, err := c.Read(context.Background(), "01234", types.ProbeSingle); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestReset(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(broker)

	if err := c.Reset(context.Background(), "01234"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(broker.published) != 1 || broker.published[0].topic != "omega/01234/reset" {
		t.Fatalf("unexpected publishes %+v", broker.published)
	}

	broker.pubErr = errors.New("boom")
	if err := c.Reset(context.Background(), "01234"); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c := newTestClient(&fakeBroker{})
	c.Disconnect()
	c.Disconnect()

	if c.IsConnected() {
		t.Fatal("expected disconnected")
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

// pendingToken completes only when done is closed.
type pendingToken struct{ done chan struct{} }

func (t pendingToken) Wait() bool {
	<-t.done
	return true
}
func (t pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t pendingToken) Error() error          { return nil }
func (t pendingToken) Done() <-chan struct{} { return t.done }

// offlineBroker is unreachable until up is set.
type offlineBroker struct {
	*fakeBroker
	stateMu     sync.Mutex
	up          bool
	disconnects int
	subscribes  []string
	connect     pendingToken
}

func (b *offlineBroker) IsConnected() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.up
}
func (b *offlineBroker) Connect() mqtt.Token { return b.connect }
func (b *offlineBroker) Disconnect(uint) {
	b.stateMu.Lock()
	b.disconnects++
	b.stateMu.Unlock()
}
func (b *offlineBroker) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	b.stateMu.Lock()
	b.subscribes = append(b.subscribes, topic)
	b.stateMu.Unlock()
	return doneToken{}
}

func (b *offlineBroker) setUp(v bool) {
	b.stateMu.Lock()
	b.up = v
	b.stateMu.Unlock()
}

func (b *offlineBroker) state() (int, int) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.disconnects, len(b.subscribes)
}

func TestConnectSubscribesWhenBrokerComesUpLater(t *testing.T) {
	broker := &offlineBroker{fakeBroker: &fakeBroker{}, connect: pendingToken{done: make(chan struct{})}}
	c := newTestClient(broker.fakeBroker)
	c.client = broker
	c.setConnected(false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}
	if disconnects, subs := broker.state(); disconnects != 0 || subs != 0 {
		t.Fatalf("after timeout: disconnects=%d subscribes=%d; want 0, 0", disconnects, subs)
	}
	if c.IsConnected() {
		t.Fatal("expected disconnected while the broker is down")
	}

	// paho's retry loop connects and calls the OnConnect handler
	broker.setUp(true)
	close(broker.connect.done)
	c.onConnect()

	if !c.IsConnected() {
		t.Fatal("expected connected")
	}
	if _, subs := broker.state(); subs != len(c.topics()) {
		t.Fatalf("subscribed to %d topics, want %d", subs, len(c.topics()))
	}

	c.onConnect()
	if _, subs := broker.state(); subs != len(c.topics()) {
		t.Fatalf("subscribed twice on one connection: %d", subs)
	}

	c.onConnectionLost(errors.New("EOF"))
	c.onConnect()
	if _, subs := broker.state(); subs != 2*len(c.topics()) {
		t.Fatalf("expected a resubscribe after reconnect, got %d subscriptions", subs)
	}
}

func TestConnectSubscribesOnce(t *testing.T) {
	broker := &offlineBroker{fakeBroker: &fakeBroker{}, up: true}
	c := newTestClient(broker.fakeBroker)
	c.client = broker

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.onConnect()
	if _, subs := broker.state(); subs != len(c.topics()) {
		t.Fatalf("subscribed to %d topics, want %d", subs, len(c.topics()))
	}
	if !c.isStarted() {
		t.Fatal("expected started")
	}
}
