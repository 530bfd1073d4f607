package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MSLNZ/pr-omega-logger/internal/config"
	"github.com/MSLNZ/pr-omega-logger/internal/types"
)

const (
	qos = byte(1) // at least once

	LeafTelemetry = "telemetry"
	LeafRead      = "read"
	LeafReply     = "reply"
	LeafReset     = "reset"
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
)

// Topic builds <prefix>/<serial>/<leaf>. Use "+" as serial to subscribe to
// every device.
func Topic(prefix, serial, leaf string) string {
	return prefix + "/" + serial + "/" + leaf
}

// Client connects the logger to the iServer gateways: it receives telemetry,
// requests live readings and sends reset commands.
type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool
	// started is set by Connect; from then on every connection, including
	// one made later by paho's retry loop, is subscribed.
	started bool

	subMu      sync.Mutex
	subscribed bool

	stopCh   chan struct{}
	stopOnce sync.Once

	handlerMu sync.RWMutex
	handler   func(telemetry types.Telemetry) error

	pendingMu sync.Mutex
	pending   map[string]chan readReply
}

// TelemetrySource is what the ingest service needs from the client.
type TelemetrySource interface {
	SetMessageHandler(handler func(telemetry types.Telemetry) error)
}

// SetMessageHandler sets the handler called for each valid telemetry message.
func (c *Client) SetMessageHandler(handler func(telemetry types.Telemetry) error) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := newClient(cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) { c.onConnectionLost(err) })

	c.client = mqtt.NewClient(opts)
	return c, nil
}

func (c *Client) onConnect() {
	c.setConnected(true)
	c.logger.Info("mqtt connected", "broker", c.cfg.MQTTBroker, "port", c.cfg.MQTTPort)
	if c.isStarted() {
		if err := c.ensureSubscribed(); err != nil {
			c.logger.Error("mqtt subscribe failed", "error", err)
		}
	}
}

func (c *Client) onConnectionLost(err error) {
	c.setConnected(false)
	// a clean session drops subscriptions
	c.subMu.Lock()
	c.subscribed = false
	c.subMu.Unlock()
	c.logger.Warn("mqtt connection lost", "error", err)
}

func newClient(cfg config.Config, logger *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		pending: make(map[string]chan readReply),
	}
}

// Connect establishes the broker connection and subscribes to telemetry and
// read replies of every device.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	if !c.IsConnected() {
		// When ctx ends first, paho keeps retrying and onConnect subscribes
		// once the broker answers.
		if err := c.wait(ctx, c.client.Connect()); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		c.setConnected(true)
	}

	if err := c.ensureSubscribed(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// ensureSubscribed subscribes once per connection.
func (c *Client) ensureSubscribed() error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subscribed {
		return nil
	}
	if err := c.subscribe(); err != nil {
		return err
	}
	c.subscribed = true
	return nil
}

// wait blocks until token completes, ctx is done or the client is stopped.
func (c *Client) wait(ctx context.Context, token mqtt.Token) error {
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			return token.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

func (c *Client) topics() map[string]mqtt.MessageHandler {
	prefix := c.cfg.MQTTTopicPrefix
	return map[string]mqtt.MessageHandler{
		Topic(prefix, "+", LeafTelemetry): func(_ mqtt.Client, msg mqtt.Message) {
			c.handleMessage(msg.Topic(), msg.Payload())
		},
		Topic(prefix, "+", LeafReply): func(_ mqtt.Client, msg mqtt.Message) {
			c.handleReply(msg.Topic(), msg.Payload())
		},
	}
}

func (c *Client) subscribe() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	for topic, handler := range c.topics() {
		token := c.client.Subscribe(topic, qos, handler)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("subscribe timeout for topic %s", topic)
		}
		if token.Error() != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
		}
		c.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	}
	return nil
}

func (c *Client) handleMessage(topic string, payload []byte) {
	c.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	var telemetry types.Telemetry
	if err := json.Unmarshal(payload, &telemetry); err != nil {
		c.logger.Warn("failed to parse telemetry message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}

	if err := validateTelemetry(telemetry); err != nil {
		c.logger.Warn("invalid telemetry message",
			"topic", topic,
			"serial", telemetry.Serial,
			"error", err,
		)
		return
	}

	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()
	if handler == nil {
		return
	}
	if err := handler(telemetry); err != nil {
		c.logger.Error("message handler failed",
			"topic", topic,
			"serial", telemetry.Serial,
			"error", err,
		)
		return
	}
	c.logger.Debug("processed telemetry message",
		"serial", telemetry.Serial,
		"timestamp", telemetry.Timestamp,
	)
}

func validateTelemetry(t types.Telemetry) error {
	if t.Serial == "" {
		return errors.New("serial is required")
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if n := len(t.Values); n != 3 && n != 6 {
		return fmt.Errorf("values must hold 3 or 6 numbers, got %d", n)
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client != nil && c.client.IsConnected()
}

func (c *Client) isStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Disconnect stops the client and closes the connection. Idempotent.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil && c.IsConnected() {
		var topics []string
		for topic := range c.topics() {
			topics = append(topics, topic)
		}
		token := c.client.Unsubscribe(topics...)
		token.WaitTimeout(2 * time.Second)
	}

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt client disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) publish(ctx context.Context, topic string, v any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.wait(ctx, c.client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishTelemetry sends a reading as a gateway would.
func (c *Client) PublishTelemetry(ctx context.Context, t types.Telemetry) error {
	return c.publish(ctx, Topic(c.cfg.MQTTTopicPrefix, t.Serial, LeafTelemetry), t)
}
