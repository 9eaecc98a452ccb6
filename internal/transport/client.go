package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/wybot-bridge/internal/infrastructure/config"
	"github.com/nerrad567/wybot-bridge/internal/wybot"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second
)

// FrameHandler is the callback signature for inbound frames.
//
// Handlers are invoked on the paho library's own goroutines. They
// should marshal work elsewhere rather than block.
type FrameHandler func(kind FrameKind, targetID, topic string, payload []byte)

// ConnectionHandler is invoked on broker connect (true) and
// connection loss (false).
type ConnectionHandler func(connected bool)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output. Used when no logger is set.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client wraps paho.mqtt.golang for the WyBot broker.
//
// It tracks subscribed targets so their topic sets are restored on
// reconnect, and publishes JSON command envelopes with the configured
// QoS.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	qos    byte

	// targets tracks subscribed target ids for re-subscription on reconnect.
	targets map[string]struct{}
	subMu   sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Handlers for frames and connection events.
	onFrame           FrameHandler
	onConnectionState ConnectionHandler
	callbackMu        sync.RWMutex

	clientID string

	logger   Logger
	loggerMu sync.RWMutex
}

// New builds an unconnected client from configuration. Call Connect
// to establish the broker session.
//
// The configured client id gets a random suffix: the vendor broker is
// shared, and two sessions presenting the same id evict each other in
// a takeover loop.
func New(cfg config.MQTTConfig) *Client {
	c := &Client{
		cfg:      cfg,
		qos:      byte(cfg.QoS),
		targets:  make(map[string]struct{}),
		clientID: fmt.Sprintf("%s-%s", cfg.Broker.ClientID, uuid.NewString()[:8]),
		logger:   noopLogger{},
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(c.clientID)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	opts.SetDefaultPublishHandler(c.wrapHandler())

	c.client = pahomqtt.NewClient(opts)
	return c
}

// ClientID returns the broker session identifier, including the
// per-process random suffix.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connect establishes the broker session. On timeout the connection
// keeps retrying in the background and the connect handler fires when
// it eventually succeeds, so callers may treat the error as advisory.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return nil
}

// Reconnect re-establishes a lost broker session. A no-op while
// connected.
func (c *Client) Reconnect() {
	if c.IsConnected() {
		return
	}
	c.getLogger().Debug("reconnecting to broker",
		"host", c.cfg.Broker.Host, "port", c.cfg.Broker.Port)
	token := c.client.Connect()
	token.WaitTimeout(defaultConnectTimeout)
	if err := token.Error(); err != nil {
		c.getLogger().Warn("broker reconnect failed", "error", err)
	}
}

// Close disconnects from the broker with a quiesce period for
// pending operations.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnectionState
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(true)
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.getLogger().Warn("broker connection lost", "error", err)

	c.callbackMu.RLock()
	callback := c.onConnectionState
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(false)
	}
}

// restoreSubscriptions re-subscribes every tracked target's topic set
// after a reconnect. Errors during reconnection are ignored; paho
// retries the session and the next restore picks them up.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	handler := c.wrapHandler()
	for targetID := range c.targets {
		for _, topic := range TargetTopics(targetID) {
			c.client.Subscribe(topic, c.qos, handler)
		}
	}
}

// SubscribeTarget subscribes the full topic set for a target id.
//
// Idempotent for topic membership: subscribing an already-tracked
// target does not duplicate topic state. The returned bool reports
// whether the target was newly added.
func (c *Client) SubscribeTarget(targetID string) (bool, error) {
	if targetID == "" {
		return false, ErrEmptyTarget
	}

	c.subMu.Lock()
	_, known := c.targets[targetID]
	c.targets[targetID] = struct{}{}
	c.subMu.Unlock()

	if !c.IsConnected() {
		// Kept in the target set; restoreSubscriptions subscribes the
		// topics once the session is up.
		return !known, ErrNotConnected
	}

	handler := c.wrapHandler()
	for _, topic := range TargetTopics(targetID) {
		token := c.client.Subscribe(topic, c.qos, handler)
		if !token.WaitTimeout(defaultPublishTimeout) {
			return !known, fmt.Errorf("%w: timeout on %s", ErrSubscribeFailed, topic)
		}
		if err := token.Error(); err != nil {
			return !known, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
		}
	}

	return !known, nil
}

// HasTarget checks whether a target id is in the tracked set.
func (c *Client) HasTarget(targetID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.targets[targetID]
	return ok
}

// TargetCount returns the number of tracked targets.
func (c *Client) TargetCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.targets)
}

// PublishQuery publishes a status query envelope for a target.
// The envelope's ts must already be stamped by the caller.
func (c *Client) PublishQuery(targetID string, env wybot.Envelope) error {
	return c.publishEnvelope(QueryTopic(targetID), targetID, env)
}

// PublishWrite publishes a write command envelope for a target.
// The envelope's ts must already be stamped by the caller.
func (c *Client) PublishWrite(targetID string, env wybot.Envelope) error {
	return c.publishEnvelope(CommandTopic(targetID), targetID, env)
}

func (c *Client) publishEnvelope(topic, targetID string, env wybot.Envelope) error {
	if targetID == "" {
		return ErrEmptyTarget
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	c.getLogger().Debug("publishing envelope",
		"target_id", targetID, "topic", topic, "cmd", env.Cmd, "ts", env.TS)

	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// SetOnFrame sets the handler invoked for every inbound frame.
func (c *Client) SetOnFrame(handler FrameHandler) {
	c.callbackMu.Lock()
	c.onFrame = handler
	c.callbackMu.Unlock()
}

// SetOnConnectionState sets a callback for connect/disconnect events.
func (c *Client) SetOnConnectionState(handler ConnectionHandler) {
	c.callbackMu.Lock()
	c.onConnectionState = handler
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection and handler diagnostics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler builds the paho message handler with topic
// classification and panic recovery.
func (c *Client) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.getLogger().Error("frame handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		kind, targetID := Classify(msg.Topic())

		c.callbackMu.RLock()
		handler := c.onFrame
		c.callbackMu.RUnlock()
		if handler != nil {
			handler(kind, targetID, msg.Topic(), msg.Payload())
		}
	}
}
