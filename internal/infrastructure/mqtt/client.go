package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-pi/internal/infrastructure/config"
)

// MessageHandler receives one message. Paho invokes handlers on its own
// goroutines, so they must not block for long. A returned error is
// logged; it does not affect broker acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Logger is the minimal interface the client logs through. Satisfied by
// logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// route is one tracked subscription, kept so it can be replayed after a
// reconnect.
type route struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// Client wraps the paho MQTT client for the Gray Logic bus: reconnect
// with backoff, subscription replay, LWT and online/offline status on
// the system topic. All methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	routes  map[string]route
	routeMu sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect dials the broker described by cfg and waits for the first
// connection (bounded by connectTimeout). The returned client keeps
// itself connected: paho reconnects with backoff, and the client
// replays its subscriptions and re-announces itself on each reconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := clientOptions(cfg)

	c := &Client{
		cfg:     cfg,
		options: opts,
		routes:  make(map[string]route),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.brokerConnected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.brokerLost(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs async and may not have fired yet;
	// mark connected here so IsConnected is true on return.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// brokerConnected runs on initial connect and every reconnect.
func (c *Client) brokerConnected() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.routeMu.RLock()
	for _, r := range c.routes {
		// Failures here surface through paho's retry, not to callers.
		c.client.Subscribe(r.topic, r.qos, c.safeHandler(r.handler))
	}
	c.routeMu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		statusPayload("online", c.cfg.Broker.ClientID, ""))

	c.callbackMu.RLock()
	cb := c.onConnect
	c.callbackMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) brokerLost(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	cb := c.onDisconnect
	c.callbackMu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// Close announces a graceful offline status (distinct from the LWT
// crash status) and disconnects, giving pending operations a short
// quiesce window.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			statusPayload("offline", c.cfg.Broker.ClientID, "graceful_shutdown"))
		token.WaitTimeout(publishTimeout)
	}

	c.client.Disconnect(disconnectQuiesceMs)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports the connection state, honouring ctx cancellation.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect registers a callback invoked on initial connect and
// every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the connection
// drops, with the cause.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger routes handler errors and recovered panics somewhere
// visible. Without one they are dropped.
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

// safeHandler adapts a MessageHandler for paho, recovering panics so a
// bad handler cannot take down the paho router goroutine.
func (c *Client) safeHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if log := c.getLogger(); log != nil {
					log.Error("mqtt handler panic recovered",
						"topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if log := c.getLogger(); log != nil {
				log.Warn("mqtt handler error",
					"topic", msg.Topic(), "error", err)
			}
		}
	}
}
