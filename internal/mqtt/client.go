// Package mqtt connects a door controller to the site broker. It carries
// the credential change broadcast between doors, the door-open button,
// door events and the operator notification channel.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/config"
)

// Client wraps paho.mqtt.golang. All methods are safe for concurrent use;
// subscriptions are restored after a reconnect.
type Client struct {
	client      pahomqtt.Client
	qos         byte
	clientID    string
	statusTopic string
	logger      *slog.Logger

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connMu    sync.RWMutex
	connected bool
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is called on a paho goroutine for every message received
// on a subscribed topic. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and publishes the door's retained online status.
// The broker publishes an offline status on the door's behalf if the
// connection drops without Close.
func Connect(cfg config.MQTTConfig, topics Topics, doorID string, logger *slog.Logger) (*Client, error) {
	c := newClient(cfg, topics, doorID, logger)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark the client connected
	// here so IsConnected is true as soon as Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.logger.Info("mqtt connected", "client_id", c.clientID)
	return c, nil
}

// newClient builds an unconnected client.
func newClient(cfg config.MQTTConfig, topics Topics, doorID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts := buildClientOptions(cfg)
	c := &Client{
		qos:           byte(cfg.QoS),
		clientID:      cfg.Broker.ClientID,
		statusTopic:   topics.DoorStatus(doorID),
		logger:        logger.With("component", "mqtt"),
		subscriptions: make(map[string]subscription),
	}
	configureLWT(opts, c.statusTopic, c.clientID)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Info("mqtt reconnecting")
	})

	c.client = pahomqtt.NewClient(opts)
	return c
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.client.Publish(c.statusTopic, c.qos, true, buildStatusPayload("online", c.clientID, ""))
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.logger.Warn("mqtt connection lost", "err", err)
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subscriptions {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// QoS is the configured default quality of service.
func (c *Client) QoS() byte { return c.qos }

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic, c.qos, true, buildStatusPayload("offline", c.clientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// wrapHandler adds panic recovery and error logging to a handler.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("mqtt handler returned error", "topic", msg.Topic(), "err", err)
		}
	}
}
