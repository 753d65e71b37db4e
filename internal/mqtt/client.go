// Package mqtt bridges the control surface to an MQTT broker: every
// attribute is published on <prefix>/<attr>/state and writable ones are
// accepted on <prefix>/<attr>/set.
package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"rgblight/internal/config"
	"rgblight/internal/core"
)

// Writer applies endpoint writes.
type Writer interface {
	Write(attr core.Attribute, data []byte) error
}

type Client struct {
	client  mqtt.Client
	broker  string
	writer  Writer
	bus     *core.EventBus
	sub     *core.Subscriber
	limiter *rate.Limiter
	prefix  string
	logger  zerolog.Logger
}

// NewClient creates a bridge with reconnect handling. It returns nil when
// the bridge is disabled.
func NewClient(cfg config.MQTTConfig, writer Writer, bus *core.EventBus, logger zerolog.Logger) *Client {
	if !cfg.Enabled {
		return nil
	}

	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "light-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)

	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	// Keep retrying the first connection so the light boots without a broker.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)

	opts.SetWill(prefix+"/availability", "offline", 1, true)

	c := &Client{
		broker:  cfg.Broker,
		writer:  writer,
		bus:     bus,
		sub:     bus.Subscribe(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		prefix:  prefix,
		logger:  logger.With().Str("client_id", clientID).Logger(),
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.logger.Warn().Err(err).Msg("Connection lost, retrying in background")
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		c.logger.Info().Msg("Attempting to reconnect")
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect starts the connection loop. With connect-retry enabled an error
// here means a configuration problem rather than an unreachable broker.
func (c *Client) Connect() error {
	c.logger.Info().Str("broker", c.broker).Msg("Starting connection loop")
	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return nil
}

// Run publishes state changes until ctx ends. Changes to one attribute
// that arrive faster than the publish rate collapse into the latest value.
func (c *Client) Run(ctx context.Context) {
	defer c.bus.Unsubscribe(c.sub)
	for {
		events, err := c.sub.Next(ctx)
		if err != nil {
			return
		}
		for _, ev := range events {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			c.publishState(ev.Attribute, ev.Value)
		}
	}
}

// Disconnect publishes the offline status, then closes the connection.
func (c *Client) Disconnect() {
	if !c.client.IsConnected() {
		return
	}
	c.logger.Info().Msg("Disconnecting")

	token := c.client.Publish(c.topic("availability"), 1, true, "offline")
	if !token.WaitTimeout(2 * time.Second) {
		c.logger.Warn().Msg("Timed out publishing offline status")
	} else if token.Error() != nil {
		c.logger.Warn().Err(token.Error()).Msg("Failed to publish offline status")
	}

	c.client.Disconnect(250)
	c.logger.Info().Msg("Disconnected")
}

func (c *Client) topic(parts ...string) string {
	return c.prefix + "/" + strings.Join(parts, "/")
}

func (c *Client) publish(topic, payload string) {
	if !c.client.IsConnected() {
		return
	}
	token := c.client.Publish(topic, 0, true, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			c.logger.Warn().Str("topic", topic).Msg("Timeout publishing")
		} else if token.Error() != nil {
			c.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("Publish error")
		}
	}()
}

func (c *Client) publishState(attr core.Attribute, value []byte) {
	payload, err := FormatState(attr, value)
	if err != nil {
		c.logger.Warn().Err(err).Str("attribute", attr.String()).Msg("Cannot format state")
		return
	}
	c.publish(c.topic(attr.String(), "state"), payload)
}

// onConnect is called by paho on its own goroutine after every (re)connect.
func (c *Client) onConnect(client mqtt.Client) {
	c.logger.Info().Msg("Connected to broker")

	for _, attr := range core.Attributes {
		if !attr.Writable() {
			continue
		}
		topic := c.topic(attr.String(), "set")
		if token := client.Subscribe(topic, 1, c.handleSet(attr)); token.Wait() && token.Error() != nil {
			c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Error subscribing")
		}
	}

	go func() {
		c.publish(c.topic("availability"), "online")
		for _, attr := range core.Attributes {
			if v, ok := c.bus.Value(attr); ok {
				c.publishState(attr, v)
			}
		}
	}()
}

func (c *Client) handleSet(attr core.Attribute) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		data, err := ParseCommand(attr, string(msg.Payload()))
		if err != nil {
			c.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Ignoring command")
			return
		}
		// The handler logs and counts rejected writes.
		_ = c.writer.Write(attr, data)
	}
}
