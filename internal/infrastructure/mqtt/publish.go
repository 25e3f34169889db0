package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
// config.MaxCaptureDuration keeps a recording's message under this.
const maxPayloadSize = 1 << 20 // 1MB

// Publish hands a message to the broker connection and returns immediately.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "peopleconnect/speech")
//   - payload: The message payload (JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Publish never waits for the broker and never queues: if the connection is
// not Connected the message is refused with ErrNotConnected and the caller
// decides what to do with it. Delivery failures reported later by paho are
// logged, not returned.
//
// Example:
//
//	err := client.Publish(mqtt.Topics{}.Speech(), payload, 0, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	c.mu.RLock()
	client := c.client
	connected := c.state == StateConnected && client != nil && client.IsConnected()
	c.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)
	go c.watchDelivery(topic, len(payload), token)

	return nil
}

// watchDelivery logs the eventual outcome of a publish token.
func (c *Client) watchDelivery(topic string, size int, token pahomqtt.Token) {
	if !token.WaitTimeout(defaultPublishTimeout) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT publish not acknowledged",
				"topic", topic,
				"bytes", size,
				"error", ErrTimeout,
			)
		}
		return
	}
	if err := token.Error(); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Error("MQTT publish failed",
				"topic", topic,
				"bytes", size,
				"error", fmt.Errorf("%w: %w", ErrPublishFailed, err),
			)
		}
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Debug("MQTT publish delivered", "topic", topic, "bytes", size)
	}
}

// PublishRetained publishes a retained message with the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// QoS returns the configured default QoS level.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}
