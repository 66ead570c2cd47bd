package mqtt

import (
	"fmt"
)

// maxPayloadSize caps MQTT payloads at 1MB, aligning with typical broker
// limits. Snapshot payloads are a few KB; anything near this limit is a bug.
const maxPayloadSize = 1 << 20

// Publish sends a message to the specified topic.
//
// Retained messages are stored by the broker and delivered immediately
// to new subscribers; use them for state (snapshots, status), never for
// events.
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
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishRetained publishes a retained message with the configured
// default QoS. Use for state topics where new subscribers should
// receive the current value.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
