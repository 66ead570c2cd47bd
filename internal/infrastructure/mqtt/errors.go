package mqtt

import "errors"

// Sentinel errors for the MQTT client. Wrapped with context where it
// helps, so check with errors.Is rather than equality.
var (
	// ErrNotConnected means the broker connection is down. Publishes and
	// subscribes fail fast instead of queueing.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed means the initial broker connection could not
	// be established.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps publish errors, including oversized payloads
	// and broker timeouts.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps subscription errors.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed wraps unsubscription errors.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS means a QoS outside 0..2 was requested.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic means an empty topic was given.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
