package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
// Shadow topics are published by the cloud relay and consumed here.
// Bridge topics are published by this bridge for downstream consumers.
const (
	// TopicPrefixCloud is the base for relay-published device shadows.
	// Scheme: kwikset/homes/{home_id}/devices/{device_id}/shadow
	TopicPrefixCloud = "kwikset"

	// TopicPrefixBridge is the base for topics this bridge publishes.
	TopicPrefixBridge = "kwikset-bridge"
)

// Topics provides builders for the bridge's MQTT topics. Using these
// helpers keeps topic naming consistent across the codebase.
type Topics struct{}

// DeviceShadow returns the relay's shadow topic for one device.
//
// Example: kwikset/homes/home-1/devices/dev-1/shadow
func (Topics) DeviceShadow(homeID, deviceID string) string {
	return fmt.Sprintf("%s/homes/%s/devices/%s/shadow", TopicPrefixCloud, homeID, deviceID)
}

// HomeShadows returns a pattern matching every shadow in a home.
//
// Pattern: kwikset/homes/home-1/devices/+/shadow
func (Topics) HomeShadows(homeID string) string {
	return fmt.Sprintf("%s/homes/%s/devices/+/shadow", TopicPrefixCloud, homeID)
}

// ShadowDeviceID extracts the device ID from a shadow topic. Returns
// false for topics that are not device shadows.
func (Topics) ShadowDeviceID(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 6 || parts[0] != TopicPrefixCloud ||
		parts[1] != "homes" || parts[3] != "devices" || parts[5] != "shadow" {
		return "", false
	}
	if parts[4] == "" {
		return "", false
	}
	return parts[4], true
}

// BridgeStatus returns the bridge's online/offline status topic. Also
// used as the LWT topic.
//
// Example: kwikset-bridge/system/status
func (Topics) BridgeStatus() string {
	return fmt.Sprintf("%s/system/status", TopicPrefixBridge)
}

// DeviceSnapshot returns the topic the bridge publishes device snapshots
// on, retained, for downstream consumers.
//
// Example: kwikset-bridge/devices/dev-1/snapshot
func (Topics) DeviceSnapshot(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/snapshot", TopicPrefixBridge, deviceID)
}

// DeviceEvent returns the topic for lock events the bridge republishes.
//
// Example: kwikset-bridge/devices/dev-1/event
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/devices/%s/event", TopicPrefixBridge, deviceID)
}
