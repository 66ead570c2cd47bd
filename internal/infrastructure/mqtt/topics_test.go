package mqtt

import "testing"

func TestDeviceShadowRoundTrip(t *testing.T) {
	topics := Topics{}
	topic := topics.DeviceShadow("home-1", "dev-1")
	if topic != "kwikset/homes/home-1/devices/dev-1/shadow" {
		t.Errorf("unexpected topic: %s", topic)
	}

	deviceID, ok := topics.ShadowDeviceID(topic)
	if !ok || deviceID != "dev-1" {
		t.Errorf("expected dev-1, got %q ok=%v", deviceID, ok)
	}
}

func TestShadowDeviceID_Rejects(t *testing.T) {
	topics := Topics{}
	bad := []string{
		"",
		"kwikset/homes/home-1/devices/dev-1",
		"kwikset-bridge/devices/dev-1/snapshot",
		"kwikset/homes/home-1/devices//shadow",
		"other/homes/home-1/devices/dev-1/shadow",
	}
	for _, topic := range bad {
		if _, ok := topics.ShadowDeviceID(topic); ok {
			t.Errorf("expected rejection for %q", topic)
		}
	}
}

func TestHomeShadowsPattern(t *testing.T) {
	got := Topics{}.HomeShadows("home-1")
	if got != "kwikset/homes/home-1/devices/+/shadow" {
		t.Errorf("unexpected pattern: %s", got)
	}
}
