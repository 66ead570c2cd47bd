package cloud

import (
	"encoding/json"
	"fmt"
)

// Event is one realtime push notification for a device. Fields carries
// only the keys that changed; the coordinator merges them into its cached
// snapshot rather than replacing it.
type Event struct {
	DeviceID string
	Fields   DeviceFields
}

// Keycode acknowledgement fields that may ride on a push event when the
// lock confirms an access-code operation.
const (
	FieldAckToken = "token"
	FieldAckSlot  = "slot"
)

// ParseEvent decodes a push payload for the given device. Payloads are
// flat JSON objects keyed by the same raw field names the device-info
// endpoint uses. An envelope with a "data" wrapper is unwrapped.
func ParseEvent(deviceID string, payload []byte) (Event, error) {
	var fields DeviceFields
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Event{}, fmt.Errorf("%w: decode push payload: %v", ErrRequestFailed, err)
	}
	if inner, ok := fields["data"].(map[string]any); ok {
		fields = inner
	}
	if len(fields) == 0 {
		return Event{}, fmt.Errorf("%w: empty push payload", ErrRequestFailed)
	}
	return Event{DeviceID: deviceID, Fields: fields}, nil
}

// AckSlot extracts an access-code acknowledgement from the event, if
// present. Returns the correlation token, the assigned slot, and whether
// the event carried an acknowledgement at all.
func (e Event) AckSlot() (token string, slot int, ok bool) {
	token, hasToken := e.Fields[FieldAckToken].(string)
	if !hasToken || token == "" {
		return "", 0, false
	}
	switch v := e.Fields[FieldAckSlot].(type) {
	case float64:
		return token, int(v), true
	case int:
		return token, v, true
	}
	return "", 0, false
}
