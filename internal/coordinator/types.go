package coordinator

import (
	"strings"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
	"github.com/nerrad567/kwikset-bridge/internal/ledger"
	"github.com/nerrad567/kwikset-bridge/internal/slots"
)

// DoorStatus is the bolt state reported by the lock.
type DoorStatus string

const (
	DoorLocked   DoorStatus = "locked"
	DoorUnlocked DoorStatus = "unlocked"
	DoorJammed   DoorStatus = "jammed"
	DoorUnknown  DoorStatus = "unknown"
)

// parseDoorStatus maps the cloud's status labels onto the enum. Unknown
// labels map to DoorUnknown rather than failing; new firmware introduces
// labels faster than we learn about them.
func parseDoorStatus(v any) DoorStatus {
	s, ok := v.(string)
	if !ok {
		return DoorUnknown
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "locked", "lock":
		return DoorLocked
	case "unlocked", "unlock":
		return DoorUnlocked
	case "jammed", "jam":
		return DoorJammed
	default:
		return DoorUnknown
	}
}

// TriState is a boolean that distinguishes "off" from "never reported".
// Settings fields are absent on some firmware, and rendering an absent
// toggle as off would invite a spurious correction write.
type TriState uint8

const (
	StateUnknown TriState = iota
	StateFalse
	StateTrue
)

// Bool returns the value and whether it is known.
func (t TriState) Bool() (value, known bool) {
	switch t {
	case StateTrue:
		return true, true
	case StateFalse:
		return false, true
	default:
		return false, false
	}
}

// ParseBool converts a raw field value to a TriState.
//
// Only an absent value is unknown. A string that is not a recognised
// truthy form is false, not unknown: the field was reported, it just
// isn't on. Recognised truthy strings are "true", "1", "yes", "on",
// case-insensitive.
func ParseBool(v any) TriState {
	switch val := v.(type) {
	case nil:
		return StateUnknown
	case bool:
		if val {
			return StateTrue
		}
		return StateFalse
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes", "on":
			return StateTrue
		default:
			return StateFalse
		}
	case float64:
		if val != 0 {
			return StateTrue
		}
		return StateFalse
	case int:
		if val != 0 {
			return StateTrue
		}
		return StateFalse
	default:
		return StateFalse
	}
}

// HistoryEvent is one entry from the lock's event log, newest first.
type HistoryEvent struct {
	EventID   string    `json:"event_id"`
	Message   string    `json:"message"`
	EventType string    `json:"event_type"`
	User      string    `json:"user,omitempty"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the coordinator's complete view of one lock at a point in
// time. Snapshots are values; subscribers receive copies and never share
// mutable state with the coordinator.
type Snapshot struct {
	DeviceID   string     `json:"device_id"`
	DeviceName string     `json:"device_name"`
	DoorStatus DoorStatus `json:"door_status"`

	// BatteryPercent is -1 until the lock reports it.
	BatteryPercent int `json:"battery_percent"`

	Model    string `json:"model,omitempty"`
	Serial   string `json:"serial,omitempty"`
	Firmware string `json:"firmware,omitempty"`

	LEDEnabled          TriState `json:"led_enabled"`
	AudioEnabled        TriState `json:"audio_enabled"`
	SecureScreenEnabled TriState `json:"secure_screen_enabled"`

	// AccessCodes is the merged ledger/device view. Codes themselves are
	// present for bridge-created entries; the API redacts on the way out.
	AccessCodes []ledger.Entry `json:"access_codes"`

	// History holds the most recent events, newest first, bounded.
	History []HistoryEvent `json:"history"`

	LastUpdated       time.Time `json:"last_updated"`
	LastUpdateSuccess bool      `json:"last_update_success"`
}

// deriveSnapshot builds a Snapshot from the raw field document plus the
// already-reconciled pieces.
func deriveSnapshot(raw cloud.DeviceFields, observed slots.Observation, codes []ledger.Entry, history []HistoryEvent, ok bool, at time.Time) Snapshot {
	battery := -1
	switch v := raw[cloud.FieldBattery].(type) {
	case float64:
		battery = int(v)
	case int:
		battery = v
	}

	return Snapshot{
		DeviceID:            raw.String(cloud.FieldDeviceID, ""),
		DeviceName:          raw.String(cloud.FieldDeviceName, ""),
		DoorStatus:          parseDoorStatus(raw[cloud.FieldDoorStatus]),
		BatteryPercent:      battery,
		Model:               raw.String(cloud.FieldModel, ""),
		Serial:              raw.String(cloud.FieldSerial, ""),
		Firmware:            raw.String(cloud.FieldFirmware, ""),
		LEDEnabled:          ParseBool(raw[cloud.FieldLED]),
		AudioEnabled:        ParseBool(raw[cloud.FieldAudio]),
		SecureScreenEnabled: ParseBool(raw[cloud.FieldSecureScreen]),
		AccessCodes:         codes,
		History:             history,
		LastUpdated:         at,
		LastUpdateSuccess:   ok,
	}
}
