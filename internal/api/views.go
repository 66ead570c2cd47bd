package api

import (
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
	"github.com/nerrad567/kwikset-bridge/internal/ledger"
)

// accessCodeView is the redacted form of a ledger entry. The PIN itself
// is replaced by HasCode; it must never appear in an API response.
type accessCodeView struct {
	Slot         int       `json:"slot"`
	Name         string    `json:"name"`
	HasCode      bool      `json:"has_code"`
	ScheduleType string    `json:"schedule_type,omitempty"`
	Enabled      bool      `json:"enabled"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
}

// redactCodes converts ledger entries to their API form.
func redactCodes(entries []ledger.Entry) []accessCodeView {
	out := make([]accessCodeView, 0, len(entries))
	for _, e := range entries {
		out = append(out, accessCodeView{
			Slot:         e.Slot,
			Name:         e.Name,
			HasCode:      e.Code != "",
			ScheduleType: e.ScheduleType,
			Enabled:      e.Enabled,
			Source:       string(e.Source),
			CreatedAt:    e.CreatedAt,
			LastUpdated:  e.LastUpdated,
		})
	}
	return out
}

// deviceView is the wire form of a snapshot. Tri-state settings render
// as nullable booleans: null means the lock has never reported the
// setting, which is different from off.
type deviceView struct {
	DeviceID       string `json:"device_id"`
	DeviceName     string `json:"device_name"`
	DoorStatus     string `json:"door_status"`
	BatteryPercent int    `json:"battery_percent"`

	Model    string `json:"model,omitempty"`
	Serial   string `json:"serial,omitempty"`
	Firmware string `json:"firmware,omitempty"`

	LEDEnabled          *bool `json:"led_enabled"`
	AudioEnabled        *bool `json:"audio_enabled"`
	SecureScreenEnabled *bool `json:"secure_screen_enabled"`

	AccessCodes []accessCodeView           `json:"access_codes"`
	History     []coordinator.HistoryEvent `json:"history"`

	LastUpdated       time.Time `json:"last_updated"`
	LastUpdateSuccess bool      `json:"last_update_success"`
}

// snapshotView builds the wire form of a snapshot. When the device has a
// pending lock/unlock command, the optimistic bolt state is shown rather
// than the last confirmed one.
func (s *Server) snapshotView(snap coordinator.Snapshot) deviceView {
	view := deviceView{
		DeviceID:            snap.DeviceID,
		DeviceName:          snap.DeviceName,
		DoorStatus:          string(snap.DoorStatus),
		BatteryPercent:      snap.BatteryPercent,
		Model:               snap.Model,
		Serial:              snap.Serial,
		Firmware:            snap.Firmware,
		LEDEnabled:          triStatePtr(snap.LEDEnabled),
		AudioEnabled:        triStatePtr(snap.AudioEnabled),
		SecureScreenEnabled: triStatePtr(snap.SecureScreenEnabled),
		AccessCodes:         redactCodes(snap.AccessCodes),
		History:             snap.History,
		LastUpdated:         snap.LastUpdated,
		LastUpdateSuccess:   snap.LastUpdateSuccess,
	}
	if h := s.handle(snap.DeviceID); h != nil {
		view.DoorStatus = string(h.lock.Status())
	}
	return view
}

// triStatePtr converts a TriState to a nullable boolean.
func triStatePtr(t coordinator.TriState) *bool {
	value, known := t.Bool()
	if !known {
		return nil
	}
	return &value
}
