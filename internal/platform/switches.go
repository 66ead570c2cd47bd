package platform

import (
	"context"
	"fmt"

	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
)

// SwitchDescriptor defines one toggleable device setting: a stable key,
// a getter against the snapshot, and a setter through the coordinator.
type SwitchDescriptor struct {
	Key  string
	Name string
	Get  func(coordinator.Snapshot) coordinator.TriState
	Set  func(context.Context, *coordinator.Coordinator, bool) error
}

// SwitchState is one evaluated switch. Known is false when the device
// has never reported the setting; consumers should render such switches
// as unavailable rather than off.
type SwitchState struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Known   bool   `json:"known"`
}

var switchDescriptors = []SwitchDescriptor{
	{
		Key:  "led",
		Name: "Keypad LED",
		Get:  func(s coordinator.Snapshot) coordinator.TriState { return s.LEDEnabled },
		Set: func(ctx context.Context, c *coordinator.Coordinator, enabled bool) error {
			return c.SetLED(ctx, enabled)
		},
	},
	{
		Key:  "audio",
		Name: "Keypad audio",
		Get:  func(s coordinator.Snapshot) coordinator.TriState { return s.AudioEnabled },
		Set: func(ctx context.Context, c *coordinator.Coordinator, enabled bool) error {
			return c.SetAudio(ctx, enabled)
		},
	},
	{
		Key:  "secure_screen",
		Name: "Secure screen",
		Get:  func(s coordinator.Snapshot) coordinator.TriState { return s.SecureScreenEnabled },
		Set: func(ctx context.Context, c *coordinator.Coordinator, enabled bool) error {
			return c.SetSecureScreen(ctx, enabled)
		},
	},
}

// Switches evaluates every switch against a snapshot.
func Switches(snap coordinator.Snapshot) []SwitchState {
	out := make([]SwitchState, 0, len(switchDescriptors))
	for _, d := range switchDescriptors {
		enabled, known := d.Get(snap).Bool()
		out = append(out, SwitchState{
			Key:     d.Key,
			Name:    d.Name,
			Enabled: enabled,
			Known:   known,
		})
	}
	return out
}

// SetSwitch applies a toggle by key.
func SetSwitch(ctx context.Context, coord *coordinator.Coordinator, key string, enabled bool) error {
	for _, d := range switchDescriptors {
		if d.Key == key {
			return d.Set(ctx, coord, enabled)
		}
	}
	return fmt.Errorf("unknown switch %q", key)
}
