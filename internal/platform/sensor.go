package platform

import (
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
)

// SensorDescriptor defines one read-only value derived from a snapshot.
// The table below is the single place a new sensor is added.
type SensorDescriptor struct {
	Key   string
	Name  string
	Unit  string
	Value func(coordinator.Snapshot) any
}

// Reading is one evaluated sensor value.
type Reading struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Unit  string `json:"unit,omitempty"`
	Value any    `json:"value"`
}

var sensorDescriptors = []SensorDescriptor{
	{
		Key:  "battery",
		Name: "Battery",
		Unit: "%",
		Value: func(s coordinator.Snapshot) any {
			if s.BatteryPercent < 0 {
				return nil
			}
			return s.BatteryPercent
		},
	},
	{
		Key:  "door_status",
		Name: "Door status",
		Value: func(s coordinator.Snapshot) any {
			return string(s.DoorStatus)
		},
	},
	{
		Key:  "last_event",
		Name: "Last event",
		Value: func(s coordinator.Snapshot) any {
			if len(s.History) == 0 {
				return nil
			}
			return s.History[0].Message
		},
	},
	{
		Key:  "last_event_time",
		Name: "Last event time",
		Value: func(s coordinator.Snapshot) any {
			if len(s.History) == 0 || s.History[0].Timestamp.IsZero() {
				return nil
			}
			return s.History[0].Timestamp.Format(time.RFC3339)
		},
	},
	{
		Key:  "firmware",
		Name: "Firmware",
		Value: func(s coordinator.Snapshot) any {
			if s.Firmware == "" {
				return nil
			}
			return s.Firmware
		},
	},
	{
		Key:  "serial",
		Name: "Serial number",
		Value: func(s coordinator.Snapshot) any {
			if s.Serial == "" {
				return nil
			}
			return s.Serial
		},
	},
}

// Readings evaluates every sensor against a snapshot. Sensors whose
// value is unavailable report a nil Value rather than being omitted, so
// consumers see a stable set of keys.
func Readings(snap coordinator.Snapshot) []Reading {
	out := make([]Reading, 0, len(sensorDescriptors))
	for _, d := range sensorDescriptors {
		out = append(out, Reading{
			Key:   d.Key,
			Name:  d.Name,
			Unit:  d.Unit,
			Value: d.Value(snap),
		})
	}
	return out
}
