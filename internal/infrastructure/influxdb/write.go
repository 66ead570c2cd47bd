package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Door state values for the door_state measurement. Numeric encoding
// makes the series graphable; the status tag keeps it readable.
const (
	doorValueUnlocked = 0.0
	doorValueLocked   = 1.0
	doorValueJammed   = -1.0
)

// WriteDoorState records a door status observation.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Unknown statuses are skipped, a gap in the series carries more
// information than a made-up value.
func (c *Client) WriteDoorState(deviceID, status string) {
	if !c.IsConnected() {
		return
	}

	var value float64
	switch status {
	case "locked":
		value = doorValueLocked
	case "unlocked":
		value = doorValueUnlocked
	case "jammed":
		value = doorValueJammed
	default:
		return
	}

	point := write.NewPoint(
		"door_state",
		map[string]string{
			"device_id": deviceID,
			"status":    status,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteBattery records a battery level observation (percent).
func (c *Client) WriteBattery(deviceID string, percent int) {
	if !c.IsConnected() || percent < 0 {
		return
	}

	point := write.NewPoint(
		"battery",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"percent": percent,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteRefreshResult records the outcome of a device refresh, for
// tracking cloud reliability over time.
func (c *Client) WriteRefreshResult(deviceID string, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"refresh",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"success": success,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements that don't fit the
// helpers above. Tags should stay low-cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
