// Package platform presents coordinator snapshots as the flat entity
// views the API serves: a lock control, sensor readings, settings
// switches, and a deduplicated event stream.
//
// The adapters own presentation concerns only. The lock adapter adds
// optimistic state so the UI reflects a command before the cloud
// confirms it; the sensor and switch tables give every exposed field a
// stable key and label; the event stream suppresses events already seen.
// None of them talk to the cloud directly, everything goes through the
// device's coordinator.
package platform
