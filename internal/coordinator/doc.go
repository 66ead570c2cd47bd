// Package coordinator owns the per-device state machine.
//
// One Coordinator runs per lock. It holds the device's current snapshot,
// refreshes it on a fixed interval, merges realtime push events into it,
// and executes commands (lock, unlock, settings, access codes) against
// the cloud. Everything the API and platform layers know about a device
// flows through its coordinator.
//
// Two update paths exist and they deliberately differ:
//
//   - Polling replaces the raw field document wholesale. The cloud's
//     device-info endpoint is the source of truth; stale local fields
//     must not survive a poll.
//   - Push events merge field-by-field. Events carry only what changed,
//     so a merge is the only correct interpretation.
//
// Refreshes for one device are serialised and on-demand requests
// coalesce; push merges are not serialised against refreshes, last write
// wins. A door-status change seen on the push channel triggers a
// follow-up refresh, because the locks report bolt movement before the
// rest of the document settles.
package coordinator
