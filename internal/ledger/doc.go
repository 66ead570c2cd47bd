// Package ledger is the bridge's authoritative record of access codes.
//
// The cloud never returns PIN values, only occupancy hints, so the bridge
// keeps its own record of every code it has programmed: the PIN, a label,
// the schedule type, and enabled state. Reconciling this record against
// the occupancy the device actually reports produces the merged view the
// API serves, including codes the device knows about that the bridge
// never created (programmed at the keypad or by the vendor app).
//
// Entries created before the lock assigns a slot are parked at slot 0
// until the assignment arrives on the push channel; ResolvePendingSlot
// relocates them.
//
// Persistence is one JSON document per home, written atomically in full
// after every mutation. Codes are secrets: the document lives in an
// owner-only SQLite file and entries are redacted on the way out of the
// diagnostics endpoints, never here.
package ledger
