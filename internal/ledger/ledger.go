package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/slots"
)

// PendingSlot is the parking index for codes the lock has not yet
// assigned a slot to.
const PendingSlot = 0

// Source identifies who created an access code.
type Source string

const (
	// SourceBridge marks codes created through this bridge.
	SourceBridge Source = "bridge"

	// SourceDevice marks codes observed on the device but never created
	// here (keypad programming, vendor app).
	SourceDevice Source = "device"
)

// Entry is one tracked access code. Code is the PIN itself and must never
// be logged.
type Entry struct {
	Slot         int       `json:"slot"`
	Name         string    `json:"name"`
	Code         string    `json:"code,omitempty"`
	ScheduleType string    `json:"schedule_type,omitempty"`
	Enabled      bool      `json:"enabled"`
	Source       Source    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
}

// document is the persisted shape: device ID to slot to entry. Slot keys
// are strings because JSON objects require string keys.
type document map[string]map[string]Entry

// Store persists one ledger document per home as an opaque JSON blob.
// A home with no document yet loads as nil, not an error.
type Store interface {
	Load(ctx context.Context, homeID string) ([]byte, error)
	Save(ctx context.Context, homeID string, doc []byte) error
}

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Ledger tracks access codes for all devices in one home.
//
// All mutating operations persist the full document before returning, so
// a storage failure surfaces to the caller and the in-memory state is
// rolled back rather than drifting from disk.
type Ledger struct {
	mu      sync.RWMutex
	homeID  string
	store   Store
	devices map[string]map[int]Entry
	now     func() time.Time
	log     Logger
}

// Open loads the home's ledger document from the store.
func Open(ctx context.Context, store Store, homeID string) (*Ledger, error) {
	raw, err := store.Load(ctx, homeID)
	if err != nil {
		return nil, fmt.Errorf("loading ledger for home %s: %w", homeID, err)
	}

	doc := document{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decoding ledger for home %s: %w", homeID, err)
		}
	}

	l := &Ledger{
		homeID:  homeID,
		store:   store,
		devices: make(map[string]map[int]Entry),
		now:     time.Now,
		log:     noopLogger{},
	}
	for deviceID, slotMap := range doc {
		entries := make(map[int]Entry, len(slotMap))
		for key, entry := range slotMap {
			var slot int
			if _, err := fmt.Sscanf(key, "%d", &slot); err != nil {
				continue
			}
			entry.Slot = slot
			entries[slot] = entry
		}
		l.devices[deviceID] = entries
	}
	return l, nil
}

// SetLogger attaches a logger. Safe to leave unset.
func (l *Ledger) SetLogger(log Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if log != nil {
		l.log = log
	}
}

// Track records a code the bridge created or edited. An existing entry at
// the same slot keeps its CreatedAt; everything else is replaced.
func (l *Ledger) Track(ctx context.Context, deviceID string, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.devices[deviceID]
	if entries == nil {
		entries = make(map[int]Entry)
		l.devices[deviceID] = entries
	}

	now := l.now()
	entry.Source = SourceBridge
	entry.LastUpdated = now
	if prev, ok := entries[entry.Slot]; ok {
		entry.CreatedAt = prev.CreatedAt
	} else {
		entry.CreatedAt = now
	}

	prev, had := entries[entry.Slot]
	entries[entry.Slot] = entry
	if err := l.persistLocked(ctx); err != nil {
		if had {
			entries[entry.Slot] = prev
		} else {
			delete(entries, entry.Slot)
		}
		return err
	}
	l.log.Debug("tracked access code", "device_id", deviceID, "slot", entry.Slot, "name", entry.Name)
	return nil
}

// UpdateEnabled flips the enabled flag on a tracked entry. A missing
// entry is logged and ignored rather than treated as an error, since the
// enable command already succeeded against the cloud.
func (l *Ledger) UpdateEnabled(ctx context.Context, deviceID string, slot int, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.devices[deviceID]
	entry, ok := entries[slot]
	if !ok {
		l.log.Warn("enable toggle for untracked slot", "device_id", deviceID, "slot", slot)
		return nil
	}
	if entry.Enabled == enabled {
		return nil
	}

	prev := entry
	entry.Enabled = enabled
	entry.LastUpdated = l.now()
	entries[slot] = entry
	if err := l.persistLocked(ctx); err != nil {
		entries[slot] = prev
		return err
	}
	return nil
}

// Remove deletes a tracked entry. Persists only if something was removed.
func (l *Ledger) Remove(ctx context.Context, deviceID string, slot int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.devices[deviceID]
	prev, ok := entries[slot]
	if !ok {
		return nil
	}
	delete(entries, slot)
	if err := l.persistLocked(ctx); err != nil {
		entries[slot] = prev
		return err
	}
	l.log.Debug("removed access code", "device_id", deviceID, "slot", slot)
	return nil
}

// RemoveAll clears every tracked entry for a device. Persists only if the
// device had entries.
func (l *Ledger) RemoveAll(ctx context.Context, deviceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.devices[deviceID]
	if len(prev) == 0 {
		return nil
	}
	delete(l.devices, deviceID)
	if err := l.persistLocked(ctx); err != nil {
		l.devices[deviceID] = prev
		return err
	}
	l.log.Info("cleared access code ledger", "device_id", deviceID, "count", len(prev))
	return nil
}

// ResolvePendingSlot relocates a bridge-created entry parked at slot 0 to
// the slot the lock actually assigned. Returns the relocated entry, or
// false when nothing was pending.
func (l *Ledger) ResolvePendingSlot(ctx context.Context, deviceID string, assigned int) (Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.devices[deviceID]
	pending, ok := entries[PendingSlot]
	if !ok || pending.Source != SourceBridge {
		return Entry{}, false, nil
	}

	displaced, hadDisplaced := entries[assigned]
	pending.Slot = assigned
	pending.LastUpdated = l.now()
	entries[assigned] = pending
	delete(entries, PendingSlot)

	if err := l.persistLocked(ctx); err != nil {
		pending.Slot = PendingSlot
		entries[PendingSlot] = pending
		if hadDisplaced {
			entries[assigned] = displaced
		} else {
			delete(entries, assigned)
		}
		return Entry{}, false, err
	}
	l.log.Info("resolved pending access code slot", "device_id", deviceID, "slot", assigned, "name", pending.Name)
	return pending, true, nil
}

// Entries returns the tracked entries for a device, sorted by slot.
func (l *Ledger) Entries(deviceID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedEntries(l.devices[deviceID])
}

// MergedView combines the tracked ledger with what the device reports.
//
// Tracked entries always appear. Slots the device reports that the ledger
// has no record of are synthesized with SourceDevice and Enabled true,
// the only safe assumption for a code someone programmed at the keypad.
// The pending slot is excluded from synthesis; slot 0 only ever appears
// as a bridge-created entry awaiting assignment.
func (l *Ledger) MergedView(deviceID string, observed slots.Observation) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make(map[int]Entry)
	for slot, entry := range l.devices[deviceID] {
		merged[slot] = entry
	}
	for idx, s := range observed {
		if _, tracked := merged[idx]; tracked || idx == PendingSlot {
			continue
		}
		merged[idx] = Entry{
			Slot:    idx,
			Name:    s.Name,
			Enabled: true,
			Source:  SourceDevice,
		}
	}
	return sortedEntries(merged)
}

func sortedEntries(m map[int]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// persistLocked writes the full document. Caller holds mu.
func (l *Ledger) persistLocked(ctx context.Context) error {
	doc := make(document, len(l.devices))
	for deviceID, entries := range l.devices {
		slotMap := make(map[string]Entry, len(entries))
		for slot, entry := range entries {
			slotMap[fmt.Sprintf("%d", slot)] = entry
		}
		doc[deviceID] = slotMap
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding ledger for home %s: %w", l.homeID, err)
	}
	if err := l.store.Save(ctx, l.homeID, raw); err != nil {
		return fmt.Errorf("persisting ledger for home %s: %w", l.homeID, err)
	}
	return nil
}
