package platform

import (
	"strings"
	"sync"

	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
)

// EventType classifies a lock event for consumers that key behaviour off
// the kind of event rather than its free-text label.
type EventType string

const (
	EventLocked   EventType = "locked"
	EventUnlocked EventType = "unlocked"
	EventJammed   EventType = "jammed"
	EventTamper   EventType = "tamper"
)

// classifyEvent maps the cloud's free-text event labels to types by
// substring. Unrecognised labels classify as locked; the vendor's
// unlabelled notifications are overwhelmingly lock confirmations.
func classifyEvent(message string) EventType {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "unlock"):
		return EventUnlocked
	case strings.Contains(m, "jam"):
		return EventJammed
	case strings.Contains(m, "tamper"):
		return EventTamper
	default:
		return EventLocked
	}
}

// StreamEvent is one new event delivered to a stream subscriber.
type StreamEvent struct {
	DeviceID string                   `json:"device_id"`
	Type     EventType                `json:"type"`
	Event    coordinator.HistoryEvent `json:"event"`
}

// EventStream surfaces new lock events exactly once per event ID.
//
// The stream is seeded with the newest event already on the snapshot at
// creation, so a bridge restart does not re-announce the whole history
// window. Snapshots carry events newest first; everything newer than the
// last seen ID is emitted oldest first so consumers observe wall order.
type EventStream struct {
	coord *coordinator.Coordinator
	emit  func(StreamEvent)

	mu          sync.Mutex
	lastEventID string

	unsubscribe func()
}

// NewEventStream attaches to a coordinator and delivers new events to
// emit. Call Close to detach.
func NewEventStream(coord *coordinator.Coordinator, emit func(StreamEvent)) *EventStream {
	s := &EventStream{coord: coord, emit: emit}
	if snap, ok := coord.Snapshot(); ok && len(snap.History) > 0 {
		s.lastEventID = snap.History[0].EventID
	}
	s.unsubscribe = coord.Subscribe(s.onUpdate)
	return s
}

// Close detaches the stream.
func (s *EventStream) Close() {
	s.unsubscribe()
}

func (s *EventStream) onUpdate(snap coordinator.Snapshot) {
	if len(snap.History) == 0 {
		return
	}

	s.mu.Lock()
	fresh := unseenEvents(snap.History, s.lastEventID)
	if len(fresh) > 0 {
		s.lastEventID = snap.History[0].EventID
	}
	s.mu.Unlock()

	// Oldest first.
	for i := len(fresh) - 1; i >= 0; i-- {
		ev := fresh[i]
		s.emit(StreamEvent{
			DeviceID: snap.DeviceID,
			Type:     classifyEvent(ev.Message),
			Event:    ev,
		})
	}
}

// unseenEvents returns the prefix of history (newest first) that comes
// before lastID appears. An unknown lastID means the whole window is new.
func unseenEvents(history []coordinator.HistoryEvent, lastID string) []coordinator.HistoryEvent {
	if lastID == "" {
		return history
	}
	for i, ev := range history {
		if ev.EventID == lastID {
			return history[:i]
		}
	}
	return history
}
