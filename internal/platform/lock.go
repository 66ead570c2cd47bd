package platform

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
)

// DefaultOptimisticWindow is how long a commanded state is shown before
// falling back to what the device last reported. Bolt commands round-trip
// through the cloud and the lock's radio; confirmation typically lands
// well inside this window, and past it the command likely failed.
const DefaultOptimisticWindow = 30 * time.Second

// Lock presents a device's bolt with optimistic state.
//
// Issuing a command immediately flips the reported status and arms a
// timer. A coordinator update inside the window clears the optimism and
// the device's own report takes over; if the window expires first, the
// optimistic state is dropped. A failed command clears it immediately.
type Lock struct {
	coord  *coordinator.Coordinator
	window time.Duration

	mu         sync.Mutex
	optimistic coordinator.DoorStatus
	timer      *time.Timer

	unsubscribe func()
}

// NewLock wraps a coordinator. A window of 0 selects the default.
func NewLock(coord *coordinator.Coordinator, window time.Duration) *Lock {
	if window <= 0 {
		window = DefaultOptimisticWindow
	}
	l := &Lock{coord: coord, window: window}
	l.unsubscribe = coord.Subscribe(l.onUpdate)
	return l
}

// Close detaches from the coordinator and stops any armed timer.
func (l *Lock) Close() {
	l.unsubscribe()
	l.clearOptimistic()
}

// Status returns the bolt state to display: the optimistic state while a
// command is in flight, otherwise the coordinator's snapshot.
func (l *Lock) Status() coordinator.DoorStatus {
	l.mu.Lock()
	if l.optimistic != "" {
		status := l.optimistic
		l.mu.Unlock()
		return status
	}
	l.mu.Unlock()

	snap, ok := l.coord.Snapshot()
	if !ok {
		return coordinator.DoorUnknown
	}
	return snap.DoorStatus
}

// Lock commands the bolt closed.
func (l *Lock) Lock(ctx context.Context) error {
	l.setOptimistic(coordinator.DoorLocked)
	if err := l.coord.Lock(ctx); err != nil {
		l.clearOptimistic()
		return err
	}
	return nil
}

// Unlock commands the bolt open.
func (l *Lock) Unlock(ctx context.Context) error {
	l.setOptimistic(coordinator.DoorUnlocked)
	if err := l.coord.Unlock(ctx); err != nil {
		l.clearOptimistic()
		return err
	}
	return nil
}

func (l *Lock) setOptimistic(status coordinator.DoorStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.optimistic = status
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.window, l.clearOptimistic)
}

func (l *Lock) clearOptimistic() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.optimistic = ""
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// onUpdate clears optimism once the device reports again. The report is
// the truth whether or not it matches what was commanded.
func (l *Lock) onUpdate(coordinator.Snapshot) {
	l.clearOptimistic()
}
