package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
	"github.com/nerrad567/kwikset-bridge/internal/ledger"
	"github.com/nerrad567/kwikset-bridge/internal/retry"
	"github.com/nerrad567/kwikset-bridge/internal/slots"
)

// ledgerOpTimeout bounds ledger writes triggered from the push path,
// which has no caller-supplied context.
const ledgerOpTimeout = 5 * time.Second

var (
	// ErrNotReady is returned by commands issued before the first
	// successful refresh.
	ErrNotReady = errors.New("coordinator: device snapshot not ready")

	// ErrDeleteAllNotSupported rejects bulk code deletion. The locks
	// require at least one programmed code, and a partial bulk delete
	// leaves the ledger and device inconsistent in a way single deletes
	// do not.
	ErrDeleteAllNotSupported = errors.New("coordinator: deleting all access codes is not supported")
)

// Logger is the minimal logging surface this package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EventSink receives lock events for durable storage. Writes are best
// effort; the sink must dedup on (device, event ID).
type EventSink interface {
	Record(ctx context.Context, deviceID string, ev HistoryEvent) error
}

// Config assembles a coordinator's collaborators.
type Config struct {
	DeviceID        string
	Client          cloud.Client
	Ledger          *ledger.Ledger
	RefreshInterval time.Duration
	Logger          Logger
	EventSink       EventSink

	// OnAuthError is invoked when a refresh or command fails with a
	// fatal authentication error, so the owner can run re-login.
	OnAuthError func(error)
}

// Coordinator is the per-device state machine. See the package comment
// for the update-path semantics.
type Coordinator struct {
	deviceID string
	client   cloud.Client
	codes    *ledger.Ledger
	parser   *slots.Parser
	history  *historyReconciler
	interval time.Duration
	log      Logger
	sink     EventSink
	onAuth   func(error)

	// refreshMu serialises full refreshes. Push merges intentionally do
	// not take it; they contend only on mu and last write wins.
	refreshMu sync.Mutex
	kick      chan struct{}

	mu            sync.RWMutex
	raw           cloud.DeviceFields
	snapshot      Snapshot
	hasSnapshot   bool
	pendingTokens map[string]struct{}

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New builds a coordinator. Setup must be called before Run or any
// command.
func New(cfg Config) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}
	parser := slots.NewParser()
	if l, ok := log.(slots.Logger); ok {
		parser.SetLogger(l)
	}
	onAuth := cfg.OnAuthError
	if onAuth == nil {
		onAuth = func(error) {}
	}
	return &Coordinator{
		deviceID:      cfg.DeviceID,
		client:        cfg.Client,
		codes:         cfg.Ledger,
		parser:        parser,
		history:       newHistoryReconciler(cfg.Client, cfg.DeviceID, log),
		interval:      cfg.RefreshInterval,
		log:           log,
		sink:          cfg.EventSink,
		onAuth:        onAuth,
		kick:          make(chan struct{}, 1),
		pendingTokens: make(map[string]struct{}),
		subs:          make(map[int]func(Snapshot)),
	}
}

// DeviceID returns the device this coordinator manages.
func (c *Coordinator) DeviceID() string { return c.deviceID }

// Setup performs the mandatory first refresh. A device that cannot be
// fetched once is not added to the bridge.
func (c *Coordinator) Setup(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("initial refresh for device %s: %w", c.deviceID, err)
	}
	return nil
}

// Run drives the periodic refresh loop until ctx is cancelled. On-demand
// requests arrive via RequestRefresh and share the loop, so refreshes
// for this device never overlap.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("scheduled refresh failed", "device_id", c.deviceID, "error", err)
		}
	}
}

// RequestRefresh schedules an out-of-band refresh. Requests made while
// one is already queued coalesce into it.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Refresh fetches the device wholesale and rebuilds the snapshot.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	raw, err := retry.DoValue(ctx, "device info", func(ctx context.Context) (cloud.DeviceFields, error) {
		return c.client.GetDeviceInfo(ctx, c.deviceID)
	})
	if err != nil {
		c.markFailure(err)
		return err
	}

	history := c.history.fetch(ctx)
	c.recordEvents(ctx, history)

	observed := c.parser.Parse(raw)
	codes := c.codes.MergedView(c.deviceID, observed)

	c.mu.Lock()
	c.raw = raw
	c.snapshot = deriveSnapshot(raw, observed, codes, history, true, time.Now())
	c.hasSnapshot = true
	snap := c.snapshot
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// markFailure flips LastUpdateSuccess on the existing snapshot and
// routes fatal auth errors to the owner. The stale field data is kept;
// a lock that was locked five minutes ago is better rendered stale than
// blank.
func (c *Coordinator) markFailure(err error) {
	c.mu.Lock()
	var snap Snapshot
	notify := false
	if c.hasSnapshot && c.snapshot.LastUpdateSuccess {
		c.snapshot.LastUpdateSuccess = false
		snap = c.snapshot
		notify = true
	}
	c.mu.Unlock()

	if notify {
		c.notify(snap)
	}
	if cloud.IsAuthError(err) {
		c.onAuth(err)
	}
}

// Snapshot returns the current snapshot and whether one exists yet.
func (c *Coordinator) Snapshot() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot, c.hasSnapshot
}

// LastUpdateSuccess reports whether the most recent refresh succeeded.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasSnapshot && c.snapshot.LastUpdateSuccess
}

// Subscribe registers a snapshot listener and returns its remove func.
// Listeners are called synchronously on the update path and must not
// block.
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Coordinator) notify(snap Snapshot) {
	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// HandleRealtimeEvent merges a push event into the snapshot.
//
// Events for a device with no snapshot yet are dropped; the first full
// refresh will pick the state up anyway, and merging into nothing would
// publish a half-formed snapshot. A door-status change triggers a
// follow-up refresh since the rest of the document lags the bolt.
func (c *Coordinator) HandleRealtimeEvent(ev cloud.Event) {
	if token, slot, ok := ev.AckSlot(); ok {
		c.handleAck(token, slot)
	}

	c.mu.Lock()
	if !c.hasSnapshot {
		c.mu.Unlock()
		c.log.Debug("dropping push event before first refresh", "device_id", c.deviceID)
		return
	}

	prevDoor := c.snapshot.DoorStatus
	for key, value := range ev.Fields {
		if key == cloud.FieldAckToken || key == cloud.FieldAckSlot {
			continue
		}
		// A null field carries no state; only present, non-null values
		// overwrite what polling reported.
		if value == nil {
			continue
		}
		c.raw[key] = value
	}

	observed := c.parser.Parse(c.raw)
	codes := c.codes.MergedView(c.deviceID, observed)
	c.snapshot = deriveSnapshot(c.raw, observed, codes, c.snapshot.History, c.snapshot.LastUpdateSuccess, time.Now())
	snap := c.snapshot
	c.mu.Unlock()

	c.notify(snap)

	if snap.DoorStatus != prevDoor {
		c.log.Debug("door status changed via push, scheduling follow-up refresh",
			"device_id", c.deviceID, "from", prevDoor, "to", snap.DoorStatus)
		c.RequestRefresh()
	}
}

// handleAck resolves a pending access-code slot assignment. Acks for
// tokens we never issued belong to another controller and are ignored.
func (c *Coordinator) handleAck(token string, slot int) {
	c.mu.Lock()
	_, mine := c.pendingTokens[token]
	if mine {
		delete(c.pendingTokens, token)
	}
	c.mu.Unlock()
	if !mine {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerOpTimeout)
	defer cancel()
	if _, _, err := c.codes.ResolvePendingSlot(ctx, c.deviceID, slot); err != nil {
		c.log.Error("failed to resolve pending access code slot",
			"device_id", c.deviceID, "slot", slot, "error", err)
	}
}

// recordEvents forwards history to the event sink. Best effort; the sink
// dedups on event ID so replaying the same window is harmless.
func (c *Coordinator) recordEvents(ctx context.Context, events []HistoryEvent) {
	if c.sink == nil {
		return
	}
	for _, ev := range events {
		if err := c.sink.Record(ctx, c.deviceID, ev); err != nil {
			c.log.Debug("event log write failed", "device_id", c.deviceID, "error", err)
			return
		}
	}
}

// Lock drives the bolt closed. The cloud requires the account user
// document on the command, so it is fetched fresh each time.
func (c *Coordinator) Lock(ctx context.Context) error {
	return c.boltCommand(ctx, "lock", c.client.LockDevice)
}

// Unlock drives the bolt open.
func (c *Coordinator) Unlock(ctx context.Context) error {
	return c.boltCommand(ctx, "unlock", c.client.UnlockDevice)
}

func (c *Coordinator) boltCommand(ctx context.Context, op string, cmd func(context.Context, string, cloud.UserInfo) error) error {
	if !c.ready() {
		return ErrNotReady
	}

	user, err := retry.DoValue(ctx, "user info", func(ctx context.Context) (cloud.UserInfo, error) {
		return c.client.GetUserInfo(ctx)
	})
	if err != nil {
		c.markFailure(err)
		return err
	}

	err = retry.Do(ctx, op, func(ctx context.Context) error {
		return cmd(ctx, c.deviceID, user)
	})
	if err != nil {
		c.markFailure(err)
		return err
	}

	// Synchronous refresh rather than RequestRefresh: the caller's
	// response has to reflect the post-command state.
	return c.Refresh(ctx)
}

// SetLED toggles the keypad LED.
func (c *Coordinator) SetLED(ctx context.Context, enabled bool) error {
	return c.settingCommand(ctx, "led", enabled, c.client.SetLEDEnabled)
}

// SetAudio toggles the keypad beeper.
func (c *Coordinator) SetAudio(ctx context.Context, enabled bool) error {
	return c.settingCommand(ctx, "audio", enabled, c.client.SetAudioEnabled)
}

// SetSecureScreen toggles the anti-smudge screen prompt.
func (c *Coordinator) SetSecureScreen(ctx context.Context, enabled bool) error {
	return c.settingCommand(ctx, "secure screen", enabled, c.client.SetSecureScreenEnabled)
}

func (c *Coordinator) settingCommand(ctx context.Context, op string, enabled bool, cmd func(context.Context, string, bool) error) error {
	if !c.ready() {
		return ErrNotReady
	}
	err := retry.Do(ctx, op, func(ctx context.Context) error {
		return cmd(ctx, c.deviceID, enabled)
	})
	if err != nil {
		c.markFailure(err)
		return err
	}
	// Synchronous, as in boltCommand.
	return c.Refresh(ctx)
}

// CreateAccessCode programs a new code. The lock assigns the slot
// asynchronously, so the ledger entry is parked at the pending slot and
// the returned correlation token is remembered for the ack.
func (c *Coordinator) CreateAccessCode(ctx context.Context, req cloud.AccessCodeRequest) error {
	if !c.ready() {
		return ErrNotReady
	}

	result, err := retry.DoValue(ctx, "create access code", func(ctx context.Context) (*cloud.AccessCodeResult, error) {
		return c.client.CreateAccessCode(ctx, c.deviceID, req)
	})
	if err != nil {
		c.markFailure(err)
		return err
	}

	if result.Token != "" {
		c.mu.Lock()
		c.pendingTokens[result.Token] = struct{}{}
		c.mu.Unlock()
	}

	entry := ledger.Entry{
		Slot:         ledger.PendingSlot,
		Name:         req.Name,
		Code:         req.Code,
		ScheduleType: string(req.Schedule.Type),
		Enabled:      true,
	}
	if err := c.codes.Track(ctx, c.deviceID, entry); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// EditAccessCode replaces the code or schedule at an assigned slot.
func (c *Coordinator) EditAccessCode(ctx context.Context, req cloud.AccessCodeRequest) error {
	if !c.ready() {
		return ErrNotReady
	}
	err := retry.Do(ctx, "edit access code", func(ctx context.Context) error {
		return c.client.EditAccessCode(ctx, c.deviceID, req)
	})
	if err != nil {
		c.markFailure(err)
		return err
	}

	entry := ledger.Entry{
		Slot:         req.Slot,
		Name:         req.Name,
		Code:         req.Code,
		ScheduleType: string(req.Schedule.Type),
		Enabled:      true,
	}
	if err := c.codes.Track(ctx, c.deviceID, entry); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// SetAccessCodeEnabled enables or disables an existing code.
func (c *Coordinator) SetAccessCodeEnabled(ctx context.Context, slot int, enabled bool) error {
	if !c.ready() {
		return ErrNotReady
	}
	err := retry.Do(ctx, "toggle access code", func(ctx context.Context) error {
		if enabled {
			return c.client.EnableAccessCode(ctx, c.deviceID, slot)
		}
		return c.client.DisableAccessCode(ctx, c.deviceID, slot)
	})
	if err != nil {
		c.markFailure(err)
		return err
	}
	return c.codes.UpdateEnabled(ctx, c.deviceID, slot, enabled)
}

// DeleteAccessCode removes the code at a slot.
func (c *Coordinator) DeleteAccessCode(ctx context.Context, slot int) error {
	if !c.ready() {
		return ErrNotReady
	}
	err := retry.Do(ctx, "delete access code", func(ctx context.Context) error {
		return c.client.DeleteAccessCode(ctx, c.deviceID, slot)
	})
	if err != nil {
		c.markFailure(err)
		return err
	}
	if err := c.codes.Remove(ctx, c.deviceID, slot); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// DeleteAllAccessCodes always fails. See ErrDeleteAllNotSupported.
func (c *Coordinator) DeleteAllAccessCodes(context.Context) error {
	return ErrDeleteAllNotSupported
}

func (c *Coordinator) ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasSnapshot
}
