// Package home manages the device population of one account home.
//
// The Manager discovers locks on an interval, runs one coordinator per
// lock, routes realtime push events to the right coordinator, and tears
// coordinators down when devices leave the home. It is the single owner
// of coordinator lifecycles; nothing else starts or stops them.
package home

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
	"github.com/nerrad567/kwikset-bridge/internal/ledger"
	"github.com/nerrad567/kwikset-bridge/internal/retry"
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

// Config assembles a manager.
type Config struct {
	HomeID            string
	Client            cloud.Client
	Ledger            *ledger.Ledger
	EventSink         coordinator.EventSink
	RefreshInterval   time.Duration
	DiscoveryInterval time.Duration
	Logger            Logger

	// OnAuthError receives fatal authentication errors from any
	// coordinator, typically wired to the token manager's re-login.
	OnAuthError func(error)
}

// Manager runs the coordinators for one home.
type Manager struct {
	homeID    string
	client    cloud.Client
	codes     *ledger.Ledger
	sink      coordinator.EventSink
	interval  time.Duration
	discovery time.Duration
	log       Logger
	onAuth    func(error)

	mu      sync.RWMutex
	devices map[string]*managedDevice

	obsMu     sync.Mutex
	observers []Observer
}

// managedDevice pairs a coordinator with its run-loop cancel.
type managedDevice struct {
	coord  *coordinator.Coordinator
	name   string
	cancel context.CancelFunc
}

// Observer is notified as devices join and leave the home.
type Observer interface {
	DeviceAdded(c *coordinator.Coordinator)
	DeviceRemoved(deviceID string)
}

// New builds a manager. Start must be called to populate it.
func New(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = noopLogger{}
	}
	onAuth := cfg.OnAuthError
	if onAuth == nil {
		onAuth = func(error) {}
	}
	return &Manager{
		homeID:    cfg.HomeID,
		client:    cfg.Client,
		codes:     cfg.Ledger,
		sink:      cfg.EventSink,
		interval:  cfg.RefreshInterval,
		discovery: cfg.DiscoveryInterval,
		log:       log,
		onAuth:    onAuth,
	}
}

// AddObserver registers a lifecycle observer. Observers added before
// Start see every device; later observers only see changes.
func (m *Manager) AddObserver(obs Observer) {
	m.obsMu.Lock()
	m.observers = append(m.observers, obs)
	m.obsMu.Unlock()
}

// Start performs the initial discovery and begins the periodic rediscovery
// loop. First refreshes run in parallel; a home with one dead lock should
// not hold the rest hostage, so individual setup failures are logged and
// the device skipped until the next discovery pass.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.devices != nil {
		m.mu.Unlock()
		return fmt.Errorf("home manager for %s already started", m.homeID)
	}
	m.devices = make(map[string]*managedDevice)
	m.mu.Unlock()

	devices, err := retry.DoValue(ctx, "list devices", func(ctx context.Context) ([]cloud.Device, error) {
		return m.client.ListDevices(ctx, m.homeID)
	})
	if err != nil {
		return fmt.Errorf("initial device discovery for home %s: %w", m.homeID, err)
	}
	if len(devices) == 0 {
		m.log.Warn("home has no devices", "home_id", m.homeID)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			if err := m.addDevice(gctx, ctx, dev); err != nil {
				m.log.Error("device setup failed, will retry at next discovery",
					"device_id", dev.DeviceID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	go m.discoverLoop(ctx)
	return nil
}

// discoverLoop rediscovers the home's devices on the configured interval.
func (m *Manager) discoverLoop(ctx context.Context) {
	ticker := time.NewTicker(m.discovery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case <-ticker.C:
			if err := m.discover(ctx); err != nil && ctx.Err() == nil {
				m.log.Warn("device discovery failed", "home_id", m.homeID, "error", err)
			}
		}
	}
}

// discover reconciles the coordinator set against the cloud's device list.
func (m *Manager) discover(ctx context.Context) error {
	devices, err := retry.DoValue(ctx, "list devices", func(ctx context.Context) ([]cloud.Device, error) {
		return m.client.ListDevices(ctx, m.homeID)
	})
	if err != nil {
		if cloud.IsAuthError(err) {
			m.onAuth(err)
		}
		return err
	}

	current := make(map[string]cloud.Device, len(devices))
	for _, dev := range devices {
		current[dev.DeviceID] = dev
	}

	m.mu.RLock()
	var toRemove []string
	for id := range m.devices {
		if _, ok := current[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	var toAdd []cloud.Device
	for id, dev := range current {
		if _, ok := m.devices[id]; !ok {
			toAdd = append(toAdd, dev)
		}
	}
	m.mu.RUnlock()

	for _, id := range toRemove {
		m.removeDevice(ctx, id)
	}
	for _, dev := range toAdd {
		if err := m.addDevice(ctx, ctx, dev); err != nil {
			m.log.Error("device setup failed", "device_id", dev.DeviceID, "error", err)
		}
	}
	return nil
}

// addDevice builds, sets up, and starts a coordinator. setupCtx scopes the
// first refresh; runCtx scopes the long-running refresh loop.
func (m *Manager) addDevice(setupCtx, runCtx context.Context, dev cloud.Device) error {
	coord := coordinator.New(coordinator.Config{
		DeviceID:        dev.DeviceID,
		Client:          m.client,
		Ledger:          m.codes,
		RefreshInterval: m.interval,
		Logger:          m.log,
		EventSink:       m.sink,
		OnAuthError:     m.onAuth,
	})
	if err := coord.Setup(setupCtx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(runCtx)

	m.mu.Lock()
	if _, exists := m.devices[dev.DeviceID]; exists {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.devices[dev.DeviceID] = &managedDevice{coord: coord, name: dev.DeviceName, cancel: cancel}
	m.mu.Unlock()

	go coord.Run(loopCtx)
	m.log.Info("device added", "device_id", dev.DeviceID, "name", dev.DeviceName)

	m.obsMu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.obsMu.Unlock()
	for _, obs := range observers {
		obs.DeviceAdded(coord)
	}
	return nil
}

// removeDevice stops a coordinator and clears the device's ledger. A lock
// that left the home took its codes with it; keeping them would resurrect
// stale secrets if the device ID is ever reused.
func (m *Manager) removeDevice(ctx context.Context, deviceID string) {
	m.mu.Lock()
	dev, ok := m.devices[deviceID]
	if ok {
		delete(m.devices, deviceID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	dev.cancel()
	if err := m.codes.RemoveAll(ctx, deviceID); err != nil {
		m.log.Error("failed to clear ledger for removed device",
			"device_id", deviceID, "error", err)
	}
	m.log.Info("device removed", "device_id", deviceID, "name", dev.name)

	m.obsMu.Lock()
	observers := append([]Observer(nil), m.observers...)
	m.obsMu.Unlock()
	for _, obs := range observers {
		obs.DeviceRemoved(deviceID)
	}
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, dev := range m.devices {
		dev.cancel()
	}
}

// HandleRealtimeEvent routes a push event to its device's coordinator.
// Events for devices not yet discovered are dropped; the next discovery
// pass will pick the device up.
func (m *Manager) HandleRealtimeEvent(ev cloud.Event) {
	m.mu.RLock()
	dev, ok := m.devices[ev.DeviceID]
	m.mu.RUnlock()
	if !ok {
		m.log.Debug("push event for unknown device", "device_id", ev.DeviceID)
		return
	}
	dev.coord.HandleRealtimeEvent(ev)
}

// Coordinator returns the coordinator for a device.
func (m *Manager) Coordinator(deviceID string) (*coordinator.Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[deviceID]
	if !ok {
		return nil, false
	}
	return dev.coord, true
}

// Coordinators returns all coordinators, ordered by device ID.
func (m *Manager) Coordinators() []*coordinator.Coordinator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*coordinator.Coordinator, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.devices[id].coord)
	}
	return out
}

// HomeID returns the home this manager serves.
func (m *Manager) HomeID() string { return m.homeID }
