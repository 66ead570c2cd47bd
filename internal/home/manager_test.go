package home

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
	"github.com/nerrad567/kwikset-bridge/internal/ledger"
)

// mockClient serves a mutable device list and per-device info documents.
type mockClient struct {
	mu      sync.Mutex
	devices []cloud.Device
	infoErr map[string]error
}

func newMockClient(devices ...cloud.Device) *mockClient {
	return &mockClient{devices: devices, infoErr: make(map[string]error)}
}

func (m *mockClient) setDevices(devices ...cloud.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
}

func (m *mockClient) GetUserInfo(ctx context.Context) (cloud.UserInfo, error) {
	return cloud.UserInfo{"id": "user-1"}, nil
}

func (m *mockClient) ListDevices(ctx context.Context, homeID string) ([]cloud.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cloud.Device(nil), m.devices...), nil
}

func (m *mockClient) GetDeviceInfo(ctx context.Context, deviceID string) (cloud.DeviceFields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.infoErr[deviceID]; err != nil {
		return nil, err
	}
	return cloud.DeviceFields{
		cloud.FieldDeviceID:   deviceID,
		cloud.FieldDeviceName: "Lock " + deviceID,
		cloud.FieldDoorStatus: "Locked",
	}, nil
}

func (m *mockClient) GetDeviceHistory(ctx context.Context, deviceID string, top int) (*cloud.HistoryResponse, error) {
	return &cloud.HistoryResponse{Data: []map[string]any{}}, nil
}

func (m *mockClient) LockDevice(context.Context, string, cloud.UserInfo) error   { return nil }
func (m *mockClient) UnlockDevice(context.Context, string, cloud.UserInfo) error { return nil }
func (m *mockClient) SetLEDEnabled(context.Context, string, bool) error          { return nil }
func (m *mockClient) SetAudioEnabled(context.Context, string, bool) error        { return nil }
func (m *mockClient) SetSecureScreenEnabled(context.Context, string, bool) error { return nil }

func (m *mockClient) CreateAccessCode(context.Context, string, cloud.AccessCodeRequest) (*cloud.AccessCodeResult, error) {
	return &cloud.AccessCodeResult{Token: "tok-1"}, nil
}
func (m *mockClient) EditAccessCode(context.Context, string, cloud.AccessCodeRequest) error {
	return nil
}
func (m *mockClient) EnableAccessCode(context.Context, string, int) error  { return nil }
func (m *mockClient) DisableAccessCode(context.Context, string, int) error { return nil }
func (m *mockClient) DeleteAccessCode(context.Context, string, int) error  { return nil }

type memStore struct {
	docs map[string][]byte
}

func (s *memStore) Load(_ context.Context, homeID string) ([]byte, error) {
	return s.docs[homeID], nil
}

func (s *memStore) Save(_ context.Context, homeID string, doc []byte) error {
	s.docs[homeID] = append([]byte(nil), doc...)
	return nil
}

// recordingObserver captures lifecycle notifications.
type recordingObserver struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (o *recordingObserver) DeviceAdded(c *coordinator.Coordinator) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.added = append(o.added, c.DeviceID())
}

func (o *recordingObserver) DeviceRemoved(deviceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, deviceID)
}

func newTestManager(t *testing.T, client *mockClient) (*Manager, *recordingObserver) {
	t.Helper()
	l, err := ledger.Open(context.Background(), &memStore{docs: map[string][]byte{}}, "home-1")
	if err != nil {
		t.Fatal(err)
	}
	m := New(Config{
		HomeID:            "home-1",
		Client:            client,
		Ledger:            l,
		RefreshInterval:   time.Minute,
		DiscoveryInterval: time.Hour,
	})
	obs := &recordingObserver{}
	m.AddObserver(obs)
	return m, obs
}

func TestStart_DiscoversDevices(t *testing.T) {
	client := newMockClient(
		cloud.Device{DeviceID: "dev-1", DeviceName: "Front Door"},
		cloud.Device{DeviceID: "dev-2", DeviceName: "Back Door"},
	)
	m, obs := newTestManager(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	coords := m.Coordinators()
	if len(coords) != 2 {
		t.Fatalf("expected 2 coordinators, got %d", len(coords))
	}
	if coords[0].DeviceID() != "dev-1" || coords[1].DeviceID() != "dev-2" {
		t.Errorf("unexpected order: %s, %s", coords[0].DeviceID(), coords[1].DeviceID())
	}
	for _, c := range coords {
		if _, ok := c.Snapshot(); !ok {
			t.Errorf("device %s has no snapshot after start", c.DeviceID())
		}
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.added) != 2 {
		t.Errorf("expected 2 added notifications, got %d", len(obs.added))
	}
}

func TestStart_SkipsFailingDevice(t *testing.T) {
	client := newMockClient(
		cloud.Device{DeviceID: "dev-1"},
		cloud.Device{DeviceID: "dev-broken"},
	)
	client.infoErr["dev-broken"] = fmt.Errorf("%w: device offline", cloud.ErrUnauthenticated)

	m, _ := newTestManager(t, client)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("one broken device must not fail start: %v", err)
	}
	if len(m.Coordinators()) != 1 {
		t.Errorf("expected only the healthy device, got %d", len(m.Coordinators()))
	}
}

func TestDiscover_AddsAndRemoves(t *testing.T) {
	client := newMockClient(cloud.Device{DeviceID: "dev-1"})
	m, obs := newTestManager(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Seed a ledger entry for dev-1 so removal can clear it.
	if err := m.codes.Track(ctx, "dev-1", ledger.Entry{Slot: 3, Name: "Guest", Code: "1234"}); err != nil {
		t.Fatal(err)
	}

	// dev-1 leaves, dev-2 arrives.
	client.setDevices(cloud.Device{DeviceID: "dev-2"})
	if err := m.discover(ctx); err != nil {
		t.Fatalf("discover: %v", err)
	}

	if _, ok := m.Coordinator("dev-1"); ok {
		t.Error("removed device still has a coordinator")
	}
	if _, ok := m.Coordinator("dev-2"); !ok {
		t.Error("new device has no coordinator")
	}
	if entries := m.codes.Entries("dev-1"); len(entries) != 0 {
		t.Errorf("removed device's ledger must be cleared, got %+v", entries)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.removed) != 1 || obs.removed[0] != "dev-1" {
		t.Errorf("expected removal notification for dev-1, got %v", obs.removed)
	}
}

func TestHandleRealtimeEvent_Routing(t *testing.T) {
	client := newMockClient(cloud.Device{DeviceID: "dev-1"})
	m, _ := newTestManager(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}

	m.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-1",
		Fields:   cloud.DeviceFields{cloud.FieldBattery: float64(55)},
	})

	c, _ := m.Coordinator("dev-1")
	snap, _ := c.Snapshot()
	if snap.BatteryPercent != 55 {
		t.Errorf("expected routed event to merge, got battery %d", snap.BatteryPercent)
	}

	// Unknown device: dropped without panic.
	m.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-ghost",
		Fields:   cloud.DeviceFields{cloud.FieldBattery: float64(1)},
	})
}

func TestStart_Twice(t *testing.T) {
	client := newMockClient(cloud.Device{DeviceID: "dev-1"})
	m, _ := newTestManager(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("expected error on second start")
	}
}
