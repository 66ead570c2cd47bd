package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
	"github.com/nerrad567/kwikset-bridge/internal/ledger"
)

// mockClient implements cloud.Client with overridable behaviour and call
// counters.
type mockClient struct {
	mu sync.Mutex

	infoFields cloud.DeviceFields
	infoErr    error
	infoCalls  int

	historyData []map[string]any
	historyErr  error
	historyCall int

	userErr   error
	userCalls int

	lockCalls   int
	unlockCalls int
	lastUser    cloud.UserInfo

	createResult *cloud.AccessCodeResult
	createErr    error

	settingCalls map[string]bool
	deleteCalls  []int
	toggleCalls  []bool
}

func newMockClient() *mockClient {
	return &mockClient{
		infoFields: cloud.DeviceFields{
			cloud.FieldDeviceID:   "dev-1",
			cloud.FieldDeviceName: "Front Door",
			cloud.FieldDoorStatus: "Locked",
			cloud.FieldBattery:    float64(90),
			cloud.FieldLED:        true,
		},
		settingCalls: make(map[string]bool),
	}
}

func (m *mockClient) GetUserInfo(ctx context.Context) (cloud.UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userCalls++
	if m.userErr != nil {
		return nil, m.userErr
	}
	return cloud.UserInfo{"id": "user-1"}, nil
}

func (m *mockClient) ListDevices(ctx context.Context, homeID string) ([]cloud.Device, error) {
	return []cloud.Device{{DeviceID: "dev-1", DeviceName: "Front Door"}}, nil
}

func (m *mockClient) GetDeviceInfo(ctx context.Context, deviceID string) (cloud.DeviceFields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoCalls++
	if m.infoErr != nil {
		return nil, m.infoErr
	}
	out := make(cloud.DeviceFields, len(m.infoFields))
	for k, v := range m.infoFields {
		out[k] = v
	}
	return out, nil
}

func (m *mockClient) GetDeviceHistory(ctx context.Context, deviceID string, top int) (*cloud.HistoryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyCall++
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	if m.historyData == nil {
		return &cloud.HistoryResponse{Data: []map[string]any{}}, nil
	}
	return &cloud.HistoryResponse{Data: m.historyData}, nil
}

func (m *mockClient) LockDevice(ctx context.Context, deviceID string, user cloud.UserInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	m.lastUser = user
	return nil
}

func (m *mockClient) UnlockDevice(ctx context.Context, deviceID string, user cloud.UserInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlockCalls++
	m.lastUser = user
	return nil
}

func (m *mockClient) SetLEDEnabled(ctx context.Context, deviceID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settingCalls["led"] = enabled
	return nil
}

func (m *mockClient) SetAudioEnabled(ctx context.Context, deviceID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settingCalls["audio"] = enabled
	return nil
}

func (m *mockClient) SetSecureScreenEnabled(ctx context.Context, deviceID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settingCalls["securescreen"] = enabled
	return nil
}

func (m *mockClient) CreateAccessCode(ctx context.Context, deviceID string, req cloud.AccessCodeRequest) (*cloud.AccessCodeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.createResult != nil {
		return m.createResult, nil
	}
	return &cloud.AccessCodeResult{Token: "tok-1"}, nil
}

func (m *mockClient) EditAccessCode(ctx context.Context, deviceID string, req cloud.AccessCodeRequest) error {
	return nil
}

func (m *mockClient) EnableAccessCode(ctx context.Context, deviceID string, slot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggleCalls = append(m.toggleCalls, true)
	return nil
}

func (m *mockClient) DisableAccessCode(ctx context.Context, deviceID string, slot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toggleCalls = append(m.toggleCalls, false)
	return nil
}

func (m *mockClient) DeleteAccessCode(ctx context.Context, deviceID string, slot int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, slot)
	return nil
}

// memStore is a throwaway ledger store for tests.
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

func newTestCoordinator(t *testing.T, client *mockClient) *Coordinator {
	t.Helper()
	l, err := ledger.Open(context.Background(), &memStore{docs: map[string][]byte{}}, "home-1")
	if err != nil {
		t.Fatal(err)
	}
	return New(Config{
		DeviceID:        "dev-1",
		Client:          client,
		Ledger:          l,
		RefreshInterval: time.Minute,
	})
}

func setupCoordinator(t *testing.T, client *mockClient) *Coordinator {
	t.Helper()
	c := newTestCoordinator(t, client)
	if err := c.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return c
}

func TestSetup_BuildsSnapshot(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	snap, ok := c.Snapshot()
	if !ok {
		t.Fatal("expected snapshot after setup")
	}
	if snap.DoorStatus != DoorLocked {
		t.Errorf("expected locked, got %s", snap.DoorStatus)
	}
	if snap.BatteryPercent != 90 {
		t.Errorf("expected battery 90, got %d", snap.BatteryPercent)
	}
	if snap.LEDEnabled != StateTrue {
		t.Errorf("expected led true, got %v", snap.LEDEnabled)
	}
	// Audio was never reported.
	if snap.AudioEnabled != StateUnknown {
		t.Errorf("expected audio unknown, got %v", snap.AudioEnabled)
	}
	if !snap.LastUpdateSuccess {
		t.Error("expected LastUpdateSuccess after setup")
	}
}

func TestSetup_FailurePropagates(t *testing.T) {
	client := newMockClient()
	client.infoErr = fmt.Errorf("%w: bad credentials", cloud.ErrUnauthenticated)

	c := newTestCoordinator(t, client)
	if err := c.Setup(context.Background()); !errors.Is(err, cloud.ErrUnauthenticated) {
		t.Errorf("expected auth error from setup, got %v", err)
	}
	if _, ok := c.Snapshot(); ok {
		t.Error("no snapshot must exist after failed setup")
	}
}

func TestRefresh_ReplacesWholesale(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	// The next poll drops the LED field entirely. Wholesale replace means
	// it must go back to unknown, not linger as true.
	client.mu.Lock()
	delete(client.infoFields, cloud.FieldLED)
	client.infoFields[cloud.FieldDoorStatus] = "Unlocked"
	client.mu.Unlock()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap, _ := c.Snapshot()
	if snap.DoorStatus != DoorUnlocked {
		t.Errorf("expected unlocked, got %s", snap.DoorStatus)
	}
	if snap.LEDEnabled != StateUnknown {
		t.Errorf("dropped field must reset to unknown, got %v", snap.LEDEnabled)
	}
}

func TestRefresh_FailureKeepsStaleSnapshot(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	var authErrs int
	c.onAuth = func(error) { authErrs++ }

	client.mu.Lock()
	client.infoErr = fmt.Errorf("%w: expired", cloud.ErrTokenExpired)
	client.mu.Unlock()

	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	snap, ok := c.Snapshot()
	if !ok {
		t.Fatal("stale snapshot must survive a failed refresh")
	}
	if snap.LastUpdateSuccess {
		t.Error("LastUpdateSuccess must be cleared")
	}
	if snap.DoorStatus != DoorLocked {
		t.Error("stale field data must be retained")
	}
	if authErrs != 1 {
		t.Errorf("expected auth handler to fire once, got %d", authErrs)
	}
}

func TestHandleRealtimeEvent_FieldMerge(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	c.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-1",
		Fields:   cloud.DeviceFields{cloud.FieldBattery: float64(42)},
	})

	snap, _ := c.Snapshot()
	if snap.BatteryPercent != 42 {
		t.Errorf("expected merged battery 42, got %d", snap.BatteryPercent)
	}
	// Untouched fields survive the merge.
	if snap.DoorStatus != DoorLocked {
		t.Errorf("unrelated field changed: %s", snap.DoorStatus)
	}
	if snap.LEDEnabled != StateTrue {
		t.Errorf("unrelated field changed: %v", snap.LEDEnabled)
	}
}

func TestHandleRealtimeEvent_NullFieldsPreserved(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	// Relays send explicit nulls for fields they have no reading for.
	// A null must not clear what the last poll reported.
	c.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-1",
		Fields: cloud.DeviceFields{
			cloud.FieldLED:        nil,
			cloud.FieldDoorStatus: nil,
			cloud.FieldBattery:    float64(55),
		},
	})

	snap, _ := c.Snapshot()
	if snap.LEDEnabled != StateTrue {
		t.Errorf("null led field cleared prior value: got %v", snap.LEDEnabled)
	}
	if snap.DoorStatus != DoorLocked {
		t.Errorf("null door field cleared prior value: got %s", snap.DoorStatus)
	}
	if snap.BatteryPercent != 55 {
		t.Errorf("non-null field must still merge, got %d", snap.BatteryPercent)
	}
	// No door change happened, so no follow-up refresh is due.
	if len(c.kick) != 0 {
		t.Error("null door field must not queue a follow-up refresh")
	}
}

func TestHandleRealtimeEvent_DroppedWithoutSnapshot(t *testing.T) {
	client := newMockClient()
	c := newTestCoordinator(t, client)

	c.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-1",
		Fields:   cloud.DeviceFields{cloud.FieldDoorStatus: "Unlocked"},
	})

	if _, ok := c.Snapshot(); ok {
		t.Error("push before first refresh must not create a snapshot")
	}
}

func TestHandleRealtimeEvent_DoorChangeSchedulesFollowUp(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	c.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-1",
		Fields:   cloud.DeviceFields{cloud.FieldDoorStatus: "Unlocked"},
	})
	if len(c.kick) != 1 {
		t.Error("door change must queue a follow-up refresh")
	}

	// Draining and pushing a non-door change must not queue another.
	<-c.kick
	c.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-1",
		Fields:   cloud.DeviceFields{cloud.FieldBattery: float64(41)},
	})
	if len(c.kick) != 0 {
		t.Error("non-door change must not queue a refresh")
	}
}

func TestRequestRefresh_Coalesces(t *testing.T) {
	client := newMockClient()
	c := newTestCoordinator(t, client)

	c.RequestRefresh()
	c.RequestRefresh()
	c.RequestRefresh()
	if len(c.kick) != 1 {
		t.Errorf("expected coalesced single request, got %d", len(c.kick))
	}
}

func TestLock_FetchesUserAndRefreshes(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)
	before := client.infoCalls

	if err := c.Lock(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.userCalls != 1 {
		t.Errorf("expected user info fetch before lock, got %d", client.userCalls)
	}
	if client.lockCalls != 1 {
		t.Errorf("expected 1 lock call, got %d", client.lockCalls)
	}
	if client.lastUser["id"] != "user-1" {
		t.Error("lock must carry the user document")
	}
	if client.infoCalls != before+1 {
		t.Error("lock must be followed by a refresh")
	}
}

func TestCommands_RequireSnapshot(t *testing.T) {
	client := newMockClient()
	c := newTestCoordinator(t, client)

	if err := c.Lock(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if err := c.SetLED(context.Background(), true); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestSetLED(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	if err := c.SetLED(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if enabled, ok := client.settingCalls["led"]; !ok || enabled {
		t.Errorf("expected led disabled call, got %v", client.settingCalls)
	}
}

func TestCreateAccessCode_ParksPendingAndResolvesAck(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)
	ctx := context.Background()

	err := c.CreateAccessCode(ctx, cloud.AccessCodeRequest{
		Code:     "4321",
		Name:     "Guest",
		Schedule: cloud.AccessCodeSchedule{Type: cloud.ScheduleAllDay},
	})
	if err != nil {
		t.Fatal(err)
	}

	entries := c.codes.Entries("dev-1")
	if len(entries) != 1 || entries[0].Slot != ledger.PendingSlot {
		t.Fatalf("expected entry parked at pending slot, got %+v", entries)
	}

	// The lock confirms the code landed in slot 7.
	c.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-1",
		Fields: cloud.DeviceFields{
			cloud.FieldAckToken: "tok-1",
			cloud.FieldAckSlot:  float64(7),
		},
	})

	entries = c.codes.Entries("dev-1")
	if len(entries) != 1 || entries[0].Slot != 7 {
		t.Errorf("expected entry relocated to slot 7, got %+v", entries)
	}
}

func TestHandleAck_ForeignTokenIgnored(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	// Park a pending entry, then deliver an ack for a token this bridge
	// never issued. Another controller's create must not steal it.
	if err := c.CreateAccessCode(context.Background(), cloud.AccessCodeRequest{
		Code:     "4321",
		Name:     "Guest",
		Schedule: cloud.AccessCodeSchedule{Type: cloud.ScheduleAllDay},
	}); err != nil {
		t.Fatal(err)
	}

	c.HandleRealtimeEvent(cloud.Event{
		DeviceID: "dev-1",
		Fields: cloud.DeviceFields{
			cloud.FieldAckToken: "someone-elses",
			cloud.FieldAckSlot:  float64(9),
		},
	})

	entries := c.codes.Entries("dev-1")
	if len(entries) != 1 || entries[0].Slot != ledger.PendingSlot {
		t.Errorf("foreign ack must not resolve the pending slot, got %+v", entries)
	}
}

func TestDeleteAccessCode(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)
	ctx := context.Background()

	if err := c.EditAccessCode(ctx, cloud.AccessCodeRequest{
		Code: "5678", Name: "Sitter", Slot: 4,
		Schedule: cloud.AccessCodeSchedule{Type: cloud.ScheduleAllDay},
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteAccessCode(ctx, 4); err != nil {
		t.Fatal(err)
	}
	if len(client.deleteCalls) != 1 || client.deleteCalls[0] != 4 {
		t.Errorf("expected delete for slot 4, got %v", client.deleteCalls)
	}
	if entries := c.codes.Entries("dev-1"); len(entries) != 0 {
		t.Errorf("expected empty ledger after delete, got %+v", entries)
	}
}

func TestDeleteAllAccessCodes_AlwaysRejected(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	if err := c.DeleteAllAccessCodes(context.Background()); !errors.Is(err, ErrDeleteAllNotSupported) {
		t.Errorf("expected ErrDeleteAllNotSupported, got %v", err)
	}
}

func TestSubscribe(t *testing.T) {
	client := newMockClient()
	c := setupCoordinator(t, client)

	var got []Snapshot
	unsubscribe := c.Subscribe(func(s Snapshot) { got = append(got, s) })

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}

	unsubscribe()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Error("unsubscribed listener must not be notified")
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want TriState
	}{
		{"nil is unknown", nil, StateUnknown},
		{"bool true", true, StateTrue},
		{"bool false", false, StateFalse},
		{"string true", "true", StateTrue},
		{"string TRUE", "TRUE", StateTrue},
		{"string 1", "1", StateTrue},
		{"string yes", "yes", StateTrue},
		{"string on", "on", StateTrue},
		{"string false", "false", StateFalse},
		{"string off", "off", StateFalse},
		{"unrecognised string is false", "banana", StateFalse},
		{"empty string is false", "", StateFalse},
		{"nonzero number", float64(2), StateTrue},
		{"zero number", float64(0), StateFalse},
		{"other type is false", []string{"x"}, StateFalse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseBool(tt.in); got != tt.want {
				t.Errorf("ParseBool(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDoorStatus(t *testing.T) {
	tests := []struct {
		in   any
		want DoorStatus
	}{
		{"Locked", DoorLocked},
		{"unlocked", DoorUnlocked},
		{" Jammed ", DoorJammed},
		{"calibrating", DoorUnknown},
		{nil, DoorUnknown},
		{float64(1), DoorUnknown},
	}
	for _, tt := range tests {
		if got := parseDoorStatus(tt.in); got != tt.want {
			t.Errorf("parseDoorStatus(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
