package platform

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

// stubClient is the minimal cloud.Client needed to drive a coordinator.
type stubClient struct {
	mu      sync.Mutex
	fields  cloud.DeviceFields
	history []map[string]any
	lockErr error
}

func newStubClient() *stubClient {
	return &stubClient{
		fields: cloud.DeviceFields{
			cloud.FieldDeviceID:   "dev-1",
			cloud.FieldDeviceName: "Front Door",
			cloud.FieldDoorStatus: "Locked",
			cloud.FieldBattery:    float64(75),
			cloud.FieldLED:        true,
		},
	}
}

func (s *stubClient) setHistory(history []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = history
}

func (s *stubClient) GetUserInfo(context.Context) (cloud.UserInfo, error) {
	return cloud.UserInfo{"id": "user-1"}, nil
}

func (s *stubClient) ListDevices(context.Context, string) ([]cloud.Device, error) {
	return []cloud.Device{{DeviceID: "dev-1"}}, nil
}

func (s *stubClient) GetDeviceInfo(context.Context, string) (cloud.DeviceFields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(cloud.DeviceFields, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out, nil
}

func (s *stubClient) GetDeviceHistory(context.Context, string, int) (*cloud.HistoryResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.history
	if data == nil {
		data = []map[string]any{}
	}
	return &cloud.HistoryResponse{Data: data}, nil
}

func (s *stubClient) LockDevice(context.Context, string, cloud.UserInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockErr
}

func (s *stubClient) UnlockDevice(context.Context, string, cloud.UserInfo) error { return nil }
func (s *stubClient) SetLEDEnabled(context.Context, string, bool) error          { return nil }
func (s *stubClient) SetAudioEnabled(context.Context, string, bool) error        { return nil }
func (s *stubClient) SetSecureScreenEnabled(context.Context, string, bool) error { return nil }

func (s *stubClient) CreateAccessCode(context.Context, string, cloud.AccessCodeRequest) (*cloud.AccessCodeResult, error) {
	return &cloud.AccessCodeResult{}, nil
}
func (s *stubClient) EditAccessCode(context.Context, string, cloud.AccessCodeRequest) error {
	return nil
}
func (s *stubClient) EnableAccessCode(context.Context, string, int) error  { return nil }
func (s *stubClient) DisableAccessCode(context.Context, string, int) error { return nil }
func (s *stubClient) DeleteAccessCode(context.Context, string, int) error  { return nil }

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

func newTestCoordinator(t *testing.T, client cloud.Client) *coordinator.Coordinator {
	t.Helper()
	l, err := ledger.Open(context.Background(), &memStore{docs: map[string][]byte{}}, "home-1")
	if err != nil {
		t.Fatal(err)
	}
	c := coordinator.New(coordinator.Config{
		DeviceID:        "dev-1",
		Client:          client,
		Ledger:          l,
		RefreshInterval: time.Minute,
	})
	if err := c.Setup(context.Background()); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return c
}

func TestLockStatus_FollowsSnapshot(t *testing.T) {
	client := newStubClient()
	coord := newTestCoordinator(t, client)
	l := NewLock(coord, 0)
	defer l.Close()

	if got := l.Status(); got != coordinator.DoorLocked {
		t.Errorf("expected locked, got %s", got)
	}
}

func TestLockStatus_OptimisticUntilUpdate(t *testing.T) {
	client := newStubClient()
	coord := newTestCoordinator(t, client)
	l := NewLock(coord, time.Hour)
	defer l.Close()

	l.setOptimistic(coordinator.DoorUnlocked)
	if got := l.Status(); got != coordinator.DoorUnlocked {
		t.Errorf("expected optimistic unlocked, got %s", got)
	}

	// A coordinator update clears the optimism.
	if err := coord.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := l.Status(); got != coordinator.DoorLocked {
		t.Errorf("expected device-reported locked after update, got %s", got)
	}
}

func TestLockStatus_OptimisticWindowExpires(t *testing.T) {
	client := newStubClient()
	coord := newTestCoordinator(t, client)
	l := NewLock(coord, 10*time.Millisecond)
	defer l.Close()

	l.setOptimistic(coordinator.DoorUnlocked)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if l.Status() == coordinator.DoorLocked {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("optimistic state did not expire")
}

func TestLock_FailedCommandClearsOptimism(t *testing.T) {
	client := newStubClient()
	coord := newTestCoordinator(t, client)
	l := NewLock(coord, time.Hour)
	defer l.Close()

	client.mu.Lock()
	client.lockErr = fmt.Errorf("%w: rejected", cloud.ErrUnauthenticated)
	client.mu.Unlock()

	if err := l.Lock(context.Background()); err == nil {
		t.Fatal("expected lock command to fail")
	}
	if got := l.Status(); got != coordinator.DoorLocked {
		t.Errorf("failed command must fall back to reported state, got %s", got)
	}
}

func TestReadings(t *testing.T) {
	snap := coordinator.Snapshot{
		DoorStatus:     coordinator.DoorUnlocked,
		BatteryPercent: 42,
		Firmware:       "1.2.3",
		History: []coordinator.HistoryEvent{
			{EventID: "e1", Message: "Unlocked by app", Timestamp: time.Unix(1756200000, 0).UTC()},
		},
	}

	byKey := map[string]Reading{}
	for _, r := range Readings(snap) {
		byKey[r.Key] = r
	}

	if byKey["battery"].Value != 42 {
		t.Errorf("battery: %v", byKey["battery"].Value)
	}
	if byKey["door_status"].Value != "unlocked" {
		t.Errorf("door_status: %v", byKey["door_status"].Value)
	}
	if byKey["last_event"].Value != "Unlocked by app" {
		t.Errorf("last_event: %v", byKey["last_event"].Value)
	}
	if byKey["firmware"].Value != "1.2.3" {
		t.Errorf("firmware: %v", byKey["firmware"].Value)
	}
	// Serial was never reported.
	if byKey["serial"].Value != nil {
		t.Errorf("serial should be nil, got %v", byKey["serial"].Value)
	}
}

func TestReadings_UnreportedBattery(t *testing.T) {
	snap := coordinator.Snapshot{BatteryPercent: -1}
	for _, r := range Readings(snap) {
		if r.Key == "battery" && r.Value != nil {
			t.Errorf("unreported battery must be nil, got %v", r.Value)
		}
	}
}

func TestSwitches(t *testing.T) {
	snap := coordinator.Snapshot{
		LEDEnabled:   coordinator.StateTrue,
		AudioEnabled: coordinator.StateFalse,
		// SecureScreen never reported.
	}

	byKey := map[string]SwitchState{}
	for _, s := range Switches(snap) {
		byKey[s.Key] = s
	}

	if s := byKey["led"]; !s.Known || !s.Enabled {
		t.Errorf("led: %+v", s)
	}
	if s := byKey["audio"]; !s.Known || s.Enabled {
		t.Errorf("audio: %+v", s)
	}
	if s := byKey["secure_screen"]; s.Known {
		t.Errorf("secure_screen must be unknown: %+v", s)
	}
}

func TestSetSwitch_UnknownKey(t *testing.T) {
	client := newStubClient()
	coord := newTestCoordinator(t, client)
	if err := SetSwitch(context.Background(), coord, "afterburner", true); err == nil {
		t.Error("expected error for unknown switch key")
	}
}

func TestEventStream_SeededAtCreation(t *testing.T) {
	client := newStubClient()
	client.setHistory([]map[string]any{
		{"eventid": "e1", "event": "Locked by keypad"},
	})
	coord := newTestCoordinator(t, client)

	var got []StreamEvent
	s := NewEventStream(coord, func(ev StreamEvent) { got = append(got, ev) })
	defer s.Close()

	// Refresh with the same history: nothing new to announce.
	if err := coord.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("seeded events must not be re-announced, got %+v", got)
	}
}

func TestEventStream_EmitsNewEventsOldestFirst(t *testing.T) {
	client := newStubClient()
	client.setHistory([]map[string]any{
		{"eventid": "e1", "event": "Locked by keypad"},
	})
	coord := newTestCoordinator(t, client)

	var got []StreamEvent
	s := NewEventStream(coord, func(ev StreamEvent) { got = append(got, ev) })
	defer s.Close()

	client.setHistory([]map[string]any{
		{"eventid": "e3", "event": "Locked by app"},
		{"eventid": "e2", "event": "Unlocked by keypad"},
		{"eventid": "e1", "event": "Locked by keypad"},
	})
	if err := coord.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 new events, got %d", len(got))
	}
	if got[0].Event.EventID != "e2" || got[1].Event.EventID != "e3" {
		t.Errorf("expected oldest-first delivery, got %s then %s",
			got[0].Event.EventID, got[1].Event.EventID)
	}
	if got[0].Type != EventUnlocked || got[1].Type != EventLocked {
		t.Errorf("unexpected classification: %s, %s", got[0].Type, got[1].Type)
	}

	// Same window again: no duplicates.
	if err := coord.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("expected no duplicate delivery, got %d", len(got))
	}
}

func TestClassifyEvent(t *testing.T) {
	tests := []struct {
		message string
		want    EventType
	}{
		{"Unlocked by app", EventUnlocked},
		{"Locked by keypad", EventLocked},
		{"Bolt jammed", EventJammed},
		{"Tamper alarm", EventTamper},
		{"Something novel", EventLocked},
	}
	for _, tt := range tests {
		if got := classifyEvent(tt.message); got != tt.want {
			t.Errorf("classifyEvent(%q) = %s, want %s", tt.message, got, tt.want)
		}
	}
}
