package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
)

// captureLogger records messages by level.
type captureLogger struct {
	debugs []string
	infos  []string
	warns  []string
	errors []string
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.debugs = append(l.debugs, msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.infos = append(l.infos, msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }

func TestHistoryFetch_ParsesEvents(t *testing.T) {
	client := newMockClient()
	client.historyData = []map[string]any{
		{"eventid": "e2", "event": "Locked by keypad", "eventtype": "lock", "timestamp": float64(1756200000)},
		{"eventid": "e1", "event": "Unlocked by app", "eventtype": "unlock", "user": "Alice", "timestamp": float64(1756199000)},
	}
	h := newHistoryReconciler(client, "dev-1", noopLogger{})

	events := h.fetch(context.Background())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventID != "e2" || events[0].Message != "Locked by keypad" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].User != "Alice" {
		t.Errorf("expected user on second event, got %+v", events[1])
	}
	if events[0].Timestamp.IsZero() {
		t.Error("expected timestamp parsed")
	}
}

func TestHistoryFetch_BoundsEvents(t *testing.T) {
	client := newMockClient()
	for i := 0; i < historyLimit+5; i++ {
		client.historyData = append(client.historyData, map[string]any{
			"eventid": fmt.Sprintf("e%d", i), "event": "Locked",
		})
	}
	h := newHistoryReconciler(client, "dev-1", noopLogger{})

	events := h.fetch(context.Background())
	if len(events) != historyLimit {
		t.Errorf("expected history bounded at %d, got %d", historyLimit, len(events))
	}
}

func TestHistoryFetch_SkipsEntriesWithoutID(t *testing.T) {
	client := newMockClient()
	client.historyData = []map[string]any{
		{"event": "no id here"},
		{"eventid": "e1", "event": "Locked"},
	}
	h := newHistoryReconciler(client, "dev-1", noopLogger{})

	events := h.fetch(context.Background())
	if len(events) != 1 || events[0].EventID != "e1" {
		t.Errorf("expected only the identified event, got %+v", events)
	}
}

func TestHistoryFetch_FailureServesCache(t *testing.T) {
	client := newMockClient()
	client.historyData = []map[string]any{{"eventid": "e1", "event": "Locked"}}
	h := newHistoryReconciler(client, "dev-1", noopLogger{})

	if events := h.fetch(context.Background()); len(events) != 1 {
		t.Fatalf("seed fetch failed: %+v", events)
	}

	client.mu.Lock()
	client.historyErr = fmt.Errorf("%w: endpoint down", cloud.ErrRequestFailed)
	client.mu.Unlock()
	before := client.historyCall

	events := h.fetch(context.Background())
	if len(events) != 1 || events[0].EventID != "e1" {
		t.Errorf("expected cached events on failure, got %+v", events)
	}
	if client.historyCall != before+historyAttempts {
		t.Errorf("expected %d attempts, got %d", historyAttempts, client.historyCall-before)
	}
}

func TestHistoryFetch_LogDecay(t *testing.T) {
	client := newMockClient()
	client.historyErr = fmt.Errorf("%w: endpoint down", cloud.ErrRequestFailed)
	log := &captureLogger{}
	h := newHistoryReconciler(client, "dev-1", log)

	ctx := context.Background()
	for i := 0; i < historyWarnEvery*2; i++ {
		h.fetch(ctx)
	}

	// Failure 1 warns, then every historyWarnEvery-th: 1, 5, 10.
	if len(log.warns) != 3 {
		t.Errorf("expected 3 warns over %d failures, got %d", historyWarnEvery*2, len(log.warns))
	}

	// Recovery logs once at info and resets the counter.
	client.mu.Lock()
	client.historyErr = nil
	client.historyData = []map[string]any{{"eventid": "e1", "event": "Locked"}}
	client.mu.Unlock()

	h.fetch(ctx)
	if len(log.infos) != 1 {
		t.Errorf("expected recovery info log, got %d", len(log.infos))
	}
	if h.failures != 0 {
		t.Errorf("expected failure counter reset, got %d", h.failures)
	}

	// A fresh failure streak warns immediately again.
	client.mu.Lock()
	client.historyErr = fmt.Errorf("%w: down again", cloud.ErrRequestFailed)
	client.mu.Unlock()
	h.fetch(ctx)
	if len(log.warns) != 4 {
		t.Errorf("expected warn on first failure of new streak, got %d", len(log.warns))
	}
}

func TestHistoryFetch_MalformedResponseCountsAsFailure(t *testing.T) {
	client := &nilHistoryClient{mockClient: newMockClient()}
	log := &captureLogger{}
	h := newHistoryReconciler(client, "dev-1", log)

	events := h.fetch(context.Background())
	if events != nil {
		t.Errorf("expected nil events with empty cache, got %+v", events)
	}
	if h.failures != 1 {
		t.Errorf("malformed response must count as a failure, got %d", h.failures)
	}
}

// nilHistoryClient returns a response with no data payload.
type nilHistoryClient struct {
	*mockClient
}

func (c *nilHistoryClient) GetDeviceHistory(ctx context.Context, deviceID string, top int) (*cloud.HistoryResponse, error) {
	return &cloud.HistoryResponse{}, nil
}

func TestParseHistoryTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"epoch seconds", float64(1756200000), time.Unix(1756200000, 0).UTC()},
		{"epoch millis", float64(1756200000123), time.UnixMilli(1756200000123).UTC()},
		{"rfc3339", "2026-08-26T10:00:00Z", time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)},
		{"garbage", "yesterday", time.Time{}},
		{"nil", nil, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseHistoryTimestamp(tt.in); !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
