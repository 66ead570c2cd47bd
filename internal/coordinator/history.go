package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
)

const (
	// historyLimit bounds the events kept on a snapshot.
	historyLimit = 10

	// historyAttempts and historyTimeout scope the reconciler's own retry
	// budget. History rides along with the main refresh and must never
	// sink it, so it gets fewer attempts and a hard per-attempt deadline.
	historyAttempts = 2
	historyTimeout  = 10 * time.Second

	// historyWarnEvery decays repeated-failure logging: warn on the first
	// failure, then every Nth, debug in between. History endpoints flake
	// for hours at a time and a warn per poll would drown the log.
	historyWarnEvery = 5
)

// historyReconciler fetches and caches a device's event history.
//
// A fetch that fails after its attempts returns the cached events, so the
// snapshot keeps showing the last known history instead of flickering
// empty. Consecutive failures are counted for log decay and reset on the
// first success.
type historyReconciler struct {
	client   cloud.Client
	deviceID string
	log      Logger

	cached   []HistoryEvent
	failures int
}

func newHistoryReconciler(client cloud.Client, deviceID string, log Logger) *historyReconciler {
	return &historyReconciler{client: client, deviceID: deviceID, log: log}
}

// fetch returns the freshest history it can get, falling back to the
// cache. It never returns an error; history is best effort.
func (h *historyReconciler) fetch(ctx context.Context) []HistoryEvent {
	var lastErr error
	for attempt := 1; attempt <= historyAttempts; attempt++ {
		events, err := h.fetchOnce(ctx)
		if err == nil {
			if h.failures > 0 {
				h.log.Info("device history recovered",
					"device_id", h.deviceID, "after_failures", h.failures)
				h.failures = 0
			}
			h.cached = events
			return events
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	h.failures++
	if h.failures == 1 || h.failures%historyWarnEvery == 0 {
		h.log.Warn("device history fetch failed, serving cached",
			"device_id", h.deviceID, "consecutive_failures", h.failures, "error", lastErr)
	} else {
		h.log.Debug("device history fetch failed, serving cached",
			"device_id", h.deviceID, "consecutive_failures", h.failures, "error", lastErr)
	}
	return h.cached
}

func (h *historyReconciler) fetchOnce(ctx context.Context) ([]HistoryEvent, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	resp, err := h.client.GetDeviceHistory(attemptCtx, h.deviceID, historyLimit)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("history response missing data for device %s", h.deviceID)
	}

	events := make([]HistoryEvent, 0, len(resp.Data))
	for _, raw := range resp.Data {
		ev, ok := parseHistoryEntry(raw)
		if !ok {
			h.log.Debug("skipping malformed history entry", "device_id", h.deviceID)
			continue
		}
		events = append(events, ev)
		if len(events) == historyLimit {
			break
		}
	}
	return events, nil
}

// parseHistoryEntry decodes one raw history record. An entry without an
// event ID is unusable: dedup and the event log both key on it.
func parseHistoryEntry(raw map[string]any) (HistoryEvent, bool) {
	id, _ := raw["eventid"].(string)
	if id == "" {
		return HistoryEvent{}, false
	}
	ev := HistoryEvent{EventID: id}
	ev.Message, _ = raw["event"].(string)
	ev.EventType, _ = raw["eventtype"].(string)
	ev.User, _ = raw["user"].(string)
	ev.Category, _ = raw["category"].(string)
	ev.Timestamp = parseHistoryTimestamp(raw["timestamp"])
	return ev, true
}

// parseHistoryTimestamp accepts epoch seconds, epoch milliseconds, and
// RFC 3339 strings. Firmware has shipped all three.
func parseHistoryTimestamp(v any) time.Time {
	switch val := v.(type) {
	case float64:
		if val > 1e12 {
			return time.UnixMilli(int64(val)).UTC()
		}
		return time.Unix(int64(val), 0).UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
