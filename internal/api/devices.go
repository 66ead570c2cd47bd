package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
	"github.com/nerrad567/kwikset-bridge/internal/eventlog"
	"github.com/nerrad567/kwikset-bridge/internal/platform"
)

// getCoordinator resolves the {id} URL parameter to a coordinator,
// writing a 404 if the device is unknown.
func (s *Server) getCoordinator(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, bool) {
	id := chi.URLParam(r, "id")
	coord, ok := s.manager.Coordinator(id)
	if !ok {
		writeNotFound(w, "unknown device: "+id)
		return nil, false
	}
	return coord, true
}

// getSnapshot resolves the device and its current snapshot, writing an
// error response when either is unavailable.
func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) (*coordinator.Coordinator, coordinator.Snapshot, bool) {
	coord, ok := s.getCoordinator(w, r)
	if !ok {
		return nil, coordinator.Snapshot{}, false
	}
	snap, ok := coord.Snapshot()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotReady, "device snapshot not ready")
		return nil, coordinator.Snapshot{}, false
	}
	return coord, snap, true
}

// handleListDevices returns all managed devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	coords := s.manager.Coordinators()
	devices := make([]deviceView, 0, len(coords))
	for _, coord := range coords {
		if snap, ok := coord.Snapshot(); ok {
			devices = append(devices, s.snapshotView(snap))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device's full state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.getSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.snapshotView(snap))
}

// handleLock drives the bolt to locked.
func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	s.boltCommand(w, r, true)
}

// handleUnlock drives the bolt to unlocked.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	s.boltCommand(w, r, false)
}

// boltCommand runs a lock or unlock through the optimistic lock facade
// so WebSocket subscribers see the target state while the command is in
// flight. The coordinator refreshes before the command returns, so the
// response carries confirmed state.
func (s *Server) boltCommand(w http.ResponseWriter, r *http.Request, lock bool) {
	coord, ok := s.getCoordinator(w, r)
	if !ok {
		return
	}

	var err error
	if h := s.handle(coord.DeviceID()); h != nil {
		if lock {
			err = h.lock.Lock(r.Context())
		} else {
			err = h.lock.Unlock(r.Context())
		}
	} else {
		if lock {
			err = coord.Lock(r.Context())
		} else {
			err = coord.Unlock(r.Context())
		}
	}
	if err != nil {
		writeCommandError(w, err)
		return
	}

	snap, ok := coord.Snapshot()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.snapshotView(snap))
}

// handleSensors returns the evaluated sensor set for a device.
func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.getSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": snap.DeviceID,
		"sensors":   platform.Readings(snap),
	})
}

// handleListSwitches returns the toggleable settings for a device.
func (s *Server) handleListSwitches(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.getSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": snap.DeviceID,
		"switches":  platform.Switches(snap),
	})
}

// switchRequest is the body for PUT /switches/{key}.
type switchRequest struct {
	Enabled bool `json:"enabled"`
}

// handleSetSwitch applies a toggle to a device setting.
func (s *Server) handleSetSwitch(w http.ResponseWriter, r *http.Request) {
	coord, snap, ok := s.getSnapshot(w, r)
	if !ok {
		return
	}

	key := chi.URLParam(r, "key")
	known := false
	for _, sw := range platform.Switches(snap) {
		if sw.Key == key {
			known = true
			break
		}
	}
	if !known {
		writeNotFound(w, "unknown switch: "+key)
		return
	}

	var req switchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := platform.SetSwitch(r.Context(), coord, key, req.Enabled); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"enabled": req.Enabled,
	})
}

// handleDeviceEvents returns the locally persisted event history for a
// device, newest first.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.getCoordinator(w, r)
	if !ok {
		return
	}

	limit := eventlog.DefaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events := []coordinator.HistoryEvent{}
	if s.events != nil {
		var err error
		events, err = s.events.Query(r.Context(), coord.DeviceID(), limit)
		if err != nil {
			s.logger.Error("event log query failed", "device_id", coord.DeviceID(), "error", err)
			writeInternalError(w, "event log query failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": coord.DeviceID(),
		"events":    events,
		"count":     len(events),
	})
}
