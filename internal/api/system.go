package api

import (
	"net/http"
	"runtime"
	"time"
)

// diagnosticsResponse is the /diagnostics payload. Device entries reuse
// the redacted snapshot view; no PIN can appear here.
type diagnosticsResponse struct {
	Version       string       `json:"version"`
	GoVersion     string       `json:"go_version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	HomeID        string       `json:"home_id"`
	DeviceCount   int          `json:"device_count"`
	WSClients     int          `json:"ws_clients"`
	Devices       []deviceView `json:"devices"`
}

// handleDiagnostics returns a support dump of the bridge's state.
func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	coords := s.manager.Coordinators()
	devices := make([]deviceView, 0, len(coords))
	for _, coord := range coords {
		if snap, ok := coord.Snapshot(); ok {
			devices = append(devices, s.snapshotView(snap))
		}
	}

	writeJSON(w, http.StatusOK, diagnosticsResponse{
		Version:       s.version,
		GoVersion:     runtime.Version(),
		UptimeSeconds: int64(time.Since(s.started) / time.Second),
		HomeID:        s.manager.HomeID(),
		DeviceCount:   len(coords),
		WSClients:     s.hub.ClientCount(),
		Devices:       devices,
	})
}
