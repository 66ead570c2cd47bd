package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/kwikset-bridge/internal/cloud"
)

// scheduleRequest is the wire form of an access-code schedule.
type scheduleRequest struct {
	Type      string   `json:"type"`
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Days      []string `json:"days,omitempty"`
}

// codeRequest is the body for access-code create and edit.
type codeRequest struct {
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Schedule scheduleRequest `json:"schedule"`
}

// parseSchedule converts the wire schedule to the cloud form. An empty
// type defaults to all_day.
func parseSchedule(req scheduleRequest) (cloud.AccessCodeSchedule, error) {
	sched := cloud.AccessCodeSchedule{
		Type:      cloud.ScheduleType(req.Type),
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	}
	if req.Type == "" {
		sched.Type = cloud.ScheduleAllDay
	}

	var err error
	if sched.StartDate, err = parseDate(req.StartDate); err != nil {
		return sched, err
	}
	if sched.EndDate, err = parseDate(req.EndDate); err != nil {
		return sched, err
	}

	for _, name := range req.Days {
		day, err := cloud.ParseDayOfWeek(strings.ToLower(name))
		if err != nil {
			return sched, err
		}
		sched.Days |= day
	}
	return sched, nil
}

// parseDate accepts RFC 3339 or plain YYYY-MM-DD.
func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// buildCodeRequest validates the body and assembles the cloud request.
// Validation happens here, before the coordinator, so malformed input
// fails fast instead of burning retry attempts against the cloud.
func buildCodeRequest(w http.ResponseWriter, r *http.Request, slot int) (cloud.AccessCodeRequest, bool) {
	var body codeRequest
	if !decodeBody(w, r, &body) {
		return cloud.AccessCodeRequest{}, false
	}

	if err := cloud.ValidateCode(body.Code); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return cloud.AccessCodeRequest{}, false
	}

	sched, err := parseSchedule(body.Schedule)
	if err != nil {
		writeBadRequest(w, "invalid schedule: "+err.Error())
		return cloud.AccessCodeRequest{}, false
	}
	if err := sched.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		return cloud.AccessCodeRequest{}, false
	}

	return cloud.AccessCodeRequest{
		Code:     body.Code,
		Name:     body.Name,
		Slot:     slot,
		Schedule: sched,
	}, true
}

// getSlot resolves the {slot} URL parameter.
func getSlot(w http.ResponseWriter, r *http.Request) (int, bool) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 0 {
		writeBadRequest(w, "slot must be a non-negative integer")
		return 0, false
	}
	return slot, true
}

// handleListCodes returns the redacted access-code set for a device.
func (s *Server) handleListCodes(w http.ResponseWriter, r *http.Request) {
	_, snap, ok := s.getSnapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": snap.DeviceID,
		"codes":     redactCodes(snap.AccessCodes),
	})
}

// handleCreateCode programs a new access code. Slot assignment is
// asynchronous: the cloud picks the slot and reports it later on the
// push channel, so the response is 202 with a pending entry.
func (s *Server) handleCreateCode(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.getCoordinator(w, r)
	if !ok {
		return
	}

	req, ok := buildCodeRequest(w, r, 0)
	if !ok {
		return
	}

	if err := coord.CreateAccessCode(r.Context(), req); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "pending",
		"name":   req.Name,
	})
}

// handleEditCode modifies an existing access code in place.
func (s *Server) handleEditCode(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.getCoordinator(w, r)
	if !ok {
		return
	}
	slot, ok := getSlot(w, r)
	if !ok {
		return
	}

	req, ok := buildCodeRequest(w, r, slot)
	if !ok {
		return
	}

	if err := coord.EditAccessCode(r.Context(), req); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slot": slot,
		"name": req.Name,
	})
}

// handleSetCodeEnabled enables or disables a code without removing it.
type codeEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetCodeEnabled(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.getCoordinator(w, r)
	if !ok {
		return
	}
	slot, ok := getSlot(w, r)
	if !ok {
		return
	}

	var req codeEnabledRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := coord.SetAccessCodeEnabled(r.Context(), slot, req.Enabled); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slot":    slot,
		"enabled": req.Enabled,
	})
}

// handleDeleteCode removes one access code.
func (s *Server) handleDeleteCode(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.getCoordinator(w, r)
	if !ok {
		return
	}
	slot, ok := getSlot(w, r)
	if !ok {
		return
	}

	if err := coord.DeleteAccessCode(r.Context(), slot); err != nil {
		writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteAllCodes always refuses. See
// coordinator.ErrDeleteAllNotSupported for why.
func (s *Server) handleDeleteAllCodes(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.getCoordinator(w, r)
	if !ok {
		return
	}
	writeCommandError(w, coord.DeleteAllAccessCodes(r.Context()))
}
