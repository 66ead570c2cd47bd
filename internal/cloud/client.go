package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client is the call surface the rest of the bridge uses to talk to the
// cloud. Coordinators and the API layer depend on this interface; tests
// substitute mocks.
type Client interface {
	// GetUserInfo fetches the account user document. Lock and unlock
	// commands require it as part of their request body.
	GetUserInfo(ctx context.Context) (UserInfo, error)

	// ListDevices returns the locks registered to a home.
	ListDevices(ctx context.Context, homeID string) ([]Device, error)

	// GetDeviceInfo fetches the full raw field document for one lock.
	GetDeviceInfo(ctx context.Context, deviceID string) (DeviceFields, error)

	// GetDeviceHistory fetches the most recent top events for one lock,
	// newest first.
	GetDeviceHistory(ctx context.Context, deviceID string, top int) (*HistoryResponse, error)

	// LockDevice and UnlockDevice issue the motorised bolt commands.
	LockDevice(ctx context.Context, deviceID string, user UserInfo) error
	UnlockDevice(ctx context.Context, deviceID string, user UserInfo) error

	// Settings toggles.
	SetLEDEnabled(ctx context.Context, deviceID string, enabled bool) error
	SetAudioEnabled(ctx context.Context, deviceID string, enabled bool) error
	SetSecureScreenEnabled(ctx context.Context, deviceID string, enabled bool) error

	// Access-code management. Create returns a correlation token; the
	// assigned slot arrives later on the push channel.
	CreateAccessCode(ctx context.Context, deviceID string, req AccessCodeRequest) (*AccessCodeResult, error)
	EditAccessCode(ctx context.Context, deviceID string, req AccessCodeRequest) error
	EnableAccessCode(ctx context.Context, deviceID string, slot int) error
	DisableAccessCode(ctx context.Context, deviceID string, slot int) error
	DeleteAccessCode(ctx context.Context, deviceID string, slot int) error
}

// HTTPClient is the production Client backed by the cloud REST API.
// All error classification happens in doJSON; methods above it only shape
// requests and decode responses.
type HTTPClient struct {
	baseURL string
	tokens  *TokenManager
	http    *http.Client
	log     Logger
}

// NewHTTPClient builds the production client.
func NewHTTPClient(baseURL string, tokens *TokenManager, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
		log:     noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to leave unset.
func (c *HTTPClient) SetLogger(log Logger) {
	if log != nil {
		c.log = log
	}
}

func (c *HTTPClient) GetUserInfo(ctx context.Context) (UserInfo, error) {
	var out UserInfo
	if err := c.doJSON(ctx, http.MethodGet, "/users/me", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) ListDevices(ctx context.Context, homeID string) ([]Device, error) {
	var out struct {
		Data []Device `json:"data"`
	}
	path := "/homes/" + homeID + "/devices"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *HTTPClient) GetDeviceInfo(ctx context.Context, deviceID string) (DeviceFields, error) {
	var out struct {
		Data []DeviceFields `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/devices/"+deviceID, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: device %s returned empty document", ErrRequestFailed, deviceID)
	}
	return out.Data[0], nil
}

func (c *HTTPClient) GetDeviceHistory(ctx context.Context, deviceID string, top int) (*HistoryResponse, error) {
	var out HistoryResponse
	path := "/devices/" + deviceID + "/history?top=" + strconv.Itoa(top)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) LockDevice(ctx context.Context, deviceID string, user UserInfo) error {
	body := map[string]any{"action": "lock", "user": user}
	return c.doJSON(ctx, http.MethodPatch, "/devices/"+deviceID+"/status", body, nil)
}

func (c *HTTPClient) UnlockDevice(ctx context.Context, deviceID string, user UserInfo) error {
	body := map[string]any{"action": "unlock", "user": user}
	return c.doJSON(ctx, http.MethodPatch, "/devices/"+deviceID+"/status", body, nil)
}

func (c *HTTPClient) SetLEDEnabled(ctx context.Context, deviceID string, enabled bool) error {
	return c.patchSettings(ctx, deviceID, FieldLED, enabled)
}

func (c *HTTPClient) SetAudioEnabled(ctx context.Context, deviceID string, enabled bool) error {
	return c.patchSettings(ctx, deviceID, FieldAudio, enabled)
}

func (c *HTTPClient) SetSecureScreenEnabled(ctx context.Context, deviceID string, enabled bool) error {
	return c.patchSettings(ctx, deviceID, FieldSecureScreen, enabled)
}

func (c *HTTPClient) patchSettings(ctx context.Context, deviceID, field string, enabled bool) error {
	body := map[string]any{field: enabled}
	return c.doJSON(ctx, http.MethodPatch, "/devices/"+deviceID+"/settings", body, nil)
}

func (c *HTTPClient) CreateAccessCode(ctx context.Context, deviceID string, req AccessCodeRequest) (*AccessCodeResult, error) {
	if err := ValidateCode(req.Code); err != nil {
		return nil, err
	}
	if err := req.Schedule.Validate(); err != nil {
		return nil, err
	}
	var out AccessCodeResult
	body := accessCodeBody(req)
	if err := c.doJSON(ctx, http.MethodPost, "/devices/"+deviceID+"/keycodes", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) EditAccessCode(ctx context.Context, deviceID string, req AccessCodeRequest) error {
	if err := ValidateCode(req.Code); err != nil {
		return err
	}
	if err := req.Schedule.Validate(); err != nil {
		return err
	}
	body := accessCodeBody(req)
	path := "/devices/" + deviceID + "/keycodes/" + strconv.Itoa(req.Slot)
	return c.doJSON(ctx, http.MethodPatch, path, body, nil)
}

func (c *HTTPClient) EnableAccessCode(ctx context.Context, deviceID string, slot int) error {
	path := "/devices/" + deviceID + "/keycodes/" + strconv.Itoa(slot)
	return c.doJSON(ctx, http.MethodPatch, path, map[string]any{"enabled": true}, nil)
}

func (c *HTTPClient) DisableAccessCode(ctx context.Context, deviceID string, slot int) error {
	path := "/devices/" + deviceID + "/keycodes/" + strconv.Itoa(slot)
	return c.doJSON(ctx, http.MethodPatch, path, map[string]any{"enabled": false}, nil)
}

func (c *HTTPClient) DeleteAccessCode(ctx context.Context, deviceID string, slot int) error {
	path := "/devices/" + deviceID + "/keycodes/" + strconv.Itoa(slot)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// accessCodeBody builds the keycode request body shared by create and edit.
func accessCodeBody(req AccessCodeRequest) map[string]any {
	body := map[string]any{
		"code":          req.Code,
		"name":          req.Name,
		"schedule_type": string(req.Schedule.Type),
	}
	if req.Slot > 0 {
		body["slot"] = req.Slot
	}
	if req.Schedule.StartTime != "" {
		body["start_time"] = req.Schedule.StartTime
	}
	if req.Schedule.EndTime != "" {
		body["end_time"] = req.Schedule.EndTime
	}
	if req.Schedule.StartDate != nil {
		body["start_date"] = req.Schedule.StartDate.Format(time.RFC3339)
	}
	if req.Schedule.EndDate != nil {
		body["end_date"] = req.Schedule.EndDate.Format(time.RFC3339)
	}
	if req.Schedule.Days != 0 {
		body["days"] = int(req.Schedule.Days)
	}
	return body
}

// doJSON issues one authenticated request and classifies every failure
// into the package's sentinel errors. This is the single classification
// point; nothing above it inspects status codes or transport errors.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrRequestFailed, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens.IDToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrConnection, method, path, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnauthenticated, method, path, res.StatusCode)
	case res.StatusCode < 200 || res.StatusCode > 299:
		return fmt.Errorf("%w: %s %s returned %d", ErrRequestFailed, method, path, res.StatusCode)
	}

	if out == nil {
		// Drain so the transport can reuse the connection.
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %v", ErrRequestFailed, method, path, err)
	}
	return nil
}
