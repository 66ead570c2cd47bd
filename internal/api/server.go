// Package api provides the HTTP REST API and WebSocket server for the
// Kwikset bridge.
//
// It exposes lock state, commands, access-code management, and the local
// event log to home-automation frontends, and pushes snapshot updates and
// lock events to WebSocket subscribers in real time.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Access codes are secrets. Every response that includes code entries
// goes through the redacted view in views.go; a PIN never leaves the
// bridge over this API.
//
// The API carries no authentication of its own. The bridge is designed
// to sit on a trusted home LAN behind the automation controller; bind it
// to localhost or a management VLAN.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
	"github.com/nerrad567/kwikset-bridge/internal/eventlog"
	"github.com/nerrad567/kwikset-bridge/internal/home"
	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/config"
	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/kwikset-bridge/internal/platform"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Manager *home.Manager

	// Events serves the /events endpoints. Optional; without it history
	// queries return empty results.
	Events *eventlog.Log

	Version string
}

// Server is the bridge's HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub,
// and observes the home manager so that device snapshots and lock events
// reach WebSocket subscribers as they happen.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	manager *home.Manager
	events  *eventlog.Log
	version string

	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc
	started time.Time

	devMu   sync.Mutex
	handles map[string]*deviceHandle
}

// deviceHandle bundles the per-device adapters the server maintains for
// each managed lock: the optimistic lock facade, the event stream, and
// the snapshot subscription feeding the WebSocket hub.
type deviceHandle struct {
	lock   *platform.Lock
	stream *platform.EventStream
	unsub  func()
}

func (h *deviceHandle) close() {
	h.unsub()
	h.stream.Close()
	h.lock.Close()
}

// New creates an API server with the given dependencies. The server is
// not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("home manager is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		manager: deps.Manager,
		events:  deps.Events,
		version: deps.Version,
		handles: make(map[string]*deviceHandle),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It creates the WebSocket hub, registers the server as a device
// lifecycle observer on the home manager, builds the router, and
// launches the HTTP listener in a background goroutine. Stop with Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.started = time.Now()

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	s.watchDevices()

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
	return nil
}

// watchDevices registers the server as an observer and attaches to every
// device the manager already runs. The observer handles devices that
// join later; watch guards against the overlap between the two.
func (s *Server) watchDevices() {
	s.manager.AddObserver(s)
	for _, coord := range s.manager.Coordinators() {
		s.watch(coord)
	}
}

// DeviceAdded implements home.Observer.
func (s *Server) DeviceAdded(coord *coordinator.Coordinator) {
	s.watch(coord)
}

// DeviceRemoved implements home.Observer.
func (s *Server) DeviceRemoved(deviceID string) {
	s.devMu.Lock()
	h := s.handles[deviceID]
	delete(s.handles, deviceID)
	s.devMu.Unlock()

	if h != nil {
		h.close()
	}
	s.hub.Broadcast(ChannelDeviceRemoved, map[string]string{"device_id": deviceID})
}

// watch attaches the per-device adapters and WebSocket feeds for one
// coordinator. Subscription callbacks must not block; Hub.Broadcast
// drops rather than waits on slow clients.
func (s *Server) watch(coord *coordinator.Coordinator) {
	h := &deviceHandle{
		lock: platform.NewLock(coord, 0),
		stream: platform.NewEventStream(coord, func(ev platform.StreamEvent) {
			s.hub.Broadcast(ChannelLockEvent, ev)
		}),
	}
	h.unsub = coord.Subscribe(func(snap coordinator.Snapshot) {
		s.hub.Broadcast(ChannelDeviceState, s.snapshotView(snap))
	})

	s.devMu.Lock()
	if _, exists := s.handles[coord.DeviceID()]; exists {
		s.devMu.Unlock()
		h.close()
		return
	}
	s.handles[coord.DeviceID()] = h
	s.devMu.Unlock()
}

// handle returns the device handle, or nil if the device is unknown.
func (s *Server) handle(deviceID string) *deviceHandle {
	s.devMu.Lock()
	defer s.devMu.Unlock()
	return s.handles[deviceID]
}

// Close gracefully shuts down the API server. It waits up to 10 seconds
// for in-flight requests to complete, then closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	s.devMu.Lock()
	handles := make([]*deviceHandle, 0, len(s.handles))
	for id, h := range s.handles {
		handles = append(handles, h)
		delete(s.handles, id)
	}
	s.devMu.Unlock()
	for _, h := range handles {
		h.close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
