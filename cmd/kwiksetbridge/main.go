// Kwikset Bridge - local integration for Kwikset cloud door locks.
//
// The bridge polls the Kwikset cloud for lock state, merges realtime
// push updates, reconciles access codes against a local ledger, and
// exposes everything to home-automation systems over a REST/WebSocket
// API and optional MQTT republishing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/nerrad567/kwikset-bridge/migrations"

	"github.com/nerrad567/kwikset-bridge/internal/api"
	"github.com/nerrad567/kwikset-bridge/internal/cloud"
	"github.com/nerrad567/kwikset-bridge/internal/coordinator"
	"github.com/nerrad567/kwikset-bridge/internal/eventlog"
	"github.com/nerrad567/kwikset-bridge/internal/home"
	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/config"
	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/database"
	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/kwikset-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/kwikset-bridge/internal/ledger"
	"github.com/nerrad567/kwikset-bridge/internal/platform"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Event log retention. Lock events older than this are pruned daily.
const (
	eventRetention     = 90 * 24 * time.Hour
	eventPruneInterval = 24 * time.Hour
)

// reloginTimeout bounds the forced re-login triggered by a fatal
// authentication error from a coordinator.
const reloginTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Kwikset Bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Cloud credentials and API client
	requestTimeout := time.Duration(cfg.Cloud.RequestTimeout) * time.Second
	tokens := cloud.NewTokenManager(cloud.TokenManagerConfig{
		BaseURL:      cfg.Cloud.BaseURL,
		Email:        cfg.Cloud.Email,
		Password:     cfg.Cloud.Password,
		RefreshToken: cfg.Cloud.RefreshToken,
		TokenFile:    cfg.Cloud.TokenFile,
		Timeout:      requestTimeout,
	})
	tokens.SetLogger(log)

	client := cloud.NewHTTPClient(cfg.Cloud.BaseURL, tokens, requestTimeout)
	client.SetLogger(log)

	// Access-code ledger
	codes, err := ledger.Open(ctx, ledger.NewSQLiteStore(db), cfg.Cloud.HomeID)
	if err != nil {
		return fmt.Errorf("opening access-code ledger: %w", err)
	}
	codes.SetLogger(log)

	// Local lock event log, pruned daily
	events := eventlog.New(db)
	go pruneLoop(ctx, events, log)

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// A coordinator reporting an auth failure means the token set is
	// dead; force a password login in the background so the next poll
	// can succeed.
	onAuthError := func(authErr error) {
		log.Warn("cloud authentication failed, forcing re-login", "error", authErr)
		go func() {
			loginCtx, loginCancel := context.WithTimeout(context.Background(), reloginTimeout)
			defer loginCancel()
			if loginErr := tokens.ForceLogin(loginCtx); loginErr != nil {
				log.Error("forced re-login failed", "error", loginErr)
			} else {
				log.Info("forced re-login succeeded")
			}
		}()
	}

	// Home manager: one coordinator per lock
	manager := home.New(home.Config{
		HomeID:            cfg.Cloud.HomeID,
		Client:            client,
		Ledger:            codes,
		EventSink:         events,
		RefreshInterval:   time.Duration(cfg.Cloud.RefreshInterval) * time.Second,
		DiscoveryInterval: time.Duration(cfg.Cloud.DiscoveryInterval) * time.Second,
		Logger:            log,
		OnAuthError:       onAuthError,
	})
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting home manager: %w", err)
	}
	log.Info("home manager started",
		"home_id", cfg.Cloud.HomeID,
		"devices", len(manager.Coordinators()),
	)

	// MQTT push channel and republishing (optional)
	var mqttClient *mqtt.Client
	if cfg.Push.Enabled {
		mqttClient, err = mqtt.Connect(cfg.Push)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		if err := subscribeShadows(mqttClient, manager, cfg.Push, cfg.Cloud.HomeID, log); err != nil {
			return fmt.Errorf("subscribing to device shadows: %w", err)
		}
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.Push.Broker.Host, cfg.Push.Broker.Port),
		)
	} else {
		log.Info("MQTT push channel disabled")
	}

	// Snapshot fan-out to telemetry and MQTT republishing
	relay := newSnapshotRelay(mqttClient, influxClient, log)
	defer relay.close()
	manager.AddObserver(relay)
	for _, coord := range manager.Coordinators() {
		relay.DeviceAdded(coord)
	}

	// HTTP API and WebSocket server
	apiServer, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Manager: manager,
		Events:  events,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses KWIKSET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("KWIKSET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// MQTT and InfluxDB are optional and skipped when nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// pruneLoop removes aged lock events once a day.
func pruneLoop(ctx context.Context, events *eventlog.Log, log *logging.Logger) {
	ticker := time.NewTicker(eventPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := events.Prune(ctx, time.Now().Add(-eventRetention))
			if err != nil {
				log.Error("event log prune failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("pruned aged lock events", "removed", n)
			}
		}
	}
}

// subscribeShadows routes the cloud relay's shadow publications into the
// home manager as realtime push events.
func subscribeShadows(mqttClient *mqtt.Client, manager *home.Manager, pushCfg config.MQTTConfig, homeID string, log *logging.Logger) error {
	topics := mqtt.Topics{}
	return mqttClient.Subscribe(topics.HomeShadows(homeID), byte(pushCfg.QoS), func(topic string, payload []byte) error {
		deviceID, ok := topics.ShadowDeviceID(topic)
		if !ok {
			log.Debug("ignoring non-shadow topic", "topic", topic)
			return nil
		}
		ev, err := cloud.ParseEvent(deviceID, payload)
		if err != nil {
			log.Warn("malformed shadow payload", "device_id", deviceID, "error", err)
			return nil
		}
		manager.HandleRealtimeEvent(ev)
		return nil
	})
}

// snapshotRelay fans device updates out to the optional side channels:
// door state and battery telemetry to InfluxDB, and redacted snapshots
// plus lock events to MQTT for downstream consumers.
type snapshotRelay struct {
	mqtt   *mqtt.Client
	influx *influxdb.Client
	log    *logging.Logger

	mu      sync.Mutex
	streams map[string]*platform.EventStream
	unsubs  map[string]func()
}

func newSnapshotRelay(mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) *snapshotRelay {
	return &snapshotRelay{
		mqtt:    mqttClient,
		influx:  influxClient,
		log:     log,
		streams: make(map[string]*platform.EventStream),
		unsubs:  make(map[string]func()),
	}
}

// DeviceAdded implements home.Observer.
func (r *snapshotRelay) DeviceAdded(coord *coordinator.Coordinator) {
	id := coord.DeviceID()

	r.mu.Lock()
	if _, exists := r.unsubs[id]; exists {
		r.mu.Unlock()
		return
	}
	r.unsubs[id] = coord.Subscribe(r.onSnapshot)
	if r.mqtt != nil {
		r.streams[id] = platform.NewEventStream(coord, r.onEvent)
	}
	r.mu.Unlock()

	// Publish the state we already have; later updates arrive via the
	// subscription.
	if snap, ok := coord.Snapshot(); ok {
		r.onSnapshot(snap)
	}
}

// DeviceRemoved implements home.Observer.
func (r *snapshotRelay) DeviceRemoved(deviceID string) {
	r.mu.Lock()
	unsub := r.unsubs[deviceID]
	stream := r.streams[deviceID]
	delete(r.unsubs, deviceID)
	delete(r.streams, deviceID)
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if stream != nil {
		stream.Close()
	}
}

func (r *snapshotRelay) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, unsub := range r.unsubs {
		unsub()
		delete(r.unsubs, id)
	}
	for id, stream := range r.streams {
		stream.Close()
		delete(r.streams, id)
	}
}

func (r *snapshotRelay) onSnapshot(snap coordinator.Snapshot) {
	if r.influx != nil {
		r.influx.WriteDoorState(snap.DeviceID, string(snap.DoorStatus))
		r.influx.WriteBattery(snap.DeviceID, snap.BatteryPercent)
		r.influx.WriteRefreshResult(snap.DeviceID, snap.LastUpdateSuccess)
	}

	if r.mqtt != nil {
		payload, err := json.Marshal(snapshotPayload(snap))
		if err != nil {
			r.log.Error("marshalling snapshot for MQTT", "device_id", snap.DeviceID, "error", err)
			return
		}
		topic := mqtt.Topics{}.DeviceSnapshot(snap.DeviceID)
		if err := r.mqtt.PublishRetained(topic, payload); err != nil {
			r.log.Warn("snapshot publish failed", "device_id", snap.DeviceID, "error", err)
		}
	}
}

func (r *snapshotRelay) onEvent(ev platform.StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("marshalling lock event for MQTT", "device_id", ev.DeviceID, "error", err)
		return
	}
	topic := mqtt.Topics{}.DeviceEvent(ev.DeviceID)
	qos := byte(1)
	if err := r.mqtt.Publish(topic, payload, qos, false); err != nil {
		r.log.Warn("lock event publish failed", "device_id", ev.DeviceID, "error", err)
	}
}

// snapshotPayload is the MQTT form of a snapshot. Access codes stay out
// entirely; a retained broker topic is no place for secrets or even
// their slot layout.
func snapshotPayload(snap coordinator.Snapshot) map[string]any {
	tri := func(t coordinator.TriState) any {
		value, known := t.Bool()
		if !known {
			return nil
		}
		return value
	}
	return map[string]any{
		"device_id":             snap.DeviceID,
		"device_name":           snap.DeviceName,
		"door_status":           string(snap.DoorStatus),
		"battery_percent":       snap.BatteryPercent,
		"model":                 snap.Model,
		"firmware":              snap.Firmware,
		"led_enabled":           tri(snap.LEDEnabled),
		"audio_enabled":         tri(snap.AudioEnabled),
		"secure_screen_enabled": tri(snap.SecureScreenEnabled),
		"last_updated":          snap.LastUpdated.UTC().Format(time.RFC3339),
		"last_update_success":   snap.LastUpdateSuccess,
	}
}
