// Package mqtt provides the MQTT client for the realtime push channel.
//
// The vendor's cloud pushes device changes through a relay that mirrors
// them onto an MQTT broker as per-device shadow topics. This package
// manages:
//   - Connection to the broker with auto-reconnect
//   - Shadow topic subscriptions with wildcard support
//   - Publishing the bridge's own snapshot and status topics
//   - Last Will and Testament (LWT) for offline detection
//
// The push channel is optional. A bridge without a broker configured
// falls back to polling alone; it just reacts more slowly.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Shadow payloads never contain access codes, only occupancy hints
//   - Message payloads are not encrypted beyond TLS transport
package mqtt
