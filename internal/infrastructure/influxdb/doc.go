// Package influxdb records lock telemetry in InfluxDB v2.
//
// The bridge writes door state transitions, battery levels, and refresh
// outcomes as time-series points. Writes are non-blocking and batched;
// a telemetry outage never slows the refresh path. The integration is
// optional and disabled by default.
package influxdb
