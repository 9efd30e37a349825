// Package logging configures the slog logger shared by every bridge component.
//
// Records carry service=osmbridge and the build version. The handler is JSON
// unless logging.format is "text". Components get a child logger tagged with
// their name:
//
//	log := logging.New(cfg.Logging, version)
//	bridgeLog := log.With("component", "homeassistant")
//	bridgeLog.Warn("failed to publish state", "error", err)
//
// Mirror fetch failures are logged at warn, per-request API logs at debug.
// The MQTT password and InfluxDB token never appear in log attributes.
package logging
