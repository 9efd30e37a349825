// Package config loads the bridge configuration from YAML.
//
// Values resolve in three layers: built-in defaults, the YAML file named by
// OSMBRIDGE_CONFIG, then OSMBRIDGE_* environment variables. osm.host has no
// default and must come from one of the last two. Validate reports every
// problem at once so a bad file can be fixed in one pass.
//
// Credentials (mqtt.auth.password, influxdb.token) are best supplied through
// the environment rather than the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
//	timeout := cfg.GetOSMTimeout()
package config
