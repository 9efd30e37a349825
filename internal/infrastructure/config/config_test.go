package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
osm:
  host: "http://osm.local:8000"
  timeout: 5
poll:
  interval: 15
homeassistant:
  discovery_prefix: "ha"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.OSM.Host != "http://osm.local:8000" {
		t.Errorf("OSM.Host = %q, want %q", cfg.OSM.Host, "http://osm.local:8000")
	}
	if cfg.GetOSMTimeout() != 5*time.Second {
		t.Errorf("GetOSMTimeout() = %v, want 5s", cfg.GetOSMTimeout())
	}
	if cfg.GetPollInterval() != 15*time.Second {
		t.Errorf("GetPollInterval() = %v, want 15s", cfg.GetPollInterval())
	}
	if cfg.HomeAssistant.DiscoveryPrefix != "ha" {
		t.Errorf("DiscoveryPrefix = %q, want %q", cfg.HomeAssistant.DiscoveryPrefix, "ha")
	}
	// Unset keys keep their defaults.
	if cfg.HomeAssistant.NodeID != "osm" {
		t.Errorf("NodeID = %q, want default %q", cfg.HomeAssistant.NodeID, "osm")
	}
	if cfg.GetReadyInterval() != time.Second {
		t.Errorf("GetReadyInterval() = %v, want 1s", cfg.GetReadyInterval())
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingHost(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for empty osm.host, got nil")
	}
	if !strings.Contains(err.Error(), "osm.host") {
		t.Errorf("error = %v, want mention of osm.host", err)
	}
}

func TestLoad_EnvSuppliesHost(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
`)
	t.Setenv("OSMBRIDGE_OSM_HOST", "10.0.0.5:8000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OSM.Host != "10.0.0.5:8000" {
		t.Errorf("OSM.Host = %q, want env value", cfg.OSM.Host)
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.OSM.Host = "http://osm.local"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing host", mutate: func(c *Config) { c.OSM.Host = "" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.OSM.Timeout = 0 }, wantErr: true},
		{name: "zero poll interval", mutate: func(c *Config) { c.Poll.Interval = 0 }, wantErr: true},
		{name: "zero ready interval", mutate: func(c *Config) { c.Poll.ReadyInterval = 0 }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.Poll.MaxConcurrent = 0 }, wantErr: true},
		{name: "missing node id", mutate: func(c *Config) { c.HomeAssistant.NodeID = "" }, wantErr: true},
		{name: "wildcard prefix", mutate: func(c *Config) { c.HomeAssistant.TopicPrefix = "osm/#" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "negative retention", mutate: func(c *Config) { c.Database.HistoryRetention = -1 }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{
			name: "port ignored when api disabled",
			mutate: func(c *Config) {
				c.API.Enabled = false
				c.API.Port = 0
			},
			wantErr: false,
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "osm" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.OSM.Host = ""
	cfg.MQTT.QoS = 5

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"osm.host", "mqtt.qos"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNormaliseHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"osm.local:8000", "http://osm.local:8000"},
		{"http://osm.local/", "http://osm.local"},
		{"https://osm.example.com", "https://osm.example.com"},
		{"  10.0.0.2  ", "http://10.0.0.2"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormaliseHost(tt.in); got != tt.want {
			t.Errorf("NormaliseHost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{HistoryRetention: 2},
		Health:   HealthConfig{Interval: 10},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetHistoryRetention(); got != 48*time.Hour {
		t.Errorf("GetHistoryRetention() = %v, want 48h", got)
	}
	if got := cfg.GetHealthInterval(); got != 10*time.Second {
		t.Errorf("GetHealthInterval() = %v, want 10s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("OSMBRIDGE_OSM_HOST", "http://osm.example.com")
	t.Setenv("OSMBRIDGE_POLL_INTERVAL", "5")
	t.Setenv("OSMBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("OSMBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("OSMBRIDGE_MQTT_PORT", "8883")
	t.Setenv("OSMBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("OSMBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("OSMBRIDGE_API_HOST", "192.168.1.1")
	t.Setenv("OSMBRIDGE_API_PORT", "not-a-number")
	t.Setenv("OSMBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("OSMBRIDGE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.OSM.Host != "http://osm.example.com" {
		t.Errorf("OSM.Host = %q", cfg.OSM.Host)
	}
	if cfg.Poll.Interval != 5 {
		t.Errorf("Poll.Interval = %d, want 5", cfg.Poll.Interval)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want default 8090 for unparseable override", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.HomeAssistant.DiscoveryPrefix != "homeassistant" {
		t.Errorf("defaultConfig DiscoveryPrefix = %q", cfg.HomeAssistant.DiscoveryPrefix)
	}
	if cfg.Poll.ReadyInterval != 1000 {
		t.Errorf("defaultConfig Poll.ReadyInterval = %d, want 1000", cfg.Poll.ReadyInterval)
	}
	if cfg.InfluxDB.Enabled {
		t.Error("defaultConfig should leave InfluxDB disabled")
	}
}
