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
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

// validConfig returns the defaults plus the fields without a default.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Device.TopicRoot = "realsense/D435/1234"
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
device:
  topic_root: "realsense/D435/1234"
  name: "Depth Camera"
  description_file: "/etc/devserver/device.yaml"
  settings:
    device:
      control:
        history-depth: 4
control:
  workers: 2
  queue_size: 32
notification:
  format: cbor
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
broadcast:
  mdns:
    enabled: true
    interface: ""
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.TopicRoot != "realsense/D435/1234" {
		t.Errorf("Device.TopicRoot = %q, want %q", cfg.Device.TopicRoot, "realsense/D435/1234")
	}
	if cfg.Control.Workers != 2 || cfg.Control.QueueSize != 32 {
		t.Errorf("Control = %+v, want workers 2 queue 32", cfg.Control)
	}
	if cfg.Notification.Format != "cbor" {
		t.Errorf("Notification.Format = %q, want cbor", cfg.Notification.Format)
	}
	if cfg.MQTT.Broker.ClientID != "test-client" {
		t.Errorf("MQTT.Broker.ClientID = %q, want %q", cfg.MQTT.Broker.ClientID, "test-client")
	}
	if cfg.MQTT.Namespace != "devserver" {
		t.Errorf("MQTT.Namespace default = %q, want devserver", cfg.MQTT.Namespace)
	}
	if !cfg.Broadcast.MDNS.Enabled || cfg.Broadcast.MDNS.Service != "_devserver._tcp" {
		t.Errorf("Broadcast.MDNS = %+v", cfg.Broadcast.MDNS)
	}

	device, ok := cfg.Device.Settings["device"].(map[string]any)
	if !ok {
		t.Fatalf("Device.Settings[device] = %T, want map", cfg.Device.Settings["device"])
	}
	if _, ok := device["control"]; !ok {
		t.Error("Device.Settings missing device.control")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
device:
  topic_root: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty device.topic_root, got nil")
	}
	if !strings.Contains(err.Error(), "device.topicroot") {
		t.Errorf("error %q does not name the failing field", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing topic root", mutate: func(c *Config) { c.Device.TopicRoot = "" }, wantErr: true},
		{name: "trailing slash in topic root", mutate: func(c *Config) { c.Device.TopicRoot = "a/b/" }, wantErr: true},
		{name: "missing description file", mutate: func(c *Config) { c.Device.DescriptionFile = "" }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Control.Workers = 0 }, wantErr: true},
		{name: "zero queue", mutate: func(c *Config) { c.Control.QueueSize = 0 }, wantErr: true},
		{name: "unknown format", mutate: func(c *Config) { c.Notification.Format = "xml" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.MQTT.Broker.Port = 70000 }, wantErr: true},
		{name: "missing namespace", mutate: func(c *Config) { c.MQTT.Namespace = "" }, wantErr: true},
		{name: "unknown log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{
			name: "journal without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: true,
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name: "metrics without listen address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ""
			},
			wantErr: true,
		},
		{
			name: "mdns bad port",
			mutate: func(c *Config) {
				c.Broadcast.MDNS.Enabled = true
				c.Broadcast.MDNS.Port = 0
			},
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

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		Control:   ControlConfig{StopTimeout: 7},
		Broadcast: BroadcastConfig{MDNS: MDNSConfig{TTL: 120}},
	}

	if got := cfg.GetStopTimeout(); got != 7*time.Second {
		t.Errorf("GetStopTimeout() = %v, want 7s", got)
	}
	if got := cfg.GetMDNSTTL(); got != 2*time.Minute {
		t.Errorf("GetMDNSTTL() = %v, want 2m", got)
	}
}

func TestConfig_GetJournalRetention(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{JournalRetention: 7}}
	if got := cfg.GetJournalRetention(); got != 7*24*time.Hour {
		t.Errorf("GetJournalRetention() = %v, want 168h", got)
	}

	cfg.Database.JournalRetention = 0
	if got := cfg.GetJournalRetention(); got != 0 {
		t.Errorf("GetJournalRetention() = %v, want 0", got)
	}

	if got := defaultConfig().Database.JournalRetention; got != 30 {
		t.Errorf("default JournalRetention = %d, want 30", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("DEVSERVER_DEVICE_TOPIC_ROOT", "env/root")
	t.Setenv("DEVSERVER_DEVICE_SERIAL", "9999")
	t.Setenv("DEVSERVER_CONTROL_WORKERS", "4")
	t.Setenv("DEVSERVER_DATABASE_PATH", "/custom/path.db")
	t.Setenv("DEVSERVER_MQTT_HOST", "mqtt.example.com")
	t.Setenv("DEVSERVER_MQTT_PORT", "8883")
	t.Setenv("DEVSERVER_MQTT_USERNAME", "testuser")
	t.Setenv("DEVSERVER_MQTT_PASSWORD", "testpass")
	t.Setenv("DEVSERVER_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("DEVSERVER_LOG_LEVEL", "debug")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Device.TopicRoot", cfg.Device.TopicRoot, "env/root"},
		{"Device.Serial", cfg.Device.Serial, "9999"},
		{"Control.Workers", cfg.Control.Workers, 4},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_InvalidNumber(t *testing.T) {
	t.Setenv("DEVSERVER_MQTT_PORT", "not-a-port")

	if err := applyEnvOverrides(defaultConfig()); err == nil {
		t.Error("applyEnvOverrides() expected error for non-numeric port, got nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Control.Workers != 1 {
		t.Errorf("defaultConfig Control.Workers = %d, want 1", cfg.Control.Workers)
	}
	if cfg.Control.QueueSize != 10 {
		t.Errorf("defaultConfig Control.QueueSize = %d, want 10", cfg.Control.QueueSize)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Notification.Format != "json" {
		t.Errorf("defaultConfig Notification.Format = %q, want json", cfg.Notification.Format)
	}
}
