package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix of every environment override.
const envPrefix = "DEVSERVER_"

// Config is config.yaml. A few fields can be overridden with DEVSERVER_*
// environment variables (see applyEnvOverrides).
type Config struct {
	Device       DeviceConfig       `yaml:"device"`
	Control      ControlConfig      `yaml:"control"`
	Notification NotificationConfig `yaml:"notification"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Broadcast    BroadcastConfig    `yaml:"broadcast"`
	Database     DatabaseConfig     `yaml:"database"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// DeviceConfig identifies the device and where its description lives.
type DeviceConfig struct {
	// TopicRoot prefixes every channel of the device, e.g. "realsense/D435/1234".
	TopicRoot string `yaml:"topic_root" validate:"required"`

	// Name, Serial and ProductLine are announced by broadcasters.
	Name        string `yaml:"name"`
	Serial      string `yaml:"serial"`
	ProductLine string `yaml:"product_line"`

	// DescriptionFile is the YAML file listing streams, options and extrinsics.
	DescriptionFile string `yaml:"description_file" validate:"required"`

	// Settings are passed to the transport participant. The device.control,
	// device.notification and device.metadata keys override channel QoS.
	Settings map[string]any `yaml:"settings"`
}

// ControlConfig sizes the control dispatcher.
type ControlConfig struct {
	Workers     int `yaml:"workers" validate:"min=1"`
	QueueSize   int `yaml:"queue_size" validate:"min=1"`
	StopTimeout int `yaml:"stop_timeout" validate:"min=0"` // seconds
}

// NotificationConfig selects the wire encoding of outbound frames.
type NotificationConfig struct {
	Format string `yaml:"format" validate:"oneof=json cbor"`
}

// DatabaseConfig contains SQLite database settings for the option journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// JournalRetention is how many days of option history to keep; 0 keeps everything.
	JournalRetention int `yaml:"journal_retention" validate:"min=0"`
}

// MQTTConfig is the broker connection every device channel runs over.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`
	// Namespace prefixes server-wide topics (status, device-info).
	Namespace string              `yaml:"namespace" validate:"required"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id" validate:"required"`
}

// MQTTAuthConfig holds broker credentials; empty means anonymous.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// BroadcastConfig selects how the device announces itself.
type BroadcastConfig struct {
	MQTT MQTTBroadcastConfig `yaml:"mqtt"`
	MDNS MDNSConfig          `yaml:"mdns"`
}

// MQTTBroadcastConfig enables the retained device-info announcement.
type MQTTBroadcastConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MDNSConfig contains DNS-SD announcement settings.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Service   string `yaml:"service"`
	Port      int    `yaml:"port"`
	Interface string `yaml:"interface"`
	TTL       int    `yaml:"ttl"` // seconds, 0 = library default
}

// InfluxDBConfig enables option and request telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects level, format and destination of the log.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output"`
}

// validate is shared by every Validate call; validator.Validate caches struct metadata.
var validate = validator.New()

// Load reads the YAML file at path over the defaults, applies
// DEVSERVER_SECTION_KEY overrides (e.g. DEVSERVER_MQTT_HOST) and validates
// the result.
//
// Returns:
//   - *Config: Validated configuration
//   - error: If the file is unreadable or invalid YAML, an override does not
//     parse, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig holds the values config.yaml may omit.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			DescriptionFile: "./configs/device.yaml",
		},
		Control: ControlConfig{
			Workers:     1,
			QueueSize:   10,
			StopTimeout: 5,
		},
		Notification: NotificationConfig{
			Format: "json",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "devserver",
			},
			QoS:       1,
			Namespace: "devserver",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Broadcast: BroadcastConfig{
			MQTT: MQTTBroadcastConfig{Enabled: true},
			MDNS: MDNSConfig{
				Service: "_devserver._tcp",
				Port:    1883,
			},
		},
		Database: DatabaseConfig{
			Path:             "./data/devserver.db",
			WALMode:          true,
			BusyTimeout:      5,
			JournalRetention: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
			Path:   "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides lets deployments set per-host values (topic root,
// serial, broker address, secrets) without editing config.yaml.
func applyEnvOverrides(cfg *Config) error {
	// Device
	if v := os.Getenv(envPrefix + "DEVICE_TOPIC_ROOT"); v != "" {
		cfg.Device.TopicRoot = v
	}
	if v := os.Getenv(envPrefix + "DEVICE_SERIAL"); v != "" {
		cfg.Device.Serial = v
	}
	if v := os.Getenv(envPrefix + "DEVICE_DESCRIPTION_FILE"); v != "" {
		cfg.Device.DescriptionFile = v
	}

	// Control
	if v := os.Getenv(envPrefix + "CONTROL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCONTROL_WORKERS: %w", envPrefix, err)
		}
		cfg.Control.Workers = n
	}

	// Database
	if v := os.Getenv(envPrefix + "DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv(envPrefix + "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMQTT_PORT: %w", envPrefix, err)
		}
		cfg.MQTT.Broker.Port = n
	}
	if v := os.Getenv(envPrefix + "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate reports every invalid field at once. Struct tags carry the
// per-field rules; cross-field rules are checked here.
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("configuration errors: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s failed %q", fieldPath(fe.Namespace()), fe.Tag()))
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if strings.HasSuffix(c.Device.TopicRoot, "/") {
		errs = append(errs, "device.topic_root must not end with '/'")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}

	if c.Broadcast.MDNS.Enabled && (c.Broadcast.MDNS.Port < 1 || c.Broadcast.MDNS.Port > 65535) {
		errs = append(errs, "broadcast.mdns.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// fieldPath turns a validator namespace ("Config.Device.TopicRoot") into a
// readable path ("device.topicroot").
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// GetStopTimeout returns the control dispatcher stop timeout as a Duration.
func (c *Config) GetStopTimeout() time.Duration {
	return time.Duration(c.Control.StopTimeout) * time.Second
}

// GetJournalRetention returns the option history retention as a Duration.
// Zero means history is never pruned.
func (c *Config) GetJournalRetention() time.Duration {
	return time.Duration(c.Database.JournalRetention) * 24 * time.Hour
}

// GetMDNSTTL returns the mDNS record TTL as a Duration.
func (c *Config) GetMDNSTTL() time.Duration {
	return time.Duration(c.Broadcast.MDNS.TTL) * time.Second
}
