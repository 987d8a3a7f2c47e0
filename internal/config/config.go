package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// DeviceConfig selects and drives the thermometer.
type DeviceConfig struct {
	Name            string        `yaml:"name"`
	Address         string        `yaml:"address"` // pin a device, skip the scan
	Backend         string        `yaml:"backend"` // "tinygo" or "hci"
	ScanDuration    time.Duration `yaml:"scan_duration"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	Units           string        `yaml:"units"`            // "", "celsius" or "fahrenheit"
	BatteryInterval time.Duration `yaml:"battery_interval"` // 0 disables
}

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	Port        int           `yaml:"port"`
	ClientID    string        `yaml:"client_id"` // generated when empty
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         int           `yaml:"qos"`
	Retain      bool          `yaml:"retain"`
	KeepAlive   time.Duration `yaml:"keepalive"`
}

// ReconnectConfig bounds the wait between sessions.
type ReconnectConfig struct {
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// BrokerURL returns the paho broker URL, e.g. tcp://192.168.42.100:1883.
// A broker given with a scheme is used as is.
func (m MQTTConfig) BrokerURL() string {
	if strings.Contains(m.Broker, "://") {
		return m.Broker
	}
	return "tcp://" + net.JoinHostPort(m.Broker, strconv.Itoa(m.Port))
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ibbq-mqtt")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Device: DeviceConfig{
			Name:         "iBBQ",
			Backend:      defaultBackend(),
			ScanDuration: 10 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:      "192.168.42.100",
			Port:        1883,
			TopicPrefix: "bbq",
			KeepAlive:   60 * time.Second,
		},
		Reconnect: ReconnectConfig{
			MaxBackoff: 30 * time.Second,
		},
	}
}

// defaultBackend picks hci on Linux, where the tinygo (BlueZ) backend has
// no acknowledged writes.
func defaultBackend() string {
	if runtime.GOOS == "linux" {
		return "hci"
	}
	return "tinygo"
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Device.Units = strings.ToLower(strings.TrimSpace(cfg.Device.Units))

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Device.Name == "" && c.Device.Address == "" {
		return errors.New("device.name must not be empty unless device.address is set")
	}

	switch c.Device.Backend {
	case "tinygo", "hci":
	default:
		return fmt.Errorf("device.backend must be \"tinygo\" or \"hci\", got %q", c.Device.Backend)
	}

	if c.Device.ScanDuration <= 0 {
		return errors.New("device.scan_duration must be > 0")
	}
	if c.Device.WriteTimeout <= 0 {
		return errors.New("device.write_timeout must be > 0")
	}
	if c.Device.BatteryInterval < 0 {
		return errors.New("device.battery_interval must not be negative")
	}

	switch c.Device.Units {
	case "", "celsius", "fahrenheit":
	default:
		return fmt.Errorf("device.units must be \"celsius\" or \"fahrenheit\", got %q", c.Device.Units)
	}

	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must not be empty")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port must be between 1 and 65535, got %d", c.MQTT.Port)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1, or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.TopicPrefix == "" {
		return errors.New("mqtt.topic_prefix must not be empty")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		return fmt.Errorf("mqtt.topic_prefix must not contain wildcards, got %q", c.MQTT.TopicPrefix)
	}
	if c.MQTT.KeepAlive <= 0 {
		return errors.New("mqtt.keepalive must be > 0")
	}

	if c.Reconnect.MaxBackoff < time.Second {
		return errors.New("reconnect.max_backoff must be at least 1s")
	}

	return nil
}

const defaultHeader = `# ibbq-mqtt configuration
# Durations use Go syntax (10s, 1m30s).
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything when the file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}

	// Credentials may end up in here.
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config log level to slog. Unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
