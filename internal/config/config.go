package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/nodelink/internal/ble"
	"github.com/chaz8081/nodelink/internal/ble/protocol"
	"github.com/chaz8081/nodelink/internal/repository"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string      `yaml:"log_level"`
	BLE      BLEConfig   `yaml:"ble"`
	Cache    CacheConfig `yaml:"cache"`
}

// BLEConfig holds the GATT layout and connection timing.
type BLEConfig struct {
	ServiceUUID     string              `yaml:"service_uuid"`
	Characteristics CharacteristicsUUID `yaml:"characteristics"`
	ScanTimeout     time.Duration       `yaml:"scan_timeout"`
	ConnectTimeout  time.Duration       `yaml:"connect_timeout"`
	ReconnectDelay  time.Duration       `yaml:"reconnect_delay"`
	DeviceID        string              `yaml:"device_id"` // remembered node, used when no scan is run
}

// CharacteristicsUUID names the node's characteristics.
type CharacteristicsUUID struct {
	Device  string `yaml:"device"`
	Sensors string `yaml:"sensors"`
	WiFi    string `yaml:"wifi"`
	System  string `yaml:"system"`
}

// CacheConfig holds repository cache settings.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nodelink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config matching the stock firmware.
func Default() *Config {
	chars := protocol.DefaultCharacteristics()
	return &Config{
		LogLevel: "info",
		BLE: BLEConfig{
			ServiceUUID: chars.Service,
			Characteristics: CharacteristicsUUID{
				Device:  chars.Device,
				Sensors: chars.Sensors,
				WiFi:    chars.WiFi,
				System:  chars.System,
			},
			ScanTimeout:    5 * time.Second,
			ConnectTimeout: ble.DefaultManagerOptions().ConnectTimeout,
		},
		Cache: CacheConfig{TTL: repository.DefaultTTL},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.BLE.DeviceID = strings.TrimSpace(cfg.BLE.DeviceID)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	uuids := []struct {
		field, value string
	}{
		{"ble.service_uuid", c.BLE.ServiceUUID},
		{"ble.characteristics.device", c.BLE.Characteristics.Device},
		{"ble.characteristics.sensors", c.BLE.Characteristics.Sensors},
		{"ble.characteristics.wifi", c.BLE.Characteristics.WiFi},
		{"ble.characteristics.system", c.BLE.Characteristics.System},
	}
	for _, u := range uuids {
		if u.value == "" {
			return fmt.Errorf("%s must not be empty", u.field)
		}
		if _, err := bluetooth.ParseUUID(u.value); err != nil {
			return fmt.Errorf("%s: invalid UUID %q: %w", u.field, u.value, err)
		}
	}

	if c.BLE.DeviceID != "" {
		if _, err := ble.ParseDeviceID(c.BLE.DeviceID); err != nil {
			return fmt.Errorf("ble.device_id: %w", err)
		}
	}

	if c.BLE.ScanTimeout <= 0 {
		return errors.New("ble.scan_timeout must be > 0")
	}
	if c.BLE.ConnectTimeout <= 0 {
		return errors.New("ble.connect_timeout must be > 0")
	}
	if c.BLE.ReconnectDelay < 0 {
		return errors.New("ble.reconnect_delay must not be negative")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// ManagerOptions returns the connection manager settings.
func (c *Config) ManagerOptions() ble.ManagerOptions {
	return ble.ManagerOptions{
		ConnectTimeout: c.BLE.ConnectTimeout,
		ReconnectDelay: c.BLE.ReconnectDelay,
	}
}

// Characteristics returns the configured GATT layout.
func (c *Config) Characteristics() protocol.Characteristics {
	return protocol.Characteristics{
		Service: c.BLE.ServiceUUID,
		Device:  c.BLE.Characteristics.Device,
		Sensors: c.BLE.Characteristics.Sensors,
		WiFi:    c.BLE.Characteristics.WiFi,
		System:  c.BLE.Characteristics.System,
	}
}

// ParseLogLevel maps a log_level value to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", level)
}

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config file already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	header := "# nodelink configuration\n# Durations use Go syntax, e.g. 5s or 1m30s.\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
