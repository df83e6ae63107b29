package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Storage  StorageConfig  `yaml:"storage"`
	BLE      BLEConfig      `yaml:"ble"`
	WiFi     WiFiConfig     `yaml:"wifi"`
	Timing   TimingConfig   `yaml:"timing"`
	Display  DisplayConfig  `yaml:"display"`
	Hardware Hardware       `yaml:"hardware"`
	Commands CommandsConfig `yaml:"commands"`
}

// StorageConfig selects the key/value backend for credentials and the frame cache.
type StorageConfig struct {
	Driver    string `yaml:"driver"` // "sqlite" or "memory"
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// BLEConfig holds the GATT service identity.
type BLEConfig struct {
	Name        string        `yaml:"name"`
	ServiceUUID string        `yaml:"service_uuid"`
	SSIDUUID    string        `yaml:"ssid_uuid"`
	PassUUID    string        `yaml:"pass_uuid"`
	ServerUUID  string        `yaml:"server_uuid"`
	CommandUUID string        `yaml:"command_uuid"`
	StatusUUID  string        `yaml:"status_uuid"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// WiFiConfig holds station-mode settings.
type WiFiConfig struct {
	Interface     string        `yaml:"interface"`
	Backend       string        `yaml:"backend"` // "networkmanager" or "none"
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// TimingConfig holds the fetch and scheduling budgets.
type TimingConfig struct {
	WiFiTimeout   time.Duration `yaml:"wifi_timeout"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	StreamTimeout time.Duration `yaml:"stream_timeout"`
	QuoteGrace    time.Duration `yaml:"quote_grace"`
	QuoteIdle     time.Duration `yaml:"quote_idle"`
	MinInterval   time.Duration `yaml:"min_interval"`
	StaticCheck   time.Duration `yaml:"static_check"`
}

// DisplayConfig selects the panel driver and refresh cadence.
type DisplayConfig struct {
	Driver           string `yaml:"driver"` // "epd" or "none"
	FullRefreshEvery int    `yaml:"full_refresh_every"`
}

// CommandsConfig controls BLE command behavior.
type CommandsConfig struct {
	ClearScope string `yaml:"clear_scope"` // "cache", "credentials" or "all"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "inkframe")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns the default directory for the key/value database.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "inkframe")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	cfg := &Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      filepath.Join(DefaultDataDir(), "nvs.db"),
			Namespace: "eink",
		},
		BLE: BLEConfig{
			Name:        "EInk Display",
			ServiceUUID: "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
			SSIDUUID:    "beb5483e-36e1-4688-b7f5-ea07361b26a8",
			PassUUID:    "beb5483f-36e1-4688-b7f5-ea07361b26a8",
			ServerUUID:  "beb54840-36e1-4688-b7f5-ea07361b26a8",
			CommandUUID: "beb54841-36e1-4688-b7f5-ea07361b26a8",
			StatusUUID:  "beb54842-36e1-4688-b7f5-ea07361b26a8",
			SettleDelay: 200 * time.Millisecond,
		},
		WiFi: WiFiConfig{
			Interface:     "wlan0",
			Backend:       "networkmanager",
			RetryInterval: 5 * time.Minute,
		},
		Timing: TimingConfig{
			WiFiTimeout:   15 * time.Second,
			HTTPTimeout:   45 * time.Second,
			StreamTimeout: 30 * time.Second,
			QuoteGrace:    5 * time.Second,
			QuoteIdle:     250 * time.Millisecond,
			MinInterval:   10 * time.Second,
			StaticCheck:   5 * time.Minute,
		},
		Display: DisplayConfig{
			Driver:           "epd",
			FullRefreshEvery: 5,
		},
		Hardware: Hardware{
			Profile:  DefaultProfile,
			Rotation: RotationUnset,
		},
		Commands: CommandsConfig{
			ClearScope: "all",
		},
	}
	_ = cfg.Hardware.Resolve()
	return cfg
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in storage.path is expanded to the user's home
// directory and the hardware profile is resolved.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	// Hardware is resolved after parsing so a profile named in the file is
	// not shadowed by the default profile's pins.
	cfg.Hardware = Hardware{Rotation: RotationUnset}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Hardware == (Hardware{Rotation: RotationUnset}) {
		cfg.Hardware.Profile = DefaultProfile
	}

	cfg.Storage.Path = expandTilde(cfg.Storage.Path)
	if err := cfg.Hardware.Resolve(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path must not be empty for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be \"sqlite\" or \"memory\", got %q", c.Storage.Driver)
	}
	if c.Storage.Namespace == "" {
		return fmt.Errorf("storage.namespace must not be empty")
	}

	if c.BLE.Name == "" {
		return fmt.Errorf("ble.name must not be empty")
	}
	uuids := []struct {
		field, value string
	}{
		{"ble.service_uuid", c.BLE.ServiceUUID},
		{"ble.ssid_uuid", c.BLE.SSIDUUID},
		{"ble.pass_uuid", c.BLE.PassUUID},
		{"ble.server_uuid", c.BLE.ServerUUID},
		{"ble.command_uuid", c.BLE.CommandUUID},
		{"ble.status_uuid", c.BLE.StatusUUID},
	}
	seen := make(map[uuid.UUID]string, len(uuids))
	for _, u := range uuids {
		id, err := uuid.Parse(u.value)
		if err != nil {
			return fmt.Errorf("%s: invalid UUID %q: %w", u.field, u.value, err)
		}
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("%s duplicates %s", u.field, prev)
		}
		seen[id] = u.field
	}

	switch c.WiFi.Backend {
	case "networkmanager":
		if c.WiFi.Interface == "" {
			return fmt.Errorf("wifi.interface must not be empty")
		}
	case "none":
	default:
		return fmt.Errorf("wifi.backend must be \"networkmanager\" or \"none\", got %q", c.WiFi.Backend)
	}
	if c.WiFi.RetryInterval < 0 {
		return fmt.Errorf("wifi.retry_interval must be >= 0")
	}

	if c.Timing.WiFiTimeout <= 0 || c.Timing.HTTPTimeout <= 0 || c.Timing.StreamTimeout <= 0 {
		return fmt.Errorf("timing: wifi_timeout, http_timeout and stream_timeout must be > 0")
	}
	if c.Timing.QuoteGrace < 0 || c.Timing.QuoteIdle <= 0 {
		return fmt.Errorf("timing: quote_grace must be >= 0 and quote_idle > 0")
	}
	if c.Timing.MinInterval <= 0 {
		return fmt.Errorf("timing.min_interval must be > 0")
	}
	if c.Timing.StaticCheck < c.Timing.MinInterval {
		return fmt.Errorf("timing.static_check must be >= timing.min_interval")
	}

	switch c.Display.Driver {
	case "epd", "none":
	default:
		return fmt.Errorf("display.driver must be \"epd\" or \"none\", got %q", c.Display.Driver)
	}
	if c.Display.FullRefreshEvery <= 0 {
		return fmt.Errorf("display.full_refresh_every must be > 0")
	}
	if c.Display.Driver == "epd" {
		if err := c.Hardware.Validate(); err != nil {
			return err
		}
	}

	switch c.Commands.ClearScope {
	case "cache", "credentials", "all":
	default:
		return fmt.Errorf("commands.clear_scope must be \"cache\", \"credentials\" or \"all\", got %q", c.Commands.ClearScope)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog level. Unknown values
// fall back to info.
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

const defaultHeader = `# inkframe configuration
# Durations use Go syntax (15s, 5m). Remove a key to fall back to its default.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" when a config file
// was already present.
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

	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
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
