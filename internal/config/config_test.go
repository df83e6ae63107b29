package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, "sqlite")
	}
	if cfg.Storage.Namespace != "eink" {
		t.Errorf("Storage.Namespace = %q, want %q", cfg.Storage.Namespace, "eink")
	}
	if cfg.BLE.Name != "EInk Display" {
		t.Errorf("BLE.Name = %q, want %q", cfg.BLE.Name, "EInk Display")
	}
	if cfg.Timing.WiFiTimeout != 15*time.Second {
		t.Errorf("Timing.WiFiTimeout = %v, want 15s", cfg.Timing.WiFiTimeout)
	}
	if cfg.Timing.StreamTimeout != 30*time.Second {
		t.Errorf("Timing.StreamTimeout = %v, want 30s", cfg.Timing.StreamTimeout)
	}
	if cfg.Timing.MinInterval != 10*time.Second {
		t.Errorf("Timing.MinInterval = %v, want 10s", cfg.Timing.MinInterval)
	}
	if cfg.Timing.StaticCheck != 5*time.Minute {
		t.Errorf("Timing.StaticCheck = %v, want 5m", cfg.Timing.StaticCheck)
	}
	if cfg.Display.FullRefreshEvery != 5 {
		t.Errorf("Display.FullRefreshEvery = %d, want 5", cfg.Display.FullRefreshEvery)
	}
	if cfg.Hardware.DC != "GPIO25" {
		t.Errorf("Hardware.DC = %q, want resolved waveshare-hat pin GPIO25", cfg.Hardware.DC)
	}
	if cfg.Commands.ClearScope != "all" {
		t.Errorf("Commands.ClearScope = %q, want %q", cfg.Commands.ClearScope, "all")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
log_level: debug
storage:
  driver: memory
ble:
  name: Kitchen Frame
  settle_delay: 500ms
wifi:
  interface: wlan1
  retry_interval: 0s
timing:
  wifi_timeout: 20s
  static_check: 10m
display:
  driver: none
  full_refresh_every: 3
commands:
  clear_scope: cache
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want %q", cfg.Storage.Driver, "memory")
	}
	if cfg.BLE.Name != "Kitchen Frame" {
		t.Errorf("BLE.Name = %q, want %q", cfg.BLE.Name, "Kitchen Frame")
	}
	if cfg.BLE.SettleDelay != 500*time.Millisecond {
		t.Errorf("BLE.SettleDelay = %v, want 500ms", cfg.BLE.SettleDelay)
	}
	if cfg.BLE.ServiceUUID != "4fafc201-1fb5-459e-8fcc-c5c9c331914b" {
		t.Errorf("BLE.ServiceUUID = %q, want default", cfg.BLE.ServiceUUID)
	}
	if cfg.WiFi.Interface != "wlan1" {
		t.Errorf("WiFi.Interface = %q, want %q", cfg.WiFi.Interface, "wlan1")
	}
	if cfg.WiFi.RetryInterval != 0 {
		t.Errorf("WiFi.RetryInterval = %v, want 0", cfg.WiFi.RetryInterval)
	}
	if cfg.Timing.WiFiTimeout != 20*time.Second {
		t.Errorf("Timing.WiFiTimeout = %v, want 20s", cfg.Timing.WiFiTimeout)
	}
	if cfg.Timing.HTTPTimeout != 45*time.Second {
		t.Errorf("Timing.HTTPTimeout = %v, want default 45s", cfg.Timing.HTTPTimeout)
	}
	if cfg.Timing.StaticCheck != 10*time.Minute {
		t.Errorf("Timing.StaticCheck = %v, want 10m", cfg.Timing.StaticCheck)
	}
	if cfg.Display.Driver != "none" || cfg.Display.FullRefreshEvery != 3 {
		t.Errorf("Display = %+v, want driver none every 3", cfg.Display)
	}
	if cfg.Commands.ClearScope != "cache" {
		t.Errorf("Commands.ClearScope = %q, want %q", cfg.Commands.ClearScope, "cache")
	}
	if cfg.Hardware.Profile != DefaultProfile || cfg.Hardware.DC != "GPIO25" {
		t.Errorf("Hardware = %+v, want default profile resolved", cfg.Hardware)
	}
}

func TestLoadHardwareProfile(t *testing.T) {
	yamlContent := `
hardware:
  profile: devkit
  busy: GPIO27
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hardware.DC != "GPIO5" {
		t.Errorf("Hardware.DC = %q, want devkit pin GPIO5", cfg.Hardware.DC)
	}
	if cfg.Hardware.RST != "GPIO6" {
		t.Errorf("Hardware.RST = %q, want devkit pin GPIO6", cfg.Hardware.RST)
	}
	if cfg.Hardware.BUSY != "GPIO27" {
		t.Errorf("Hardware.BUSY = %q, want override GPIO27", cfg.Hardware.BUSY)
	}
	if cfg.Hardware.SPIHz != 2_000_000 {
		t.Errorf("Hardware.SPIHz = %d, want 2000000", cfg.Hardware.SPIHz)
	}
}

func TestLoadHardwareRotation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want int
	}{
		{"profile default", "hardware:\n  profile: devkit\n", 1},
		{"explicit zero under profile", "hardware:\n  profile: devkit\n  rotation: 0\n", 0},
		{"explicit three", "hardware:\n  profile: waveshare-hat\n  rotation: 3\n", 3},
		{"no profile", "hardware:\n  dc: GPIO1\n  rst: GPIO2\n  busy: GPIO3\n  spi_hz: 1000000\n", 0},
		{"no hardware section", "log_level: info\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(cfgPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}
			cfg, err := Load(cfgPath)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Hardware.Rotation != tt.want {
				t.Errorf("Hardware.Rotation = %d, want %d", cfg.Hardware.Rotation, tt.want)
			}
		})
	}
}

func TestLoadUnknownHardwareProfile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("hardware:\n  profile: toaster\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail for an unknown hardware profile")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
storage:
  path: ~/frames/nvs.db
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "frames/nvs.db")
	if cfg.Storage.Path != expected {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
		{
			name:    "unknown storage driver",
			modify:  func(c *Config) { c.Storage.Driver = "redis" },
			wantErr: true,
		},
		{
			name:    "sqlite without path",
			modify:  func(c *Config) { c.Storage.Path = "" },
			wantErr: true,
		},
		{
			name:    "memory without path",
			modify:  func(c *Config) { c.Storage.Driver = "memory"; c.Storage.Path = "" },
			wantErr: false,
		},
		{
			name:    "empty namespace",
			modify:  func(c *Config) { c.Storage.Namespace = "" },
			wantErr: true,
		},
		{
			name:    "malformed service uuid",
			modify:  func(c *Config) { c.BLE.ServiceUUID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "duplicate characteristic uuid",
			modify:  func(c *Config) { c.BLE.PassUUID = c.BLE.SSIDUUID },
			wantErr: true,
		},
		{
			name:    "unknown wifi backend",
			modify:  func(c *Config) { c.WiFi.Backend = "iwd" },
			wantErr: true,
		},
		{
			name:    "zero stream timeout",
			modify:  func(c *Config) { c.Timing.StreamTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "static check below min interval",
			modify:  func(c *Config) { c.Timing.StaticCheck = time.Second },
			wantErr: true,
		},
		{
			name:    "zero full refresh cadence",
			modify:  func(c *Config) { c.Display.FullRefreshEvery = 0 },
			wantErr: true,
		},
		{
			name:    "epd without pins",
			modify:  func(c *Config) { c.Hardware.DC = "" },
			wantErr: true,
		},
		{
			name:    "headless without pins",
			modify:  func(c *Config) { c.Display.Driver = "none"; c.Hardware = Hardware{} },
			wantErr: false,
		},
		{
			name:    "invalid clear scope",
			modify:  func(c *Config) { c.Commands.ClearScope = "everything" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "inkframe", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# inkframe") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Timing.StaticCheck != 5*time.Minute {
		t.Errorf("written config Timing.StaticCheck = %v, want 5m", cfg.Timing.StaticCheck)
	}
	if cfg.BLE.StatusUUID != Default().BLE.StatusUUID {
		t.Errorf("written config BLE.StatusUUID = %q", cfg.BLE.StatusUUID)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "inkframe")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestProfiles(t *testing.T) {
	got := Profiles()
	if len(got) != 2 || got[0] != "devkit" || got[1] != "waveshare-hat" {
		t.Errorf("Profiles() = %v, want [devkit waveshare-hat]", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
