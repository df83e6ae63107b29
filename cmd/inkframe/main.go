package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/inkframe/internal/ble"
	"github.com/chaz8081/inkframe/internal/config"
	"github.com/chaz8081/inkframe/internal/controller"
	"github.com/chaz8081/inkframe/internal/display"
	"github.com/chaz8081/inkframe/internal/fetch"
	"github.com/chaz8081/inkframe/internal/frame"
	"github.com/chaz8081/inkframe/internal/state"
	"github.com/chaz8081/inkframe/internal/store"
	"github.com/chaz8081/inkframe/internal/wifi"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/inkframe/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("config", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config validation", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))
	printBanner(cfg)

	// Storage
	kv, err := openKV(cfg.Storage)
	if err != nil {
		fatal("storage", err)
	}
	cfgStore := store.New(kv, cfg.Storage.Namespace, cfg.Timing.MinInterval)
	defer cfgStore.Close()

	st := state.New(frame.Settings{Mode: frame.ModeAuto, Interval: frame.DefaultInterval})
	queue := state.NewQueue()

	// WiFi
	radio, closeRadio, err := openRadio(cfg.WiFi)
	if err != nil {
		fatal("wifi", err)
	}
	defer closeRadio()
	network := wifi.NewManager(radio, st, cfg.Timing.WiFiTimeout)

	fetcher := fetch.New(fetch.Options{
		HTTPTimeout:   cfg.Timing.HTTPTimeout,
		StreamTimeout: cfg.Timing.StreamTimeout,
		QuoteGrace:    cfg.Timing.QuoteGrace,
		QuoteIdle:     cfg.Timing.QuoteIdle,
		MinInterval:   cfg.Timing.MinInterval,
	}, cfgStore)

	// Display
	panel, err := openPanel(cfg)
	if err != nil {
		fatal("display", err)
	}
	defer panel.Close()
	renderer := display.NewRenderer(panel, cfg.Display.FullRefreshEvery)

	ctrl := controller.New(st, queue, fetcher, network, renderer, cfgStore, nil, controller.Options{
		StaticCheck:   cfg.Timing.StaticCheck,
		RetryInterval: cfg.WiFi.RetryInterval,
		LinkCheck:     controller.DefaultOptions().LinkCheck,
		Tick:          controller.DefaultOptions().Tick,
		ClearScope:    controller.ClearScope(cfg.Commands.ClearScope),
	})

	// Credentials must be in state before the GATT values are seeded.
	if creds, err := cfgStore.LoadCredentials(); err == nil {
		st.SetCredentials(creds)
	}

	// BLE
	svc := ble.NewConfigService(ble.NewTinyGoAdapter(), ble.Options{
		Name:        cfg.BLE.Name,
		ServiceUUID: cfg.BLE.ServiceUUID,
		SSIDUUID:    cfg.BLE.SSIDUUID,
		PassUUID:    cfg.BLE.PassUUID,
		ServerUUID:  cfg.BLE.ServerUUID,
		CommandUUID: cfg.BLE.CommandUUID,
		StatusUUID:  cfg.BLE.StatusUUID,
		SettleDelay: cfg.BLE.SettleDelay,
	}, st, queue, cfgStore)
	if err := svc.Start(); err != nil {
		slog.Error("BLE unavailable, continuing without configuration service", "error", err)
	} else {
		ctrl.SetNotifier(svc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Ready", "name", cfg.BLE.Name)
	if err := ctrl.Run(ctx); err != nil {
		slog.Error("Controller stopped", "error", err)
	}

	if err := renderer.Sleep(); err != nil {
		slog.Warn("Panel sleep failed", "error", err)
	}
	slog.Info("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, writing it out on first run.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	written, err := config.WriteDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not write default config: %v\n", err)
		return config.Default(), nil
	}
	if written != "" {
		fmt.Fprintf(os.Stderr, "Wrote default config to %s\n", written)
	}

	defaultPath := config.DefaultConfigPath()
	cfg, err := config.Load(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
	}
	return cfg, nil
}

func openKV(cfg config.StorageConfig) (store.KV, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("Using in-memory storage, settings will not survive a restart")
		return store.NewMemoryKV(), nil
	default:
		return store.OpenSQLite(cfg.Path)
	}
}

func openRadio(cfg config.WiFiConfig) (wifi.Radio, func(), error) {
	switch cfg.Backend {
	case "none":
		return &wifi.ExternalRadio{Interface: cfg.Interface}, func() {}, nil
	default:
		nm, err := wifi.NewNetworkManager(cfg.Interface)
		if err != nil {
			return nil, nil, err
		}
		return nm, func() { _ = nm.Close() }, nil
	}
}

func openPanel(cfg *config.Config) (display.Panel, error) {
	switch cfg.Display.Driver {
	case "none":
		return display.NopPanel{}, nil
	default:
		return display.OpenEPD(cfg.Hardware)
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== inkframe ===")
	fmt.Printf("  BLE:      %s\n", cfg.BLE.Name)
	fmt.Printf("  Storage:  %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  WiFi:     %s on %s\n", cfg.WiFi.Backend, cfg.WiFi.Interface)
	fmt.Printf("  Display:  %s (%s, rotation %d)\n", cfg.Display.Driver, cfg.Hardware.Profile, cfg.Hardware.Rotation)
	fmt.Printf("  Clear:    %s\n", cfg.Commands.ClearScope)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("================")
}

func fatal(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
