// Command test-fetch is a manual test for the frame endpoint. It performs a
// single fetch, prints the headers it parsed and renders the frame to a PNG,
// or to the panel when -panel is set.
//
// Usage:
//
//	go run ./cmd/test-fetch -server http://host:8080 -key KEY [-out frame.png] [-panel] [-config path]
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/inkframe/internal/config"
	"github.com/chaz8081/inkframe/internal/display"
	"github.com/chaz8081/inkframe/internal/fetch"
	"github.com/chaz8081/inkframe/internal/frame"
)

func main() {
	server := flag.String("server", "", "frame server base URL")
	key := flag.String("key", "", "device key")
	out := flag.String("out", "frame.png", "PNG output path (empty to skip)")
	usePanel := flag.Bool("panel", false, "also draw the frame on the e-paper panel")
	configPath := flag.String("config", "", "config file for timing and hardware (default: built-in defaults)")
	flag.Parse()

	if *server == "" || *key == "" {
		fmt.Fprintln(os.Stderr, "usage: test-fetch -server URL -key KEY")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	creds := frame.Credentials{ServerURL: *server, DeviceKey: *key}
	fmt.Printf("Fetching %s ...\n", fetch.FrameURL(creds))

	f, err := fetch.New(fetch.Options{
		HTTPTimeout:   cfg.Timing.HTTPTimeout,
		StreamTimeout: cfg.Timing.StreamTimeout,
		QuoteGrace:    cfg.Timing.QuoteGrace,
		QuoteIdle:     cfg.Timing.QuoteIdle,
		MinInterval:   cfg.Timing.MinInterval,
	}, nil).Fetch(ctx, creds, frame.Settings{Mode: frame.ModeAuto, Interval: frame.DefaultInterval})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  Mode:     %d\n", f.Mode)
	fmt.Printf("  Interval: %s\n", f.Interval)
	fmt.Printf("  Quote:    %q\n", f.Quote)

	var panel display.Panel = display.NopPanel{}
	if *usePanel {
		epd, err := display.OpenEPD(cfg.Hardware)
		if err != nil {
			fmt.Fprintf(os.Stderr, "panel: %v\n", err)
			os.Exit(1)
		}
		defer epd.Close()
		panel = epd
	}

	renderer := display.NewRenderer(panel, cfg.Display.FullRefreshEvery)
	if err := renderer.ShowFrame(f); err != nil {
		fmt.Fprintf(os.Stderr, "render: %v\n", err)
		os.Exit(1)
	}

	if *out != "" {
		file, err := os.Create(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "output: %v\n", err)
			os.Exit(1)
		}
		if err := png.Encode(file, renderer.Snapshot()); err != nil {
			file.Close()
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
		if err := file.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "output: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", *out)
	}

	if *usePanel {
		_ = renderer.Sleep()
	}
	fmt.Println("Done.")
}
