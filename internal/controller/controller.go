// Package controller runs the device's control loop: it consumes BLE
// commands, schedules frame fetches and falls back to the cached frame when
// the network fails.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chaz8081/inkframe/internal/fetch"
	"github.com/chaz8081/inkframe/internal/frame"
	"github.com/chaz8081/inkframe/internal/state"
	"github.com/chaz8081/inkframe/internal/wifi"
)

// Fetcher downloads a frame.
type Fetcher interface {
	Fetch(ctx context.Context, creds frame.Credentials, prev frame.Settings) (*frame.Frame, error)
}

// Network manages the WiFi link.
type Network interface {
	Connect(ctx context.Context, creds frame.Credentials) error
	Refresh(ctx context.Context) bool
}

// Renderer draws to the panel.
type Renderer interface {
	ShowFrame(f *frame.Frame) error
	ShowSetupScreen() error
	ShowMsg(a, b string) error
}

// Store is the persistent credential and frame cache.
type Store interface {
	LoadCredentials() (frame.Credentials, error)
	LoadCachedFrame() (*frame.Frame, bool)
	ClearCachedFrame() error
	ClearCredentials() error
}

// Notifier publishes device state over BLE.
type Notifier interface {
	// NotifyStatus refreshes the status line.
	NotifyStatus()
	// SyncCredentials refreshes the readable credential values.
	SyncCredentials()
}

// ClearScope selects what the Clear command erases.
type ClearScope string

const (
	ClearCache       ClearScope = "cache"
	ClearCredentials ClearScope = "credentials"
	ClearAll         ClearScope = "all"
)

// Options configures scheduling.
type Options struct {
	// StaticCheck is the poll period for static display modes.
	StaticCheck time.Duration
	// RetryInterval is the minimum gap between automatic WiFi reconnects.
	// Zero disables them.
	RetryInterval time.Duration
	// LinkCheck is how often an up link is re-checked.
	LinkCheck time.Duration
	// Tick is the scheduler resolution.
	Tick time.Duration
	// ClearScope selects what Clear erases (default ClearAll).
	ClearScope ClearScope
}

// DefaultOptions returns the firmware schedule.
func DefaultOptions() Options {
	return Options{
		StaticCheck:   5 * time.Minute,
		RetryInterval: 5 * time.Minute,
		LinkCheck:     30 * time.Second,
		Tick:          time.Second,
		ClearScope:    ClearAll,
	}
}

// Controller owns the display, network and schedule. Run must be called
// from a single goroutine; everything else talks to it through the queue
// and shared state.
type Controller struct {
	state    *state.State
	queue    *state.Queue
	fetcher  Fetcher
	network  Network
	renderer Renderer
	store    Store
	notifier Notifier
	opts     Options

	now func() time.Time

	lastAttempt   time.Time
	lastConnect   time.Time
	lastLinkCheck time.Time
	fetchDue      bool
	// onSetup is set while the setup screen is what the panel shows.
	onSetup bool
}

// New creates a Controller. notifier may be nil.
func New(st *state.State, q *state.Queue, fetcher Fetcher, network Network, renderer Renderer, store Store, notifier Notifier, opts Options) *Controller {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.ClearScope == "" {
		opts.ClearScope = ClearAll
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Controller{
		state:    st,
		queue:    q,
		fetcher:  fetcher,
		network:  network,
		renderer: renderer,
		store:    store,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// SetNotifier replaces the status notifier. It must be called before Run.
func (c *Controller) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	c.notifier = n
}

// Run boots the device and processes commands and timers until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.Boot(ctx)

	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("[CTRL] Stopping")
			return nil
		case cmd := <-c.queue.C():
			c.Handle(ctx, cmd)
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Boot restores credentials and the cached frame, then joins WiFi if a
// network is configured. A successful join makes a fetch due at once.
func (c *Controller) Boot(ctx context.Context) {
	creds, err := c.store.LoadCredentials()
	if err != nil {
		slog.Error("[CTRL] Loading credentials failed", "error", err)
	}
	c.state.SetCredentials(creds)
	slog.Info("[CTRL] Boot", "ssid", creds.SSID, "server", creds.ServerURL, "key", frame.ShortKey(creds.DeviceKey))

	if !c.showCached() {
		c.showSetup()
	}

	if creds.SSID != "" {
		c.connect(ctx, creds)
	}
	c.notifier.NotifyStatus()
}

// Handle acts on one queued command and acknowledges it.
func (c *Controller) Handle(ctx context.Context, cmd state.Command) {
	defer c.queue.Done(cmd)
	slog.Info("[CTRL] Command", "cmd", cmd)

	switch cmd {
	case state.CommandConnectWiFi:
		creds := c.state.Credentials()
		c.showMsg("Connecting WiFi...", creds.SSID)
		if err := c.connect(ctx, creds); err != nil {
			c.showMsg("WiFi failed", connectHint(err))
		} else if !configured(creds) {
			c.showSetup()
		}
	case state.CommandRefresh:
		if !c.state.WiFiConnected() {
			slog.Warn("[CTRL] Refresh without WiFi")
			c.showMsg("No WiFi connection", "Send CONNECT first")
			break
		}
		c.fetch(ctx)
	case state.CommandClear:
		c.clear()
	default:
		slog.Warn("[CTRL] Unknown command", "cmd", cmd)
		return
	}
	c.notifier.NotifyStatus()
}

// Tick runs the periodic work: link checks, reconnects and due fetches.
func (c *Controller) Tick(ctx context.Context) {
	now := c.now()

	if c.state.WiFiConnected() && c.opts.LinkCheck > 0 && now.Sub(c.lastLinkCheck) >= c.opts.LinkCheck {
		c.lastLinkCheck = now
		if !c.network.Refresh(ctx) {
			c.notifier.NotifyStatus()
		}
	}

	if !c.state.WiFiConnected() {
		creds := c.state.Credentials()
		if creds.SSID == "" || c.opts.RetryInterval <= 0 || now.Sub(c.lastConnect) < c.opts.RetryInterval {
			return
		}
		slog.Info("[CTRL] Reconnecting WiFi")
		err := c.connect(ctx, creds)
		c.notifier.NotifyStatus()
		if err != nil {
			return
		}
	}

	// Without a server there is nothing to fetch. A pending fetch stays due
	// until one is written.
	if !configured(c.state.Credentials()) {
		return
	}
	if c.due(now) {
		c.fetch(ctx)
		c.notifier.NotifyStatus()
	}
}

func configured(creds frame.Credentials) bool {
	return creds.ServerURL != "" && creds.DeviceKey != ""
}

// due reports whether a scheduled fetch should run. Animated frames poll at
// their interval, static ones at StaticCheck, both measured from the last
// attempt.
func (c *Controller) due(now time.Time) bool {
	if c.fetchDue || c.lastAttempt.IsZero() {
		return true
	}
	settings := c.state.Settings()
	period := c.opts.StaticCheck
	if settings.Mode.Animated() {
		period = settings.Interval
	}
	return now.Sub(c.lastAttempt) >= period
}

func (c *Controller) connect(ctx context.Context, creds frame.Credentials) error {
	c.lastConnect = c.now()
	err := c.network.Connect(ctx, creds)
	if err != nil {
		slog.Warn("[CTRL] WiFi connect failed", "error", err)
		return err
	}
	c.lastLinkCheck = c.now()
	c.fetchDue = true
	return nil
}

func (c *Controller) fetch(ctx context.Context) {
	now := c.now()
	c.lastAttempt = now
	c.fetchDue = false

	f, err := c.fetcher.Fetch(ctx, c.state.Credentials(), c.state.Settings())
	if err != nil {
		if errors.Is(err, fetch.ErrNotConfigured) && c.onSetup {
			return
		}
		slog.Warn("[CTRL] Fetch failed, showing fallback", "error", err)
		if !c.showCached() {
			c.showSetup()
		}
		return
	}

	c.state.SetSettings(f.Settings())
	c.state.SetLastFetch(now)
	c.onSetup = false
	c.show(c.renderer.ShowFrame(f))
}

func (c *Controller) clear() {
	scope := c.opts.ClearScope
	slog.Info("[CTRL] Clearing", "scope", scope)

	if scope == ClearCache || scope == ClearAll {
		if err := c.store.ClearCachedFrame(); err != nil {
			slog.Error("[CTRL] Clearing cache failed", "error", err)
		}
		c.state.SetSettings(frame.Settings{Mode: frame.ModeAuto, Interval: frame.DefaultInterval})
	}
	if scope == ClearCredentials || scope == ClearAll {
		if err := c.store.ClearCredentials(); err != nil {
			slog.Error("[CTRL] Clearing credentials failed", "error", err)
		}
		c.state.SetCredentials(frame.Credentials{})
		c.notifier.SyncCredentials()
	}

	c.lastAttempt = time.Time{}
	c.fetchDue = false
	c.showSetup()
}

// showCached renders the cached frame and reports whether there was one.
func (c *Controller) showCached() bool {
	f, ok := c.store.LoadCachedFrame()
	if !ok {
		return false
	}
	c.state.SetSettings(f.Settings())
	c.onSetup = false
	c.show(c.renderer.ShowFrame(f))
	return true
}

func (c *Controller) showSetup() {
	c.onSetup = true
	c.show(c.renderer.ShowSetupScreen())
}

func (c *Controller) showMsg(a, b string) {
	c.onSetup = false
	c.show(c.renderer.ShowMsg(a, b))
}

func (c *Controller) show(err error) {
	if err != nil {
		slog.Error("[CTRL] Display failed", "error", err)
	}
}

func connectHint(err error) string {
	if errors.Is(err, wifi.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "Timed out"
	}
	return "Check SSID/password"
}

type nopNotifier struct{}

func (nopNotifier) NotifyStatus() {}

func (nopNotifier) SyncCredentials() {}
