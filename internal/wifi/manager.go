// Package wifi joins the configured network in station mode and tracks the
// link state in the shared device state.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/inkframe/internal/frame"
	"github.com/chaz8081/inkframe/internal/state"
)

var (
	// ErrNoSSID is returned when no network has been configured.
	ErrNoSSID = errors.New("wifi: no SSID configured")
	// ErrTimeout is returned when the link does not come up in time.
	ErrTimeout = errors.New("wifi: connect timed out")
)

// DefaultPollInterval is how often the radio is polled while joining.
const DefaultPollInterval = 250 * time.Millisecond

// Radio abstracts the platform WiFi stack.
type Radio interface {
	// Join starts associating with the network. It does not wait for the
	// link to come up.
	Join(ctx context.Context, ssid, password string) error
	// Connected reports whether the station link is up.
	Connected(ctx context.Context) (bool, error)
	// Addr returns the station IPv4 address, or "" if it has none.
	Addr() string
}

// Manager connects the radio and mirrors its state into State.
type Manager struct {
	radio   Radio
	state   *state.State
	timeout time.Duration
	poll    time.Duration
}

// NewManager returns a Manager that waits up to timeout for a link.
func NewManager(radio Radio, st *state.State, timeout time.Duration) *Manager {
	return &Manager{radio: radio, state: st, timeout: timeout, poll: DefaultPollInterval}
}

// Connect joins the network in creds and waits for the link. It makes a
// single attempt; callers decide when to retry.
func (m *Manager) Connect(ctx context.Context, creds frame.Credentials) error {
	if creds.SSID == "" {
		slog.Info("[WiFi] No SSID, configure via BLE")
		return ErrNoSSID
	}

	slog.Info("[WiFi] Connecting", "ssid", creds.SSID)
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.radio.Join(ctx, creds.SSID, creds.Password); err != nil {
		m.state.SetWiFi(false, "")
		return fmt.Errorf("wifi: join %q: %w", creds.SSID, err)
	}

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		if up, err := m.radio.Connected(ctx); err != nil {
			slog.Debug("[WiFi] Status poll failed", "error", err)
		} else if up {
			ip := m.radio.Addr()
			m.state.SetWiFi(true, ip)
			slog.Info("[WiFi] Connected", "ip", ip)
			return nil
		}

		select {
		case <-ctx.Done():
			m.state.SetWiFi(false, "")
			slog.Warn("[WiFi] Failed", "ssid", creds.SSID)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh re-reads the link state into State and reports whether it is up.
func (m *Manager) Refresh(ctx context.Context) bool {
	up, err := m.radio.Connected(ctx)
	if err != nil {
		slog.Debug("[WiFi] Status check failed", "error", err)
		up = false
	}
	if up {
		m.state.SetWiFi(true, m.radio.Addr())
	} else {
		if m.state.WiFiConnected() {
			slog.Warn("[WiFi] Link lost")
		}
		m.state.SetWiFi(false, "")
	}
	return up
}
