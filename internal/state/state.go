// Package state holds the data shared between the BLE callbacks and the
// control loop: the pending command queue and a guarded snapshot of
// credentials, frame settings and connection flags.
package state

import (
	"sync"
	"time"

	"github.com/chaz8081/inkframe/internal/frame"
)

// Snapshot is a consistent copy of the shared device state.
type Snapshot struct {
	Credentials   frame.Credentials
	Settings      frame.Settings
	BLEConnected  bool
	WiFiConnected bool
	IP            string
	LastFetch     time.Time
}

// State is safe for concurrent use. Readers always get whole values, never a
// credential that is half updated by a BLE write.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

// New returns a State with the given frame settings.
func New(settings frame.Settings) *State {
	return &State{snap: Snapshot{Settings: settings}}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Credentials returns the current credentials.
func (s *State) Credentials() frame.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Credentials
}

// SetCredentials replaces the credentials.
func (s *State) SetCredentials(c frame.Credentials) {
	s.mu.Lock()
	s.snap.Credentials = c
	s.mu.Unlock()
}

// UpdateCredentials applies fn to the credentials under the lock and
// returns the result.
func (s *State) UpdateCredentials(fn func(*frame.Credentials)) frame.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap.Credentials)
	return s.snap.Credentials
}

// Settings returns the current frame settings.
func (s *State) Settings() frame.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Settings
}

// SetSettings replaces the frame settings.
func (s *State) SetSettings(fs frame.Settings) {
	s.mu.Lock()
	s.snap.Settings = fs
	s.mu.Unlock()
}

// SetBLEConnected records whether a BLE central is connected.
func (s *State) SetBLEConnected(connected bool) {
	s.mu.Lock()
	s.snap.BLEConnected = connected
	s.mu.Unlock()
}

// BLEConnected reports whether a BLE central is connected.
func (s *State) BLEConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.BLEConnected
}

// SetWiFi records the station link state. The IP is cleared when the link
// is down.
func (s *State) SetWiFi(connected bool, ip string) {
	s.mu.Lock()
	s.snap.WiFiConnected = connected
	if connected {
		s.snap.IP = ip
	} else {
		s.snap.IP = ""
	}
	s.mu.Unlock()
}

// WiFiConnected reports whether the station link is up.
func (s *State) WiFiConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.WiFiConnected
}

// SetLastFetch records the time of the last successful fetch.
func (s *State) SetLastFetch(t time.Time) {
	s.mu.Lock()
	s.snap.LastFetch = t
	s.mu.Unlock()
}
