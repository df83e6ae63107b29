package ble

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/inkframe/internal/ble/protocol"
	"github.com/chaz8081/inkframe/internal/frame"
	"github.com/chaz8081/inkframe/internal/state"
)

// CredentialStore persists credentials after every BLE write.
type CredentialStore interface {
	SaveCredentials(frame.Credentials) error
}

// Options configures the BLE configuration service.
type Options struct {
	Name        string
	ServiceUUID string
	SSIDUUID    string
	PassUUID    string
	ServerUUID  string
	CommandUUID string
	StatusUUID  string

	// SettleDelay is waited after a central connects before the first
	// status notification.
	SettleDelay time.Duration
	// ReadvertiseMax caps the backoff between failed advertising restarts
	// (default 30s).
	ReadvertiseMax time.Duration
}

// DefaultOptions returns the default service layout.
func DefaultOptions() Options {
	return Options{
		Name:           "EInk Display",
		ServiceUUID:    ServiceUUID,
		SSIDUUID:       SSIDCharUUID,
		PassUUID:       PassCharUUID,
		ServerUUID:     ServerCharUUID,
		CommandUUID:    CommandCharUUID,
		StatusUUID:     StatusCharUUID,
		SettleDelay:    200 * time.Millisecond,
		ReadvertiseMax: 30 * time.Second,
	}
}

// ConfigService exposes credentials, commands and status over GATT. All
// callbacks run on the BLE stack's goroutines and only touch the shared
// state and command queue.
type ConfigService struct {
	adapter Adapter
	opts    Options
	state   *state.State
	queue   *state.Queue
	store   CredentialStore

	ssid, pass, server, status Characteristic

	// notifyMu serializes status writes.
	notifyMu sync.Mutex
	// persistMu orders credential updates with their saves so the store
	// always ends up holding the latest value.
	persistMu sync.Mutex
	// sleep is replaced in tests.
	sleep func(time.Duration)
}

// NewConfigService creates a service bound to the shared state and queue.
func NewConfigService(adapter Adapter, opts Options, st *state.State, q *state.Queue, store CredentialStore) *ConfigService {
	if opts.ReadvertiseMax <= 0 {
		opts.ReadvertiseMax = 30 * time.Second
	}
	return &ConfigService{
		adapter: adapter,
		opts:    opts,
		state:   st,
		queue:   q,
		store:   store,
		sleep:   time.Sleep,
	}
}

// Start enables the adapter, registers the service and begins advertising.
func (s *ConfigService) Start() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	s.adapter.SetConnectHandler(s.handleConnect)

	creds := s.state.Credentials()
	chars, err := s.adapter.AddService(s.opts.ServiceUUID, []CharacteristicSpec{
		{UUID: s.opts.SSIDUUID, Read: true, Write: true, Value: []byte(creds.SSID), OnWrite: s.onSSIDWrite},
		{UUID: s.opts.PassUUID, Read: true, Write: true, Value: []byte(creds.Password), OnWrite: s.onPasswordWrite},
		{UUID: s.opts.ServerUUID, Read: true, Write: true, Value: []byte(creds.ServerURL), OnWrite: s.onServerWrite},
		{UUID: s.opts.CommandUUID, Write: true, OnWrite: s.onCommandWrite},
		{UUID: s.opts.StatusUUID, Read: true, Notify: true, Value: []byte(protocol.InitialStatus)},
	})
	if err != nil {
		return err
	}
	if len(chars) != 5 {
		return fmt.Errorf("ble: adapter returned %d characteristics, want 5", len(chars))
	}
	s.ssid, s.pass, s.server, s.status = chars[0], chars[1], chars[2], chars[4]

	if err := s.adapter.Advertise(s.opts.Name, s.opts.ServiceUUID); err != nil {
		return err
	}
	slog.Info("[BLE] Advertising", "name", s.opts.Name, "service", s.opts.ServiceUUID)
	return nil
}

// Status returns the current status line.
func (s *ConfigService) Status() string {
	snap := s.state.Snapshot()
	return protocol.Status{
		WiFiConnected: snap.WiFiConnected,
		IP:            snap.IP,
		SSID:          snap.Credentials.SSID,
		ServerURL:     snap.Credentials.ServerURL,
		DeviceKey:     snap.Credentials.DeviceKey,
		Mode:          uint8(snap.Settings.Mode),
		Interval:      snap.Settings.Interval,
	}.String()
}

// NotifyStatus refreshes the status characteristic and notifies the central.
// While no central is connected only the readable value is updated.
func (s *ConfigService) NotifyStatus() {
	if s.status == nil {
		return
	}
	line := s.Status()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if !s.state.BLEConnected() {
		if err := s.status.SetValue([]byte(line)); err != nil {
			slog.Warn("[BLE] Setting status value failed", "error", err)
		}
		return
	}
	if err := s.status.Notify([]byte(line)); err != nil {
		slog.Warn("[BLE] Status notify failed", "error", err)
		return
	}
	slog.Debug("[BLE] Status", "value", line)
}

// SyncCredentials copies the current credentials into the readable SSID,
// password and server characteristics.
func (s *ConfigService) SyncCredentials() {
	if s.ssid == nil {
		return
	}
	creds := s.state.Credentials()
	for _, v := range []struct {
		ch  Characteristic
		val string
	}{
		{s.ssid, creds.SSID},
		{s.pass, creds.Password},
		{s.server, creds.ServerURL},
	} {
		if err := v.ch.SetValue([]byte(v.val)); err != nil {
			slog.Warn("[BLE] Setting characteristic value failed", "error", err)
		}
	}
}

func (s *ConfigService) handleConnect(connected bool) {
	s.state.SetBLEConnected(connected)
	if !connected {
		slog.Info("[BLE] Client disconnected, re-advertising")
		go s.readvertise()
		return
	}

	slog.Info("[BLE] Client connected")
	s.SyncCredentials()

	if s.opts.SettleDelay > 0 {
		s.sleep(s.opts.SettleDelay)
	}
	s.NotifyStatus()
}

// readvertise restarts advertising with exponential backoff until it
// succeeds or a central connects again.
func (s *ConfigService) readvertise() {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, s.opts.ReadvertiseMax)
			slog.Info("[BLE] Advertising retry backoff", "attempt", attempt+1, "delay", delay)
			s.sleep(delay)
			if s.state.BLEConnected() {
				return
			}
		}
		err := s.adapter.Advertise(s.opts.Name, s.opts.ServiceUUID)
		if err == nil {
			return
		}
		slog.Warn("[BLE] Restart advertising failed", "error", err, "attempt", attempt+1)
	}
}

// backoffDelay returns the retry delay for attempt n, capped at ceiling.
func backoffDelay(attempt int, ceiling time.Duration) time.Duration {
	if attempt > 30 {
		return ceiling
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > ceiling {
		return ceiling
	}
	return delay
}

func (s *ConfigService) onSSIDWrite(value []byte) {
	creds := s.update(func(c *frame.Credentials) {
		c.SSID = frame.Truncate(string(value), frame.MaxSSIDLen)
	})
	slog.Info("[BLE] SSID set", "ssid", creds.SSID)
	s.NotifyStatus()
}

func (s *ConfigService) onPasswordWrite(value []byte) {
	s.update(func(c *frame.Credentials) {
		c.Password = frame.Truncate(string(value), frame.MaxPasswordLen)
	})
	slog.Info("[BLE] Password set")
	s.NotifyStatus()
}

func (s *ConfigService) onServerWrite(value []byte) {
	url, key, hasKey := protocol.SplitServerValue(string(value))
	creds := s.update(func(c *frame.Credentials) {
		c.ServerURL = frame.Truncate(url, frame.MaxServerURLLen)
		if hasKey {
			c.DeviceKey = frame.Truncate(key, frame.MaxDeviceKeyLen)
		}
	})
	slog.Info("[BLE] Server set", "url", creds.ServerURL, "key", frame.ShortKey(creds.DeviceKey))
	s.NotifyStatus()
}

// update applies fn to the shared credentials and persists the result.
// Concurrent writes are saved in the order they were applied.
func (s *ConfigService) update(fn func(*frame.Credentials)) frame.Credentials {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	creds := s.state.UpdateCredentials(fn)
	if err := s.store.SaveCredentials(creds); err != nil {
		slog.Error("[BLE] Saving credentials failed", "error", err)
	}
	return creds
}

func (s *ConfigService) onCommandWrite(value []byte) {
	cmd := protocol.ParseCommand(value)
	slog.Info("[BLE] Command", "cmd", cmd)

	var queued state.Command
	switch cmd {
	case protocol.CommandRefresh:
		queued = state.CommandRefresh
	case protocol.CommandConnect:
		queued = state.CommandConnectWiFi
	case protocol.CommandClear:
		queued = state.CommandClear
	case protocol.CommandStatus:
		s.NotifyStatus()
		return
	default:
		slog.Warn("[BLE] Unknown command ignored", "value", string(value))
		return
	}
	if !s.queue.Enqueue(queued) {
		slog.Debug("[BLE] Command already pending", "cmd", queued)
	}
}
