package ble

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/inkframe/internal/ble/protocol"
	"github.com/chaz8081/inkframe/internal/frame"
	"github.com/chaz8081/inkframe/internal/state"
)

type mockStore struct {
	mu    sync.Mutex
	saved []frame.Credentials
	err   error
	// delay stalls each save before it is recorded.
	delay time.Duration
}

func (m *mockStore) SaveCredentials(c frame.Credentials) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, c)
	return m.err
}

func (m *mockStore) last() frame.Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return frame.Credentials{}
	}
	return m.saved[len(m.saved)-1]
}

type fixture struct {
	adapter *mockAdapter
	state   *state.State
	queue   *state.Queue
	store   *mockStore
	svc     *ConfigService
	slept   []time.Duration
}

func newFixture(t *testing.T, creds frame.Credentials) *fixture {
	t.Helper()
	f := &fixture{
		adapter: newMockAdapter(),
		state:   state.New(frame.Settings{Interval: time.Minute}),
		queue:   state.NewQueue(),
		store:   &mockStore{},
	}
	f.state.SetCredentials(creds)
	f.svc = NewConfigService(f.adapter, DefaultOptions(), f.state, f.queue, f.store)
	f.svc.sleep = func(d time.Duration) { f.slept = append(f.slept, d) }
	if err := f.svc.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return f
}

func TestStartRegistersServiceAndAdvertises(t *testing.T) {
	f := newFixture(t, frame.Credentials{SSID: "home", Password: "pw", ServerURL: "https://srv"})

	if f.adapter.advertiseCount() != 1 {
		t.Errorf("advertise count = %d, want 1", f.adapter.advertiseCount())
	}
	if got := f.adapter.char(SSIDCharUUID).Value(); got != "home" {
		t.Errorf("SSID value = %q, want home", got)
	}
	if got := f.adapter.char(StatusCharUUID).Value(); got != protocol.InitialStatus {
		t.Errorf("initial status = %q, want %q", got, protocol.InitialStatus)
	}
	spec := f.adapter.specs[CommandCharUUID]
	if !spec.Write || spec.Read {
		t.Errorf("command characteristic flags = %+v, want write-only", spec)
	}
	if spec := f.adapter.specs[StatusCharUUID]; !spec.Notify || spec.Write {
		t.Errorf("status characteristic flags = %+v, want read/notify", spec)
	}
}

func TestConnectPushesValuesAndNotifies(t *testing.T) {
	f := newFixture(t, frame.Credentials{})
	f.state.SetCredentials(frame.Credentials{SSID: "later", Password: "secret", ServerURL: "https://a"})

	f.adapter.SimulateConnect(true)

	if !f.state.BLEConnected() {
		t.Error("BLE not marked connected")
	}
	if got := f.adapter.char(PassCharUUID).Value(); got != "secret" {
		t.Errorf("password value = %q, want secret", got)
	}
	if got := f.adapter.char(ServerCharUUID).Value(); got != "https://a" {
		t.Errorf("server value = %q", got)
	}
	if len(f.slept) != 1 || f.slept[0] != 200*time.Millisecond {
		t.Errorf("settle delays = %v, want [200ms]", f.slept)
	}
	notes := f.adapter.char(StatusCharUUID).Notifications()
	if len(notes) != 1 || !strings.HasPrefix(notes[0], "WIFI:OFF|IP:0.0.0.0|SSID:later|") {
		t.Errorf("notifications = %v", notes)
	}
}

func TestDisconnectRestartsAdvertising(t *testing.T) {
	f := newFixture(t, frame.Credentials{})
	f.adapter.SimulateConnect(true)
	f.adapter.SimulateConnect(false)

	if f.state.BLEConnected() {
		t.Error("BLE still marked connected")
	}
	deadline := time.Now().Add(time.Second)
	for f.adapter.advertiseCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.adapter.advertiseCount() != 2 {
		t.Errorf("advertise count = %d, want 2", f.adapter.advertiseCount())
	}
}

func TestReadvertiseRetriesWithBackoff(t *testing.T) {
	f := newFixture(t, frame.Credentials{})
	fails := 2
	f.adapter.advertiseFn = func() error {
		if fails > 0 {
			fails--
			return errors.New("busy")
		}
		return nil
	}
	f.slept = nil

	f.svc.readvertise()

	if got := f.adapter.advertiseCount(); got != 4 {
		t.Errorf("advertise count = %d, want 4 (start + 3 attempts)", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(f.slept) != len(want) || f.slept[0] != want[0] || f.slept[1] != want[1] {
		t.Errorf("backoff = %v, want %v", f.slept, want)
	}
}

func TestBackoffDelay(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}
	for i, want := range delays {
		if got := backoffDelay(i, 30*time.Second); got != want {
			t.Errorf("backoffDelay(%d) = %v, want %v", i, got, want)
		}
	}
	if got := backoffDelay(100, 30*time.Second); got != 30*time.Second {
		t.Errorf("backoffDelay(100) = %v, want cap", got)
	}
}

func TestCredentialWrites(t *testing.T) {
	f := newFixture(t, frame.Credentials{DeviceKey: "oldkey"})
	f.adapter.SimulateConnect(true)

	tests := []struct {
		name  string
		uuid  string
		value string
		want  frame.Credentials
	}{
		{"ssid", SSIDCharUUID, "home", frame.Credentials{SSID: "home", DeviceKey: "oldkey"}},
		{"password", PassCharUUID, "pw", frame.Credentials{SSID: "home", Password: "pw", DeviceKey: "oldkey"}},
		{"server url only keeps key", ServerCharUUID, "https://a",
			frame.Credentials{SSID: "home", Password: "pw", ServerURL: "https://a", DeviceKey: "oldkey"}},
		{"server with key", ServerCharUUID, "https://b|newkey",
			frame.Credentials{SSID: "home", Password: "pw", ServerURL: "https://b", DeviceKey: "newkey"}},
		{"leading pipe is url", ServerCharUUID, "|x",
			frame.Credentials{SSID: "home", Password: "pw", ServerURL: "|x", DeviceKey: "newkey"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(f.adapter.char(StatusCharUUID).Notifications())
			if err := f.adapter.SimulateWrite(tt.uuid, tt.value); err != nil {
				t.Fatal(err)
			}
			if got := f.state.Credentials(); got != tt.want {
				t.Errorf("state = %+v, want %+v", got, tt.want)
			}
			if got := f.store.last(); got != tt.want {
				t.Errorf("persisted = %+v, want %+v", got, tt.want)
			}
			if after := len(f.adapter.char(StatusCharUUID).Notifications()); after != before+1 {
				t.Errorf("notifications %d -> %d, want one more", before, after)
			}
		})
	}
}

func TestCredentialWritesAreBounded(t *testing.T) {
	f := newFixture(t, frame.Credentials{})
	long := strings.Repeat("s", 100)
	_ = f.adapter.SimulateWrite(SSIDCharUUID, long)
	_ = f.adapter.SimulateWrite(ServerCharUUID, strings.Repeat("u", 200)+"|"+strings.Repeat("k", 100))

	c := f.state.Credentials()
	if len(c.SSID) != frame.MaxSSIDLen {
		t.Errorf("SSID len = %d, want %d", len(c.SSID), frame.MaxSSIDLen)
	}
	if len(c.ServerURL) != frame.MaxServerURLLen || len(c.DeviceKey) != frame.MaxDeviceKeyLen {
		t.Errorf("server/key len = %d/%d", len(c.ServerURL), len(c.DeviceKey))
	}
}

func TestStoreFailureStillNotifies(t *testing.T) {
	f := newFixture(t, frame.Credentials{})
	f.store.err = errors.New("flash full")
	f.adapter.SimulateConnect(true)
	before := len(f.adapter.char(StatusCharUUID).Notifications())

	_ = f.adapter.SimulateWrite(SSIDCharUUID, "net")

	if f.state.Credentials().SSID != "net" {
		t.Error("in-memory credentials not updated")
	}
	if len(f.adapter.char(StatusCharUUID).Notifications()) != before+1 {
		t.Error("status not notified after failed save")
	}
}

func TestCommandWrites(t *testing.T) {
	f := newFixture(t, frame.Credentials{})

	for _, v := range []string{"REFRESH", " CONNECT\n", "CLEAR", "REFRESH", "bogus"} {
		if err := f.adapter.SimulateWrite(CommandCharUUID, v); err != nil {
			t.Fatal(err)
		}
	}

	want := []state.Command{state.CommandRefresh, state.CommandConnectWiFi, state.CommandClear}
	for _, w := range want {
		select {
		case got := <-f.queue.C():
			if got != w {
				t.Errorf("queued %v, want %v", got, w)
			}
		default:
			t.Fatalf("queue empty, want %v", w)
		}
	}
	select {
	case extra := <-f.queue.C():
		t.Errorf("unexpected queued command %v", extra)
	default:
	}
}

func TestStatusCommandOnlyNotifiesWhenConnected(t *testing.T) {
	f := newFixture(t, frame.Credentials{SSID: "home"})
	status := f.adapter.char(StatusCharUUID)

	_ = f.adapter.SimulateWrite(CommandCharUUID, "STATUS")
	if n := len(status.Notifications()); n != 0 {
		t.Errorf("notifications while disconnected = %d, want 0", n)
	}
	if !strings.Contains(status.Value(), "SSID:home") {
		t.Errorf("status value not refreshed while disconnected: %q", status.Value())
	}

	f.adapter.SimulateConnect(true)
	f.state.SetWiFi(true, "10.0.0.7")
	_ = f.adapter.SimulateWrite(CommandCharUUID, "STATUS")
	notes := status.Notifications()
	if len(notes) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notes))
	}
	if !strings.HasPrefix(notes[1], "WIFI:OK|IP:10.0.0.7|") {
		t.Errorf("status = %q", notes[1])
	}
}

func TestConcurrentWritesPersistLatest(t *testing.T) {
	f := newFixture(t, frame.Credentials{})
	f.store.delay = time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.adapter.SimulateWrite(SSIDCharUUID, fmt.Sprintf("net-%d", i))
		}()
	}
	wg.Wait()

	if got, want := f.store.last(), f.state.Credentials(); got != want {
		t.Errorf("persisted %+v, state holds %+v", got, want)
	}
}

func TestSyncCredentialsPushesClearedValues(t *testing.T) {
	f := newFixture(t, frame.Credentials{SSID: "home", Password: "pw", ServerURL: "https://a"})
	if got := f.adapter.char(PassCharUUID).Value(); got != "pw" {
		t.Fatalf("password value = %q, want pw", got)
	}

	f.state.SetCredentials(frame.Credentials{})
	f.svc.SyncCredentials()

	for _, uuid := range []string{SSIDCharUUID, PassCharUUID, ServerCharUUID} {
		if got := f.adapter.char(uuid).Value(); got != "" {
			t.Errorf("characteristic %s = %q after clear, want empty", uuid, got)
		}
	}
}
