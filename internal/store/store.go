// Package store persists device credentials and the last good frame in a
// namespaced key/value store.
package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/chaz8081/inkframe/internal/frame"
)

// DefaultNamespace groups every key the device writes.
const DefaultNamespace = "eink"

// Storage keys.
const (
	keySSID     = "ssid"
	keyPassword = "pass"
	keyServer   = "srv"
	keyDevice   = "key"
	keyBitmap   = "bmp"
	keyDigest   = "bmpsum"
	keyQuote    = "quote"
	keyMode     = "mode"
	keyInterval = "intv"
	keyCached   = "cached"
)

// ConfigStore reads and writes typed device data on top of a KV.
type ConfigStore struct {
	kv          KV
	ns          string
	minInterval time.Duration
}

// New returns a ConfigStore using namespace ns. Cached intervals are floored
// at minInterval when loaded.
func New(kv KV, ns string, minInterval time.Duration) *ConfigStore {
	if ns == "" {
		ns = DefaultNamespace
	}
	return &ConfigStore{kv: kv, ns: ns, minInterval: minInterval}
}

// Close closes the underlying KV.
func (s *ConfigStore) Close() error {
	return s.kv.Close()
}

// LoadCredentials returns the stored credentials. Missing keys load as
// empty strings.
func (s *ConfigStore) LoadCredentials() (frame.Credentials, error) {
	var c frame.Credentials
	var err error
	if c.SSID, err = s.getString(keySSID); err != nil {
		return frame.Credentials{}, err
	}
	if c.Password, err = s.getString(keyPassword); err != nil {
		return frame.Credentials{}, err
	}
	if c.ServerURL, err = s.getString(keyServer); err != nil {
		return frame.Credentials{}, err
	}
	if c.DeviceKey, err = s.getString(keyDevice); err != nil {
		return frame.Credentials{}, err
	}
	return c, nil
}

// SaveCredentials writes all four credential fields.
func (s *ConfigStore) SaveCredentials(c frame.Credentials) error {
	for _, kv := range []struct{ key, val string }{
		{keySSID, c.SSID},
		{keyPassword, c.Password},
		{keyServer, c.ServerURL},
		{keyDevice, c.DeviceKey},
	} {
		if err := s.kv.Put(s.ns, kv.key, []byte(kv.val)); err != nil {
			return err
		}
	}
	return nil
}

// ClearCredentials removes all stored credentials.
func (s *ConfigStore) ClearCredentials() error {
	return s.deleteKeys(keySSID, keyPassword, keyServer, keyDevice)
}

// LoadCachedFrame returns the cached frame, or false when there is none.
// A cache that fails validation is invalidated in storage and reported as
// absent.
func (s *ConfigStore) LoadCachedFrame() (*frame.Frame, bool) {
	flag, err := s.kv.Get(s.ns, keyCached)
	if err != nil || len(flag) != 1 || flag[0] != 1 {
		if err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("[Store] Reading cache flag failed", "error", err)
		}
		return nil, false
	}

	bmp, err := s.kv.Get(s.ns, keyBitmap)
	if err != nil {
		s.invalidate("bitmap unreadable", "error", err)
		return nil, false
	}
	if len(bmp) != frame.BitmapSize {
		s.invalidate("bitmap size mismatch", "got", len(bmp), "want", frame.BitmapSize)
		return nil, false
	}
	if sum, err := s.kv.Get(s.ns, keyDigest); err == nil {
		want := Digest(bmp)
		if !bytes.Equal(sum, want[:]) {
			s.invalidate("bitmap digest mismatch")
			return nil, false
		}
	}

	f := &frame.Frame{Bitmap: bmp, Interval: frame.DefaultInterval}
	f.Quote, _ = s.getString(keyQuote)
	if m, err := s.kv.Get(s.ns, keyMode); err == nil && len(m) == 1 {
		f.Mode = frame.Mode(m[0])
	}
	if iv, err := s.kv.Get(s.ns, keyInterval); err == nil && len(iv) == 4 {
		f.Interval = time.Duration(binary.BigEndian.Uint32(iv)) * time.Millisecond
	}
	f.Interval = frame.ClampInterval(f.Interval, s.minInterval)

	slog.Info("[Store] Loaded cached frame", "mode", f.Mode, "interval", f.Interval, "quote_len", len(f.Quote))
	return f, true
}

// SaveCachedFrame writes f as the current cache. The cached flag is cleared
// first and set last, so an interrupted save never leaves a flagged partial
// frame behind.
func (s *ConfigStore) SaveCachedFrame(f *frame.Frame) error {
	if !f.Valid() {
		return fmt.Errorf("store: refusing to cache bitmap of %d bytes", len(f.Bitmap))
	}
	if err := s.kv.Put(s.ns, keyCached, []byte{0}); err != nil {
		return err
	}

	sum := Digest(f.Bitmap)
	iv := make([]byte, 4)
	binary.BigEndian.PutUint32(iv, uint32(f.Interval/time.Millisecond))

	for _, kv := range []struct {
		key string
		val []byte
	}{
		{keyBitmap, f.Bitmap},
		{keyDigest, sum[:]},
		{keyQuote, []byte(f.Quote)},
		{keyMode, []byte{byte(f.Mode)}},
		{keyInterval, iv},
	} {
		if err := s.kv.Put(s.ns, kv.key, kv.val); err != nil {
			return err
		}
	}

	if err := s.kv.Put(s.ns, keyCached, []byte{1}); err != nil {
		return err
	}
	slog.Debug("[Store] Cached frame saved", "bytes", len(f.Bitmap))
	return nil
}

// ClearCachedFrame removes the cached frame.
func (s *ConfigStore) ClearCachedFrame() error {
	if err := s.kv.Put(s.ns, keyCached, []byte{0}); err != nil {
		return err
	}
	return s.deleteKeys(keyBitmap, keyDigest, keyQuote, keyMode, keyInterval)
}

// Digest returns the BLAKE2b-256 sum stored alongside a cached bitmap.
func Digest(bmp []byte) [blake2b.Size256]byte {
	return blake2b.Sum256(bmp)
}

func (s *ConfigStore) invalidate(reason string, args ...any) {
	slog.Warn("[Store] Cache invalid, clearing: "+reason, args...)
	if err := s.kv.Put(s.ns, keyCached, []byte{0}); err != nil {
		slog.Error("[Store] Clearing cache flag failed", "error", err)
	}
}

func (s *ConfigStore) getString(key string) (string, error) {
	v, err := s.kv.Get(s.ns, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (s *ConfigStore) deleteKeys(keys ...string) error {
	for _, k := range keys {
		if err := s.kv.Delete(s.ns, k); err != nil {
			return err
		}
	}
	return nil
}
