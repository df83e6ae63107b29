// Package frame defines the data exchanged between the fetcher, the cache and
// the renderer: device credentials, the fixed-size monochrome frame and its
// display settings.
package frame

import (
	"time"
	"unicode/utf8"
)

// Panel geometry. The bitmap is row-major, 1 bit per pixel, MSB first,
// with a set bit meaning black.
const (
	Width      = 296
	Height     = 128
	BitmapSize = Width * Height / 8 // 4736 bytes
)

// QuoteBufferSize is the quote capacity including the terminator slot the
// firmware protocol reserves, so at most QuoteBufferSize-1 bytes are kept.
const QuoteBufferSize = 160

// DefaultInterval is used when a cached frame carries no interval.
const DefaultInterval = 60 * time.Second

// Credential field bounds in bytes.
const (
	MaxSSIDLen      = 63
	MaxPasswordLen  = 63
	MaxServerURLLen = 127
	MaxDeviceKeyLen = 63
)

// Mode is the display mode reported by the server in X-Display-Mode.
type Mode uint8

const (
	// ModeAuto regenerates content on every poll.
	ModeAuto Mode = 0
	// ModeCustomQuote shows a user quote with a generated image.
	ModeCustomQuote Mode = 1
	// ModeCustom shows user-provided quote and image.
	ModeCustom Mode = 2
)

// Animated reports whether the mode polls at the frame interval. All other
// modes only re-check on the static cadence.
func (m Mode) Animated() bool {
	return m == ModeAuto
}

// Credentials holds WiFi and server configuration written over BLE.
type Credentials struct {
	SSID      string
	Password  string
	ServerURL string
	DeviceKey string
}

// Bounded returns a copy with every field truncated to its byte bound.
func (c Credentials) Bounded() Credentials {
	return Credentials{
		SSID:      Truncate(c.SSID, MaxSSIDLen),
		Password:  Truncate(c.Password, MaxPasswordLen),
		ServerURL: Truncate(c.ServerURL, MaxServerURLLen),
		DeviceKey: Truncate(c.DeviceKey, MaxDeviceKeyLen),
	}
}

// Settings are the per-frame display parameters carried between fetches.
type Settings struct {
	Mode     Mode
	Interval time.Duration
}

// Frame is one complete fetched result. Bitmap is always BitmapSize bytes.
type Frame struct {
	Bitmap   []byte
	Quote    string
	Mode     Mode
	Interval time.Duration
}

// Settings returns the frame's display settings.
func (f *Frame) Settings() Settings {
	return Settings{Mode: f.Mode, Interval: f.Interval}
}

// Valid reports whether the bitmap has the exact panel size.
func (f *Frame) Valid() bool {
	return f != nil && len(f.Bitmap) == BitmapSize
}

// ClampInterval returns d, raised to floor when it is below it.
func ClampInterval(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ShortKey returns the first 8 characters of a device key for logging.
func ShortKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
