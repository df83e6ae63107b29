// Package fetch downloads the current frame from the server:
//
//	GET {server}/api/frame?key={deviceKey}
//
// The body is exactly frame.BitmapSize bytes of bitmap followed by UTF-8
// quote text. X-Display-Mode and X-Duration carry the display settings.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/inkframe/internal/frame"
)

// Response headers.
const (
	HeaderMode     = "X-Display-Mode"
	HeaderDuration = "X-Duration"
)

var (
	// ErrNotConfigured is returned when the server URL or device key is empty.
	ErrNotConfigured = errors.New("fetch: server or device key not configured")
	// ErrShortBitmap is returned when the body ends before a full bitmap.
	ErrShortBitmap = errors.New("fetch: bitmap short")
)

// StatusError reports a non-200 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: HTTP %d", e.Code)
}

// Cache stores a successfully fetched frame.
type Cache interface {
	SaveCachedFrame(*frame.Frame) error
}

// Options holds the fetch timeouts.
type Options struct {
	// HTTPTimeout bounds the wait for the response head.
	HTTPTimeout time.Duration
	// StreamTimeout bounds reading the bitmap, measured from the start of
	// the body.
	StreamTimeout time.Duration
	// QuoteGrace extends StreamTimeout for the quote.
	QuoteGrace time.Duration
	// QuoteIdle ends the quote once the stream has been silent this long
	// after at least one quote byte.
	QuoteIdle time.Duration
	// MinInterval floors X-Duration.
	MinInterval time.Duration
}

// DefaultOptions returns the firmware timing.
func DefaultOptions() Options {
	return Options{
		HTTPTimeout:   45 * time.Second,
		StreamTimeout: 30 * time.Second,
		QuoteGrace:    5 * time.Second,
		QuoteIdle:     250 * time.Millisecond,
		MinInterval:   10 * time.Second,
	}
}

// Fetcher performs frame requests.
type Fetcher struct {
	client *http.Client
	opts   Options
	cache  Cache
}

// New returns a Fetcher that saves every good frame to cache. cache may be
// nil.
func New(opts Options, cache Cache) *Fetcher {
	return &Fetcher{client: &http.Client{}, opts: opts, cache: cache}
}

// FrameURL builds the request URL for creds.
func FrameURL(creds frame.Credentials) string {
	return strings.TrimRight(creds.ServerURL, "/") + "/api/frame?key=" + url.QueryEscape(creds.DeviceKey)
}

// Fetch downloads one frame. prev supplies the settings kept when a header
// is missing or malformed. On any error the cache is left untouched.
func (f *Fetcher) Fetch(ctx context.Context, creds frame.Credentials, prev frame.Settings) (*frame.Frame, error) {
	if creds.ServerURL == "" || creds.DeviceKey == "" {
		slog.Info("[API] No server/key, configure via BLE")
		return nil, ErrNotConfigured
	}

	target := FrameURL(creds)
	slog.Info("[API] GET", "server", creds.ServerURL, "key", frame.ShortKey(creds.DeviceKey))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: building request: %w", err)
	}

	headTimer := time.AfterFunc(f.opts.HTTPTimeout, cancel)
	resp, err := f.client.Do(req)
	headTimer.Stop()
	if err != nil {
		return nil, fmt.Errorf("fetch: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("[API] Bad status", "code", resp.StatusCode)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	fr := &frame.Frame{
		Mode:     parseMode(resp.Header.Get(HeaderMode), prev.Mode),
		Interval: parseDuration(resp.Header.Get(HeaderDuration), prev.Interval, f.opts.MinInterval),
	}

	if err := f.readBody(resp.Body, fr); err != nil {
		return nil, err
	}

	slog.Info("[API] OK", "bitmap", len(fr.Bitmap), "quote", len(fr.Quote), "mode", fr.Mode, "interval", fr.Interval)

	if f.cache != nil {
		if err := f.cache.SaveCachedFrame(fr); err != nil {
			slog.Error("[API] Caching frame failed", "error", err)
		}
	}
	return fr, nil
}

// readBody fills the bitmap and quote of fr from body.
func (f *Fetcher) readBody(body io.Reader, fr *frame.Frame) error {
	start := time.Now()
	bitmapDeadline := start.Add(f.opts.StreamTimeout)
	quoteDeadline := bitmapDeadline.Add(f.opts.QuoteGrace)

	p := startPump(body)
	defer p.close()

	bmp := make([]byte, 0, frame.BitmapSize)
	var quote []byte
	for len(bmp) < frame.BitmapSize {
		c, ok := p.next(bitmapDeadline)
		if !ok {
			slog.Warn("[API] Bitmap short", "got", len(bmp), "want", frame.BitmapSize)
			return fmt.Errorf("%w: %d/%d bytes before timeout", ErrShortBitmap, len(bmp), frame.BitmapSize)
		}
		if c.err != nil {
			if errors.Is(c.err, io.EOF) {
				slog.Warn("[API] Bitmap short", "got", len(bmp), "want", frame.BitmapSize)
				return fmt.Errorf("%w: %d/%d bytes", ErrShortBitmap, len(bmp), frame.BitmapSize)
			}
			return fmt.Errorf("fetch: reading bitmap: %w", c.err)
		}
		need := frame.BitmapSize - len(bmp)
		if len(c.data) <= need {
			bmp = append(bmp, c.data...)
			continue
		}
		bmp = append(bmp, c.data[:need]...)
		quote = appendCapped(quote, c.data[need:])
	}
	fr.Bitmap = bmp

	// Quote: ends on EOF, error, the grace deadline, or an idle gap once
	// some text has arrived.
	for {
		deadline := quoteDeadline
		if len(quote) > 0 {
			if idle := time.Now().Add(f.opts.QuoteIdle); idle.Before(deadline) {
				deadline = idle
			}
		}
		c, ok := p.next(deadline)
		if !ok || c.err != nil {
			if c.err != nil && !errors.Is(c.err, io.EOF) {
				slog.Debug("[API] Quote read ended", "error", c.err)
			}
			break
		}
		quote = appendCapped(quote, c.data)
	}
	fr.Quote = frame.Truncate(string(quote), frame.QuoteBufferSize-1)
	return nil
}

// appendCapped appends data to quote, keeping one byte past the quote limit
// so Truncate can tell whether the last kept rune is complete.
func appendCapped(quote, data []byte) []byte {
	room := frame.QuoteBufferSize - len(quote)
	if room <= 0 {
		return quote
	}
	if len(data) > room {
		data = data[:room]
	}
	return append(quote, data...)
}

func parseMode(v string, prev frame.Mode) frame.Mode {
	if v == "" {
		return prev
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 8)
	if err != nil {
		slog.Warn("[API] Ignoring malformed header", "header", HeaderMode, "value", v)
		return prev
	}
	return frame.Mode(n)
}

func parseDuration(v string, prev, floor time.Duration) time.Duration {
	d := prev
	if d <= 0 {
		d = frame.DefaultInterval
	}
	if v != "" {
		secs, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			slog.Warn("[API] Ignoring malformed header", "header", HeaderDuration, "value", v)
		} else {
			d = time.Duration(secs) * time.Second
		}
	}
	return frame.ClampInterval(d, floor)
}
