package display

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/inkframe/internal/frame"
)

// DefaultFullRefreshEvery is the full refresh cadence for frames.
const DefaultFullRefreshEvery = 5

// Renderer draws onto a canvas and refreshes the panel. Frames alternate
// between partial refreshes and a full refresh every fullEvery renders;
// messages and the setup screen always use a full refresh.
type Renderer struct {
	mu        sync.Mutex
	panel     Panel
	canvas    *Canvas
	fullEvery uint64
	frames    uint64
}

// NewRenderer returns a Renderer for panel. fullEvery < 1 selects
// DefaultFullRefreshEvery.
func NewRenderer(panel Panel, fullEvery int) *Renderer {
	if fullEvery < 1 {
		fullEvery = DefaultFullRefreshEvery
	}
	return &Renderer{panel: panel, canvas: NewCanvas(), fullEvery: uint64(fullEvery)}
}

// ShowFrame draws the frame bitmap with its quote footer. Renders are
// counted from zero and every fullEvery-th one, starting with the first, is
// a full refresh. The counter advances even if the panel fails.
func (r *Renderer) ShowFrame(f *frame.Frame) error {
	if !f.Valid() {
		return fmt.Errorf("display: frame bitmap must be %d bytes", frame.BitmapSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.canvas.Clear()
	r.canvas.Blit(f.Bitmap)
	if f.Quote != "" {
		DrawQuote(r.canvas, f.Quote)
	}

	n := r.frames
	partial := n%r.fullEvery != 0
	r.frames++

	err := r.panel.Refresh(r.canvas.Pix, partial)
	if err != nil {
		slog.Error("[DISP] Frame refresh failed", "frame", n, "error", err)
		return fmt.Errorf("display: refresh: %w", err)
	}
	slog.Info("[DISP] Frame rendered", "frame", n, "partial", partial)
	return nil
}

// ShowSetupScreen shows the first-boot instructions.
func (r *Renderer) ShowSetupScreen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.canvas
	c.Clear()
	c.TextScaled(30, 22, "EInk Display", 2)
	c.Text(30, 68, "Open web app & connect via BLE")
	c.Text(30, 84, "to configure WiFi & server.")
	c.RoundRect(20, 10, frame.Width-40, frame.Height-20, 6)
	return r.refreshFull("setup screen")
}

// ShowMsg shows one line, or two when b is not empty.
func (r *Renderer) ShowMsg(a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.canvas
	c.Clear()
	c.Text(4, 32, a)
	if b != "" {
		c.Text(4, 52, b)
	}
	return r.refreshFull("message")
}

// Frames returns how many frames have been rendered.
func (r *Renderer) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Snapshot returns a copy of the canvas as last drawn.
func (r *Renderer) Snapshot() *Canvas {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := NewCanvas()
	copy(c.Pix, r.canvas.Pix)
	return c
}

// Sleep puts the panel to sleep.
func (r *Renderer) Sleep() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.panel.Sleep()
}

func (r *Renderer) refreshFull(what string) error {
	if err := r.panel.Refresh(r.canvas.Pix, false); err != nil {
		slog.Error("[DISP] Refresh failed", "what", what, "error", err)
		return fmt.Errorf("display: refresh: %w", err)
	}
	slog.Debug("[DISP] Shown", "what", what)
	return nil
}
