package display

import "log/slog"

// Panel pushes a full canvas buffer to the display hardware.
type Panel interface {
	// Refresh shows buf, a row-major MSB-first 1bpp frame with set bits
	// black. A partial refresh is faster but leaves ghosting.
	Refresh(buf []byte, partial bool) error
	// Sleep puts the panel into its lowest power state. The next Refresh
	// wakes it.
	Sleep() error
	Close() error
}

// NopPanel discards frames. It is used on hosts without a panel.
type NopPanel struct{}

func (NopPanel) Refresh(buf []byte, partial bool) error {
	slog.Debug("[DISP] Refresh (no panel)", "bytes", len(buf), "partial", partial)
	return nil
}

func (NopPanel) Sleep() error { return nil }

func (NopPanel) Close() error { return nil }
