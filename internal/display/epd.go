package display

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/chaz8081/inkframe/internal/config"
	"github.com/chaz8081/inkframe/internal/frame"
)

// SSD1680 commands.
const (
	cmdDriverOutput  = 0x01
	cmdDeepSleep     = 0x10
	cmdDataEntry     = 0x11
	cmdSWReset       = 0x12
	cmdTempSensor    = 0x18
	cmdActivate      = 0x20
	cmdUpdateCtrl1   = 0x21
	cmdUpdateCtrl2   = 0x22
	cmdWriteBW       = 0x24
	cmdWritePrevious = 0x26
	cmdBorder        = 0x3C
	cmdRAMXRange     = 0x44
	cmdRAMYRange     = 0x45
	cmdRAMXCounter   = 0x4E
	cmdRAMYCounter   = 0x4F
)

// Update sequences for cmdUpdateCtrl2.
const (
	seqFull    = 0xF7
	seqPartial = 0xFC
)

// maxTx is the largest single SPI transfer; spidev rejects longer ones by
// default.
const maxTx = 4096

var errBusyTimeout = errors.New("display: panel busy timeout")

// EPD drives a 2.9" SSD1680 panel over SPI with DC, RST and BUSY lines.
type EPD struct {
	port spi.PortCloser
	conn spi.Conn
	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	rotation int
	ramW     int // panel RAM width in pixels
	ramH     int
	ram      []byte
	ready    bool

	busyTimeout time.Duration
}

// OpenEPD initializes the host drivers and opens the panel wired as hw.
func OpenEPD(hw config.Hardware) (*EPD, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("display: host init: %w", err)
	}

	port, err := spireg.Open(hw.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("display: open SPI %q: %w", hw.SPIPort, err)
	}
	conn, err := port.Connect(physic.Frequency(hw.SPIHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("display: SPI connect: %w", err)
	}

	pins := map[string]gpio.PinIO{}
	for _, name := range []string{hw.DC, hw.RST, hw.BUSY} {
		p := gpioreg.ByName(name)
		if p == nil {
			port.Close()
			return nil, fmt.Errorf("display: unknown GPIO %q", name)
		}
		pins[name] = p
	}
	if err := pins[hw.BUSY].In(gpio.Float, gpio.NoEdge); err != nil {
		port.Close()
		return nil, fmt.Errorf("display: busy pin: %w", err)
	}

	ramW, ramH := frame.Height, frame.Width
	if hw.Rotation%2 == 0 {
		ramW, ramH = frame.Width, frame.Height
	}
	slog.Info("[DISP] Panel opened", "spi", hw.SPIPort, "hz", hw.SPIHz, "rotation", hw.Rotation)
	return &EPD{
		port:        port,
		conn:        conn,
		dc:          pins[hw.DC],
		rst:         pins[hw.RST],
		busy:        pins[hw.BUSY],
		rotation:    hw.Rotation,
		ramW:        ramW,
		ramH:        ramH,
		ram:         make([]byte, ramW*ramH/8),
		busyTimeout: 10 * time.Second,
	}, nil
}

// Refresh rotates buf into panel RAM order and updates the panel.
func (e *EPD) Refresh(buf []byte, partial bool) error {
	if len(buf) != frame.BitmapSize {
		return fmt.Errorf("display: buffer is %d bytes, want %d", len(buf), frame.BitmapSize)
	}
	if !e.ready {
		if err := e.init(); err != nil {
			return err
		}
		// The previous-image RAM is undefined after reset.
		partial = false
	}

	toPanelRAM(buf, e.rotation, e.ramW, e.ram)

	if err := e.setCursor(); err != nil {
		return err
	}
	if err := e.command(cmdWriteBW, e.ram...); err != nil {
		return err
	}
	if !partial {
		if err := e.setCursor(); err != nil {
			return err
		}
		if err := e.command(cmdWritePrevious, e.ram...); err != nil {
			return err
		}
	}

	seq := byte(seqFull)
	if partial {
		seq = seqPartial
	}
	if err := e.command(cmdUpdateCtrl2, seq); err != nil {
		return err
	}
	if err := e.command(cmdActivate); err != nil {
		return err
	}
	if err := e.waitIdle(); err != nil {
		return err
	}

	if partial {
		// Keep the differential base in step with what is on screen.
		if err := e.setCursor(); err != nil {
			return err
		}
		return e.command(cmdWritePrevious, e.ram...)
	}
	return nil
}

// Sleep enters deep sleep. The next Refresh resets and re-initializes.
func (e *EPD) Sleep() error {
	if !e.ready {
		return nil
	}
	e.ready = false
	return e.command(cmdDeepSleep, 0x01)
}

// Close puts the panel to sleep and releases the SPI port.
func (e *EPD) Close() error {
	serr := e.Sleep()
	if err := e.port.Close(); err != nil {
		return err
	}
	return serr
}

func (e *EPD) init() error {
	if err := e.reset(); err != nil {
		return err
	}
	if err := e.command(cmdSWReset); err != nil {
		return err
	}
	if err := e.waitIdle(); err != nil {
		return err
	}

	last := e.ramH - 1
	steps := []struct {
		cmd  byte
		data []byte
	}{
		{cmdDriverOutput, []byte{byte(last), byte(last >> 8), 0x00}},
		{cmdDataEntry, []byte{0x03}}, // X then Y increment
		{cmdRAMXRange, []byte{0x00, byte(e.ramW/8 - 1)}},
		{cmdRAMYRange, []byte{0x00, 0x00, byte(last), byte(last >> 8)}},
		{cmdBorder, []byte{0x05}},
		{cmdUpdateCtrl1, []byte{0x00, 0x80}},
		{cmdTempSensor, []byte{0x80}},
	}
	for _, s := range steps {
		if err := e.command(s.cmd, s.data...); err != nil {
			return err
		}
	}
	if err := e.waitIdle(); err != nil {
		return err
	}
	e.ready = true
	slog.Debug("[DISP] Panel initialized")
	return nil
}

func (e *EPD) reset() error {
	for _, step := range []struct {
		level gpio.Level
		wait  time.Duration
	}{
		{gpio.High, 10 * time.Millisecond},
		{gpio.Low, 2 * time.Millisecond},
		{gpio.High, 10 * time.Millisecond},
	} {
		if err := e.rst.Out(step.level); err != nil {
			return fmt.Errorf("display: reset pin: %w", err)
		}
		time.Sleep(step.wait)
	}
	return nil
}

func (e *EPD) setCursor() error {
	if err := e.command(cmdRAMXCounter, 0x00); err != nil {
		return err
	}
	return e.command(cmdRAMYCounter, 0x00, 0x00)
}

// command sends cmd with DC low followed by data with DC high.
func (e *EPD) command(cmd byte, data ...byte) error {
	if err := e.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("display: dc pin: %w", err)
	}
	if err := e.conn.Tx([]byte{cmd}, nil); err != nil {
		return fmt.Errorf("display: command 0x%02X: %w", cmd, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := e.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("display: dc pin: %w", err)
	}
	for len(data) > 0 {
		n := min(len(data), maxTx)
		if err := e.conn.Tx(data[:n], nil); err != nil {
			return fmt.Errorf("display: data for 0x%02X: %w", cmd, err)
		}
		data = data[n:]
	}
	return nil
}

// waitIdle polls BUSY, which the controller holds high while working.
func (e *EPD) waitIdle() error {
	deadline := time.Now().Add(e.busyTimeout)
	for e.busy.Read() == gpio.High {
		if time.Now().After(deadline) {
			return errBusyTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// toPanelRAM converts a canvas buffer to panel RAM order for rotation
// quarter turns. Panel RAM is row-major, MSB first, ramW pixels wide, and
// uses a set bit for white.
func toPanelRAM(canvas []byte, rotation, ramW int, dst []byte) {
	for i := range dst {
		dst[i] = 0xFF
	}
	stride := ramW / 8
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if canvas[y*bytesPerRow+x/8]&(0x80>>uint(x%8)) == 0 {
				continue
			}
			var xn, yn int
			switch rotation {
			case 1:
				xn, yn = frame.Height-1-y, x
			case 2:
				xn, yn = frame.Width-1-x, frame.Height-1-y
			case 3:
				xn, yn = y, frame.Width-1-x
			default:
				xn, yn = x, y
			}
			dst[yn*stride+xn/8] &^= 0x80 >> uint(xn%8)
		}
	}
}

// Compile-time check that EPD implements Panel.
var _ Panel = (*EPD)(nil)
