// Package display renders frames, quotes and status screens onto a 1bpp
// canvas and pushes it to the e-paper panel.
package display

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/chaz8081/inkframe/internal/frame"
)

// bytesPerRow is the canvas stride.
const bytesPerRow = frame.Width / 8

// glyphFace is the 7x13 fixed font with its inter-glyph gap removed: the
// masks are 6 pixels wide, so a 6 pixel advance fits 48 columns across the
// panel.
var glyphFace = &basicfont.Face{
	Advance: 6,
	Width:   basicfont.Face7x13.Width,
	Height:  basicfont.Face7x13.Height,
	Ascent:  basicfont.Face7x13.Ascent,
	Descent: basicfont.Face7x13.Descent,
	Mask:    basicfont.Face7x13.Mask,
	Ranges:  basicfont.Face7x13.Ranges,
}

// Canvas is a Width x Height monochrome image stored row-major, MSB first,
// with a set bit meaning black: the same layout as the server bitmap.
// It implements draw.Image, converting colors with image1bit.BitModel
// (image1bit.On is white).
type Canvas struct {
	Pix []byte
}

// NewCanvas returns a white canvas.
func NewCanvas() *Canvas {
	return &Canvas{Pix: make([]byte, frame.BitmapSize)}
}

func (c *Canvas) ColorModel() color.Model { return image1bit.BitModel }

func (c *Canvas) Bounds() image.Rectangle { return image.Rect(0, 0, frame.Width, frame.Height) }

func (c *Canvas) At(x, y int) color.Color {
	return image1bit.Bit(!c.Black(x, y))
}

func (c *Canvas) Set(x, y int, col color.Color) {
	on := image1bit.BitModel.Convert(col).(image1bit.Bit)
	c.SetBlack(x, y, !bool(on))
}

// Black reports whether the pixel is black. Out of range pixels are white.
func (c *Canvas) Black(x, y int) bool {
	if !image.Pt(x, y).In(c.Bounds()) {
		return false
	}
	return c.Pix[y*bytesPerRow+x/8]&(0x80>>uint(x%8)) != 0
}

// SetBlack sets or clears one pixel. Out of range pixels are ignored.
func (c *Canvas) SetBlack(x, y int, black bool) {
	if !image.Pt(x, y).In(c.Bounds()) {
		return
	}
	i, mask := y*bytesPerRow+x/8, byte(0x80>>uint(x%8))
	if black {
		c.Pix[i] |= mask
	} else {
		c.Pix[i] &^= mask
	}
}

// Clear fills the canvas with white.
func (c *Canvas) Clear() {
	for i := range c.Pix {
		c.Pix[i] = 0
	}
}

// Blit copies a full-frame bitmap onto the canvas. Short input is copied
// as far as it goes.
func (c *Canvas) Blit(bmp []byte) {
	copy(c.Pix, bmp)
}

// FillRect fills r, clipped to the canvas.
func (c *Canvas) FillRect(r image.Rectangle, black bool) {
	r = r.Intersect(c.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c.SetBlack(x, y, black)
		}
	}
}

// HLine draws a black horizontal line from x0 to x1 inclusive.
func (c *Canvas) HLine(x0, x1, y int) {
	for x := x0; x <= x1; x++ {
		c.SetBlack(x, y, true)
	}
}

// VLine draws a black vertical line from y0 to y1 inclusive.
func (c *Canvas) VLine(x, y0, y1 int) {
	for y := y0; y <= y1; y++ {
		c.SetBlack(x, y, true)
	}
}

// RoundRect outlines the w x h rectangle at (x, y) with corner radius r.
func (c *Canvas) RoundRect(x, y, w, h, r int) {
	c.HLine(x+r, x+w-1-r, y)
	c.HLine(x+r, x+w-1-r, y+h-1)
	c.VLine(x, y+r, y+h-1-r)
	c.VLine(x+w-1, y+r, y+h-1-r)

	// Quarter circles, midpoint algorithm.
	cx0, cy0, cx1, cy1 := x+r, y+r, x+w-1-r, y+h-1-r
	px, py, d := 0, r, 1-r
	for px <= py {
		for _, p := range [][2]int{
			{cx1 + px, cy1 + py}, {cx1 + py, cy1 + px},
			{cx0 - px, cy1 + py}, {cx0 - py, cy1 + px},
			{cx1 + px, cy0 - py}, {cx1 + py, cy0 - px},
			{cx0 - px, cy0 - py}, {cx0 - py, cy0 - px},
		} {
			c.SetBlack(p[0], p[1], true)
		}
		if d < 0 {
			d += 2*px + 3
		} else {
			d += 2*(px-py) + 5
			py--
		}
		px++
	}
}

// Text draws s in black with its baseline at y, starting at x.
func (c *Canvas) Text(x, y int, s string) {
	d := font.Drawer{
		Dst:  c,
		Src:  image.Black,
		Face: glyphFace,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// TextScaled draws s magnified by scale with its top-left corner at (x, y).
func (c *Canvas) TextScaled(x, y int, s string, scale int) {
	if scale <= 1 {
		c.Text(x, y+glyphFace.Ascent, s)
		return
	}
	w := len([]rune(s)) * glyphFace.Advance
	h := glyphFace.Height
	src := image.NewAlpha(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  src,
		Src:  image.Opaque,
		Face: glyphFace,
		Dot:  fixed.P(0, glyphFace.Ascent),
	}
	d.DrawString(s)

	big := image.NewAlpha(image.Rect(0, 0, w*scale, h*scale))
	xdraw.NearestNeighbor.Scale(big, big.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	for py := 0; py < big.Rect.Dy(); py++ {
		for px := 0; px < big.Rect.Dx(); px++ {
			if big.AlphaAt(px, py).A >= 0x80 {
				c.SetBlack(x+px, y+py, true)
			}
		}
	}
}

// Compile-time check that Canvas implements draw.Image.
var _ xdraw.Image = (*Canvas)(nil)
