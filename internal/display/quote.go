package display

import (
	"image"
	"strings"

	"github.com/chaz8081/inkframe/internal/frame"
)

// Quote footer layout.
const (
	QuoteLines    = 3
	QuoteColumns  = 48
	QuoteMaxChars = QuoteLines * QuoteColumns // 144

	quoteStripHeight = 36
	quoteLeft        = 3
	quoteFirstBase   = 12 // baseline offset of the first line below the strip top
	quoteLinePitch   = 11
)

// WrapQuote lays text out in at most QuoteLines lines of QuoteColumns
// characters. Words are separated by spaces; a word that would overflow the
// current line starts the next one, and a word longer than a whole line is
// split at the column limit. At most QuoteMaxChars non-space characters are
// kept; the rest is dropped.
func WrapQuote(text string) []string {
	var (
		lines []string
		cur   []rune
		total int
	)
	flush := func() bool {
		lines = append(lines, string(cur))
		cur = cur[:0]
		return len(lines) < QuoteLines
	}

	for _, word := range strings.Split(text, " ") {
		if word == "" {
			continue
		}
		if total >= QuoteMaxChars {
			break
		}
		w := []rune(word)

		if len(cur) > 0 && len(cur)+1+len(w) > QuoteColumns {
			if !flush() {
				return lines
			}
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		for len(w) > 0 && total < QuoteMaxChars {
			room := QuoteColumns - len(cur)
			if room == 0 {
				if !flush() {
					return lines
				}
				room = QuoteColumns
			}
			take := min(room, len(w), QuoteMaxChars-total)
			cur = append(cur, w[:take]...)
			w = w[take:]
			total += take
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}

// DrawQuote clears the bottom strip, draws its separator line and writes
// the wrapped quote into it.
func DrawQuote(c *Canvas, text string) {
	y0 := frame.Height - quoteStripHeight
	c.FillRect(image.Rect(0, y0, frame.Width, frame.Height), false)
	c.HLine(0, frame.Width-1, y0)
	for i, line := range WrapQuote(text) {
		c.Text(quoteLeft, y0+quoteFirstBase+i*quoteLinePitch, line)
	}
}
