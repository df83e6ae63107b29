package fetch

import (
	"io"
	"time"
)

// readChunkSize is the size of each read from the response body.
const readChunkSize = 512

type chunk struct {
	data []byte
	err  error
}

// pump reads r on its own goroutine so the caller can apply deadlines and
// idle gaps to a blocking body. Closing stop ends the goroutine once its
// current Read returns.
type pump struct {
	ch   chan chunk
	stop chan struct{}
}

func startPump(r io.Reader) *pump {
	p := &pump{ch: make(chan chunk), stop: make(chan struct{})}
	go func() {
		for {
			buf := make([]byte, readChunkSize)
			n, err := r.Read(buf)
			if n > 0 {
				select {
				case p.ch <- chunk{data: buf[:n]}:
				case <-p.stop:
					return
				}
			}
			if err != nil {
				select {
				case p.ch <- chunk{err: err}:
				case <-p.stop:
				}
				return
			}
		}
	}()
	return p
}

func (p *pump) close() {
	close(p.stop)
}

// next waits for the next chunk until deadline. ok is false on timeout.
func (p *pump) next(deadline time.Time) (c chunk, ok bool) {
	wait := time.Until(deadline)
	if wait <= 0 {
		return chunk{}, false
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case c = <-p.ch:
		return c, true
	case <-t.C:
		return chunk{}, false
	}
}
