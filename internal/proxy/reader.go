package proxy

import (
	"context"
	"errors"
	"io"
	"time"
)

var errProbeDeadline = errors.New("probe deadline")

type readResult struct {
	data []byte
	err  error
}

// chunkReader reads an upstream body on its own goroutine so that a wait for
// the next chunk can be abandoned without losing the read. An abandoned read
// is picked up by the following call to next.
type chunkReader struct {
	body    io.Reader
	want    chan int
	got     chan readResult
	done    chan struct{}
	pending bool
}

func newChunkReader(body io.Reader) *chunkReader {
	r := &chunkReader{
		body: body,
		want: make(chan int),
		got:  make(chan readResult, 1),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *chunkReader) loop() {
	for {
		select {
		case n := <-r.want:
			buf := make([]byte, n)
			k, err := r.body.Read(buf)
			r.got <- readResult{data: buf[:k], err: err}
			if err != nil {
				return
			}
		case <-r.done:
			return
		}
	}
}

// next returns up to max bytes. It gives up with errProbeDeadline when
// deadline fires first. next must not be called again after it returned a
// read error.
func (r *chunkReader) next(ctx context.Context, max int, deadline <-chan time.Time) ([]byte, error) {
	if !r.pending {
		r.want <- max
		r.pending = true
	}
	select {
	case res := <-r.got:
		r.pending = false
		return res.data, res.err
	case <-deadline:
		return nil, errProbeDeadline
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop ends the read goroutine once its current read returns. The caller
// still has to close the body to unblock a read in progress.
func (r *chunkReader) stop() { close(r.done) }
