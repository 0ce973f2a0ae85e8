package sockwrap

import (
	"bytes"
	"io"

	"lanrelay/internal/frame"
)

// TryReadFrame implements the read half of spec §4.2/§4.3's
// read-and-dispatch step: a non-blocking attempt to pull exactly one
// frame off the stream half. Returns (nil, nil) on would-block
// (nothing buffered yet), (nil, io.EOF) once the peer's stream half has
// gone away, and (frame, nil) on success.
func (w *Wrapper) TryReadFrame() (*frame.Frame, error) {
	ready, err := w.Peek()
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}
	f := &frame.Frame{}
	if err := f.Read(streamReader{w}); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteFrame serializes and writes f to the stream half.
func (w *Wrapper) WriteFrame(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// streamReader adapts Wrapper.Read (which treats a would-block as
// (0, nil)) into an io.Reader for frame.Read's internal io.ReadFull
// calls: once TryReadFrame's Peek confirms data is queued, the rest of
// the frame is expected to arrive within the same burst, so a short
// spin-read here is reading already-buffered bytes rather than waiting
// on the network. If no byte arrives within one poll window, Read
// returns io.ErrNoProgress instead of blocking.
type streamReader struct{ w *Wrapper }

func (s streamReader) Read(p []byte) (int, error) {
	for {
		n, err := s.w.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		if done, err := s.w.Peek(); err != nil {
			return 0, err
		} else if !done {
			return 0, io.ErrNoProgress
		}
	}
}
