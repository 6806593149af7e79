package recorder

// window keeps the most recent size bytes of a stream in a fixed buffer so
// the detector always sees the tail of the capture without re-slicing the
// whole accumulation.
type window struct {
	buf    []byte
	filled int
}

func newWindow(size int) *window {
	return &window{buf: make([]byte, size)}
}

// push appends p, discarding the oldest bytes.
func (w *window) push(p []byte) {
	size := len(w.buf)
	if len(p) >= size {
		copy(w.buf, p[len(p)-size:])
		w.filled = size
		return
	}
	copy(w.buf, w.buf[len(p):])
	copy(w.buf[size-len(p):], p)
	w.filled = min(w.filled+len(p), size)
}

// full reports whether a complete window has been captured.
func (w *window) full() bool { return w.filled == len(w.buf) }

// bytes returns the window contents, valid until the next push.
func (w *window) bytes() []byte { return w.buf }
