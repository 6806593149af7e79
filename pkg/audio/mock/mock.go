// Package mock provides in-memory test doubles for the [audio.Opener] and
// [audio.Source] interfaces.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	src := &mock.Source{Script: mock.FullReads(10)}
//	opener := &mock.Opener{Source: src}
//	s, err := opener.Open(ctx, audio.OpenConfig{Format: audio.Capture})
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
)

// Full, used as [Read.N], makes a scripted read fill the whole buffer.
const Full = -1

// Read is one scripted [Source.Read] outcome.
type Read struct {
	// N is the byte count to return. [Full] fills the caller's buffer.
	// Values larger than the buffer are clamped.
	N int

	// Err is returned alongside N.
	Err error
}

// FullReads returns a script of n reads that each fill the caller's buffer.
func FullReads(n int) []Read {
	out := make([]Read, n)
	for i := range out {
		out[i] = Read{N: Full}
	}
	return out
}

// ─── Source ──────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Script is consumed one entry per Read call.
	Script []Read

	// Endless makes Read return full buffers once Script is exhausted.
	// When false, an exhausted script yields (0, io.EOF).
	Endless bool

	// Gate, if non-nil, is received from before every Read returns. Closing it
	// releases all pending and future reads.
	Gate <-chan struct{}

	// Fill is the byte value written into every returned sample.
	Fill byte

	// CloseErr is returned by Close.
	CloseErr error

	// ReadCalls records the buffer length of every Read call in order.
	ReadCalls []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Read implements [audio.Source].
func (s *Source) Read(p []byte) (int, error) {
	s.mu.Lock()
	gate := s.Gate
	s.ReadCalls = append(s.ReadCalls, len(p))
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var r Read
	switch {
	case len(s.Script) > 0:
		r = s.Script[0]
		s.Script = s.Script[1:]
	case s.Endless:
		r = Read{N: Full}
	default:
		return 0, io.EOF
	}

	n := r.N
	if n == Full || n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = s.Fill
	}
	return n, r.Err
}

// Close implements [audio.Source]. It records the call and returns CloseErr.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Closed reports whether Close was called at least once.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount > 0
}

// Reads returns a copy of the recorded Read buffer lengths.
func (s *Source) Reads() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.ReadCalls))
	copy(out, s.ReadCalls)
	return out
}

// ─── Opener ──────────────────────────────────────────────────────────────────

// Opener is a mock implementation of [audio.Opener].
type Opener struct {
	mu sync.Mutex

	// Source is returned by Open. When nil, each Open returns a new endless
	// [Source].
	Source audio.Source

	// OpenErr, if non-nil, is returned by Open instead of a source.
	OpenErr error

	// MinBuffer is returned by MinBufferSize.
	MinBuffer int

	// OpenCalls records every OpenConfig passed to Open.
	OpenCalls []audio.OpenConfig
}

// MinBufferSize implements [audio.Opener].
func (o *Opener) MinBufferSize(audio.Format) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.MinBuffer
}

// Open implements [audio.Opener].
func (o *Opener) Open(_ context.Context, cfg audio.OpenConfig) (audio.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.OpenCalls = append(o.OpenCalls, cfg)
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	if o.Source != nil {
		return o.Source, nil
	}
	return &Source{Endless: true}, nil
}

// Calls returns a copy of the recorded Open configurations.
func (o *Opener) Calls() []audio.OpenConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]audio.OpenConfig, len(o.OpenCalls))
	copy(out, o.OpenCalls)
	return out
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Opener = (*Opener)(nil)
)
