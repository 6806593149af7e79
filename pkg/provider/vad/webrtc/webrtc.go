//go:build cgo

// Package webrtc provides a [vad.Engine] backed by the WebRTC voice activity
// detector (via cgo).
//
// The detector accepts 10, 20 or 30 ms frames of 16-bit mono PCM at 8, 16, 32
// or 48 kHz. Mode maps directly to the WebRTC aggressiveness levels 0–3.
package webrtc

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Engine creates WebRTC VAD sessions. It is stateless and safe for concurrent
// use.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	det, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create detector: %w", err)
	}
	if !det.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameSize) {
		return nil, fmt.Errorf("webrtc vad: unsupported rate %d with frame size %d", cfg.SampleRate, cfg.FrameSize)
	}
	if err := det.SetMode(int(cfg.Mode)); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %s: %w", cfg.Mode, err)
	}
	return &session{
		det:  det,
		cfg:  cfg,
		hyst: vad.NewHysteresis(cfg),
	}, nil
}

type session struct {
	mu     sync.Mutex
	det    *webrtcvad.VAD
	cfg    vad.Config
	hyst   *vad.Hysteresis
	closed bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, vad.ErrClosed
	}
	if len(frame) != s.cfg.FrameBytes() {
		return vad.VADEvent{}, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.cfg.FrameBytes())
	}
	active, err := s.det.Process(s.cfg.SampleRate, frame)
	if err != nil {
		return vad.VADEvent{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	return s.hyst.Observe(active), nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hyst.Reset()
}

// Close drops the detector. The C state is released by the binding's
// finalizer.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.det = nil
	return nil
}

var _ vad.Engine = (*Engine)(nil)
