// Package energy provides a pure-Go [vad.Engine] that classifies frames by RMS
// energy. It needs no cgo and is the fallback when WebRTC VAD is unavailable.
package energy

import (
	"fmt"
	"sync"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Thresholds holds the default RMS speech threshold per [vad.Mode]. More
// aggressive modes need a louder signal.
var Thresholds = map[vad.Mode]float64{
	vad.ModeNormal:         0.010,
	vad.ModeLowBitrate:     0.015,
	vad.ModeAggressive:     0.020,
	vad.ModeVeryAggressive: 0.030,
}

// Engine creates energy VAD sessions.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	threshold := cfg.SpeechThreshold
	if threshold == 0 {
		threshold = Thresholds[cfg.Mode]
	}
	return &session{
		cfg:       cfg,
		threshold: threshold,
		hyst:      vad.NewHysteresis(cfg),
	}, nil
}

type session struct {
	mu        sync.Mutex
	cfg       vad.Config
	threshold float64
	hyst      *vad.Hysteresis
	closed    bool
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
	rms := audio.RMS(frame)
	ev := s.hyst.Observe(rms >= s.threshold)
	ev.Probability = min(rms/s.threshold/2, 1)
	return ev, nil
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hyst.Reset()
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
