package vad

// Hysteresis debounces raw per-frame speech decisions into [VADEvent]s.
// A zero duration means a single frame suffices. Not safe for concurrent use.
type Hysteresis struct {
	speechFrames  int
	silenceFrames int

	speechRun  int
	silenceRun int
	speaking   bool
}

// NewHysteresis returns a Hysteresis for cfg's frame length and durations.
func NewHysteresis(cfg Config) *Hysteresis {
	frameMs := cfg.FrameMs()
	return &Hysteresis{
		speechFrames:  framesFor(cfg.SpeechDurationMs, frameMs),
		silenceFrames: framesFor(cfg.SilenceDurationMs, frameMs),
	}
}

// framesFor rounds ms up to whole frames, with a minimum of one.
func framesFor(ms, frameMs int) int {
	if frameMs <= 0 || ms <= 0 {
		return 1
	}
	n := (ms + frameMs - 1) / frameMs
	return max(n, 1)
}

// Observe feeds one raw decision and returns the debounced event.
func (h *Hysteresis) Observe(raw bool) VADEvent {
	p := 0.0
	if raw {
		p = 1
		h.speechRun++
		h.silenceRun = 0
		if !h.speaking && h.speechRun >= h.speechFrames {
			h.speaking = true
			return VADEvent{Type: VADSpeechStart, Probability: p}
		}
	} else {
		h.silenceRun++
		h.speechRun = 0
		if h.speaking && h.silenceRun >= h.silenceFrames {
			h.speaking = false
			return VADEvent{Type: VADSpeechEnd, Probability: p}
		}
	}

	if h.speaking {
		return VADEvent{Type: VADSpeechContinue, Probability: p}
	}
	return VADEvent{Type: VADSilence, Probability: p}
}

// Speaking reports the current debounced state.
func (h *Hysteresis) Speaking() bool { return h.speaking }

// Reset returns to the initial non-speaking state.
func (h *Hysteresis) Reset() {
	h.speechRun = 0
	h.silenceRun = 0
	h.speaking = false
}
