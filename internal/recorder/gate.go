package recorder

// GateState is the position of the VAD gate.
type GateState int

const (
	// GateWaiting means no speech has been detected yet.
	GateWaiting GateState = iota

	// GateRecording means the detector reported speech and the gate is open.
	GateRecording
)

func (s GateState) String() string {
	if s == GateRecording {
		return "recording"
	}
	return "waiting_for_speech"
}

// Transition is the gate's reaction to one classified frame.
type Transition int

const (
	// NoTransition leaves the gate unchanged.
	NoTransition Transition = iota

	// SpeechStarted moves the gate from waiting to recording.
	SpeechStarted

	// SpeechEnded moves the gate from recording back to waiting. The capture
	// session ends when this happens.
	SpeechEnded
)

// Gate is the two-state VAD gate. The detector's own hysteresis has already
// been applied to the decisions it observes, so the gate reacts to each
// frame immediately.
type Gate struct {
	state  GateState
	opened bool
}

// Observe feeds one classified frame.
func (g *Gate) Observe(speech bool) Transition {
	switch {
	case speech && g.state == GateWaiting:
		g.state = GateRecording
		g.opened = true
		return SpeechStarted
	case !speech && g.state == GateRecording:
		g.state = GateWaiting
		return SpeechEnded
	default:
		return NoTransition
	}
}

// State returns the current position.
func (g *Gate) State() GateState { return g.state }

// Opened reports whether speech was ever detected.
func (g *Gate) Opened() bool { return g.opened }
