package engine

// State is the externally observed conversation state. It has a single
// authoritative copy on the Engine and is the source of truth for whether
// microphone frames are forwarded to the network.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateSpeaking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
