package session

// State tracks where a session is in its lifecycle
type State int

const (
	// StateIdle is the state between connection accept and
	// start_conversation
	StateIdle State = iota
	// StateReceiving means binary frames are accepted and accumulated
	StateReceiving
	// StateFinalizing means the current utterance is being dispatched;
	// the session returns to StateReceiving when dispatch completes
	StateFinalizing
	// StateClosed is terminal
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
