package dialog

// State is the lifecycle position of a dialogue connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateSessionStarting
	StateSessionActive
	StateSessionFinishing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSessionStarting:
		return "session_starting"
	case StateSessionActive:
		return "session_active"
	case StateSessionFinishing:
		return "session_finishing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// connectionOpen reports whether StartConnection has been sent and the
// connection has not been torn down.
func (s State) connectionOpen() bool {
	return s >= StateConnecting && s <= StateSessionFinishing
}
