package rpc

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthPending
	StateAuthenticated
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthPending:
		return "auth_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// transitions lists the allowed edges. Closing is reachable from anywhere
// (explicit close, fatal auth); every state may fall back to Disconnected
// when the socket is lost.
var transitions = map[State][]State{
	StateDisconnected:  {StateConnecting, StateClosing},
	StateConnecting:    {StateAuthPending, StateAuthenticated, StateDisconnected, StateClosing},
	StateAuthPending:   {StateAuthenticated, StateDisconnected, StateClosing},
	StateAuthenticated: {StateDisconnected, StateClosing},
	StateClosing:       {StateDisconnected},
}

// CanTransition reports whether from -> to is a valid edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
