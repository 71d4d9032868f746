package session

// State is a session lifecycle state.
type State int

const (
	StateCreating State = iota
	StateAwaitingPairing
	StateReady
	StateDisconnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var transitions = map[State][]State{
	StateCreating:        {StateAwaitingPairing, StateReady, StateDisconnected},
	StateAwaitingPairing: {StateAwaitingPairing, StateReady, StateDisconnected},
	StateReady:           {StateDisconnected},
	StateDisconnected:    {StateCreating, StateTerminated},
}

// CanTransition reports whether from -> to is a legal move driven by the
// provider. Only Disconnected leads to Terminated; an explicit delete ends a
// session from any live state without consulting this table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
