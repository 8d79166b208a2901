package ingest

// State is the position of a parse in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateHeaderPending
	StateHeaderValid
	StateHeaderInvalid
	StateRowStreaming
	StateCompleted
	StateTruncatedCompleted
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateHeaderPending:      "header_pending",
	StateHeaderValid:        "header_valid",
	StateHeaderInvalid:      "header_invalid",
	StateRowStreaming:       "row_streaming",
	StateCompleted:          "completed",
	StateTruncatedCompleted: "truncated_completed",
	StateFailed:             "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

var transitions = map[State][]State{
	StateIdle:          {StateHeaderPending},
	StateHeaderPending: {StateHeaderValid, StateHeaderInvalid, StateCompleted, StateFailed},
	StateHeaderValid:   {StateRowStreaming, StateFailed},
	StateRowStreaming:  {StateCompleted, StateTruncatedCompleted, StateFailed},
}

// CanTransition reports whether a parse in s may move to next. A file
// with a header and no data goes straight from HeaderPending to Completed.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	switch s {
	case StateHeaderInvalid, StateCompleted, StateTruncatedCompleted, StateFailed:
		return true
	}
	return false
}

// Succeeded reports whether the parse finished without error.
func (s State) Succeeded() bool {
	return s == StateCompleted || s == StateTruncatedCompleted
}

// MarshalText lets State appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
