package verify

// activeStates are the non-terminal states counted against the
// concurrent session cap.
var activeStates = map[State]bool{
	StateQueued:     true,
	StatePlanning:   true,
	StatePlanReview: true,
	StateInProgress: true,
}

// remoteStates are the states the remote agent may report. CREATE_FAILED
// is local-only and intentionally absent.
var remoteStates = map[State]bool{
	StateQueued:     true,
	StatePlanning:   true,
	StatePlanReview: true,
	StateInProgress: true,
	StateCompleted:  true,
	StateFailed:     true,
}

// IsActive reports whether the state counts toward the session cap.
func (s State) IsActive() bool {
	return activeStates[s]
}

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCreateFailed:
		return true
	default:
		return false
	}
}

// NormalizeState maps a remote-reported state string onto the known
// enum. Unrecognized or empty values default to QUEUED so an unexpected
// remote value can never crash state derivation or force a card into
// the local-only CREATE_FAILED terminal state.
func NormalizeState(raw string) State {
	if raw == "" {
		return StateQueued
	}
	s := State(raw)
	if remoteStates[s] {
		return s
	}
	return StateQueued
}

// Progress maps a state to its fixed progress percentage.
func (s State) Progress() int {
	switch s {
	case StateQueued:
		return 10
	case StatePlanning:
		return 30
	case StatePlanReview:
		return 45
	case StateInProgress:
		return 70
	case StateCompleted, StateFailed, StateCreateFailed:
		return 100
	default:
		return 0
	}
}

// Label returns the human-readable form of the state.
func (s State) Label() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StatePlanning:
		return "Planning"
	case StatePlanReview:
		return "Plan review"
	case StateInProgress:
		return "In progress"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCreateFailed:
		return "Create failed"
	default:
		return "Unknown"
	}
}
