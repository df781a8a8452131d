package verify

import "testing"

func TestNormalizeState(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want State
	}{
		{"QUEUED", StateQueued},
		{"PLANNING", StatePlanning},
		{"PLAN_REVIEW", StatePlanReview},
		{"IN_PROGRESS", StateInProgress},
		{"COMPLETED", StateCompleted},
		{"FAILED", StateFailed},
		{"", StateQueued},
		{"SOMETHING_NEW", StateQueued},
		{"queued", StateQueued},
		// CREATE_FAILED is local-only; a remote claiming it is treated
		// as unrecognized.
		{"CREATE_FAILED", StateQueued},
	}
	for _, tc := range cases {
		if got := NormalizeState(tc.raw); got != tc.want {
			t.Errorf("NormalizeState(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestStateProgress(t *testing.T) {
	t.Parallel()

	cases := map[State]int{
		StateQueued:       10,
		StatePlanning:     30,
		StatePlanReview:   45,
		StateInProgress:   70,
		StateCompleted:    100,
		StateFailed:       100,
		StateCreateFailed: 100,
	}
	for state, want := range cases {
		if got := state.Progress(); got != want {
			t.Errorf("%v.Progress() = %d, want %d", state, got, want)
		}
	}
	if got := State("bogus").Progress(); got != 0 {
		t.Errorf("unknown state progress = %d, want 0", got)
	}
}

func TestStateClassification(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateQueued, StatePlanning, StatePlanReview, StateInProgress} {
		if !s.IsActive() || s.IsTerminal() {
			t.Errorf("%v should be active and not terminal", s)
		}
	}
	for _, s := range []State{StateCompleted, StateFailed, StateCreateFailed} {
		if s.IsActive() || !s.IsTerminal() {
			t.Errorf("%v should be terminal and not active", s)
		}
	}
}

func TestStateLabel(t *testing.T) {
	t.Parallel()

	if got := StatePlanReview.Label(); got != "Plan review" {
		t.Errorf("StatePlanReview.Label() = %q", got)
	}
	if got := State("bogus").Label(); got != "Unknown" {
		t.Errorf("unknown label = %q", got)
	}
}
