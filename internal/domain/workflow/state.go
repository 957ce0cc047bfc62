package workflow

import "fmt"

// State represents a workflow state in the enrollment review lifecycle
type State string

const (
	StateCreated              State = "CREATED"
	StateDocumentVerification State = "DOCUMENT_VERIFICATION"
	StateAcademicReview       State = "ACADEMIC_REVIEW"
	StateFinalReview          State = "FINAL_REVIEW"
	StateApproved             State = "APPROVED"
	StateRejected             State = "REJECTED"
	StateCompleted            State = "COMPLETED"
)

// ApplicationStatus is the externally visible status of the enrollment
// application that a workflow state maps to. Several workflow states may
// share the same application status.
type ApplicationStatus string

const (
	StatusSubmitted   ApplicationStatus = "submitted"
	StatusUnderReview ApplicationStatus = "under_review"
	StatusApproved    ApplicationStatus = "approved"
	StatusRejected    ApplicationStatus = "rejected"
)

// InitialState is the only state a workflow instance may be created in.
const InitialState = StateCreated

var validStates = map[State]bool{
	StateCreated:              true,
	StateDocumentVerification: true,
	StateAcademicReview:       true,
	StateFinalReview:          true,
	StateApproved:             true,
	StateRejected:             true,
	StateCompleted:            true,
}

var terminalStates = map[State]bool{
	StateRejected:  true,
	StateCompleted: true,
}

// transitionGraph is the directed, acyclic set of legal transitions.
// Target slices keep a stable order so AllowedNext output is deterministic.
var transitionGraph = map[State][]State{
	StateCreated:              {StateDocumentVerification, StateRejected},
	StateDocumentVerification: {StateAcademicReview, StateRejected},
	StateAcademicReview:       {StateFinalReview, StateRejected},
	StateFinalReview:          {StateApproved, StateRejected},
	StateApproved:             {StateCompleted},
	StateRejected:             {},
	StateCompleted:            {},
}

var applicationStatuses = map[State]ApplicationStatus{
	StateCreated:              StatusSubmitted,
	StateDocumentVerification: StatusUnderReview,
	StateAcademicReview:       StatusUnderReview,
	StateFinalReview:          StatusUnderReview,
	StateApproved:             StatusApproved,
	StateCompleted:            StatusApproved,
	StateRejected:             StatusRejected,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// ApplicationStatus returns the externally visible application status for the state.
func (s State) ApplicationStatus() ApplicationStatus {
	return applicationStatuses[s]
}

// AllowedNext returns the legal target states from the given state, in
// stable order. Terminal and unknown states yield an empty slice.
func AllowedNext(from State) []State {
	targets := transitionGraph[from]
	out := make([]State, len(targets))
	copy(out, targets)
	return out
}

// IsValidTransition reports whether (from, to) is an edge of the transition
// graph. Unknown or empty states are an invalid argument, signaled via
// ErrUnknownState rather than a silent false.
func IsValidTransition(from, to State) (bool, error) {
	if !from.IsValid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownState, from)
	}
	if !to.IsValid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownState, to)
	}
	for _, target := range transitionGraph[from] {
		if target == to {
			return true, nil
		}
	}
	return false, nil
}
