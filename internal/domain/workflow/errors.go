package workflow

import "errors"

var (
	// ErrUnknownState is returned when a state is not part of the workflow model
	ErrUnknownState = errors.New("unknown workflow state")

	// ErrInvalidTransition is returned when a requested transition has no edge in the graph
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalState is returned when transitioning out of a terminal state
	ErrTerminalState = errors.New("workflow is in a terminal state")

	// ErrUnauthorizedActor is returned when the actor lacks permission for the target transition
	ErrUnauthorizedActor = errors.New("actor not authorized for transition")

	// ErrNotFound is returned when a workflow instance does not exist
	ErrNotFound = errors.New("workflow not found")

	// ErrVersionConflict is returned when a save loses an optimistic concurrency race
	ErrVersionConflict = errors.New("workflow version conflict")

	// ErrPersistenceUnavailable is returned when the store keeps failing after bounded retries
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrCircuitOpen is returned when the transition circuit breaker rejects calls
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout is returned when a transition attempt exceeds its overall deadline
	ErrTimeout = errors.New("transition timed out")

	// ErrDuplicateApplication is returned when a workflow already exists for an application
	ErrDuplicateApplication = errors.New("workflow already exists for application")
)
