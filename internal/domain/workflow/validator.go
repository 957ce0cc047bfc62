package workflow

import "fmt"

// staffOnlyTargets are transitions that must carry a staff actor identity.
var staffOnlyTargets = map[State]bool{
	StateApproved:  true,
	StateRejected:  true,
	StateCompleted: true,
}

// Validator guards transition requests before they reach persistence.
// It is pure: no side effects, safe to call repeatedly and concurrently.
type Validator struct{}

// NewValidator creates a new transition validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate decides whether the transition from the current state to the
// target is admissible. A nil return means proceed; otherwise the error is
// one of ErrTerminalState, ErrInvalidTransition, ErrUnauthorizedActor or
// ErrUnknownState.
func (v *Validator) Validate(from, to State, actor string) error {
	if !from.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownState, from)
	}
	if !to.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownState, to)
	}

	if from.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminalState, from)
	}

	ok, err := IsValidTransition(from, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if staffOnlyTargets[to] && actor == "" {
		return fmt.Errorf("%w: transition to %s requires a staff actor", ErrUnauthorizedActor, to)
	}

	return nil
}
