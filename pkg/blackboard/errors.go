package blackboard

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation references an item id that does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidTransition is returned when a state change violates the state machine.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	// It signals infrastructure failure and stops the orchestrator's batch loop.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAgentProcessing marks a failed or timed-out agent call.
	// The orchestrator recovers these locally and never propagates them from Run.
	ErrAgentProcessing = errors.New("agent processing failed")
)

// AgentError describes one failed agent invocation.
type AgentError struct {
	Role   Role
	ItemID string
	Err    error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s failed on item %s: %v", e.Role, e.ItemID, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is / errors.As.
func (e *AgentError) Unwrap() []error {
	return []error{ErrAgentProcessing, e.Err}
}

// IsNotFound returns true if err (or anything it wraps) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable returns true if err signals an infrastructure failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func invalidTransition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
