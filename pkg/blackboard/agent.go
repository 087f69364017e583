package blackboard

import "context"

// Agent is the contract every pipeline participant implements.
//
// Process receives a deep-copied snapshot of the item and returns an Outcome
// describing what changed. It must not write to the store itself; the orchestrator
// applies the outcome, which keeps a single writer per item even when many items
// are processed in parallel. Process may be called any number of times for the
// same item (once per pass) and should honour ctx cancellation.
type Agent interface {
	Process(ctx context.Context, snap *Snapshot) (*Outcome, error)
}

// AgentFunc adapts an ordinary function to the Agent interface.
type AgentFunc func(ctx context.Context, snap *Snapshot) (*Outcome, error)

// Process calls f(ctx, snap).
func (f AgentFunc) Process(ctx context.Context, snap *Snapshot) (*Outcome, error) {
	return f(ctx, snap)
}
