package orchestrator

import (
	"context"
	"fmt"

	"github.com/dyluth/chalk/pkg/blackboard"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type agentReply struct {
	outcome *blackboard.Outcome
	err     error
}

// invoke calls one agent under the configured timeout. Errors, panics,
// timeouts, nil outcomes and out-of-range scores all come back as
// *blackboard.AgentError.
//
// The call runs on its own goroutine so an agent that ignores ctx cannot
// stall the pass past its deadline. Such an agent's goroutine finishes in
// the background and its late reply is discarded.
func (e *Engine) invoke(ctx context.Context, role blackboard.Role, agent blackboard.Agent, snap *blackboard.Snapshot) (*blackboard.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AgentTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "chalk.agent_process",
		trace.WithAttributes(
			attribute.String("chalk.item_id", snap.ID),
			attribute.String("chalk.role", string(role)),
		))
	defer span.End()

	fail := func(err error) (*blackboard.Outcome, error) {
		agentErr := &blackboard.AgentError{Role: role, ItemID: snap.ID, Err: err}
		span.RecordError(agentErr)
		span.SetStatus(codes.Error, err.Error())
		return nil, agentErr
	}

	replies := make(chan agentReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				replies <- agentReply{err: fmt.Errorf("agent panicked: %v", r)}
			}
		}()
		outcome, err := agent.Process(ctx, snap.Clone())
		replies <- agentReply{outcome: outcome, err: err}
	}()

	select {
	case reply := <-replies:
		if reply.err != nil {
			return fail(reply.err)
		}
		if reply.outcome == nil {
			return fail(fmt.Errorf("agent returned no outcome"))
		}
		if err := reply.outcome.Validate(); err != nil {
			return fail(fmt.Errorf("invalid outcome: %w", err))
		}
		return reply.outcome, nil

	case <-ctx.Done():
		return fail(ctx.Err())
	}
}
