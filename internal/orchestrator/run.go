package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
	"golang.org/x/sync/errgroup"
)

// RunSummary counts what one Run call did.
type RunSummary struct {
	Iterations    int           `json:"iterations"`
	Passes        int           `json:"passes"`
	Completed     int           `json:"completed"`
	Rejected      int           `json:"rejected"`
	Revised       int           `json:"revised"`
	AgentFailures int           `json:"agent_failures"`
	Duration      time.Duration `json:"duration"`
}

func (s *RunSummary) record(r *Result) {
	s.Passes++
	s.AgentFailures += len(r.Failures)
	switch r.State {
	case blackboard.StateCompleted:
		s.Completed++
	case blackboard.StateRejected:
		s.Rejected++
	case blackboard.StateNeedsRevision:
		s.Revised++
	}
}

// Run processes the backlog until no pending or revising items remain or
// maxIterations iterations have run. A maxIterations of zero or less uses the
// configured default.
//
// Each iteration processes every pending item, then moves every item awaiting
// revision back to pending and processes it again. Items within a phase run
// on up to Config.Workers goroutines.
//
// Store failures stop the loop and are returned. Cancellation is checked
// between iterations and between items; the summary so far is returned
// together with ctx.Err().
func (e *Engine) Run(ctx context.Context, maxIterations int) (*RunSummary, error) {
	if maxIterations <= 0 {
		maxIterations = e.cfg.MaxIterations
	}

	start := time.Now()
	summary := &RunSummary{}
	defer func() { summary.Duration = time.Since(start) }()

	e.logEvent("run_started", map[string]interface{}{
		"max_iterations": maxIterations,
		"workers":        e.cfg.Workers,
	})

	for summary.Iterations < maxIterations {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		pending, err := e.store.ListByState(ctx, blackboard.StatePending, "")
		if err != nil {
			return summary, err
		}
		if err := e.processBatch(ctx, pending, false, summary); err != nil {
			return summary, err
		}

		revising, err := e.store.ListByState(ctx, blackboard.StateNeedsRevision, "")
		if err != nil {
			return summary, err
		}
		if err := e.processBatch(ctx, revising, true, summary); err != nil {
			return summary, err
		}

		if len(pending) == 0 && len(revising) == 0 {
			e.logEvent("backlog_empty", map[string]interface{}{
				"iterations": summary.Iterations,
			})
			break
		}

		summary.Iterations++
		e.logEvent("iteration_completed", map[string]interface{}{
			"iteration": summary.Iterations,
			"pending":   len(pending),
			"revising":  len(revising),
		})

		if summary.Iterations < maxIterations {
			if err := e.idle(ctx); err != nil {
				return summary, err
			}
		}
	}

	e.logEvent("run_finished", map[string]interface{}{
		"iterations":     summary.Iterations,
		"passes":         summary.Passes,
		"completed":      summary.Completed,
		"rejected":       summary.Rejected,
		"revised":        summary.Revised,
		"agent_failures": summary.AgentFailures,
	})
	return summary, nil
}

// processBatch runs one pass over each item on a bounded worker pool.
// With reopen set, each item is moved back to pending first.
func (e *Engine) processBatch(ctx context.Context, items []*blackboard.Item, reopen bool, summary *RunSummary) error {
	if len(items) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	var mu sync.Mutex

	for _, item := range items {
		item := item
		if gctx.Err() != nil {
			break
		}
		id := item.ID

		g.Go(func() error {
			if reopen {
				if err := e.store.SetState(gctx, id, blackboard.StatePending); err != nil {
					// Another orchestrator sharing the store already finished it.
					if errors.Is(err, blackboard.ErrInvalidTransition) {
						return nil
					}
					return err
				}
				e.logEvent("revision_started", map[string]interface{}{
					"item_id":        id,
					"revision_count": item.RevisionCount,
				})
			}

			result, err := e.ProcessItem(gctx, id)
			if err != nil {
				return err
			}

			mu.Lock()
			summary.record(result)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// idle pauses between iterations without ignoring cancellation.
func (e *Engine) idle(ctx context.Context) error {
	if e.cfg.IdleInterval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.cfg.IdleInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Serve keeps the backlog drained until ctx is cancelled. It reruns Run
// whenever the store reports a change (stores implementing
// blackboard.Subscriber) and otherwise every IdleInterval.
// Returns nil on cancellation and the first store error otherwise.
func (e *Engine) Serve(ctx context.Context) error {
	var (
		events <-chan *blackboard.ItemEvent
		errs   <-chan error
	)
	if sub, ok := e.store.(blackboard.Subscriber); ok {
		subscription, err := sub.SubscribeItemEvents(ctx)
		if err != nil {
			return err
		}
		defer subscription.Close()
		events = subscription.Events()
		errs = subscription.Errors()
	}

	interval := e.cfg.IdleInterval
	if interval <= 0 {
		interval = DefaultConfig().IdleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logEvent("serve_started", map[string]interface{}{
		"event_driven": events != nil,
		"interval_ms":  interval.Milliseconds(),
	})

	for {
		if _, err := e.Run(ctx, e.cfg.MaxIterations); err != nil {
			if ctx.Err() != nil {
				e.logEvent("serve_stopped", map[string]interface{}{})
				return nil
			}
			return err
		}

		// Our own writes during Run produce events too; drop them.
		if !drain(events) {
			events = nil
		}

		select {
		case <-ctx.Done():
			e.logEvent("serve_stopped", map[string]interface{}{})
			return nil
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			e.warnEvent("subscription_error", map[string]interface{}{
				"error": err.Error(),
			})
		case <-ticker.C:
		}
	}
}

// drain empties ch without blocking. It returns false once ch is closed.
func drain(ch <-chan *blackboard.ItemEvent) bool {
	if ch == nil {
		return true
	}
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}
