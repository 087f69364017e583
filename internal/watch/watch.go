package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
)

// DefaultPollInterval is how often PollForTerminal re-reads the item.
const DefaultPollInterval = 200 * time.Millisecond

// PollForTerminal polls an item until it reaches completed or rejected.
// Returns the final item, or an error if the timeout expires first.
// A missing item is an error straight away: items are never deleted.
func PollForTerminal(ctx context.Context, store blackboard.Store, itemID string, timeout time.Duration) (*blackboard.Item, error) {
	return pollForTerminal(ctx, store, itemID, timeout, DefaultPollInterval)
}

func pollForTerminal(ctx context.Context, store blackboard.Store, itemID string, timeout, interval time.Duration) (*blackboard.Item, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		item, err := store.Get(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("failed to query item: %w", err)
		}
		if item.State.IsTerminal() {
			return item, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return item, fmt.Errorf("timeout waiting for item %s after %v (state: %s)", itemID, timeout, item.State)

		case <-ticker.C:
		}
	}
}
