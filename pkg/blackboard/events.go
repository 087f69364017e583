package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ItemEventType names the kind of change an ItemEvent reports.
type ItemEventType string

const (
	// ItemEventPosted is published when a new item is created
	ItemEventPosted ItemEventType = "posted"

	// ItemEventUpdated is published after an outcome is applied or the revision count changes
	ItemEventUpdated ItemEventType = "updated"

	// ItemEventStateChanged is published after a state transition
	ItemEventStateChanged ItemEventType = "state_changed"
)

// ItemEvent is published on chalk:{instance}:item_events after every mutation.
type ItemEvent struct {
	Type        ItemEventType `json:"type"`
	ItemID      string        `json:"item_id"`
	Kind        string        `json:"kind"`
	State       State         `json:"state"`
	Role        Role          `json:"role,omitempty"`
	TimestampMs int64         `json:"timestamp_ms"`
}

// Subscriber is implemented by stores that can push change notifications.
type Subscriber interface {
	SubscribeItemEvents(ctx context.Context) (*Subscription, error)
}

// Subscription represents an active Pub/Sub subscription to item events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *ItemEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of item events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *ItemEvent {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - malformed messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeItemEvents subscribes to item events for this instance.
//
// Events are delivered on a buffered channel (size 10). Redis Pub/Sub is
// at-most-once: a slow subscriber may miss events, so consumers should treat
// them as wake-up hints and re-read the store.
func (s *RedisStore) SubscribeItemEvents(ctx context.Context) (*Subscription, error) {
	channel := ItemEventsChannel(s.instanceName)
	pubsub := s.rdb.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so no event published right
	// after this call returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, unavailable("subscribe to item events", err)
	}

	eventsChan := make(chan *ItemEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event ItemEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal item event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

func (s *RedisStore) publish(ctx context.Context, event *ItemEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal item event: %w", err)
	}
	if err := s.rdb.Publish(ctx, ItemEventsChannel(s.instanceName), data).Err(); err != nil {
		return unavailable("publish item event", err)
	}
	return nil
}

var _ Subscriber = (*RedisStore)(nil)
