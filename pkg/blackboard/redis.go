package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic-transaction retries when another process
// modifies an item between WATCH and EXEC.
const maxTxRetries = 10

// RedisStore is a Store backed by Redis hashes.
// All keys and channels are namespaced with the instance name.
//
// Writes from this process are serialised by a store-wide mutex; WATCH/MULTI
// transactions additionally protect each item against writers in other processes.
type RedisStore struct {
	rdb          *redis.Client
	instanceName string
	weights      Weights
	mu           sync.Mutex
	now          func() time.Time
}

// NewRedisStore creates a new store for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: chalk instance identifier (must not be empty)
//   - weights: role weight table; nil uses DefaultWeights
//
// Returns an error if instanceName is empty.
func NewRedisStore(redisOpts *redis.Options, instanceName string, weights Weights) (*RedisStore, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if weights == nil {
		weights = DefaultWeights()
	}

	return &RedisStore{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		weights:      weights,
		now:          time.Now,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// InstanceName returns the namespace this store writes under.
func (s *RedisStore) InstanceName() string {
	return s.instanceName
}

// Weights returns the configured weight table.
func (s *RedisStore) Weights() Weights {
	return s.weights
}

// Post writes a new pending item and publishes a posted event.
func (s *RedisStore) Post(ctx context.Context, kind string, payload Payload) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("item kind cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var id string
	for {
		id = NewItemID(kind, payload, now)
		exists, err := s.rdb.Exists(ctx, ItemKey(s.instanceName, id)).Result()
		if err != nil {
			return "", unavailable("check item existence", err)
		}
		if exists == 0 {
			break
		}
	}

	item := newItem(id, kind, payload, now)
	hash, err := ItemToHash(item)
	if err != nil {
		return "", fmt.Errorf("failed to serialize item: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ItemKey(s.instanceName, id), hash)
		pipe.ZAdd(ctx, ItemIndexKey(s.instanceName), redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id,
		})
		pipe.SAdd(ctx, StateIndexKey(s.instanceName, StatePending), id)
		return nil
	})
	if err != nil {
		return "", unavailable("write item to Redis", err)
	}

	if err := s.publish(ctx, &ItemEvent{
		Type:        ItemEventPosted,
		ItemID:      id,
		Kind:        kind,
		State:       StatePending,
		TimestampMs: now.UnixMilli(),
	}); err != nil {
		return id, err
	}

	return id, nil
}

// Get retrieves an item by id. Returns ErrNotFound if it doesn't exist.
func (s *RedisStore) Get(ctx context.Context, id string) (*Item, error) {
	hashData, err := s.rdb.HGetAll(ctx, ItemKey(s.instanceName, id)).Result()
	if err != nil {
		return nil, unavailable("read item from Redis", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, notFound(id)
	}

	item, err := HashToItem(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize item %s: %w", id, err)
	}
	return item, nil
}

// ApplyOutcome folds an agent outcome into the item inside a WATCH transaction.
func (s *RedisStore) ApplyOutcome(ctx context.Context, id string, role Role, o *Outcome) error {
	if o == nil {
		return fmt.Errorf("outcome cannot be nil")
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("invalid outcome from %s: %w", role, err)
	}

	_, err := s.mutate(ctx, id, ItemEventUpdated, role, func(it *Item, now time.Time) error {
		if it.State.IsTerminal() {
			return errUnchanged
		}
		applyOutcome(it, role, o, now)
		return nil
	})
	return err
}

// SetState validates and applies a state transition, keeping the state index in step.
func (s *RedisStore) SetState(ctx context.Context, id string, state State) error {
	_, err := s.mutate(ctx, id, ItemEventStateChanged, "", func(it *Item, now time.Time) error {
		if !CanTransition(it.State, state) {
			return invalidTransition(it.State, state)
		}
		it.State = state
		it.UpdatedAt = now
		return nil
	})
	return err
}

// IncrementRevision bumps the revision counter of a non-terminal item.
func (s *RedisStore) IncrementRevision(ctx context.Context, id string) (int, error) {
	item, err := s.mutate(ctx, id, ItemEventUpdated, "", func(it *Item, now time.Time) error {
		if it.State.IsTerminal() {
			return invalidTransition(it.State, StateNeedsRevision)
		}
		it.RevisionCount++
		it.UpdatedAt = now
		return nil
	})
	if err != nil {
		return 0, err
	}
	return item.RevisionCount, nil
}

// AggregateQuality returns the weighted quality of the item.
func (s *RedisStore) AggregateQuality(ctx context.Context, id string) (float64, error) {
	raw, err := s.rdb.HGet(ctx, ItemKey(s.instanceName, id), "quality_scores").Result()
	if errors.Is(err, redis.Nil) {
		return 0, notFound(id)
	}
	if err != nil {
		return 0, unavailable("read quality scores", err)
	}

	scores := map[Role]float64{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &scores); err != nil {
			return 0, fmt.Errorf("failed to unmarshal quality scores for %s: %w", id, err)
		}
	}
	return AggregateQuality(scores, s.weights), nil
}

// ListByState returns the items in state s, oldest first, optionally filtered by kind.
func (s *RedisStore) ListByState(ctx context.Context, state State, kind string) ([]*Item, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}

	ids, err := s.rdb.SMembers(ctx, StateIndexKey(s.instanceName, state)).Result()
	if err != nil {
		return nil, unavailable("read state index", err)
	}

	items, err := s.fetchItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := items[:0]
	for _, it := range items {
		// The index is updated in the same transaction as the hash, but a
		// concurrent writer may have moved the item since SMEMBERS.
		if it.State != state {
			continue
		}
		if kind != "" && it.Kind != kind {
			continue
		}
		out = append(out, it)
	}
	sortByCreation(out)
	return out, nil
}

// List returns every item in creation order.
func (s *RedisStore) List(ctx context.Context) ([]*Item, error) {
	ids, err := s.rdb.ZRange(ctx, ItemIndexKey(s.instanceName), 0, -1).Result()
	if err != nil {
		return nil, unavailable("read item index", err)
	}

	items, err := s.fetchItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByCreation(items)
	return items, nil
}

// Statistics computes the counters from a full listing.
func (s *RedisStore) Statistics(ctx context.Context) (*Statistics, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return ComputeStatistics(items, s.weights, nil), nil
}

// fetchItems loads many item hashes in one pipeline. Ids whose hash has
// disappeared are skipped.
func (s *RedisStore) fetchItems(ctx context.Context, ids []string) ([]*Item, error) {
	if len(ids) == 0 {
		return []*Item{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, ItemKey(s.instanceName, id))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("read items from Redis", err)
	}

	items := make([]*Item, 0, len(ids))
	for i, cmd := range cmds {
		hashData := cmd.Val()
		if len(hashData) == 0 {
			continue
		}
		item, err := HashToItem(hashData)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize item %s: %w", ids[i], err)
		}
		items = append(items, item)
	}
	return items, nil
}

// mutate runs a read-modify-write cycle on one item under WATCH, retrying when
// another client wins the race. It publishes eventType after a successful write.
func (s *RedisStore) mutate(ctx context.Context, id string, eventType ItemEventType, role Role, fn func(it *Item, now time.Time) error) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ItemKey(s.instanceName, id)
	var updated *Item

	txf := func(tx *redis.Tx) error {
		hashData, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return unavailable("read item from Redis", err)
		}
		if len(hashData) == 0 {
			return notFound(id)
		}

		item, err := HashToItem(hashData)
		if err != nil {
			return &codecError{op: "deserialize", id: id, err: err}
		}

		previous := item.State
		if err := fn(item, s.now()); err != nil {
			return err
		}

		hash, err := ItemToHash(item)
		if err != nil {
			return &codecError{op: "serialize", id: id, err: err}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, hash)
			if previous != item.State {
				pipe.SRem(ctx, StateIndexKey(s.instanceName, previous), id)
				pipe.SAdd(ctx, StateIndexKey(s.instanceName, item.State), id)
			}
			return nil
		})
		if err != nil {
			return err
		}

		updated = item
		return nil
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, errUnchanged) {
			return nil, nil
		}
		if err != nil {
			if isDomainError(err) {
				return nil, err
			}
			return nil, unavailable("update item", err)
		}

		if err := s.publish(ctx, &ItemEvent{
			Type:        eventType,
			ItemID:      id,
			Kind:        updated.Kind,
			State:       updated.State,
			Role:        role,
			TimestampMs: updated.UpdatedAt.UnixMilli(),
		}); err != nil {
			return updated, err
		}
		return updated, nil
	}

	return nil, fmt.Errorf("%w: item %s modified concurrently %d times", ErrStoreUnavailable, id, maxTxRetries)
}

// errUnchanged aborts a mutation that has nothing to write.
var errUnchanged = errors.New("item unchanged")

// codecError reports an item that could not be converted to or from its hash.
// It is a content problem, not an infrastructure one.
type codecError struct {
	op  string
	id  string
	err error
}

func (e *codecError) Error() string {
	return fmt.Sprintf("failed to %s item %s: %v", e.op, e.id, e.err)
}

func (e *codecError) Unwrap() error {
	return e.err
}

func isDomainError(err error) bool {
	var ce *codecError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.As(err, &ce)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStoreUnavailable, op, err)
}

func sortByCreation(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
