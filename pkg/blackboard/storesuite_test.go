package blackboard

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory builds a fresh, empty store using the given weight table.
type storeFactory func(t *testing.T, weights Weights) Store

// runStoreSuite exercises the Store contract. Both MemoryStore and RedisStore run it.
func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("post creates pending item", func(t *testing.T) {
		s := newStore(t, nil)

		id, err := s.Post(ctx, "question_request", Payload{"topic": "Python"})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, item.ID)
		assert.Equal(t, "question_request", item.Kind)
		assert.Equal(t, StatePending, item.State)
		assert.Equal(t, Payload{"topic": "Python"}, item.Payload)
		assert.Empty(t, item.Contributions)
		assert.Empty(t, item.QualityScores)
		assert.Equal(t, 0, item.RevisionCount)
		assert.False(t, item.CreatedAt.IsZero())
		assert.False(t, item.UpdatedAt.Before(item.CreatedAt))
	})

	t.Run("post rejects empty kind", func(t *testing.T) {
		s := newStore(t, nil)
		_, err := s.Post(ctx, "", Payload{})
		assert.Error(t, err)
	})

	t.Run("identical posts get distinct ids", func(t *testing.T) {
		s := newStore(t, nil)
		seen := make(map[string]struct{})
		for i := 0; i < 100; i++ {
			id, err := s.Post(ctx, "question_request", Payload{"topic": "Python"})
			require.NoError(t, err)
			_, dup := seen[id]
			require.False(t, dup, "duplicate id %s", id)
			seen[id] = struct{}{}
		}
	})

	t.Run("get unknown id is not found", func(t *testing.T) {
		s := newStore(t, nil)
		_, err := s.Get(ctx, "does-not-exist")
		assert.True(t, IsNotFound(err))
	})

	t.Run("apply outcome appends merges and scores", func(t *testing.T) {
		s := newStore(t, nil)
		id, err := s.Post(ctx, "question_request", Payload{
			"topic":  "Python",
			"nested": map[string]any{"keep": "no", "other": "x"},
		})
		require.NoError(t, err)
		before, err := s.Get(ctx, id)
		require.NoError(t, err)

		err = s.ApplyOutcome(ctx, id, "question_crafter", &Outcome{
			Action:       "drafted",
			DataUpdates:  Payload{"question": "What is a list?", "nested": map[string]any{"keep": "yes"}},
			Confidence:   0.8,
			QualityScore: Score(0.7),
			Reasoning:    "looks fine",
		})
		require.NoError(t, err)

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Python", item.Payload["topic"])
		assert.Equal(t, "What is a list?", item.Payload["question"])
		// nested maps are replaced, not merged
		assert.Equal(t, map[string]any{"keep": "yes"}, item.Payload["nested"])
		assert.Equal(t, 0.7, item.QualityScores["question_crafter"])
		require.Len(t, item.Contributions["question_crafter"], 1)
		contrib := item.Contributions["question_crafter"][0]
		assert.Equal(t, "drafted", contrib.Action)
		assert.Equal(t, 0.8, contrib.Confidence)
		assert.Equal(t, "looks fine", contrib.Reasoning)
		assert.False(t, item.UpdatedAt.Before(before.UpdatedAt))

		// second contribution appends; score is overwritten; missing score keeps the old one
		require.NoError(t, s.ApplyOutcome(ctx, id, "question_crafter", &Outcome{Confidence: 0.9, QualityScore: Score(0.75)}))
		require.NoError(t, s.ApplyOutcome(ctx, id, "question_crafter", &Outcome{Confidence: 0.9}))

		item, err = s.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, item.Contributions["question_crafter"], 3)
		assert.Equal(t, 0.75, item.QualityScores["question_crafter"])
		assert.Equal(t, DefaultAction, item.Contributions["question_crafter"][2].Action)
	})

	t.Run("apply outcome on unknown id is not found", func(t *testing.T) {
		s := newStore(t, nil)
		err := s.ApplyOutcome(ctx, "missing", "r", &Outcome{})
		assert.True(t, IsNotFound(err))
	})

	t.Run("apply outcome on terminal item is a no-op", func(t *testing.T) {
		s := newStore(t, nil)
		id, err := s.Post(ctx, "question_request", Payload{"topic": "Go"})
		require.NoError(t, err)
		require.NoError(t, s.SetState(ctx, id, StateCompleted))

		err = s.ApplyOutcome(ctx, id, "critic", &Outcome{
			DataUpdates:  Payload{"late": true},
			QualityScore: Score(0.1),
		})
		require.NoError(t, err)

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, item.State)
		assert.Empty(t, item.Contributions)
		assert.Empty(t, item.QualityScores)
		assert.NotContains(t, item.Payload, "late")
	})

	t.Run("apply outcome rejects unencodable data", func(t *testing.T) {
		s := newStore(t, nil)
		id, err := s.Post(ctx, "question_request", nil)
		require.NoError(t, err)

		err = s.ApplyOutcome(ctx, id, "critic", &Outcome{DataUpdates: Payload{"x": math.NaN()}})
		require.Error(t, err)
		assert.False(t, IsUnavailable(err))
		assert.False(t, IsNotFound(err))

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, item.Contributions)
	})

	t.Run("non-terminal states transition freely", func(t *testing.T) {
		s := newStore(t, nil)
		id, err := s.Post(ctx, "k", nil)
		require.NoError(t, err)

		require.NoError(t, s.SetState(ctx, id, StateNeedsRevision))
		require.NoError(t, s.SetState(ctx, id, StatePending))
		require.NoError(t, s.SetState(ctx, id, StatePending))
		require.NoError(t, s.SetState(ctx, id, StateNeedsRevision))

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StateNeedsRevision, item.State)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		for _, terminal := range []State{StateCompleted, StateRejected} {
			t.Run(string(terminal), func(t *testing.T) {
				s := newStore(t, nil)
				id, err := s.Post(ctx, "k", nil)
				require.NoError(t, err)
				require.NoError(t, s.SetState(ctx, id, terminal))

				for _, next := range AllStates {
					err := s.SetState(ctx, id, next)
					assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, next)
				}

				_, err = s.IncrementRevision(ctx, id)
				assert.ErrorIs(t, err, ErrInvalidTransition)

				item, err := s.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, terminal, item.State)
			})
		}
	})

	t.Run("set state rejects unknown state and id", func(t *testing.T) {
		s := newStore(t, nil)
		id, err := s.Post(ctx, "k", nil)
		require.NoError(t, err)
		assert.ErrorIs(t, s.SetState(ctx, id, State("in_progress")), ErrInvalidTransition)
		assert.True(t, IsNotFound(s.SetState(ctx, "missing", StateCompleted)))
	})

	t.Run("increment revision", func(t *testing.T) {
		s := newStore(t, nil)
		id, err := s.Post(ctx, "k", nil)
		require.NoError(t, err)

		n, err := s.IncrementRevision(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.IncrementRevision(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, item.RevisionCount)
	})

	t.Run("aggregate quality uses weights", func(t *testing.T) {
		s := newStore(t, Weights{"A": 2.0, "B": 1.0})
		id, err := s.Post(ctx, "k", nil)
		require.NoError(t, err)

		q, err := s.AggregateQuality(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0.0, q)

		require.NoError(t, s.ApplyOutcome(ctx, id, "A", &Outcome{Confidence: 1, QualityScore: Score(0.9)}))
		require.NoError(t, s.ApplyOutcome(ctx, id, "B", &Outcome{Confidence: 1, QualityScore: Score(0.5)}))

		q, err = s.AggregateQuality(ctx, id)
		require.NoError(t, err)
		assert.InDelta(t, 0.766667, q, 1e-6)

		_, err = s.AggregateQuality(ctx, "missing")
		assert.True(t, IsNotFound(err))
	})

	t.Run("list by state filters by kind", func(t *testing.T) {
		s := newStore(t, nil)
		q1, err := s.Post(ctx, "question_request", nil)
		require.NoError(t, err)
		q2, err := s.Post(ctx, "question_request", nil)
		require.NoError(t, err)
		other, err := s.Post(ctx, "summary_request", nil)
		require.NoError(t, err)
		done, err := s.Post(ctx, "question_request", nil)
		require.NoError(t, err)
		require.NoError(t, s.SetState(ctx, done, StateCompleted))

		pending, err := s.ListByState(ctx, StatePending, "")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{q1, q2, other}, ids(pending))

		questions, err := s.ListByState(ctx, StatePending, "question_request")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{q1, q2}, ids(questions))

		completed, err := s.ListByState(ctx, StateCompleted, "")
		require.NoError(t, err)
		assert.Equal(t, []string{done}, ids(completed))

		revising, err := s.ListByState(ctx, StateNeedsRevision, "")
		require.NoError(t, err)
		assert.Empty(t, revising)

		_, err = s.ListByState(ctx, State("bogus"), "")
		assert.Error(t, err)
	})

	t.Run("list returns every item", func(t *testing.T) {
		s := newStore(t, nil)
		var want []string
		for i := 0; i < 5; i++ {
			id, err := s.Post(ctx, "k", Payload{"n": float64(i)})
			require.NoError(t, err)
			want = append(want, id)
		}
		items, err := s.List(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, want, ids(items))
	})

	t.Run("statistics", func(t *testing.T) {
		s := newStore(t, Weights{})
		a, err := s.Post(ctx, "k", nil)
		require.NoError(t, err)
		b, err := s.Post(ctx, "k", nil)
		require.NoError(t, err)
		_, err = s.Post(ctx, "k", nil)
		require.NoError(t, err)

		require.NoError(t, s.ApplyOutcome(ctx, a, "r", &Outcome{Confidence: 1, QualityScore: Score(0.9)}))
		require.NoError(t, s.SetState(ctx, a, StateCompleted))
		require.NoError(t, s.ApplyOutcome(ctx, b, "r", &Outcome{Confidence: 1, QualityScore: Score(0.2)}))
		require.NoError(t, s.SetState(ctx, b, StateRejected))

		stats, err := s.Statistics(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 1, stats.Completed)
		assert.Equal(t, 1, stats.Rejected)
		assert.Equal(t, 1, stats.Pending)
		assert.Equal(t, 0, stats.InRevision)
		assert.InDelta(t, 0.9, stats.AverageQualityOfCompleted, 1e-9)
		assert.Equal(t, 2, stats.PerRoleContributions["r"])
	})

	t.Run("concurrent outcomes are all recorded", func(t *testing.T) {
		s := newStore(t, nil)
		id, err := s.Post(ctx, "k", nil)
		require.NoError(t, err)

		const writers = 20
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				role := Role(fmt.Sprintf("role-%d", i%4))
				err := s.ApplyOutcome(ctx, id, role, &Outcome{
					Confidence:  0.5,
					DataUpdates: Payload{fmt.Sprintf("key-%d", i): "v"},
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, writers, item.ContributionCount())
		assert.Len(t, item.Payload, writers)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t, nil)
		assert.NoError(t, s.Ping(ctx))
	})
}

func ids(items []*Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
