package blackboard

import (
	"context"
	"time"
)

// Store is the single source of truth for all items on the blackboard.
// Every mutation is funneled through it so implementations can serialise access.
// Implementations must be safe for concurrent use.
type Store interface {
	// Post creates a new item in StatePending and returns its id.
	Post(ctx context.Context, kind string, payload Payload) (string, error)

	// Get returns a copy of the item, or ErrNotFound.
	Get(ctx context.Context, id string) (*Item, error)

	// ApplyOutcome atomically appends a contribution for role, shallow-merges
	// o.DataUpdates into the payload, records o.QualityScore (if set) and
	// refreshes UpdatedAt. Returns ErrNotFound for unknown ids.
	ApplyOutcome(ctx context.Context, id string, role Role, o *Outcome) error

	// SetState moves the item to s, or returns ErrInvalidTransition.
	SetState(ctx context.Context, id string, s State) error

	// IncrementRevision bumps RevisionCount and returns the new value.
	IncrementRevision(ctx context.Context, id string) (int, error)

	// AggregateQuality returns the weighted average of the item's quality scores.
	AggregateQuality(ctx context.Context, id string) (float64, error)

	// ListByState returns copies of all items in state s. An empty kind matches any kind.
	ListByState(ctx context.Context, s State, kind string) ([]*Item, error)

	// List returns copies of every item, oldest first.
	List(ctx context.Context) ([]*Item, error)

	// Statistics computes the aggregate counters for the whole store.
	Statistics(ctx context.Context) (*Statistics, error)

	// Weights returns the role weight table used for aggregate quality.
	Weights() Weights

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Weights maps roles to their importance in the aggregate quality score.
// Roles absent from the table weigh 1.0.
type Weights map[Role]float64

// DefaultWeights is the weight table used when none is configured.
func DefaultWeights() Weights {
	return Weights{
		"quality_validator":   2.0,
		"fact_checker":        1.8,
		"pedagogy_expert":     1.5,
		"difficulty_assessor": 1.2,
		"final_reviewer":      2.5,
	}
}

// Of returns the weight for role, defaulting to 1.0.
func (w Weights) Of(role Role) float64 {
	if v, ok := w[role]; ok {
		return v
	}
	return 1.0
}

// AggregateQuality computes Σ(score×weight)/Σ(weight) over the recorded scores.
// Returns 0.0 when no scores are recorded.
func AggregateQuality(scores map[Role]float64, weights Weights) float64 {
	var total, totalWeight float64
	for role, score := range scores {
		w := weights.Of(role)
		total += score * w
		totalWeight += w
	}
	if totalWeight <= 0 {
		return 0.0
	}
	return total / totalWeight
}

// CanTransition reports whether an item may move from one state to another.
// Any non-terminal state may move to any valid state; terminal states are final.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	return to.Validate() == nil
}

// ComputeStatistics derives the blackboard statistics from a set of items.
// Every role in roles is reported even when it has no contributions yet.
func ComputeStatistics(items []*Item, weights Weights, roles []Role) *Statistics {
	stats := &Statistics{
		Total:                len(items),
		PerRoleContributions: make(map[Role]int, len(roles)),
	}
	for _, role := range roles {
		stats.PerRoleContributions[role] = 0
	}

	var qualitySum float64
	for _, it := range items {
		switch it.State {
		case StateCompleted:
			stats.Completed++
			qualitySum += AggregateQuality(it.QualityScores, weights)
		case StateRejected:
			stats.Rejected++
		case StatePending:
			stats.Pending++
		case StateNeedsRevision:
			stats.InRevision++
		}
		for role, list := range it.Contributions {
			stats.PerRoleContributions[role] += len(list)
		}
	}

	if stats.Completed > 0 {
		stats.AverageQualityOfCompleted = qualitySum / float64(stats.Completed)
	}
	return stats
}

// applyOutcome folds an outcome into it. Callers must hold whatever lock guards it.
func applyOutcome(it *Item, role Role, o *Outcome, now time.Time) {
	action := o.Action
	if action == "" {
		action = DefaultAction
	}

	if it.Contributions == nil {
		it.Contributions = make(map[Role][]Contribution)
	}
	it.Contributions[role] = append(it.Contributions[role], Contribution{
		Timestamp:  now,
		Action:     action,
		Data:       clonePayload(o.DataUpdates),
		Confidence: o.Confidence,
		Reasoning:  o.Reasoning,
	})

	if it.Payload == nil {
		it.Payload = make(Payload)
	}
	// Shallow merge: nested maps are replaced wholesale.
	for k, v := range o.DataUpdates {
		it.Payload[k] = cloneValue(v)
	}

	if o.QualityScore != nil {
		if it.QualityScores == nil {
			it.QualityScores = make(map[Role]float64)
		}
		it.QualityScores[role] = *o.QualityScore
	}

	it.UpdatedAt = now
}

func newItem(id, kind string, payload Payload, now time.Time) *Item {
	return &Item{
		ID:            id,
		Kind:          kind,
		State:         StatePending,
		Payload:       clonePayload(payload),
		Contributions: make(map[Role][]Contribution),
		QualityScores: make(map[Role]float64),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
