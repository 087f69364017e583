package blackboard

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Role identifies an agent's position in the pipeline (e.g. "question_crafter").
type Role string

// State defines the lifecycle state of an item on the blackboard.
// Items move freely between the non-terminal states and finish in exactly one
// terminal state: pending ⇄ needs_revision → completed | rejected.
type State string

const (
	// StatePending indicates the item is waiting for a pipeline pass
	StatePending State = "pending"

	// StateNeedsRevision indicates the item scored between the retry and completion
	// thresholds (or an agent asked for rework) and will be passed through the pipeline again
	StateNeedsRevision State = "needs_revision"

	// StateCompleted indicates the item reached the completion threshold (terminal)
	StateCompleted State = "completed"

	// StateRejected indicates the item was rejected (terminal)
	StateRejected State = "rejected"
)

// AllStates lists every valid state in lifecycle order.
var AllStates = []State{StatePending, StateNeedsRevision, StateCompleted, StateRejected}

// Validate checks if the State is a valid enum value.
func (s State) Validate() error {
	switch s {
	case StatePending, StateNeedsRevision, StateCompleted, StateRejected:
		return nil
	default:
		return fmt.Errorf("unknown state: %q", s)
	}
}

// IsTerminal reports whether no further transitions are allowed out of s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateRejected
}

// Payload is the open key/value bag agents build up on an item.
// Values must be JSON-compatible: string, float64 (or any number), bool, nil,
// []any or map[string]any. The engine never interprets keys.
type Payload map[string]any

// Item is the unit of work flowing through the pipeline.
type Item struct {
	ID            string                  `json:"id"`             // opaque unique identifier
	Kind          string                  `json:"kind"`           // what is being produced (e.g. "question_request")
	State         State                   `json:"state"`          // current lifecycle state
	Payload       Payload                 `json:"payload"`        // shared data, shallow-merged by outcomes
	Contributions map[Role][]Contribution `json:"contributions"`  // append-only history per role
	QualityScores map[Role]float64        `json:"quality_scores"` // latest score per role
	RevisionCount int                     `json:"revision_count"` // times the item was sent back for revision
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// Contribution is the persisted record of one agent outcome.
type Contribution struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Data       Payload   `json:"data,omitempty"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// Outcome is what an agent returns for one Process call.
// It is never stored directly; the store folds it into a Contribution plus
// payload and quality score updates.
type Outcome struct {
	Action        string   `json:"action"`
	DataUpdates   Payload  `json:"data_updates,omitempty"`
	Confidence    float64  `json:"confidence"`
	QualityScore  *float64 `json:"quality_score,omitempty"`
	NeedsRevision bool     `json:"needs_revision"`
	Reasoning     string   `json:"reasoning,omitempty"`
}

// DefaultAction is recorded when an agent leaves Outcome.Action empty.
const DefaultAction = "processed"

// Score is a convenience for building an Outcome with a quality score.
func Score(v float64) *float64 {
	return &v
}

// Validate checks that confidence and quality score are finite values in [0, 1]
// and that DataUpdates can be stored as JSON.
func (o *Outcome) Validate() error {
	if !inUnitRange(o.Confidence) {
		return fmt.Errorf("confidence must be within [0, 1], got %v", o.Confidence)
	}
	if o.QualityScore != nil && !inUnitRange(*o.QualityScore) {
		return fmt.Errorf("quality score must be within [0, 1], got %v", *o.QualityScore)
	}
	if len(o.DataUpdates) > 0 {
		if _, err := json.Marshal(o.DataUpdates); err != nil {
			return fmt.Errorf("data updates are not JSON-encodable: %w", err)
		}
	}
	return nil
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Snapshot is the read-only view of an item handed to agents.
// It is a deep copy: agents may mutate it freely without touching the store.
type Snapshot struct {
	ID            string                  `json:"id"`
	Kind          string                  `json:"kind"`
	Payload       Payload                 `json:"payload"`
	QualityScores map[Role]float64        `json:"quality_scores"`
	Contributions map[Role][]Contribution `json:"contributions"`
	RevisionCount int                     `json:"revision_count"`
}

// Statistics is the aggregate view of the whole blackboard.
type Statistics struct {
	Total                     int          `json:"total_items"`
	Completed                 int          `json:"completed_items"`
	Rejected                  int          `json:"rejected_items"`
	Pending                   int          `json:"pending_items"`
	InRevision                int          `json:"items_in_revision"`
	AverageQualityOfCompleted float64      `json:"average_quality"`
	PerRoleContributions      map[Role]int `json:"agent_contributions"`
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := *it
	c.Payload = clonePayload(it.Payload)
	c.Contributions = cloneContributions(it.Contributions)
	c.QualityScores = cloneScores(it.QualityScores)
	return &c
}

// Snapshot returns the agent-facing deep copy of the item.
func (it *Item) Snapshot() *Snapshot {
	return &Snapshot{
		ID:            it.ID,
		Kind:          it.Kind,
		Payload:       clonePayload(it.Payload),
		QualityScores: cloneScores(it.QualityScores),
		Contributions: cloneContributions(it.Contributions),
		RevisionCount: it.RevisionCount,
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Payload = clonePayload(s.Payload)
	c.QualityScores = cloneScores(s.QualityScores)
	c.Contributions = cloneContributions(s.Contributions)
	return &c
}

// ContributionCount returns the total number of contributions recorded on the item.
func (it *Item) ContributionCount() int {
	n := 0
	for _, list := range it.Contributions {
		n += len(list)
	}
	return n
}

func clonePayload(p Payload) Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case Payload:
		return clonePayload(t)
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneScores(s map[Role]float64) map[Role]float64 {
	out := make(map[Role]float64, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func cloneContributions(c map[Role][]Contribution) map[Role][]Contribution {
	out := make(map[Role][]Contribution, len(c))
	for role, list := range c {
		copied := make([]Contribution, len(list))
		for i, contrib := range list {
			contrib.Data = clonePayload(contrib.Data)
			copied[i] = contrib
		}
		out[role] = copied
	}
	return out
}
