// Package blackboard provides the shared workspace that chalk agents cooperate on.
//
// # Overview
//
// The blackboard holds work items. Each item starts in the pending state with a
// kind and an initial payload; agents never write to it directly. Instead they
// return an Outcome from Agent.Process and the orchestrator applies it through
// Store.ApplyOutcome, which appends a Contribution, shallow-merges the outcome's
// data into the payload and records the agent's quality score.
//
// # State Machine
//
//	pending ⇄ needs_revision → completed | rejected
//
// Completed and rejected are terminal: SetState returns ErrInvalidTransition for
// any transition out of them. Terminal items stay queryable with their full
// contribution trail, so a rejection can always be explained.
//
// # Aggregate Quality
//
// Each role's latest quality score is combined with a per-role weight table:
//
//	quality = Σ(score_r × weight_r) / Σ(weight_r)
//
// Roles absent from the table weigh 1.0; an item with no scores has quality 0.0.
//
// # Stores
//
// MemoryStore keeps items in process behind one store-wide RWMutex.
// RedisStore keeps each item as a Redis hash and publishes an ItemEvent after
// every mutation:
//
//	Items:         chalk:{instance_name}:item:{item_id}
//	Item index:    chalk:{instance_name}:items
//	State indexes: chalk:{instance_name}:state:{state}
//	Events:        chalk:{instance_name}:item_events
//
// Transport failures from Redis are reported as ErrStoreUnavailable.
//
// # Usage Example
//
//	store := blackboard.NewMemoryStore(nil)
//
//	id, err := store.Post(ctx, "question_request", blackboard.Payload{"topic": "Python"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = store.ApplyOutcome(ctx, id, "question_crafter", &blackboard.Outcome{
//		Action:       "drafted_question",
//		DataUpdates:  blackboard.Payload{"question": "What does len() return?"},
//		Confidence:   0.9,
//		QualityScore: blackboard.Score(0.85),
//	})
package blackboard
