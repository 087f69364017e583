package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Scalar fields get their own
// hash field; the open-ended structures (payload, contributions, quality scores)
// are JSON-encoded into single fields.

// ItemToHash converts an Item struct to a Redis hash format.
func ItemToHash(it *Item) (map[string]interface{}, error) {
	payloadJSON, err := json.Marshal(nonNilPayload(it.Payload))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	contributions := it.Contributions
	if contributions == nil {
		contributions = map[Role][]Contribution{}
	}
	contributionsJSON, err := json.Marshal(contributions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contributions: %w", err)
	}

	scores := it.QualityScores
	if scores == nil {
		scores = map[Role]float64{}
	}
	scoresJSON, err := json.Marshal(scores)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal quality_scores: %w", err)
	}

	hash := map[string]interface{}{
		"id":             it.ID,
		"kind":           it.Kind,
		"state":          string(it.State),
		"payload":        string(payloadJSON),
		"contributions":  string(contributionsJSON),
		"quality_scores": string(scoresJSON),
		"revision_count": it.RevisionCount,
		"created_at":     it.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":     it.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	return hash, nil
}

// HashToItem converts a Redis hash to an Item struct.
func HashToItem(hash map[string]string) (*Item, error) {
	revisionCount, err := strconv.Atoi(hash["revision_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid revision_count field: %w", err)
	}

	state := State(hash["state"])
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("invalid state field: %w", err)
	}

	payload := Payload{}
	if raw := hash["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	contributions := map[Role][]Contribution{}
	if raw := hash["contributions"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &contributions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contributions: %w", err)
		}
	}

	scores := map[Role]float64{}
	if raw := hash["quality_scores"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &scores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quality_scores: %w", err)
		}
	}

	createdAt, err := time.Parse(time.RFC3339Nano, hash["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at field: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, hash["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid updated_at field: %w", err)
	}

	return &Item{
		ID:            hash["id"],
		Kind:          hash["kind"],
		State:         state,
		Payload:       payload,
		Contributions: contributions,
		QualityScores: scores,
		RevisionCount: revisionCount,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}, nil
}

func nonNilPayload(p Payload) Payload {
	if p == nil {
		return Payload{}
	}
	return p
}
