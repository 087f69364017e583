package blackboard

import (
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestItemRoundTrip tests that an item survives conversion to and from a Redis hash
func TestItemRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	original := &Item{
		ID:    "0123456789abcdef",
		Kind:  "question_request",
		State: StateNeedsRevision,
		Payload: Payload{
			"topic":   "Python",
			"options": []any{"a", "b"},
			"meta":    map[string]any{"difficulty": float64(3)},
		},
		Contributions: map[Role][]Contribution{
			"question_crafter": {{
				Timestamp:  created.Add(time.Second),
				Action:     "drafted",
				Data:       Payload{"question": "?"},
				Confidence: 0.7,
				Reasoning:  "first draft",
			}},
		},
		QualityScores: map[Role]float64{"question_crafter": 0.7},
		RevisionCount: 2,
		CreatedAt:     created,
		UpdatedAt:     created.Add(2 * time.Second),
	}

	hash, err := ItemToHash(original)
	require.NoError(t, err)

	result, err := HashToItem(toStringHash(hash))
	require.NoError(t, err)

	assert.Equal(t, original.ID, result.ID)
	assert.Equal(t, original.Kind, result.Kind)
	assert.Equal(t, original.State, result.State)
	assert.Equal(t, original.Payload, result.Payload)
	assert.Equal(t, original.QualityScores, result.QualityScores)
	assert.Equal(t, original.RevisionCount, result.RevisionCount)
	assert.True(t, original.CreatedAt.Equal(result.CreatedAt))
	assert.True(t, original.UpdatedAt.Equal(result.UpdatedAt))

	require.Len(t, result.Contributions["question_crafter"], 1)
	contrib := result.Contributions["question_crafter"][0]
	assert.Equal(t, "drafted", contrib.Action)
	assert.Equal(t, 0.7, contrib.Confidence)
	assert.Equal(t, "first draft", contrib.Reasoning)
	assert.Equal(t, Payload{"question": "?"}, contrib.Data)
}

// TestItemRoundTrip_NilMaps tests that nil maps come back as empty maps
func TestItemRoundTrip_NilMaps(t *testing.T) {
	now := time.Now().UTC()
	original := &Item{ID: "x", Kind: "k", State: StatePending, CreatedAt: now, UpdatedAt: now}

	hash, err := ItemToHash(original)
	require.NoError(t, err)

	result, err := HashToItem(toStringHash(hash))
	require.NoError(t, err)

	assert.NotNil(t, result.Payload)
	assert.NotNil(t, result.Contributions)
	assert.NotNil(t, result.QualityScores)
	assert.Empty(t, result.Payload)
}

// TestHashToItem_Malformed tests that corrupted hashes are reported, not silently accepted
func TestHashToItem_Malformed(t *testing.T) {
	valid := func() map[string]string {
		now := time.Now().UTC().Format(time.RFC3339Nano)
		return map[string]string{
			"id":             "x",
			"kind":           "k",
			"state":          "pending",
			"payload":        "{}",
			"contributions":  "{}",
			"quality_scores": "{}",
			"revision_count": "0",
			"created_at":     now,
			"updated_at":     now,
		}
	}

	tests := []struct {
		name  string
		field string
		value string
	}{
		{"bad revision count", "revision_count", "many"},
		{"unknown state", "state", "in_progress"},
		{"bad payload json", "payload", "{not json"},
		{"bad contributions json", "contributions", "[1,2"},
		{"bad scores json", "quality_scores", "{\"a\": \"high\"}"},
		{"bad created_at", "created_at", "yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash := valid()
			hash[tt.field] = tt.value
			_, err := HashToItem(hash)
			assert.Error(t, err)
		})
	}
}

// toStringHash simulates Redis storage, which stores every field as a string.
func toStringHash(hash map[string]interface{}) map[string]string {
	out := make(map[string]string, len(hash))
	for k, v := range hash {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
