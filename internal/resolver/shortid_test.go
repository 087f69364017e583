package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedStore serves a fixed set of ids.
type fixedStore struct {
	blackboard.Store
	ids     []string
	listErr error
}

func (s *fixedStore) Get(ctx context.Context, id string) (*blackboard.Item, error) {
	for _, known := range s.ids {
		if known == id {
			return &blackboard.Item{ID: id}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", blackboard.ErrNotFound, id)
}

func (s *fixedStore) List(ctx context.Context) ([]*blackboard.Item, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	items := make([]*blackboard.Item, 0, len(s.ids))
	for _, id := range s.ids {
		items = append(items, &blackboard.Item{ID: id})
	}
	return items, nil
}

func TestResolveItemID(t *testing.T) {
	ctx := context.Background()
	store := &fixedStore{ids: []string{
		"abc123def4567890",
		"abc123ff00000000",
		"0f1e2d3c4b5a6978",
	}}

	tests := []struct {
		name     string
		input    string
		expected string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "full id",
			input:    "abc123def4567890",
			expected: "abc123def4567890",
		},
		{
			name:     "unique prefix",
			input:    "0f1e2d",
			expected: "0f1e2d3c4b5a6978",
		},
		{
			name:     "longer prefix disambiguates",
			input:    "abc123d",
			expected: "abc123def4567890",
		},
		{
			name:  "ambiguous prefix",
			input: "abc123",
			check: func(t *testing.T, err error) {
				var ambiguous *AmbiguousError
				require.ErrorAs(t, err, &ambiguous)
				assert.Len(t, ambiguous.Matches, 2)
			},
		},
		{
			name:  "no match",
			input: "ffffff",
			check: func(t *testing.T, err error) {
				var notFound *NotFoundError
				require.ErrorAs(t, err, &notFound)
				assert.True(t, blackboard.IsNotFound(err))
			},
		},
		{
			name:  "too short to search",
			input: "abc",
			check: func(t *testing.T, err error) {
				assert.True(t, blackboard.IsNotFound(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ResolveItemID(ctx, store, tt.input)
			if tt.check != nil {
				require.Error(t, err)
				tt.check(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestResolveItemID_ListError(t *testing.T) {
	store := &fixedStore{listErr: fmt.Errorf("%w: connection refused", blackboard.ErrStoreUnavailable)}
	_, err := ResolveItemID(context.Background(), store, "abcdef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, blackboard.ErrStoreUnavailable))
}

func TestResolveItemID_MemoryStore(t *testing.T) {
	ctx := context.Background()
	store := blackboard.NewMemoryStore(nil)
	id, err := store.Post(ctx, "question_request", nil)
	require.NoError(t, err)

	resolved, err := ResolveItemID(ctx, store, id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestFormatAmbiguousError(t *testing.T) {
	t.Run("few matches", func(t *testing.T) {
		msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abc123", Matches: []string{"abc1231", "abc1232"}})
		assert.Contains(t, msg, "matches 2 items")
		assert.Contains(t, msg, "  abc1231\n  abc1232\n")
		assert.NotContains(t, msg, "more")
	})

	t.Run("more than ten matches", func(t *testing.T) {
		matches := make([]string, 13)
		for i := range matches {
			matches[i] = fmt.Sprintf("abc123%02d", i)
		}
		msg := FormatAmbiguousError(&AmbiguousError{ShortID: "abc123", Matches: matches})
		assert.Equal(t, 10, strings.Count(msg, "  abc123"))
		assert.Contains(t, msg, "...and 3 more")
	})
}
