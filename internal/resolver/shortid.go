// Package resolver expands short item id prefixes typed on the command line.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/chalk/pkg/blackboard"
)

// MinShortIDLength is the minimum accepted prefix length.
const MinShortIDLength = 6

// ResolveItemID resolves an id or unique id prefix to a full item id.
// An exact match always wins, so full ids never pay for a listing.
func ResolveItemID(ctx context.Context, store blackboard.Store, shortID string) (string, error) {
	_, err := store.Get(ctx, shortID)
	if err == nil {
		return shortID, nil
	}
	if !blackboard.IsNotFound(err) {
		return "", fmt.Errorf("failed to verify item existence: %w", err)
	}

	if len(shortID) < MinShortIDLength {
		return "", &NotFoundError{ShortID: shortID}
	}

	items, err := store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search for item: %w", err)
	}

	var matches []string
	for _, it := range items {
		if strings.HasPrefix(it.ID, shortID) {
			matches = append(matches, it.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no item matched the id or prefix.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no items found matching '%s'", e.ShortID)
}

// Unwrap lets callers test with blackboard.IsNotFound.
func (e *NotFoundError) Unwrap() error {
	return blackboard.ErrNotFound
}

// AmbiguousError indicates several items share the prefix.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d items", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError lists up to 10 matching ids for display.
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ambiguous short ID '%s' matches %d items:\n", err.ShortID, len(err.Matches))

	shown := err.Matches
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, id := range shown {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("\nUse a longer prefix to uniquely identify the item.")
	return b.String()
}
