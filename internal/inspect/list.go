package inspect

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
)

// OutputFormat specifies how to format listing output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with truncated payloads
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete items as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"

	// OutputFormatJSON outputs a single indented JSON document
	OutputFormatJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatDefault:
		return OutputFormatDefault, nil
	case OutputFormatJSONL, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s (must be default, json or jsonl)", s)
	}
}

// FilterCriteria narrows an item listing. Empty fields match everything.
type FilterCriteria struct {
	State    blackboard.State
	KindGlob string    // glob pattern for the item kind
	Since    time.Time // created at or after
	Until    time.Time // created at or before
}

func (fc *FilterCriteria) matches(it *blackboard.Item) bool {
	if !fc.Since.IsZero() && it.CreatedAt.Before(fc.Since) {
		return false
	}
	if !fc.Until.IsZero() && it.CreatedAt.After(fc.Until) {
		return false
	}
	if fc.KindGlob != "" {
		matched, err := filepath.Match(fc.KindGlob, it.Kind)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// ListItems fetches items from store, applies filters and writes them in format.
// A state filter is served by the store's state index.
func ListItems(ctx context.Context, store blackboard.Store, instanceName string, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	if filters == nil {
		filters = &FilterCriteria{}
	}
	if filters.KindGlob != "" {
		if _, err := filepath.Match(filters.KindGlob, ""); err != nil {
			return fmt.Errorf("invalid kind pattern %q: %w", filters.KindGlob, err)
		}
	}

	var (
		all []*blackboard.Item
		err error
	)
	if filters.State != "" {
		all, err = store.ListByState(ctx, filters.State, "")
	} else {
		all, err = store.List(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	items := make([]*blackboard.Item, 0, len(all))
	for _, it := range all {
		if filters.matches(it) {
			items = append(items, it)
		}
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, items, store.Weights(), instanceName)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, items); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	case OutputFormatJSON:
		return FormatSingleJSON(w, items)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}

// GetItem fetches one item and writes it as indented JSON.
func GetItem(ctx context.Context, store blackboard.Store, id string, w io.Writer) error {
	it, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	return FormatSingleJSON(w, it)
}
