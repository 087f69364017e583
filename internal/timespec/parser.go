// Package timespec parses the --since/--until values accepted by `chalk items`.
package timespec

import (
	"fmt"
	"time"
)

// Parse accepts either a Go duration ("90m", meaning that long ago) or an
// RFC3339 timestamp.
func Parse(spec string, now time.Time) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t, nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseRange parses --since and --until. A zero time means that end is open.
func ParseRange(since, until string, now time.Time) (time.Time, time.Time, error) {
	var sinceT, untilT time.Time
	var err error

	if since != "" {
		if sinceT, err = Parse(since, now); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		if untilT, err = Parse(until, now); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if !sinceT.IsZero() && !untilT.IsZero() && !sinceT.Before(untilT) {
		return time.Time{}, time.Time{}, fmt.Errorf("--since must be before --until")
	}

	return sinceT, untilT, nil
}
