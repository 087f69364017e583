// Package stats derives blackboard statistics from store snapshots.
//
// The Reporter never holds a store lock while it computes: it works on the
// copies returned by List, and it caches the last report until the TTL
// expires or Invalidate is called. The engine invalidates only after deciding
// an item, so posts and individual outcomes can be up to one TTL stale.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/patrickmn/go-cache"
)

// DefaultTTL bounds how stale a cached report can be when nobody invalidates it.
const DefaultTTL = 2 * time.Second

const reportKey = "statistics"

// Source is the read side of a store the Reporter needs.
type Source interface {
	List(ctx context.Context) ([]*blackboard.Item, error)
	Weights() blackboard.Weights
}

// Reporter computes and caches blackboard statistics.
type Reporter struct {
	source Source
	roles  []blackboard.Role
	cache  *cache.Cache
}

// NewReporter creates a reporter over source. Every role in roles appears in
// PerRoleContributions, with zero when it has not contributed yet.
// A ttl of zero uses DefaultTTL.
func NewReporter(source Source, roles []blackboard.Role, ttl time.Duration) *Reporter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Reporter{
		source: source,
		roles:  append([]blackboard.Role(nil), roles...),
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Statistics returns the current report, served from cache when fresh.
// The returned value is owned by the caller.
func (r *Reporter) Statistics(ctx context.Context) (*blackboard.Statistics, error) {
	if x, found := r.cache.Get(reportKey); found {
		return copyStatistics(x.(*blackboard.Statistics)), nil
	}

	items, err := r.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for statistics: %w", err)
	}

	report := blackboard.ComputeStatistics(items, r.source.Weights(), r.roles)
	r.cache.Set(reportKey, report, cache.DefaultExpiration)
	return copyStatistics(report), nil
}

// Invalidate drops the cached report so the next call recomputes it.
func (r *Reporter) Invalidate() {
	r.cache.Delete(reportKey)
}

// Roles returns the roles seeded into every report.
func (r *Reporter) Roles() []blackboard.Role {
	return append([]blackboard.Role(nil), r.roles...)
}

func copyStatistics(s *blackboard.Statistics) *blackboard.Statistics {
	out := *s
	out.PerRoleContributions = make(map[blackboard.Role]int, len(s.PerRoleContributions))
	for role, n := range s.PerRoleContributions {
		out.PerRoleContributions[role] = n
	}
	return &out
}
