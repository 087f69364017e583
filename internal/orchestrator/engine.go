package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dyluth/chalk/internal/orchestrator"

// DefaultPipeline is the role order used when none is configured.
func DefaultPipeline() []blackboard.Role {
	return []blackboard.Role{
		"content_scraper",
		"knowledge_extractor",
		"question_crafter",
		"distractor_generator",
		"difficulty_assessor",
		"quality_validator",
		"fact_checker",
		"pedagogy_expert",
		"final_reviewer",
	}
}

// Config holds the orchestrator's tuning knobs.
type Config struct {
	// Pipeline is the ordered list of roles every item is driven through.
	Pipeline []blackboard.Role

	// CompletionThreshold is the aggregate quality at or above which an item is completed.
	CompletionThreshold float64

	// RetryThreshold is the aggregate quality at or above which an item is sent back for revision.
	RetryThreshold float64

	// MaxRevisions bounds how many times an item can be sent back.
	MaxRevisions int

	// MaxIterations is the default iteration budget for Run.
	MaxIterations int

	// AgentTimeout bounds a single Agent.Process call.
	AgentTimeout time.Duration

	// Workers is the number of items processed in parallel within one phase.
	Workers int

	// IdleInterval is the pause between Run iterations and the Serve poll period.
	IdleInterval time.Duration

	// StrictPipeline makes NewEngine fail when a pipeline role has no agent.
	StrictPipeline bool
}

// DefaultConfig returns the stock thresholds and limits.
func DefaultConfig() Config {
	return Config{
		Pipeline:            DefaultPipeline(),
		CompletionThreshold: 0.8,
		RetryThreshold:      0.6,
		MaxRevisions:        3,
		MaxIterations:       10,
		AgentTimeout:        30 * time.Second,
		Workers:             1,
		IdleInterval:        500 * time.Millisecond,
	}
}

// Validate checks the config for values the engine cannot work with.
func (c Config) Validate() error {
	if len(c.Pipeline) == 0 {
		return fmt.Errorf("pipeline cannot be empty")
	}
	for i, role := range c.Pipeline {
		if role == "" {
			return fmt.Errorf("pipeline[%d]: role cannot be empty", i)
		}
	}
	if c.CompletionThreshold < 0 || c.CompletionThreshold > 1 {
		return fmt.Errorf("completion threshold must be in [0,1], got %v", c.CompletionThreshold)
	}
	if c.RetryThreshold < 0 || c.RetryThreshold > 1 {
		return fmt.Errorf("retry threshold must be in [0,1], got %v", c.RetryThreshold)
	}
	if c.RetryThreshold > c.CompletionThreshold {
		return fmt.Errorf("retry threshold (%v) cannot exceed completion threshold (%v)",
			c.RetryThreshold, c.CompletionThreshold)
	}
	if c.MaxRevisions < 0 {
		return fmt.Errorf("max revisions cannot be negative")
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1")
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("agent timeout must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.IdleInterval < 0 {
		return fmt.Errorf("idle interval cannot be negative")
	}
	return nil
}

// Invalidator is implemented by statistics caches that must be dropped after a state change.
type Invalidator interface {
	Invalidate()
}

// Engine drives items through the agent pipeline and decides their disposition.
// All item mutation goes through the store; the engine holds no shared mutable state.
type Engine struct {
	store  blackboard.Store
	agents map[blackboard.Role]blackboard.Agent
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer
	stats  Invalidator
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. The default discards output.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStatsCache registers a cache that is invalidated after every state decision.
func WithStatsCache(c Invalidator) Option {
	return func(e *Engine) { e.stats = c }
}

// WithTracer overrides the OpenTelemetry tracer. The default comes from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine over store with the given role registry.
// Pipeline roles without an agent are skipped with a warning, or rejected
// when cfg.StrictPipeline is set.
func NewEngine(store blackboard.Store, agents map[blackboard.Role]blackboard.Agent, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	e := &Engine{
		store:  store,
		agents: make(map[blackboard.Role]blackboard.Agent, len(agents)),
		cfg:    cfg,
		logger: zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for role, agent := range agents {
		if agent == nil {
			return nil, fmt.Errorf("agent for role %s is nil", role)
		}
		e.agents[role] = agent
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.registerPipeline(); err != nil {
		return nil, err
	}
	return e, nil
}

// registerPipeline logs which pipeline roles have agents and enforces StrictPipeline.
func (e *Engine) registerPipeline() error {
	inPipeline := make(map[blackboard.Role]bool, len(e.cfg.Pipeline))
	var missing []blackboard.Role

	for position, role := range e.cfg.Pipeline {
		if inPipeline[role] {
			continue
		}
		inPipeline[role] = true

		if _, ok := e.agents[role]; !ok {
			missing = append(missing, role)
			e.warnEvent("role_unregistered", map[string]interface{}{
				"role":     string(role),
				"position": position,
			})
			continue
		}
		e.logEvent("agent_registered", map[string]interface{}{
			"role":     string(role),
			"position": position,
		})
	}

	for role := range e.agents {
		if !inPipeline[role] {
			e.warnEvent("agent_unused", map[string]interface{}{
				"role": string(role),
			})
		}
	}

	if e.cfg.StrictPipeline && len(missing) > 0 {
		return fmt.Errorf("pipeline roles without a registered agent: %v", missing)
	}
	return nil
}

// Roles returns the pipeline roles that have a registered agent, in pipeline order.
func (e *Engine) Roles() []blackboard.Role {
	seen := make(map[blackboard.Role]bool)
	var roles []blackboard.Role
	for _, role := range e.cfg.Pipeline {
		if _, ok := e.agents[role]; ok && !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	return roles
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Pipeline = append([]blackboard.Role(nil), e.cfg.Pipeline...)
	return cfg
}

// Result reports the outcome of one pipeline pass.
type Result struct {
	ItemID        string
	Quality       float64
	State         blackboard.State
	RevisionCount int

	// Contributed lists the roles whose outcome was applied in this pass, in order.
	Contributed []blackboard.Role

	// Failures holds the *blackboard.AgentError of every agent that failed in this pass.
	Failures []error
}

// ProcessItem runs one pass of the pipeline over the item and applies the
// accept / revise / reject decision.
//
// Agent failures are recorded in Result.Failures and never returned. Store
// failures abort the pass and are returned. If ctx is cancelled mid-pass the
// item keeps its current non-terminal state and ctx.Err() is returned.
// Terminal items are returned unchanged.
func (e *Engine) ProcessItem(ctx context.Context, id string) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chalk.process_item",
		trace.WithAttributes(attribute.String("chalk.item_id", id)))
	defer span.End()

	result, err := e.processItem(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("chalk.state", string(result.State)),
		attribute.Float64("chalk.quality", result.Quality),
		attribute.Int("chalk.agent_failures", len(result.Failures)),
	)
	return result, nil
}

func (e *Engine) processItem(ctx context.Context, id string) (*Result, error) {
	item, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if item.State.IsTerminal() {
		quality, err := e.store.AggregateQuality(ctx, id)
		if err != nil {
			return nil, err
		}
		return &Result{
			ItemID:        id,
			Quality:       quality,
			State:         item.State,
			RevisionCount: item.RevisionCount,
		}, nil
	}

	e.logEvent("pass_started", map[string]interface{}{
		"item_id":        id,
		"kind":           item.Kind,
		"revision_count": item.RevisionCount,
	})

	result := &Result{ItemID: id}
	snap := item.Snapshot()
	visited := make(map[blackboard.Role]struct{}, len(e.cfg.Pipeline))

	for _, role := range e.cfg.Pipeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, done := visited[role]; done {
			continue
		}
		visited[role] = struct{}{}

		agent, ok := e.agents[role]
		if !ok {
			continue
		}

		start := time.Now()
		outcome, err := e.invoke(ctx, role, agent, snap)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			result.Failures = append(result.Failures, err)
			e.warnEvent("agent_failed", map[string]interface{}{
				"item_id":     id,
				"role":        string(role),
				"error":       err.Error(),
				"timed_out":   errors.Is(err, context.DeadlineExceeded),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			continue
		}

		if err := e.store.ApplyOutcome(ctx, id, role, outcome); err != nil {
			return nil, fmt.Errorf("failed to apply outcome from %s to item %s: %w", role, id, err)
		}
		result.Contributed = append(result.Contributed, role)

		fields := map[string]interface{}{
			"item_id":        id,
			"role":           string(role),
			"action":         outcome.Action,
			"confidence":     outcome.Confidence,
			"needs_revision": outcome.NeedsRevision,
			"duration_ms":    time.Since(start).Milliseconds(),
		}
		if outcome.QualityScore != nil {
			fields["quality_score"] = *outcome.QualityScore
		}
		e.logEvent("contribution_applied", fields)

		updated, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh item %s: %w", id, err)
		}
		snap = updated.Snapshot()

		if outcome.NeedsRevision {
			if err := e.store.SetState(ctx, id, blackboard.StateNeedsRevision); err != nil {
				return nil, fmt.Errorf("failed to flag item %s for revision: %w", id, err)
			}
			e.logEvent("revision_requested", map[string]interface{}{
				"item_id": id,
				"role":    string(role),
			})
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.decide(ctx, id, result); err != nil {
		return nil, err
	}
	return result, nil
}

// decide applies the threshold check. It always runs after a pass, so a role's
// needs-revision flag only ends the pass early; the aggregate has the final word.
func (e *Engine) decide(ctx context.Context, id string, result *Result) error {
	quality, err := e.store.AggregateQuality(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to compute quality of item %s: %w", id, err)
	}
	item, err := e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to reload item %s: %w", id, err)
	}

	result.Quality = quality
	result.RevisionCount = item.RevisionCount

	switch {
	case quality >= e.cfg.CompletionThreshold:
		result.State = blackboard.StateCompleted

	case quality >= e.cfg.RetryThreshold && item.RevisionCount < e.cfg.MaxRevisions:
		n, err := e.store.IncrementRevision(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to increment revision count of item %s: %w", id, err)
		}
		result.RevisionCount = n
		result.State = blackboard.StateNeedsRevision

	default:
		result.State = blackboard.StateRejected
	}

	if err := e.store.SetState(ctx, id, result.State); err != nil {
		return fmt.Errorf("failed to move item %s to %s: %w", id, result.State, err)
	}
	if e.stats != nil {
		e.stats.Invalidate()
	}

	e.logEvent("item_"+decisionVerb(result.State), map[string]interface{}{
		"item_id":        id,
		"quality":        quality,
		"state":          string(result.State),
		"revision_count": result.RevisionCount,
		"agent_failures": len(result.Failures),
	})
	return nil
}

func decisionVerb(s blackboard.State) string {
	switch s {
	case blackboard.StateCompleted:
		return "completed"
	case blackboard.StateNeedsRevision:
		return "revised"
	default:
		return "rejected"
	}
}

// logEvent emits one structured line per orchestrator event.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	e.logger.Info().Str("event_type", eventType).Fields(data).Msg("")
}

func (e *Engine) warnEvent(eventType string, data map[string]interface{}) {
	e.logger.Warn().Str("event_type", eventType).Fields(data).Msg("")
}
