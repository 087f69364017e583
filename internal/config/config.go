package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dyluth/chalk/internal/orchestrator"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up in the working directory.
const DefaultFile = "chalk.yml"

const (
	// BackendMemory keeps items in process memory. Nothing survives a restart.
	BackendMemory = "memory"

	// BackendRedis keeps items in Redis so several chalk processes can share them.
	BackendRedis = "redis"
)

// ChalkConfig represents the top-level chalk.yml configuration
type ChalkConfig struct {
	Version      string              `yaml:"version"`
	Instance     string              `yaml:"instance,omitempty"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
	RoleWeights  map[string]float64  `yaml:"role_weights,omitempty"`
	Agents       map[string]Agent    `yaml:"agents"`
	Store        *StoreConfig        `yaml:"store,omitempty"`
	HTTP         *HTTPConfig         `yaml:"http,omitempty"`
	Telemetry    *TelemetryConfig    `yaml:"telemetry,omitempty"`
}

// OrchestratorConfig specifies pipeline order, thresholds and limits.
// Pointer fields distinguish "unset" from zero so defaults can be applied.
type OrchestratorConfig struct {
	Pipeline            []string  `yaml:"pipeline,omitempty"`
	CompletionThreshold *float64  `yaml:"completion_threshold,omitempty"`
	RetryThreshold      *float64  `yaml:"retry_threshold,omitempty"`
	MaxRevisions        *int      `yaml:"max_revisions,omitempty"`
	MaxIterations       *int      `yaml:"max_iterations,omitempty"`
	AgentTimeout        *Duration `yaml:"agent_timeout,omitempty"`
	Workers             *int      `yaml:"workers,omitempty"`
	IdleInterval        *Duration `yaml:"idle_interval,omitempty"`
	StrictPipeline      bool      `yaml:"strict_pipeline,omitempty"`
}

// Agent describes an external command that plays one pipeline role.
// The map key in ChalkConfig.Agents is the role name.
type Agent struct {
	Command     []string  `yaml:"command"`
	Timeout     *Duration `yaml:"timeout,omitempty"`
	Environment []string  `yaml:"environment,omitempty"`
	WorkDir     string    `yaml:"workdir,omitempty"`
}

// StoreConfig selects the blackboard backend
type StoreConfig struct {
	Backend  string `yaml:"backend,omitempty"`
	RedisURL string `yaml:"redis_url,omitempty"`
}

// HTTPConfig configures the status server. An empty address disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export. An empty endpoint disables it.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	ServiceName  string `yaml:"service_name,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("30s", "500ms").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"30s\": %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Validate performs strict validation on the configuration and fills in defaults.
func (c *ChalkConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}
	if strings.ContainsAny(c.Instance, " \t\n:{}") {
		return fmt.Errorf("invalid instance name %q: must not contain whitespace, ':' or braces", c.Instance)
	}

	// Required: at least one agent
	if len(c.Agents) == 0 {
		return fmt.Errorf("no agents defined")
	}
	for role, agent := range c.Agents {
		if err := agent.Validate(role); err != nil {
			return err
		}
	}

	for role, w := range c.RoleWeights {
		if w <= 0 {
			return fmt.Errorf("role_weights.%s must be > 0, got %v", role, w)
		}
	}

	if c.Orchestrator == nil {
		c.Orchestrator = &OrchestratorConfig{}
	}
	c.Orchestrator.applyDefaults()
	if _, err := c.EngineConfig(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}

	if c.HTTP == nil {
		c.HTTP = &HTTPConfig{}
	}

	if c.Telemetry == nil {
		c.Telemetry = &TelemetryConfig{}
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "chalk"
	}

	return nil
}

// applyDefaults fills unset fields from orchestrator.DefaultConfig.
func (o *OrchestratorConfig) applyDefaults() {
	d := orchestrator.DefaultConfig()

	if len(o.Pipeline) == 0 {
		for _, role := range d.Pipeline {
			o.Pipeline = append(o.Pipeline, string(role))
		}
	}
	if o.CompletionThreshold == nil {
		o.CompletionThreshold = &d.CompletionThreshold
	}
	if o.RetryThreshold == nil {
		o.RetryThreshold = &d.RetryThreshold
	}
	if o.MaxRevisions == nil {
		o.MaxRevisions = &d.MaxRevisions
	}
	if o.MaxIterations == nil {
		o.MaxIterations = &d.MaxIterations
	}
	if o.AgentTimeout == nil {
		timeout := Duration(d.AgentTimeout)
		o.AgentTimeout = &timeout
	}
	if o.Workers == nil {
		o.Workers = &d.Workers
	}
	if o.IdleInterval == nil {
		idle := Duration(d.IdleInterval)
		o.IdleInterval = &idle
	}
}

// Validate performs validation on a single agent configuration
func (a *Agent) Validate(role string) error {
	if role == "" {
		return fmt.Errorf("agent role cannot be empty")
	}

	// Required: command
	if len(a.Command) == 0 {
		return fmt.Errorf("agent '%s': command is required", role)
	}

	if a.Timeout != nil && *a.Timeout <= 0 {
		return fmt.Errorf("agent '%s': timeout must be positive", role)
	}

	for _, kv := range a.Environment {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("agent '%s': environment entry %q must be KEY=VALUE", role, kv)
		}
	}

	if a.WorkDir != "" {
		if _, err := os.Stat(a.WorkDir); os.IsNotExist(err) {
			return fmt.Errorf("agent '%s': workdir does not exist: %s", role, a.WorkDir)
		}
	}

	return nil
}

// Validate checks the backend selection and applies defaults.
func (s *StoreConfig) Validate() error {
	if s.Backend == "" {
		s.Backend = BackendMemory
	}

	switch s.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		if s.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis backend")
		}
		if _, err := redis.ParseURL(s.RedisURL); err != nil {
			return fmt.Errorf("invalid store.redis_url: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("invalid store.backend: %s (must be 'memory' or 'redis')", s.Backend)
	}
}

// EngineConfig converts the orchestrator section into the engine's config.
// Call it on a validated config.
func (c *ChalkConfig) EngineConfig() (orchestrator.Config, error) {
	o := c.Orchestrator
	if o == nil {
		return orchestrator.Config{}, fmt.Errorf("orchestrator section missing")
	}

	cfg := orchestrator.Config{
		CompletionThreshold: *o.CompletionThreshold,
		RetryThreshold:      *o.RetryThreshold,
		MaxRevisions:        *o.MaxRevisions,
		MaxIterations:       *o.MaxIterations,
		AgentTimeout:        o.AgentTimeout.Std(),
		Workers:             *o.Workers,
		IdleInterval:        o.IdleInterval.Std(),
		StrictPipeline:      o.StrictPipeline,
	}
	for _, role := range o.Pipeline {
		cfg.Pipeline = append(cfg.Pipeline, blackboard.Role(role))
	}

	if err := cfg.Validate(); err != nil {
		return orchestrator.Config{}, err
	}
	return cfg, nil
}

// Weights returns the configured role weights, or the defaults when none are set.
func (c *ChalkConfig) Weights() blackboard.Weights {
	if len(c.RoleWeights) == 0 {
		return blackboard.DefaultWeights()
	}
	w := make(blackboard.Weights, len(c.RoleWeights))
	for role, v := range c.RoleWeights {
		w[blackboard.Role(role)] = v
	}
	return w
}

// Load reads and validates chalk.yml from the specified path
func Load(path string) (*ChalkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a chalk.yml document.
func Parse(data []byte) (*ChalkConfig, error) {
	var config ChalkConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
