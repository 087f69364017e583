package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/dyluth/chalk/internal/cmdagent"
	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// env is the resolved configuration shared by every subcommand.
type env struct {
	cfg    *config.ChalkConfig
	logger zerolog.Logger
}

// loadEnv sets up logging and loads chalk.yml with flag/env overrides applied.
func loadEnv(cmd *cobra.Command, v *viper.Viper) (*env, error) {
	logger, err := logging.Setup(logging.Options{
		Level:  v.GetString("log-level"),
		Pretty: v.GetBool("pretty"),
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, printer.Error(
			"invalid log level",
			err.Error(),
			[]string{"Use one of: debug, info, warn, error"},
		)
	}

	path := v.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to load configuration",
			err.Error(),
			map[string]string{"Config": path},
			[]string{"Check chalk.yml, or point --config / CHALK_CONFIG at another file"},
		)
	}

	if instance := v.GetString("instance"); instance != "" {
		cfg.Instance = instance
	}
	if redisURL := v.GetString("redis-url"); redisURL != "" {
		cfg.Store.Backend = config.BackendRedis
		cfg.Store.RedisURL = redisURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, printer.Error("invalid configuration", err.Error(), nil)
	}

	return &env{cfg: cfg, logger: logger}, nil
}

// openStore builds the configured backend and checks it is reachable.
func (e *env) openStore(ctx context.Context) (blackboard.Store, error) {
	weights := e.cfg.Weights()

	switch e.cfg.Store.Backend {
	case config.BackendRedis:
		redisOpts, err := redis.ParseURL(e.cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid Redis URL: %w", err)
		}
		store, err := blackboard.NewRedisStore(redisOpts, e.cfg.Instance, weights)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis store: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, printer.ErrorWithContext(
				"Redis not accessible",
				err.Error(),
				map[string]string{"Redis": redisOpts.Addr, "Instance": e.cfg.Instance},
				[]string{"Start Redis, or drop store.backend to use the in-memory store"},
			)
		}
		e.logger.Debug().Str("addr", redisOpts.Addr).Str("instance", e.cfg.Instance).Msg("connected to Redis")
		return store, nil
	default:
		return blackboard.NewMemoryStore(weights), nil
	}
}

// buildAgents creates one command agent per configured role.
func (e *env) buildAgents() (map[blackboard.Role]blackboard.Agent, error) {
	agents := make(map[blackboard.Role]blackboard.Agent, len(e.cfg.Agents))
	for role, a := range e.cfg.Agents {
		cfg := cmdagent.Config{
			Role:        blackboard.Role(role),
			Command:     a.Command,
			Environment: a.Environment,
			WorkDir:     a.WorkDir,
		}
		if a.Timeout != nil {
			cfg.Timeout = a.Timeout.Std()
		}
		agent, err := cmdagent.New(cfg, logging.Component(e.logger, "agent", e.cfg.Instance))
		if err != nil {
			return nil, err
		}
		agents[blackboard.Role(role)] = agent
	}
	return agents, nil
}

// roles lists the configured agent roles in sorted order.
func (e *env) roles() []blackboard.Role {
	roles := make([]blackboard.Role, 0, len(e.cfg.Agents))
	for role := range e.cfg.Agents {
		roles = append(roles, blackboard.Role(role))
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
