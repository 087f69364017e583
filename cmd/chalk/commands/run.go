package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/chalk/internal/inspect"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/orchestrator"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/stats"
	"github.com/dyluth/chalk/internal/telemetry"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(v *viper.Viper) *cobra.Command {
	var (
		iterations int
		serve      bool
		postKind   string
		postData   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the backlog through the agent pipeline",
		Long: `Process every pending item through the configured pipeline, then send
items that need revision through it again, until the backlog is empty or
the iteration budget is spent. Final statistics are printed at the end.

With --serve, chalk keeps running and processes new items as they are
posted (immediately with the redis backend, otherwise on each idle tick)
until interrupted.

Examples:
  # Drain the backlog once
  chalk run

  # Seed an item and process it with the in-memory store
  chalk run --post question_request --data '{"topic": "Go channels"}'

  # Long-running worker sharing a Redis board
  CHALK_REDIS_URL=redis://localhost:6379 chalk run --serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := loadEnv(cmd, v)
			if err != nil {
				return err
			}
			instance := e.cfg.Instance

			shutdownTracing, err := telemetry.Init(ctx, e.cfg.Telemetry, version)
			if err != nil {
				return printer.Error("failed to initialise tracing", err.Error(), nil)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					e.logger.Warn().Err(err).Msg("tracer shutdown failed")
				}
			}()

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			agents, err := e.buildAgents()
			if err != nil {
				return printer.Error("invalid agent", err.Error(), nil)
			}

			engineCfg, err := e.cfg.EngineConfig()
			if err != nil {
				return printer.Error("invalid orchestrator configuration", err.Error(), nil)
			}

			reporter := stats.NewReporter(store, e.roles(), 0)
			engine, err := orchestrator.NewEngine(store, agents, engineCfg,
				orchestrator.WithLogger(logging.Component(e.logger, "orchestrator", instance)),
				orchestrator.WithStatsCache(reporter),
			)
			if err != nil {
				return printer.Error("failed to start orchestrator", err.Error(), nil)
			}

			if postKind != "" {
				payload, err := parsePayload(postData)
				if err != nil {
					return printer.Error("invalid --data", err.Error(), []string{`Pass a JSON object, e.g. --data '{"topic": "Go"}'`})
				}
				id, err := store.Post(ctx, postKind, payload)
				if err != nil {
					return printer.Error("failed to post item", err.Error(), nil)
				}
				printer.Success("Posted %s item %s\n", postKind, id)
			}

			if addr := e.cfg.HTTP.Addr; addr != "" {
				server := orchestrator.NewHealthServer(store, reporter, addr, logging.Component(e.logger, "http", instance))
				if err := server.Start(); err != nil {
					return printer.Error("failed to start status server", err.Error(), nil)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			out := cmd.OutOrStdout()
			if serve {
				if err := engine.Serve(ctx); err != nil {
					return printer.Error("orchestrator stopped", err.Error(), nil)
				}
			} else {
				summary, err := engine.Run(ctx, iterations)
				if err != nil && !errors.Is(err, context.Canceled) {
					if blackboard.IsUnavailable(err) {
						return printer.ErrorWithContext(
							"store unavailable",
							err.Error(),
							map[string]string{"Backend": e.cfg.Store.Backend, "Instance": instance},
							nil,
						)
					}
					return printer.Error("run failed", err.Error(), nil)
				}
				inspect.FormatSummary(out, summary)
			}

			// Final report; the run context may already be cancelled.
			reportCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			reporter.Invalidate()
			report, err := reporter.Statistics(reportCtx)
			if err != nil {
				return printer.Error("failed to compute statistics", err.Error(), nil)
			}
			inspect.FormatStats(out, report)
			return nil
		},
	}

	cmd.Flags().IntVar(&iterations, "iterations", 0, "Maximum iterations (0 uses orchestrator.max_iterations)")
	cmd.Flags().BoolVar(&serve, "serve", false, "Keep processing new items until interrupted")
	cmd.Flags().StringVar(&postKind, "post", "", "Post an item of this kind before processing")
	cmd.Flags().StringVar(&postData, "data", "", "JSON object payload for --post")
	return cmd
}
