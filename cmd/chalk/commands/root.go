package commands

import (
	"fmt"
	"strings"

	"github.com/dyluth/chalk/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute builds the command tree and runs it.
// This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds a fresh command tree with its own viper instance.
// Settings resolve flag first, then CHALK_* environment, then defaults.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CHALK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:   "chalk",
		Short: "chalk - blackboard coordination engine for agent pipelines",
		Long: `chalk coordinates a pipeline of specialised agents around a shared
blackboard. Work items are posted to the board, every agent in the pipeline
contributes to each item in turn, and the weighted quality of those
contributions decides whether an item is completed, revised or rejected.

Agents are external commands declared in chalk.yml. Items live in memory
for a single run, or in Redis so several chalk processes can share them.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// Show help instead of silently succeeding without a subcommand
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		// Formatted errors are printed by the printer package
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultFile, "Path to chalk.yml (env CHALK_CONFIG)")
	flags.String("instance", "", "Instance name, overrides chalk.yml (env CHALK_INSTANCE)")
	flags.String("redis-url", "", "Redis URL; selects the redis backend (env CHALK_REDIS_URL)")
	flags.String("log-level", "info", "Log level: debug, info, warn, error (env CHALK_LOG_LEVEL)")
	flags.Bool("pretty", false, "Human-readable console logs instead of JSON (env CHALK_PRETTY)")
	for _, name := range []string{"config", "instance", "redis-url", "log-level", "pretty"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		newRunCmd(v),
		newPostCmd(v),
		newItemsCmd(v),
		newStatsCmd(v),
		newValidateCmd(v),
		newInitCmd(),
	)
	return rootCmd
}
