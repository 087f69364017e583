package commands

import (
	"fmt"

	"github.com/dyluth/chalk/internal/scaffold"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var (
		force bool
		dir   string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new chalk project",
		Long: `Initialize a new chalk project with a default configuration and an example agent.

Creates:
  • chalk.yml - pipeline, thresholds and agent definitions
  • agents/example_reviewer.sh - a shell agent demonstrating the stdin/stdout contract

Use --force to reinitialize an existing project (WARNING: destroys existing configuration).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := scaffold.Initialize(dir, force)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			scaffold.PrintSuccess(cmd.OutOrStdout(), created)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Force reinitialization (removes existing chalk.yml and agents/)")
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to initialize")
	return cmd
}
