package commands

import (
	"github.com/dyluth/chalk/internal/inspect"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/stats"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatsCmd(v *viper.Viper) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show blackboard statistics",
		Long: `Show item counts per state, the average quality of completed items and
the number of contributions made by every configured role.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			format, err := inspect.ParseOutputFormat(outputFormat)
			if err != nil || format == inspect.OutputFormatJSONL {
				return printer.Error("invalid output format", "Unknown format: "+outputFormat, []string{"Valid formats: default, json"})
			}

			e, err := loadEnv(cmd, v)
			if err != nil {
				return err
			}
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := stats.NewReporter(store, e.roles(), 0).Statistics(ctx)
			if err != nil {
				return printer.Error("failed to compute statistics", err.Error(), nil)
			}

			if format == inspect.OutputFormatJSON {
				return inspect.FormatSingleJSON(cmd.OutOrStdout(), report)
			}
			inspect.FormatStats(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "default", "Output format: default or json")
	return cmd
}
