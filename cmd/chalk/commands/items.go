package commands

import (
	"errors"
	"time"

	"github.com/dyluth/chalk/internal/inspect"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/resolver"
	"github.com/dyluth/chalk/internal/timespec"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newItemsCmd(v *viper.Viper) *cobra.Command {
	var (
		outputFormat string
		state        string
		kind         string
		since        string
		until        string
	)

	cmd := &cobra.Command{
		Use:   "items [ITEM_ID]",
		Short: "Inspect blackboard items",
		Long: `Inspect blackboard items in list or get mode.

List Mode (no ITEM_ID):
  Displays items matching the filters as a table, JSON or JSONL.

Get Mode (with ITEM_ID):
  Displays one item, including its full contribution history, as JSON.
  Accepts a unique id prefix of at least 6 characters.

Examples:
  # Items waiting for another pass
  chalk items --state needs_revision

  # Completed question items from the last hour, for jq
  chalk items --state completed --kind 'question_*' --since 1h -o jsonl

  # One item by short id
  chalk items 3f9a1c`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			format, err := inspect.ParseOutputFormat(outputFormat)
			if err != nil {
				return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, json, jsonl"})
			}

			filters := &inspect.FilterCriteria{KindGlob: kind}
			if state != "" {
				filters.State = blackboard.State(state)
				if err := filters.State.Validate(); err != nil {
					return printer.Error("invalid --state", err.Error(), []string{"Valid states: pending, needs_revision, completed, rejected"})
				}
			}
			filters.Since, filters.Until, err = timespec.ParseRange(since, until, time.Now())
			if err != nil {
				return printer.Error("invalid time filter", err.Error(), nil)
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

			if len(args) == 0 {
				if err := inspect.ListItems(ctx, store, e.cfg.Instance, format, filters, out); err != nil {
					return printer.Error("failed to list items", err.Error(), nil)
				}
				return nil
			}

			id, err := resolver.ResolveItemID(ctx, store, args[0])
			if err != nil {
				var ambiguous *resolver.AmbiguousError
				if errors.As(err, &ambiguous) {
					return printer.Error("ambiguous item id", resolver.FormatAmbiguousError(ambiguous), nil)
				}
				if blackboard.IsNotFound(err) {
					return printer.ErrorWithContext(
						"item not found",
						err.Error(),
						map[string]string{"Instance": e.cfg.Instance, "Backend": e.cfg.Store.Backend},
						[]string{"List items with:\n  chalk items"},
					)
				}
				return printer.Error("failed to look up item", err.Error(), nil)
			}
			return inspect.GetItem(ctx, store, id, out)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "default", "Output format: default, json or jsonl (list mode)")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (glob pattern)")
	cmd.Flags().StringVar(&since, "since", "", "Show items created after time (duration or RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Show items created before time (duration or RFC3339)")
	return cmd
}
