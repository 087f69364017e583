package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/inspect"
	"github.com/dyluth/chalk/internal/printer"
	"github.com/dyluth/chalk/internal/watch"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newPostCmd(v *viper.Viper) *cobra.Command {
	var (
		data        string
		wait        bool
		waitTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "post KIND",
		Short: "Post a new item to the blackboard",
		Long: `Post a new pending item of the given kind. The item id is printed on
stdout so it can be captured by scripts.

With --wait, chalk polls until a running orchestrator finishes the item and
prints the final item as JSON.

Examples:
  chalk post question_request --data '{"topic": "Go channels", "difficulty": "medium"}'

  ID=$(chalk post lesson_request --data '{"topic": "Rust"}')
  chalk items "$ID"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind := args[0]

			payload, err := parsePayload(data)
			if err != nil {
				return printer.Error("invalid --data", err.Error(), []string{`Pass a JSON object, e.g. --data '{"topic": "Go"}'`})
			}

			e, err := loadEnv(cmd, v)
			if err != nil {
				return err
			}
			if e.cfg.Store.Backend == config.BackendMemory {
				printer.Warning("the memory backend forgets items when chalk exits; use --redis-url or `chalk run --post`\n")
			}

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			id, err := store.Post(ctx, kind, payload)
			if err != nil {
				return printer.Error("failed to post item", err.Error(), nil)
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)

			if !wait {
				return nil
			}

			item, err := watch.PollForTerminal(ctx, store, id, waitTimeout)
			if err != nil {
				return printer.ErrorWithContext(
					"item did not finish",
					err.Error(),
					map[string]string{"Item": id},
					[]string{"Make sure `chalk run --serve` is running against the same store"},
				)
			}
			return inspect.FormatSingleJSON(cmd.OutOrStdout(), item)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON object payload")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the item is completed or rejected")
	cmd.Flags().DurationVar(&waitTimeout, "timeout", 5*time.Minute, "How long --wait polls before giving up")
	return cmd
}

// parsePayload decodes a --data value. An empty value is an empty payload.
func parsePayload(data string) (blackboard.Payload, error) {
	if data == "" {
		return blackboard.Payload{}, nil
	}
	var payload blackboard.Payload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("payload must be a JSON object, got null")
	}
	return payload, nil
}
