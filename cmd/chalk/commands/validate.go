package commands

import (
	"github.com/dyluth/chalk/internal/printer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate chalk.yml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, v)
			if err != nil {
				return err
			}

			engineCfg, err := e.cfg.EngineConfig()
			if err != nil {
				return printer.Error("invalid orchestrator configuration", err.Error(), nil)
			}

			printer.Success("%s is valid\n", v.GetString("config"))
			printer.Info("  instance: %s\n", e.cfg.Instance)
			printer.Info("  backend:  %s\n", e.cfg.Store.Backend)
			printer.Info("  agents:   %d\n", len(e.cfg.Agents))
			printer.Info("  pipeline: %d roles\n", len(engineCfg.Pipeline))
			for _, role := range engineCfg.Pipeline {
				if _, ok := e.cfg.Agents[string(role)]; !ok {
					printer.Warning("pipeline role %s has no agent and will be skipped\n", role)
				}
			}
			return nil
		},
	}
}
