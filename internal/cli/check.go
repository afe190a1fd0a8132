package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chrond/pkg/logx"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, cfg, err := loadValidConfig()
			if err != nil {
				return err
			}
			for _, name := range cfg.DuplicateTaskNames() {
				cliLog.Warn("duplicate task name", logx.String("task", name))
			}
			fmt.Printf("Configuration check passed: %d tasks loaded from %s\n", len(cfg.Tasks), path)
			return nil
		},
	}
}
