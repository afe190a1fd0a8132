// Package cli wires the chrond subcommands: the daemon itself plus the
// config and service management helpers around it.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chrond/internal/config"
	"chrond/pkg/logx"
)

var (
	flagConfig  string
	flagVerbose bool

	cliLog logx.Logger
)

// NewRootCmd creates the root cobra command for chrond.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chrond",
		Short: "cron-style command scheduler with live config reload",
		Long: `chrond runs external commands on 6/7-field cron schedules and picks up
config file changes without a restart.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "info"
			if flagVerbose {
				level = "debug"
			}
			cliLog = logx.NewConsole(level)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file (default: $XDG_CONFIG_HOME/chrond/config.json)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(),
		newListCmd(),
		newCheckCmd(),
		newInitCmd(),
		newEditCmd(),
		newExecCmd(),
		newServiceCmd(),
		newHistoryCmd(),
	)

	return root
}

// resolveConfigPath applies --config or falls back to the default location.
func resolveConfigPath() (string, error) {
	return config.ResolvePath(flagConfig)
}

// loadValidConfig is the entry point shared by the read-only subcommands:
// resolve the path, parse strictly, and run full validation.
func loadValidConfig() (string, *config.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.NewManager(path).Load()
	if err != nil {
		return path, nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return path, nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return path, cfg, nil
}
