package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chrond/internal/config"
	"chrond/internal/schedule"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured tasks and their next fire times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, cfg, err := loadValidConfig()
			if err != nil {
				return err
			}

			fmt.Printf("Configuration loaded from: %s\n", path)
			fmt.Printf("\n--- chrond task list (%d tasks) ---\n", len(cfg.Tasks))
			now := time.Now()
			for _, task := range cfg.Tasks {
				fmt.Printf("- [%s]: %s\n", task.Name, task.Schedule.String())
				fmt.Printf("  command: %s\n", commandLine(task))
				fmt.Printf("  next:    %s\n", nextFire(task, now))
			}
			return nil
		},
	}
}

func commandLine(task config.Task) string {
	parts := append([]string{task.Command}, task.Args...)
	return strings.Join(parts, " ")
}

func nextFire(task config.Task, now time.Time) string {
	next, err := task.Schedule.Next(now)
	if errors.Is(err, schedule.ErrNoUpcoming) {
		return "never (no upcoming fire time)"
	}
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return fmt.Sprintf("%s (in %s)", next.Format(time.RFC3339), next.Sub(now).Round(time.Second))
}
