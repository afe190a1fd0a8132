package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chrond/internal/journal"
	"chrond/pkg/logx"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent task runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadValidConfig()
			if err != nil {
				return err
			}

			rec, err := journal.Open(cfg.Journal, cliLog.With(logx.String("comp", "journal")))
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("the run journal is disabled; set journal.driver in the config to enable it")
			}
			defer rec.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			entries, err := rec.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to read journal: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("No runs recorded yet.")
				return nil
			}

			fmt.Printf("%-25s  %-20s  %-6s  %-10s  %s\n", "AT", "TASK", "EXIT", "DURATION", "NOTE")
			for _, e := range entries {
				fmt.Printf("%-25s  %-20s  %-6d  %-10s  %s\n",
					e.At.Format(time.RFC3339),
					e.Task,
					e.ExitCode,
					(time.Duration(e.DurationMS) * time.Millisecond).String(),
					entryNote(e))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "lines", "n", 20, "number of runs to show")
	return cmd
}

func entryNote(e journal.Entry) string {
	switch {
	case e.TimedOut:
		return "timed out"
	case e.Error != "":
		return e.Error
	case e.ExitCode != 0:
		return "failed"
	default:
		return "ok"
	}
}
