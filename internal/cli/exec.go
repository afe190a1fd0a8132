package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chrond/internal/daemon"
	"chrond/internal/executor"
	"chrond/internal/journal"
	"chrond/internal/notify"
	"chrond/pkg/logx"
)

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <task-name>",
		Short: "Run a single configured task immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadValidConfig()
			if err != nil {
				return err
			}

			task, ok := cfg.TaskByName(args[0])
			if !ok {
				names := make([]string, 0, len(cfg.Tasks))
				for _, t := range cfg.Tasks {
					names = append(names, t.Name)
				}
				return fmt.Errorf("task %q not found; available tasks: %s", args[0], strings.Join(names, ", "))
			}

			// Manual runs feed the same sinks as scheduled ones: the run
			// journal and the failure webhook.
			sinks := make([]executor.Sink, 0, 2)
			rec, err := journal.Open(cfg.Journal, cliLog.With(logx.String("comp", "journal")))
			if err != nil {
				return err
			}
			if rec != nil {
				defer rec.Close()
				sinks = append(sinks, daemon.NewJournalSink(rec, cliLog))
			}
			notif, err := notify.New(cfg.Notify, cliLog.With(logx.String("comp", "notify")))
			if err != nil {
				return err
			}
			sinks = append(sinks, notif)

			exe := executor.New(cliLog.With(logx.String("comp", "executor")), executor.Options{}, sinks...)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("Executing task %q...\n", task.Name)
			res := exe.Run(ctx, task)

			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			notif.Close(closeCtx)

			if res.Stdout != "" {
				fmt.Printf("[stdout]\n%s\n", strings.TrimRight(res.Stdout, "\n"))
			}
			if res.Stderr != "" {
				fmt.Printf("[stderr]\n%s\n", strings.TrimRight(res.Stderr, "\n"))
			}

			if res.Failed() {
				if res.TimedOut {
					return fmt.Errorf("task %q timed out after %s", task.Name, res.Duration.Round(time.Millisecond))
				}
				if res.Err != nil && res.ExitCode < 0 {
					return fmt.Errorf("task %q failed to run: %w", task.Name, res.Err)
				}
				return fmt.Errorf("task %q exited with status %d", task.Name, res.ExitCode)
			}
			fmt.Printf("Task %q finished in %s.\n", task.Name, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
