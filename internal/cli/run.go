package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chrond/internal/daemon"
)

const stopTimeout = 15 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath()
			if err != nil {
				return err
			}

			app, err := daemon.New(path, flagVerbose)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Start(ctx); err != nil {
				return err
			}

			// Block until a signal arrives or a supervised loop fails hard.
			<-app.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := app.Stop(stopCtx); err != nil {
				return err
			}
			return app.Err()
		},
	}
}
