package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chrond/internal/svcmgr"
)

const dbusTimeout = 10 * time.Second

func newServiceCmd() *cobra.Command {
	var user bool

	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and manage chrond as a systemd service",
	}
	cmd.PersistentFlags().BoolVar(&user, "user", false, "manage a per-user unit instead of the system one")

	withManager := func(fn func(ctx context.Context, m *svcmgr.Manager) error) error {
		ctx, cancel := context.WithTimeout(context.Background(), dbusTimeout)
		defer cancel()
		m, err := svcmgr.New(ctx, user)
		if err != nil {
			return err
		}
		defer m.Close()
		return fn(ctx, m)
	}

	install := &cobra.Command{
		Use:   "install",
		Short: "Write the unit file, reload systemd, and enable the unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to resolve chrond binary: %w", err)
			}
			execStart := exe + " run"
			if flagConfig != "" {
				abs, err := filepath.Abs(flagConfig)
				if err != nil {
					return err
				}
				execStart += " --config " + abs
			}

			return withManager(func(ctx context.Context, m *svcmgr.Manager) error {
				path, err := m.Install(ctx, svcmgr.UnitOptions{ExecStart: execStart})
				if err != nil {
					return err
				}
				fmt.Printf("Service installed: %s\n", path)
				fmt.Println("To start it immediately, run: `chrond service start`")
				return nil
			})
		},
	}

	uninstall := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop, disable, and remove the unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, m *svcmgr.Manager) error {
				if err := m.Uninstall(ctx); err != nil {
					return err
				}
				fmt.Println("Service uninstalled.")
				return nil
			})
		},
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, m *svcmgr.Manager) error {
				if err := m.Start(ctx); err != nil {
					return err
				}
				fmt.Println("Service started.")
				return nil
			})
		},
	}

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the unit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, m *svcmgr.Manager) error {
				if err := m.Stop(ctx); err != nil {
					return err
				}
				fmt.Println("Service stopped.")
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the unit's state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(func(ctx context.Context, m *svcmgr.Manager) error {
				st, err := m.Status(ctx)
				if err != nil {
					return err
				}
				if !st.Installed() {
					return fmt.Errorf("%s is not installed (run `chrond service install`)", svcmgr.UnitName)
				}

				fmt.Printf("Unit:    %s (%s)\n", st.Name, st.Description)
				fmt.Printf("Load:    %s\n", st.LoadState)
				fmt.Printf("Active:  %s (%s)\n", st.Active, st.SubState)
				fmt.Printf("Enabled: %v\n", st.Enabled)
				if st.MainPID > 0 {
					fmt.Printf("PID:     %d\n", st.MainPID)
				}
				if !st.ActiveSince.IsZero() && st.Active == "active" {
					fmt.Printf("Since:   %s (%s)\n",
						st.ActiveSince.Format(time.RFC3339),
						time.Since(st.ActiveSince).Round(time.Second))
				}
				return nil
			})
		},
	}

	var (
		follow bool
		lines  int
	)
	logs := &cobra.Command{
		Use:   "logs",
		Short: "Show the unit's journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// journalctl -f runs until interrupted.
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return svcmgr.Logs(ctx, user, follow, lines)
		},
	}
	logs.Flags().BoolVarP(&follow, "follow", "f", false, "follow the journal")
	logs.Flags().IntVarP(&lines, "lines", "n", 50, "number of journal lines to show")

	cmd.AddCommand(install, uninstall, start, stop, status, logs)
	return cmd
}
