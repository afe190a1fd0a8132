package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"chrond/internal/config"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an initial configuration file with sample tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(out, "Configuration file already exists at: %s\n", path)
				fmt.Fprint(out, "Do you want to overwrite it? (y/N): ")
				line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.ToLower(strings.TrimSpace(line)) != "y" {
					fmt.Fprintln(out, "Initialization cancelled.")
					return nil
				}
			}

			if err := os.WriteFile(path, []byte(config.Sample), 0o600); err != nil {
				return fmt.Errorf("failed to write configuration file to %s: %w", path, err)
			}

			fmt.Fprintln(out, "\nSuccessfully created initial configuration file.")
			fmt.Fprintf(out, "  Path: %s\n", path)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintln(out, "1. Edit the file to define your tasks: `chrond edit`")
			fmt.Fprintln(out, "2. Run the daemon: `chrond run`")
			return nil
		},
	}
}
