package cli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"chrond/internal/config"
	"chrond/pkg/logx"
)

func newEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open the configuration file in $EDITOR and validate the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("configuration file not found at %s (run `chrond init` first)", path)
			}

			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = os.Getenv("VISUAL")
			}
			if editor == "" {
				cliLog.Warn("$EDITOR and $VISUAL not set; falling back to vi")
				editor = "vi"
			}

			ed := exec.Command(editor, path)
			ed.Stdin = os.Stdin
			ed.Stdout = os.Stdout
			ed.Stderr = os.Stderr
			if err := ed.Run(); err != nil {
				return fmt.Errorf("editor %s: %w", editor, err)
			}

			cfg, err := config.NewManager(path).Load()
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				cliLog.Error("validation failed after editing; a running daemon will keep its previous config", logx.Err(err))
				return err
			}

			fmt.Println("Configuration saved and validated successfully.")
			fmt.Println("A running daemon will reload it automatically.")
			return nil
		},
	}
}
