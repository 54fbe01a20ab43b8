package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thebtf/photodedup/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory and a default settings file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.EnsureAll(); err != nil {
			return fmt.Errorf("initialize %s: %w", config.DataDir(), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Settings: %s\n", config.SettingsPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
