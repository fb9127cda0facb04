package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vietddude/valuator/internal/infra/browser"
)

var installCmd = &cobra.Command{
	Use:   "install-browser",
	Short: "Download the playwright driver and chromium",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := browser.Install(); err != nil {
			return err
		}
		slog.Info("Browser installed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
