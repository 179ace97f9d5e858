package cli

import (
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the background claim monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Monitor(cmd.Context())
	},
}
