package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vandervillain/rando/internal/ui"
	"github.com/vandervillain/rando/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rando",
	Short: "Drop-in voice rooms from the terminal",
	Long: `rando joins voice rooms hosted by a rando signaling server. Audio flows
directly between peers over WebRTC; the server only relays signaling.

Examples:
  rando create --name "friday standup"
  rando join brave-quiet-otter-lamp --name ann --call
  rando rooms --secret $ADMIN_SECRET`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
