package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vandervillain/rando/internal/ui"
)

var flagLoginName string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Get a user id from the server",
	Long: `Ask the server for a user id. Pass it to later commands with --id to
keep the same identity across sessions.

Examples:
  rando login --name ann`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configOpts)
		if err != nil {
			return err
		}
		user, err := login(context.Background(), cfg, flagLoginName)
		if err != nil {
			return err
		}
		ui.PrintSuccessf("Logged in as %s", user.Name)
		ui.PrintInfof("Pass --id %s to keep this identity", user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVarP(&flagLoginName, "name", "n", "", "Display name")
	loginCmd.MarkFlagRequired("name")
	addConfigFlags(loginCmd)
}
