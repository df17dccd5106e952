package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vandervillain/rando/internal/config"
	"github.com/vandervillain/rando/internal/peer"
	"github.com/vandervillain/rando/internal/protocol"
	"github.com/vandervillain/rando/internal/ui"
)

var flagAdminSecret string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms known to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var rooms []protocol.RoomInfo
		if err := fetchAdmin("rooms", &rooms); err != nil {
			return err
		}
		fmt.Println(ui.RoomsTable(rooms, time.Now()))
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users connected to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		var users []protocol.UserInfo
		if err := fetchAdmin("users", &users); err != nil {
			return err
		}
		fmt.Println(ui.UsersTable(users, time.Now()))
		return nil
	},
}

func fetchAdmin(resource string, out any) error {
	cfg, err := LoadConfig(configOpts)
	if err != nil {
		return err
	}
	secret := flagAdminSecret
	if secret == "" {
		secret = os.Getenv("ADMIN_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("an admin secret is required (--secret or ADMIN_SECRET)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return getAdmin(ctx, cfg, resource, secret, out)
}

func getAdmin(ctx context.Context, cfg *config.Config, resource, secret string, out any) error {
	u := fmt.Sprintf("%s/admin/%s?secret=%s", cfg.APIURL, resource, url.QueryEscape(secret))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return peer.NewError("list "+resource, err)
	}
	if err := doJSON(req, out); err != nil {
		return peer.NewError("list "+resource, err)
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{roomsCmd, usersCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringVar(&flagAdminSecret, "secret", "", "Admin secret (defaults to $ADMIN_SECRET)")
		addConfigFlags(c)
	}
}
