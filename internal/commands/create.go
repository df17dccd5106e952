package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vandervillain/rando/internal/peer"
	"github.com/vandervillain/rando/internal/protocol"
	"github.com/vandervillain/rando/internal/signalclient"
	"github.com/vandervillain/rando/internal/ui"
)

var (
	flagCreateName     string
	flagCreateID       string
	flagCreateRoomName string
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a room and print its id",
	Long: `Ask the server for a new room id. The room exists until it has been
empty for a while.

Examples:
  rando create --name ann
  rando create --name ann --room-name "friday standup"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cfg, err := LoadConfig(configOpts)
		if err != nil {
			return err
		}
		user, err := identity(ctx, cfg, flagCreateID, flagCreateName)
		if err != nil {
			return err
		}

		sp := ui.NewConnectionSpinner("Connecting to server...")
		sp.Start()
		defer sp.Stop()
		conn, err := NewConnectionContext(ctx, cfg, user)
		if err != nil {
			sp.Error("Could not reach the server")
			return err
		}
		defer conn.Close()

		sp.UpdateMessage("Creating room...")
		room, err := createRoom(ctx, conn, flagCreateRoomName)
		if err != nil {
			sp.Error("Room was not created")
			return err
		}
		sp.Stop()

		fmt.Println(ui.RoomInfo{
			Room:    room,
			Command: fmt.Sprintf("rando join %s --name <you>", room.ID),
		}.View())
		return nil
	},
}

// createRoom waits for the reply carrying our ack.
func createRoom(ctx context.Context, conn *ConnectionContext, name string) (protocol.Room, error) {
	ack := uuid.NewString()
	conn.Client.CreateRoom(name, ack)

	for {
		select {
		case <-ctx.Done():
			return protocol.Room{}, peer.NewError("create room", ctx.Err())
		case ev, ok := <-conn.Handler.Events():
			if !ok {
				return protocol.Room{}, peer.NewError("create room", signalclient.ErrConnectionClosed)
			}
			switch ev := ev.(type) {
			case signalclient.RoomCreated:
				if ev.Ack == ack {
					return ev.Room, nil
				}
			case signalclient.ServerError:
				return protocol.Room{}, peer.WrapError("create room", peer.ErrServer, ev.Message)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&flagCreateName, "name", "n", "", "Your display name")
	createCmd.Flags().StringVar(&flagCreateID, "id", "", "User id from 'rando login'")
	createCmd.Flags().StringVar(&flagCreateRoomName, "room-name", "", "Display name for the room")
	addConfigFlags(createCmd)
}
