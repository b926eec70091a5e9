package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/videocall/internal/adapters/rtc"
	"github.com/dkeye/videocall/internal/app/orch"
	"github.com/dkeye/videocall/internal/domain"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a room and wait for a peer to join",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(func(ctx context.Context, c *orch.Coordinator) error {
			id, err := c.CreateRoom(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "room: %s\n", id)
			return nil
		})
	},
}

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join the call waiting in a room",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := domain.RoomID(strings.TrimSpace(args[0]))
		if id == "" {
			return fmt.Errorf("empty room id")
		}
		return runCall(func(ctx context.Context, c *orch.Coordinator) error {
			return c.JoinRoom(ctx, id)
		})
	},
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms on the rendezvous server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		coord, err := newCoordinator(cfg, rtc.NewFactory(rtc.Configuration(cfg.ICEServers)), nil)
		if err != nil {
			return err
		}
		defer coord.Close(context.Background())

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Store.Timeout)
		defer cancel()
		rooms, err := coord.Rooms(ctx)
		if err != nil {
			return err
		}
		log.Debug().Int("count", len(rooms)).Msg("rooms listed")

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATOR\tANSWERED\tCREATED")
		for _, r := range rooms {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", r.ID, r.Creator, r.Answered(), r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}
