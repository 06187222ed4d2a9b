package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	wavelet "github.com/wavelet-im/wavelet-go"
)

// ============================================================================
// rooms
// ============================================================================

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List known rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client, sess := getSignedInClient(ctx)
		tracker := wavelet.NewTracker(client)
		if err := tracker.SeedRooms(ctx); err != nil {
			return fmt.Errorf("cannot list rooms: %w", err)
		}

		for _, room := range tracker.Rooms() {
			fmt.Println(wavelet.RoomLabel(room, sess.User.DisplayName))
		}
		return nil
	},
}

var roomsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group room (or join it if it already exists)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client, _ := getSignedInClient(ctx)
		tracker := wavelet.NewTracker(client)

		room, err := tracker.CreateGroup(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Room ready: # %s\n", room.ID)
		return nil
	},
}

// ============================================================================
// dm
// ============================================================================

var dmCmd = &cobra.Command{
	Use:   "dm <nickname>",
	Short: "Open (derive) a one-to-one room with another user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client, _ := getSignedInClient(ctx)
		tracker := wavelet.NewTracker(client)

		room, err := tracker.OpenPairwise(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Direct room with %s: %s\n", args[0], room.ID)
		fmt.Printf("Use 'wavelet watch %q' to chat.\n", room.ID)
		return nil
	},
}

func init() {
	roomsCmd.AddCommand(roomsCreateCmd)
	rootCmd.AddCommand(roomsCmd)
	rootCmd.AddCommand(dmCmd)
}
