package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	wavelet "github.com/wavelet-im/wavelet-go"
)

// resolveRoomArg turns a user-typed room argument into a canonical room ID.
// A plain name is a group room; "@nickname" opens a pairwise room.
func resolveRoomArg(tracker *wavelet.Tracker, arg string) (string, error) {
	if other, ok := strings.CutPrefix(arg, "@"); ok {
		room, err := tracker.OpenPairwise(other)
		if err != nil {
			return "", err
		}
		return room.ID, nil
	}
	if wavelet.IsPairwiseRoomID(arg) {
		return arg, nil
	}
	return wavelet.ResolveGroupRoomID(arg)
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <room> <text>...",
	Short: "Send a single message and exit",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client, sess := getSignedInClient(ctx)
		tracker := wavelet.NewTracker(client)

		roomID, err := resolveRoomArg(tracker, args[0])
		if err != nil {
			return err
		}
		if err := tracker.RegisterFirstSend(ctx, roomID); err != nil {
			return fmt.Errorf("cannot register room: %w", err)
		}

		msg, err := client.Store().InsertMessage(ctx, wavelet.MessageDraft{
			RoomID:    roomID,
			Author:    sess.User.DisplayName,
			AuthorID:  sess.User.ID,
			AvatarURL: sess.User.AvatarURL,
			Body:      strings.Join(args[1:], " "),
			ClientKey: uuid.NewString(),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Sent (#%d)\n", msg.ID)
		return nil
	},
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <room>",
	Short: "Follow a room live; type to send, Ctrl+C to leave",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client, sess := getSignedInClient(ctx)
		client.Auth().StartAutoRefresh(ctx)
		defer client.Auth().StopAutoRefresh()

		tracker := wavelet.NewTracker(client)
		if err := tracker.SeedRooms(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not list rooms: %v\n", err)
		}

		roomID, err := resolveRoomArg(tracker, args[0])
		if err != nil {
			return err
		}
		if err := tracker.RegisterFirstSend(ctx, roomID); err != nil {
			return fmt.Errorf("cannot register room: %w", err)
		}

		syncer := wavelet.NewSynchronizer(client.Store(),
			wavelet.WithIdentity(tracker),
			wavelet.WithNotifier(wavelet.NotifierFunc(func(sender, preview string) {
				fmt.Print("\a")
			})),
		)
		syncer.SetOnChange(func() {
			renderRoom(syncer, sess.User, roomID)
		})

		if err := syncer.ActivateRoom(ctx, roomID); err != nil {
			return fmt.Errorf("cannot open room: %w", err)
		}
		defer syncer.DeactivateRoom()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		for {
			select {
			case <-sigCh:
				fmt.Println("\nLeaving room.")
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				text := strings.TrimSpace(line)
				if text == "" {
					continue
				}
				if _, err := syncer.Send(ctx, text); err != nil {
					fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
				}
			}
		}
	},
}

func renderRoom(syncer *wavelet.Synchronizer, self wavelet.User, roomID string) {
	view := wavelet.Project(syncer.Messages(), self, roomID)

	// Clear screen and repaint. Crude but serviceable for a terminal follow.
	fmt.Print("\033[2J\033[H")
	fmt.Printf("=== %s ===\n", view.Title)
	for _, e := range view.Entries {
		marker := " "
		if e.Pending {
			marker = "~"
		}
		author := e.Author
		if e.IsMine {
			author = "you"
		}
		fmt.Printf("%s [%s] %s: %s\n", marker, e.SentAt, author, e.Body)
	}
	fmt.Print("> ")
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
}
