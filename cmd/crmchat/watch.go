package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	chatsync "github.com/MrMykyta/crm-sub001"
	"github.com/spf13/cobra"
)

var watchHistory int

func init() {
	watchCmd.Flags().IntVar(&watchHistory, "history", 20, "How many recent messages to print before going live")
	rootCmd.AddCommand(watchCmd)
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <room-id>",
	Short: "Follow a room live until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		cfg := mustConfig()

		sess, err := chatsync.NewSession(chatsync.SessionConfig{
			BaseURL:   cfg.Server.BaseURL,
			SocketURL: cfg.Server.SocketURL,
			UserID:    cfg.Auth.UserID,
			UserName:  cfg.Auth.UserName,
		})
		if err != nil {
			return err
		}

		sess.Manager().OnConnected(func() {
			fmt.Println("-- connected --")
		})
		sess.Manager().OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("-- reconnecting (attempt %d, in %s) --\n", attempt, delay)
		})

		store := sess.Store()
		var mu sync.Mutex
		seen := make(map[string]bool)
		printNew := func() {
			mu.Lock()
			defer mu.Unlock()
			for _, m := range store.Messages(roomID) {
				if !seen[m.ID] {
					seen[m.ID] = true
					printMessage(m)
				}
			}
		}
		store.Subscribe(func(ch chatsync.Change) {
			if ch.Kind == chatsync.ChangeMessages && ch.RoomID == roomID {
				printNew()
			}
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := sess.Start(ctx, cfg.Auth.Token); err != nil {
			cancel()
			return err
		}
		if err := sess.OpenRoom(ctx, roomID, watchHistory); err != nil {
			cancel()
			return err
		}
		cancel()

		printNew()
		fmt.Println("-- watching, Ctrl-C to stop --")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		sess.Close(shutdownCtx)
		fmt.Println("-- disconnected --")
		return nil
	},
}
