package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	chatsync "github.com/MrMykyta/crm-sub001"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	messagesLimit  int
	messagesBefore string
	searchLimit    int
)

func init() {
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 50, "Maximum number of messages to fetch")
	messagesCmd.Flags().StringVar(&messagesBefore, "before", "", "Fetch messages older than this message id")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 200, "How many recent messages to search through")

	rootCmd.AddCommand(roomsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(searchCmd)
}

// ============================================================================
// rooms
// ============================================================================

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List chat rooms, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		rooms, err := client.ListRooms(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return nil
		}

		for _, r := range rooms {
			title := r.Title
			if title == "" {
				title = r.ID
			}
			fmt.Printf("%-24s %-8s %s\n", r.ID, r.Type, title)
			if r.LastMessagePreview != "" {
				fmt.Printf("  %s  %s\n", r.LastMessageAt.Format("2006-01-02 15:04"), r.LastMessagePreview)
			}
		}
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <room-id>",
	Short: "Print a room's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.RoomMessages(ctx, roomID, &chatsync.HistoryOptions{Limit: messagesLimit, Before: messagesBefore})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <room-id> <query>",
	Short: "Search recent messages in a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, query := args[0], args[1]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.RoomMessages(ctx, roomID, &chatsync.HistoryOptions{Limit: searchLimit})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		q := strings.ToLower(query)
		found := 0
		for _, m := range msgs {
			if m.Deleted() {
				continue
			}
			if strings.Contains(strings.ToLower(m.Text), q) {
				printMessage(m)
				found++
			}
		}
		if found == 0 {
			fmt.Println("No matches.")
		} else {
			fmt.Printf("%d match(es)\n", found)
		}
		return nil
	},
}
