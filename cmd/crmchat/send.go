package main

import (
	"context"
	"fmt"
	"time"

	chatsync "github.com/MrMykyta/crm-sub001"
	"github.com/spf13/cobra"
)

var sendReplyTo string

func init() {
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "Message id to reply to")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <text>",
	Short: "Send a message to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, text := args[0], args[1]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var opts *chatsync.SendOptions
		if sendReplyTo != "" {
			opts = &chatsync.SendOptions{ReplyToMessageID: sendReplyTo}
		}

		msg, err := client.SendMessage(ctx, roomID, text, opts)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message sent to room %s\n", roomID)
		fmt.Printf("  Message ID: %s\n", msg.ID)
		fmt.Printf("  Text:       %s\n", msg.Text)
		return nil
	},
}

// ============================================================================
// read
// ============================================================================

var readCmd = &cobra.Command{
	Use:   "read <room-id> <message-id>",
	Short: "Mark a room as read up to a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.MarkRead(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Read cursor updated.")
		return nil
	},
}

// ============================================================================
// pin / unpin
// ============================================================================

var pinCmd = &cobra.Command{
	Use:   "pin <room-id> <message-id>",
	Short: "Pin a message in a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.PinMessage(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Message pinned.")
		return nil
	},
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <room-id> <message-id>",
	Short: "Unpin a message in a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.UnpinMessage(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Message unpinned.")
		return nil
	},
}
