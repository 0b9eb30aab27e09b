package main

import (
	"fmt"
	"os"

	chatsync "github.com/MrMykyta/crm-sub001"
)

// getClient creates a REST client from the stored configuration.
func getClient() *chatsync.Client {
	cfg := mustConfig()
	return chatsync.NewClient(cfg.Server.BaseURL, cfg.Auth.Token)
}

// printMessage renders one message as a history line.
func printMessage(m chatsync.Message) {
	if m.Deleted() {
		fmt.Printf("[%s] %s: (deleted)\n", m.CreatedAt.Format("2006-01-02 15:04"), m.AuthorID)
		return
	}
	text := m.Text
	if text == "" && len(m.Attachments) > 0 {
		text = "(attachment) " + m.Attachments[0].FileName
	}
	pin := ""
	if m.IsPinned {
		pin = " [pinned]"
	}
	fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("2006-01-02 15:04"), m.AuthorID, text, pin)
}

// mustConfig loads the config and exits when credentials are missing.
func mustConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Server.BaseURL == "" || cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "Not logged in. Run 'crmchat login <base-url> <token> <user-id>' first.")
		os.Exit(1)
	}
	return cfg
}
