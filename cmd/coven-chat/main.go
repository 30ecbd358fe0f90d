// ABOUTME: Entry point for coven-chat, a terminal chat client with durable history
// ABOUTME: Dispatches subcommands and resolves config and data paths

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                   _           _
  ___ _____   _____ _ __       ___| |__   __ _| |_
 / __/ _ \ \ / / _ \ '_ \ ___ / __| '_ \ / _' | __|
| (_| (_) \ V /  __/ | | |___| (__| | | | (_| | |_
 \___\___/ \_/ \___|_| |_|    \___|_| |_|\__,_|\__|
`

// getConfigPath returns the path to the chat config file.
// Priority: COVEN_CHAT_CONFIG env var > XDG_CONFIG_HOME/coven-chat/config.yaml > ~/.config/coven-chat/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-chat", "config.yaml")
}

// getDataPath returns the path to the coven-chat data directory.
// Priority: XDG_DATA_HOME/coven-chat > ~/.local/share/coven-chat
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-chat")
}

func usage() {
	fmt.Println("Usage: coven-chat <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  chat [ID]                      Start the interactive chat (optionally resume ID)")
	fmt.Println("  list [--group G] [--limit N]   List recent conversations")
	fmt.Println("  search [--content] QUERY       Search titles (or raw history with --content)")
	fmt.Println("  show ID                        Print a conversation")
	fmt.Println("  rename ID TITLE                Change a conversation's title")
	fmt.Println("  move ID GROUP                  Move a conversation to another group")
	fmt.Println("  delete ID                      Delete a conversation")
	fmt.Println("  delete-group GROUP             Delete every conversation in a group")
	fmt.Println("  clear                          Delete all conversations")
	fmt.Println("  settings [KEY VALUE]           Show or change instructions/theme")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  version                        Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A local .env may carry values referenced as ${VAR} in the config file
	_ = godotenv.Load()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "chat":
		// chat installs its own SIGINT handling so Ctrl-C can stop a stream
		err = runChat(args)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		err = runManage(ctx, os.Args[1], args)
	}

	if errors.Is(err, errReported) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
