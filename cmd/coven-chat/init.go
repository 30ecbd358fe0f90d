// ABOUTME: Interactive config file generator for coven-chat
// ABOUTME: Prompts for store, logging and chat defaults and writes YAML

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/coven-chat/internal/config"
)

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-chat configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Database Configuration ---")
	driver := prompt(reader, "Store driver (sqlite/sqlite3/bolt)", config.DefaultDriver)
	full := config.Default(defaultDataPath)
	if driver == "bolt" {
		full.Database.Path = filepath.Join(defaultDataPath, "chat.bolt")
	}
	dbPath := prompt(reader, "Database path", full.Database.Path)

	fmt.Println("\n--- Chat Configuration ---")
	model := prompt(reader, "Default model", config.DefaultModel)
	instructions := prompt(reader, "Default instructions (leave empty for built-in)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", config.DefaultLogLevel)
	logFormat := prompt(reader, "Log format (text/json)", config.DefaultLogFormat)

	cfg := config.Config{
		Database: config.DatabaseConfig{Driver: driver, Path: dbPath},
		Logging:  config.LoggingConfig{Level: logLevel, Format: logFormat},
	}
	cfg.Chat = full.Chat
	cfg.Chat.DefaultModel = model
	cfg.Chat.DefaultInstructions = instructions
	cfg.Completion = full.Completion
	cfg.Settings = full.Settings
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}

	var out strings.Builder
	out.WriteString("# coven-chat configuration\n")
	out.WriteString("# Generated by coven-chat init\n\n")

	out.WriteString("database:\n")
	out.WriteString(fmt.Sprintf("  driver: %q\n", driver))
	out.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	out.WriteString("\n")

	out.WriteString("logging:\n")
	out.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	out.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	out.WriteString("\n")

	out.WriteString("chat:\n")
	out.WriteString(fmt.Sprintf("  default_model: %q\n", model))
	if instructions != "" {
		out.WriteString(fmt.Sprintf("  default_instructions: %q\n", instructions))
	}
	out.WriteString(fmt.Sprintf("  max_title_length: %d\n", cfg.Chat.MaxTitleLength))
	out.WriteString(fmt.Sprintf("  recent_limit: %d\n", cfg.Chat.RecentLimit))
	out.WriteString(fmt.Sprintf("  save_timeout: %q\n", cfg.Chat.SaveTimeout.String()))
	out.WriteString("\n")

	out.WriteString("settings:\n")
	out.WriteString(fmt.Sprintf("  path: %q\n", cfg.Settings.Path))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(out.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start chatting:")
	fmt.Printf("  coven-chat chat\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
