package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/lox/deathroll/internal/client"
	"github.com/lox/deathroll/internal/tui"
)

var CLI struct {
	Server   string `short:"s" long:"server" default:"http://localhost:8080" help:"Server URL to connect to"`
	User     string `short:"u" long:"user" help:"User id to authenticate as"`
	Channel  string `short:"C" long:"channel" default:"general" help:"Channel to join"`
	LogLevel string `short:"l" long:"log-level" default:"info" help:"Log level"`
	LogFile  string `long:"log-file" default:"deathroll-client.log" help:"Log file path"`
}

func main() {
	ctx := kong.Parse(&CLI)

	// Get user id if not set
	if CLI.User == "" {
		fmt.Print("Enter your user id: ")
		var input string
		_, _ = fmt.Scanln(&input)
		CLI.User = strings.TrimSpace(input)
		if CLI.User == "" {
			fmt.Println("User id is required")
			ctx.Exit(1)
		}
	}

	// Log to a file so output does not fight the TUI
	logFile, err := os.OpenFile(CLI.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		fmt.Printf("Failed to open log file: %v\n", err)
		ctx.Exit(1)
	}
	defer func() { _ = logFile.Close() }()

	logger := log.New(logFile)
	switch CLI.LogLevel {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "info":
		logger.SetLevel(log.InfoLevel)
	case "warn":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	logger.Info("Starting deathroll client",
		"server", CLI.Server,
		"user", CLI.User,
		"channel", CLI.Channel)

	wsClient := client.NewClient(CLI.Server, logger)
	if err := wsClient.Connect(); err != nil {
		fmt.Printf("Failed to connect to server: %v\n", err)
		ctx.Exit(1)
	}
	defer func() { _ = wsClient.Disconnect() }()

	if err := wsClient.Auth(CLI.User); err != nil {
		fmt.Printf("Failed to authenticate: %v\n", err)
		ctx.Exit(1)
	}
	if err := wsClient.Join(CLI.Channel); err != nil {
		fmt.Printf("Failed to join channel: %v\n", err)
		ctx.Exit(1)
	}

	model := tui.NewModel(wsClient, logger, CLI.User, CLI.Channel)
	model.AddLine("=== Death Roll ===")
	model.AddLine("Connected to " + CLI.Server + " as " + CLI.User)
	model.AddLine("Type /help for commands")
	model.AddLine("")

	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Printf("Error running TUI: %v\n", err)
		ctx.Exit(1)
	}
}
