package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/deathroll/internal/auth"
	"github.com/lox/deathroll/internal/game"
	"github.com/lox/deathroll/internal/ledger"
	"github.com/lox/deathroll/internal/server"
)

var CLI struct {
	Config   string `short:"c" long:"config" default:"deathroll.hcl" help:"Path to HCL configuration file"`
	Addr     string `short:"a" long:"addr" help:"Server address to bind to (overrides config)"`
	LogLevel string `short:"l" long:"log-level" help:"Log level (overrides config)"`
	Driver   string `long:"driver" help:"Storage driver: sqlite, postgres or memory (overrides config)"`
	DBPath   string `long:"db" help:"SQLite database path (overrides config)"`
	Seed     int64  `long:"seed" help:"Random seed for deterministic rolls (overrides config)"`
}

func main() {
	ctx := kong.Parse(&CLI)

	cfg, err := server.LoadConfig(CLI.Config)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		ctx.Exit(1)
	}

	// Apply command line overrides
	if CLI.Addr != "" {
		cfg.Server.Address = CLI.Addr
	}
	if CLI.LogLevel != "" {
		cfg.Server.LogLevel = CLI.LogLevel
	}
	if CLI.Driver != "" {
		cfg.Storage.Driver = CLI.Driver
	}
	if CLI.DBPath != "" {
		cfg.Storage.Path = CLI.DBPath
	}
	if CLI.Seed != 0 {
		cfg.Game.Seed = CLI.Seed
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		ctx.Exit(1)
	}

	// Setup logging
	logger := log.New(os.Stderr)
	switch cfg.Server.LogLevel {
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

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("Failed to open ledger storage", "error", err, "driver", cfg.Storage.Driver)
		ctx.Exit(1)
	}
	defer store.Close()

	seed := cfg.Game.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	logger.Info("Starting deathroll server",
		"addr", cfg.Addr(),
		"driver", cfg.Storage.Driver,
		"startingGold", cfg.Game.StartingGold,
		"turnTimeout", cfg.Game.TurnTimeoutSeconds)

	var validator auth.Validator = auth.NewNoopValidator()
	if cfg.Server.AuthURL != "" {
		validator = auth.NewHTTPValidator(cfg.Server.AuthURL, cfg.Server.AdminSecret)
		logger.Info("External auth enabled", "url", cfg.Server.AuthURL)
	}

	wsServer := server.NewServer(cfg.Addr(), logger, server.WithAuthValidator(validator))
	engine := game.NewEngine(logger, store, wsServer, quartz.NewReal(), rng, cfg.GameConfig())
	wsServer.SetEngine(engine)

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		logger.Info("Shutting down server...")
		_ = wsServer.Stop()
	}()

	// Start server (this blocks)
	if err := wsServer.Start(); err != nil {
		logger.Error("Server failed", "error", err)
		ctx.Exit(1)
	}
}

func openStore(cfg *server.Config) (ledger.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return ledger.OpenSQLite(cfg.Storage.Path, cfg.Game.StartingGold)
	case "postgres":
		return ledger.OpenPostgres(context.Background(), cfg.Storage.DSN, cfg.Game.StartingGold)
	case "memory":
		return ledger.NewInMemory(cfg.Game.StartingGold), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}
