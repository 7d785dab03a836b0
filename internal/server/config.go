package server

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/deathroll/internal/game"
	"github.com/lox/deathroll/internal/ledger"
)

// Config represents the complete server configuration.
type Config struct {
	Server  ServerSettings  `hcl:"server,block"`
	Game    GameSettings    `hcl:"game,block"`
	Storage StorageSettings `hcl:"storage,block"`
}

// ServerSettings contains gateway-level configuration.
type ServerSettings struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`

	// When set, auth tokens are validated against this endpoint. Empty
	// disables external auth and clients pick their own user id.
	AuthURL     string `hcl:"auth_url,optional"`
	AdminSecret string `hcl:"admin_secret,optional"`
}

// GameSettings contains engine tunables.
type GameSettings struct {
	StartingGold       int64 `hcl:"starting_gold,optional"`
	TurnTimeoutSeconds int   `hcl:"turn_timeout_seconds,optional"`
	EarnMin            int64 `hcl:"earn_min,optional"`
	EarnMax            int64 `hcl:"earn_max,optional"`
	Seed               int64 `hcl:"seed,optional"`
}

// StorageSettings selects and configures the ledger backend.
type StorageSettings struct {
	Driver string `hcl:"driver,optional"` // sqlite, postgres or memory
	Path   string `hcl:"path,optional"`   // sqlite database file
	DSN    string `hcl:"dsn,optional"`    // postgres connection string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerSettings{
			Address:  "localhost",
			Port:     8080,
			LogLevel: "info",
		},
		Game: GameSettings{
			StartingGold:       ledger.DefaultStartingGold,
			TurnTimeoutSeconds: 60,
			EarnMin:            100,
			EarnMax:            500,
		},
		Storage: StorageSettings{
			Driver: "sqlite",
			Path:   "deathroll.db",
		},
	}
}

// LoadConfig loads server configuration from an HCL file, falling back to
// defaults when the file does not exist.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	// Apply defaults for missing values
	defaults := DefaultConfig()
	if config.Server.Address == "" {
		config.Server.Address = defaults.Server.Address
	}
	if config.Server.Port == 0 {
		config.Server.Port = defaults.Server.Port
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = defaults.Server.LogLevel
	}
	if config.Game.StartingGold == 0 {
		config.Game.StartingGold = defaults.Game.StartingGold
	}
	if config.Game.TurnTimeoutSeconds == 0 {
		config.Game.TurnTimeoutSeconds = defaults.Game.TurnTimeoutSeconds
	}
	if config.Game.EarnMin == 0 {
		config.Game.EarnMin = defaults.Game.EarnMin
	}
	if config.Game.EarnMax == 0 {
		config.Game.EarnMax = defaults.Game.EarnMax
	}
	if config.Storage.Driver == "" {
		config.Storage.Driver = defaults.Storage.Driver
	}
	if config.Storage.Driver == "sqlite" && config.Storage.Path == "" {
		config.Storage.Path = defaults.Storage.Path
	}

	return &config, nil
}

// Validate validates the server configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Game.StartingGold < 0 {
		return fmt.Errorf("starting gold cannot be negative")
	}
	if c.Game.TurnTimeoutSeconds <= 0 {
		return fmt.Errorf("turn timeout must be positive")
	}
	if c.Game.EarnMin <= 0 || c.Game.EarnMax < c.Game.EarnMin {
		return fmt.Errorf("invalid earn range [%d, %d]", c.Game.EarnMin, c.Game.EarnMax)
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("sqlite storage requires a path")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("postgres storage requires a dsn")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}
	return nil
}

// Addr returns the full listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// GameConfig converts the game settings into an engine config.
func (c *Config) GameConfig() game.Config {
	return game.Config{
		TurnTimeout: time.Duration(c.Game.TurnTimeoutSeconds) * time.Second,
		EarnMin:     c.Game.EarnMin,
		EarnMax:     c.Game.EarnMax,
	}
}
