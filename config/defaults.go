package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Canvas API constraints
const (
	// MaxPageSize is the largest per_page value the Canvas API honors
	MaxPageSize = 100
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Canvas API defaults
	v.SetDefault("canvas.page_size", MaxPageSize)
	v.SetDefault("canvas.timeout_seconds", 30)
	v.SetDefault("canvas.requests_per_second", 5.0) // Stay well under Canvas throttling
	v.SetDefault("canvas.burst", 10)

	// Database defaults
	v.SetDefault("database.path", DefaultDatabasePath())

	// Ingest defaults
	v.SetDefault("ingest.include_concluded", false)
	v.SetDefault("ingest.stale_lock_grace_seconds", 3600)

	// Display defaults
	v.SetDefault("display.format", "table")
	v.SetDefault("display.color", true)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Canvas API access
	v.BindEnv("canvas.token", "CL_CANVAS_TOKEN")
	v.BindEnv("canvas.base_url", "CL_CANVAS_BASE_URL")

	// Database path
	v.BindEnv("database.path", "CL_DATABASE_PATH")
}

// UserConfigDir returns the cl config directory (~/.config/cl)
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cl")
}

// UserConfigPath returns the path to the user config file (~/.config/cl/config.toml)
func UserConfigPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

// UserDataDir returns the cl data directory (~/.local/share/cl)
func UserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "cl")
}

// DefaultDatabasePath returns the default ledger database path
// (~/.local/share/cl/ledger.db)
func DefaultDatabasePath() string {
	dir := UserDataDir()
	if dir == "" {
		return "ledger.db" // Fallback for environments without a home dir
	}
	return filepath.Join(dir, "ledger.db")
}

// GetDatabasePath returns the configured database path.
// CL_DB_PATH overrides everything for quick local experiments.
func GetDatabasePath() (string, error) {
	if dbPath := os.Getenv("CL_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	config, err := Load()
	if err != nil {
		return "", err
	}
	return config.Database.Path, nil
}

// GetCanvasBaseURL returns the configured Canvas base URL
func (c *Config) GetCanvasBaseURL() string {
	return c.Canvas.BaseURL
}

// GetDisplayFormat returns the default output format (default: table)
func (c *Config) GetDisplayFormat() string {
	if c.Display.Format == "" {
		return "table"
	}
	return c.Display.Format
}
