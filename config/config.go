package config

// Config represents the core cl configuration
type Config struct {
	Canvas   CanvasConfig   `mapstructure:"canvas"`
	Database DatabaseConfig `mapstructure:"database"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Display  DisplayConfig  `mapstructure:"display"`
}

// CanvasConfig configures access to the Canvas REST API
type CanvasConfig struct {
	BaseURL string `mapstructure:"base_url"` // e.g., "https://canvas.example.edu"

	// Token is the Canvas API bearer token. Prefer CL_CANVAS_TOKEN or
	// token_command over storing the token in a config file.
	Token string `mapstructure:"token"`

	// TokenCommand is a shell command whose first line of stdout is used
	// as the API token (e.g., "op read op://Private/canvas/token").
	TokenCommand string `mapstructure:"token_command"`

	PageSize          int     `mapstructure:"page_size"`           // per_page for paginated endpoints (default: 100, Canvas caps at 100)
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`     // per-request timeout (default: 30)
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // client-side rate limit, 0 = unlimited (default: 5)
	Burst             int     `mapstructure:"burst"`               // rate limiter burst size (default: 10)
}

// DatabaseConfig configures the SQLite ledger database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// IngestConfig configures ingestion run behavior
type IngestConfig struct {
	// IncludeConcluded also fetches offerings in concluded workflow states
	// during catalog ingestion (default: false)
	IncludeConcluded bool `mapstructure:"include_concluded"`

	// StaleLockGraceSeconds is how old a run lock held by an unreachable
	// process (different host) must be before it is considered stale and
	// stolen. Same-host locks use pid liveness instead. Default: 3600.
	StaleLockGraceSeconds int `mapstructure:"stale_lock_grace_seconds"`
}

// DisplayConfig configures default output rendering
type DisplayConfig struct {
	Format string `mapstructure:"format"` // table, json, csv, yaml (default: table)
	Color  bool   `mapstructure:"color"`  // colorized table output (default: true)
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
