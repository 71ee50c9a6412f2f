// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// DefaultFontFile is used by /add_text when neither the form nor FONTFILE names a font.
const DefaultFontFile = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"

// Static errors for configuration validation.
var (
	// ErrInvalidUploadLimit is returned when MAX_UPLOAD_BYTES is not positive.
	ErrInvalidUploadLimit = errors.New("config: MAX_UPLOAD_BYTES must be positive")
	// ErrInvalidDiagnosticsLimit is returned when DIAGNOSTICS_LIMIT is not positive.
	ErrInvalidDiagnosticsLimit = errors.New("config: DIAGNOSTICS_LIMIT must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MaxUploadBytes int64    `env:"MAX_UPLOAD_BYTES, default=2147483648" json:"max_upload_bytes"`

	// Workspace settings
	TempDir         string        `env:"TEMP_DIR, default=/tmp/wmstudio" json:"temp_dir"`
	WorkspaceMaxAge time.Duration `env:"WORKSPACE_MAX_AGE, default=6h" json:"workspace_max_age"`

	// Engine settings
	FFmpegPath       string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	EngineTimeout    time.Duration `env:"ENGINE_TIMEOUT" json:"engine_timeout"`     // zero disables the timeout
	ProbeCacheTTL    time.Duration `env:"PROBE_CACHE_TTL" json:"probe_cache_ttl"`   // zero probes on every request
	DiagnosticsLimit int           `env:"DIAGNOSTICS_LIMIT, default=2000" json:"diagnostics_limit"`
	DefaultFontFile  string        `env:"DEFAULT_FONT_FILE, default=/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf" json:"default_font_file"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that numeric limits are usable.
func (c *Config) Validate() error {
	if c.MaxUploadBytes <= 0 {
		return ErrInvalidUploadLimit
	}
	if c.DiagnosticsLimit <= 0 {
		return ErrInvalidDiagnosticsLimit
	}
	return nil
}

// fontEnv is re-read on every text overlay request.
type fontEnv struct {
	FontFile string `env:"FONTFILE"`
}

// FontFileFromEnv reads FONTFILE from the process environment.
// It returns an empty string when the variable is unset or unreadable.
func FontFileFromEnv(ctx context.Context) string {
	var fe fontEnv
	if err := envconfig.Process(ctx, &fe); err != nil {
		return ""
	}
	return strings.TrimSpace(fe.FontFile)
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a one-line summary of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, FFmpegPath: %s, EngineTimeout: %s, ProbeCacheTTL: %s, MaxUploadBytes: %d, DiagnosticsLimit: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.FFmpegPath,
		c.EngineTimeout,
		c.ProbeCacheTTL,
		c.MaxUploadBytes,
		c.DiagnosticsLimit,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
