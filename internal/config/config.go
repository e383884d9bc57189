package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const appDirName = "VAPR"

// Config struct for environment variables.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	DataDir  string `envconfig:"DATA_DIR"`
	GamesDir string `envconfig:"GAMES_DIR"`
	DBPath   string `envconfig:"DB_PATH"`

	ProgressInterval   time.Duration `envconfig:"PROGRESS_INTERVAL" default:"100ms"`
	ExtractStatusEvery int           `envconfig:"EXTRACT_STATUS_EVERY" default:"10"`
	CleanupInterval    time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	KeepPartialFor     time.Duration `envconfig:"KEEP_PARTIAL_FOR" default:"168h"`
	DiscordWebhookURL  string        `envconfig:"DISCORD_WEBHOOK_URL"`

	SDK struct {
		BindAddress string `split_words:"true" default:"127.0.0.1:7878"`
		MailboxSize int    `split_words:"true" default:"100"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:7879"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Fetch struct {
		ConnectTimeout        time.Duration `split_words:"true" default:"30s"`
		ResponseHeaderTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"vapr-companion"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
// Empty directory settings are derived from the per-user local data directory.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	if cfg.ExtractStatusEvery <= 0 {
		return nil, fmt.Errorf("EXTRACT_STATUS_EVERY must be positive, got %d", cfg.ExtractStatusEvery)
	}

	if cfg.SDK.MailboxSize <= 0 {
		return nil, fmt.Errorf("SDK_MAILBOX_SIZE must be positive, got %d", cfg.SDK.MailboxSize)
	}

	return &cfg, nil
}

func (c *Config) resolvePaths() error {
	if c.DataDir == "" {
		base, err := localDataDir()
		if err != nil {
			return fmt.Errorf("failed to resolve local data directory: %w", err)
		}

		c.DataDir = filepath.Join(base, appDirName)
	}

	if c.GamesDir == "" {
		c.GamesDir = filepath.Join(c.DataDir, "Games")
	}

	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "companion.db")
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// localDataDir mirrors the platform conventions for per-user, non-roaming
// application data.
func localDataDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return dir, nil
		}

		return os.UserConfigDir()
	case "darwin":
		return os.UserConfigDir()
	default:
		if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
			return dir, nil
		}

		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}

		return filepath.Join(home, ".local", "share"), nil
	}
}
