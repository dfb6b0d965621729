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

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1..65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrOutputDirRequired is returned when OUTPUT_DIR is empty.
	ErrOutputDirRequired = errors.New("config: OUTPUT_DIR is required")
	// ErrInvalidSilenceThreshold is returned when SILENCE_THRESHOLD is out of the 16-bit range.
	ErrInvalidSilenceThreshold = errors.New("config: SILENCE_THRESHOLD must be between 0 and 32767")
	// ErrInvalidSilenceWindow is returned when SILENCE_WINDOW_SEC is not positive.
	ErrInvalidSilenceWindow = errors.New("config: SILENCE_WINDOW_SEC must be positive")
	// ErrInvalidEngineOverlap is returned when ENGINE_OVERLAP is outside [0, 1).
	ErrInvalidEngineOverlap = errors.New("config: ENGINE_OVERLAP must be in [0, 1)")
	// ErrInvalidMaxUpload is returned when MAX_UPLOAD_MB is not positive.
	ErrInvalidMaxUpload = errors.New("config: MAX_UPLOAD_MB must be positive")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int   `env:"PORT, default=8080" json:"port"`
	MaxUploadMB int64 `env:"MAX_UPLOAD_MB, default=512" json:"max_upload_mb"`

	// Storage settings
	InputDir      string `env:"INPUT_DIR, default=/tmp/stemsplit/input" json:"input_dir"`
	OutputDir     string `env:"OUTPUT_DIR, default=/tmp/stemsplit/output" json:"output_dir"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL, default=http://localhost:8080/stems" json:"public_base_url"`

	// Separation engine settings
	EnginePath       string        `env:"ENGINE_PATH, default=python3" json:"engine_path"`
	EngineModule     string        `env:"ENGINE_MODULE, default=demucs.separate" json:"engine_module"`
	EngineModel      string        `env:"ENGINE_MODEL, default=htdemucs_6s" json:"engine_model"`
	EngineShifts     int           `env:"ENGINE_SHIFTS, default=1" json:"engine_shifts"`
	EngineOverlap    float64       `env:"ENGINE_OVERLAP, default=0.25" json:"engine_overlap"`
	EngineThreads    int           `env:"ENGINE_THREADS, default=2" json:"engine_threads"`
	VerifyRetryDelay time.Duration `env:"VERIFY_RETRY_DELAY, default=1s" json:"verify_retry_delay"`

	// Post-processing settings
	SilenceThreshold int    `env:"SILENCE_THRESHOLD, default=150" json:"silence_threshold"`
	SilenceWindowSec int    `env:"SILENCE_WINDOW_SEC, default=30" json:"silence_window_sec"`
	CleaningEnabled  bool   `env:"CLEANING_ENABLED, default=false" json:"cleaning_enabled"`
	FFmpegPath       string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`

	// Remote acquisition
	YtDlpPath string `env:"YTDLP_PATH, default=yt-dlp" json:"ytdlp_path"`

	// Credit ledger. An empty DSN keeps balances in memory.
	LedgerDSN      string `env:"LEDGER_DSN" json:"-"`
	DefaultCredits int    `env:"DEFAULT_CREDITS, default=0" json:"default_credits"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Optional completion events
	NATSURL     string `env:"NATS_URL" json:"-"`
	NATSSubject string `env:"NATS_SUBJECT, default=jobs.complete" json:"nats_subject"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MaxUploadBytes returns the upload size cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// EventsEnabled returns true if a NATS server is configured.
func (c *Config) EventsEnabled() bool {
	return c.NATSURL != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates the result.
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

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.MaxUploadMB <= 0 {
		return ErrInvalidMaxUpload
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return ErrOutputDirRequired
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 32767 {
		return ErrInvalidSilenceThreshold
	}
	if c.SilenceWindowSec <= 0 {
		return ErrInvalidSilenceWindow
	}
	if c.EngineOverlap < 0 || c.EngineOverlap >= 1 {
		return ErrInvalidEngineOverlap
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	return nil
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

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, InputDir: %s, OutputDir: %s, EngineModel: %s, EngineThreads: %d, SilenceThreshold: %d, CleaningEnabled: %t, Ledger: %s, DefaultCredits: %d, S3Bucket: %s, S3Region: %s, NATS: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.InputDir,
		c.OutputDir,
		c.EngineModel,
		c.EngineThreads,
		c.SilenceThreshold,
		c.CleaningEnabled,
		mask(c.LedgerDSN, "memory"),
		c.DefaultCredits,
		c.S3Bucket,
		c.S3Region,
		mask(c.NATSURL, "disabled"),
		c.LogFormat,
		c.LogLevel,
	)
}

// mask hides a configured value, or reports unset when it is empty.
func mask(v, unset string) string {
	if v == "" {
		return unset
	}
	return "***"
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
