// Package config reads the ghostai runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bdobrica/ghostai/common/environment"
	"github.com/bdobrica/ghostai/internal/ghostai/llm"
	"github.com/bdobrica/ghostai/internal/ghostai/memory"
)

// Config is the full runtime configuration.
type Config struct {
	// DatabasePath is the SQLite file. Ignored when DatabaseURL is set.
	DatabasePath string
	// DatabaseURL, when set, selects the PostgreSQL store.
	DatabaseURL string

	LLM    LLMConfig
	Matrix MatrixConfig
	Limits memory.Limits

	// DrainTimeout bounds each summarisation call of the shutdown drain.
	DrainTimeout time.Duration
	// DrainConcurrency bounds how many conversations drain in parallel.
	DrainConcurrency int
	// ShutdownGrace bounds how long in-flight replies may run after a
	// shutdown signal before they are cancelled.
	ShutdownGrace time.Duration

	// CatalogPath is an optional catalogue YAML file; empty uses the built-in
	// catalogue.
	CatalogPath string

	// HTTPAddr serves /health, /status and /metrics. Empty disables it.
	HTTPAddr string

	// BotName is used in the /start greeting.
	BotName string

	// LogLevel is "debug", "info", "warn", or "error". Defaults to "info".
	LogLevel string
	// LogFormat is "text" or "json". Defaults to "text".
	LogFormat string
}

// LLMConfig holds the completion backend settings.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Referer string
	Title   string
	// ReplyModel overrides the catalogue's default model id when set.
	ReplyModel string
	// SummaryModel is used for compaction and drain summaries.
	SummaryModel string
	Timeout      time.Duration
}

// MatrixConfig holds the Matrix connection settings.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms, when non-empty, restricts the bot to these room IDs.
	Rooms []string
}

// DefaultSummaryModel is used when SUMMARY_MODEL is unset.
const DefaultSummaryModel = "x-ai/grok-4.1-fast:free"

// FromEnv builds a Config from environment variables. It never fails;
// required values are checked by Validate.
func FromEnv() *Config {
	d := memory.DefaultLimits()
	return &Config{
		DatabasePath: environment.StringOr(defaultDatabasePath(), "DB_PATH"),
		DatabaseURL:  environment.StringOr("", "DATABASE_URL"),
		LLM: LLMConfig{
			APIKey:       environment.StringOr("", "OPENROUTER_KEY"),
			BaseURL:      environment.StringOr(llm.DefaultBaseURL, "OPENROUTER_BASE_URL"),
			Referer:      environment.StringOr("", "OPENROUTER_REFERER"),
			Title:        environment.StringOr("ghostai", "OPENROUTER_TITLE"),
			ReplyModel:   environment.StringOr("", "REPLY_MODEL"),
			SummaryModel: environment.StringOr(DefaultSummaryModel, "SUMMARY_MODEL"),
			Timeout:      environment.DurationOr("COMPLETION_TIMEOUT", 120*time.Second),
		},
		Matrix: MatrixConfig{
			Homeserver:  environment.StringOr("", "MATRIX_HOMESERVER"),
			UserID:      environment.StringOr("", "MATRIX_USER_ID"),
			AccessToken: environment.StringOr("", "MATRIX_ACCESS_TOKEN"),
			Rooms:       environment.StringSliceOr("MATRIX_ROOMS", nil),
		},
		Limits: memory.Limits{
			MaxMemory:        environment.PositiveIntOr("MAX_MEMORY", d.MaxMemory),
			TailAfterSummary: environment.PositiveIntOr("TAIL_AFTER_SUMMARY", d.TailAfterSummary),
			SummaryLimit:     environment.PositiveIntOr("SUMMARY_LIMIT", d.SummaryLimit),
			TurnRetention:    environment.PositiveIntOr("TURN_RETENTION", d.TurnRetention),
		},
		DrainTimeout:     environment.DurationOr("DRAIN_TIMEOUT", 30*time.Second),
		DrainConcurrency: environment.PositiveIntOr("DRAIN_CONCURRENCY", 4),
		ShutdownGrace:    environment.DurationOr("SHUTDOWN_GRACE", 30*time.Second),
		CatalogPath:      environment.StringOr("", "CATALOG_PATH"),
		HTTPAddr:         environment.StringOr(":8080", "HTTP_ADDR"),
		BotName:          environment.StringOr("ghostai", "BOT_NAME"),
		LogLevel:         environment.StringOr("info", "LOG_LEVEL"),
		LogFormat:        environment.StringOr("text", "LOG_FORMAT"),
	}
}

// defaultDatabasePath prefers the conventional container volume.
func defaultDatabasePath() string {
	if info, err := os.Stat("/data"); err == nil && info.IsDir() {
		return "/data/memory.db"
	}
	return "memory.db"
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("OPENROUTER_KEY is required"))
	}
	if c.DatabaseURL == "" && c.DatabasePath == "" {
		errs = append(errs, errors.New("DB_PATH must not be empty"))
	}
	if c.Limits.TailAfterSummary >= c.Limits.MaxMemory {
		errs = append(errs, fmt.Errorf("TAIL_AFTER_SUMMARY (%d) must be smaller than MAX_MEMORY (%d)",
			c.Limits.TailAfterSummary, c.Limits.MaxMemory))
	}
	if c.Limits.TurnRetention < c.Limits.MaxMemory {
		errs = append(errs, fmt.Errorf("TURN_RETENTION (%d) must be at least MAX_MEMORY (%d)",
			c.Limits.TurnRetention, c.Limits.MaxMemory))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ValidateServe additionally checks the Matrix settings needed to run the bot.
func (c *Config) ValidateServe() error {
	errs := []error{c.Validate()}
	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("MATRIX_HOMESERVER is required"))
	}
	if c.Matrix.UserID == "" {
		errs = append(errs, errors.New("MATRIX_USER_ID is required"))
	}
	if c.Matrix.AccessToken == "" {
		errs = append(errs, errors.New("MATRIX_ACCESS_TOKEN is required"))
	}
	return errors.Join(errs...)
}

// ValidateStore checks only what the offline store commands need.
func (c *Config) ValidateStore() error {
	if c.DatabaseURL == "" && c.DatabasePath == "" {
		return errors.New("DB_PATH must not be empty")
	}
	return nil
}

// Secrets returns the values that must never appear in logs or replies.
func (c *Config) Secrets() []string {
	return []string{c.LLM.APIKey, c.Matrix.AccessToken}
}
