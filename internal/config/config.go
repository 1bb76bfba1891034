// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingToken is returned by Validate when no bot token is configured.
var ErrMissingToken = errors.New("DISCORD_BOT_TOKEN is not configured; set it in .env")

// DefaultActivity is the presence label shown once the bot is ready.
const DefaultActivity = "A股智能分析 | /help"

// DefaultSymbolPattern accepts A-share codes (600519), HK codes (hk00700) and US tickers (AAPL, BRK.B).
const DefaultSymbolPattern = `^(\d{6}|[hH][kK]\d{5}|[A-Za-z]{1,5}(\.[A-Za-z]{1,2})?)$`

// Config holds application configuration
type Config struct {
	DiscordBotToken string
	DiscordGuildID  string // Empty registers commands globally
	Activity        string

	DataDir   string // Always absolute
	LogLevel  string
	LogPretty bool
	Port      int // Ops HTTP server port, 0 disables it
	DevMode   bool

	JobSoftDeadline   time.Duration
	JobTimeout        time.Duration // 0 disables the operational deadline
	MaxConcurrentJobs int           // 0 means unbounded

	AnalysisCommand string
	AnalysisWorkDir string

	MarketReviewCron string // Empty disables the scheduled review
	SymbolPattern    string

	MaintenanceCron string
	BackupKeep      int // Local backups kept, 0 keeps all
	BackupS3        S3Backup

	// Analysis is the process-wide template copied into every job snapshot.
	// It is never mutated after Load.
	Analysis Analysis
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("BOT_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DiscordBotToken:   getEnv("DISCORD_BOT_TOKEN", ""),
		DiscordGuildID:    getEnv("DISCORD_GUILD_ID", ""),
		Activity:          getEnv("DISCORD_BOT_ACTIVITY", DefaultActivity),
		DataDir:           absDataDir,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogPretty:         getEnvAsBool("LOG_PRETTY", true),
		Port:              getEnvAsInt("BOT_HTTP_PORT", 8080),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		JobSoftDeadline:   getEnvAsDuration("JOB_SOFT_DEADLINE", 5*time.Minute),
		JobTimeout:        getEnvAsDuration("JOB_TIMEOUT", 14*time.Minute), // follow-up tokens expire after 15 minutes
		MaxConcurrentJobs: getEnvAsInt("JOB_MAX_CONCURRENT", 4),
		AnalysisCommand:   getEnv("ANALYSIS_COMMAND", "python main.py"),
		AnalysisWorkDir:   getEnv("ANALYSIS_WORKDIR", "."),
		MarketReviewCron:  getEnv("MARKET_REVIEW_CRON", ""),
		SymbolPattern:     getEnv("STOCK_SYMBOL_PATTERN", DefaultSymbolPattern),
		MaintenanceCron:   getEnv("MAINTENANCE_CRON", "0 3 * * *"),
		BackupKeep:        getEnvAsInt("BACKUP_KEEP", 7),
		BackupS3: S3Backup{
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "stockbot"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		},
		Analysis: loadAnalysis(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DiscordBotToken) == "" {
		return ErrMissingToken
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("BOT_HTTP_PORT out of range: %d", c.Port)
	}
	if c.JobSoftDeadline <= 0 {
		return fmt.Errorf("JOB_SOFT_DEADLINE must be positive, got %s", c.JobSoftDeadline)
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("JOB_TIMEOUT must not be negative, got %s", c.JobTimeout)
	}
	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("JOB_MAX_CONCURRENT must not be negative, got %d", c.MaxConcurrentJobs)
	}
	if c.BackupKeep < 0 {
		return fmt.Errorf("BACKUP_KEEP must not be negative, got %d", c.BackupKeep)
	}
	if strings.TrimSpace(c.AnalysisCommand) == "" {
		return fmt.Errorf("ANALYSIS_COMMAND must not be empty")
	}
	return nil
}

// S3Backup points at an optional S3-compatible bucket for off-site backups.
type S3Backup struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// BackupDir returns the local backup directory.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// HistoryDBPath returns the interaction history database location.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping blanks.
func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
