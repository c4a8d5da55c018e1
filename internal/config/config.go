package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the engine configuration. Caps and timeouts are
// deliberately configuration rather than constants: when a result set
// looks truncated, the caller can read the advisory flags and the
// effective limits side by side.
type Config struct {
	// AccountsPath points at the YAML account descriptor file.
	AccountsPath string

	// DefaultFolder is the search root used when the criteria leave the
	// folder path empty.
	DefaultFolder string

	// FolderMessageCap bounds how many most-recent messages are
	// considered per folder before aggregation.
	FolderMessageCap int

	// GlobalMessageCap bounds messages considered across all folders in
	// one search.
	GlobalMessageCap int

	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// SavedSearchPath is the SQLite database holding named criteria.
	SavedSearchPath string

	LogLevel string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccountsPath:     getEnv("MAILPROBE_ACCOUNTS", "accounts.yaml"),
		DefaultFolder:    getEnv("MAILPROBE_DEFAULT_FOLDER", "INBOX"),
		FolderMessageCap: getEnvInt("MAILPROBE_FOLDER_CAP", 500),
		GlobalMessageCap: getEnvInt("MAILPROBE_GLOBAL_CAP", 5000),
		ConnectTimeout:   time.Duration(getEnvInt("MAILPROBE_CONNECT_TIMEOUT_SECONDS", 30)) * time.Second,
		QueryTimeout:     time.Duration(getEnvInt("MAILPROBE_QUERY_TIMEOUT_SECONDS", 60)) * time.Second,
		SavedSearchPath:  getEnv("MAILPROBE_DB_PATH", "mailprobe.db"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.AccountsPath == "" {
		return fmt.Errorf("MAILPROBE_ACCOUNTS is required")
	}
	if c.DefaultFolder == "" {
		return fmt.Errorf("MAILPROBE_DEFAULT_FOLDER must not be empty")
	}
	if c.FolderMessageCap < 1 {
		return fmt.Errorf("MAILPROBE_FOLDER_CAP must be positive")
	}
	if c.GlobalMessageCap < c.FolderMessageCap {
		return fmt.Errorf("MAILPROBE_GLOBAL_CAP must be at least the folder cap")
	}
	if c.ConnectTimeout <= 0 || c.QueryTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
