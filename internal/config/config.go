package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Config holds all application configuration
type Config struct {
	Env string

	// Logging
	LogLevel string

	// Output root for test run results
	OutputDir string

	// NATS (optional, live run events)
	NATSURL string

	// Status API listen address (optional)
	StatusAddr string

	// GitHub token for cloning private plan repositories
	GitHubToken string

	// TimeoutMs overrides testSettings.timeout of every plan when positive
	TimeoutMs int

	// Browser
	Browser BrowserEnvConfig

	// Target environment of the application under test
	Environment EnvironmentConfig
}

// BrowserEnvConfig holds host-level browser settings
type BrowserEnvConfig struct {
	// ExecPath overrides the browser binary; empty means auto-detect
	ExecPath string
}

// EnvironmentConfig describes where the application under test is hosted
type EnvironmentConfig struct {
	URL         string
	ID          string
	TenantID    string
	Domain      string
	QueryParams string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("QTEST_LOG_LEVEL", "info"),
		OutputDir:   getEnv("QTEST_OUTPUT_DIR", "./TestOutput"),
		NATSURL:     getEnv("QTEST_NATS_URL", ""),
		StatusAddr:  getEnv("QTEST_STATUS_ADDR", ""),
		GitHubToken: getEnv("GITHUB_TOKEN", ""),
		TimeoutMs:   getEnvInt("QTEST_TIMEOUT_MS", 0),

		Browser: BrowserEnvConfig{
			ExecPath: getEnv("QTEST_CHROME_PATH", ""),
		},

		Environment: EnvironmentConfig{
			URL:         getEnv("QTEST_ENVIRONMENT_URL", "https://apps.powerapps.com"),
			ID:          getEnv("QTEST_ENVIRONMENT_ID", ""),
			TenantID:    getEnv("QTEST_TENANT_ID", ""),
			Domain:      getEnv("QTEST_DOMAIN", ""),
			QueryParams: getEnv("QTEST_QUERY_PARAMS", ""),
		},
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid QTEST_LOG_LEVEL %q: %w", c.LogLevel, err)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("QTEST_OUTPUT_DIR cannot be empty")
	}

	if c.TimeoutMs < 0 {
		return fmt.Errorf("QTEST_TIMEOUT_MS cannot be negative")
	}

	if c.Environment.URL == "" {
		return fmt.Errorf("QTEST_ENVIRONMENT_URL required")
	}

	return nil
}

// Level returns the parsed log level, defaulting to info
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
