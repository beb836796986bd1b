package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReferenceMonthLayout is the format of FORECAST_REFERENCE_MONTH.
const ReferenceMonthLayout = "2006-01"

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int
	TrustedProxies     []string
	ShutdownTimeout    time.Duration

	// Database
	SQLiteDBPath      string
	SQLiteBusyRetries int

	// Logging
	LogLevel string

	// Forecast
	ForecastReferenceMonth string

	// AMQP, optional for the web process
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Mirror worker: "sheets" or "memory" (rows kept in process)
	MirrorBackend         string
	GoogleSpreadsheetID   string
	GoogleSheetName       string
	GoogleCredentialsFile string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		TrustedProxies:     getEnvList("TRUSTED_PROXIES"),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		SQLiteDBPath:      getEnv("SQLITE_DB_PATH", "./data/budget.db"),
		SQLiteBusyRetries: getEnvInt("SQLITE_BUSY_RETRIES", 3),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		ForecastReferenceMonth: getEnv("FORECAST_REFERENCE_MONTH", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budget"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expense_mirror"),

		MirrorBackend:         getEnv("MIRROR_BACKEND", "sheets"),
		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:       getEnv("GOOGLE_SHEET_NAME", "Expenses"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
	}

	return cfg
}

// ReferenceMonth returns the configured forecast month, or the zero time
// when unset so the current month is used at request time.
func (c *Config) ReferenceMonth() (time.Time, error) {
	if c.ForecastReferenceMonth == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(ReferenceMonthLayout, c.ForecastReferenceMonth)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid forecast reference month '%s': must be YYYY-MM", c.ForecastReferenceMonth)
	}
	return t, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	errors := c.problems()

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateWorker additionally requires everything the mirror worker needs.
func (c *Config) ValidateWorker() error {
	errors := c.problems()

	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the worker")
	}

	switch c.MirrorBackend {
	case "memory":
	case "sheets":
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required for the sheets mirror")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required for the sheets mirror")
		}
		if c.GoogleCredentialsFile == "" {
			errors = append(errors, "GOOGLE_CREDENTIALS_FILE is required for the sheets mirror")
		} else if _, err := os.Stat(c.GoogleCredentialsFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google credentials file does not exist: %s", c.GoogleCredentialsFile))
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid mirror backend '%s': must be one of [sheets memory]", c.MirrorBackend))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func (c *Config) problems() []string {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}
	if c.SQLiteBusyRetries < 0 || c.SQLiteBusyRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid busy retries %d: must be between 0 and 10", c.SQLiteBusyRetries))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if _, err := c.ReferenceMonth(); err != nil {
		errors = append(errors, err.Error())
	}

	if c.RateLimitPerMinute < 1 || c.RateLimitPerMinute > 10000 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be between 1 and 10000", c.RateLimitPerMinute))
	}
	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}
	if c.ShutdownTimeout < time.Second || c.ShutdownTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be between 1s and 5m", c.ShutdownTimeout))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	return errors
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
