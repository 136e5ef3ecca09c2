package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	applog "expensetracker/internal/log"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath   string
	DBMaxOpenConns int
	DBBusyTimeout  time.Duration

	// Taxonomy document served as a resource
	CategoriesPath string

	// Ledger operations
	OperationTimeout time.Duration
	SummaryCacheSize int
	SummaryCacheTTL  time.Duration

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPRPCQueue string

	LogLevel string

	// Tool calls per client per minute; 0 disables limiting
	HTTPRateLimit int
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		SQLiteDBPath:   getEnv("SQLITE_DB_PATH", "./data/expenses.db"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 4),
		DBBusyTimeout:  getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second),

		CategoriesPath: getEnv("CATEGORIES_PATH", "./data/categories.json"),

		OperationTimeout: getEnvDuration("OPERATION_TIMEOUT", 5*time.Second),
		SummaryCacheSize: getEnvInt("SUMMARY_CACHE_SIZE", 128),
		SummaryCacheTTL:  getEnvDuration("SUMMARY_CACHE_TTL", time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "expenses"),
		AMQPRPCQueue: getEnv("AMQP_RPC_QUEUE", "expense_tools"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		HTTPRateLimit: getEnvInt("HTTP_RATE_LIMIT", 120),
	}
}

// AMQPEnabled reports whether an AMQP broker was configured.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if strings.TrimSpace(c.SQLiteDBPath) == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}
	if c.DBMaxOpenConns < 1 {
		errors = append(errors, fmt.Sprintf("invalid max open connections %d: must be at least 1", c.DBMaxOpenConns))
	}
	if c.DBBusyTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid busy timeout %v: cannot be negative", c.DBBusyTimeout))
	}

	if strings.TrimSpace(c.CategoriesPath) == "" {
		errors = append(errors, "categories path cannot be empty")
	}

	if c.OperationTimeout < 10*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid operation timeout %v: must be at least 10ms", c.OperationTimeout))
	} else if c.OperationTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid operation timeout %v: must be at most 5 minutes", c.OperationTimeout))
	}

	if c.SummaryCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid summary cache size %d: cannot be negative", c.SummaryCacheSize))
	}
	if c.SummaryCacheSize > 0 && c.SummaryCacheTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid summary cache TTL %v: must be positive when caching is enabled", c.SummaryCacheTTL))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRPCQueue == "" {
			errors = append(errors, "AMQP RPC queue name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := applog.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level: %v", err))
	}

	if c.HTTPRateLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid HTTP rate limit %d: cannot be negative", c.HTTPRateLimit))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
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
