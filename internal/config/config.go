package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"

	applog "budget/internal/log"
	"budget/internal/storage"
)

type Config struct {
	// HTTP Server
	Port               string `toml:"port"`
	CookieSecure       bool   `toml:"cookie_secure"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	// MetricsPort serves /metrics from the worker; empty disables it.
	MetricsPort        string `toml:"metrics_port"`

	// Database
	DBDriver       string `toml:"db_driver"`
	DBDSN          string `toml:"db_dsn"`
	DBMaxOpenConns int    `toml:"db_max_open_conns"`
	DBMaxIdleConns int    `toml:"db_max_idle_conns"`

	// Auth
	JWTSecret       string        `toml:"jwt_secret"`
	AccessTokenTTL  time.Duration `toml:"jwt_access_ttl"`
	RefreshTokenTTL time.Duration `toml:"jwt_refresh_ttl"`

	// Cache
	RedisAddr       string        `toml:"redis_addr"`
	RedisPassword   string        `toml:"redis_password"`
	RedisDB         int           `toml:"redis_db"`
	CacheSize       int           `toml:"cache_size"`
	SummaryCacheTTL time.Duration `toml:"summary_cache_ttl"`

	// External APIs
	CardAPIBaseURL string `toml:"card_api_base_url"`
	OpenAIAPIKey   string `toml:"openai_api_key"`
	OpenAIBaseURL  string `toml:"openai_base_url"`
	OpenAIModel    string `toml:"openai_model"`

	// AMQP
	AMQPURL      string `toml:"amqp_url"`
	AMQPExchange string `toml:"amqp_exchange"`
	AMQPQueue    string `toml:"amqp_queue"`

	// Batch
	ReportCron          string `toml:"report_cron"`
	ReportChunkSize     int    `toml:"report_chunk_size"`
	DeadLetterChunkSize int    `toml:"dead_letter_chunk_size"`
	BatchSkipLimit      int    `toml:"batch_skip_limit"`
	BatchRetryLimit     int    `toml:"batch_retry_limit"`

	// Google Sheets report export
	GoogleSpreadsheetID      string `toml:"google_spreadsheet_id"`
	GoogleServiceAccountFile string `toml:"google_service_account_file"`
	GoogleReportSheet        string `toml:"google_report_sheet"`

	// Logging
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	LogFile       string `toml:"log_file"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:               "8080",
		CookieSecure:       true,
		RateLimitPerMinute: 120,
		MetricsPort:        "9091",

		DBDriver:       "sqlite",
		DBDSN:          "./data/budget.db",
		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,

		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 14 * 24 * time.Hour,

		CacheSize:       10000,
		SummaryCacheTTL: 10 * time.Minute,

		CardAPIBaseURL: "http://localhost:8080",
		OpenAIBaseURL:  "https://api.openai.com/v1",
		OpenAIModel:    "gpt-4o-mini",

		AMQPExchange: "budget",
		AMQPQueue:    "batch_jobs",

		ReportCron:          "0 0 2 * *",
		ReportChunkSize:     100,
		DeadLetterChunkSize: 50,
		BatchSkipLimit:      100,
		BatchRetryLimit:     3,

		GoogleReportSheet: "Reports",

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  100,
		LogMaxBackups: 5,
	}
}

// Load builds the configuration from defaults, the optional TOML file named by
// BUDGET_CONFIG, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("BUDGET_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", cfg.CookieSecure)
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.MetricsPort = getEnv("METRICS_PORT", cfg.MetricsPort)

	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBDSN = getEnv("DB_DSN", cfg.DBDSN)
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", cfg.DBMaxIdleConns)

	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.AccessTokenTTL = getEnvDuration("JWT_ACCESS_TTL", cfg.AccessTokenTTL)
	cfg.RefreshTokenTTL = getEnvDuration("JWT_REFRESH_TTL", cfg.RefreshTokenTTL)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.CacheSize = getEnvInt("CACHE_SIZE", cfg.CacheSize)
	cfg.SummaryCacheTTL = getEnvDuration("SUMMARY_CACHE_TTL", cfg.SummaryCacheTTL)

	cfg.CardAPIBaseURL = getEnv("CARD_API_BASE_URL", cfg.CardAPIBaseURL)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.OpenAIModel = getEnv("OPENAI_MODEL", cfg.OpenAIModel)

	cfg.AMQPURL = getEnv("AMQP_URL", cfg.AMQPURL)
	cfg.AMQPExchange = getEnv("AMQP_EXCHANGE", cfg.AMQPExchange)
	cfg.AMQPQueue = getEnv("AMQP_QUEUE", cfg.AMQPQueue)

	cfg.ReportCron = getEnv("REPORT_CRON", cfg.ReportCron)
	cfg.ReportChunkSize = getEnvInt("REPORT_CHUNK_SIZE", cfg.ReportChunkSize)
	cfg.DeadLetterChunkSize = getEnvInt("DEAD_LETTER_CHUNK_SIZE", cfg.DeadLetterChunkSize)
	cfg.BatchSkipLimit = getEnvInt("BATCH_SKIP_LIMIT", cfg.BatchSkipLimit)
	cfg.BatchRetryLimit = getEnvInt("BATCH_RETRY_LIMIT", cfg.BatchRetryLimit)

	cfg.GoogleSpreadsheetID = getEnv("GOOGLE_SPREADSHEET_ID", cfg.GoogleSpreadsheetID)
	cfg.GoogleServiceAccountFile = getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", cfg.GoogleServiceAccountFile)
	cfg.GoogleReportSheet = getEnv("GOOGLE_REPORT_SHEET", cfg.GoogleReportSheet)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogMaxSizeMB = getEnvInt("LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB)
	cfg.LogMaxBackups = getEnvInt("LOG_MAX_BACKUPS", cfg.LogMaxBackups)

	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.MetricsPort != "" {
		if port, err := strconv.Atoi(c.MetricsPort); err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid metrics port '%s': must be a number between 1 and 65535", c.MetricsPort))
		}
	}

	// Validate database
	validDrivers := []string{"mysql", "sqlite"}
	isValidDriver := false
	for _, driver := range validDrivers {
		if c.DBDriver == driver {
			isValidDriver = true
			break
		}
	}
	if !isValidDriver {
		errors = append(errors, fmt.Sprintf("invalid database driver '%s': must be one of %v", c.DBDriver, validDrivers))
	}
	if c.DBDSN == "" {
		errors = append(errors, "database DSN cannot be empty")
	} else if c.DBDriver == "sqlite" && isPlainPath(c.DBDSN) {
		dir := filepath.Dir(c.DBDSN)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}
	if c.DBMaxOpenConns < 1 {
		errors = append(errors, fmt.Sprintf("invalid max open connections %d: must be at least 1", c.DBMaxOpenConns))
	}

	// Validate auth
	if len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT secret must be at least 32 bytes")
	}
	if c.AccessTokenTTL <= 0 {
		errors = append(errors, fmt.Sprintf("invalid access token TTL %v: must be positive", c.AccessTokenTTL))
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		errors = append(errors, fmt.Sprintf("invalid refresh token TTL %v: must be longer than access token TTL", c.RefreshTokenTTL))
	}

	if c.CacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid cache size %d: must be at least 1", c.CacheSize))
	}

	if u, err := url.Parse(c.CardAPIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errors = append(errors, fmt.Sprintf("invalid card API base URL '%s': must be http or https", c.CardAPIBaseURL))
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

	// Validate batch configuration
	if _, err := cron.ParseStandard(c.ReportCron); err != nil {
		errors = append(errors, fmt.Sprintf("invalid report cron '%s': %v", c.ReportCron, err))
	}
	chunks := []struct {
		name string
		size int
	}{{"report", c.ReportChunkSize}, {"dead letter", c.DeadLetterChunkSize}}
	for _, chunk := range chunks {
		if chunk.size < 1 || chunk.size > 1000 {
			errors = append(errors, fmt.Sprintf("invalid %s chunk size %d: must be between 1 and 1000", chunk.name, chunk.size))
		}
	}
	if c.BatchSkipLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid batch skip limit %d: must not be negative", c.BatchSkipLimit))
	}
	if c.BatchRetryLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid batch retry limit %d: must not be negative", c.BatchRetryLimit))
	}

	if c.GoogleSpreadsheetID != "" && c.GoogleServiceAccountFile == "" {
		errors = append(errors, "GOOGLE_SERVICE_ACCOUNT_FILE is required when GOOGLE_SPREADSHEET_ID is set")
	}

	// Validate logging
	if _, err := c.SlogLevel(); err != nil {
		errors = append(errors, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': %v", c.LogLevel, err)
	}
	return level, nil
}

// Logging returns the logger settings for a process component.
func (c *Config) Logging(component string) applog.Config {
	level, _ := c.SlogLevel()
	cfg := applog.Config{Level: level, Component: component, Format: c.LogFormat}
	if c.LogFile != "" {
		cfg.Rotation = &applog.RotationConfig{File: c.LogFile, MaxSizeMB: c.LogMaxSizeMB, MaxFiles: c.LogMaxBackups}
	}
	return cfg
}

func (c *Config) Database() storage.Config {
	return storage.Config{
		Driver:  c.DBDriver,
		DSN:     c.DBDSN,
		MaxOpen: c.DBMaxOpenConns,
		MaxIdle: c.DBMaxIdleConns,
	}
}

// PortNumber returns Port as a number. Validate rejects bad ports.
func (c *Config) PortNumber() int {
	n, _ := strconv.Atoi(c.Port)
	return n
}

// isPlainPath reports whether a SQLite DSN is a filesystem path rather than a
// URI or an in-memory database.
func isPlainPath(dsn string) bool {
	return !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "?")
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
