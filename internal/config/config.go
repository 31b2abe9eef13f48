package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	MinProgressInterval = 200
	MaxProgressInterval = 500
)

// DatabaseOptions configures the relational store connection and its pool
type DatabaseOptions struct {
	URL             string        `env:"DATABASE_URL" envDefault:"sqlite://./inventory.db"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`
}

type TelegramOptions struct {
	Token       string `env:"BOT_TOKEN"`
	PollTimeout int    `env:"TELEGRAM_POLL_TIMEOUT" envDefault:"60"`
	Debug       bool   `env:"TELEGRAM_DEBUG" envDefault:"false"`
}

type RunHistoryOptions struct {
	Enabled   bool          `env:"RUN_HISTORY_ENABLED" envDefault:"false"`
	Retention time.Duration `env:"RUN_HISTORY_RETENTION" envDefault:"720h"`
	PruneCron string        `env:"RUN_HISTORY_PRUNE_CRON" envDefault:"0 3 * * *"`
}

type Configuration struct {
	Database   DatabaseOptions
	Telegram   TelegramOptions
	RunHistory RunHistoryOptions

	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"LOG_FORMAT" envDefault:"text"`
	ProgressInterval int    `env:"PROGRESS_INTERVAL" envDefault:"500"`
	CatalogPath      string `env:"CATALOG_PATH"`
	MaxUploadBytes   int64  `env:"MAX_UPLOAD_BYTES" envDefault:"20971520"`
	MetricsAddr      string `env:"METRICS_ADDR"`

	logger *logrus.Logger
}

// LoadEnv loads the given dotenv files that exist and reports how many were found
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads .env files (when present) and the process environment into a validated Configuration
func Load(envFiles ...string) (*Configuration, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}

	c := &Configuration{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.logger = c.newLogger()
	return c, nil
}

// Validate checks value ranges that struct tags cannot express
func (c *Configuration) Validate() error {
	if c.ProgressInterval < MinProgressInterval || c.ProgressInterval > MaxProgressInterval {
		return fmt.Errorf("PROGRESS_INTERVAL must be between %d and %d, got %d",
			MinProgressInterval, MaxProgressInterval, c.ProgressInterval)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT=%q (expected text|json)", c.LogFormat)
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1, got %d", c.Database.MaxOpenConns)
	}
	if c.RunHistory.Enabled && c.RunHistory.Retention <= 0 {
		return fmt.Errorf("RUN_HISTORY_RETENTION must be positive when RUN_HISTORY_ENABLED is set")
	}
	return nil
}

func (c *Configuration) Logger() *logrus.Logger {
	if c.logger == nil {
		c.logger = c.newLogger()
	}
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch strings.ToLower(c.LogLevel) {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

func (c *Configuration) newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(c.LogrusLogLevel())
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
