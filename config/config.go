/*
Package config loads process configuration for the credit engine binaries.

SOURCES (later wins):
  1. Built-in defaults
  2. Optional YAML file (config.yaml in the working directory, or --config)
  3. .env file in the working directory (loaded into the environment)
  4. Environment variables

ENVIRONMENT:
  CHECK_BALANCE                  bulk CLI safety gate ("true" to allow)
  RESET_BALANCE                  enable the scheduled reset ("true")
  RESET_BALANCE_TIME             cron expression, e.g. "0 0 1 * *"
  RESET_BALANCE_AMOUNT           target for every user
  RESET_AMOUNT_PRIVILEGED_USERS  comma-separated emails or user IDs
  RESET_AMOUNT_PRIVILEGED        target for privileged users
  RESET_WORKERS                  concurrent resets per run (default 1)
  RESET_ATOMIC                   wrap each reset in a store transaction
  DB_DRIVER                      sqlite | postgres | mongo | memory
  DB_DSN                         path, DSN or URI for the driver
  DB_NAME                        database name (mongo only)
  PORT                           HTTP port for cmd/server
  LOG_LEVEL / LOG_FORMAT         debug|info|warn|error, text|json
  KAFKA_BROKERS / KAFKA_TOPIC    reset event publishing (optional)

A Config is built once at process start and passed by value. Validate must be
called before use; it parses the amounts and the schedule.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/credit-engine/credits"
)

type Server struct {
	Port int `mapstructure:"port"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Name   string `mapstructure:"name"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Reset struct {
	CheckBalance    bool     `mapstructure:"check_balance"`
	Enabled         bool     `mapstructure:"enabled"`
	Schedule        string   `mapstructure:"schedule"`
	Amount          string   `mapstructure:"amount"`
	PrivilegedUsers []string `mapstructure:"privileged_users"`
	PrivilegedRaw   string   `mapstructure:"privileged_amount"`
	Workers         int      `mapstructure:"workers"`
	Atomic          bool     `mapstructure:"atomic"`

	// Parsed by Validate.
	BulkAmount       decimal.Decimal `mapstructure:"-"`
	PrivilegedAmount decimal.Decimal `mapstructure:"-"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Log      Log      `mapstructure:"log"`
	Reset    Reset    `mapstructure:"reset"`
	Kafka    Kafka    `mapstructure:"kafka"`
}

// envBindings maps config keys to the environment variable names operators
// already use.
var envBindings = map[string]string{
	"server.port":             "PORT",
	"database.driver":         "DB_DRIVER",
	"database.dsn":            "DB_DSN",
	"database.name":           "DB_NAME",
	"log.level":               "LOG_LEVEL",
	"log.format":              "LOG_FORMAT",
	"reset.check_balance":     "CHECK_BALANCE",
	"reset.enabled":           "RESET_BALANCE",
	"reset.schedule":          "RESET_BALANCE_TIME",
	"reset.amount":            "RESET_BALANCE_AMOUNT",
	"reset.privileged_users":  "RESET_AMOUNT_PRIVILEGED_USERS",
	"reset.privileged_amount": "RESET_AMOUNT_PRIVILEGED",
	"reset.workers":           "RESET_WORKERS",
	"reset.atomic":            "RESET_ATOMIC",
	"kafka.brokers":           "KAFKA_BROKERS",
	"kafka.topic":             "KAFKA_TOPIC",
}

// Load reads configuration. path may be empty, in which case config.yaml in
// the working directory is used when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "credits.db")
	v.SetDefault("database.name", "LibreChat")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("reset.check_balance", false)
	v.SetDefault("reset.enabled", false)
	v.SetDefault("reset.schedule", "0 0 1 * *")
	v.SetDefault("reset.amount", "")
	v.SetDefault("reset.privileged_users", []string{})
	v.SetDefault("reset.privileged_amount", "")
	v.SetDefault("reset.workers", 1)
	v.SetDefault("reset.atomic", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "credit-resets")
}

// Validate normalizes the config and parses derived fields.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mongo", "memory":
	default:
		return &credits.ValidationError{Field: "DB_DRIVER", Value: c.Database.Driver, Reason: "unsupported database driver"}
	}
	if c.Database.DSN == "" && c.Database.Driver != "memory" {
		return &credits.ValidationError{Field: "DB_DSN", Reason: "database DSN is required"}
	}

	c.Reset.PrivilegedUsers = splitList(c.Reset.PrivilegedUsers)
	c.Kafka.Brokers = splitList(c.Kafka.Brokers)
	if c.Reset.Workers < 1 {
		c.Reset.Workers = 1
	}

	if c.Reset.Amount != "" {
		d, err := credits.ParseAmount(c.Reset.Amount)
		if err != nil {
			return fmt.Errorf("RESET_BALANCE_AMOUNT: %w", err)
		}
		c.Reset.BulkAmount = d
	}
	if c.Reset.PrivilegedRaw != "" {
		d, err := credits.ParseAmount(c.Reset.PrivilegedRaw)
		if err != nil {
			return fmt.Errorf("RESET_AMOUNT_PRIVILEGED: %w", err)
		}
		c.Reset.PrivilegedAmount = d
	}

	// An unset privileged amount must never become a zero target.
	if len(c.Reset.PrivilegedUsers) > 0 && c.Reset.PrivilegedRaw == "" {
		return &credits.ValidationError{Field: "RESET_AMOUNT_PRIVILEGED", Reason: "required when privileged users are configured"}
	}

	if c.Reset.Enabled {
		if c.Reset.Amount == "" {
			return &credits.ValidationError{Field: "RESET_BALANCE_AMOUNT", Reason: "required when RESET_BALANCE is enabled"}
		}
		if _, err := cron.ParseStandard(c.Reset.Schedule); err != nil {
			return &credits.ValidationError{Field: "RESET_BALANCE_TIME", Value: c.Reset.Schedule, Reason: err.Error()}
		}
	}
	return nil
}

// splitList trims entries and splits any that still contain commas, which
// happens when a list arrives as a single env string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
