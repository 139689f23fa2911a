// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/titantix/gate/internal/model"
	"github.com/titantix/gate/internal/retry"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the full process configuration.
type Config struct {
	Port           string
	RequestTimeout time.Duration
	CORSOrigins    []string

	StoreDriver string
	Database    DatabaseConfig
	SQLitePath  string

	// TokenSecret signs ticket tokens. It is read once at startup.
	TokenSecret string

	Auth  AuthConfig
	Issue IssueConfig
	Log   LogConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// AuthConfig configures administrator sessions.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	AdminEmail    string
	AdminPassword string
}

// IssueConfig configures the batch issuance pipeline.
type IssueConfig struct {
	InitialStatus model.Status
	ChunkSize     int
	Retry         retry.Policy
}

// LogConfig configures the logrus logger.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (*Config, error) {
	var errs []error
	durationOr := func(key string, fallback time.Duration) time.Duration {
		d, err := getDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	intOr := func(key string, fallback int) int {
		n, err := getInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		RequestTimeout: durationOr("REQUEST_TIMEOUT", 10*time.Second),
		CORSOrigins:    splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "titantix"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		SQLitePath:  getEnv("SQLITE_PATH", "titantix.db"),
		TokenSecret: os.Getenv("TOKEN_SECRET"),
		Auth: AuthConfig{
			JWTSecret:     os.Getenv("JWT_SECRET"),
			TokenTTL:      durationOr("JWT_TTL", 7*24*time.Hour),
			AdminEmail:    getEnv("ADMIN_EMAIL", "admin@titantix.com"),
			AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		},
		Issue: IssueConfig{
			InitialStatus: model.Status(strings.ToUpper(getEnv("ISSUE_INITIAL_STATUS", string(model.StatusUnsold)))),
			ChunkSize:     intOr("ISSUE_CHUNK_SIZE", 500),
			Retry: retry.Policy{
				MaxAttempts:  intOr("ISSUE_MAX_ATTEMPTS", retry.DefaultPolicy.MaxAttempts),
				InitialDelay: durationOr("ISSUE_RETRY_DELAY", retry.DefaultPolicy.InitialDelay),
				MaxDelay:     retry.DefaultPolicy.MaxDelay,
				Multiplier:   retry.DefaultPolicy.Multiplier,
			},
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	var errs []error
	if c.TokenSecret == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not one of postgres, sqlite, memory", c.StoreDriver))
	}
	if c.Issue.InitialStatus != model.StatusUnsold && c.Issue.InitialStatus != model.StatusSold {
		errs = append(errs, fmt.Errorf("ISSUE_INITIAL_STATUS must be UNSOLD or SOLD, got %q", c.Issue.InitialStatus))
	}
	if c.Issue.ChunkSize < 1 {
		errs = append(errs, errors.New("ISSUE_CHUNK_SIZE must be positive"))
	}
	if c.Issue.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("ISSUE_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
