package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	Environment           string
	Storage               string
	DatabaseURL           string
	SQLitePath            string
	LogLevel              string
	MaxRetries            int
	RejectNegativeAmounts bool
	AuditEnabled          bool
	AuditSink             string
}

// Load reads configuration from environment variables. Variables found in
// envFiles (".env" when none are given) fill in anything not already set in
// the environment; a missing default .env file is not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Storage:     strings.ToLower(getEnv("LEDGER_STORAGE", StorageMemory)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("LEDGER_SQLITE_PATH", "ledger.db"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		AuditSink:   os.Getenv("AUDIT_SINK"),
	}

	var err error
	if cfg.MaxRetries, err = getInt("LEDGER_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.RejectNegativeAmounts, err = getBool("LEDGER_REJECT_NEGATIVE_AMOUNTS", false); err != nil {
		return nil, err
	}
	if cfg.AuditEnabled, err = getBool("LEDGER_AUDIT", true); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			missing = append(missing, "LEDGER_SQLITE_PATH")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("LEDGER_STORAGE must be one of %s, %s, %s; got %q",
			StorageMemory, StorageSQLite, StoragePostgres, c.Storage)
	}

	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if c.MaxRetries < 1 {
		return fmt.Errorf("LEDGER_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}

	if c.AuditSink != "" && !c.AuditEnabled {
		return errors.New("AUDIT_SINK is set but LEDGER_AUDIT is false")
	}

	// Balances must outlive the process outside development.
	if (c.Environment == "production" || c.Environment == "staging") && c.Storage == StorageMemory {
		return errors.New("LEDGER_STORAGE=memory is not allowed in " + c.Environment)
	}

	return nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}

	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
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
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
