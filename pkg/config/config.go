package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for civic-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (database password, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// MigrationsPath is the directory containing SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Import pipeline configuration
	Import ImportConfig `yaml:"import"`

	// Federal Register API configuration
	FederalRegister FederalRegisterConfig `yaml:"federal_register"`

	// USCode download configuration
	USCode USCodeConfig `yaml:"uscode"`

	// Scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"civic"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"civic_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ImportConfig holds settings shared by all import pipelines.
type ImportConfig struct {
	// BatchSize is the number of validated candidates grouped before a flush.
	// Flush failures are decomposed and retried record-by-record.
	BatchSize int `yaml:"batch_size" env:"IMPORT_BATCH_SIZE" env-default:"100"`

	// FieldAuthorityPath is the YAML file declaring which fields each source
	// is authoritative for. See configs/field_authority.yaml.
	FieldAuthorityPath string `yaml:"field_authority_path" env:"IMPORT_FIELD_AUTHORITY_PATH" env-default:"configs/field_authority.yaml"`
}

// FederalRegisterConfig holds Federal Register API client settings.
type FederalRegisterConfig struct {
	BaseURL        string `yaml:"base_url" env:"FEDERAL_REGISTER_BASE_URL" env-default:"https://www.federalregister.gov/api/v1"`
	PerPage        int    `yaml:"per_page" env:"FEDERAL_REGISTER_PER_PAGE" env-default:"100"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"FEDERAL_REGISTER_TIMEOUT_SECONDS" env-default:"30"`
}

// USCodeConfig holds uscode.house.gov download settings.
type USCodeConfig struct {
	BaseURL             string `yaml:"base_url" env:"USCODE_BASE_URL" env-default:"https://uscode.house.gov/download"`
	// DefaultReleasePoint is "{congress}-{release}", e.g. "119-46". Check
	// https://uscode.house.gov/download/download.shtml for the current one.
	DefaultReleasePoint string `yaml:"default_release_point" env:"USCODE_DEFAULT_RELEASE_POINT" env-default:"119-46"`
	TimeoutSeconds      int    `yaml:"timeout_seconds" env:"USCODE_TIMEOUT_SECONDS" env-default:"120"`
}

// SchedulerConfig holds cron settings for scheduled syncs.
type SchedulerConfig struct {
	// Enabled turns the in-process scheduler on.
	Enabled bool `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"false"`
	// RegulationSyncSpec is the cron expression for the nightly Federal
	// Register sync.
	RegulationSyncSpec string `yaml:"regulation_sync_spec" env:"SCHEDULER_REGULATION_SYNC_SPEC" env-default:"0 3 * * *"`
	// RegulationSyncLookbackDays bounds how far back each scheduled sync looks.
	RegulationSyncLookbackDays int `yaml:"regulation_sync_lookback_days" env:"SCHEDULER_REGULATION_SYNC_LOOKBACK_DAYS" env-default:"7"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// If config.yaml does not exist, configuration comes from environment variables
// and defaults alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// Fall back to env-only configuration when no YAML file is present.
		if envErr := cleanenv.ReadEnv(cfg); envErr != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", envErr)
		}
	}

	if cfg.Import.BatchSize < 1 {
		return nil, fmt.Errorf("import batch_size must be at least 1, got %d", cfg.Import.BatchSize)
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
