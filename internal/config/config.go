// Package config provides configuration structures and loading for the fuel price scraper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the fuel price scraper.
type Config struct {
	// Database driver (sqlite, postgres)
	DBDriver string `yaml:"db_driver"`
	// SQLite database file
	DBPath string `yaml:"db_path"`
	// PostgreSQL connection string
	PostgresDSN string `yaml:"postgres_dsn"`
	// SQLite busy timeout
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	// Directory of the compressed response cache
	CacheDir string `yaml:"cache_dir"`
	// Base URL of the historical price service
	BaseURL string `yaml:"base_url"`
	// Timeout of a single upstream request
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// Base delay of busy retries
	RetryBase time.Duration `yaml:"retry_base"`
	// Maximum attempts of a busy write transaction, 0 for unlimited
	RetryMaxAttempts int `yaml:"retry_max_attempts"`
	// Log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
	// Log format (json, console)
	LogFormat string `yaml:"log_format"`
	// HTTP server address
	HTTPAddr string `yaml:"http_addr"`
	// Scrape hour (0-23)
	ScrapeHour int `yaml:"scrape_hour"`
	// Time zone of the scrape hour
	Timezone string `yaml:"timezone"`
	// Days before yesterday ingested again by the daily run
	Lookback int `yaml:"lookback"`
	// Concurrent dates
	Workers int `yaml:"workers"`
	// Municipality id, 0 for all stations
	Locality int `yaml:"locality"`
	// Minimum delay between two dispatched dates
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		DBDriver:         "sqlite",
		DBPath:           "data/fuelprices.db",
		PostgresDSN:      "",
		BusyTimeout:      5 * time.Second,
		CacheDir:         "data/cache",
		BaseURL:          "",
		HTTPTimeout:      60 * time.Second,
		RetryBase:        time.Second,
		RetryMaxAttempts: 10,
		LogLevel:         "info",
		LogFormat:        "json",
		HTTPAddr:         ":8080",
		ScrapeHour:       6,
		Timezone:         "Europe/Madrid",
		Lookback:         2,
		Workers:          10,
		Locality:         0,
		DispatchInterval: 100 * time.Millisecond,
	}
}

// LoadFromFile merges a YAML configuration file into c.
// Keys absent from the file keep their current value.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// A .env file in the working directory is read first; variables already
// set in the environment take precedence over it.
func (c *Config) LoadFromEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.DBDriver = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("SCRAPE_HOUR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 && i <= 23 {
			c.ScrapeHour = i
		}
	}
	envInt("RETRY_MAX_ATTEMPTS", &c.RetryMaxAttempts)
	envInt("LOOKBACK", &c.Lookback)
	envInt("WORKERS", &c.Workers)
	envInt("LOCALITY", &c.Locality)
	envDuration("BUSY_TIMEOUT", &c.BusyTimeout)
	envDuration("HTTP_TIMEOUT", &c.HTTPTimeout)
	envDuration("RETRY_BASE", &c.RetryBase)
	envDuration("DISPATCH_INTERVAL", &c.DispatchInterval)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs *multierror.Error

	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = multierror.Append(errs, errors.New("db path is required for the sqlite driver"))
		}
	case "postgres":
		if c.PostgresDSN == "" {
			errs = multierror.Append(errs, errors.New("postgres DSN is required for the postgres driver"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unsupported db driver %q", c.DBDriver))
	}

	if c.CacheDir == "" {
		errs = multierror.Append(errs, errors.New("cache dir is required"))
	}
	if c.HTTPTimeout <= 0 {
		errs = multierror.Append(errs, errors.New("http timeout must be positive"))
	}
	if c.RetryBase <= 0 {
		errs = multierror.Append(errs, errors.New("retry base must be positive"))
	}
	if c.RetryMaxAttempts < 0 {
		errs = multierror.Append(errs, errors.New("retry max attempts must not be negative"))
	}
	if c.ScrapeHour < 0 || c.ScrapeHour > 23 {
		errs = multierror.Append(errs, fmt.Errorf("scrape hour must be between 0 and 23, got %d", c.ScrapeHour))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err))
	}
	if c.Lookback < 0 {
		errs = multierror.Append(errs, errors.New("lookback must not be negative"))
	}
	if c.Workers < 1 {
		errs = multierror.Append(errs, errors.New("workers must be at least 1"))
	}
	if c.Locality < 0 {
		errs = multierror.Append(errs, errors.New("locality must not be negative"))
	}

	return errs.ErrorOrNil()
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
