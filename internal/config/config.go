// Package config provides configuration management for photodedup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the default HTTP port for the worker service.
	DefaultPort = 38080

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PHOTODEDUP_"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	Port     int    `yaml:"port"`
	APIToken string `yaml:"api_token"`
	LogLevel string `yaml:"log_level"`

	// Database settings
	DBDriver string `yaml:"db_driver"` // sqlite or postgres
	DBPath   string `yaml:"db_path"`
	DBDSN    string `yaml:"db_dsn"`
	MaxConns int    `yaml:"max_conns"`

	// Photo library
	LibraryDir   string `yaml:"library_dir"`
	TrashDir     string `yaml:"trash_dir"`
	WatchLibrary bool   `yaml:"watch_library"`

	// Ingestion
	PageSize       int           `yaml:"page_size"`
	Concurrency    int           `yaml:"concurrency"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`

	// Grouping
	NeighborCount    int    `yaml:"neighbor_count"` // k nearest reference images
	OverlapThreshold int    `yaml:"overlap_threshold"`
	WindowMode       string `yaml:"window_mode"` // hour or day
	TimeZone         string `yaml:"time_zone"`   // IANA name, empty for local
	MatchMode        string `yaml:"match_mode"`  // representative or all

	// Model service
	ExtractorURL  string `yaml:"extractor_url"`
	ExtractorMode string `yaml:"extractor_mode"` // distances or embedding
	ReferenceFile string `yaml:"reference_file"`
	ThumbnailSize int    `yaml:"thumbnail_size"`
	CacheSize     int    `yaml:"cache_size"`

	// Periodic full regroup, 0 disables
	RebuildInterval time.Duration `yaml:"rebuild_interval"`

	// Optional Redis mirror of surfaced sets
	RedisURL     string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`
}

// DataDir returns the data directory path (~/.photodedup).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".photodedup")
}

// DBPath returns the default database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "photodedup.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes the defaults to the settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Port:             DefaultPort,
		LogLevel:         "info",
		DBDriver:         "sqlite",
		DBPath:           DBPath(),
		MaxConns:         4,
		WatchLibrary:     true,
		PageSize:         50,
		Concurrency:      8,
		ExtractTimeout:   30 * time.Second,
		NeighborCount:    10,
		OverlapThreshold: 3,
		WindowMode:       "hour",
		MatchMode:        "representative",
		ExtractorURL:     "http://127.0.0.1:8501/v1/neighbors",
		ExtractorMode:    "distances",
		ThumbnailSize:    299,
		CacheSize:        4096,
		RedisChannel:     "photodedup:sets",
	}
}

// Load reads the YAML settings file at path over the defaults and then
// applies PHOTODEDUP_* environment overrides. An empty path means
// SettingsPath(); a missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = SettingsPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from PHOTODEDUP_<YAML KEY> variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	num("PORT", &c.Port)
	str("API_TOKEN", &c.APIToken)
	str("LOG_LEVEL", &c.LogLevel)
	str("DB_DRIVER", &c.DBDriver)
	str("DB_PATH", &c.DBPath)
	str("DB_DSN", &c.DBDSN)
	num("MAX_CONNS", &c.MaxConns)
	str("LIBRARY_DIR", &c.LibraryDir)
	str("TRASH_DIR", &c.TrashDir)
	flag("WATCH_LIBRARY", &c.WatchLibrary)
	num("PAGE_SIZE", &c.PageSize)
	num("CONCURRENCY", &c.Concurrency)
	dur("EXTRACT_TIMEOUT", &c.ExtractTimeout)
	num("NEIGHBOR_COUNT", &c.NeighborCount)
	num("OVERLAP_THRESHOLD", &c.OverlapThreshold)
	str("WINDOW_MODE", &c.WindowMode)
	str("TIME_ZONE", &c.TimeZone)
	str("MATCH_MODE", &c.MatchMode)
	str("EXTRACTOR_URL", &c.ExtractorURL)
	str("EXTRACTOR_MODE", &c.ExtractorMode)
	str("REFERENCE_FILE", &c.ReferenceFile)
	num("THUMBNAIL_SIZE", &c.ThumbnailSize)
	num("CACHE_SIZE", &c.CacheSize)
	dur("REBUILD_INTERVAL", &c.RebuildInterval)
	str("REDIS_URL", &c.RedisURL)
	str("REDIS_CHANNEL", &c.RedisChannel)

	return errors.Join(errs...)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("db_path is required for sqlite"))
		}
	case "postgres":
		if c.DBDSN == "" {
			errs = append(errs, errors.New("db_dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db_driver %q", c.DBDriver))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.NeighborCount <= 0 {
		errs = append(errs, fmt.Errorf("neighbor_count must be positive, got %d", c.NeighborCount))
	}
	if c.OverlapThreshold <= 0 || c.OverlapThreshold > c.NeighborCount {
		errs = append(errs, fmt.Errorf("overlap_threshold must be in 1..%d, got %d", c.NeighborCount, c.OverlapThreshold))
	}
	if c.RebuildInterval < 0 {
		errs = append(errs, errors.New("rebuild_interval must not be negative"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves TimeZone. Empty means the process local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
