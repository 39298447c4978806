// Package config loads tmcnotebook settings from an optional YAML file and
// TMCNOTEBOOK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"tmcnotebook/internal/archive"
	"tmcnotebook/internal/core"
	"tmcnotebook/internal/geometry"
	"tmcnotebook/internal/resolution"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TMCNOTEBOOK_"

// Config is the complete runtime configuration.
type Config struct {
	Storage Storage `yaml:"storage"`
	Archive Archive `yaml:"archive"`
	API     API     `yaml:"api"`
	Cache   Cache   `yaml:"cache"`
	Log     Log     `yaml:"log"`
}

// Storage selects the record store.
type Storage struct {
	Driver      string `yaml:"driver"` // memory|sqlite|postgres
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Archive selects the snapshot archive backend.
type Archive struct {
	Driver string   `yaml:"driver"` // fs|memory|s3
	FSRoot string   `yaml:"fs_root"`
	S3     ArchiveS3 `yaml:"s3"`
}

// ArchiveS3 configures the s3 archive driver. Credentials come from the
// default AWS chain.
type ArchiveS3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// API configures the resolution service client.
type API struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Cache configures the geometry cache.
type Cache struct {
	Capacity int `yaml:"capacity"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: Storage{Driver: string(core.StorageSQLite), SQLitePath: "tmcnotebook.db"},
		Archive: Archive{Driver: string(archive.DriverFilesystem), FSRoot: "./archive"},
		API:     API{URL: "http://localhost:8080", Timeout: resolution.DefaultTimeout},
		Cache:   Cache{Capacity: geometry.DefaultCapacity},
		Log:     Log{Level: "info"},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays TMCNOTEBOOK_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("ARCHIVE_DRIVER", &c.Archive.Driver)
	str("ARCHIVE_FS_ROOT", &c.Archive.FSRoot)
	str("ARCHIVE_S3_BUCKET", &c.Archive.S3.Bucket)
	str("ARCHIVE_S3_REGION", &c.Archive.S3.Region)
	str("ARCHIVE_S3_ENDPOINT", &c.Archive.S3.Endpoint)
	str("API_URL", &c.API.URL)
	str("LOG_LEVEL", &c.Log.Level)

	var errs []error
	if v, ok := lookup(EnvPrefix + "ARCHIVE_S3_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sARCHIVE_S3_PATH_STYLE: %w", EnvPrefix, err))
		}
		c.Archive.S3.PathStyle = b
	}
	if v, ok := lookup(EnvPrefix + "API_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sAPI_TIMEOUT: %w", EnvPrefix, err))
		}
		c.API.Timeout = d
	}
	if v, ok := lookup(EnvPrefix + "CACHE_CAPACITY"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCACHE_CAPACITY: %w", EnvPrefix, err))
		}
		c.Cache.Capacity = n
	}
	if v, ok := lookup(EnvPrefix + "LOG_DEVELOPMENT"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_DEVELOPMENT: %w", EnvPrefix, err))
		}
		c.Log.Development = b
	}
	return errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage: postgres driver requires postgres_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	switch archive.Driver(c.Archive.Driver) {
	case archive.DriverFilesystem, archive.DriverMemory:
	case archive.DriverS3:
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, errors.New("archive: s3 driver requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive: unknown driver %q", c.Archive.Driver))
	}
	if c.API.URL == "" {
		errs = append(errs, errors.New("api: url required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api: timeout must be positive, got %s", c.API.Timeout))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache: capacity must be positive, got %d", c.Cache.Capacity))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// StorageConfig converts the storage section for core.OpenRecordStore.
func (c Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// ArchiveConfig converts the archive section for archive.Open.
func (c Config) ArchiveConfig() archive.Config {
	return archive.Config{
		Driver: archive.Driver(c.Archive.Driver),
		FSRoot: c.Archive.FSRoot,
		S3: archive.S3Config{
			Bucket:    c.Archive.S3.Bucket,
			Region:    c.Archive.S3.Region,
			Endpoint:  c.Archive.S3.Endpoint,
			PathStyle: c.Archive.S3.PathStyle,
		},
	}
}

// Write stores cfg as YAML at path, creating parent directories.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
