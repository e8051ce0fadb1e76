// Package config loads simple-image settings from a YAML/JSON file and the
// environment and assembles a ready Coordinator from them.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/transform"
	"github.com/tendant/simple-image/pkg/simpleimage/urlstrategy"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Config is the process configuration of simple-image.
type Config struct {
	Port        string `yaml:"port" json:"port" env:"SIMPLEIMAGE_PORT" env-default:"8080" env-description:"HTTP listen port"`
	Environment string `yaml:"environment" json:"environment" env:"SIMPLEIMAGE_ENVIRONMENT" env-default:"development" env-description:"development or production"`

	DatabaseURL    string `yaml:"database_url" json:"database_url" env:"SIMPLEIMAGE_DATABASE_URL" env-default:"memory" env-description:"memory, postgres://... or sqlite://path"`
	DatabaseSchema string `yaml:"database_schema" json:"database_schema" env:"SIMPLEIMAGE_DB_SCHEMA" env-description:"Postgres search_path"`
	Table          string `yaml:"table" json:"table" env:"SIMPLEIMAGE_TABLE" env-default:"images" env-description:"attachment table"`

	StorageURL string   `yaml:"storage_url" json:"storage_url" env:"SIMPLEIMAGE_STORAGE_URL" env-default:"memory://" env-description:"memory://, file:///path or s3://bucket/prefix?region=..."`
	S3         S3Config `yaml:"s3" json:"s3"`

	URLStrategy  string `yaml:"url_strategy" json:"url_strategy" env:"SIMPLEIMAGE_URL_STRATEGY" env-description:"path-prefix, cdn or storage-delegated"`
	WebRoot      string `yaml:"web_root" json:"web_root" env:"SIMPLEIMAGE_WEB_ROOT" env-description:"filesystem web root replaced by public_prefix"`
	PublicPrefix string `yaml:"public_prefix" json:"public_prefix" env:"SIMPLEIMAGE_PUBLIC_PREFIX" env-default:"/" env-description:"public URL prefix"`
	CDNBaseURL   string `yaml:"cdn_base_url" json:"cdn_base_url" env:"SIMPLEIMAGE_CDN_BASE_URL" env-description:"CDN mirroring the storage layout"`

	Workers          int           `yaml:"workers" json:"workers" env:"SIMPLEIMAGE_WORKERS" env-default:"4" env-description:"concurrent variant generations"`
	AsyncMaterialize bool          `yaml:"async_materialize" json:"async_materialize" env:"SIMPLEIMAGE_ASYNC" env-description:"generate variants in the background"`
	ReclaimRecheck   time.Duration `yaml:"reclaim_recheck" json:"reclaim_recheck" env:"SIMPLEIMAGE_RECLAIM_RECHECK" env-description:"delay before re-checking references during reclamation"`

	Log LogConfig `yaml:"log" json:"log" env-prefix:"SIMPLEIMAGE_LOG_"`

	Owners map[string]simpleimage.OwnerConfig `yaml:"owners" json:"owners"`
}

// S3Config carries S3 settings not expressed in the storage URL.
type S3Config struct {
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	Region          string `yaml:"region" json:"region" env:"AWS_REGION"`
	Endpoint        string `yaml:"endpoint" json:"endpoint" env:"AWS_ENDPOINT_URL_S3"`
	PresignDuration int    `yaml:"presign_duration" json:"presign_duration" env:"SIMPLEIMAGE_S3_PRESIGN_SECONDS"`
	PublicBaseURL   string `yaml:"public_base_url" json:"public_base_url" env:"SIMPLEIMAGE_S3_PUBLIC_BASE_URL" env-description:"serve objects from this URL instead of presigning"`
	CacheControl    string `yaml:"cache_control" json:"cache_control" env:"SIMPLEIMAGE_S3_CACHE_CONTROL"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level      string `yaml:"level" json:"level" env:"LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format     string `yaml:"format" json:"format" env:"FORMAT" env-description:"text or json; json in production when empty"`
	File       string `yaml:"file" json:"file" env:"FILE" env-description:"rotated log file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb" env:"MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups" env:"MAX_BACKUPS" env-default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days" env:"MAX_AGE_DAYS" env-default:"28"`
	SentryDSN  string `yaml:"sentry_dsn" json:"sentry_dsn" env:"SENTRY_DSN" env-description:"errors are forwarded to Sentry when set"`
}

// Load constructs a Config by applying the supplied options on top of
// defaults, then validates it.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:         "8080",
		Environment:  "development",
		DatabaseURL:  "memory",
		Table:        "images",
		StorageURL:   "memory://",
		PublicPrefix: "/",
		Workers:      simpleimage.DefaultWorkers,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// WithFile reads a YAML or JSON file, then applies environment overrides.
func WithFile(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv applies SIMPLEIMAGE_* and AWS_* environment variables.
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithDatabaseURL sets the metadata database
func WithDatabaseURL(u string) Option {
	return func(c *Config) error {
		if u == "" {
			return errors.New("database URL cannot be empty")
		}
		c.DatabaseURL = u
		return nil
	}
}

// WithStorageURL sets the blob store
func WithStorageURL(u string) Option {
	return func(c *Config) error {
		if u == "" {
			return errors.New("storage URL cannot be empty")
		}
		c.StorageURL = u
		return nil
	}
}

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return errors.New("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithOwner adds or replaces one owner type
func WithOwner(ownerType string, owner simpleimage.OwnerConfig) Option {
	return func(c *Config) error {
		if c.Owners == nil {
			c.Owners = make(map[string]simpleimage.OwnerConfig)
		}
		c.Owners[ownerType] = owner
		return nil
	}
}

// Usage describes the recognised environment variables.
func Usage() (string, error) {
	var c Config
	return cleanenv.GetDescription(&c, nil)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Table == "" {
		return errors.New("table is required")
	}
	if _, err := c.databaseKind(); err != nil {
		return err
	}
	storage, err := c.storageKind()
	if err != nil {
		return err
	}
	if _, err := c.strategyType(); err != nil {
		return err
	}

	registry, err := simpleimage.NewRegistry(c.Owners)
	if err != nil {
		return err
	}
	ops := transform.New()
	for _, ownerType := range registry.OwnerTypes() {
		owner, _ := registry.Owner(ownerType)
		if owner.Table != "" && owner.Table != c.Table {
			return fmt.Errorf("owner %s: table %q differs from table %q shared by all owner types", ownerType, owner.Table, c.Table)
		}
		if storage == kindFS && owner.Path != "" && filepath.Clean(owner.Path) != filepath.Clean(c.fsRoot()) {
			return fmt.Errorf("owner %s: path %q is not the storage root %q", ownerType, owner.Path, c.fsRoot())
		}
		for name, preset := range owner.Presets {
			for _, step := range preset {
				if !ops.Supports(step.Op) {
					return fmt.Errorf("owner %s preset %s: %w: %s", ownerType, name, simpleimage.ErrUnknownOperation, step.Op)
				}
			}
		}
	}
	return nil
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

const (
	kindMemory   = "memory"
	kindPostgres = "postgres"
	kindSQLite   = "sqlite"
	kindFS       = "fs"
	kindS3       = "s3"
)

func (c *Config) databaseKind() (string, error) {
	switch {
	case c.DatabaseURL == "" || c.DatabaseURL == "memory" || c.DatabaseURL == "memory://":
		return kindMemory, nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return kindPostgres, nil
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		if sqlitePath(c.DatabaseURL) == "" {
			return "", errors.New("sqlite path cannot be empty in database_url")
		}
		return kindSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database_url format: %s (use 'memory', 'postgres://...' or 'sqlite://path')", c.DatabaseURL)
	}
}

// fsRoot is the directory of a file:// storage URL.
func (c *Config) fsRoot() string {
	return strings.TrimPrefix(c.StorageURL, "file://")
}

// owners returns the owner configurations with Path defaulting to the
// storage root for filesystem storage, so path-prefix URLs follow the files.
func (c *Config) owners() map[string]simpleimage.OwnerConfig {
	kind, _ := c.storageKind()
	owners := make(map[string]simpleimage.OwnerConfig, len(c.Owners))
	for name, owner := range c.Owners {
		if kind == kindFS && owner.Path == "" {
			owner.Path = c.fsRoot()
		}
		owners[name] = owner
	}
	return owners
}

func sqlitePath(u string) string {
	return strings.TrimPrefix(u, "sqlite://")
}

func (c *Config) storageKind() (string, error) {
	switch {
	case c.StorageURL == "" || c.StorageURL == "memory" || c.StorageURL == "memory://":
		return kindMemory, nil
	case strings.HasPrefix(c.StorageURL, "file://"):
		if strings.TrimPrefix(c.StorageURL, "file://") == "" {
			return "", errors.New("filesystem path cannot be empty in storage_url")
		}
		return kindFS, nil
	case strings.HasPrefix(c.StorageURL, "s3://"):
		u, err := url.Parse(c.StorageURL)
		if err != nil {
			return "", fmt.Errorf("invalid storage_url: %w", err)
		}
		if u.Host == "" {
			return "", errors.New("S3 bucket name cannot be empty in storage_url")
		}
		return kindS3, nil
	default:
		return "", fmt.Errorf("unsupported storage_url format: %s (use 'memory://', 'file://...', or 's3://...')", c.StorageURL)
	}
}

// strategyType picks the URL strategy, defaulting to cdn when a CDN base URL
// is configured and path-prefix otherwise.
func (c *Config) strategyType() (urlstrategy.StrategyType, error) {
	switch t := urlstrategy.StrategyType(c.URLStrategy); t {
	case "":
		if c.CDNBaseURL != "" {
			return urlstrategy.StrategyTypeCDN, nil
		}
		return urlstrategy.StrategyTypePathPrefix, nil
	case urlstrategy.StrategyTypeCDN:
		if c.CDNBaseURL == "" {
			return "", errors.New("cdn_base_url is required for the cdn url strategy")
		}
		return t, nil
	case urlstrategy.StrategyTypePathPrefix, urlstrategy.StrategyTypeStorageDelegated:
		return t, nil
	default:
		return "", fmt.Errorf("unknown url_strategy %q", c.URLStrategy)
	}
}
