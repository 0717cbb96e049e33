package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete tenantfs configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (TENANTFS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`

	// Storage selects the file backend shared by every tenant.
	Storage StorageConfig `mapstructure:"storage"`

	// S3 is only used when Storage.Backend is "s3".
	S3 S3Config `mapstructure:"s3"`

	// Database holds file rows and the tables whose File columns are
	// rewritten on rename and move.
	Database DatabaseConfig `mapstructure:"database"`

	// Metadata selects where access attributes of local files live.
	Metadata MetadataConfig `mapstructure:"metadata"`

	// Legacy configures resolution of numeric file ids.
	Legacy LegacyConfig `mapstructure:"legacy"`

	Server ServerConfig `mapstructure:"server"`

	// GC sweeps orphaned derivatives and file rows of local tenants.
	GC GCConfig `mapstructure:"gc"`

	// Tenants are activated at startup. Each must be a single path segment.
	Tenants []string `mapstructure:"tenants" validate:"required,min=1,dive,required,excludesall=/\\"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// StorageConfig selects the file backend.
type StorageConfig struct {
	// Backend: local or s3
	Backend string `mapstructure:"backend" validate:"required,oneof=local s3"`

	// Root is the directory holding one subdirectory per tenant.
	// Required for the local backend.
	Root string `mapstructure:"root"`

	// DirCache caches the directory tree of local tenants.
	DirCache bool `mapstructure:"dir_cache"`

	// DirCacheWait bounds how long a lookup waits for a build in flight.
	DirCacheWait time.Duration `mapstructure:"dir_cache_wait" validate:"gte=0"`

	// HeadConcurrency bounds parallel HEAD requests when listing objects.
	HeadConcurrency int `mapstructure:"head_concurrency" validate:"gte=0"`

	// HeadRate caps HEAD requests per second; 0 disables the limit.
	HeadRate uint `mapstructure:"head_rate"`
}

// S3Config configures the object-store backend.
type S3Config struct {
	// Endpoint may carry the bucket as host prefix or first path segment.
	// Empty selects AWS.
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`

	// DirectLinks serves files straight from the bucket instead of through
	// the proxy routes. SignedLinks makes those links pre-signed.
	DirectLinks     bool          `mapstructure:"direct_links"`
	SignedLinks     bool          `mapstructure:"signed_links"`
	SignedURLExpiry time.Duration `mapstructure:"signed_url_expiry" validate:"gte=0"`

	// MaxRetries is the number of attempts per request.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// VerifyBucket checks the bucket is reachable at startup.
	VerifyBucket bool `mapstructure:"verify_bucket"`
}

// DatabaseConfig selects the SQL database.
type DatabaseConfig struct {
	// Driver: none, sqlite or postgres
	Driver string `mapstructure:"driver" validate:"required,oneof=none sqlite postgres"`

	DSN string `mapstructure:"dsn"`

	// SkipMigrate leaves the schema alone at startup.
	SkipMigrate bool `mapstructure:"skip_migrate"`
}

// MetadataConfig selects the primary metadata store of local files. Files
// it holds no record for fall back to extended attributes.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type MetadataConfig struct {
	// Type: xattr, database or badger
	Type string `mapstructure:"type" validate:"required,oneof=xattr database badger"`

	// Badger contains BadgerDB-specific configuration
	// Used when Type = "badger" or Legacy.Badger is set
	Badger map[string]any `mapstructure:"badger"`
}

// LegacyConfig configures resolution of numeric file ids.
type LegacyConfig struct {
	// IDs is a static id -> relative path table.
	IDs map[int64]string `mapstructure:"ids"`

	// Badger resolves ids through the BadgerDB of the metadata section.
	Badger bool `mapstructure:"badger"`

	// RowIDs resolves ids as primary keys of the file table.
	RowIDs bool `mapstructure:"row_ids"`
}

// ServerConfig configures the HTTP file server.
type ServerConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`

	// Prefix the serve and download routes are mounted on.
	Prefix string `mapstructure:"prefix" validate:"required,startswith=/"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
}

// GCConfig controls the orphan collector.
type GCConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// DryRun logs orphans without deleting them.
	DryRun bool `mapstructure:"dry_run"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location; a missing file is not an
// error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// envKeys are bound explicitly so environment variables work without a
// config file that mentions the key.
var envKeys = []string{
	"logging.level", "logging.format", "logging.output",
	"storage.backend", "storage.root", "storage.dir_cache", "storage.dir_cache_wait",
	"storage.head_concurrency", "storage.head_rate",
	"s3.endpoint", "s3.region", "s3.bucket", "s3.access_key_id", "s3.secret_access_key",
	"s3.key_prefix", "s3.force_path_style", "s3.direct_links", "s3.signed_links",
	"s3.signed_url_expiry", "s3.max_retries", "s3.verify_bucket",
	"database.driver", "database.dsn", "database.skip_migrate",
	"metadata.type",
	"legacy.badger", "legacy.row_ids",
	"server.listen", "server.prefix", "server.shutdown_timeout",
	"server.metrics.enabled", "server.metrics.port",
	"gc.enabled", "gc.interval", "gc.timeout", "gc.dry_run",
	"tenants",
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: TENANTFS_STORAGE_ROOT=/srv/files
	v.SetEnvPrefix("TENANTFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/tenantfs, ~/.config/tenantfs, or
// "." when no home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tenantfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tenantfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
