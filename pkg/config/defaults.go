package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/tenantfs/pkg/dircache"
	"github.com/marmos91/tenantfs/pkg/files"
	"github.com/marmos91/tenantfs/pkg/gc"
	"github.com/marmos91/tenantfs/pkg/store/s3"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced, explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyStorageDefaults(&cfg.Storage)
	applyS3Defaults(&cfg.S3)
	applyDatabaseDefaults(&cfg.Database, cfg.Storage.Root)
	applyMetadataDefaults(&cfg.Metadata, cfg.Database.Driver, cfg.Storage.Root)
	applyServerDefaults(&cfg.Server)
	applyGCDefaults(&cfg.GC)

	if len(cfg.Tenants) == 0 {
		cfg.Tenants = []string{"public"}
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "local"
	}
	if cfg.Backend == "local" && cfg.Root == "" {
		cfg.Root = "/var/lib/tenantfs/files"
	}
	if cfg.DirCacheWait == 0 {
		cfg.DirCacheWait = dircache.DefaultMaxWait
	}
	if cfg.HeadConcurrency == 0 {
		cfg.HeadConcurrency = files.DefaultHeadConcurrency
	}
}

func applyS3Defaults(cfg *S3Config) {
	if cfg.Region == "" {
		cfg.Region = s3.DefaultRegion
	}
	if cfg.SignedURLExpiry == 0 {
		cfg.SignedURLExpiry = s3.DefaultSignedURLExpiry
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
}

func applyDatabaseDefaults(cfg *DatabaseConfig, root string) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Driver == "sqlite" && cfg.DSN == "" {
		dir := root
		if dir == "" {
			dir = getConfigDir()
		}
		cfg.DSN = "file:" + filepath.Join(dir, "tenantfs.db")
	}
}

func applyMetadataDefaults(cfg *MetadataConfig, driver, root string) {
	if cfg.Type == "" {
		cfg.Type = "database"
		if driver == "none" {
			cfg.Type = "xattr"
		}
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["path"]; !ok {
		dir := root
		if dir == "" {
			dir = getConfigDir()
		}
		cfg.Badger["path"] = filepath.Join(dir, ".tenantfs-meta")
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/files"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = gc.DefaultInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = gc.DefaultTimeout
	}
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
