package config

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/kvstore"
	"github.com/marmos91/tenantfs/pkg/legacy"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/meta/badgermeta"
	"github.com/marmos91/tenantfs/pkg/meta/sqlmeta"
	"github.com/marmos91/tenantfs/pkg/sqldb"
	"github.com/marmos91/tenantfs/pkg/store/s3"
	"github.com/mitchellh/mapstructure"
)

// badgerYAMLConfig represents the metadata.badger section.
type badgerYAMLConfig struct {
	Path             string `mapstructure:"path"`
	InMemory         bool   `mapstructure:"in_memory"`
	BlockCacheSizeMB int64  `mapstructure:"block_cache_size_mb"`
	IndexCacheSizeMB int64  `mapstructure:"index_cache_size_mb"`
}

// needsBadger reports whether any component reads the badger database.
func needsBadger(cfg *Config) bool {
	return cfg.Metadata.Type == "badger" || cfg.Legacy.Badger
}

// OpenDatabase opens the SQL database and, unless disabled, migrates it
// and creates the schema of every tenant. Returns nil for driver "none".
func OpenDatabase(ctx context.Context, cfg *Config) (*sqldb.DB, error) {
	if cfg.Database.Driver == "none" {
		return nil, nil
	}

	db, err := sqldb.Open(ctx, sqldb.Dialect(cfg.Database.Driver), cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Database.Driver, err)
	}

	if !cfg.Database.SkipMigrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		for _, tenant := range cfg.Tenants {
			if err := db.EnsureTenant(ctx, tenant); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
	}

	logger.Debug("Opened %s database", cfg.Database.Driver)
	return db, nil
}

// OpenKV opens the badger database when metadata or legacy ids use it.
func OpenKV(ctx context.Context, cfg *Config) (*badger.DB, error) {
	if !needsBadger(cfg) {
		return nil, nil
	}

	var badgerCfg badgerYAMLConfig
	if err := mapstructure.Decode(cfg.Metadata.Badger, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}
	if badgerCfg.Path == "" && !badgerCfg.InMemory {
		return nil, fmt.Errorf("badger path is required")
	}

	db, err := kvstore.Open(ctx, kvstore.Config{
		Path:             badgerCfg.Path,
		InMemory:         badgerCfg.InMemory,
		BlockCacheSizeMB: badgerCfg.BlockCacheSizeMB,
		IndexCacheSizeMB: badgerCfg.IndexCacheSizeMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return db, nil
}

// CreateMetadataStore returns the primary metadata store of local files,
// or nil when attributes live in extended attributes only.
func CreateMetadataStore(cfg *MetadataConfig, db *sqldb.DB, kv *badger.DB) (meta.Store, error) {
	switch cfg.Type {
	case "xattr":
		return nil, nil
	case "database":
		if db == nil {
			return nil, fmt.Errorf("metadata type database requires a database")
		}
		return sqlmeta.New(db), nil
	case "badger":
		if kv == nil {
			return nil, fmt.Errorf("metadata type badger requires a badger database")
		}
		return badgermeta.New(kv), nil
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}
}

// CreateLegacyResolver chains the configured id resolvers: the static
// table first, then badger, then row ids. Returns nil when none is set.
func CreateLegacyResolver(cfg *LegacyConfig, rows *sqlmeta.Store, kv *badger.DB) legacy.Resolver {
	var chain legacy.Chain
	if len(cfg.IDs) > 0 {
		chain = append(chain, legacy.MapResolver(cfg.IDs))
	}
	if cfg.Badger && kv != nil {
		chain = append(chain, legacy.NewBadgerResolver(kv))
	}
	if cfg.RowIDs && rows != nil {
		chain = append(chain, legacy.RowResolver{Rows: rows})
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// CreateObjectStore builds the S3 client and bucket view.
func CreateObjectStore(ctx context.Context, cfg *S3Config, m s3.S3Metrics) (*s3.Store, error) {
	endpoint := s3.NormalizeEndpoint(cfg.Endpoint, cfg.Bucket, cfg.Region)

	client, presigner, err := s3.NewClient(ctx, s3.ClientOptions{
		Endpoint:        endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		ForcePathStyle:  cfg.ForcePathStyle,
		MaxRetries:      cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	store, err := s3.New(ctx, s3.Config{
		Client:          client,
		Presigner:       presigner,
		Endpoint:        endpoint,
		KeyPrefix:       cfg.KeyPrefix,
		SignedLinks:     cfg.SignedLinks,
		SignedURLExpiry: cfg.SignedURLExpiry,
		Metrics:         m,
		VerifyBucket:    cfg.VerifyBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 store: %w", err)
	}
	return store, nil
}
