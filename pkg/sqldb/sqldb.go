// Package sqldb opens the application database and hides the differences
// between the supported SQL dialects.
//
// Postgres deployments keep one schema per tenant; tables are addressed as
// "<tenant>"."<table>". SQLite deployments are single-tenant and address
// tables unqualified.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/marmos91/tenantfs/internal/logger"
	"github.com/marmos91/tenantfs/pkg/sqldb/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Dialect names a supported SQL dialect.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DefaultSchema is the tenant whose tables live in the default schema.
const DefaultSchema = "public"

// DB is a *sql.DB bound to a dialect.
type DB struct {
	*sql.DB
	dialect Dialect

	mu      sync.Mutex
	tenants map[string]bool
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	var driver string
	switch dialect {
	case Postgres:
		driver = "pgx"
	case SQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if dialect == SQLite {
		// One writer at a time; in-memory databases vanish with their
		// last connection.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	logger.Info("Database connected: driver=%s", dialect)
	return Wrap(db, dialect), nil
}

// Wrap binds an existing connection to a dialect.
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, dialect: dialect, tenants: make(map[string]bool)}
}

// Dialect returns the dialect of the connection.
func (d *DB) Dialect() Dialect { return d.dialect }

// Placeholder returns the n-th (1-based) bind parameter.
func (d *DB) Placeholder(n int) string {
	if d.dialect == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Rebind rewrites "$n" placeholders for dialects that use "?".
func (d *DB) Rebind(query string) string {
	if d.dialect == Postgres {
		return query
	}

	var sb strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			sb.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Table returns the qualified name of a tenant table.
func (d *DB) Table(tenant, name string) string {
	if d.dialect == Postgres && tenant != "" {
		return QuoteIdent(tenant) + "." + QuoteIdent(name)
	}
	return QuoteIdent(name)
}

// Migrate applies the embedded migrations to the default schema.
func (d *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{})

	gooseDialect := "postgres"
	if d.dialect == SQLite {
		gooseDialect = "sqlite3"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, d.DB, string(d.dialect)); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// EnsureTenant creates the schema and file table of a Postgres tenant. It is
// a no-op for the default schema and for SQLite.
func (d *DB) EnsureTenant(ctx context.Context, tenant string) error {
	if d.dialect != Postgres || tenant == "" || tenant == DefaultSchema {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tenants[tenant] {
		return nil
	}

	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + QuoteIdent(tenant),
		fmt.Sprintf(tenantFilesDDL, d.Table(tenant, "_sc_files")),
	}
	for _, stmt := range stmts {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare tenant %q: %w", tenant, err)
		}
	}

	d.tenants[tenant] = true
	return nil
}

const tenantFilesDDL = `CREATE TABLE IF NOT EXISTS %s (
    id            BIGSERIAL PRIMARY KEY,
    location      TEXT      NOT NULL UNIQUE,
    filename      TEXT      NOT NULL,
    mime_super    TEXT      NOT NULL DEFAULT '',
    mime_sub      TEXT      NOT NULL DEFAULT '',
    size_kb       BIGINT    NOT NULL DEFAULT 0,
    uploaded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    user_id       INTEGER,
    min_role_read INTEGER   NOT NULL DEFAULT 100
)`

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	logger.Debug(strings.TrimSuffix(format, "\n"), v...)
}

func (gooseLogger) Fatalf(format string, v ...any) {
	logger.Error(strings.TrimSuffix(format, "\n"), v...)
}
