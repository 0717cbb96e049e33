package sqldb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrate_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, SQLite, "file:migrate_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migrations are idempotent")

	for _, table := range []string{"_sc_files", "_sc_tables", "_sc_fields"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Dialect("oracle"), "")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := Wrap(nil, Postgres)
	lite := Wrap(nil, SQLite)

	q := "UPDATE t SET c = $1 WHERE c = $2 AND d = $10"
	assert.Equal(t, q, pg.Rebind(q))
	assert.Equal(t, "UPDATE t SET c = ? WHERE c = ? AND d = ?", lite.Rebind(q))
	assert.Equal(t, "$2", pg.Placeholder(2))
	assert.Equal(t, "?", lite.Placeholder(2))
}

func TestTable(t *testing.T) {
	assert.Equal(t, `"acme"."_sc_files"`, Wrap(nil, Postgres).Table("acme", "_sc_files"))
	assert.Equal(t, `"_sc_files"`, Wrap(nil, SQLite).Table("acme", "_sc_files"))
	assert.Equal(t, `"we""ird"`, QuoteIdent(`we"ird`))
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestEnsureTenant_Postgres(t *testing.T) {
	conn, mock := newMock(t)
	defer conn.Close()
	db := Wrap(conn, Postgres)

	mock.ExpectExec(`(?s)^CREATE SCHEMA IF NOT EXISTS "acme"$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)^CREATE TABLE IF NOT EXISTS "acme"\."_sc_files"`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, db.EnsureTenant(context.Background(), "acme"))
	require.NoError(t, db.EnsureTenant(context.Background(), "acme"), "second call is cached")
	require.NoError(t, db.EnsureTenant(context.Background(), DefaultSchema))
	require.NoError(t, mock.ExpectationsWereMet())
}
