package sqlmeta

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/sqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.SQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	return New(db)
}

func TestCreateLoadUpdate(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	_, found, err := s.Load(ctx, "public", "rick.png")
	require.NoError(t, err)
	assert.False(t, found)

	user := 3
	attrs, err := s.Create(ctx, "public", "img/rick.png", meta.Record{
		MimeSuper: "image", MimeSub: "png", SizeKB: 240,
		UploadedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), UserID: &user, MinRoleRead: 10,
	})
	require.NoError(t, err)
	require.NotNil(t, attrs.ID)

	row, found, err := s.Get(ctx, "public", "img/rick.png")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "rick.png", row.Filename)
	assert.Equal(t, int64(240), row.SizeKB)
	assert.Equal(t, 10, row.MinRoleRead)
	require.NotNil(t, row.UserID)
	assert.Equal(t, 3, *row.UserID)

	require.NoError(t, s.SetRole(ctx, "public", "img/rick.png", 1))
	require.NoError(t, s.SetUser(ctx, "public", "img/rick.png", nil))

	loaded, found, err := s.Load(ctx, "public", "img/rick.png")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, loaded.MinRoleRead)
	assert.Nil(t, loaded.UserID)
	assert.Equal(t, *attrs.ID, *loaded.ID)
	assert.Equal(t, "image", loaded.MimeSuper)
	assert.Equal(t, "png", loaded.MimeSub)

	byID, found, err := s.GetByID(ctx, "public", *attrs.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "img/rick.png", byID.Location)

	err = s.SetRole(ctx, "public", "missing.png", 1)
	assert.ErrorIs(t, err, meta.ErrNotFound)
}

func TestRenameDirectoryMovesChildrenOnly(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	for _, loc := range []string{"docs/a.pdf", "docs/sub/b.pdf", "docsextra/c.pdf", "d.pdf"} {
		_, err := s.Create(ctx, "public", loc, meta.Record{MinRoleRead: 100})
		require.NoError(t, err)
	}

	require.NoError(t, s.Rename(ctx, "public", "docs", "archive/docs", true))
	require.NoError(t, s.Rename(ctx, "public", "d.pdf", "e.pdf", false))

	rows, err := s.List(ctx, "public", "")
	require.NoError(t, err)

	var locs []string
	for _, r := range rows {
		locs = append(locs, r.Location)
	}
	assert.Equal(t, []string{"archive/docs/a.pdf", "archive/docs/sub/b.pdf", "docsextra/c.pdf", "e.pdf"}, locs)

	renamed, _, err := s.Get(ctx, "public", "e.pdf")
	require.NoError(t, err)
	assert.Equal(t, "e.pdf", renamed.Filename)

	below, err := s.List(ctx, "public", "archive")
	require.NoError(t, err)
	assert.Len(t, below, 2)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)

	for _, loc := range []string{"tmp/a", "tmp/b/c", "tmpx", "keep"} {
		_, err := s.Create(ctx, "public", loc, meta.Record{})
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, "public", "tmp", true))
	require.NoError(t, s.Delete(ctx, "public", "keep", false))
	require.NoError(t, s.Delete(ctx, "public", "never-existed", false))

	rows, err := s.List(ctx, "public", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tmpx", rows[0].Location)
}

func TestPostgresQueriesAreSchemaQualified(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer conn.Close()

	s := New(sqldb.Wrap(conn, sqldb.Postgres))

	mock.ExpectExec(`^CREATE SCHEMA IF NOT EXISTS "acme"$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^CREATE TABLE IF NOT EXISTS "acme"\."_sc_files"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^UPDATE "acme"\."_sc_files" SET min_role_read = \$1 WHERE location = \$2$`).
		WithArgs(5, "a.png").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^UPDATE "acme"\."_sc_files" SET location = CAST\(\$1 AS TEXT\) \|\| substr\(location, \$2\) WHERE substr\(location, 1, \$3\) = \$4$`).
		WithArgs("new/", 5, 4, "old/").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.SetRole(context.Background(), "acme", "a.png", 5))
	require.NoError(t, s.Rename(context.Background(), "acme", "old", "new", true))
	require.NoError(t, mock.ExpectationsWereMet())
}
