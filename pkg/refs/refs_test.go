package refs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/marmos91/tenantfs/pkg/sqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqldb.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return sqldb.Wrap(conn, sqldb.Postgres), mock
}

func TestUpdateReferences_File(t *testing.T) {
	db, mock := newMockDB(t)
	rw := NewRewriter(db, StaticColumns{{Table: "posts", Column: "photo"}, {Table: "users", Column: "avatar"}})

	mock.ExpectBegin()
	mock.ExpectExec(`^UPDATE "acme"\."posts" SET "photo" = \$1 WHERE "photo" = \$2$`).
		WithArgs("new/a.png", "a.png").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`^UPDATE "acme"\."users" SET "avatar" = \$1 WHERE "avatar" = \$2$`).
		WithArgs("new/a.png", "a.png").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := rw.UpdateReferences(context.Background(), "acme", "a.png", "new/a.png", false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReferences_DirectoryUsesPrefix(t *testing.T) {
	db, mock := newMockDB(t)
	rw := NewRewriter(db, StaticColumns{{Table: "posts", Column: "photo"}})

	mock.ExpectBegin()
	mock.ExpectExec(`^UPDATE "acme"\."posts" SET "photo" = CAST\(\$1 AS TEXT\) \|\| substr\("photo", \$2\) WHERE substr\("photo", 1, \$3\) = \$4$`).
		WithArgs("archive/img/", 5, 4, "img/").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	n, err := rw.UpdateReferences(context.Background(), "acme", "img", "archive/img", true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReferences_FailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	rw := NewRewriter(db, StaticColumns{{Table: "a", Column: "f"}, {Table: "b", Column: "f"}})

	mock.ExpectBegin()
	mock.ExpectExec(`^UPDATE "acme"\."a"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^UPDATE "acme"\."b"`).WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	_, err := rw.UpdateReferences(context.Background(), "acme", "x", "y", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateReferences_NoOps(t *testing.T) {
	db, mock := newMockDB(t)

	n, err := NewRewriter(db, StaticColumns{{Table: "a", Column: "f"}}).
		UpdateReferences(context.Background(), "acme", "same", "same", false)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = NewRewriter(db, StaticColumns{}).
		UpdateReferences(context.Background(), "acme", "x", "y", false)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, mock.ExpectationsWereMet(), "no statement may run")
}

func TestSQLColumns(t *testing.T) {
	db, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"name", "name"}).
		AddRow("posts", "photo").
		AddRow("users", "avatar")
	mock.ExpectQuery(`^SELECT t\.name, f\.name FROM "acme"\."_sc_fields" f JOIN "acme"\."_sc_tables" t ON t\.id = f\.table_id WHERE f\.type = \$1`).
		WithArgs("File").
		WillReturnRows(rows)

	cols, err := SQLColumns{DB: db}.FileColumns(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, []Column{{"posts", "photo"}, {"users", "avatar"}}, cols)
}

// TestUpdateReferences_SQLite runs the real statements and checks that
// unrelated rows are untouched.
func TestUpdateReferences_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := sqldb.Open(ctx, sqldb.SQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	for _, stmt := range []string{
		`CREATE TABLE posts (id INTEGER PRIMARY KEY, photo TEXT, caption TEXT)`,
		`INSERT INTO posts (photo, caption) VALUES ('img/a.png', 'img/a.png'), ('img/sub/b.png', ''), ('imgx/c.png', ''), ('z.png', '')`,
		`INSERT INTO _sc_tables (name) VALUES ('posts')`,
		`INSERT INTO _sc_fields (table_id, name, type) VALUES (1, 'photo', 'File'), (1, 'caption', 'String')`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	rw := NewRewriter(db, SQLColumns{DB: db})

	n, err := rw.UpdateReferences(ctx, "public", "img", "archive/img", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = rw.UpdateReferences(ctx, "public", "z.png", "y.png", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := db.QueryContext(ctx, `SELECT photo, caption FROM posts ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var got [][2]string
	for rows.Next() {
		var p, c string
		require.NoError(t, rows.Scan(&p, &c))
		got = append(got, [2]string{p, c})
	}
	assert.Equal(t, [][2]string{
		{"archive/img/a.png", "img/a.png"},
		{"archive/img/sub/b.png", ""},
		{"imgx/c.png", ""},
		{"y.png", ""},
	}, got)
}
