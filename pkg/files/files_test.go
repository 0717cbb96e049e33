package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/marmos91/tenantfs/pkg/legacy"
	"github.com/marmos91/tenantfs/pkg/meta/sqlmeta"
	"github.com/marmos91/tenantfs/pkg/pathutil"
	"github.com/marmos91/tenantfs/pkg/refs"
	"github.com/marmos91/tenantfs/pkg/sqldb"
	"github.com/marmos91/tenantfs/pkg/store/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type localFixture struct {
	store *Store
	db    *sqldb.DB
	rows  *sqlmeta.Store
	root  string
}

func newLocalFixture(t *testing.T, configure ...func(*Config, *localFixture)) *localFixture {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqldb.Open(ctx, sqldb.SQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	fsRoot, err := local.New(ctx, t.TempDir())
	require.NoError(t, err)

	fx := &localFixture{db: db, rows: sqlmeta.New(db)}
	cfg := Config{
		Local:            fsRoot,
		Meta:             fx.rows,
		Rows:             fx.rows,
		Refs:             refs.NewRewriter(db, refs.SQLColumns{DB: db}),
		CacheDirectories: true,
	}
	for _, fn := range configure {
		fn(&cfg, fx)
	}

	m, err := NewManager(cfg)
	require.NoError(t, err)
	fx.store, err = m.Tenant(ctx, "public")
	require.NoError(t, err)
	fx.root = filepath.Join(fsRoot.Root(), "public")
	return fx
}

func (fx *localFixture) put(t *testing.T, folder, name, content string) *File {
	t.Helper()
	f, err := fx.store.FromContents(context.Background(), name, "", []byte(content), nil, 0, folder)
	require.NoError(t, err)
	return f
}

func (fx *localFixture) exec(t *testing.T, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := fx.db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

func names(files []*File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.FieldValue())
	}
	return out
}

func TestUploadedImageIsFoundByMimeType(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)

	data := make([]byte, 245752)
	copy(data, "\x89PNG\r\n\x1a\n")
	created, err := fx.store.FromContents(ctx, "rick.png", "image/png", data, nil, 10, "")
	require.NoError(t, err)
	_, hasID := created.ID()
	assert.True(t, hasID)

	found, err := fx.store.Find(ctx, Where{MimeSuper: "image"}, FindOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)

	f := found[0]
	assert.Equal(t, "rick.png", f.Filename)
	assert.Equal(t, int64(240), f.SizeKB)
	assert.Equal(t, "png", f.MimeSub)
	assert.Equal(t, 10, f.MinRoleRead)
	assert.True(t, f.IsImage())
	assert.Equal(t, "image/png", f.Mimetype())
	assert.False(t, f.InObjectStore())
}

func TestRenameThenFind(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	f := fx.put(t, "docs", "a.txt", "hello")

	renamed, err := fx.store.Rename(ctx, f, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "docs/b.txt", renamed.FieldValue())

	got, err := fx.store.FindOne(ctx, "docs/b.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b.txt", got.Filename)
	_, hasID := got.ID()
	assert.True(t, hasID, "metadata row follows the rename")

	old, err := fx.store.FindOne(ctx, "docs/a.txt")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestRenameRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	f := fx.put(t, "", "a.txt", "x")
	fx.put(t, "", "b.txt", "y")

	for _, name := range []string{"", "../x", "sub/x", `..\x`, "."} {
		_, err := fx.store.Rename(ctx, f, name)
		assert.ErrorIs(t, err, ErrNotFound, name)
	}

	_, err := fx.store.Rename(ctx, f, "b.txt")
	assert.ErrorIs(t, err, ErrExists)
}

func TestMoveToDirRewritesReferences(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	fx.exec(t,
		`CREATE TABLE posts (id INTEGER PRIMARY KEY, photo TEXT, note TEXT)`,
		`INSERT INTO posts (photo, note) VALUES ('a.png', 'a.png'), ('other.png', ''), ('a.png', '')`,
		`INSERT INTO _sc_tables (name) VALUES ('posts')`,
		`INSERT INTO _sc_fields (table_id, name, type) VALUES (1, 'photo', 'File'), (1, 'note', 'String')`,
	)

	f := fx.put(t, "", "a.png", "png")
	_, err := fx.store.NewFolder(ctx, "img", "")
	require.NoError(t, err)

	moved, err := fx.store.MoveToDir(ctx, f, "img")
	require.NoError(t, err)
	assert.Equal(t, "img/a.png", moved.FieldValue())

	rows, err := fx.db.QueryContext(ctx, `SELECT photo, note FROM posts ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var got [][2]string
	for rows.Next() {
		var p, n string
		require.NoError(t, rows.Scan(&p, &n))
		got = append(got, [2]string{p, n})
	}
	assert.Equal(t, [][2]string{
		{"img/a.png", "a.png"},
		{"other.png", ""},
		{"img/a.png", ""},
	}, got)

	_, ok, err := fx.rows.Get(ctx, "public", "img/a.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMoveToDirUndoesMoveWhenReferencesFail(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t, func(cfg *Config, fx *localFixture) {
		cfg.Refs = refs.NewRewriter(fx.db, refs.StaticColumns{{Table: "missing", Column: "c"}})
	})

	f := fx.put(t, "", "a.txt", "x")
	_, err := fx.store.NewFolder(ctx, "dst", "")
	require.NoError(t, err)

	_, err = fx.store.MoveToDir(ctx, f, "dst")
	require.Error(t, err)

	assert.FileExists(t, filepath.Join(fx.root, "a.txt"))
	assert.NoFileExists(t, filepath.Join(fx.root, "dst", "a.txt"))

	_, ok, err := fx.rows.Get(ctx, "public", "a.txt")
	require.NoError(t, err)
	assert.True(t, ok, "metadata row is moved back")
}

func TestMoveFolderIntoItself(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	dir, err := fx.store.NewFolder(ctx, "b", "a")
	require.NoError(t, err)
	parent, err := fx.store.FindOne(ctx, "a")
	require.NoError(t, err)

	_, err = fx.store.MoveToDir(ctx, parent, "a/b")
	assert.Error(t, err)

	_, err = fx.store.MoveToDir(ctx, dir, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMoveFolderMovesRowsBelow(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	fx.put(t, "a", "x.txt", "x")
	_, err := fx.store.NewFolder(ctx, "dst", "")
	require.NoError(t, err)

	dir, err := fx.store.FindOne(ctx, "a")
	require.NoError(t, err)
	require.True(t, dir.IsDirectory)

	moved, err := fx.store.MoveToDir(ctx, dir, "dst")
	require.NoError(t, err)
	assert.Equal(t, "dst/a", moved.FieldValue())

	_, ok, err := fx.rows.Get(ctx, "public", "dst/a/x.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetNewPath(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	fx.put(t, "", "report.pdf", "1")

	p, err := fx.store.GetNewPath(ctx, "report.pdf", true)
	require.NoError(t, err)
	assert.Equal(t, "report_1.pdf", p)

	fx.put(t, "", "report_1.pdf", "2")
	p, err = fx.store.GetNewPath(ctx, "report.pdf", true)
	require.NoError(t, err)
	assert.Equal(t, "report_2.pdf", p)

	p, err = fx.store.GetNewPath(ctx, "report.pdf", false)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", p)

	p, err = fx.store.GetNewPath(ctx, "", true)
	require.NoError(t, err)
	assert.Len(t, p, 36)

	p, err = fx.store.GetNewPath(ctx, "../../etc/passwd", true)
	require.NoError(t, err)
	assert.Equal(t, "etc/passwd", p)
}

func TestUploadKeepsBothFiles(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	fx.put(t, "", "notes.txt", "old")

	fh := multipartFile(t, "notes.txt", "text/plain", []byte("new"))
	f, err := fx.store.FromUpload(ctx, "", fh, UploadOptions{RenameIfExisting: true, MinRoleRead: 40})
	require.NoError(t, err)
	assert.Equal(t, "notes_1.txt", f.FieldValue())
	assert.Equal(t, 40, f.MinRoleRead)

	data, err := fx.store.ReadContents(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestDeleteFolderWithDerivatives(t *testing.T) {
	ctx := context.Background()

	for _, withThumb := range []bool{true, false} {
		t.Run(fmt.Sprintf("thumb=%v", withThumb), func(t *testing.T) {
			fx := newLocalFixture(t)
			fx.put(t, "photos", "photo.png", "png")
			if withThumb {
				require.NoError(t, os.WriteFile(filepath.Join(fx.root, "photos", "_resized_thumb.png"), []byte("t"), 0644))
			}

			dir, err := fx.store.FindOne(ctx, "photos")
			require.NoError(t, err)

			res := fx.store.Delete(ctx, dir, nil)
			assert.True(t, res.OK(), res.Error)
			assert.NoDirExists(t, filepath.Join(fx.root, "photos"))

			_, ok, err := fx.rows.Get(ctx, "public", "photos/photo.png")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDeleteFileRemovesDerivatives(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	f := fx.put(t, "", "photo.png", "png")
	fx.put(t, "", "other.png", "png")
	require.NoError(t, os.WriteFile(filepath.Join(fx.root, "_resized_100x100_photo.png"), []byte("t"), 0644))

	res := fx.store.Delete(ctx, f, nil)
	require.True(t, res.OK(), res.Error)

	assert.NoFileExists(t, filepath.Join(fx.root, "photo.png"))
	assert.NoFileExists(t, filepath.Join(fx.root, "_resized_100x100_photo.png"))
	assert.FileExists(t, filepath.Join(fx.root, "other.png"))
}

func TestDeleteReportsErrorsAndContinues(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	a := fx.put(t, "", "a.txt", "a")
	b := fx.put(t, "", "b.txt", "b")

	var seen []string
	u := UnlinkerFunc(func(_ context.Context, f *File) error {
		seen = append(seen, f.Filename)
		if f.Filename == "a.txt" {
			return fmt.Errorf("refused")
		}
		return nil
	})

	results := fx.store.DeleteMany(ctx, []*File{a, b, nil}, u)
	require.Len(t, results, 3)
	assert.Equal(t, "refused", results[0].Error)
	assert.True(t, results[1].OK())
	assert.False(t, results[2].OK())
	assert.Equal(t, []string{"a.txt", "b.txt"}, seen)

	assert.FileExists(t, filepath.Join(fx.root, "b.txt"), "custom unlinker replaces removal")

	// Rows go before the unlinker runs, whatever it does.
	for _, rel := range []string{"a.txt", "b.txt"} {
		_, ok, err := fx.rows.Get(ctx, "public", rel)
		require.NoError(t, err)
		assert.False(t, ok, rel)
	}
}

func TestFindOneReportsRecordedMime(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)

	_, err := fx.store.FromContents(ctx, "notes", "application/vnd.saltcorn+json", []byte("plain words"), nil, 0, "")
	require.NoError(t, err)

	got, err := fx.store.FindOne(ctx, "notes")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "application", got.MimeSuper)
	assert.Equal(t, "vnd.saltcorn+json", got.MimeSub)

	// Files without a row fall back to sniffing the content.
	require.NoError(t, os.WriteFile(filepath.Join(fx.root, "loose"), []byte("plain words"), 0644))
	loose, err := fx.store.FindOne(ctx, "loose")
	require.NoError(t, err)
	require.NotNil(t, loose)
	assert.Equal(t, "text", loose.MimeSuper)
	assert.Equal(t, "plain", loose.MimeSub)
}

func TestDeleteRefusesTenantRoot(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	fx.put(t, "", "a.txt", "a")
	fx.put(t, "sub", "b.txt", "b")

	dirs, err := fx.store.AllDirectories(ctx, false)
	require.NoError(t, err)
	require.NotEmpty(t, dirs)
	root := dirs[0]
	require.Equal(t, "", root.FieldValue())

	res := fx.store.Delete(ctx, &root, nil)
	assert.False(t, res.OK())
	assert.Contains(t, res.Error, "tenant root")

	assert.FileExists(t, filepath.Join(fx.root, "a.txt"))
	assert.FileExists(t, filepath.Join(fx.root, "sub", "b.txt"))
	_, ok, err := fx.rows.Get(ctx, "public", "sub/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFindFilters(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	fx.put(t, "", "cat.png", "png")
	fx.put(t, "", "notes.txt", "txt")
	fx.put(t, "deep/er", "catalog.pdf", "pdf")
	require.NoError(t, os.WriteFile(filepath.Join(fx.root, ".hidden"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.root, "_resized_cat.png"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(fx.root, "disk-only.txt"), nil, 0644))

	all, err := fx.store.Find(ctx, Where{}, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cat.png", "deep", "disk-only.txt", "notes.txt"}, names(all))

	search, err := fx.store.Find(ctx, Where{Search: "CAT"}, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cat.png", "deep/er/catalog.pdf"}, names(search))

	isDir := true
	dirs, err := fx.store.Find(ctx, Where{IsDirectory: &isDir}, FindOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"deep", "deep/er"}, names(dirs))

	inDB, err := fx.store.Find(ctx, Where{InDB: true}, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"cat.png", "notes.txt"}, names(inDB))

	exact, err := fx.store.Find(ctx, Where{Filename: "notes.txt", MimeSub: "plain"}, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, names(exact))

	limited, err := fx.store.Find(ctx, Where{}, FindOptions{Limit: 1, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, names(limited))

	missing, err := fx.store.Find(ctx, Where{Folder: "nope"}, FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFindOne(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t, func(cfg *Config, fx *localFixture) {
		cfg.Legacy = legacy.Chain{
			legacy.MapResolver{7: "docs/a.txt"},
			legacy.RowResolver{Rows: fx.rows},
		}
	})
	a := fx.put(t, "docs", "a.txt", "a")
	b := fx.put(t, "", "b.txt", "b")
	fx.put(t, "", "42", "literal")

	got, err := fx.store.FindOne(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.FieldValue(), got.FieldValue())

	id, ok := b.ID()
	require.True(t, ok)
	got, err = fx.store.FindOne(ctx, strconv.FormatInt(id, 10))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b.txt", got.FieldValue())

	got, err = fx.store.FindOne(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, got, "unmapped numbers are literal paths")
	assert.Equal(t, "42", got.Filename)

	for _, v := range []string{"../../../etc/passwd", "/docs/../../b.txt/..", "https://elsewhere.example/x.png", ""} {
		got, err := fx.store.FindOne(ctx, v)
		require.NoError(t, err, v)
		assert.Nil(t, got, v)
	}

	got, err = fx.store.FindOne(ctx, `\docs\a.txt`)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "docs/a.txt", got.FieldValue())
}

func TestSetRoleAndUser(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	f := fx.put(t, "", "a.txt", "a")

	require.NoError(t, fx.store.SetRole(ctx, f, 1))
	uid := 5
	require.NoError(t, fx.store.SetUser(ctx, f, &uid))

	got, err := fx.store.FindOne(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MinRoleRead)
	require.NotNil(t, got.UserID)
	assert.Equal(t, 5, *got.UserID)
	assert.True(t, got.CanRead(1))
	assert.False(t, got.CanRead(2))

	require.NoError(t, fx.store.SetUser(ctx, got, nil))
	got, err = fx.store.FindOne(ctx, "a.txt")
	require.NoError(t, err)
	assert.Nil(t, got.UserID)
}

func TestOverwriteContentsKeepsRecord(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	f, err := fx.store.FromContents(ctx, "a.txt", "", []byte("short"), nil, 3, "")
	require.NoError(t, err)
	id, _ := f.ID()

	big := strings.Repeat("x", 4096)
	require.NoError(t, fx.store.OverwriteContents(ctx, f, []byte(big)))
	assert.Equal(t, int64(4), f.SizeKB)

	got, err := fx.store.FindOne(ctx, "a.txt")
	require.NoError(t, err)
	gotID, _ := got.ID()
	assert.Equal(t, id, gotID)
	assert.Equal(t, 3, got.MinRoleRead)

	data, err := fx.store.ReadContents(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, big, string(data))

	row, ok, err := fx.rows.Get(ctx, "public", "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), row.SizeKB)
}

func TestAllDirectoriesUsesCache(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	_, err := fx.store.NewFolder(ctx, "b", "a")
	require.NoError(t, err)

	rels := func(dirs []File) []string {
		out := make([]string, 0, len(dirs))
		for _, d := range dirs {
			out = append(out, d.FieldValue())
		}
		return out
	}

	dirs, err := fx.store.AllDirectories(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "a", "a/b"}, rels(dirs))

	require.NoError(t, os.Mkdir(filepath.Join(fx.root, "c"), 0755))

	dirs, err = fx.store.AllDirectories(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "a", "a/b"}, rels(dirs), "served from cache")

	dirs, err = fx.store.AllDirectories(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "a", "a/b", "c"}, rels(dirs))

	_, err = fx.store.NewFolder(ctx, "d", "")
	require.NoError(t, err)
	dirs, err = fx.store.AllDirectories(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "a", "a/b", "c", "d"}, rels(dirs))
}

func TestServeURL(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t)
	f := fx.put(t, "my docs", "a b.txt", "x")

	u, err := fx.store.ServeURL(ctx, f, pathutil.ServeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/files/serve/my%20docs/a%20b.txt", u)

	u, err = fx.store.ServeURL(ctx, f, pathutil.ServeOptions{Download: true})
	require.NoError(t, err)
	assert.Equal(t, "/files/download/my%20docs/a%20b.txt", u)

	u, err = fx.store.PathToServeURL(ctx, "https://cdn.example/x.png", false)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/x.png", u)
}

func TestXattrOnlyDeployment(t *testing.T) {
	ctx := context.Background()
	fx := newLocalFixture(t, func(cfg *Config, _ *localFixture) {
		cfg.Meta = nil
		cfg.Rows = nil
		cfg.Refs = nil
	})

	f := fx.put(t, "", "a.txt", "a")
	_, hasID := f.ID()
	assert.False(t, hasID)

	inDB, err := fx.store.Find(ctx, Where{InDB: true}, FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, inDB, "no database, no rows")

	renamed, err := fx.store.Rename(ctx, f, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", renamed.FieldValue())
}

func TestManagerTenants(t *testing.T) {
	ctx := context.Background()
	_, err := NewManager(Config{})
	assert.Error(t, err)

	fsRoot, err := local.New(ctx, t.TempDir())
	require.NoError(t, err)
	m, err := NewManager(Config{Local: fsRoot})
	require.NoError(t, err)
	assert.Equal(t, KindLocal, m.Kind())

	for _, bad := range []string{"", "..", "a/b", `a\b`, "./x"} {
		_, err := m.Tenant(ctx, bad)
		assert.Error(t, err, bad)
	}

	a, err := m.Tenant(ctx, "acme")
	require.NoError(t, err)
	again, err := m.Tenant(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.DirExists(t, filepath.Join(fsRoot.Root(), "acme"))

	m.RemoveTenant("acme")
	fresh, err := m.Tenant(ctx, "acme")
	require.NoError(t, err)
	assert.NotSame(t, a, fresh)
}
