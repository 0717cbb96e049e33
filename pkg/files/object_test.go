package files

import (
	"context"
	"testing"

	"github.com/marmos91/tenantfs/internal/ratelimiter"
	"github.com/marmos91/tenantfs/pkg/pathutil"
	"github.com/marmos91/tenantfs/pkg/store/s3"
	"github.com/marmos91/tenantfs/pkg/store/s3/s3test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newObjectStore(t *testing.T, directLinks bool) (*Store, *s3test.Memory) {
	t.Helper()
	ctx := context.Background()

	mem := s3test.NewMemory("b")
	mem.PageSize = 2
	bucket, err := s3.New(ctx, s3.Config{
		Client:    mem,
		Presigner: s3test.Presigner{BaseURL: "https://signer.example"},
		Endpoint:  s3.NormalizeEndpoint("", "b", "r"),
	})
	require.NoError(t, err)

	m, err := NewManager(Config{
		Object:          bucket,
		DirectLinks:     directLinks,
		HeadConcurrency: 4,
		HeadLimiter:     ratelimiter.New(1000, 100),
	})
	require.NoError(t, err)
	assert.Equal(t, KindObject, m.Kind())

	s, err := m.Tenant(ctx, "public")
	require.NoError(t, err)
	return s, mem
}

func TestObjectStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s, mem := newObjectStore(t, false)

	uid := 9
	f, err := s.FromContents(ctx, "b.txt", "", []byte("hello"), &uid, 5, "a")
	require.NoError(t, err)
	assert.True(t, f.InObjectStore())
	_, hasID := f.ID()
	assert.False(t, hasID)
	require.NotNil(t, mem.Get("public/a/b.txt"))

	found, err := s.Find(ctx, Where{Folder: "a"}, FindOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b.txt", found[0].Filename)
	assert.Equal(t, 5, found[0].MinRoleRead)
	require.NotNil(t, found[0].UserID)
	assert.Equal(t, 9, *found[0].UserID)
	assert.Equal(t, "text", found[0].MimeSuper)
	assert.Equal(t, "plain", found[0].MimeSub)

	renamed, err := s.Rename(ctx, found[0], "c.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/c.txt", renamed.FieldValue())
	assert.Nil(t, mem.Get("public/a/b.txt"))
	assert.Equal(t, 5, renamed.MinRoleRead, "metadata travels with the copy")
	assert.Equal(t, "c.txt", renamed.Filename)

	require.NoError(t, s.SetRole(ctx, renamed, 1))
	got, err := s.FindOne(ctx, "a/c.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c.txt", got.Filename)
	assert.Equal(t, 1, got.MinRoleRead)
	require.NotNil(t, got.UserID)
	assert.Equal(t, 9, *got.UserID)

	data, err := s.ReadContents(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, s.OverwriteContents(ctx, got, []byte("bye")))
	data, err = s.ReadContents(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(data))

	gone, err := s.FindOne(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestObjectStoreFolders(t *testing.T) {
	ctx := context.Background()
	s, mem := newObjectStore(t, false)

	_, err := s.NewFolder(ctx, "empty", "")
	require.NoError(t, err)
	require.NotNil(t, mem.Get("public/empty/.keep"))
	for _, name := range []string{"x.png", "y.png", "z.png"} {
		_, err := s.FromContents(ctx, name, "image/png", []byte("png"), nil, 0, "pics")
		require.NoError(t, err)
	}
	_, err = s.FromContents(ctx, ".secret", "", []byte("s"), nil, 0, "")
	require.NoError(t, err)

	isDir := true
	dirs, err := s.Find(ctx, Where{IsDirectory: &isDir}, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "pics"}, names(dirs))

	images, err := s.Find(ctx, Where{MimeSuper: "image"}, FindOptions{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"pics/x.png", "pics/y.png", "pics/z.png"}, names(images))

	all, err := s.AllDirectories(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "", all[0].FieldValue())

	inDB, err := s.Find(ctx, Where{InDB: true}, FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, inDB)

	p, err := s.GetNewPath(ctx, "pics/x.png", true)
	require.NoError(t, err)
	assert.Equal(t, "pics/x_1.png", p)

	pics, err := s.FindOne(ctx, "pics")
	require.NoError(t, err)
	require.NotNil(t, pics)
	require.True(t, pics.IsDirectory)

	moved, err := s.MoveToDir(ctx, pics, "empty")
	require.NoError(t, err)
	assert.Equal(t, "empty/pics", moved.FieldValue())
	require.NotNil(t, mem.Get("public/empty/pics/y.png"))

	res := s.Delete(ctx, moved, nil)
	require.True(t, res.OK(), res.Error)
	assert.Nil(t, mem.Get("public/empty/pics/y.png"))
	assert.NotNil(t, mem.Get("public/empty/.keep"))
}

func TestObjectStoreDeleteRefusesTenantRoot(t *testing.T) {
	ctx := context.Background()
	s, mem := newObjectStore(t, false)

	_, err := s.FromContents(ctx, "a.txt", "", []byte("a"), nil, 0, "")
	require.NoError(t, err)
	_, err = s.FromContents(ctx, "b.txt", "", []byte("b"), nil, 0, "sub")
	require.NoError(t, err)

	dirs, err := s.AllDirectories(ctx, false)
	require.NoError(t, err)
	require.NotEmpty(t, dirs)
	require.Equal(t, "", dirs[0].FieldValue())

	res := s.Delete(ctx, &dirs[0], nil)
	assert.False(t, res.OK())
	assert.NotNil(t, mem.Get("public/a.txt"))
	assert.NotNil(t, mem.Get("public/sub/b.txt"))

	// The backend refuses too, for callers that bypass Store.
	err = s.backend.Delete(ctx, &dirs[0])
	assert.ErrorIs(t, err, errDeleteRoot)
	assert.NotNil(t, mem.Get("public/a.txt"))
}

func TestObjectStoreServeURL(t *testing.T) {
	ctx := context.Background()

	proxied, _ := newObjectStore(t, false)
	f, err := proxied.FromContents(ctx, "b.txt", "", []byte("x"), nil, 0, "a")
	require.NoError(t, err)
	u, err := proxied.ServeURL(ctx, f, pathutil.ServeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/files/serve/a/b.txt", u)

	direct, _ := newObjectStore(t, true)
	f, err = direct.FromContents(ctx, "b.txt", "", []byte("x"), nil, 0, "a")
	require.NoError(t, err)
	u, err = direct.ServeURL(ctx, f, pathutil.ServeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://b.s3.r.amazonaws.com/public/a/b.txt", u)

	// Public URLs map back to the object they name.
	got, err := direct.FindOne(ctx, u)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a/b.txt", got.FieldValue())
}

func TestObjectStoreBackendErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	s, mem := newObjectStore(t, false)
	_, err := s.FromContents(ctx, "b.txt", "", []byte("x"), nil, 0, "")
	require.NoError(t, err)

	mem.FailOn["HeadObject"] = assert.AnError
	_, err = s.Find(ctx, Where{}, FindOptions{})
	assert.ErrorIs(t, err, assert.AnError)
}
