package badgermeta

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/tenantfs/pkg/kvstore"
	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	db, err := kvstore.Open(context.Background(), kvstore.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, found, err := s.Load(ctx, "public", "a.png")
	require.NoError(t, err)
	assert.False(t, found)

	user := 9
	_, err = s.Create(ctx, "public", "a.png", meta.Record{MinRoleRead: 40, UserID: &user, UploadedAt: time.Now()})
	require.NoError(t, err)

	attrs, found, err := s.Load(ctx, "public", "a.png")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 40, attrs.MinRoleRead)
	assert.Nil(t, attrs.ID, "badger records have no numeric id")

	_, found, err = s.Load(ctx, "other", "a.png")
	require.NoError(t, err)
	assert.False(t, found, "tenants are isolated")

	require.NoError(t, s.SetRole(ctx, "public", "a.png", 1))
	require.NoError(t, s.SetUser(ctx, "public", "a.png", nil))

	attrs, _, err = s.Load(ctx, "public", "a.png")
	require.NoError(t, err)
	assert.Equal(t, 1, attrs.MinRoleRead)
	assert.Nil(t, attrs.UserID)

	assert.ErrorIs(t, s.SetRole(ctx, "public", "missing", 1), meta.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "public", "a.png", false))
	_, found, err = s.Load(ctx, "public", "a.png")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRenameDirectory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, rel := range []string{"docs/a.pdf", "docs/sub/b.pdf", "docsx/c.pdf"} {
		_, err := s.Create(ctx, "public", rel, meta.Record{MinRoleRead: 7})
		require.NoError(t, err)
	}

	require.NoError(t, s.Rename(ctx, "public", "docs", "old/docs", true))

	for rel, want := range map[string]bool{
		"old/docs/a.pdf":     true,
		"old/docs/sub/b.pdf": true,
		"docs/a.pdf":         false,
		"docsx/c.pdf":        true,
	} {
		_, found, err := s.Load(ctx, "public", rel)
		require.NoError(t, err)
		assert.Equal(t, want, found, rel)
	}

	require.NoError(t, s.Delete(ctx, "public", "old", true))
	_, found, err := s.Load(ctx, "public", "old/docs/sub/b.pdf")
	require.NoError(t, err)
	assert.False(t, found)
}
