package gc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/tenantfs/pkg/meta"
	"github.com/marmos91/tenantfs/pkg/meta/sqlmeta"
	"github.com/marmos91/tenantfs/pkg/sqldb"
	"github.com/marmos91/tenantfs/pkg/store/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	root   *local.Store
	rows   *sqlmeta.Store
	tenant string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	root, err := local.New(ctx, t.TempDir())
	require.NoError(t, err)

	db, err := sqldb.Open(ctx, sqldb.SQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	fx := &fixture{root: root, rows: sqlmeta.New(db), tenant: "public"}

	for _, rel := range []string{
		"a.png",
		"_resized_200x_a.png",
		"_resized_200x_gone.png",
		"img/_resized_64x_b.png",
		"img/c.png",
	} {
		fx.write(t, rel)
	}
	for _, rel := range []string{"a.png", "img/c.png", "missing.pdf"} {
		_, err := fx.rows.Create(ctx, fx.tenant, rel, meta.Record{MinRoleRead: meta.DefaultMinRoleRead})
		require.NoError(t, err)
	}
	return fx
}

func (fx *fixture) path(rel string) string {
	return filepath.Join(fx.root.Root(), fx.tenant, filepath.FromSlash(rel))
}

func (fx *fixture) write(t *testing.T, rel string) {
	t.Helper()
	p := fx.path(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(rel), 0644))
}

func TestNewCollectorRequiresLocalRoot(t *testing.T) {
	_, err := NewCollector(nil, nil, []string{"public"}, Config{})
	assert.Error(t, err)
}

func TestRunNowDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	c, err := NewCollector(fx.root, fx.rows, []string{fx.tenant}, Config{DryRun: true})
	require.NoError(t, err)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tenants)
	assert.Equal(t, 2, stats.OrphanedDerivatives)
	assert.Equal(t, 1, stats.OrphanedRows)
	assert.Zero(t, stats.DeletedCount)

	assert.FileExists(t, fx.path("_resized_200x_gone.png"))
	_, found, err := fx.rows.Get(ctx, fx.tenant, "missing.pdf")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRunNowRemovesOrphans(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	c, err := NewCollector(fx.root, fx.rows, []string{fx.tenant}, Config{})
	require.NoError(t, err)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DeletedCount)
	assert.Zero(t, stats.FailedCount)
	assert.Contains(t, stats.Summary(), "deleted=3")

	assert.FileExists(t, fx.path("a.png"))
	assert.FileExists(t, fx.path("_resized_200x_a.png"))
	assert.FileExists(t, fx.path("img/c.png"))
	assert.NoFileExists(t, fx.path("_resized_200x_gone.png"))
	assert.NoFileExists(t, fx.path("img/_resized_64x_b.png"))

	_, found, err := fx.rows.Get(ctx, fx.tenant, "missing.pdf")
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = fx.rows.Get(ctx, fx.tenant, "img/c.png")
	require.NoError(t, err)
	assert.True(t, found)

	again, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.OrphanedDerivatives+again.OrphanedRows)
}

func TestRunNowWithoutRows(t *testing.T) {
	fx := newFixture(t)

	c, err := NewCollector(fx.root, nil, []string{fx.tenant}, Config{})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OrphanedDerivatives)
	assert.Zero(t, stats.OrphanedRows)
}

func TestStartStop(t *testing.T) {
	fx := newFixture(t)

	disabled, err := NewCollector(fx.root, fx.rows, []string{fx.tenant}, Config{})
	require.NoError(t, err)
	disabled.Start()
	require.NoError(t, disabled.Stop(context.Background()))

	c, err := NewCollector(fx.root, fx.rows, []string{fx.tenant}, Config{Enabled: true, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	c.Start()
	c.Start()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(fx.path("_resized_200x_gone.png"))
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}
