package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	name  string
	attrs map[string]Attributes
}

func (m *mapStore) Name() string { return m.name }
func (m *mapStore) Load(_ context.Context, _, rel string) (Attributes, bool, error) {
	a, ok := m.attrs[rel]
	if !ok {
		return Attributes{MinRoleRead: DefaultMinRoleRead}, false, nil
	}
	return a, true, nil
}
func (m *mapStore) Create(context.Context, string, string, Record) (Attributes, error) {
	return Attributes{}, nil
}
func (m *mapStore) SetRole(context.Context, string, string, int) error          { return nil }
func (m *mapStore) SetUser(context.Context, string, string, *int) error         { return nil }
func (m *mapStore) Rename(context.Context, string, string, string, bool) error  { return nil }
func (m *mapStore) Delete(context.Context, string, string, bool) error          { return nil }

func TestSelect(t *testing.T) {
	ctx := context.Background()
	id := int64(7)
	primary := &mapStore{name: "db", attrs: map[string]Attributes{"a.png": {ID: &id, MinRoleRead: 10}}}
	fallback := &mapStore{name: "xattr", attrs: map[string]Attributes{"b.png": {MinRoleRead: 40}}}

	store, attrs, err := Select(ctx, primary, fallback, "public", "a.png")
	require.NoError(t, err)
	assert.Equal(t, "db", store.Name())
	assert.Equal(t, 10, attrs.MinRoleRead)

	store, attrs, err = Select(ctx, primary, fallback, "public", "b.png")
	require.NoError(t, err)
	assert.Equal(t, "xattr", store.Name())
	assert.Equal(t, 40, attrs.MinRoleRead)

	store, attrs, err = Select(ctx, nil, fallback, "public", "c.png")
	require.NoError(t, err)
	assert.Equal(t, "xattr", store.Name())
	assert.Equal(t, DefaultMinRoleRead, attrs.MinRoleRead)
}

func TestIsUnder(t *testing.T) {
	assert.True(t, IsUnder("a/b", "a"))
	assert.True(t, IsUnder("a", "a"))
	assert.True(t, IsUnder("x", ""))
	assert.False(t, IsUnder("ab/c", "a"))
	assert.False(t, IsUnder("a", "a/b"))
}
