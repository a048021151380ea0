package options

import (
	"context"
	"testing"

	"github.com/dpup/capable/plugin"
	"github.com/dpup/capable/plugins/storage"
	"github.com/dpup/capable/plugins/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	o := New(memstore.New())

	role, err := o.String(ctx, 1, DefaultRole, "subscriber")
	require.NoError(t, err)
	assert.Equal(t, "subscriber", role, "unset option returns the default")

	require.NoError(t, o.Set(ctx, 1, DefaultRole, "author"))
	role, err = o.String(ctx, 1, DefaultRole, "subscriber")
	require.NoError(t, err)
	assert.Equal(t, "author", role)

	role, err = o.String(ctx, 2, DefaultRole, "subscriber")
	require.NoError(t, err)
	assert.Equal(t, "subscriber", role, "options are scoped to a site")

	require.NoError(t, o.Delete(ctx, 1, DefaultRole))
	require.NoError(t, o.Delete(ctx, 1, DefaultRole), "deleting twice is fine")
	ok, err := o.Get(ctx, 1, DefaultRole, new(string))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTypedAccessors(t *testing.T) {
	ctx := context.Background()
	o := New(memstore.New())

	require.NoError(t, o.Set(ctx, 1, PageOnFront, 42))
	require.NoError(t, o.Set(ctx, 1, LinkManagerEnabled, true))
	require.NoError(t, o.Set(ctx, Network, SiteAdmins, []string{"admin", "ops"}))
	require.NoError(t, o.Set(ctx, Network, MenuItems, map[string]bool{"plugins": true}))

	front, err := o.Int64(ctx, 1, PageOnFront, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), front)

	posts, err := o.Int64(ctx, 1, PageForPosts, 0)
	require.NoError(t, err)
	assert.Zero(t, posts)

	links, err := o.Bool(ctx, 1, LinkManagerEnabled)
	require.NoError(t, err)
	assert.True(t, links)

	admins, err := o.Strings(ctx, Network, SiteAdmins)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "ops"}, admins)

	items, err := o.Flags(ctx, Network, MenuItems)
	require.NoError(t, err)
	assert.True(t, items["plugins"])
}

func TestInvalidValue(t *testing.T) {
	ctx := context.Background()
	o := New(memstore.New())

	require.NoError(t, o.Set(ctx, 1, PageOnFront, "not a number"))
	_, err := o.Int64(ctx, 1, PageOnFront, 0)
	require.ErrorIs(t, err, ErrInvalidValue)

	require.ErrorIs(t, o.Set(ctx, 1, "bad", make(chan int)), ErrInvalidValue)
}

func TestDefaultTermKeys(t *testing.T) {
	assert.Equal(t, []string{"default_category", "default_term_category"}, DefaultTermKeys("category"))
}

func TestPluginInit(t *testing.T) {
	r := &plugin.Registry{}
	r.Register(storage.Plugin(memstore.New()))
	p := Plugin()
	r.Register(p)
	require.NoError(t, r.Init(context.Background()))

	require.NoError(t, p.Set(context.Background(), 1, DefaultRole, "editor"))
	role, err := p.String(context.Background(), 1, DefaultRole, "")
	require.NoError(t, err)
	assert.Equal(t, "editor", role)
}
