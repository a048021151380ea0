package capable

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugin"
	"github.com/dpup/capable/plugins/caps"
	"github.com/dpup/capable/plugins/content"
	"github.com/dpup/capable/plugins/eventbus"
	"github.com/dpup/capable/plugins/storage"
	"github.com/dpup/capable/plugins/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testSite int64 = 1

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	withConfig(t)
	core, _ := observer.New(zap.InfoLevel)
	opts = append([]Option{WithStore(memstore.New()), WithLogger(logging.FromZap(core))}, opts...)
	e, err := New(t.Context(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestEngine_endToEnd(t *testing.T) {
	e := newTestEngine(t)
	ctx := e.Context()

	require.NoError(t, e.Roles.Populate(ctx, testSite))
	require.NoError(t, e.Content.Save(ctx,
		content.User{ID: 1, Login: "ed"},
		content.User{ID: 2, Login: "amy"},
		content.Post{Site: testSite, ID: 10, Type: content.TypePost, Status: content.StatusPublish, Author: 2},
	))
	require.NoError(t, e.Users.SetRole(ctx, testSite, 1, caps.RoleEditor))
	require.NoError(t, e.Users.SetRole(ctx, testSite, 2, caps.RoleContributor))

	assert.True(t, e.Checker.UserCan(ctx, testSite, 1, "edit_post", caps.On(10)))
	assert.False(t, e.Checker.UserCan(ctx, testSite, 2, "edit_post", caps.On(10)), "contributors cannot edit published posts")
	assert.True(t, e.Checker.UserCan(ctx, testSite, 2, "read", caps.Args{}))

	role, err := e.Options.String(ctx, testSite, "default_role", "")
	require.NoError(t, err)
	assert.Equal(t, caps.RoleSubscriber, role)
}

func TestEngine_settings(t *testing.T) {
	s := caps.DefaultSettings()
	s.DisallowFileMods = true
	e := newTestEngine(t, WithSettings(s))
	ctx := e.Context()

	require.NoError(t, e.Roles.Populate(ctx, testSite))
	require.NoError(t, e.Users.SetRole(ctx, testSite, 1, caps.RoleAdministrator))

	assert.True(t, e.Checker.UserCan(ctx, testSite, 1, "manage_options", caps.Args{}))
	assert.False(t, e.Checker.UserCan(ctx, testSite, 1, "install_plugins", caps.Args{}))
}

func TestEngine_auditLogger(t *testing.T) {
	var (
		mu        sync.Mutex
		decisions []caps.Decision
	)
	e := newTestEngine(t, WithAuditLogger(func(_ context.Context, d caps.Decision) {
		mu.Lock()
		defer mu.Unlock()
		decisions = append(decisions, d)
	}))
	ctx := e.Context()
	require.NoError(t, e.Roles.Populate(ctx, testSite))

	d, err := e.Checker.Check(ctx, testSite, 1, "edit_posts", caps.Args{})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, decisions, 1)
	assert.Equal(t, "edit_posts", decisions[0].Cap)
}

type recorder struct {
	initialized bool
}

func (r *recorder) Name() string   { return "recorder" }
func (r *recorder) Deps() []string { return []string{caps.PluginName} }
func (r *recorder) Init(ctx context.Context, reg *plugin.Registry) error {
	_, err := plugin.Lookup[*caps.CapsPlugin](reg, caps.PluginName)
	r.initialized = err == nil
	return err
}

func TestEngine_withPlugin(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(t, WithPlugin(rec))

	assert.True(t, rec.initialized)
	assert.Same(t, rec, e.Plugins().Get("recorder"))
}

func TestEngine_roleEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := e.Context()

	var (
		mu     sync.Mutex
		events []caps.RoleEvent
	)
	e.Bus.Subscribe(caps.TopicRoleAdded, func(_ context.Context, msg *eventbus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, msg.Data.(caps.RoleEvent))
		return nil
	})

	_, err := e.Roles.AddRole(ctx, testSite, "reviewer", "Reviewer", map[string]bool{"read": true})
	require.NoError(t, err)
	require.NoError(t, e.Bus.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "reviewer", events[0].Role)
}

func TestOpenStore(t *testing.T) {
	withConfig(t)

	s, err := OpenStore(t.Context())
	require.NoError(t, err)
	assert.NotNil(t, s)

	LoadConfigDefaults(map[string]any{
		"storage.driver": DriverSQLite,
		"storage.dsn":    filepath.Join(t.TempDir(), "caps.db"),
	})
	s, err = OpenStore(t.Context())
	require.NoError(t, err)
	require.NoError(t, s.(interface{ Close() error }).Close())

	LoadConfigDefaults(map[string]any{"storage.driver": "mongo"})
	_, err = OpenStore(t.Context())
	assert.ErrorIs(t, err, ErrUnknownDriver)
	assert.Contains(t, err.Error(), "mongo")
}

func TestNew_storeError(t *testing.T) {
	withConfig(t)
	LoadConfigDefaults(map[string]any{"storage.driver": "mongo"})

	_, err := New(t.Context(), WithLogger(logging.NewNopLogger()))
	assert.True(t, errors.Is(err, ErrUnknownDriver))
}

type closingStore struct {
	storage.Store
	closed bool
}

func (s *closingStore) Close() error {
	s.closed = true
	return nil
}

type brokenPlugin struct{}

func (brokenPlugin) Name() string { return "broken" }
func (brokenPlugin) Init(context.Context, *plugin.Registry) error {
	return errors.New("broken plugin")
}

func TestNew_initErrorClosesOpenedStore(t *testing.T) {
	withConfig(t)
	opened := &closingStore{Store: memstore.New()}
	old := openStore
	openStore = func(context.Context) (storage.Store, error) { return opened, nil }
	t.Cleanup(func() { openStore = old })

	_, err := New(t.Context(), WithLogger(logging.NewNopLogger()), WithPlugin(brokenPlugin{}))
	require.Error(t, err)
	assert.True(t, opened.closed, "store opened by New is closed on failure")

	given := &closingStore{Store: memstore.New()}
	_, err = New(t.Context(), WithStore(given), WithLogger(logging.NewNopLogger()), WithPlugin(brokenPlugin{}))
	require.Error(t, err)
	assert.False(t, given.closed, "caller's store is left open")
}
