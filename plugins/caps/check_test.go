package caps

import (
	"context"
	"maps"
	"slices"
	"testing"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/content"
	"github.com/dpup/capable/plugins/options"
	"github.com/dpup/capable/plugins/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
)

func TestEditorEditsOthersPublishedPost(t *testing.T) {
	f := newFixture(t, DefaultSettings())

	d, err := f.caps.Checker.Check(f.ctx, site, editor, "edit_post", On(publishedPost))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"edit_others_posts", "edit_published_posts"}, d.Required)
	assert.Empty(t, d.Missing)
	assert.Equal(t, "granted", d.Reason)

	d, err = f.caps.Checker.Check(f.ctx, site, contributor, "edit_post", On(publishedPost))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, []string{"edit_others_posts", "edit_published_posts"}, d.Missing)
}

func TestCanMatchesRoleUnion(t *testing.T) {
	f := newFixture(t, DefaultSettings())
	ctx := f.ctx

	_, err := f.caps.Roles.AddRole(ctx, site, "moderator", "Moderator", map[string]bool{
		"moderate_comments": true,
		"edit_posts":        false,
		"upload_files":      false,
	})
	require.NoError(t, err)
	require.NoError(t, f.caps.Users.SetRole(ctx, site, nobody, "moderator"))
	require.NoError(t, f.caps.Users.AddRole(ctx, site, nobody, RoleContributor))

	union := map[string]bool{}
	for _, key := range []string{"moderator", RoleContributor} {
		r, err := f.caps.Roles.GetRole(ctx, site, key)
		require.NoError(t, err)
		for name, grant := range r.Capabilities {
			union[name] = union[name] || grant
		}
	}

	candidates := slices.Sorted(maps.Keys(builtinCaps))
	candidates = append(candidates, "moderate_comments", "launch_rockets")
	for _, name := range candidates {
		if name == Exist {
			continue
		}
		caps := f.mapCap(t, nobody, name, Args{})
		if len(caps) != 1 || caps[0] != name {
			// Meta capabilities are covered elsewhere.
			continue
		}
		assert.Equal(t, union[name], f.can(nobody, name, Args{}), name)
	}

	assert.True(t, f.can(nobody, "edit_posts", Args{}), "a grant in any role wins over a denial in another")
	assert.False(t, f.can(nobody, "upload_files", Args{}))
}

func TestIndividualCapsOverrideRoles(t *testing.T) {
	f := newFixture(t, DefaultSettings())
	ctx := f.ctx

	require.NoError(t, f.caps.Users.AddCap(ctx, site, author, "edit_posts", false))
	assert.False(t, f.can(author, "edit_posts", Args{}))
	assert.False(t, f.can(author, "edit_post", On(draftPost)))

	require.NoError(t, f.caps.Users.AddCap(ctx, site, author, "moderate_comments", true))
	assert.True(t, f.can(author, "moderate_comments", Args{}))

	require.NoError(t, f.caps.Users.RemoveCap(ctx, site, author, "edit_posts"))
	assert.True(t, f.can(author, "edit_posts", Args{}))
}

func TestSpecialCapabilities(t *testing.T) {
	f := newFixture(t, DefaultSettings())

	assert.True(t, f.can(editor, RoleEditor, Args{}), "role keys are granted")
	assert.False(t, f.can(editor, RoleAdministrator, Args{}))
	assert.True(t, f.can(0, Exist, Args{}), "exist is granted to everyone")
	assert.False(t, f.can(admin, DoNotAllow, Args{}))

	require.NoError(t, f.caps.Users.AddCap(f.ctx, site, admin, DoNotAllow, true))
	assert.False(t, f.can(admin, DoNotAllow, Args{}), "do_not_allow can not be granted")
}

func TestMissingObjectIsDenied(t *testing.T) {
	f := newFixture(t, DefaultSettings())
	for _, name := range []string{"edit_post", "delete_post", "read_post", "publish_post", "edit_comment", "edit_term", "edit_post_meta"} {
		d, err := f.caps.Checker.Check(f.ctx, site, admin, name, On(missingPost))
		require.NoError(t, err)
		assert.False(t, d.Allowed, name)
		assert.Equal(t, []string{DoNotAllow}, d.Required, name)
	}
}

func TestTrashedPostsUsePriorStatus(t *testing.T) {
	f := newFixture(t, DefaultSettings())
	require.NoError(t, f.content.Save(f.ctx,
		content.Post{Site: site, ID: 300, Type: content.TypePost, Status: content.StatusPublish, Author: contributor},
	))

	before := f.mapCap(t, contributor, "edit_post", On(300))
	require.NoError(t, f.content.Trash(f.ctx, site, 300))
	after := f.mapCap(t, contributor, "edit_post", On(300))
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"edit_published_posts"}, after)
	assert.False(t, f.can(contributor, "edit_post", On(300)), "contributors can not edit published posts, even trashed ones")
	assert.True(t, f.can(author, "delete_post", On(trashedPub)))
	assert.False(t, f.can(contributor, "delete_post", On(trashedPub)))
}

func TestReadDelegationMatchesEdit(t *testing.T) {
	f := newFixture(t, DefaultSettings())
	for _, user := range []int64{admin, editor, contributor, subscriber, nobody} {
		assert.Equal(t,
			f.can(user, "edit_post", On(draftPost)),
			f.can(user, "read_post", On(draftPost)),
			"user %d", user)
	}
	assert.True(t, f.can(author, "read_post", On(draftPost)))
}

func TestCurrentUserCan(t *testing.T) {
	f := newFixture(t, DefaultSettings())

	assert.False(t, f.caps.Checker.CurrentUserCan(f.ctx, site, "read", Args{}), "no current user")

	ctx := WithCurrentUser(f.ctx, editor)
	id, ok := CurrentUser(ctx)
	assert.True(t, ok)
	assert.Equal(t, editor, id)
	assert.True(t, f.caps.Checker.CurrentUserCan(ctx, site, "edit_post", On(publishedPost)))
	assert.False(t, f.caps.Checker.CurrentUserCan(ctx, site, "manage_options", Args{}))

	_, ok = CurrentUser(WithCurrentUser(f.ctx, 0))
	assert.False(t, ok)
}

func TestAuthorCan(t *testing.T) {
	f := newFixture(t, DefaultSettings())

	assert.True(t, f.caps.Checker.AuthorCan(f.ctx, site, publishedPost, "publish_posts", Args{}))
	assert.False(t, f.caps.Checker.AuthorCan(f.ctx, site, publishedPost, "edit_others_posts", Args{}))
	assert.False(t, f.caps.Checker.AuthorCan(f.ctx, site, attachment, "read", Args{}), "no author")
	assert.False(t, f.caps.Checker.AuthorCan(f.ctx, site, missingPost, "read", Args{}))
}

func TestHasCapFilter(t *testing.T) {
	f := newFixture(t, DefaultSettings())

	f.caps.Checker.AddFilter(func(ctx context.Context, allcaps map[string]bool, required []string, req Request) map[string]bool {
		if req.Cap == "edit_post" && req.Args.ObjectID == publishedPost {
			allcaps["edit_others_posts"] = true
			allcaps["edit_published_posts"] = true
		}
		return allcaps
	})

	assert.True(t, f.can(contributor, "edit_post", On(publishedPost)))
	assert.False(t, f.can(contributor, "edit_post", On(privatePost)))
}

func TestAuditLogger(t *testing.T) {
	var decisions []Decision
	f := newFixture(t, DefaultSettings(), WithAuditLogger(func(ctx context.Context, d Decision) {
		decisions = append(decisions, d)
	}))

	assert.True(t, f.can(editor, "edit_post", On(publishedPost)))
	assert.False(t, f.can(subscriber, "edit_posts", Args{}))

	require.Len(t, decisions, 2)
	assert.Equal(t, editor, decisions[0].UserID)
	assert.True(t, decisions[0].Allowed)
	assert.Equal(t, "edit_posts", decisions[1].Cap)
	assert.Equal(t, []string{"edit_posts"}, decisions[1].Missing)
}

type failingStore struct {
	storage.Store
}

func (failingStore) Read(ctx context.Context, id string, model storage.Model) error {
	return errors.NewC("disk on fire", codes.Unavailable)
}

func TestStoreFailuresAreDenials(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := logging.With(t.Context(), logging.FromZap(core))

	store := failingStore{}
	cp := New(Deps{Store: store, Options: options.New(store), Content: content.New(store)})

	_, err := cp.Checker.Check(ctx, site, editor, "edit_posts", Args{})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, errors.Code(err))

	assert.False(t, cp.Checker.UserCan(ctx, site, editor, "edit_posts", Args{}))
	assert.Equal(t, 1, logs.FilterMessage("caps: capability check failed").Len())

	_, err = cp.Resolver.Map(ctx, Request{Site: site, Cap: "edit_post", UserID: editor, Args: On(publishedPost)})
	require.Error(t, err)
}

func TestMultisite(t *testing.T) {
	s := DefaultSettings()
	s.Multisite = true
	f := newFixture(t, s)
	ctx := f.ctx
	require.NoError(t, f.caps.Users.GrantSuperAdmin(ctx, root))

	t.Run("super admins can do anything", func(t *testing.T) {
		d, err := f.caps.Checker.Check(ctx, site, root, "manage_network", Args{})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.True(t, d.SuperAdmin)
		assert.True(t, f.can(root, "launch_rockets", Args{}))
		assert.True(t, f.can(root, "update_core", Args{}))
		assert.True(t, f.can(root, "edit_post", On(publishedPost)))
	})

	t.Run("except what nobody can do", func(t *testing.T) {
		assert.False(t, f.can(root, "delete_post", On(revision)))
		assert.False(t, f.can(root, "edit_post", On(missingPost)))
	})

	t.Run("site admins lose file mods", func(t *testing.T) {
		assert.Equal(t, []string{DoNotAllow}, f.mapCap(t, admin, "update_core", Args{}))
		assert.False(t, f.can(admin, "update_core", Args{}))
		assert.False(t, f.can(admin, "edit_themes", Args{}))
		assert.False(t, f.can(admin, "unfiltered_html", Args{}))
		assert.Equal(t, []string{"unfiltered_html"}, f.mapCap(t, root, "unfiltered_html", Args{}))
	})

	t.Run("users", func(t *testing.T) {
		assert.False(t, f.can(admin, "delete_user", On(author)))
		assert.True(t, f.can(root, "delete_user", On(author)))
		assert.False(t, f.can(admin, "remove_user", On(admin)))
		assert.True(t, f.can(root, "remove_user", On(root)))

		assert.False(t, f.can(admin, "edit_user", On(author)), "needs manage_network_users")
		require.NoError(t, f.caps.Users.AddCap(ctx, site, admin, "manage_network_users", true))
		assert.True(t, f.can(admin, "edit_user", On(author)))
		assert.False(t, f.can(admin, "edit_user", On(root)), "only super admins edit super admins")
		assert.True(t, f.can(author, "edit_user", On(author)))

		assert.False(t, f.can(admin, "create_users", Args{}))
		f.setOption(t, options.Network, options.AddNewUsers, true)
		assert.True(t, f.can(admin, "create_users", Args{}))
	})

	t.Run("plugins", func(t *testing.T) {
		assert.Equal(t, []string{"activate_plugins", "manage_network_plugins"}, f.mapCap(t, admin, "activate_plugins", Args{}))
		assert.False(t, f.can(admin, "activate_plugins", Args{}))
		f.setOption(t, options.Network, options.MenuItems, map[string]bool{"plugins": true})
		assert.Equal(t, []string{"activate_plugins"}, f.mapCap(t, admin, "activate_plugins", Args{}))
		assert.True(t, f.can(admin, "activate_plugins", Args{}))
	})

	t.Run("network rules", func(t *testing.T) {
		assert.Equal(t, []string{"manage_network_options"}, f.mapCap(t, admin, "setup_network", Args{}))
		assert.Equal(t, []string{"manage_options"}, f.mapCap(t, admin, "delete_site", Args{}))
		assert.Equal(t, []string{"manage_network"}, f.mapCap(t, admin, "manage_privacy_options", Args{}))
	})

	t.Run("disallow unfiltered html applies to super admins", func(t *testing.T) {
		s := s
		s.DisallowUnfilteredHTML = true
		f := newFixture(t, s)
		require.NoError(t, f.caps.Users.GrantSuperAdmin(f.ctx, root))
		assert.False(t, f.can(root, "unfiltered_html", Args{}))
	})

	t.Run("revoke", func(t *testing.T) {
		require.NoError(t, f.caps.Users.RevokeSuperAdmin(ctx, root))
		ok, err := f.caps.Checker.IsSuperAdmin(ctx, site, root)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, f.can(root, "manage_network", Args{}))
	})
}

func TestSingleSiteSuperAdmin(t *testing.T) {
	f := newFixture(t, DefaultSettings())

	ok, err := f.caps.Checker.IsSuperAdmin(f.ctx, site, admin)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.caps.Checker.IsSuperAdmin(f.ctx, site, editor)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.caps.Checker.IsSuperAdmin(f.ctx, site, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
