package caps

import (
	"context"
	"testing"

	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/content"
	"github.com/dpup/capable/plugins/options"
	"github.com/dpup/capable/plugins/storage"
	"github.com/dpup/capable/plugins/storage/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const site int64 = 1

// Users created by newFixture.
const (
	admin       int64 = 1
	editor      int64 = 2
	author      int64 = 3
	contributor int64 = 4
	subscriber  int64 = 5
	root        int64 = 6
	nobody      int64 = 7
)

// Posts created by newFixture.
const (
	publishedPost int64 = 100
	draftPost     int64 = 101
	privatePost   int64 = 102
	trashedPub    int64 = 103
	trashedDraft  int64 = 104
	aboutPage     int64 = 105
	revision      int64 = 106
	attachment    int64 = 107
	ghostPost     int64 = 108
	trashedPriv   int64 = 109
	reusableBlock int64 = 110
	missingPost   int64 = 999
)

type fixture struct {
	ctx     context.Context
	logs    *observer.ObservedLogs
	store   storage.Store
	caps    *CapsPlugin
	content *content.ContentPlugin
	options *options.OptionsPlugin
}

func newFixture(t *testing.T, s Settings, opts ...Option) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	ctx := logging.With(t.Context(), logging.FromZap(core))

	store := memstore.New()
	f := &fixture{
		ctx:     ctx,
		logs:    logs,
		store:   store,
		content: content.New(store),
		options: options.New(store),
	}
	f.caps = New(Deps{Store: store, Options: f.options, Content: f.content}, append([]Option{WithSettings(s)}, opts...)...)
	require.NoError(t, f.caps.Roles.Populate(ctx, site))

	for _, u := range []struct {
		id    int64
		login string
		role  string
	}{
		{admin, "admin", RoleAdministrator},
		{editor, "ed", RoleEditor},
		{author, "amy", RoleAuthor},
		{contributor, "cole", RoleContributor},
		{subscriber, "sue", RoleSubscriber},
		{root, "root", ""},
		{nobody, "nobody", ""},
	} {
		require.NoError(t, f.content.Save(ctx, content.User{ID: u.id, Login: u.login}))
		if u.role != "" {
			require.NoError(t, f.caps.Users.SetRole(ctx, site, u.id, u.role))
		}
	}

	require.NoError(t, f.content.Save(ctx,
		content.Post{Site: site, ID: publishedPost, Type: content.TypePost, Status: content.StatusPublish, Author: author},
		content.Post{Site: site, ID: draftPost, Type: content.TypePost, Status: content.StatusDraft, Author: author},
		content.Post{Site: site, ID: privatePost, Type: content.TypePost, Status: content.StatusPrivate, Author: author},
		content.Post{Site: site, ID: trashedPub, Type: content.TypePost, Status: content.StatusTrash, Author: author,
			Meta: map[string]string{content.MetaTrashStatus: content.StatusPublish}},
		content.Post{Site: site, ID: trashedDraft, Type: content.TypePost, Status: content.StatusTrash, Author: author,
			Meta: map[string]string{content.MetaTrashStatus: content.StatusDraft}},
		content.Post{Site: site, ID: aboutPage, Type: content.TypePage, Status: content.StatusPublish, Author: editor},
		content.Post{Site: site, ID: revision, Type: content.TypeRevision, Status: content.StatusInherit, Author: author, Parent: publishedPost},
		content.Post{Site: site, ID: attachment, Type: content.TypeAttachment, Status: content.StatusInherit, Parent: draftPost},
		content.Post{Site: site, ID: ghostPost, Type: "ghost", Status: content.StatusPublish, Author: author},
		content.Post{Site: site, ID: trashedPriv, Type: content.TypePost, Status: content.StatusTrash, Author: editor,
			Meta: map[string]string{content.MetaTrashStatus: content.StatusPrivate}},
		content.Post{Site: site, ID: reusableBlock, Type: content.TypeBlock, Status: content.StatusPublish, Author: author},
	))
	return f
}

func (f *fixture) mapCap(t *testing.T, user int64, name string, args Args) []string {
	t.Helper()
	caps, err := f.caps.Resolver.Map(f.ctx, Request{Site: site, Cap: name, UserID: user, Args: args})
	require.NoError(t, err)
	return caps
}

func (f *fixture) can(user int64, name string, args Args) bool {
	return f.caps.Checker.UserCan(f.ctx, site, user, name, args)
}

func (f *fixture) setOption(t *testing.T, s int64, key string, value any) {
	t.Helper()
	require.NoError(t, f.options.Set(f.ctx, s, key, value))
}

// warned returns whether a warning with the message was logged.
func (f *fixture) warned(msg string) bool {
	return f.logs.FilterMessage(msg).FilterLevelExact(zap.WarnLevel).Len() > 0
}
