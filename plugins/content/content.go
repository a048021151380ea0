// Package content provides the objects that capability rules inspect: posts,
// comments, terms and users, along with the registry of post types, statuses
// and taxonomies.
//
// Posts, comments and terms belong to a site. Users are network wide.
package content

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/plugin"
	"github.com/dpup/capable/plugins/storage"
)

// PluginName can be used to query the content plugin.
const PluginName = "content"

// MetaTrashStatus records the status a post had before it was trashed.
const MetaTrashStatus = "_wp_trash_meta_status"

// Post is a post, page, attachment or other post type entry.
type Post struct {
	Site   int64
	ID     int64
	Type   string
	Status string
	Author int64
	Parent int64
	Title  string
	Meta   map[string]string
}

func (p Post) PK() string { return siteKey(p.Site, p.ID) }

// Comment on a post.
type Comment struct {
	Site   int64
	ID     int64
	PostID int64
	UserID int64
}

func (c Comment) PK() string { return siteKey(c.Site, c.ID) }

// Term in a taxonomy.
type Term struct {
	Site     int64
	ID       int64
	Taxonomy string
	Name     string
	Slug     string
	Parent   int64
}

func (t Term) PK() string { return siteKey(t.Site, t.ID) }

// User is a network-wide account.
type User struct {
	ID          int64
	Login       string
	Email       string
	DisplayName string
}

func (u User) PK() string { return strconv.FormatInt(u.ID, 10) }

func siteKey(site, id int64) string {
	return fmt.Sprintf("%d:%d", site, id)
}

// Plugin returns a content plugin using the built-in types.
func Plugin() *ContentPlugin {
	return &ContentPlugin{Types: NewTypes()}
}

// New returns content backed directly by a store, for use outside a
// registry.
func New(store storage.Store) *ContentPlugin {
	return &ContentPlugin{Types: NewTypes(), store: store}
}

// ContentPlugin is the repository for content objects.
type ContentPlugin struct {
	*Types
	store storage.Store
}

var (
	_ plugin.Plugin              = (*ContentPlugin)(nil)
	_ plugin.DependentPlugin     = (*ContentPlugin)(nil)
	_ plugin.InitializablePlugin = (*ContentPlugin)(nil)
)

// From plugin.Plugin.
func (p *ContentPlugin) Name() string {
	return PluginName
}

// From plugin.DependentPlugin.
func (p *ContentPlugin) Deps() []string {
	return []string{storage.PluginName}
}

// From plugin.InitializablePlugin.
func (p *ContentPlugin) Init(ctx context.Context, r *plugin.Registry) error {
	sp, err := plugin.Lookup[*storage.StoragePlugin](r, storage.PluginName)
	if err != nil {
		return err
	}
	p.store = sp
	for _, m := range []storage.Model{Post{}, Comment{}, Term{}, User{}} {
		if err := sp.InitModel(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Post returns the post with the given id, or nil if there is none.
func (p *ContentPlugin) Post(ctx context.Context, site, id int64) (*Post, error) {
	return find[Post](ctx, p.store, siteKey(site, id))
}

// Comment returns the comment with the given id, or nil if there is none.
func (p *ContentPlugin) Comment(ctx context.Context, site, id int64) (*Comment, error) {
	return find[Comment](ctx, p.store, siteKey(site, id))
}

// Term returns the term with the given id, or nil if there is none.
func (p *ContentPlugin) Term(ctx context.Context, site, id int64) (*Term, error) {
	return find[Term](ctx, p.store, siteKey(site, id))
}

// User returns the user with the given id, or nil if there is none.
func (p *ContentPlugin) User(ctx context.Context, id int64) (*User, error) {
	return find[User](ctx, p.store, strconv.FormatInt(id, 10))
}

// UserByLogin returns the user with the given login, or nil if there is none.
func (p *ContentPlugin) UserByLogin(ctx context.Context, login string) (*User, error) {
	var users []User
	if err := p.store.List(ctx, &users, User{Login: login}); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// PostMeta returns a single meta value for a post, "" when unset.
func (p *ContentPlugin) PostMeta(ctx context.Context, site, id int64, key string) (string, error) {
	post, err := p.Post(ctx, site, id)
	if err != nil || post == nil {
		return "", err
	}
	return post.Meta[key], nil
}

// Posts lists the posts of a site matching the non-zero fields of filter.
func (p *ContentPlugin) Posts(ctx context.Context, filter Post) ([]Post, error) {
	var posts []Post
	err := p.store.List(ctx, &posts, filter)
	return posts, err
}

// Save creates or replaces content objects.
func (p *ContentPlugin) Save(ctx context.Context, objs ...storage.Model) error {
	for _, o := range objs {
		switch o.(type) {
		case Post, *Post, Comment, *Comment, Term, *Term, User, *User:
		default:
			return errors.Errorf("content: can not save %T", o)
		}
	}
	return p.store.Upsert(ctx, objs...)
}

// Trash moves a post to the trash, recording its previous status.
func (p *ContentPlugin) Trash(ctx context.Context, site, id int64) error {
	post, err := p.Post(ctx, site, id)
	if err != nil {
		return err
	}
	if post == nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if post.Status == StatusTrash {
		return nil
	}
	if post.Meta == nil {
		post.Meta = map[string]string{}
	}
	post.Meta[MetaTrashStatus] = post.Status
	post.Status = StatusTrash
	return p.store.Update(ctx, *post)
}

// Untrash restores a trashed post to its previous status.
func (p *ContentPlugin) Untrash(ctx context.Context, site, id int64) error {
	post, err := p.Post(ctx, site, id)
	if err != nil {
		return err
	}
	if post == nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if post.Status != StatusTrash {
		return nil
	}
	post.Status = post.Meta[MetaTrashStatus]
	if post.Status == "" {
		post.Status = StatusDraft
	}
	delete(post.Meta, MetaTrashStatus)
	return p.store.Update(ctx, *post)
}

// find reads a record, mapping a missing record to nil.
func find[T any](ctx context.Context, store storage.Store, id string) (*T, error) {
	out := new(T)
	if err := store.Read(ctx, id, any(out).(storage.Model)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}
