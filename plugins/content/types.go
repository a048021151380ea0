package content

import (
	"maps"
	"slices"
	"sync"
)

// Built-in post types.
const (
	TypePost       = "post"
	TypePage       = "page"
	TypeAttachment = "attachment"
	TypeRevision   = "revision"
	TypeNavMenu    = "nav_menu_item"
	TypeBlock      = "wp_block"
)

// Built-in post statuses.
const (
	StatusPublish   = "publish"
	StatusFuture    = "future"
	StatusDraft     = "draft"
	StatusPending   = "pending"
	StatusPrivate   = "private"
	StatusTrash     = "trash"
	StatusAutoDraft = "auto-draft"
	StatusInherit   = "inherit"
)

// Built-in taxonomies.
const (
	TaxonomyCategory = "category"
	TaxonomyTag      = "post_tag"
)

// Keys of a post type's capability map. Each maps to the capability that is
// actually checked for that type.
const (
	CapEditPost             = "edit_post"
	CapReadPost             = "read_post"
	CapDeletePost           = "delete_post"
	CapEditPosts            = "edit_posts"
	CapEditOthersPosts      = "edit_others_posts"
	CapDeletePosts          = "delete_posts"
	CapPublishPosts         = "publish_posts"
	CapReadPrivatePosts     = "read_private_posts"
	CapRead                 = "read"
	CapDeletePrivatePosts   = "delete_private_posts"
	CapDeletePublishedPosts = "delete_published_posts"
	CapDeleteOthersPosts    = "delete_others_posts"
	CapEditPrivatePosts     = "edit_private_posts"
	CapEditPublishedPosts   = "edit_published_posts"
	CapCreatePosts          = "create_posts"
)

// Keys of a taxonomy's capability map.
const (
	CapManageTerms = "manage_terms"
	CapEditTerms   = "edit_terms"
	CapDeleteTerms = "delete_terms"
	CapAssignTerms = "assign_terms"
)

// PostTypeCaps maps the keys above to concrete capability names.
type PostTypeCaps map[string]string

// Get returns the capability for key, or "" if the key is unknown.
func (c PostTypeCaps) Get(key string) string {
	return c[key]
}

// PostTypeArgs configures a post type at registration.
type PostTypeArgs struct {
	// Singular and plural base used to build capability names. Defaults to
	// "post" and "posts". When Plural is empty it is Singular + "s".
	CapabilityType [2]string

	// Whether meta capabilities such as edit_post are mapped to primitive
	// capabilities. nil means true for the "post" and "page" capability types.
	MapMetaCap *bool

	// Overrides for individual entries in the capability map.
	Capabilities map[string]string

	Hierarchical bool
}

// PostType is a registered post type with its resolved capability map.
type PostType struct {
	Name         string
	Cap          PostTypeCaps
	MapMetaCap   bool
	Hierarchical bool
}

// Status describes a post status.
type Status struct {
	Name      string
	Public    bool
	Private   bool
	Protected bool
	Internal  bool
}

// Taxonomy is a registered taxonomy with its capability map.
type Taxonomy struct {
	Name        string
	ObjectTypes []string
	Cap         map[string]string
}

// Types is a registry of post types, statuses and taxonomies. It is safe for
// concurrent use.
type Types struct {
	mu         sync.RWMutex
	postTypes  map[string]*PostType
	statuses   map[string]*Status
	taxonomies map[string]*Taxonomy

	// metaCaps maps type specific meta capabilities, such as edit_book, to
	// the generic meta capability, edit_post.
	metaCaps map[string]string
}

// NewTypes returns a registry populated with the built-in types.
func NewTypes() *Types {
	t := &Types{
		postTypes:  map[string]*PostType{},
		statuses:   map[string]*Status{},
		taxonomies: map[string]*Taxonomy{},
		metaCaps:   map[string]string{},
	}

	t.RegisterPostType(TypePost, PostTypeArgs{})
	t.RegisterPostType(TypePage, PostTypeArgs{CapabilityType: [2]string{"page", "pages"}, Hierarchical: true})
	t.RegisterPostType(TypeAttachment, PostTypeArgs{Capabilities: map[string]string{CapCreatePosts: "upload_files"}})
	t.RegisterPostType(TypeRevision, PostTypeArgs{})
	t.RegisterPostType(TypeNavMenu, PostTypeArgs{})
	t.RegisterPostType(TypeBlock, PostTypeArgs{
		CapabilityType: [2]string{"block", "blocks"},
		MapMetaCap:     boolPtr(true),
		Capabilities: map[string]string{
			CapRead:                 "edit_posts",
			CapCreatePosts:          "publish_posts",
			CapEditPosts:            "edit_posts",
			CapEditPublishedPosts:   "edit_published_posts",
			CapDeletePublishedPosts: "delete_published_posts",
			CapEditOthersPosts:      "edit_others_posts",
			CapDeleteOthersPosts:    "delete_others_posts",
		},
	})

	t.RegisterStatus(Status{Name: StatusPublish, Public: true})
	t.RegisterStatus(Status{Name: StatusFuture, Protected: true})
	t.RegisterStatus(Status{Name: StatusDraft, Protected: true})
	t.RegisterStatus(Status{Name: StatusPending, Protected: true})
	t.RegisterStatus(Status{Name: StatusPrivate, Private: true})
	t.RegisterStatus(Status{Name: StatusTrash, Internal: true})
	t.RegisterStatus(Status{Name: StatusAutoDraft, Internal: true})
	t.RegisterStatus(Status{Name: StatusInherit, Internal: true})

	t.RegisterTaxonomy(TaxonomyCategory, []string{TypePost}, map[string]string{
		CapManageTerms: "manage_categories",
		CapEditTerms:   "edit_categories",
		CapDeleteTerms: "delete_categories",
		CapAssignTerms: "assign_categories",
	})
	t.RegisterTaxonomy(TaxonomyTag, []string{TypePost}, map[string]string{
		CapManageTerms: "manage_post_tags",
		CapEditTerms:   "edit_post_tags",
		CapDeleteTerms: "delete_post_tags",
		CapAssignTerms: "assign_post_tags",
	})
	return t
}

// RegisterPostType adds or replaces a post type and returns it.
func (t *Types) RegisterPostType(name string, args PostTypeArgs) *PostType {
	singular, plural := args.CapabilityType[0], args.CapabilityType[1]
	if singular == "" {
		singular, plural = "post", "posts"
	}
	if plural == "" {
		plural = singular + "s"
	}

	mapMetaCap := singular == "post" || singular == "page"
	if args.MapMetaCap != nil {
		mapMetaCap = *args.MapMetaCap
	}

	pt := &PostType{
		Name:         name,
		Cap:          PostTypeCapabilities(singular, plural, mapMetaCap, args.Capabilities),
		MapMetaCap:   mapMetaCap,
		Hierarchical: args.Hierarchical,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.postTypes[name] = pt
	if mapMetaCap {
		for _, key := range []string{CapReadPost, CapDeletePost, CapEditPost} {
			if c := pt.Cap[key]; c != "" && c != key {
				t.metaCaps[c] = key
			}
		}
	}
	return pt
}

// PostTypeCapabilities builds a capability map from the singular and plural
// capability bases, applying overrides last. create_posts defaults to the
// type's edit_posts capability.
func PostTypeCapabilities(singular, plural string, mapMetaCap bool, overrides map[string]string) PostTypeCaps {
	caps := PostTypeCaps{
		CapEditPost:         "edit_" + singular,
		CapReadPost:         "read_" + singular,
		CapDeletePost:       "delete_" + singular,
		CapEditPosts:        "edit_" + plural,
		CapEditOthersPosts:  "edit_others_" + plural,
		CapDeletePosts:      "delete_" + plural,
		CapPublishPosts:     "publish_" + plural,
		CapReadPrivatePosts: "read_private_" + plural,
	}
	if mapMetaCap {
		caps[CapRead] = "read"
		caps[CapDeletePrivatePosts] = "delete_private_" + plural
		caps[CapDeletePublishedPosts] = "delete_published_" + plural
		caps[CapDeleteOthersPosts] = "delete_others_" + plural
		caps[CapEditPrivatePosts] = "edit_private_" + plural
		caps[CapEditPublishedPosts] = "edit_published_" + plural
	}
	maps.Copy(caps, overrides)
	if _, ok := caps[CapCreatePosts]; !ok {
		caps[CapCreatePosts] = caps[CapEditPosts]
	}
	return caps
}

// PostType returns the named post type.
func (t *Types) PostType(name string) (*PostType, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pt, ok := t.postTypes[name]
	return pt, ok
}

// PostTypeNames returns the names of all registered post types, sorted.
func (t *Types) PostTypeNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.postTypes))
}

// MetaCapFor returns the generic meta capability that a type specific
// capability maps to, e.g. edit_book → edit_post.
func (t *Types) MetaCapFor(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.metaCaps[name]
	return m, ok
}

// RegisterStatus adds or replaces a post status.
func (t *Types) RegisterStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[s.Name] = &s
}

// Status returns the named post status.
func (t *Types) Status(name string) (*Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[name]
	return s, ok
}

// RegisterTaxonomy adds or replaces a taxonomy. Capabilities missing from caps
// default to manage_categories, except assign_terms which defaults to
// edit_posts.
func (t *Types) RegisterTaxonomy(name string, objectTypes []string, caps map[string]string) *Taxonomy {
	resolved := map[string]string{
		CapManageTerms: "manage_categories",
		CapEditTerms:   "manage_categories",
		CapDeleteTerms: "manage_categories",
		CapAssignTerms: "edit_posts",
	}
	maps.Copy(resolved, caps)
	tax := &Taxonomy{Name: name, ObjectTypes: objectTypes, Cap: resolved}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.taxonomies[name] = tax
	return tax
}

// Taxonomy returns the named taxonomy.
func (t *Types) Taxonomy(name string) (*Taxonomy, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tax, ok := t.taxonomies[name]
	return tax, ok
}

func boolPtr(b bool) *bool { return &b }
