package caps

import (
	"context"
	"fmt"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/options"
)

// Default role keys.
const (
	RoleAdministrator = "administrator"
	RoleEditor        = "editor"
	RoleAuthor        = "author"
	RoleContributor   = "contributor"
	RoleSubscriber    = "subscriber"
)

var subscriberCaps = []string{"read", "level_0"}

var contributorCaps = append([]string{
	"edit_posts", "delete_posts", "level_1",
}, subscriberCaps...)

var authorCaps = append([]string{
	"upload_files", "edit_published_posts", "publish_posts", "delete_published_posts", "level_2",
}, contributorCaps...)

var editorCaps = append([]string{
	"moderate_comments", "manage_categories", "manage_links", "unfiltered_html",
	"edit_others_posts", "edit_pages", "edit_others_pages", "edit_published_pages",
	"publish_pages", "delete_pages", "delete_others_pages", "delete_published_pages",
	"delete_others_posts", "delete_private_posts", "edit_private_posts", "read_private_posts",
	"delete_private_pages", "edit_private_pages", "read_private_pages",
	"level_3", "level_4", "level_5", "level_6", "level_7",
}, authorCaps...)

var administratorCaps = append([]string{
	"switch_themes", "edit_themes", "activate_plugins", "edit_plugins", "edit_users",
	"edit_files", "manage_options", "import", "delete_users", "create_users",
	"unfiltered_upload", "edit_dashboard", "update_plugins", "delete_plugins",
	"install_plugins", "update_themes", "install_themes", "update_core", "list_users",
	"remove_users", "promote_users", "edit_theme_options", "delete_themes", "export",
	"level_8", "level_9", "level_10",
}, editorCaps...)

// DefaultRole describes one of the roles installed by Populate.
type DefaultRole struct {
	Key  string
	Name string
	Caps []string
}

// DefaultRoles returns the stock roles, most privileged first.
func DefaultRoles() []DefaultRole {
	return []DefaultRole{
		{Key: RoleAdministrator, Name: "Administrator", Caps: administratorCaps},
		{Key: RoleEditor, Name: "Editor", Caps: editorCaps},
		{Key: RoleAuthor, Name: "Author", Caps: authorCaps},
		{Key: RoleContributor, Name: "Contributor", Caps: contributorCaps},
		{Key: RoleSubscriber, Name: "Subscriber", Caps: subscriberCaps},
	}
}

// builtinCaps are the primitives that exist without any role mentioning them.
var builtinCaps = func() map[string]bool {
	m := map[string]bool{Exist: true}
	for _, c := range administratorCaps {
		m[c] = true
	}
	for _, c := range []string{
		"create_sites", "delete_sites", "manage_network", "manage_sites", "manage_network_users",
		"manage_network_plugins", "manage_network_themes", "manage_network_options",
		"upgrade_network", "setup_network", "install_languages", "resume_plugins", "resume_themes",
	} {
		m[c] = true
	}
	return m
}()

// Populate installs the default roles on a site and sets the default role if
// none is configured. Roles that already exist are left untouched. Concurrent
// callers are serialized with an advisory lock; a caller that loses the race
// gets lock.ErrLocked.
func (s *RoleStore) Populate(ctx context.Context, site int64) error {
	lk, err := s.locker.Acquire(ctx, fmt.Sprintf("populate_roles:%d", site))
	if err != nil {
		return errors.WrapPrefix(err, "caps: populate roles", 0)
	}
	defer func() {
		if err := lk.Release(ctx); err != nil {
			logging.Warnw(ctx, "caps: failed to release populate lock", "site", site, "error", err)
		}
	}()

	added := 0
	for _, d := range DefaultRoles() {
		caps := make(map[string]bool, len(d.Caps))
		for _, c := range d.Caps {
			caps[c] = true
		}
		r, err := s.AddRole(ctx, site, d.Key, d.Name, caps)
		if err != nil {
			return err
		}
		if r != nil {
			added++
		}
	}

	def, err := s.options.String(ctx, site, options.DefaultRole, "")
	if err != nil {
		return err
	}
	if def == "" {
		if err := s.options.Set(ctx, site, options.DefaultRole, s.fallback); err != nil {
			return err
		}
	}
	logging.Infow(ctx, "caps: populated default roles", "site", site, "added", added)
	return nil
}
