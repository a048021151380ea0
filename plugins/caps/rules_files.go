package caps

import (
	"context"

	"github.com/dpup/capable/plugins/options"
)

// Kinds passed to file-mod filters.
const (
	FileModEditThemes    = "capability_edit_themes"
	FileModUpdateCore    = "capability_update_core"
	FileModLanguagePacks = "can_install_language_pack"
)

func (r *Resolver) registerFileRules() {
	r.handle(r.editFiles, "edit_files", "edit_plugins", "edit_themes")
	r.handle(r.modifyFiles,
		"update_plugins", "delete_plugins", "install_plugins", "upload_plugins",
		"update_themes", "delete_themes", "install_themes", "upload_themes",
		"update_core")
	r.handle(r.languages, "install_languages", "update_languages")
	r.handle(r.updatePHP, "update_php")
	r.handle(r.updateHTTPS, "update_https")
	r.handle(r.unfilteredHTML, "unfiltered_html", "edit_css")
	r.handle(r.unfilteredUpload, "unfiltered_upload")
	r.handle(r.activatePlugins, "activate_plugins", "deactivate_plugins", "activate_plugin", "deactivate_plugin")
	r.handle(to("resume_plugins"), "resume_plugin")
	r.handle(to("resume_themes"), "resume_theme")
	r.handle(to("install_plugins"), "view_site_health_checks")
}

func (r *Resolver) editFiles(ctx context.Context, req Request) ([]string, error) {
	if r.settings.DisallowFileEdit || !r.fileModAllowed(ctx, FileModEditThemes) {
		return denied(), nil
	}
	return r.requireSuperAdminOnNetwork(ctx, req, req.Cap)
}

func (r *Resolver) modifyFiles(ctx context.Context, req Request) ([]string, error) {
	if !r.fileModAllowed(ctx, FileModUpdateCore) {
		return denied(), nil
	}
	name := req.Cap
	switch name {
	case "upload_themes":
		name = "install_themes"
	case "upload_plugins":
		name = "install_plugins"
	}
	return r.requireSuperAdminOnNetwork(ctx, req, name)
}

func (r *Resolver) languages(ctx context.Context, req Request) ([]string, error) {
	if !r.fileModAllowed(ctx, FileModLanguagePacks) {
		return denied(), nil
	}
	return r.requireSuperAdminOnNetwork(ctx, req, "install_languages")
}

func (r *Resolver) updatePHP(ctx context.Context, req Request) ([]string, error) {
	return r.requireSuperAdminOnNetwork(ctx, req, "update_core")
}

func (r *Resolver) updateHTTPS(ctx context.Context, req Request) ([]string, error) {
	return r.requireSuperAdminOnNetwork(ctx, req, "manage_options", "update_core")
}

// unfilteredHTML is vetoed for everyone, including super admins, when
// unfiltered HTML is disallowed.
func (r *Resolver) unfilteredHTML(ctx context.Context, req Request) ([]string, error) {
	if r.settings.DisallowUnfilteredHTML {
		return denied(), nil
	}
	return r.requireSuperAdminOnNetwork(ctx, req, "unfiltered_html")
}

func (r *Resolver) unfilteredUpload(ctx context.Context, req Request) ([]string, error) {
	if !r.settings.AllowUnfilteredUploads {
		return denied(), nil
	}
	return r.requireSuperAdminOnNetwork(ctx, req, req.Cap)
}

// activatePlugins needs manage_network_plugins on a network unless the
// network has enabled the plugins menu for site admins.
func (r *Resolver) activatePlugins(ctx context.Context, req Request) ([]string, error) {
	caps := []string{"activate_plugins"}
	if !r.settings.Multisite {
		return caps, nil
	}
	menu, err := r.options.Flags(ctx, options.Network, options.MenuItems)
	if err != nil {
		return nil, err
	}
	if !menu["plugins"] {
		caps = append(caps, "manage_network_plugins")
	}
	return caps, nil
}
