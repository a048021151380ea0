package caps

import (
	"context"

	"github.com/dpup/capable/plugins/options"
)

func (r *Resolver) registerSiteRules() {
	r.handle(same,
		"create_sites", "delete_sites", "manage_network", "manage_sites", "manage_network_users",
		"manage_network_plugins", "manage_network_themes", "manage_network_options", "upgrade_network")
	r.handle(r.setupNetwork, "setup_network")
	r.handle(r.deleteSite, "delete_site")
	r.handle(to("edit_theme_options"), "customize")
	r.handle(r.manageLinks, "manage_links")
	r.handle(r.privacy, "export_others_personal_data", "erase_others_personal_data", "manage_privacy_options")
}

func (r *Resolver) setupNetwork(ctx context.Context, req Request) ([]string, error) {
	if r.settings.Multisite {
		return []string{"manage_network_options"}, nil
	}
	return []string{"manage_options"}, nil
}

func (r *Resolver) deleteSite(ctx context.Context, req Request) ([]string, error) {
	if r.settings.Multisite {
		return []string{"manage_options"}, nil
	}
	return denied(), nil
}

func (r *Resolver) manageLinks(ctx context.Context, req Request) ([]string, error) {
	enabled, err := r.options.Bool(ctx, req.Site, options.LinkManagerEnabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return denied(), nil
	}
	return []string{req.Cap}, nil
}

func (r *Resolver) privacy(ctx context.Context, req Request) ([]string, error) {
	if r.settings.Multisite {
		return []string{"manage_network"}, nil
	}
	return []string{"manage_options"}, nil
}
