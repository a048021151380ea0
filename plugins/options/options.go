// Package options stores per-site and network-wide settings that capability
// rules consult, such as the default role for new users or which page is the
// site's front page.
//
// Values are JSON encoded and stored in a single record per (site, key).
// Network options are stored against the reserved site Network.
package options

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/plugin"
	"github.com/dpup/capable/plugins/storage"
	"google.golang.org/grpc/codes"
)

// PluginName can be used to query the options plugin.
const PluginName = "options"

// Network is the site identifier used for network-wide options.
const Network int64 = 0

// Per-site option keys.
const (
	DefaultRole        = "default_role"
	PageForPosts       = "page_for_posts"
	PageOnFront        = "page_on_front"
	PrivacyPolicyPage  = "wp_page_for_privacy_policy"
	LinkManagerEnabled = "link_manager_enabled"
)

// Network option keys.
const (
	SiteAdmins  = "site_admins"
	AddNewUsers = "add_new_users"
	MenuItems   = "menu_items"
)

// DefaultTermKeys returns the option keys that may hold the default term of a
// taxonomy, e.g. "default_category" and "default_term_category".
func DefaultTermKeys(taxonomy string) []string {
	return []string{"default_" + taxonomy, "default_term_" + taxonomy}
}

// ErrInvalidValue is returned when an option can not be decoded into the
// requested type.
var ErrInvalidValue = errors.NewC("invalid option value", codes.InvalidArgument)

// Record is the persisted form of an option.
type Record struct {
	Site  int64
	Key   string
	Value json.RawMessage
}

func (r Record) PK() string { return fmt.Sprintf("%d:%s", r.Site, r.Key) }

// Name is the storage name for option records.
func (r Record) Name() string { return "options" }

// Plugin returns an options plugin that persists to the storage plugin.
func Plugin() *OptionsPlugin {
	return &OptionsPlugin{}
}

// New returns options backed directly by a store, for use outside a registry.
func New(store storage.Store) *OptionsPlugin {
	return &OptionsPlugin{store: store}
}

// OptionsPlugin reads and writes site options.
type OptionsPlugin struct {
	store storage.Store
}

var (
	_ plugin.Plugin              = (*OptionsPlugin)(nil)
	_ plugin.DependentPlugin     = (*OptionsPlugin)(nil)
	_ plugin.InitializablePlugin = (*OptionsPlugin)(nil)
)

// From plugin.Plugin.
func (p *OptionsPlugin) Name() string {
	return PluginName
}

// From plugin.DependentPlugin.
func (p *OptionsPlugin) Deps() []string {
	return []string{storage.PluginName}
}

// From plugin.InitializablePlugin.
func (p *OptionsPlugin) Init(ctx context.Context, r *plugin.Registry) error {
	sp, err := plugin.Lookup[*storage.StoragePlugin](r, storage.PluginName)
	if err != nil {
		return err
	}
	p.store = sp
	return sp.InitModel(ctx, Record{})
}

// Get decodes the option into out. Returns false if the option is not set.
func (p *OptionsPlugin) Get(ctx context.Context, site int64, key string, out any) (bool, error) {
	rec := Record{Site: site, Key: key}
	if err := p.store.Read(ctx, rec.PK(), &rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(rec.Value, out); err != nil {
		return false, errors.Mark(ErrInvalidValue, 0).Append(key + ": " + err.Error())
	}
	return true, nil
}

// Set stores the option, replacing any existing value.
func (p *OptionsPlugin) Set(ctx context.Context, site int64, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Mark(ErrInvalidValue, 0).Append(key + ": " + err.Error())
	}
	return p.store.Upsert(ctx, Record{Site: site, Key: key, Value: b})
}

// Delete removes the option. Deleting an unset option is not an error.
func (p *OptionsPlugin) Delete(ctx context.Context, site int64, key string) error {
	err := p.store.Delete(ctx, Record{Site: site, Key: key})
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// String returns a string option or def when unset.
func (p *OptionsPlugin) String(ctx context.Context, site int64, key string, def string) (string, error) {
	v := def
	if _, err := p.Get(ctx, site, key, &v); err != nil {
		return def, err
	}
	return v, nil
}

// Int64 returns an integer option, such as a page id, or def when unset.
func (p *OptionsPlugin) Int64(ctx context.Context, site int64, key string, def int64) (int64, error) {
	v := def
	if _, err := p.Get(ctx, site, key, &v); err != nil {
		return def, err
	}
	return v, nil
}

// Bool returns a boolean option, false when unset.
func (p *OptionsPlugin) Bool(ctx context.Context, site int64, key string) (bool, error) {
	var v bool
	_, err := p.Get(ctx, site, key, &v)
	return v, err
}

// Strings returns a list option, such as the super admin logins.
func (p *OptionsPlugin) Strings(ctx context.Context, site int64, key string) ([]string, error) {
	var v []string
	_, err := p.Get(ctx, site, key, &v)
	return v, err
}

// Flags returns a map option, such as the network menu items.
func (p *OptionsPlugin) Flags(ctx context.Context, site int64, key string) (map[string]bool, error) {
	var v map[string]bool
	_, err := p.Get(ctx, site, key, &v)
	return v, err
}
