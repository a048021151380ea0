package main

import (
	"context"

	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/content"
	"github.com/dpup/capable/plugins/options"
	"github.com/dpup/capable/plugins/storage"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// fixtures is the layout of a --fixtures file:
//
//	users:
//	  - id: 2
//	    login: amy
//	    roles: [author]
//	    caps: {upload_files: false}
//	posts:
//	  - {id: 10, type: post, status: publish, author: 2}
//	options:
//	  default_category: 1
//	networkOptions:
//	  add_new_users: true
//
// Users, roles and options apply to the --site site.
type fixtures struct {
	Users          []fixtureUser    `koanf:"users"`
	Posts          []fixturePost    `koanf:"posts"`
	Comments       []fixtureComment `koanf:"comments"`
	Terms          []fixtureTerm    `koanf:"terms"`
	Options        map[string]any   `koanf:"options"`
	NetworkOptions map[string]any   `koanf:"networkOptions"`
}

type fixtureUser struct {
	ID          int64           `koanf:"id"`
	Login       string          `koanf:"login"`
	Email       string          `koanf:"email"`
	DisplayName string          `koanf:"displayName"`
	Roles       []string        `koanf:"roles"`
	Caps        map[string]bool `koanf:"caps"`
	SuperAdmin  bool            `koanf:"superAdmin"`
}

type fixturePost struct {
	ID     int64             `koanf:"id"`
	Type   string            `koanf:"type"`
	Status string            `koanf:"status"`
	Author int64             `koanf:"author"`
	Parent int64             `koanf:"parent"`
	Title  string            `koanf:"title"`
	Meta   map[string]string `koanf:"meta"`
}

type fixtureComment struct {
	ID     int64 `koanf:"id"`
	PostID int64 `koanf:"postId"`
	UserID int64 `koanf:"userId"`
}

type fixtureTerm struct {
	ID       int64  `koanf:"id"`
	Taxonomy string `koanf:"taxonomy"`
	Name     string `koanf:"name"`
	Slug     string `koanf:"slug"`
	Parent   int64  `koanf:"parent"`
}

func readFixtures(path string) (*fixtures, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, err
	}
	var f fixtures
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}
	return &f, nil
}

func (a *app) loadFixtures(ctx context.Context, path string) error {
	f, err := readFixtures(path)
	if err != nil {
		return err
	}
	e := a.engine

	var objs []storage.Model
	for _, u := range f.Users {
		objs = append(objs, content.User{ID: u.ID, Login: u.Login, Email: u.Email, DisplayName: u.DisplayName})
	}
	for _, p := range f.Posts {
		objs = append(objs, content.Post{
			Site: a.site, ID: p.ID, Type: p.Type, Status: p.Status,
			Author: p.Author, Parent: p.Parent, Title: p.Title, Meta: p.Meta,
		})
	}
	for _, c := range f.Comments {
		objs = append(objs, content.Comment{Site: a.site, ID: c.ID, PostID: c.PostID, UserID: c.UserID})
	}
	for _, t := range f.Terms {
		objs = append(objs, content.Term{Site: a.site, ID: t.ID, Taxonomy: t.Taxonomy, Name: t.Name, Slug: t.Slug, Parent: t.Parent})
	}
	if len(objs) > 0 {
		if err := e.Content.Save(ctx, objs...); err != nil {
			return err
		}
	}

	for key, val := range f.Options {
		if err := e.Options.Set(ctx, a.site, key, val); err != nil {
			return err
		}
	}
	for key, val := range f.NetworkOptions {
		if err := e.Options.Set(ctx, options.Network, key, val); err != nil {
			return err
		}
	}

	for _, u := range f.Users {
		if len(u.Roles) > 0 {
			if err := e.Users.SetRole(ctx, a.site, u.ID, u.Roles[0]); err != nil {
				return err
			}
			for _, r := range u.Roles[1:] {
				if err := e.Users.AddRole(ctx, a.site, u.ID, r); err != nil {
					return err
				}
			}
		}
		for name, grant := range u.Caps {
			if err := e.Users.AddCap(ctx, a.site, u.ID, name, grant); err != nil {
				return err
			}
		}
		if u.SuperAdmin {
			if err := e.Users.GrantSuperAdmin(ctx, u.ID); err != nil {
				return err
			}
		}
	}
	logging.Infow(ctx, "capctl: fixtures loaded", "path", path,
		"users", len(f.Users), "posts", len(f.Posts), "terms", len(f.Terms))
	return nil
}
