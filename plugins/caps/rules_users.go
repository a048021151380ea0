package caps

import (
	"context"

	"github.com/dpup/capable/plugins/options"
)

func (r *Resolver) registerUserRules() {
	r.handle(r.removeUser, "remove_user")
	r.handle(to("promote_users"), "promote_user", "add_users")
	r.handle(r.editUser, "edit_user", "edit_users")
	r.handle(r.deleteUser, "delete_user", "delete_users")
	r.handle(r.createUsers, "create_users")
	r.handle(r.appPassword,
		"create_app_password", "list_app_passwords", "read_app_password",
		"edit_app_password", "delete_app_passwords", "delete_app_password")
}

// removeUser stops users removing themselves unless they are a super admin.
func (r *Resolver) removeUser(ctx context.Context, req Request) ([]string, error) {
	if req.Args.ObjectID != 0 && req.Args.ObjectID == req.UserID {
		ok, err := r.superAdmin(ctx, req)
		if err != nil {
			return nil, err
		}
		if !ok {
			return denied(), nil
		}
	}
	return []string{"remove_users"}, nil
}

func (r *Resolver) editUser(ctx context.Context, req Request) ([]string, error) {
	if req.Cap == "edit_user" && req.Args.ObjectID != 0 && req.Args.ObjectID == req.UserID {
		return []string{}, nil
	}
	if !r.settings.Multisite {
		return []string{"edit_users"}, nil
	}

	self, err := r.superAdmin(ctx, req)
	if err != nil {
		return nil, err
	}
	if !self && req.Cap == "edit_user" && r.auth != nil {
		target, err := r.auth.IsSuperAdmin(ctx, req.Site, req.Args.ObjectID)
		if err != nil {
			return nil, err
		}
		if target {
			return denied(), nil
		}
	}
	if r.auth == nil {
		return denied(), nil
	}
	ok, err := r.auth.can(ctx, req.Site, req.UserID, "manage_network_users", Args{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return denied(), nil
	}
	return []string{"edit_users"}, nil
}

func (r *Resolver) deleteUser(ctx context.Context, req Request) ([]string, error) {
	return r.requireSuperAdminOnNetwork(ctx, req, "delete_users")
}

func (r *Resolver) createUsers(ctx context.Context, req Request) ([]string, error) {
	if !r.settings.Multisite {
		return []string{req.Cap}, nil
	}
	ok, err := r.superAdmin(ctx, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		ok, err = r.options.Bool(ctx, options.Network, options.AddNewUsers)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return denied(), nil
	}
	return []string{req.Cap}, nil
}

func (r *Resolver) appPassword(ctx context.Context, req Request) ([]string, error) {
	return r.mapAs(ctx, req, "edit_user", On(req.Args.ObjectID))
}
