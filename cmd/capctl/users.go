package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the roles and individual capabilities of users",
		Long: `Manage the roles and individual capabilities of users. USER is a numeric ID
or a login.`,
	}

	show := &cobra.Command{
		Use:   "show USER",
		Short: "Show a user's roles and individual grants on the site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			uc, err := a.engine.Users.Get(ctx, a.site, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "roles: %s\n", strings.Join(uc.Roles, ", "))
			printGrants(cmd, uc.Caps)
			return nil
		},
	}

	effective := &cobra.Command{
		Use:   "caps USER",
		Short: "Show the effective capabilities of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			all, err := a.engine.Users.Effective(ctx, a.site, id)
			if err != nil {
				return err
			}
			printGrants(cmd, all)
			return nil
		},
	}

	setRole := &cobra.Command{
		Use:   "set-role USER ROLE",
		Short: "Replace the user's roles with ROLE, or remove all roles when ROLE is empty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			return a.engine.Users.SetRole(ctx, a.site, id, args[1])
		},
	}

	addRole := &cobra.Command{
		Use:   "add-role USER ROLE",
		Short: "Give the user an additional role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			return a.engine.Users.AddRole(ctx, a.site, id, args[1])
		},
	}

	removeRole := &cobra.Command{
		Use:   "remove-role USER ROLE",
		Short: "Take a role away from the user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			return a.engine.Users.RemoveRole(ctx, a.site, id, args[1])
		},
	}

	grant := a.grantCmd("grant USER CAP", "Grant an individual capability to the user", true)
	deny := a.grantCmd("deny USER CAP", "Deny an individual capability to the user, overriding roles", false)

	revoke := &cobra.Command{
		Use:   "revoke USER CAP",
		Short: "Remove an individual grant or denial",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			return a.engine.Users.RemoveCap(ctx, a.site, id, args[1])
		},
	}

	var revokeSuper bool
	superAdmin := &cobra.Command{
		Use:   "super-admin USER",
		Short: "Make the user a network super admin, or revoke with --revoke",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			if revokeSuper {
				return a.engine.Users.RevokeSuperAdmin(ctx, id)
			}
			return a.engine.Users.GrantSuperAdmin(ctx, id)
		},
	}
	superAdmin.Flags().BoolVar(&revokeSuper, "revoke", false, "Revoke super admin")

	cmd.AddCommand(show, effective, setRole, addRole, removeRole, grant, deny, revoke, superAdmin)
	return cmd
}

func (a *app) grantCmd(use, short string, grant bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			return a.engine.Users.AddCap(ctx, a.site, id, args[1], grant)
		},
	}
}
