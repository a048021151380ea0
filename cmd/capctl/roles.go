package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/dpup/capable/errors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
)

var errUnknownRole = errors.NewC("unknown role", codes.NotFound)

func (a *app) rolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage the roles of a site",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List roles and the number of capabilities they grant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			roles, err := a.engine.Roles.Roles(a.engine.Context(), a.site)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(roles))
			for _, r := range roles {
				rows = append(rows, []string{r.Key, r.Name, strconv.Itoa(len(r.Capabilities))})
			}
			printTable(cmd, []string{"KEY", "NAME", "CAPS"}, rows)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show ROLE",
		Short: "Show the capabilities of a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := a.engine.Roles.GetRole(a.engine.Context(), a.site, args[0])
			if err != nil {
				return err
			}
			if role == nil {
				return errors.Mark(errUnknownRole, 0).Append(args[0])
			}
			printGrants(cmd, role.Capabilities)
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add KEY NAME [CAP...]",
		Short: "Add a role granting the listed capabilities",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			grants := map[string]bool{}
			for _, c := range args[2:] {
				grants[c] = true
			}
			role, err := a.engine.Roles.AddRole(a.engine.Context(), a.site, args[0], args[1], grants)
			if err != nil {
				return err
			}
			if role == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "role %q already exists\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added role %q\n", role.Key)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove ROLE",
		Short: "Remove a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.engine.Roles.RemoveRole(a.engine.Context(), a.site, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed role %q\n", args[0])
			return nil
		},
	}

	var deny bool
	addCap := &cobra.Command{
		Use:   "add-cap ROLE CAP",
		Short: "Grant a capability to a role, or deny it with --deny",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.engine.Roles.AddCap(a.engine.Context(), a.site, args[0], args[1], !deny)
		},
	}
	addCap.Flags().BoolVar(&deny, "deny", false, "Record an explicit denial")

	removeCap := &cobra.Command{
		Use:   "remove-cap ROLE CAP",
		Short: "Remove a capability from a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.engine.Roles.RemoveCap(a.engine.Context(), a.site, args[0], args[1])
		},
	}

	populate := &cobra.Command{
		Use:   "populate",
		Short: "Install the default roles",
		Long: `Install the default roles. Roles that already exist are left alone, so
running populate twice is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.engine.Roles.Populate(a.engine.Context(), a.site); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "default roles installed on site %d\n", a.site)
			return nil
		},
	}

	cmd.AddCommand(list, show, add, remove, addCap, removeCap, populate)
	return cmd
}

// printGrants prints capabilities sorted by name, marking denials.
func printGrants(cmd *cobra.Command, grants map[string]bool) {
	for _, name := range slices.Sorted(maps.Keys(grants)) {
		if grants[name] {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), name, "(denied)")
		}
	}
}
