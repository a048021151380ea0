package main

import (
	"fmt"
	"strings"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/plugins/caps"
	"github.com/spf13/cobra"
)

type objectFlags struct {
	object  int64
	metaKey string
}

func (o *objectFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&o.object, "object", "o", 0, "ID of the post, comment, term or user the capability is checked against")
	cmd.Flags().StringVarP(&o.metaKey, "meta", "m", "", "Meta key, for the *_meta capabilities")
}

func (o *objectFlags) args() caps.Args {
	return caps.OnMeta(o.object, o.metaKey)
}

func (a *app) canCmd() *cobra.Command {
	var (
		obj   objectFlags
		quiet bool
	)
	cmd := &cobra.Command{
		Use:   "can USER CAP",
		Short: "Check whether a user holds a capability",
		Long: `Check whether a user holds a capability, resolving meta capabilities
against --object first. Exits with status 2 when the capability is denied.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			d, err := a.engine.Checker.Check(ctx, a.site, id, args[1], obj.args())
			if err != nil {
				return err
			}
			if !quiet {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "allowed:  %t\n", d.Allowed)
				fmt.Fprintf(out, "required: %s\n", strings.Join(d.Required, ", "))
				if len(d.Missing) > 0 {
					fmt.Fprintf(out, "missing:  %s\n", strings.Join(d.Missing, ", "))
				}
				if d.SuperAdmin {
					fmt.Fprintln(out, "super admin")
				}
				fmt.Fprintf(out, "reason:   %s\n", d.Reason)
			}
			if !d.Allowed {
				return errors.Mark(errDenied, 0)
			}
			return nil
		},
	}
	obj.register(cmd)
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only report through the exit status")
	return cmd
}

func (a *app) mapCmd() *cobra.Command {
	var obj objectFlags
	cmd := &cobra.Command{
		Use:   "map USER CAP",
		Short: "Show the primitive capabilities a meta capability resolves to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.engine.Context()
			id, err := a.userID(ctx, args[0])
			if err != nil {
				return err
			}
			required, err := a.engine.Resolver.Map(ctx, caps.Request{Site: a.site, Cap: args[1], UserID: id, Args: obj.args()})
			if err != nil {
				return err
			}
			for _, c := range required {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
	obj.register(cmd)
	return cmd
}
