package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dpup/capable"
	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/plugins/caps"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
)

// errDenied is returned by can when the capability is not held.
var errDenied = errors.NewC("capability denied", codes.PermissionDenied)

type app struct {
	site       int64
	fixtures   string
	configFile string
	noPopulate bool

	opts   []capable.Option
	engine *capable.Engine
}

func newApp(opts ...capable.Option) *app {
	return &app{opts: opts}
}

func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "capctl",
		Short: "Inspect and manage roles and capabilities",
		Long: `capctl manages the roles of a site, the roles and individual grants of
its users, and answers capability checks the same way the engine does.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
	}

	flags := root.PersistentFlags()
	flags.Int64VarP(&a.site, "site", "s", 1, "Site ID")
	flags.StringVarP(&a.fixtures, "fixtures", "f", "", "YAML file of users, content and options to load first")
	flags.StringVarP(&a.configFile, "config", "c", "", "Config file, in addition to an auto-discovered capable.yaml")
	flags.BoolVar(&a.noPopulate, "no-populate", false, "Do not install the default roles")

	root.AddCommand(a.rolesCmd(), a.usersCmd(), a.canCmd(), a.mapCmd())
	return root
}

func (a *app) open(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if a.configFile != "" {
		if _, err := os.Stat(a.configFile); err != nil {
			return errors.WrapPrefix(err, "config", 0)
		}
		capable.LoadConfigFile(a.configFile)
	}

	e, err := capable.New(ctx, a.opts...)
	if err != nil {
		return err
	}
	a.engine = e
	for _, w := range capable.ValidateConfig() {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}

	ctx = e.Context()
	if !a.noPopulate {
		if err := e.Roles.Populate(ctx, a.site); err != nil {
			return err
		}
	}
	if a.fixtures != "" {
		if err := a.loadFixtures(ctx, a.fixtures); err != nil {
			return errors.WrapPrefix(err, "fixtures", 0)
		}
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.engine == nil {
		return nil
	}
	err := a.engine.Close(ctx)
	a.engine = nil
	return err
}

// userID accepts a numeric ID or a login.
func (a *app) userID(ctx context.Context, s string) (int64, error) {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	u, err := a.engine.Content.UserByLogin(ctx, s)
	if err != nil {
		return 0, err
	}
	if u == nil {
		return 0, errors.Mark(caps.ErrUnknownUser, 0).Append(s)
	}
	return u.ID, nil
}
