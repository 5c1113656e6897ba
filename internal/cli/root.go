// Package cli holds the bankgate commands.
package cli

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-auth-pipeline"
	"github.com/goliatone/go-auth-pipeline/internal/server"
)

// BuildInfo is stamped by the linker.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewRootCommand returns the bankgate command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "bankgate",
		Short:         "Authenticated gateway for the banking frontend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	root.AddCommand(
		newServeCommand(&configPath),
		newCheckRouteCommand(&configPath),
		newVersionCommand(info),
	)
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(*configPath)
			if err != nil {
				return err
			}

			z, err := auth.NewZapLogger(cfg.Pipeline.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = z.Sync() }()
			logger := auth.NewLogger(z.Named("bankgate"))

			srv, err := server.New(cmd.Context(), cfg, server.WithLogger(logger))
			if err != nil {
				logger.Error("unable to start", "error", err)
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}

type routeCheck struct {
	Path     string   `json:"path"`
	Required []string `json:"required_roles"`
	Roles    []string `json:"roles"`
	State    string   `json:"state"`
	Allowed  bool     `json:"allowed"`
	Redirect string   `json:"redirect,omitempty"`
}

// newCheckRouteCommand evaluates a route requirement offline, which helps
// debug the routes section of a configuration file.
func newCheckRouteCommand(configPath *string) *cobra.Command {
	var (
		roles     []string
		anonymous bool
	)

	cmd := &cobra.Command{
		Use:   "check-route <path>",
		Short: "Show whether a role list may open a route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := auth.DefaultConfig()
			if *configPath != "" {
				loaded, err := server.LoadConfig(*configPath)
				if err != nil {
					return err
				}
				cfg = loaded.Pipeline
			}

			route := auth.NewRouteTable(cfg.Routes).Resolve(args[0])
			granted := auth.NewRoleSet(roles...)

			check := routeCheck{
				Path:     route.Path,
				Required: route.Requirement.RequiredRoles.Slice(),
				Roles:    granted.Slice(),
			}
			switch {
			case anonymous:
				check.State = string(auth.GuardDeniedLogin)
				check.Redirect = auth.LoginRedirect(cfg, route.Path)
			case route.Requirement.SatisfiedBy(granted):
				check.State = string(auth.GuardAdmitted)
				check.Allowed = true
			default:
				check.State = string(auth.GuardDeniedUnauthorized)
				check.Redirect = cfg.UnauthorizedPath
			}

			fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(check))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&roles, "roles", "r", nil, "roles held by the user, comma separated")
	cmd.Flags().BoolVar(&anonymous, "anonymous", false, "evaluate as a signed out user")
	return cmd
}

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			parts := []string{valueOr(info.Version, "dev")}
			if info.Commit != "" {
				parts = append(parts, info.Commit)
			}
			if info.Date != "" {
				parts = append(parts, info.Date)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "bankgate "+strings.Join(parts, " "))
		},
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

