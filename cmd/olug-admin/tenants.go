package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ha1tch/olu-graph/pkg/applications"
	"github.com/ha1tch/olu-graph/pkg/auth"
)

// NewAppsCommand creates the apps command group
func NewAppsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "Manage applications",
	}
	cmd.AddCommand(newAppsCreateCommand(opts))
	cmd.AddCommand(newAppsListCommand(opts))
	return cmd
}

func newAppsCreateCommand(opts *RootOptions) *cobra.Command {
	var persistent bool

	cmd := &cobra.Command{
		Use:   "create <label>",
		Short: "Register an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, issuer, err := opts.tenants()
			if err != nil {
				return err
			}
			grant, err := issuer.Grant(operator, auth.CapabilityManageTenants)
			if err != nil {
				return err
			}
			app, err := svc.CreateApplication(cmd.Context(), args[0], persistent, grant)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), app, func(w io.Writer) {
				fmt.Fprintf(w, "Created application %s (%s)\n", app.Key, app.Label)
			})
		},
	}
	cmd.Flags().BoolVar(&persistent, "persistent", false, "mark the application as persistent")
	return cmd
}

func newAppsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := opts.tenants()
			if err != nil {
				return err
			}
			apps := []applications.Application{}
			for app, err := range svc.GetApplications(cmd.Context(), operator) {
				if err != nil {
					return err
				}
				apps = append(apps, app)
			}
			return opts.print(cmd.OutOrStdout(), apps, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tLABEL\tPERSISTENT")
				for _, app := range apps {
					fmt.Fprintf(tw, "%s\t%s\t%t\n", app.Key, app.Label, app.Persistent)
				}
				tw.Flush()
			})
		},
	}
}

// NewKeysCommand creates the keys command group
func NewKeysCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys of an application",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate <application> <name>",
		Short: "Issue a new API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := opts.tenants()
			if err != nil {
				return err
			}
			key, err := svc.GenerateApiKey(cmd.Context(), args[0], args[1], operator)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), key, func(w io.Writer) {
				fmt.Fprintf(w, "%s\n", key.Key)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <application>",
		Short: "List every key of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := opts.tenants()
			if err != nil {
				return err
			}
			keys := []applications.ApiKey{}
			for key, err := range svc.GetKeysForApplication(cmd.Context(), args[0], operator) {
				if err != nil {
					return err
				}
				keys = append(keys, key)
			}
			return opts.print(cmd.OutOrStdout(), keys, func(w io.Writer) {
				printKeys(w, keys)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <application> <name>",
		Short: "Deactivate the active keys with the given name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := opts.tenants()
			if err != nil {
				return err
			}
			keys, err := svc.RevokeApiKey(cmd.Context(), args[0], args[1], operator)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), keys, func(w io.Writer) {
				fmt.Fprintf(w, "Revoked %d key(s)\n", len(keys))
			})
		},
	})
	return cmd
}

func printKeys(w io.Writer, keys []applications.ApiKey) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKEY\tACTIVE\tISSUED")
	for _, key := range keys {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", key.Label, key.Key, key.Active, key.IssueDate.Format(time.RFC3339))
	}
	tw.Flush()
}
