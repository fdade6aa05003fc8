// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/partmove/partmove/pkg/model"
)

func profileCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "profile",
		Short: "Manage saved source/target connection profiles",
	}
	c.AddCommand(profileAddCmd())
	c.AddCommand(profileListCmd())
	c.AddCommand(profileRemoveCmd())
	return c
}

func profileAddCmd() *cobra.Command {
	var name, description string
	var srcHost, tgtHost string
	var srcPort, tgtPort int
	var srcDB, tgtDB string
	var srcUser, tgtUser string
	var srcPassword, tgtPassword string
	var srcSSL, tgtSSL string
	var compat string

	c := &cobra.Command{
		Use:   "add",
		Short: "Save a new connection profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p := model.ConnectionProfile{
				Name:        name,
				Description: description,
				Source: model.ConnectionConfig{
					Host: srcHost, Port: srcPort, DBName: srcDB, User: srcUser,
					Password: srcPassword, SSLMode: model.SSLMode(srcSSL),
				},
				Target: model.ConnectionConfig{
					Host: tgtHost, Port: tgtPort, DBName: tgtDB, User: tgtUser,
					Password: tgtPassword, SSLMode: model.SSLMode(tgtSSL),
				},
				Compat: model.CompatibilityMode(compat),
			}

			created, err := a.store.Profiles.Create(cmd.Context(), a.vault, p)
			if err != nil {
				return fmt.Errorf("saving profile: %w", err)
			}

			fmt.Printf("profile %q saved (id %s)\n", created.Name, created.ID)
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "profile name (required)")
	c.Flags().StringVar(&description, "description", "", "profile description")
	c.Flags().StringVar(&srcHost, "source-host", "localhost", "source database host")
	c.Flags().IntVar(&srcPort, "source-port", 5432, "source database port")
	c.Flags().StringVar(&srcDB, "source-dbname", "", "source database name (required)")
	c.Flags().StringVar(&srcUser, "source-user", "", "source database user (required)")
	c.Flags().StringVar(&srcPassword, "source-password", "", "source database password")
	c.Flags().StringVar(&srcSSL, "source-sslmode", string(model.SSLModeDisable), "source sslmode")
	c.Flags().StringVar(&tgtHost, "target-host", "localhost", "target database host")
	c.Flags().IntVar(&tgtPort, "target-port", 5432, "target database port")
	c.Flags().StringVar(&tgtDB, "target-dbname", "", "target database name (required)")
	c.Flags().StringVar(&tgtUser, "target-user", "", "target database user (required)")
	c.Flags().StringVar(&tgtPassword, "target-password", "", "target database password")
	c.Flags().StringVar(&tgtSSL, "target-sslmode", string(model.SSLModeDisable), "target sslmode")
	c.Flags().StringVar(&compat, "compat", string(model.CompatibilityAuto), "compatibility mode: auto, v9_3, v16")

	for _, req := range []string{"name", "source-dbname", "source-user", "target-dbname", "target-user"} {
		_ = c.MarkFlagRequired(req)
	}

	return c
}

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved connection profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			profiles, err := a.store.Profiles.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing profiles: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCOMPAT\tUPDATED")
			for _, p := range profiles {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Compat, p.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func profileRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <profile-id>",
		Short: "Delete a saved connection profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Profiles.Remove(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("removing profile %s: %w", args[0], err)
			}
			fmt.Println("removed")
			return nil
		},
	}
}
