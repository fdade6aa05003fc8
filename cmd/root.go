// SPDX-License-Identifier: Apache-2.0

// Package cmd is the partmove CLI surface: profile add|list|remove,
// discover, migrate, status, pause|resume|stop. Built as a package-level
// cobra.Command tree with viper env binding and a single Execute entry
// point.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/partmove/partmove/internal/apppaths"
	"github.com/partmove/partmove/internal/logging"
	"github.com/partmove/partmove/internal/store"
	"github.com/partmove/partmove/internal/vault"
)

// Version is the partmove version, set at build time via -ldflags.
var Version = "development"

// ExitError carries the process exit code a failed or canceled migration
// should produce: 0 completed, 2 failed, 3 canceled.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func init() {
	viper.SetEnvPrefix("PARTMOVE")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("app-data-dir", "", "Override the directory partmove stores its metadata, vault key, and logs under")
	viper.BindPFlag("APP_DATA_DIR", rootCmd.PersistentFlags().Lookup("app-data-dir"))
}

var rootCmd = &cobra.Command{
	Use:          "partmove",
	Short:        "Migrate legacy partitioned tables to a freshly provisioned target schema",
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command.
func Execute() error {
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(pauseCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(stopCmd())

	return rootCmd.Execute()
}

// app bundles the resolved paths and opened capabilities every subcommand
// needs: the metadata store, the credential vault, and the session logger.
type app struct {
	paths  apppaths.AppPaths
	store  *store.Store
	vault  *vault.Vault
	logger *logging.Logger
}

// newApp resolves app paths and opens the store, vault, and logger. A
// non-empty --app-data-dir flag or PARTMOVE_APP_DATA_DIR value takes
// precedence over MIGRATION_APP_DATA_DIR.
func newApp(_ context.Context) (*app, error) {
	if override := viper.GetString("APP_DATA_DIR"); override != "" {
		if err := os.Setenv(apppaths.EnvOverride, override); err != nil {
			return nil, fmt.Errorf("setting app data dir override: %w", err)
		}
	}

	paths, err := apppaths.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolving app paths: %w", err)
	}

	v, err := vault.Open(paths.VaultKey)
	if err != nil {
		return nil, fmt.Errorf("opening vault: %w", err)
	}

	st, err := store.Open(paths.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	log := logging.New(paths.LogDir, st.Logs)

	return &app{paths: paths, store: st, vault: v, logger: log}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
