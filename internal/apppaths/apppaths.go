// SPDX-License-Identifier: Apache-2.0

// Package apppaths resolves the single storage root partmove persists its
// metadata store, vault key, and log files under, per the "Global
// application paths" design note: a capability resolved once and passed
// explicitly rather than looked up ad hoc throughout the codebase.
package apppaths

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvOverride is the environment variable that redirects the storage root,
// used by tests and by operators who want a non-default location.
const EnvOverride = "MIGRATION_APP_DATA_DIR"

// AppPaths is the resolved set of file locations partmove reads and writes.
type AppPaths struct {
	Root     string
	DBPath   string
	VaultKey string
	LogDir   string
}

// Resolve determines the storage root, preferring EnvOverride, then the
// platform's per-user config directory, and ensures the directory tree
// exists.
func Resolve() (AppPaths, error) {
	root := os.Getenv(EnvOverride)
	if root == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return AppPaths{}, fmt.Errorf("resolving user config dir: %w", err)
		}
		root = filepath.Join(base, "partmove")
	}

	p := AppPaths{
		Root:     root,
		DBPath:   filepath.Join(root, "migration.db"),
		VaultKey: filepath.Join(root, "vault.key"),
		LogDir:   filepath.Join(root, "logs"),
	}

	if err := os.MkdirAll(p.LogDir, 0o700); err != nil {
		return AppPaths{}, fmt.Errorf("creating app data directories: %w", err)
	}

	return p, nil
}
