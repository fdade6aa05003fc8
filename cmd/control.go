// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/partmove/partmove/internal/apppaths"
	"github.com/partmove/partmove/internal/ctlsock"
)

func pauseCmd() *cobra.Command  { return controlCmd("pause", "Pause the currently running migration") }
func resumeCmd() *cobra.Command { return controlCmd("resume", "Resume a paused migration") }
func stopCmd() *cobra.Command   { return controlCmd("stop", "Stop the currently running migration") }

// controlCmd builds a pause/resume/stop subcommand: each dials the running
// migrate invocation's control socket and sends a single word command.
func controlCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := apppaths.Resolve()
			if err != nil {
				return fmt.Errorf("resolving app paths: %w", err)
			}

			sockPath := filepath.Join(paths.Root, "control.sock")
			if err := ctlsock.Send(sockPath, verb); err != nil {
				if errors.Is(err, ctlsock.ErrNoRunningMigration) {
					fmt.Println("no migration is currently running")
					return nil
				}
				return err
			}

			fmt.Printf("%s sent\n", verb)
			return nil
		},
	}
}
