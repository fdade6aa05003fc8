// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/partmove/partmove/internal/store"
	"github.com/partmove/partmove/pkg/model"
)

func statusCmd() *cobra.Command {
	var runID, profileID string

	c := &cobra.Command{
		Use:   "status",
		Short: "Show a migration run and its checkpoints that are not yet completed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var run model.MigrationRun
			switch {
			case runID != "":
				run, err = a.store.Runs.Get(cmd.Context(), runID)
			case profileID != "":
				run, err = a.store.Runs.IncompleteFor(cmd.Context(), profileID)
			default:
				return fmt.Errorf("status requires --run or --profile")
			}
			if err == store.ErrNotFound {
				fmt.Println("no matching migration run found")
				return nil
			}
			if err != nil {
				return fmt.Errorf("loading run status: %w", err)
			}

			fmt.Printf("run %s: %s (%d/%d partitions, %d rows copied)\n",
				run.ID, run.Status, run.DonePartitions, run.TotalPartitions, run.TotalRows)
			if run.ErrorMessage != "" {
				fmt.Printf("error: %s\n", run.ErrorMessage)
			}

			checkpoints, err := a.store.Checkpoints.PendingFor(cmd.Context(), run.ID)
			if err != nil {
				return fmt.Errorf("loading checkpoints: %w", err)
			}
			for _, cp := range checkpoints {
				fmt.Printf("  %s: %s (%d rows)\n", cp.PartitionName, cp.Status, cp.RowsCopied)
			}

			return nil
		},
	}

	c.Flags().StringVar(&runID, "run", "", "migration run id")
	c.Flags().StringVar(&profileID, "profile", "", "profile id (shows the latest incomplete run)")

	return c
}
