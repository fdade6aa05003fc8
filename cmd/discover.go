// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/partmove/partmove/internal/connstr"
	"github.com/partmove/partmove/internal/discovery"
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

func discoverCmd() *cobra.Command {
	var profileID string
	var from, to string
	var types []string

	c := &cobra.Command{
		Use:   "discover",
		Short: "List partitions the source catalog reports within a date range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			profile, sourcePW, _, err := a.store.Profiles.Get(cmd.Context(), profileID)
			if err != nil {
				return fmt.Errorf("loading profile %s: %w", profileID, err)
			}

			plaintext, err := a.vault.OpenString(sourcePW)
			if err != nil {
				return fmt.Errorf("opening source password: %w", err)
			}

			dsn := connstr.Build(profile.Source, plaintext)
			conn, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("connecting to source: %w", err)
			}
			defer conn.Close()

			fromT, err := time.Parse("2006-01-02", from)
			if err != nil {
				return fmt.Errorf("parsing --from: %w", err)
			}
			toT, err := time.Parse("2006-01-02", to)
			if err != nil {
				return fmt.Errorf("parsing --to: %w", err)
			}

			tableTypes := make([]model.TableType, len(types))
			for i, t := range types {
				tableTypes[i] = model.TableType(strings.ToUpper(t))
			}

			d := discovery.New(&partdb.RDB{DB: conn}, slog.New(a.logger.SlogHandler()))
			partitions, err := d.Discover(cmd.Context(), discovery.Range{From: fromT, To: toT}, tableTypes)
			if err != nil {
				return fmt.Errorf("discovering partitions: %w", err)
			}
			partitions = d.EstimateRows(cmd.Context(), partitions)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			printPartitions(w, partitions)
			return w.Flush()
		},
	}

	c.Flags().StringVar(&profileID, "profile", "", "profile id (required)")
	c.Flags().StringVar(&from, "from", "", "range start, YYYY-MM-DD (required)")
	c.Flags().StringVar(&to, "to", "", "range end, YYYY-MM-DD (required)")
	c.Flags().StringSliceVar(&types, "types", []string{"PH", "TH", "ED", "RT"}, "table types to discover")
	_ = c.MarkFlagRequired("profile")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")

	return c
}

func printPartitions(w *tabwriter.Writer, partitions []model.PartitionDescriptor) {
	fmt.Fprintln(w, "TYPE\tPARTITION\tFROM\tTO\tEST. ROWS")
	for _, p := range partitions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			p.Type, p.ChildTable,
			time.UnixMilli(p.FromDate).UTC().Format("2006-01-02"),
			time.UnixMilli(p.ToDate).UTC().Format("2006-01-02"),
			p.EstimatedRows,
		)
	}
}
