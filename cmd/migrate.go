// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/partmove/partmove/internal/connstr"
	"github.com/partmove/partmove/internal/controlbus"
	"github.com/partmove/partmove/internal/ctlsock"
	"github.com/partmove/partmove/internal/discovery"
	"github.com/partmove/partmove/internal/engine/rowbatch"
	"github.com/partmove/partmove/internal/engine/streamcopy"
	"github.com/partmove/partmove/internal/worker"
	partdb "github.com/partmove/partmove/pkg/db"
	"github.com/partmove/partmove/pkg/model"
)

func migrateCmd() *cobra.Command {
	var profileID string
	var from, to string
	var types []string
	var engineKind string
	var continueOnError bool

	c := &cobra.Command{
		Use:   "migrate",
		Short: "Run a migration for the partitions discovered within a date range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), migrateOpts{
				profileID:       profileID,
				from:            from,
				to:              to,
				types:           types,
				engine:          model.EngineKind(engineKind),
				continueOnError: continueOnError,
			})
		},
	}

	c.Flags().StringVar(&profileID, "profile", "", "profile id (required)")
	c.Flags().StringVar(&from, "from", "", "range start, YYYY-MM-DD (required)")
	c.Flags().StringVar(&to, "to", "", "range end, YYYY-MM-DD (required)")
	c.Flags().StringSliceVar(&types, "types", []string{"PH", "TH", "ED", "RT"}, "table types to migrate")
	c.Flags().StringVar(&engineKind, "engine", string(model.EngineRowBatch), "data-movement engine: row_batch or streaming_copy")
	c.Flags().BoolVar(&continueOnError, "continue-on-error", false, "continue to the next partition after a schema-conflict failure")
	_ = c.MarkFlagRequired("profile")
	_ = c.MarkFlagRequired("from")
	_ = c.MarkFlagRequired("to")

	return c
}

type migrateOpts struct {
	profileID       string
	from, to        string
	types           []string
	engine          model.EngineKind
	continueOnError bool
}

func runMigrate(ctx context.Context, opts migrateOpts) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	profile, sourcePW, targetPW, err := a.store.Profiles.Get(ctx, opts.profileID)
	if err != nil {
		return fmt.Errorf("loading profile %s: %w", opts.profileID, err)
	}

	sourcePlain, err := a.vault.OpenString(sourcePW)
	if err != nil {
		return fmt.Errorf("opening source password: %w", err)
	}
	targetPlain, err := a.vault.OpenString(targetPW)
	if err != nil {
		return fmt.Errorf("opening target password: %w", err)
	}

	sourceConn, err := sql.Open("postgres", connstr.Build(profile.Source, sourcePlain))
	if err != nil {
		return fmt.Errorf("connecting to source: %w", err)
	}
	defer sourceConn.Close()

	targetConn, err := sql.Open("postgres", connstr.Build(profile.Target, targetPlain))
	if err != nil {
		return fmt.Errorf("connecting to target: %w", err)
	}
	defer targetConn.Close()

	source := &partdb.RDB{DB: sourceConn}
	target := &partdb.RDB{DB: targetConn}

	fromT, err := time.Parse("2006-01-02", opts.from)
	if err != nil {
		return fmt.Errorf("parsing --from: %w", err)
	}
	toT, err := time.Parse("2006-01-02", opts.to)
	if err != nil {
		return fmt.Errorf("parsing --to: %w", err)
	}

	tableTypes := make([]model.TableType, len(opts.types))
	for i, t := range opts.types {
		tableTypes[i] = model.TableType(t)
	}

	disc := discovery.New(source, slog.New(a.logger.SlogHandler()))
	sp, _ := pterm.DefaultSpinner.WithText("Discovering partitions...").Start()
	partitions, err := disc.Discover(ctx, discovery.Range{From: fromT, To: toT}, tableTypes)
	if err != nil {
		sp.Fail(fmt.Sprintf("discovery failed: %s", err))
		return err
	}
	partitions = disc.EstimateRows(ctx, partitions)
	sp.Success(fmt.Sprintf("%d partitions discovered", len(partitions)))

	if len(partitions) == 0 {
		return nil
	}

	bus := controlbus.New()
	w := worker.New(bus)

	sockPath := filepath.Join(a.paths.Root, "control.sock")
	srv, err := ctlsock.Listen(sockPath, bus)
	if err != nil {
		return fmt.Errorf("starting control socket: %w", err)
	}
	defer srv.Close()

	sessionID := a.logger.SessionID()
	run, err := a.store.Runs.Create(ctx, profile.ID, sessionID, len(partitions))
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	runCtx, err := w.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	go renderProgress(bus)
	go handleConfirmations(bus)

	var runErr error
	switch opts.engine {
	case model.EngineStreamingCopy:
		eng := streamcopy.New(source, target, a.store, w, bus, profile.Compat)
		runErr = eng.Run(runCtx, run.ID, model.RunPolicy{
			Engine:          model.EngineStreamingCopy,
			TruncateMode:    model.TruncateAuto,
			ContinueOnError: opts.continueOnError,
		}, partitions)
	default:
		eng := rowbatch.New(source, target, a.store, w, bus)
		runErr = eng.Run(runCtx, run.ID, model.RunPolicy{
			Engine:          model.EngineRowBatch,
			TruncateMode:    model.TruncateConfirm,
			ContinueOnError: opts.continueOnError,
		}, partitions)
	}

	w.Finish(runErr)

	status := model.RunStatusCompleted
	errMsg := ""
	switch {
	case runErr == nil:
		status = model.RunStatusCompleted
	case errors.Is(runErr, worker.ErrStopped) || errors.Is(runErr, context.Canceled):
		status = model.RunStatusCanceled
		errMsg = "canceled"
	default:
		status = model.RunStatusFailed
		errMsg = runErr.Error()
	}

	if err := a.store.Runs.Finish(ctx, run.ID, status, errMsg); err != nil {
		return fmt.Errorf("finalizing run: %w", err)
	}

	fmt.Printf("migration %s: %s\n", run.ID, status)

	switch status {
	case model.RunStatusFailed:
		return &ExitError{Code: 2, Err: runErr}
	case model.RunStatusCanceled:
		return &ExitError{Code: 3, Err: errors.New("migration canceled")}
	default:
		return nil
	}
}

// renderProgress consumes progress events and draws a pterm progress bar,
// one partition at a time, until the bus channel is closed by process exit.
func renderProgress(bus *controlbus.Bus) {
	var bar *pterm.ProgressbarPrinter
	var current string

	for ev := range bus.Progress {
		if ev.PartitionName != current {
			if bar != nil {
				bar.Stop()
			}
			b, _ := pterm.DefaultProgressbar.WithTitle(ev.PartitionName).WithTotal(int(ev.TotalRows) + 1).Start()
			bar = b
			current = ev.PartitionName
		}
		if bar != nil {
			bar.Current = int(ev.RowsThisPart)
		}
	}
}

// handleConfirmations answers each truncate confirmation request arriving
// over the bus by prompting interactively on the terminal; a prompt that
// fails to read an answer counts as a denial.
func handleConfirmations(bus *controlbus.Bus) {
	for req := range bus.ConfirmationRequest {
		result, _ := pterm.DefaultInteractiveConfirm.
			WithDefaultText(fmt.Sprintf("Target partition %s already holds %d rows. Truncate it?", req.PartitionName, req.ExistingRows)).
			Show()
		req.Reply <- result
	}
}
