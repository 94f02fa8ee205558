package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/service/reporting"
)

// errDrift is returned by reconcile when drift is found and left unrepaired.
var errDrift = errors.New("stock drift detected")

func newMigrateCommand(envFile *string) *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if status {
				current, latest, err := a.store.MigrationStatus()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d, latest %d\n", current, latest)
				return nil
			}

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "print the applied and latest schema versions instead of migrating")
	return cmd
}

type reconcileOptions struct {
	ownerID string
	all     bool
	repair  bool
}

func newReconcileCommand(envFile *string) *cobra.Command {
	var opts reconcileOptions

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare cached feed stock with the ledger totals",
		Long: "Compare each feed type's cached stock with the sum of its ledger entries.\n" +
			"Without --repair the command only reports and exits non-zero on drift.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (opts.ownerID == "") == !opts.all {
				return errors.New("exactly one of --owner or --all is required")
			}

			a, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.wireServices(cmd.Context()); err != nil {
				return err
			}

			owners := []string{opts.ownerID}
			if opts.all {
				if owners, err = a.store.ListOwnerIDs(cmd.Context()); err != nil {
					return err
				}
			}
			return reconcileOwners(cmd.Context(), a, owners, opts.repair, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.ownerID, "owner", "", "owner id to check")
	cmd.Flags().BoolVar(&opts.all, "all", false, "check every owner")
	cmd.Flags().BoolVar(&opts.repair, "repair", false, "rewrite cached stock from the ledger when it drifted")
	return cmd
}

func reconcileOwners(ctx context.Context, a *app, owners []string, repair bool, out io.Writer) error {
	var drifted int
	for _, ownerID := range owners {
		report, err := a.inventory.RecomputeStockFromLedger(ctx, ownerID, repair)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", ownerID, err)
		}

		switch {
		case len(report.Discrepancies) == 0:
			fmt.Fprintf(out, "%s: stock matches ledger\n", ownerID)
		case report.Repaired:
			fmt.Fprintf(out, "%s\nrepaired\n", reporting.FormatDrift(report))
		default:
			drifted++
			fmt.Fprintln(out, reporting.FormatDrift(report))
		}
	}

	if drifted > 0 {
		return fmt.Errorf("%w for %d owner(s), rerun with --repair", errDrift, drifted)
	}
	return nil
}

func newSweepCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-vaccinations",
		Short: "Mark overdue pending vaccinations as missed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.wireServices(cmd.Context()); err != nil {
				return err
			}

			loc, err := a.cfg.Reporting.Location()
			if err != nil {
				return err
			}
			n, err := a.vaccinations.SweepMissed(cmd.Context(), time.Now().In(loc))
			if err != nil {
				return err
			}
			a.logger.Info("vaccination sweep done", zap.Int64("missed", n))
			fmt.Fprintf(cmd.OutOrStdout(), "%d vaccination(s) marked missed\n", n)
			return nil
		},
	}
}
