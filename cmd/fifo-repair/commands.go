package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ErrUnhealthy is returned by diagnose --fail-unhealthy when the ledger needs repair
var ErrUnhealthy = errors.New("valuation ledger needs repair")

type ledgerMaintainer interface {
	BackfillWarehouses(ctx context.Context, opts appval.BackfillOptions) (*appval.BackfillReport, error)
	Diagnose(ctx context.Context, companyID *uuid.UUID) (*appval.DiagnosticReport, error)
}

type recalculator interface {
	Recalculate(ctx context.Context, opts appval.RecalculateOptions) (*appval.RecalculationReport, error)
	Repair(ctx context.Context, opts appval.RepairOptions) (*appval.RecalculationReport, error)
}

// toolset is what a command needs at run time; close releases connections
type toolset struct {
	maintainer ledgerMaintainer
	recalc     recalculator
	logger     *zap.Logger
	close      func() error
}

type toolsetOpener func(ctx context.Context, logLevel string) (*toolset, error)

type rootOptions struct {
	company  string
	dryRun   bool
	logLevel string
}

func newRootCommand(open toolsetOpener) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "fifo-repair",
		Short:        "Maintain the FIFO valuation ledger",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.company, "company", "", "company ID (required by recalculate and repair)")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "report what would change without writing")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newBackfillCommand(open, opts),
		newDiagnoseCommand(open, opts),
		newRecalculateCommand(open, opts),
		newRepairCommand(open, opts),
	)
	return root
}

func newBackfillCommand(open toolsetOpener, opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Assign a warehouse to layers created without one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			companyID, err := optionalCompany(opts.company)
			if err != nil {
				return err
			}
			return withToolset(cmd, open, opts, func(ctx context.Context, t *toolset) error {
				report, err := t.maintainer.BackfillWarehouses(ctx, appval.BackfillOptions{
					CompanyID: companyID,
					DryRun:    opts.dryRun,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				t.logger.Info("backfill finished",
					zap.Bool("dry_run", report.DryRun),
					zap.Int("scanned", report.Scanned),
					zap.Int("resolved", report.Resolved),
					zap.Int("unresolved", report.Unresolved),
				)
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum layers to examine (0 uses the configured default)")
	return cmd
}

func newDiagnoseCommand(open toolsetOpener, opts *rootOptions) *cobra.Command {
	var failUnhealthy bool
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Report missing warehouses and corrupted remainders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			companyID, err := optionalCompany(opts.company)
			if err != nil {
				return err
			}
			return withToolset(cmd, open, opts, func(ctx context.Context, t *toolset) error {
				report, err := t.maintainer.Diagnose(ctx, companyID)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if failUnhealthy && !report.Healthy() {
					return ErrUnhealthy
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failUnhealthy, "fail-unhealthy", false, "exit non-zero when anything needs repair")
	return cmd
}

func newRecalculateCommand(open toolsetOpener, opts *rootOptions) *cobra.Command {
	var warehouses []string
	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Replay warehouse queues and rebuild layer remainders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			companyID, err := requiredCompany(opts.company)
			if err != nil {
				return err
			}
			warehouseIDs := make([]uuid.UUID, 0, len(warehouses))
			for _, w := range warehouses {
				id, err := uuid.Parse(w)
				if err != nil {
					return fmt.Errorf("invalid --warehouse %q: %w", w, err)
				}
				warehouseIDs = append(warehouseIDs, id)
			}
			return withToolset(cmd, open, opts, func(ctx context.Context, t *toolset) error {
				report, err := t.recalc.Recalculate(ctx, appval.RecalculateOptions{
					CompanyID:    companyID,
					WarehouseIDs: warehouseIDs,
					DryRun:       opts.dryRun,
				})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringSliceVar(&warehouses, "warehouse", nil, "warehouse ID to replay (repeatable; default all)")
	return cmd
}

func newRepairCommand(open toolsetOpener, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Fix known corruption patterns in layer remainders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			companyID, err := requiredCompany(opts.company)
			if err != nil {
				return err
			}
			return withToolset(cmd, open, opts, func(ctx context.Context, t *toolset) error {
				report, err := t.recalc.Repair(ctx, appval.RepairOptions{CompanyID: companyID, DryRun: opts.dryRun})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func withToolset(cmd *cobra.Command, open toolsetOpener, opts *rootOptions, fn func(context.Context, *toolset) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	t, err := open(ctx, opts.logLevel)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer func() {
		if t.close != nil {
			_ = t.close()
		}
	}()
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if err := fn(ctx, t); err != nil {
		if errors.Is(err, appval.ErrJobLocked) {
			return fmt.Errorf("%w; retry when the running job finishes", err)
		}
		return err
	}
	return nil
}

func optionalCompany(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --company %q: %w", raw, err)
	}
	return &id, nil
}

func requiredCompany(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errors.New("--company is required")
	}
	id, err := optionalCompany(raw)
	if err != nil {
		return uuid.Nil, err
	}
	return *id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
