package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaintainer struct {
	backfillOpts *appval.BackfillOptions
	diagnosed    *uuid.UUID
	report       *appval.DiagnosticReport
	err          error
}

func (f *fakeMaintainer) BackfillWarehouses(_ context.Context, opts appval.BackfillOptions) (*appval.BackfillReport, error) {
	f.backfillOpts = &opts
	if f.err != nil {
		return nil, f.err
	}
	return &appval.BackfillReport{DryRun: opts.DryRun, Scanned: 3, Resolved: 2, Unresolved: 1}, nil
}

func (f *fakeMaintainer) Diagnose(_ context.Context, companyID *uuid.UUID) (*appval.DiagnosticReport, error) {
	f.diagnosed = companyID
	if f.err != nil {
		return nil, f.err
	}
	if f.report != nil {
		return f.report, nil
	}
	return &appval.DiagnosticReport{CompanyID: companyID}, nil
}

type fakeRecalculator struct {
	recalcOpts *appval.RecalculateOptions
	repairOpts *appval.RepairOptions
	err        error
}

func (f *fakeRecalculator) Recalculate(_ context.Context, opts appval.RecalculateOptions) (*appval.RecalculationReport, error) {
	f.recalcOpts = &opts
	if f.err != nil {
		return nil, f.err
	}
	return &appval.RecalculationReport{DryRun: opts.DryRun, ChangedLayers: 4}, nil
}

func (f *fakeRecalculator) Repair(_ context.Context, opts appval.RepairOptions) (*appval.RecalculationReport, error) {
	f.repairOpts = &opts
	if f.err != nil {
		return nil, f.err
	}
	return &appval.RecalculationReport{DryRun: opts.DryRun, ChangedLayers: 1}, nil
}

type harness struct {
	maintainer *fakeMaintainer
	recalc     *fakeRecalculator
	opened     int
	closed     int
	logLevel   string
}

func newHarness() *harness {
	return &harness{maintainer: &fakeMaintainer{}, recalc: &fakeRecalculator{}}
}

func (h *harness) open(_ context.Context, logLevel string) (*toolset, error) {
	h.opened++
	h.logLevel = logLevel
	return &toolset{
		maintainer: h.maintainer,
		recalc:     h.recalc,
		close: func() error {
			h.closed++
			return nil
		},
	}, nil
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(h.open)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBackfill(t *testing.T) {
	h := newHarness()
	company := uuid.New()

	out, err := h.run(t, "backfill", "--company", company.String(), "--dry-run", "--limit", "50")
	require.NoError(t, err)

	require.NotNil(t, h.maintainer.backfillOpts)
	assert.Equal(t, &company, h.maintainer.backfillOpts.CompanyID)
	assert.True(t, h.maintainer.backfillOpts.DryRun)
	assert.Equal(t, 50, h.maintainer.backfillOpts.Limit)

	var report appval.BackfillReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, h.closed)
}

func TestBackfill_AllCompanies(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "backfill")
	require.NoError(t, err)
	assert.Nil(t, h.maintainer.backfillOpts.CompanyID)
	assert.False(t, h.maintainer.backfillOpts.DryRun)
}

func TestDiagnose_FailUnhealthy(t *testing.T) {
	h := newHarness()
	h.maintainer.report = &appval.DiagnosticReport{MissingWarehouse: 2}

	out, err := h.run(t, "diagnose", "--fail-unhealthy")
	assert.ErrorIs(t, err, ErrUnhealthy)
	assert.Contains(t, out, `"missing_warehouse": 2`)

	h = newHarness()
	h.maintainer.report = &appval.DiagnosticReport{MissingWarehouse: 2}
	_, err = h.run(t, "diagnose")
	assert.NoError(t, err)
}

func TestRecalculate(t *testing.T) {
	h := newHarness()
	company, w1, w2 := uuid.New(), uuid.New(), uuid.New()

	_, err := h.run(t, "recalculate", "--company", company.String(),
		"--warehouse", w1.String(), "--warehouse", w2.String(), "--dry-run")
	require.NoError(t, err)

	require.NotNil(t, h.recalc.recalcOpts)
	assert.Equal(t, company, h.recalc.recalcOpts.CompanyID)
	assert.Equal(t, []uuid.UUID{w1, w2}, h.recalc.recalcOpts.WarehouseIDs)
	assert.True(t, h.recalc.recalcOpts.DryRun)
}

func TestRecalculate_RequiresCompany(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "recalculate")
	assert.ErrorContains(t, err, "--company is required")
	assert.Zero(t, h.opened, "no connection is opened for invalid input")
}

func TestRecalculate_InvalidWarehouse(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "recalculate", "--company", uuid.NewString(), "--warehouse", "nope")
	assert.ErrorContains(t, err, "invalid --warehouse")
	assert.Zero(t, h.opened)
}

func TestRepair(t *testing.T) {
	h := newHarness()
	company := uuid.New()

	out, err := h.run(t, "repair", "--company", company.String(), "--log-level", "debug")
	require.NoError(t, err)
	assert.Equal(t, company, h.recalc.repairOpts.CompanyID)
	assert.False(t, h.recalc.repairOpts.DryRun)
	assert.Equal(t, "debug", h.logLevel)
	assert.Contains(t, out, `"changed_layers": 1`)
}

func TestRepair_JobLocked(t *testing.T) {
	h := newHarness()
	h.recalc.err = appval.ErrJobLocked

	_, err := h.run(t, "repair", "--company", uuid.NewString())
	assert.ErrorIs(t, err, appval.ErrJobLocked)
	assert.ErrorContains(t, err, "retry when the running job finishes")
	assert.Equal(t, 1, h.closed)
}

func TestInvalidCompany(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "diagnose", "--company", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid --company")
}

func TestSetupFailure(t *testing.T) {
	cmd := newRootCommand(func(context.Context, string) (*toolset, error) {
		return nil, errors.New("connection refused")
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"diagnose"})

	err := cmd.Execute()
	assert.ErrorContains(t, err, "setup: connection refused")
}
