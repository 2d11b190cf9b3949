package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	appval "github.com/erp/stockvaluation/internal/application/valuation"
	"github.com/erp/stockvaluation/internal/domain/shared"
	"github.com/erp/stockvaluation/internal/infrastructure/telemetry"
	"github.com/erp/stockvaluation/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// LedgerMaintainer backfills missing warehouses and reports ledger health
type LedgerMaintainer interface {
	BackfillWarehouses(ctx context.Context, opts appval.BackfillOptions) (*appval.BackfillReport, error)
	Diagnose(ctx context.Context, companyID *uuid.UUID) (*appval.DiagnosticReport, error)
}

// Recalculator replays queues and repairs corrupted remainders
type Recalculator interface {
	Recalculate(ctx context.Context, opts appval.RecalculateOptions) (*appval.RecalculationReport, error)
	Repair(ctx context.Context, opts appval.RepairOptions) (*appval.RecalculationReport, error)
}

// EventJournal lists recently journaled valuation warnings
type EventJournal interface {
	Recent(ctx context.Context, companyID uuid.UUID, limit int) ([]shared.DomainEvent, error)
}

// IntegrityScanner runs the periodic ledger scan on demand
type IntegrityScanner interface {
	RunNow(ctx context.Context) error
	LastRun() *time.Time
}

// AdminHandler serves the ledger maintenance endpoints. Every job is
// single-flight across processes and supports dry runs.
type AdminHandler struct {
	BaseHandler
	maintainer LedgerMaintainer
	recalc     Recalculator
	journal    EventJournal
	scanner    IntegrityScanner
}

// NewAdminHandler creates a new AdminHandler. journal and scanner may be nil.
func NewAdminHandler(maintainer LedgerMaintainer, recalc Recalculator, journal EventJournal, scanner IntegrityScanner) *AdminHandler {
	return &AdminHandler{maintainer: maintainer, recalc: recalc, journal: journal, scanner: scanner}
}

// BackfillRequest is the body of the backfill endpoint
type BackfillRequest struct {
	DryRun bool `json:"dry_run"`
	Limit  int  `json:"limit" binding:"omitempty,min=1,max=100000"`
}

// RecalculateRequest is the body of the recalculation endpoint
type RecalculateRequest struct {
	WarehouseIDs []string `json:"warehouse_ids" binding:"omitempty,dive,uuid"`
	DryRun       bool     `json:"dry_run"`
}

// RepairRequest is the body of the repair endpoint
type RepairRequest struct {
	DryRun bool `json:"dry_run"`
}

// IntegrityStatusResponse reports the integrity scan schedule state
type IntegrityStatusResponse struct {
	Enabled bool    `json:"enabled"`
	LastRun *string `json:"last_run,omitempty"`
}

// Backfill assigns a warehouse to the company's layers created without one.
// POST /valuation/admin/backfill
func (h *AdminHandler) Backfill(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	var req BackfillRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	ctx, span := telemetry.StartSpan(c.Request.Context(), "valuation.backfill_warehouses",
		attribute.String(telemetry.SpanAttrCompanyID, companyID.String()),
		attribute.Bool(telemetry.SpanAttrDryRun, req.DryRun),
	)
	report, err := h.maintainer.BackfillWarehouses(ctx, appval.BackfillOptions{
		CompanyID: &companyID,
		DryRun:    req.DryRun,
		Limit:     req.Limit,
	})
	telemetry.EndSpan(span, err)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// Diagnose reports missing warehouses, transit usage and corrupted remainders.
// GET /valuation/admin/diagnostics
func (h *AdminHandler) Diagnose(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	report, err := h.maintainer.Diagnose(c.Request.Context(), &companyID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// Recalculate rebuilds remainders by replaying each queue's history.
// POST /valuation/admin/recalculate
func (h *AdminHandler) Recalculate(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	var req RecalculateRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	opts := appval.RecalculateOptions{CompanyID: companyID, DryRun: req.DryRun}
	for _, id := range req.WarehouseIDs {
		opts.WarehouseIDs = append(opts.WarehouseIDs, uuid.MustParse(id))
	}
	ctx, span := telemetry.StartSpan(c.Request.Context(), "valuation.recalculate",
		attribute.String(telemetry.SpanAttrCompanyID, companyID.String()),
		attribute.Bool(telemetry.SpanAttrDryRun, req.DryRun),
	)
	report, err := h.recalc.Recalculate(ctx, opts)
	telemetry.EndSpan(span, err)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// Repair fixes known remainder corruptions, replaying queues where needed.
// POST /valuation/admin/repair
func (h *AdminHandler) Repair(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	var req RepairRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}
	ctx, span := telemetry.StartSpan(c.Request.Context(), "valuation.repair",
		attribute.String(telemetry.SpanAttrCompanyID, companyID.String()),
		attribute.Bool(telemetry.SpanAttrDryRun, req.DryRun),
	)
	report, err := h.recalc.Repair(ctx, appval.RepairOptions{CompanyID: companyID, DryRun: req.DryRun})
	telemetry.EndSpan(span, err)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// RecentEvents lists the company's latest valuation warnings.
// GET /valuation/admin/events
func (h *AdminHandler) RecentEvents(c *gin.Context) {
	companyID, ok := h.RequireCompany(c)
	if !ok {
		return
	}
	if h.journal == nil {
		h.NotFound(c, "Event journal is not enabled")
		return
	}
	limit, err := parseLimit(c.Query("limit"), 50, 500)
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	events, err := h.journal.Recent(c.Request.Context(), companyID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, events)
}

// IntegrityStatus reports whether the integrity scan runs and when it last finished.
// GET /valuation/admin/integrity
func (h *AdminHandler) IntegrityStatus(c *gin.Context) {
	status := IntegrityStatusResponse{Enabled: h.scanner != nil}
	if h.scanner != nil {
		if last := h.scanner.LastRun(); last != nil {
			s := last.Format(time.RFC3339)
			status.LastRun = &s
		}
	}
	h.Success(c, status)
}

// RunIntegrityScan triggers the integrity scan immediately.
// POST /valuation/admin/integrity/run
func (h *AdminHandler) RunIntegrityScan(c *gin.Context) {
	if h.scanner == nil {
		h.NotFound(c, "Integrity scan is not enabled")
		return
	}
	if err := h.scanner.RunNow(c.Request.Context()); err != nil {
		if errors.Is(err, appval.ErrJobLocked) {
			h.HandleError(c, err)
			return
		}
		h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, err.Error())
		return
	}
	h.IntegrityStatus(c)
}

// bindOptionalJSON binds a JSON body when one was sent
func (h *AdminHandler) bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil {
		h.BindError(c, err)
		return false
	}
	return true
}
