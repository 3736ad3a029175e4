/*
handlers.go - HTTP API handlers for the retroactive billing engine

PURPOSE:
  Exposes the retroactive billing calculator and its audit trail via REST
  API. Handles HTTP request/response, JSON serialization, and delegates to
  the Applier workflow.

ENDPOINTS:
  Health:
    GET    /api/health                              Liveness and logic version

  Contracts:
    GET    /api/contracts                           List (optional ?tenant_id=)
    POST   /api/contracts                           Create or replace
    GET    /api/contracts/{id}                      Get contract
    GET    /api/contracts/{id}/periods              Persisted periods

  Retroactive billing:
    POST   /api/retroactive/preview                 Ad-hoc contract, never persisted
    POST   /api/contracts/{id}/retroactive/preview  Stored contract, never persisted
    POST   /api/contracts/{id}/retroactive/apply    Stored contract, persisted

  Audit:
    GET    /api/audit                               Filtered trail, newest first
    GET    /api/audit/stats                         Aggregates

  Scenarios:
    GET    /api/scenarios                           List demo scenarios
    POST   /api/scenarios/load                      Load a demo scenario
    POST   /api/reset                               Clear everything

THE now PARAMETER:
  Preview and apply accept ?now=YYYY-MM-DD (or RFC 3339). Absent means
  the server clock. Pinning it makes results reproducible.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON, invalid dates, invalid contract, invalid filter
  - 404: Contract not found
  - 409: Periods for this contract and month already persisted
  - 500: Internal errors
  An ineligible or non-retroactive contract is NOT an error: the response
  is 200 with eligible/is_retroactive false and no periods.

SECURITY NOTE:
  No authentication. The X-Actor-ID header is trusted as-is and only
  recorded in the audit trail.

SEE ALSO:
  - dto.go: Request/response data structures
  - apply.go: The workflow behind preview and apply
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/retro-billing/audit"
	"github.com/warp/retro-billing/billing"
	"github.com/warp/retro-billing/factory"
	"github.com/warp/retro-billing/generic"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Contracts *factory.ContractFactory
	Applier   *Applier
	Audit     *audit.Service
	Logger    *zap.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the workflow on top of store.
func NewHandler(store Store, gen billing.Generator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	auditSvc := audit.NewService(store, logger)
	return &Handler{
		Store:     store,
		Contracts: factory.NewContractFactory(),
		Applier:   NewApplier(store, auditSvc, gen, logger),
		Audit:     auditSvc,
		Logger:    logger.Named("api"),
	}
}

// =============================================================================
// HEALTH
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "ok",
		"logic_version": billing.LogicVersion,
		"anchor":        string(h.anchor()),
	})
}

func (h *Handler) anchor() billing.Anchor {
	if h.Applier.Generator.Anchor == "" {
		return billing.AnchorContractStart
	}
	return h.Applier.Generator.Anchor
}

// =============================================================================
// CONTRACT HANDLERS
// =============================================================================

// ListContracts returns contracts, optionally of one tenant.
func (h *Handler) ListContracts(w http.ResponseWriter, r *http.Request) {
	tenantID := generic.TenantID(r.URL.Query().Get("tenant_id"))
	contracts, err := h.Store.ListContracts(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list contracts", err)
		return
	}

	dtos := make([]factory.ContractJSON, len(contracts))
	for i, c := range contracts {
		dtos[i] = h.Contracts.ToJSON(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateContract stores a contract from factory JSON.
func (h *Handler) CreateContract(w http.ResponseWriter, r *http.Request) {
	c, ok := h.decodeContract(w, r)
	if !ok {
		return
	}
	if c.ID == "" || c.TenantID == "" {
		writeDomainError(w, &generic.ContractValidationError{
			Problems: []string{"id and tenant_id are required to store a contract"},
		})
		return
	}

	if err := h.Store.SaveContract(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save contract", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Contracts.ToJSON(c))
}

// GetContract returns one contract.
func (h *Handler) GetContract(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetContract(r.Context(), generic.ContractID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Contracts.ToJSON(c))
}

// ListPeriods returns the persisted periods of a contract.
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := generic.ContractID(chi.URLParam(r, "id"))

	if _, err := h.Store.GetContract(ctx, id); err != nil {
		writeDomainError(w, err)
		return
	}
	periods, err := h.Store.ListPeriods(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list periods", err)
		return
	}
	writeJSON(w, http.StatusOK, toBillingPeriodDTOs(periods))
}

// =============================================================================
// RETROACTIVE BILLING HANDLERS
// =============================================================================

// PreviewAdHoc runs the workflow on a contract from the request body
// without persisting anything.
func (h *Handler) PreviewAdHoc(w http.ResponseWriter, r *http.Request) {
	now, err := parseNow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	c, ok := h.decodeContract(w, r)
	if !ok {
		return
	}

	result, err := h.Applier.Apply(r.Context(), c, now, ApplyOptions{Actor: actorFrom(r)})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplyResponse(result))
}

// PreviewContract runs the workflow on a stored contract without persisting.
func (h *Handler) PreviewContract(w http.ResponseWriter, r *http.Request) {
	h.runStored(w, r, false)
}

// ApplyContract runs the workflow on a stored contract and persists the periods.
func (h *Handler) ApplyContract(w http.ResponseWriter, r *http.Request) {
	h.runStored(w, r, true)
}

func (h *Handler) runStored(w http.ResponseWriter, r *http.Request, persist bool) {
	ctx := r.Context()

	now, err := parseNow(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	c, err := h.Store.GetContract(ctx, generic.ContractID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.Applier.Apply(ctx, c, now, ApplyOptions{Persist: persist, Actor: actorFrom(r)})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if result.Persisted {
		status = http.StatusCreated
	}
	writeJSON(w, status, toApplyResponse(result))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns the filtered audit trail of a tenant.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	page, err := h.Audit.List(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Echo the effective paging after defaults and caps.
	f, _ = f.Validate()
	dto := AuditPageDTO{
		Entries: make([]AuditEntryDTO, len(page.Entries)),
		Total:   page.Total,
		Limit:   f.Limit,
		Offset:  f.Offset,
	}
	for i, e := range page.Entries {
		dto.Entries[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dto)
}

// AuditStats aggregates the audit trail of a tenant.
func (h *Handler) AuditStats(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stats, err := h.Audit.Stats(r.Context(), f.TenantID, f.From, f.To)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditStatsDTO(stats))
}

// =============================================================================
// ADMIN
// =============================================================================

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decodeContract(w http.ResponseWriter, r *http.Request) (billing.Contract, bool) {
	var cj factory.ContractJSON
	if err := json.NewDecoder(r.Body).Decode(&cj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return billing.Contract{}, false
	}
	c, err := h.Contracts.FromJSON(cj)
	if err != nil {
		writeDomainError(w, err)
		return billing.Contract{}, false
	}
	return c, true
}

// parseNow reads ?now=. Absent means the zero time, which the workflow
// resolves to the wall clock.
func parseNow(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("now"))
	if raw == "" {
		return time.Time{}, nil
	}
	tp, err := generic.ParseTimePoint(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("now: %w", err)
	}
	return tp.Time, nil
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		TenantID:   generic.TenantID(q.Get("tenant_id")),
		ContractID: generic.ContractID(q.Get("contract_id")),
		Action:     audit.Action(strings.ToUpper(q.Get("action"))),
	}

	var err error
	if f.From, err = parseInstant(q.Get("from"), false); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseInstant(q.Get("to"), true); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		return f, err
	}
	if f.Offset, err = parseInt(q.Get("offset")); err != nil {
		return f, err
	}
	return f, nil
}

// parseInstant accepts RFC 3339 or a bare date. A bare date used as an
// upper bound covers the whole day.
func parseInstant(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return &t, nil
	}
	tp, err := generic.ParseTimePoint(raw)
	if err != nil {
		return nil, err
	}
	t := tp.Time
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", generic.ErrInvalidFilter, raw)
	}
	return n, nil
}

func actorFrom(r *http.Request) audit.Actor {
	return audit.Actor{
		ID:        r.Header.Get("X-Actor-ID"),
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps generic errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var validation *generic.ContractValidationError
	var duplicate *generic.DuplicatePeriodError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid contract",
			Code:    "invalid_contract",
			Details: validation.Problems,
		})
	case errors.As(err, &duplicate):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "Billing periods already generated",
			Code:  "duplicate_period",
			Details: map[string]string{
				"contract_id":  string(duplicate.ContractID),
				"period_start": duplicate.PeriodStart.String(),
			},
		})
	case generic.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Code: "invalid_request", Details: err.Error()})
	case generic.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Contract not found", Code: "not_found", Details: err.Error()})
	case generic.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Conflict", Code: "conflict", Details: err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
