/*
handlers.go - HTTP API handlers for the budget engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP request and
  response, JSON serialization, and delegates to budget.Service.

ENDPOINTS:
  State:
    GET    /api/state                  Settle due occurrences, return snapshot
    PUT    /api/state                  Replace snapshot (optimistic locking)

  Settlements:
    POST   /api/settlements/run        Run a reconciliation pass {reason}
    POST   /api/settlements/confirm    Settle one occurrence {kind, id, date}
    GET    /api/settlements/status     Last run summary

  Views:
    GET    /api/transactions?type=expense|income&month=YYYY-MM
    GET    /api/schedule?month=YYYY-MM Month agenda of all obligations
    GET    /api/ledger?limit=N         Recent ledger events

PUT /api/state FLOW:
  1. Decode body (numbers kept exact)           400 invalid_json
  2. Run an automatic pass ("state_put")
  3. Check version is a positive integer        400 invalid_version
  4. Validate every field                       422 invalid_state_payload
  5. Sanitize, write with expected version      409 state_conflict
  6. Respond {ok: true, state}

  Step 2 may bump the stored version. A client holding the pre-pass
  version gets 409 and must refetch, which is what shows it the newly
  settled occurrences.

ERROR HANDLING:
  Errors are returned as JSON {"error": code, ...} with the HTTP status
  listed above; anything unexpected is 500 internal_error and logged.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - budget/service.go: Settlement orchestration
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/factory"
	"github.com/warp/budget-engine/schedule"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 5 << 20

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service      *budget.Service
	Factory      *factory.StateFactory
	Logger       zerolog.Logger
	MaxBodyBytes int64

	// Scheduler is optional; it only feeds nextRunAt in the status.
	Scheduler *SettlementScheduler
}

// NewHandler creates a new handler around the service.
func NewHandler(svc *budget.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		Service:      svc,
		Factory:      &factory.StateFactory{Today: svc.Today},
		Logger:       logger,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

// GetState settles due occurrences and returns the snapshot.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.CurrentState(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to load state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// PutState replaces the snapshot if the client's version is current.
func (h *Handler) PutState(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err)
		return
	}
	payload, err := h.Factory.DecodePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err)
		return
	}

	if _, err := h.Service.RunSettlement(r.Context(), "state_put"); err != nil {
		h.internalError(w, r, "settlement before write failed", err)
		return
	}

	expected, ok := factory.ExpectedVersion(payload)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidVersion, budget.ErrInvalidVersion)
		return
	}

	if problems := h.Factory.Validate(payload); len(problems) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   CodeInvalidStatePayload,
			Details: problems,
		})
		return
	}

	next := h.Factory.Sanitize(payload)
	saved, err := h.Service.SaveState(r.Context(), next, expected)
	if err != nil {
		var conflict *budget.StateConflictError
		switch {
		case errors.As(err, &conflict):
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:          CodeStateConflict,
				CurrentVersion: conflict.CurrentVersion,
			})
		case errors.Is(err, budget.ErrInvalidVersion):
			writeError(w, http.StatusBadRequest, CodeInvalidVersion, err)
		default:
			h.internalError(w, r, "failed to save state", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, SaveStateResponse{OK: true, State: saved})
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// RunSettlement runs a reconciliation pass with the given reason.
func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	reason := "manual"

	// The body is optional; anything unreadable keeps the default reason
	if body, err := h.readBody(r); err == nil && len(strings.TrimSpace(string(body))) > 0 {
		var req RunSettlementRequest
		if json.Unmarshal(body, &req) == nil {
			if cleaned := budget.CleanText(req.Reason, budget.MaxSourceLength); cleaned != "" {
				reason = cleaned
			}
		}
	}

	h.runAndRespond(w, r, reason)
}

// ConfirmOccurrence settles exactly one occurrence of one obligation.
func (h *Handler) ConfirmOccurrence(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err)
		return
	}
	var req ConfirmOccurrenceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err)
		return
	}

	kind := schedule.Kind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	if kind != schedule.KindPayment && kind != schedule.KindIncome {
		writeErrorMessage(w, http.StatusBadRequest, CodeInvalidTarget, "kind must be payment or income")
		return
	}
	if req.ID <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, CodeInvalidTarget, "id must be a positive integer")
		return
	}
	iso, ok := schedule.ParseUserInputToISO(req.Date)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidTarget, schedule.ErrInvalidDate)
		return
	}
	occurrence, _ := schedule.ParseISO(iso)

	h.runAndRespond(w, r, budget.ManualReason(budget.Target{Kind: kind, ID: req.ID, Occurrence: occurrence}))
}

func (h *Handler) runAndRespond(w http.ResponseWriter, r *http.Request, reason string) {
	result, err := h.Service.RunSettlement(r.Context(), reason)
	if err != nil {
		h.internalError(w, r, "settlement failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SettlementStatus returns what the last settlement run did.
func (h *Handler) SettlementStatus(w http.ResponseWriter, r *http.Request) {
	resp := SettlementStatusResponse{
		Timezone: h.Service.Timezone(),
		Summary:  SettlementStatusDetail{BalanceDelta: schedule.Zero},
	}

	if h.Scheduler != nil {
		if next, ok := h.Scheduler.NextRunTime(); ok {
			resp.NextRunAt = &next
		}
	}

	last, err := h.Service.LastRun(r.Context())
	if err != nil {
		h.internalError(w, r, "failed to read settlement status", err)
		return
	}
	if last != nil {
		at := last.CreatedAt
		resp.LastRunAt = &at
		resp.Timezone = last.Timezone
		resp.Changed = last.Summary.Changed
		resp.OK = last.OK
		resp.Reason = last.Reason
		resp.Summary = SettlementStatusDetail{
			SettledPayments: last.Summary.SettledPayments,
			SettledIncomes:  last.Summary.SettledIncomes,
			BalanceDelta:    last.Summary.BalanceDelta,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// VIEW HANDLERS
// =============================================================================

// GetTransactions returns one history's entries for a month.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	entryType, err := budget.ParseEntryType(query.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidQuery, err)
		return
	}
	month, err := schedule.ParseMonth(strings.TrimSpace(query.Get("month")))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidQuery, err)
		return
	}

	view, err := h.Service.Transactions(r.Context(), entryType, month)
	if err != nil {
		h.internalError(w, r, "failed to load transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetSchedule returns the month agenda. Month defaults to the current one.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	month := schedule.MonthOf(h.Service.Today())
	if raw := strings.TrimSpace(r.URL.Query().Get("month")); raw != "" {
		parsed, err := schedule.ParseMonth(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidQuery, err)
			return
		}
		month = parsed
	}

	agenda, err := h.Service.Agenda(r.Context(), month)
	if err != nil {
		h.internalError(w, r, "failed to build schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, agenda)
}

// GetLedger returns recent ledger events, newest first.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorMessage(w, http.StatusBadRequest, CodeInvalidQuery, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLedgerLimit)
	}

	events, err := h.Service.Ledger(r.Context(), limit)
	if err != nil {
		h.internalError(w, r, "failed to load ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, LedgerResponse{Events: events})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	return io.ReadAll(io.LimitReader(r.Body, limit))
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	writeErrorMessage(w, http.StatusInternalServerError, CodeInternalError, msg)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	resp := ErrorResponse{Error: code}
	if err != nil {
		resp.Message = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
