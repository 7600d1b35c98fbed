/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Defines the JSON structures for API communication. The state snapshot
  itself (budget.State) is the contract of GET/PUT /api/state and is not
  wrapped; everything around it lives here.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

ERROR BODY:
  {"error": "<code>", ...extra fields}
  Codes: invalid_json, invalid_version, invalid_state_payload,
  state_conflict, invalid_query, invalid_target, internal_error.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/budget-engine/budget"
	"github.com/warp/budget-engine/factory"
	"github.com/warp/budget-engine/schedule"
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeInvalidJSON         = "invalid_json"
	CodeInvalidVersion      = "invalid_version"
	CodeInvalidStatePayload = "invalid_state_payload"
	CodeStateConflict       = "state_conflict"
	CodeInvalidQuery        = "invalid_query"
	CodeInvalidTarget       = "invalid_target"
	CodeInternalError       = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error          string               `json:"error"`
	Message        string               `json:"message,omitempty"`
	Details        []factory.FieldError `json:"details,omitempty"`
	CurrentVersion int64                `json:"current_version,omitempty"`
}

// =============================================================================
// STATE
// =============================================================================

// SaveStateResponse is returned by a successful PUT /api/state.
type SaveStateResponse struct {
	OK    bool         `json:"ok"`
	State budget.State `json:"state"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

// RunSettlementRequest is the optional body of POST /api/settlements/run.
type RunSettlementRequest struct {
	Reason string `json:"reason"`
}

// ConfirmOccurrenceRequest names one occurrence to settle now.
type ConfirmOccurrenceRequest struct {
	Kind schedule.Kind `json:"kind"`
	ID   int64         `json:"id"`
	Date string        `json:"date"` // ISO or DD/MM/YYYY
}

// SettlementStatusResponse describes the last settlement run.
type SettlementStatusResponse struct {
	LastRunAt *time.Time             `json:"lastRunAt"`
	NextRunAt *time.Time             `json:"nextRunAt,omitempty"` // nil when the scheduler is off
	Timezone  string                 `json:"timezone"`
	Changed   bool                   `json:"changed"`
	OK        bool                   `json:"ok"`
	Reason    string                 `json:"reason,omitempty"`
	Summary   SettlementStatusDetail `json:"summary"`
}

// SettlementStatusDetail is the counter part of the status.
type SettlementStatusDetail struct {
	SettledPayments int            `json:"settledPayments"`
	SettledIncomes  int            `json:"settledIncomes"`
	BalanceDelta    schedule.Money `json:"balanceDelta"`
}

// =============================================================================
// LEDGER
// =============================================================================

// LedgerResponse lists recent ledger events.
type LedgerResponse struct {
	Events []budget.LedgerEvent `json:"events"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}
