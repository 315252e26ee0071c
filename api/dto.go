/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON envelopes around the metric result sets. The rows
  themselves (metrics.RentRollRow, metrics.WALTResult, ...) are already a
  stable output contract and are embedded as-is; these types only add the
  run context every response carries.

NAMING CONVENTION:
  - *Response: envelopes returned to clients
  - *Request: request body types from clients

RUN CONTEXT:
  Every metric response names the report date, the engine run and the
  record set it was computed from, so two responses can be checked for
  coming from the same data.

SEE ALSO:
  - handlers.go: Uses these types
  - metrics/: row types
*/
package api

import (
	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/store/sqlite"
	"github.com/warp/lease-engine/validation"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RunContext identifies the snapshot a response was computed from.
type RunContext struct {
	ReportDate  lease.Date `json:"report_date"`
	RunID       string     `json:"run_id"`
	RecordSetID string     `json:"record_set_id,omitempty"`
}

func runContext(snap *engine.Snapshot) RunContext {
	return RunContext{ReportDate: snap.ReportDate, RunID: snap.RunID, RecordSetID: snap.RecordSetID}
}

// =============================================================================
// LEASES
// =============================================================================

type LeasesResponse struct {
	RunContext
	Count  int                   `json:"count"`
	Leases []lease.ResolvedLease `json:"leases"`
}

type LeaseResponse struct {
	RunContext
	Lease    lease.ResolvedLease `json:"lease"`
	Current  bool                `json:"current"`
	Warnings []lease.Warning     `json:"warnings"`
}

// =============================================================================
// METRICS
// =============================================================================

type RentRollResponse struct {
	RunContext
	Rows       []metrics.RentRollRow  `json:"rows"`
	Properties []metrics.OccupancyRow `json:"occupancy"`
	Portfolio  metrics.OccupancyRow   `json:"portfolio"`
}

type ExpirationsResponse struct {
	RunContext
	Months int                     `json:"months"`
	Rows   []metrics.ExpirationRow `json:"rows"`
}

type FutureLeasesResponse struct {
	RunContext
	Rows []metrics.FutureLeaseRow `json:"rows"`
}

type WALTResponse struct {
	RunContext
	metrics.WALTReport
}

type LeasingActivityResponse struct {
	RunContext
	metrics.ActivityResult
	Properties []metrics.ActivitySummary `json:"properties"`
	Portfolio  metrics.ActivitySummary   `json:"portfolio"`
}

type NetAbsorptionResponse struct {
	RunContext
	metrics.AbsorptionReport
}

type NOIResponse struct {
	RunContext
	metrics.NOIReport
}

type HealthResponse struct {
	RunContext
	metrics.HealthReport
}

type ConcentrationResponse struct {
	RunContext
	Rows     []metrics.ConcentrationRow `json:"rows"`
	Warnings []lease.Warning            `json:"warnings"`
}

type QualityResponse struct {
	RunContext
	Quality  lease.QualityReport `json:"quality"`
	Warnings []lease.Warning     `json:"warnings"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// PeriodRequest is an inclusive window in request bodies.
type PeriodRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ValidationRequest scores the engine against reference figures.
type ValidationRequest struct {
	ReportDate string             `json:"report_date"`
	Period     *PeriodRequest     `json:"period,omitempty"`
	Reference  []validation.Value `json:"reference"`
	// Thresholds override the configured gate, per category.
	Thresholds map[string]float64 `json:"thresholds,omitempty"`
}

type ValidationResponse struct {
	Report   validation.Report        `json:"report"`
	Passed   bool                     `json:"passed"`
	Failures []validation.GateFailure `json:"failures,omitempty"`
}

type ValidationRunsResponse struct {
	Runs []sqlite.ValidationRun `json:"runs"`
}

// =============================================================================
// RECORDS & FIXTURES
// =============================================================================

type AppendResponse struct {
	Amendments   int `json:"amendments"`
	Charges      int `json:"charges"`
	Terminations int `json:"terminations"`
	Ledger       int `json:"ledger"`
	Properties   int `json:"properties"`
	Customers    int `json:"customers"`
}

// FixtureDTO describes a built-in scenario.
type FixtureDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ReportDate  string `json:"report_date"`
	Amendments  int    `json:"amendments"`
}

type LoadFixtureRequest struct {
	Name string `json:"name"`
}

type CurrentFixtureResponse struct {
	Name string `json:"name,omitempty"`
}

type ReplayResponse struct {
	Passed  bool                `json:"passed"`
	Results []validation.Result `json:"results"`
}
