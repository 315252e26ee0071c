/*
handlers.go - HTTP API handlers for the lease engine

PURPOSE:
  Exposes resolved leases and every derived metric as tabular JSON. Handles
  HTTP request/response and query parsing, and delegates the computation to
  engine + metrics.

ENDPOINTS:
  Leases:
    GET    /api/leases                        Resolved leases (?property, ?tenant, ?current)
    GET    /api/leases/{property}/{tenant}    One lease + its warnings

  Metrics (report_date always required):
    GET    /api/rent-roll                     Rent roll + occupancy (?format=xlsx)
    GET    /api/expirations                   ?months (default 12)
    GET    /api/future-leases
    GET    /api/walt                          ?month_to_month=exclude|zero_term
    GET    /api/leasing-activity              period
    GET    /api/net-absorption                period, ?same_store, ?window_months
    GET    /api/noi                           period, ?book
    GET    /api/health-score                  period, ?book
    GET    /api/concentration
    GET    /api/quality

  Validation:
    POST   /api/validation                    Score against reference values
    GET    /api/validation/runs               Past runs (?limit)

  Records:
    POST   /api/records                       Append a record feed (writable stores)

PERIOD PARAMETERS:
  Either ?start=YYYY-MM-DD&end=YYYY-MM-DD, or ?period=month|quarter|year for
  the calendar period containing report_date.

REQUEST FLOW:
  1. Parse report_date and query parameters
  2. Load the record set from the Source
  3. Run the engine for report_date
  4. Compute the requested metric on the snapshot
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Missing report_date, bad period, missing book or window, bad parameter
  - 404: Lease or run not found
  - 409: Duplicate amendment id, store is read-only
  - 500: Internal errors

SECURITY NOTE:
  No authentication. Deploy behind the platform gateway.

SEE ALSO:
  - dto.go: Response envelopes
  - fixtures.go: Built-in scenario endpoints
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/factory"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/store/sqlite"
	"github.com/warp/lease-engine/telemetry"
	"github.com/warp/lease-engine/validation"
)

var (
	// ErrBadParameter marks a query or body value that could not be used.
	ErrBadParameter = errors.New("bad parameter")

	// ErrReadOnly is returned by write endpoints when the source is not
	// writable.
	ErrReadOnly = errors.New("record store is read-only")
)

// DefaultExpirationMonths is the expirations window when ?months is absent.
const DefaultExpirationMonths = 12

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// FeedWriter accepts record feeds. Implemented by sqlite.Store.
type FeedWriter interface {
	AppendFeed(ctx context.Context, feed factory.Feed) error
	Reset(ctx context.Context) error
}

// RunStore keeps validation history. Implemented by sqlite.Store.
type RunStore interface {
	SaveValidationRun(ctx context.Context, report validation.Report, passed bool) error
	ValidationRuns(ctx context.Context, limit int) ([]sqlite.ValidationRun, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Source     lease.Source
	Engine     *engine.Engine
	Policies   factory.Policies
	Thresholds validation.Thresholds

	writer   FeedWriter
	runs     RunStore
	registry *telemetry.Registry
	logger   zerolog.Logger

	fixtures
}

type HandlerOption func(*Handler)

// WithWriter enables POST /api/records and fixture loading.
func WithWriter(w FeedWriter) HandlerOption {
	return func(h *Handler) { h.writer = w }
}

// WithRunStore records every validation run.
func WithRunStore(s RunStore) HandlerOption {
	return func(h *Handler) { h.runs = s }
}

func WithRegistry(r *telemetry.Registry) HandlerOption {
	return func(h *Handler) { h.registry = r }
}

func WithLogger(l zerolog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithThresholds sets the gate applied by POST /api/validation.
func WithThresholds(th validation.Thresholds) HandlerOption {
	return func(h *Handler) { h.Thresholds = th }
}

// WithFixtures replaces the built-in scenario list.
func WithFixtures(fs []validation.Fixture) HandlerOption {
	return func(h *Handler) { h.fixtures.list = fs }
}

// NewHandler creates a new handler reading from src.
func NewHandler(src lease.Source, eng *engine.Engine, policies factory.Policies, opts ...HandlerOption) *Handler {
	h := &Handler{
		Source:     src,
		Engine:     eng,
		Policies:   policies,
		Thresholds: validation.Thresholds{},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// snapshot loads the records and runs the engine for report_date.
func (h *Handler) snapshot(r *http.Request) (*metrics.Calculator, error) {
	reportDate, err := reportDateParam(r.URL.Query().Get("report_date"))
	if err != nil {
		return nil, err
	}
	return h.calculate(r.Context(), reportDate)
}

func (h *Handler) calculate(ctx context.Context, reportDate lease.Date) (*metrics.Calculator, error) {
	rs, loadWarnings, err := lease.LoadWithWarnings(ctx, h.Source)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	snap, err := h.Engine.Run(ctx, rs, reportDate)
	if err != nil {
		return nil, err
	}
	snap.AddWarnings(loadWarnings...)
	return metrics.NewCalculator(snap, h.Policies.Resolver), nil
}

// =============================================================================
// LEASE ENDPOINTS
// =============================================================================

// ListLeases returns every resolved lease of the snapshot.
func (h *Handler) ListLeases(w http.ResponseWriter, r *http.Request) {
	calc, err := h.snapshot(r)
	if err != nil {
		h.fail(w, r, "Failed to run engine", err)
		return
	}
	snap := calc.Snapshot()

	q := r.URL.Query()
	property, tenant := q.Get("property"), q.Get("tenant")
	currentOnly := q.Get("current") == "true"

	leases := make([]lease.ResolvedLease, 0, len(snap.Leases))
	for _, l := range snap.Leases {
		if property != "" && string(l.PropertyID) != property {
			continue
		}
		if tenant != "" && string(l.TenantID) != tenant {
			continue
		}
		if currentOnly && !l.IsCurrent(snap.ReportDate) {
			continue
		}
		leases = append(leases, l)
	}

	writeJSON(w, http.StatusOK, LeasesResponse{RunContext: runContext(snap), Count: len(leases), Leases: leases})
}

// GetLease returns one pair's resolved lease.
func (h *Handler) GetLease(w http.ResponseWriter, r *http.Request) {
	key := lease.LeaseKey{
		PropertyID: lease.PropertyID(chi.URLParam(r, "property")),
		TenantID:   lease.TenantID(chi.URLParam(r, "tenant")),
	}

	calc, err := h.snapshot(r)
	if err != nil {
		h.fail(w, r, "Failed to run engine", err)
		return
	}
	snap := calc.Snapshot()

	l, ok := snap.Lease(key)
	if !ok {
		h.fail(w, r, "Lease not found", fmt.Errorf("lease %s: %w", key, lease.ErrNotFound))
		return
	}
	warnings := snap.WarningsFor(key)
	if warnings == nil {
		warnings = []lease.Warning{}
	}

	writeJSON(w, http.StatusOK, LeaseResponse{
		RunContext: runContext(snap),
		Lease:      l,
		Current:    l.IsCurrent(snap.ReportDate),
		Warnings:   warnings,
	})
}

// =============================================================================
// METRIC ENDPOINTS
// =============================================================================

// RentRoll returns the rent roll and occupancy. ?format=xlsx returns a
// workbook instead.
func (h *Handler) RentRoll(w http.ResponseWriter, r *http.Request) {
	calc, err := h.snapshot(r)
	if err != nil {
		h.fail(w, r, "Failed to run engine", err)
		return
	}
	rows := calc.RentRoll()
	props, portfolio := calc.Occupancy()

	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		w.Header().Set("Content-Type", XLSXContentType)
		w.Header().Set("Content-Disposition",
			fmt.Sprintf(`attachment; filename="rent-roll-%s.xlsx"`, calc.ReportDate()))
		if err := WriteWorkbook(w, Workbook{RentRoll: rows, Occupancy: props, Portfolio: portfolio}); err != nil {
			h.logger.Error().Err(err).Msg("failed to write rent roll workbook")
		}
		return
	}

	if rows == nil {
		rows = []metrics.RentRollRow{}
	}
	writeJSON(w, http.StatusOK, RentRollResponse{
		RunContext: runContext(calc.Snapshot()),
		Rows:       rows,
		Properties: props,
		Portfolio:  portfolio,
	})
}

func (h *Handler) Expirations(w http.ResponseWriter, r *http.Request) {
	months, err := intParam(r, "months", DefaultExpirationMonths)
	if err != nil {
		h.fail(w, r, "Invalid months", err)
		return
	}
	calc, err := h.snapshot(r)
	if err != nil {
		h.fail(w, r, "Failed to run engine", err)
		return
	}
	rows, err := calc.Expirations(months)
	if err != nil {
		h.fail(w, r, "Failed to compute expirations", err)
		return
	}
	if rows == nil {
		rows = []metrics.ExpirationRow{}
	}
	writeJSON(w, http.StatusOK, ExpirationsResponse{RunContext: runContext(calc.Snapshot()), Months: months, Rows: rows})
}

func (h *Handler) FutureLeases(w http.ResponseWriter, r *http.Request) {
	calc, err := h.snapshot(r)
	if err != nil {
		h.fail(w, r, "Failed to run engine", err)
		return
	}
	rows := calc.FutureLeases()
	if rows == nil {
		rows = []metrics.FutureLeaseRow{}
	}
	writeJSON(w, http.StatusOK, FutureLeasesResponse{RunContext: runContext(calc.Snapshot()), Rows: rows})
}

func (h *Handler) WALT(w http.ResponseWriter, r *http.Request) {
	policy := h.Policies.WALT
	if v := r.URL.Query().Get("month_to_month"); v != "" {
		t, err := metrics.ParseMonthToMonthTreatment(v)
		if err != nil {
			h.fail(w, r, "Invalid month_to_month", fmt.Errorf("%w: %v", ErrBadParameter, err))
			return
		}
		policy.MonthToMonth = t
	}
	calc, err := h.snapshot(r)
	if err != nil {
		h.fail(w, r, "Failed to run engine", err)
		return
	}
	writeJSON(w, http.StatusOK, WALTResponse{RunContext: runContext(calc.Snapshot()), WALTReport: calc.WALT(policy)})
}

func (h *Handler) LeasingActivity(w http.ResponseWriter, r *http.Request) {
	calc, period, err := h.snapshotAndPeriod(r)
	if err != nil {
		h.fail(w, r, "Invalid request", err)
		return
	}
	activity, err := calc.LeasingActivity(period)
	if err != nil {
		h.fail(w, r, "Failed to compute leasing activity", err)
		return
	}
	props, portfolio := metrics.SummarizeActivity(activity.Events)
	writeJSON(w, http.StatusOK, LeasingActivityResponse{
		RunContext:     runContext(calc.Snapshot()),
		ActivityResult: activity,
		Properties:     props,
		Portfolio:      portfolio,
	})
}

func (h *Handler) NetAbsorption(w http.ResponseWriter, r *http.Request) {
	calc, period, err := h.snapshotAndPeriod(r)
	if err != nil {
		h.fail(w, r, "Invalid request", err)
		return
	}

	var report metrics.AbsorptionReport
	if r.URL.Query().Get("same_store") == "true" {
		window, werr := intParam(r, "window_months", h.Policies.SameStoreWindowMonths)
		if werr != nil {
			h.fail(w, r, "Invalid window_months", werr)
			return
		}
		report, err = calc.SameStoreNetAbsorption(period, window)
	} else {
		report, err = calc.NetAbsorption(period)
	}
	if err != nil {
		h.fail(w, r, "Failed to compute net absorption", err)
		return
	}
	writeJSON(w, http.StatusOK, NetAbsorptionResponse{RunContext: runContext(calc.Snapshot()), AbsorptionReport: report})
}

func (h *Handler) NOI(w http.ResponseWriter, r *http.Request) {
	policy, err := h.noiPolicy(r)
	if err != nil {
		h.fail(w, r, "NOI is not configured", err)
		return
	}
	calc, period, err := h.snapshotAndPeriod(r)
	if err != nil {
		h.fail(w, r, "Invalid request", err)
		return
	}
	report, err := calc.NOI(period, policy)
	if err != nil {
		h.fail(w, r, "Failed to compute NOI", err)
		return
	}
	writeJSON(w, http.StatusOK, NOIResponse{RunContext: runContext(calc.Snapshot()), NOIReport: report})
}

func (h *Handler) HealthScore(w http.ResponseWriter, r *http.Request) {
	policy, err := h.noiPolicy(r)
	if err != nil {
		h.fail(w, r, "NOI is not configured", err)
		return
	}
	calc, period, err := h.snapshotAndPeriod(r)
	if err != nil {
		h.fail(w, r, "Invalid request", err)
		return
	}
	report, err := calc.Health(period, policy)
	if err != nil {
		h.fail(w, r, "Failed to compute health score", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{RunContext: runContext(calc.Snapshot()), HealthReport: report})
}

func (h *Handler) Concentration(w http.ResponseWriter, r *http.Request) {
	calc, err := h.snapshot(r)
	if err != nil {
		h.fail(w, r, "Failed to run engine", err)
		return
	}
	rows, warnings := calc.Concentration()
	if rows == nil {
		rows = []metrics.ConcentrationRow{}
	}
	if warnings == nil {
		warnings = []lease.Warning{}
	}
	writeJSON(w, http.StatusOK, ConcentrationResponse{RunContext: runContext(calc.Snapshot()), Rows: rows, Warnings: warnings})
}

// Quality returns the warning counts and the warnings themselves.
func (h *Handler) Quality(w http.ResponseWriter, r *http.Request) {
	calc, err := h.snapshot(r)
	if err != nil {
		h.fail(w, r, "Failed to run engine", err)
		return
	}
	snap := calc.Snapshot()
	warnings := snap.Warnings
	if code := r.URL.Query().Get("code"); code != "" {
		warnings = nil
		for _, warn := range snap.Warnings {
			if string(warn.Code) == code {
				warnings = append(warnings, warn)
			}
		}
	}
	if warnings == nil {
		warnings = []lease.Warning{}
	}
	writeJSON(w, http.StatusOK, QualityResponse{RunContext: runContext(snap), Quality: snap.Quality, Warnings: warnings})
}

// =============================================================================
// VALIDATION ENDPOINTS
// =============================================================================

// Validate scores the engine against the posted reference values and
// applies the gate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, "Invalid request body", fmt.Errorf("%w: %v", ErrBadParameter, err))
		return
	}

	resp, err := h.validate(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Validation failed to run", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) validate(ctx context.Context, req ValidationRequest) (ValidationResponse, error) {
	if len(req.Reference) == 0 {
		return ValidationResponse{}, fmt.Errorf("%w: reference is empty", ErrBadParameter)
	}
	reportDate, err := reportDateParam(req.ReportDate)
	if err != nil {
		return ValidationResponse{}, err
	}
	var period *lease.Period
	if req.Period != nil {
		p, err := parsePeriod(req.Period.Start, req.Period.End)
		if err != nil {
			return ValidationResponse{}, err
		}
		period = &p
	}

	calc, err := h.calculate(ctx, reportDate)
	if err != nil {
		return ValidationResponse{}, err
	}
	report, err := validation.Evaluate(calc, req.Reference, validation.OptionsFrom(h.Policies, period))
	if err != nil {
		return ValidationResponse{}, err
	}

	thresholds := h.Thresholds
	if len(req.Thresholds) > 0 {
		thresholds = make(validation.Thresholds, len(req.Thresholds))
		for category, floor := range req.Thresholds {
			thresholds[category] = decimal.NewFromFloat(floor)
		}
	}

	resp := ValidationResponse{Report: report, Passed: true}
	if gateErr := report.Gate(thresholds); gateErr != nil {
		resp.Passed = false
		var ge *validation.GateError
		if errors.As(gateErr, &ge) {
			resp.Failures = ge.Failures
		}
	}

	if h.registry != nil {
		h.registry.ObserveValidation(report.CategoryMeans())
	}
	if h.runs != nil {
		if err := h.runs.SaveValidationRun(ctx, report, resp.Passed); err != nil {
			h.logger.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to save validation run")
		}
	}
	h.logger.Info().
		Str("run_id", report.RunID).
		Str("overall", report.Overall.StringFixed(2)).
		Int("compared", report.Compared).
		Bool("passed", resp.Passed).
		Msg("validation run")
	return resp, nil
}

// ListValidationRuns returns stored runs, newest first.
func (h *Handler) ListValidationRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeJSON(w, http.StatusOK, ValidationRunsResponse{Runs: []sqlite.ValidationRun{}})
		return
	}
	limit, err := intParam(r, "limit", 20)
	if err != nil {
		h.fail(w, r, "Invalid limit", err)
		return
	}
	runs, err := h.runs.ValidationRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list validation runs", err)
		return
	}
	if runs == nil {
		runs = []sqlite.ValidationRun{}
	}
	writeJSON(w, http.StatusOK, ValidationRunsResponse{Runs: runs})
}

// =============================================================================
// RECORD ENDPOINTS
// =============================================================================

// AppendRecords stores a JSON record feed. The feed is all-or-nothing.
func (h *Handler) AppendRecords(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		h.fail(w, r, "Cannot append records", ErrReadOnly)
		return
	}
	feed, err := factory.DecodeJSON(r.Body)
	if err != nil {
		h.fail(w, r, "Invalid record feed", fmt.Errorf("%w: %v", ErrBadParameter, err))
		return
	}
	if err := h.writer.AppendFeed(r.Context(), feed); err != nil {
		h.fail(w, r, "Failed to append records", err)
		return
	}
	writeJSON(w, http.StatusCreated, AppendResponse{
		Amendments:   len(feed.Amendments),
		Charges:      len(feed.Charges),
		Terminations: len(feed.Terminations),
		Ledger:       len(feed.Ledger),
		Properties:   len(feed.Properties),
		Customers:    len(feed.Customers),
	})
}

// =============================================================================
// PARAMETERS
// =============================================================================

func reportDateParam(s string) (lease.Date, error) {
	if strings.TrimSpace(s) == "" {
		return lease.Date{}, lease.ErrReportDateRequired
	}
	d, err := lease.ParseDate(s)
	if err != nil {
		return lease.Date{}, fmt.Errorf("report_date: %w", err)
	}
	return d, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrBadParameter, name, v)
	}
	return n, nil
}

func parsePeriod(start, end string) (lease.Period, error) {
	if start == "" || end == "" {
		return lease.Period{}, fmt.Errorf("start and end are required: %w", lease.ErrInvalidPeriod)
	}
	s, err := lease.ParseDate(start)
	if err != nil {
		return lease.Period{}, fmt.Errorf("start: %w", err)
	}
	e, err := lease.ParseDate(end)
	if err != nil {
		return lease.Period{}, fmt.Errorf("end: %w", err)
	}
	p := lease.Period{Start: s, End: e}
	if err := p.Validate(); err != nil {
		return lease.Period{}, fmt.Errorf("%s: %w", p, err)
	}
	return p, nil
}

// periodParam reads ?start&end, or ?period relative to reportDate.
func periodParam(r *http.Request, reportDate lease.Date) (lease.Period, error) {
	q := r.URL.Query()
	switch strings.ToLower(q.Get("period")) {
	case "":
		return parsePeriod(q.Get("start"), q.Get("end"))
	case "month":
		return lease.MonthPeriod(reportDate), nil
	case "quarter":
		return lease.QuarterPeriod(reportDate), nil
	case "year":
		return lease.YearPeriod(reportDate), nil
	}
	return lease.Period{}, fmt.Errorf("period %q, want month, quarter or year: %w", q.Get("period"), lease.ErrInvalidPeriod)
}

func (h *Handler) snapshotAndPeriod(r *http.Request) (*metrics.Calculator, lease.Period, error) {
	reportDate, err := reportDateParam(r.URL.Query().Get("report_date"))
	if err != nil {
		return nil, lease.Period{}, err
	}
	period, err := periodParam(r, reportDate)
	if err != nil {
		return nil, lease.Period{}, err
	}
	calc, err := h.calculate(r.Context(), reportDate)
	if err != nil {
		return nil, lease.Period{}, err
	}
	return calc, period, nil
}

// noiPolicy returns the configured NOI policy, with ?book overriding the
// book. There is no default book.
func (h *Handler) noiPolicy(r *http.Request) (metrics.NOIPolicy, error) {
	if h.Policies.NOI == nil {
		return metrics.NOIPolicy{}, fmt.Errorf("noi account ranges: %w", lease.ErrBookRequired)
	}
	p := *h.Policies.NOI
	if book := r.URL.Query().Get("book"); book != "" {
		p.Book = lease.Book(book)
	}
	return p, nil
}

// =============================================================================
// RESPONSES
// =============================================================================

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

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case lease.IsClientError(err), errors.Is(err, ErrBadParameter):
		return http.StatusBadRequest
	case lease.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, lease.ErrDuplicateAmendmentID), errors.Is(err, ErrReadOnly):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg(message)
	}
	writeError(w, status, message, err)
}
