/*
handlers_test.go - HTTP tests for the API

Tests for:
- report_date and period parsing, error statuses
- Lease and metric endpoints against a small portfolio
- Validation scoring, gate and run history
- Record ingestion and fixture loading on a writable store
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/lease-engine/engine"
	"github.com/warp/lease-engine/factory"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/lease/store"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/resolver"
	"github.com/warp/lease-engine/store/sqlite"
	"github.com/warp/lease-engine/telemetry"
	"github.com/warp/lease-engine/validation"
)

const reportDate = "2025-06-30"

const portfolioYAML = `
amendments:
  - {property_id: P1, tenant_id: T1, amendment_id: 1, sequence: 1, status: Activated, type: Original Lease, start_date: 2020-01-01, end_date: 2022-12-31, leased_area: 2500}
  - {property_id: P1, tenant_id: T1, amendment_id: 3, sequence: 3, status: Superseded, type: Renewal, start_date: 2024-01-01, end_date: 2028-12-31, leased_area: 2500}
  - {property_id: P2, tenant_id: T2, amendment_id: 5, sequence: 1, status: Activated, type: Original Lease, start_date: 2025-05-01, end_date: 2030-04-30, leased_area: 1000}
charges:
  - {amendment_id: 3, charge_code: rent, from_date: 2024-01-01, monthly_amount: 6000, frequency: Monthly}
  - {amendment_id: 5, charge_code: rent, from_date: 2025-05-01, monthly_amount: 2000, frequency: Monthly}
ledger:
  - {property_id: P1, account_code: 40100, book: accrual, period: 2025-04-01, amount: -30000}
  - {property_id: P1, account_code: 50100, book: accrual, period: 2025-05-01, amount: 9000}
properties:
  - {property_id: P1, rentable_area: 5000, acquire_date: 2015-01-01}
  - {property_id: P2, rentable_area: 4000, acquire_date: 2015-01-01}
customers:
  - {customer_id: HOLDCO, credit_grade: BBB}
  - {customer_id: T1, parent_id: HOLDCO}
`

func testFeed(t *testing.T) factory.Feed {
	t.Helper()
	feed, err := factory.DecodeYAML(strings.NewReader(portfolioYAML))
	require.NoError(t, err)
	return feed
}

func testPolicies(t *testing.T) factory.Policies {
	t.Helper()
	p := factory.DefaultPolicies()
	noi, err := factory.NOIJSON{Book: "accrual", RevenueRange: "40000-49999", ExpenseRange: "50000-69999"}.Policy()
	require.NoError(t, err)
	p.NOI = &noi
	return p
}

func newEngine(p factory.Policies) *engine.Engine {
	return engine.New(resolver.New(p.Resolver), p.Charges)
}

// memoryServer serves the portfolio from a read-only in-memory source.
func memoryServer(t *testing.T, opts ...HandlerOption) (*httptest.Server, *Handler) {
	t.Helper()
	rs, warnings := testFeed(t).RecordSet()
	require.Empty(t, warnings)
	src, err := store.NewMemoryFrom(rs)
	require.NoError(t, err)

	p := testPolicies(t)
	h := NewHandler(src, newEngine(p), p, opts...)
	srv := httptest.NewServer(NewRouter(h, RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv, h
}

// sqliteServer serves a writable SQLite store.
func sqliteServer(t *testing.T, opts ...HandlerOption) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := testPolicies(t)
	opts = append([]HandlerOption{WithWriter(db), WithRunStore(db)}, opts...)
	h := NewHandler(db, newEngine(p), p, opts...)
	srv := httptest.NewServer(NewRouter(h, RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv, db
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func post(t *testing.T, srv *httptest.Server, path string, body any, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// PARAMETERS & ERRORS
// =============================================================================

func TestReportDateIsRequired(t *testing.T) {
	srv, _ := memoryServer(t)

	for _, path := range []string{
		"/api/leases", "/api/rent-roll", "/api/expirations", "/api/future-leases",
		"/api/walt", "/api/concentration", "/api/quality",
		"/api/leasing-activity?period=quarter", "/api/noi?period=quarter",
	} {
		t.Run(path, func(t *testing.T) {
			var body ErrorResponse
			status := get(t, srv, path, &body)

			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, body.Details, lease.ErrReportDateRequired.Error())
		})
	}
}

func TestBadParameters(t *testing.T) {
	srv, _ := memoryServer(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"MALFORMED_REPORT_DATE", "/api/rent-roll?report_date=2025-13-45", http.StatusBadRequest},
		{"PERIOD_MISSING", "/api/leasing-activity?report_date=" + reportDate, http.StatusBadRequest},
		{"PERIOD_REVERSED", "/api/net-absorption?report_date=" + reportDate + "&start=2025-06-30&end=2025-04-01", http.StatusBadRequest},
		{"PERIOD_KEYWORD", "/api/net-absorption?report_date=" + reportDate + "&period=fortnight", http.StatusBadRequest},
		{"MONTHS_NOT_INT", "/api/expirations?report_date=" + reportDate + "&months=soon", http.StatusBadRequest},
		{"MONTHS_NEGATIVE", "/api/expirations?report_date=" + reportDate + "&months=-1", http.StatusBadRequest},
		{"WALT_TREATMENT", "/api/walt?report_date=" + reportDate + "&month_to_month=include", http.StatusBadRequest},
		{"SAME_STORE_WITHOUT_WINDOW", "/api/net-absorption?report_date=" + reportDate + "&period=quarter&same_store=true", http.StatusBadRequest},
		{"UNKNOWN_LEASE", "/api/leases/P9/T9?report_date=" + reportDate, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body ErrorResponse
			status := get(t, srv, tt.path, &body)

			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestNOIWithoutBook(t *testing.T) {
	// GIVEN: no NOI policy configured
	rs, _ := testFeed(t).RecordSet()
	src, err := store.NewMemoryFrom(rs)
	require.NoError(t, err)
	p := factory.DefaultPolicies()
	srv := httptest.NewServer(NewRouter(NewHandler(src, newEngine(p), p), RouterOptions{}))
	defer srv.Close()

	// WHEN / THEN: no default book, both NOI and health refuse
	for _, path := range []string{"/api/noi", "/api/health-score"} {
		var body ErrorResponse
		status := get(t, srv, path+"?report_date="+reportDate+"&period=quarter", &body)
		assert.Equal(t, http.StatusBadRequest, status, path)
		assert.Contains(t, body.Details, lease.ErrBookRequired.Error())
	}
}

// =============================================================================
// LEASES
// =============================================================================

func TestListLeases(t *testing.T) {
	srv, _ := memoryServer(t)

	t.Run("ALL", func(t *testing.T) {
		var resp LeasesResponse
		status := get(t, srv, "/api/leases?report_date="+reportDate, &resp)

		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, reportDate, resp.ReportDate.String())
		assert.NotEmpty(t, resp.RunID)
	})

	t.Run("BY_PROPERTY", func(t *testing.T) {
		var resp LeasesResponse
		get(t, srv, "/api/leases?report_date="+reportDate+"&property=P2", &resp)

		require.Len(t, resp.Leases, 1)
		assert.Equal(t, lease.TenantID("T2"), resp.Leases[0].TenantID)
	})

	t.Run("CURRENT_ONLY_BEFORE_P2_STARTS", func(t *testing.T) {
		var resp LeasesResponse
		get(t, srv, "/api/leases?report_date=2025-03-31&current=true", &resp)

		require.Len(t, resp.Leases, 1)
		assert.Equal(t, lease.PropertyID("P1"), resp.Leases[0].PropertyID)
	})
}

func TestGetLease(t *testing.T) {
	srv, _ := memoryServer(t)

	var resp LeaseResponse
	status := get(t, srv, "/api/leases/P1/T1?report_date="+reportDate, &resp)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, lease.AmendmentID("3"), resp.Lease.CanonicalAmendmentID)
	assert.True(t, resp.Current)
	assert.True(t, dec("6000").Equal(resp.Lease.MonthlyRent))
	assert.Empty(t, resp.Warnings)
}

// =============================================================================
// METRICS
// =============================================================================

func TestRentRoll(t *testing.T) {
	srv, _ := memoryServer(t)

	var resp RentRollResponse
	status := get(t, srv, "/api/rent-roll?report_date="+reportDate, &resp)

	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, lease.PropertyID("P1"), resp.Rows[0].PropertyID)
	assert.True(t, dec("6000").Equal(resp.Rows[0].MonthlyRent))
	assert.True(t, dec("28.8").Equal(resp.Rows[0].RentPSF))
	assert.True(t, dec("9000").Equal(resp.Portfolio.RentableArea))
	assert.True(t, dec("3500").Equal(resp.Portfolio.OccupiedArea))
}

func TestRentRoll_XLSX(t *testing.T) {
	srv, _ := memoryServer(t)

	resp, err := http.Get(srv.URL + "/api/rent-roll?report_date=" + reportDate + "&format=xlsx")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, XLSXContentType, resp.Header.Get("Content-Type"))

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(SheetRentRoll)
	require.NoError(t, err)
	assert.Len(t, rows, 3, "header + two leases")
	assert.Equal(t, "property_id", rows[0][0])
}

func TestWriteWorkbook_TypeColumnIsReadable(t *testing.T) {
	// GIVEN: a rent roll row for a renewal
	row := metrics.RentRollRow{
		PropertyID: "P1", TenantID: "T1", AmendmentID: "3", Sequence: 3,
		Type:      lease.TypeRenewal,
		StartDate: lease.MustParseDate("2024-01-01"),
	}

	// WHEN
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, Workbook{RentRoll: []metrics.RentRollRow{row}}))

	// THEN: the type cell holds the type name
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	header, err := f.GetCellValue(SheetRentRoll, "E1")
	require.NoError(t, err)
	assert.Equal(t, "type", header)
	got, err := f.GetCellValue(SheetRentRoll, "E2")
	require.NoError(t, err)
	assert.Equal(t, "Renewal", got)
}

func TestExpirations(t *testing.T) {
	srv, _ := memoryServer(t)

	t.Run("DEFAULT_WINDOW", func(t *testing.T) {
		var resp ExpirationsResponse
		get(t, srv, "/api/expirations?report_date="+reportDate, &resp)

		assert.Equal(t, DefaultExpirationMonths, resp.Months)
		assert.Empty(t, resp.Rows)
	})

	t.Run("WIDE_WINDOW", func(t *testing.T) {
		var resp ExpirationsResponse
		get(t, srv, "/api/expirations?report_date="+reportDate+"&months=48", &resp)

		require.Len(t, resp.Rows, 1)
		assert.Equal(t, lease.TenantID("T1"), resp.Rows[0].TenantID)
	})
}

func TestFutureLeases(t *testing.T) {
	srv, _ := memoryServer(t)

	var resp FutureLeasesResponse
	status := get(t, srv, "/api/future-leases?report_date=2025-03-31", &resp)

	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, lease.AmendmentID("5"), resp.Rows[0].AmendmentID)
	assert.True(t, dec("2000").Equal(resp.Rows[0].MonthlyRent))
}

func TestWALT(t *testing.T) {
	srv, _ := memoryServer(t)

	var resp WALTResponse
	status := get(t, srv, "/api/walt?report_date="+reportDate+"&month_to_month=zero_term", &resp)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, metrics.MonthToMonthZeroTerm, resp.Policy.MonthToMonth)
	assert.Equal(t, 2, resp.Portfolio.Leases)
	assert.True(t, resp.Portfolio.Months.GreaterThan(decimal.Zero))
}

func TestLeasingActivityAndAbsorption(t *testing.T) {
	srv, _ := memoryServer(t)

	t.Run("ACTIVITY", func(t *testing.T) {
		var resp LeasingActivityResponse
		status := get(t, srv, "/api/leasing-activity?report_date="+reportDate+"&period=quarter", &resp)

		require.Equal(t, http.StatusOK, status)
		require.Len(t, resp.Events, 1)
		assert.Equal(t, metrics.ActivityNewLease, resp.Events[0].Kind)
		assert.Equal(t, 1, resp.Portfolio.Counts[metrics.ActivityNewLease])
	})

	t.Run("NET_ABSORPTION", func(t *testing.T) {
		var resp NetAbsorptionResponse
		status := get(t, srv, "/api/net-absorption?report_date="+reportDate+"&start=2025-04-01&end=2025-06-30", &resp)

		require.Equal(t, http.StatusOK, status)
		assert.True(t, dec("1000").Equal(resp.Portfolio.Net))
		assert.False(t, resp.SameStore)
	})

	t.Run("SAME_STORE_WITH_WINDOW", func(t *testing.T) {
		var resp NetAbsorptionResponse
		status := get(t, srv, "/api/net-absorption?report_date="+reportDate+"&period=quarter&same_store=true&window_months=12", &resp)

		require.Equal(t, http.StatusOK, status)
		assert.True(t, resp.SameStore)
		assert.Equal(t, 12, resp.Window)
	})
}

func TestNOIAndHealth(t *testing.T) {
	srv, _ := memoryServer(t)

	t.Run("NOI", func(t *testing.T) {
		var resp NOIResponse
		status := get(t, srv, "/api/noi?report_date="+reportDate+"&period=quarter", &resp)

		require.Equal(t, http.StatusOK, status)
		assert.True(t, dec("30000").Equal(resp.Portfolio.Revenue))
		assert.True(t, dec("21000").Equal(resp.Portfolio.NOI))
	})

	t.Run("OTHER_BOOK_IS_EMPTY", func(t *testing.T) {
		var resp NOIResponse
		status := get(t, srv, "/api/noi?report_date="+reportDate+"&period=quarter&book=cash", &resp)

		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, lease.Book("cash"), resp.Book)
		assert.True(t, resp.Portfolio.Revenue.IsZero())
	})

	t.Run("HEALTH", func(t *testing.T) {
		var resp HealthResponse
		status := get(t, srv, "/api/health-score?report_date="+reportDate+"&period=quarter", &resp)

		require.Equal(t, http.StatusOK, status)
		assert.Len(t, resp.Score.Components, 4)
		assert.True(t, dec("0.7").Equal(resp.Inputs.NOIMargin))
	})
}

func TestConcentrationAndQuality(t *testing.T) {
	srv, _ := memoryServer(t)

	var conc ConcentrationResponse
	require.Equal(t, http.StatusOK, get(t, srv, "/api/concentration?report_date="+reportDate, &conc))
	require.NotEmpty(t, conc.Rows)
	assert.Equal(t, "HOLDCO", conc.Rows[0].ParentID)

	var q QualityResponse
	require.Equal(t, http.StatusOK, get(t, srv, "/api/quality?report_date="+reportDate, &q))
	assert.Equal(t, 0, q.Quality.Total)
	assert.Empty(t, q.Warnings)
}

// =============================================================================
// VALIDATION
// =============================================================================

func reference(rent string) []validation.Value {
	return []validation.Value{
		{Category: "rent_roll", Metric: "monthly_rent", Key: "P1/T1", Value: dec(rent)},
	}
}

func TestValidate(t *testing.T) {
	srv, _ := sqliteServer(t, WithThresholds(validation.Thresholds{validation.OverallKey: dec("95")}))
	require.Equal(t, http.StatusCreated, post(t, srv, "/api/records", testFeed(t), nil))

	t.Run("MATCHING_REFERENCE_PASSES", func(t *testing.T) {
		var resp ValidationResponse
		status := post(t, srv, "/api/validation", ValidationRequest{ReportDate: reportDate, Reference: reference("6000")}, &resp)

		require.Equal(t, http.StatusOK, status)
		assert.True(t, resp.Passed)
		assert.True(t, dec("100").Equal(resp.Report.Overall))
		assert.Equal(t, 1, resp.Report.Compared)
	})

	t.Run("DRIFT_FAILS_GATE", func(t *testing.T) {
		var resp ValidationResponse
		status := post(t, srv, "/api/validation", ValidationRequest{ReportDate: reportDate, Reference: reference("3000")}, &resp)

		require.Equal(t, http.StatusOK, status)
		assert.False(t, resp.Passed)
		require.Len(t, resp.Failures, 1)
		assert.Equal(t, validation.OverallKey, resp.Failures[0].Category)
		assert.True(t, dec("50").Equal(resp.Report.Overall))
	})

	t.Run("REQUEST_THRESHOLDS_OVERRIDE", func(t *testing.T) {
		var resp ValidationResponse
		post(t, srv, "/api/validation", ValidationRequest{
			ReportDate: reportDate,
			Reference:  reference("3000"),
			Thresholds: map[string]float64{validation.OverallKey: 40},
		}, &resp)

		assert.True(t, resp.Passed)
	})

	t.Run("EMPTY_REFERENCE", func(t *testing.T) {
		status := post(t, srv, "/api/validation", ValidationRequest{ReportDate: reportDate}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("RUNS_ARE_RECORDED", func(t *testing.T) {
		var resp ValidationRunsResponse
		status := get(t, srv, "/api/validation/runs", &resp)

		require.Equal(t, http.StatusOK, status)
		assert.Len(t, resp.Runs, 3)
	})
}

// =============================================================================
// RECORDS & FIXTURES
// =============================================================================

func TestAppendRecords(t *testing.T) {
	t.Run("READ_ONLY", func(t *testing.T) {
		srv, _ := memoryServer(t)
		status := post(t, srv, "/api/records", testFeed(t), nil)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("WRITABLE", func(t *testing.T) {
		srv, _ := sqliteServer(t)

		var created AppendResponse
		require.Equal(t, http.StatusCreated, post(t, srv, "/api/records", testFeed(t), &created))
		assert.Equal(t, 3, created.Amendments)

		var leases LeasesResponse
		get(t, srv, "/api/leases?report_date="+reportDate, &leases)
		assert.Equal(t, 2, leases.Count)
		assert.True(t, strings.HasPrefix(leases.RecordSetID, "sqlite:"), leases.RecordSetID)
		assert.True(t, strings.HasSuffix(leases.RecordSetID, ":1"), leases.RecordSetID)

		// Re-sending the same feed collides on amendment ids
		assert.Equal(t, http.StatusConflict, post(t, srv, "/api/records", testFeed(t), nil))
	})
}

func TestFixtures(t *testing.T) {
	srv, _ := sqliteServer(t)

	var list []FixtureDTO
	require.Equal(t, http.StatusOK, get(t, srv, "/api/fixtures", &list))
	require.NotEmpty(t, list)

	t.Run("LOAD", func(t *testing.T) {
		status := post(t, srv, "/api/fixtures/load", LoadFixtureRequest{Name: "literal-example"}, nil)
		require.Equal(t, http.StatusOK, status)

		var current CurrentFixtureResponse
		get(t, srv, "/api/fixtures/current", &current)
		assert.Equal(t, "literal-example", current.Name)

		var leases LeasesResponse
		get(t, srv, "/api/leases?report_date="+reportDate, &leases)
		require.Len(t, leases.Leases, 1)
		assert.Equal(t, lease.AmendmentID("3"), leases.Leases[0].CanonicalAmendmentID)
	})

	t.Run("UNKNOWN", func(t *testing.T) {
		status := post(t, srv, "/api/fixtures/load", LoadFixtureRequest{Name: "nope"}, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("REPLAY", func(t *testing.T) {
		var resp ReplayResponse
		require.Equal(t, http.StatusOK, post(t, srv, "/api/fixtures/replay", struct{}{}, &resp))
		assert.True(t, resp.Passed)
		assert.Len(t, resp.Results, len(list))
	})
}

// =============================================================================
// TELEMETRY & SCHEDULER
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	reg := telemetry.NewRegistry()
	srv, _ := memoryServer(t, WithRegistry(reg))

	get(t, srv, "/api/leases/P1/T1?report_date="+reportDate, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "lease_engine_http_request_duration_seconds")
	assert.Contains(t, buf.String(), `route="/api/leases/{property}/{tenant}"`)
}

func TestValidationScheduler_RunNow(t *testing.T) {
	// GIVEN: a scheduler pinned to the report date
	_, h := memoryServer(t)
	s := NewValidationScheduler(h, reference("6000"))
	s.ReportDate = func() lease.Date { return lease.MustParseDate(reportDate) }
	assert.Nil(t, s.Last())

	// WHEN
	resp, err := s.RunNow(context.Background())

	// THEN
	require.NoError(t, err)
	assert.True(t, resp.Passed)
	assert.Equal(t, reportDate, resp.Report.ReportDate.String())
	require.NotNil(t, s.Last())
	assert.Equal(t, resp.Report.RunID, s.Last().Report.RunID)
}

func TestValidationScheduler_RequiresReportDate(t *testing.T) {
	_, h := memoryServer(t)
	s := NewValidationScheduler(h, reference("6000"))

	_, err := s.RunNow(context.Background())
	assert.ErrorIs(t, err, lease.ErrReportDateRequired)

	// Start refuses to schedule runs it could not date
	s.Start()
	s.Stop()
	assert.Nil(t, s.Last())
}

func TestValidationScheduler_DisabledWithoutReference(t *testing.T) {
	_, h := memoryServer(t)
	s := NewValidationScheduler(h, nil)

	s.Start()
	s.Stop()

	assert.Nil(t, s.Last())
}
