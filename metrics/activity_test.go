package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/metrics"
	"github.com/warp/lease-engine/resolver"
)

var q2 = lease.Period{Start: date("2025-04-01"), End: date("2025-06-30")}

func record(prop, tenant, id string, seq int, status lease.Status, typ lease.AmendmentType, start, end, area string) lease.AmendmentRecord {
	a := lease.AmendmentRecord{
		PropertyID: lease.PropertyID(prop), TenantID: lease.TenantID(tenant),
		AmendmentID: lease.AmendmentID(id), Sequence: seq,
		Status: status, Type: typ,
		StartDate: date(start), LeasedArea: dec(area),
	}
	if end != "" {
		a.EndDate = lease.DatePtr(date(end))
	}
	return a
}

// activityFixture covers every classification plus an orphaned termination.
func activityFixture() ([]lease.AmendmentRecord, []lease.TerminationRecord) {
	amendments := []lease.AmendmentRecord{
		record("P1", "T1", "1", 1, lease.StatusActivated, lease.TypeOriginalLease, "2025-04-15", "2030-04-14", "1000"),
		record("P1", "T2", "2", 2, lease.StatusActivated, lease.TypeRenewal, "2025-05-01", "2030-04-30", "2000"),
		record("P1", "T3", "3", 2, lease.StatusActivated, lease.TypeExpansion, "2025-06-30", "2030-06-29", "500"),
		record("P2", "T4", "4", 1, lease.StatusDraft, lease.TypeOriginalLease, "2025-05-01", "2030-04-30", "9000"),
		record("P2", "T5", "5", 2, lease.StatusActivated, lease.TypeOther, "2025-05-10", "2028-05-09", "800"),
		record("P2", "T6", "6", 1, lease.StatusActivated, lease.TypeOriginalLease, "2025-07-01", "2030-06-30", "700"),
		record("P2", "T7", "70", 1, lease.StatusActivated, lease.TypeOriginalLease, "2020-01-01", "2025-12-31", "1200"),
		record("P2", "T7", "71", 2, lease.StatusActivated, lease.TypeTermination, "2025-06-15", "2025-06-15", "1200"),
	}
	terminations := []lease.TerminationRecord{
		{PropertyID: "P2", TenantID: "T7", AmendmentID: "71", EndDate: date("2025-06-15"), MoveOutReason: "relocated"},
		{PropertyID: "P9", TenantID: "T9", AmendmentID: "99", EndDate: date("2025-05-31")},
		{PropertyID: "P2", TenantID: "T8", AmendmentID: "88", EndDate: date("2025-07-15")},
	}
	return amendments, terminations
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestLeasingActivity_Classification(t *testing.T) {
	amendments, terminations := activityFixture()

	result, err := metrics.LeasingActivity(amendments, terminations, q2, resolver.DefaultPolicy())
	require.NoError(t, err)

	kinds := map[lease.AmendmentID]metrics.ActivityKind{}
	for _, e := range result.Events {
		kinds[e.AmendmentID] = e.Kind
	}
	assert.Equal(t, map[lease.AmendmentID]metrics.ActivityKind{
		"1":  metrics.ActivityNewLease,
		"2":  metrics.ActivityRenewal,
		"3":  metrics.ActivityExpansion,
		"5":  metrics.ActivityRenewal,
		"71": metrics.ActivityTermination,
		"99": metrics.ActivityTermination,
	}, kinds)

	// Events are ordered by date
	for i := 1; i < len(result.Events); i++ {
		assert.False(t, result.Events[i].Date.Before(result.Events[i-1].Date))
	}
}

func TestLeasingActivity_TerminatedAreaFromLinkedAmendment(t *testing.T) {
	amendments, terminations := activityFixture()

	result, err := metrics.LeasingActivity(amendments, terminations, q2, resolver.DefaultPolicy())
	require.NoError(t, err)

	var found bool
	for _, e := range result.Events {
		if e.AmendmentID == "71" {
			found = true
			decEqual(t, "1200", e.Area)
			assert.Equal(t, "relocated", e.Reason)
			assert.Equal(t, date("2025-06-15"), e.Date)
		}
	}
	assert.True(t, found)
}

func TestLeasingActivity_TerminatedAreaFromLeaseInForce(t *testing.T) {
	// GIVEN: the termination's own amendment is missing from the extract
	amendments := []lease.AmendmentRecord{
		record("P3", "T8", "80", 1, lease.StatusActivated, lease.TypeOriginalLease, "2020-01-01", "2025-12-31", "700"),
	}
	terminations := []lease.TerminationRecord{
		{PropertyID: "P3", TenantID: "T8", AmendmentID: "81", EndDate: date("2025-06-01")},
	}

	result, err := metrics.LeasingActivity(amendments, terminations, q2, resolver.DefaultPolicy())

	// THEN: the area of the lease in force on the end date is used
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	decEqual(t, "700", result.Events[0].Area)
	assert.Empty(t, result.Warnings)
}

func TestLeasingActivity_OrphanedTerminationWarns(t *testing.T) {
	amendments, terminations := activityFixture()

	result, err := metrics.LeasingActivity(amendments, terminations, q2, resolver.DefaultPolicy())
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, lease.WarnOrphanedTermination, result.Warnings[0].Code)
	assert.Equal(t, lease.AmendmentID("99"), result.Warnings[0].AmendmentID)
}

func TestLeasingActivity_ProposalExcludedByPolicy(t *testing.T) {
	amendments := []lease.AmendmentRecord{
		record("P1", "T1", "1", 1, lease.StatusActivated, lease.TypeProposal, "2025-05-01", "2030-04-30", "1000"),
		record("P1", "T2", "2", 1, lease.StatusActivated, lease.TypeOriginalLease, "2025-05-01", "2030-04-30", "1000"),
	}
	strict := resolver.NewPolicy(
		[]lease.Status{lease.StatusActivated, lease.StatusSuperseded},
		[]lease.AmendmentType{lease.TypeProposal},
	)

	result, err := metrics.LeasingActivity(amendments, nil, q2, strict)

	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, lease.AmendmentID("2"), result.Events[0].AmendmentID)
}

func TestLeasingActivity_InvalidPeriod(t *testing.T) {
	_, err := metrics.LeasingActivity(nil, nil, lease.Period{Start: date("2025-06-30"), End: date("2025-04-01")}, resolver.DefaultPolicy())
	assert.ErrorIs(t, err, lease.ErrInvalidPeriod)
}

func TestClassifyAmendment_SupersededOriginalIsNotNewLease(t *testing.T) {
	a := record("P1", "T1", "1", 1, lease.StatusSuperseded, lease.TypeOriginalLease, "2025-05-01", "2030-04-30", "1000")

	_, ok := metrics.ClassifyAmendment(a, q2, resolver.DefaultPolicy())

	assert.False(t, ok)
}

// =============================================================================
// SUMMARY AND RETENTION
// =============================================================================

func TestSummarizeActivity(t *testing.T) {
	amendments, terminations := activityFixture()
	result, err := metrics.LeasingActivity(amendments, terminations, q2, resolver.DefaultPolicy())
	require.NoError(t, err)

	rows, total := metrics.SummarizeActivity(result.Events)

	require.Len(t, rows, 3)
	assert.Equal(t, lease.PropertyID("P1"), rows[0].PropertyID)
	assert.Equal(t, 2, total.Counts[metrics.ActivityRenewal])
	assert.Equal(t, 2, total.Counts[metrics.ActivityTermination])
	assert.Equal(t, 0, total.Counts[metrics.ActivityContraction])
	decEqual(t, "2800", total.Area[metrics.ActivityRenewal])
}

func TestRetention(t *testing.T) {
	amendments, terminations := activityFixture()
	result, err := metrics.LeasingActivity(amendments, terminations, q2, resolver.DefaultPolicy())
	require.NoError(t, err)

	decEqual(t, "0.5", metrics.Retention(result.Events))
	decEqual(t, "1", metrics.Retention(nil))
}

// =============================================================================
// NET ABSORPTION
// =============================================================================

func TestNetAbsorption_AccountingIdentity(t *testing.T) {
	amendments, terminations := activityFixture()
	result, err := metrics.LeasingActivity(amendments, terminations, q2, resolver.DefaultPolicy())
	require.NoError(t, err)

	report, err := metrics.NetAbsorption(result.Events, q2)
	require.NoError(t, err)

	// P1: +1000 new +2000 renewal; expansion is not absorption
	// P2: +800 renewal -1200 termination
	// P9: orphaned termination, zero area
	require.Len(t, report.Properties, 3)
	decEqual(t, "3000", report.Properties[0].Net)
	decEqual(t, "-400", report.Properties[1].Net)
	assert.True(t, report.Properties[2].Net.IsZero())

	decEqual(t, "3800", report.Portfolio.Commenced)
	decEqual(t, "1200", report.Portfolio.Expired)
	decEqual(t, "2600", report.Portfolio.Net)

	sum := report.Properties[0].Net
	for _, r := range report.Properties[1:] {
		sum = sum.Add(r.Net)
	}
	assert.True(t, sum.Equal(report.Portfolio.Commenced.Sub(report.Portfolio.Expired)))
	assert.False(t, report.SameStore)
}

func TestSameStoreNetAbsorption_RequiresWindow(t *testing.T) {
	_, err := metrics.SameStoreNetAbsorption(nil, nil, q2, 0)
	assert.ErrorIs(t, err, lease.ErrStabilityWindowRequired)
	assert.True(t, lease.IsClientError(err))
}

func TestSameStoreNetAbsorption_FiltersRecentAcquisitions(t *testing.T) {
	amendments, terminations := activityFixture()
	result, err := metrics.LeasingActivity(amendments, terminations, q2, resolver.DefaultPolicy())
	require.NoError(t, err)
	properties := []lease.Property{
		{ID: "P1", AcquireDate: lease.DatePtr(date("2020-01-01"))},
		{ID: "P2", AcquireDate: lease.DatePtr(date("2025-01-01"))},
		{ID: "P9"},
	}

	report, err := metrics.SameStoreNetAbsorption(result.Events, properties, q2, 12)

	// THEN: only P1 was held 12 months before the period
	require.NoError(t, err)
	assert.True(t, report.SameStore)
	assert.Equal(t, 12, report.Window)
	require.Len(t, report.Properties, 1)
	assert.Equal(t, lease.PropertyID("P1"), report.Properties[0].PropertyID)
	decEqual(t, "3000", report.Portfolio.Net)
}

func TestSameStoreProperties_Boundaries(t *testing.T) {
	properties := []lease.Property{
		{ID: "ON_CUTOFF", AcquireDate: lease.DatePtr(date("2024-04-01"))},
		{ID: "AFTER_CUTOFF", AcquireDate: lease.DatePtr(date("2024-04-02"))},
		{ID: "DISPOSED_AT_END", AcquireDate: lease.DatePtr(date("2020-01-01")), DisposeDate: lease.DatePtr(date("2025-06-30"))},
		{ID: "DISPOSED_AFTER", AcquireDate: lease.DatePtr(date("2020-01-01")), DisposeDate: lease.DatePtr(date("2025-07-01"))},
		{ID: "NO_ACQUIRE_DATE"},
	}

	got := metrics.SameStoreProperties(properties, q2, 12)

	assert.Equal(t, map[lease.PropertyID]bool{"ON_CUTOFF": true, "DISPOSED_AFTER": true}, got)
}
