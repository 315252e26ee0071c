package resolver_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/resolver"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var reportDate = lease.MustParseDate("2025-06-30")

func amendment(id string, seq int, status lease.Status, start, end string) lease.AmendmentRecord {
	a := lease.AmendmentRecord{
		PropertyID:  "P1",
		TenantID:    "T1",
		AmendmentID: lease.AmendmentID(id),
		Sequence:    seq,
		Status:      status,
		Type:        lease.TypeRenewal,
		StartDate:   lease.MustParseDate(start),
		LeasedArea:  decimal.NewFromInt(1000),
	}
	if end != "" {
		a.EndDate = lease.DatePtr(lease.MustParseDate(end))
	}
	return a
}

func newResolver() *resolver.Resolver {
	return resolver.New(resolver.DefaultPolicy())
}

func countCode(ws []lease.Warning, code lease.WarningCode) int {
	n := 0
	for _, w := range ws {
		if w.Code == code {
			n++
		}
	}
	return n
}

// =============================================================================
// CANONICAL SELECTION
// =============================================================================

func TestResolve_SelectsMaxSequence_SupersededStillEligible(t *testing.T) {
	// GIVEN: seq 1 and 2 Activated, seq 3 Superseded
	// THEN: seq 3 wins; status does not outrank sequence
	records := []lease.AmendmentRecord{
		amendment("101", 1, lease.StatusActivated, "2020-01-01", "2021-12-31"),
		amendment("102", 2, lease.StatusActivated, "2022-01-01", "2023-12-31"),
		amendment("103", 3, lease.StatusSuperseded, "2024-01-01", "2028-12-31"),
	}

	got, warnings := newResolver().Resolve(records, "P1", "T1", reportDate)

	require.NotNil(t, got)
	assert.Equal(t, lease.AmendmentID("103"), got.CanonicalAmendmentID)
	assert.Equal(t, 3, got.Sequence)
	assert.Empty(t, warnings)
}

func TestResolve_GapTolerance(t *testing.T) {
	records := []lease.AmendmentRecord{
		amendment("1", 1, lease.StatusSuperseded, "2020-01-01", "2022-12-31"),
		amendment("5", 5, lease.StatusActivated, "2023-01-01", "2027-12-31"),
	}

	got, _ := newResolver().Resolve(records, "P1", "T1", reportDate)

	require.NotNil(t, got)
	assert.Equal(t, 5, got.Sequence)
}

func TestResolve_DuplicateMaxSequence_HighestIDWins_OneWarning(t *testing.T) {
	// GIVEN: three records share the max sequence (a data defect)
	// THEN: highest amendment id wins, exactly one warning, no panic
	records := []lease.AmendmentRecord{
		amendment("9", 2, lease.StatusSuperseded, "2024-01-01", "2026-12-31"),
		amendment("12", 2, lease.StatusSuperseded, "2024-01-01", "2026-12-31"),
		amendment("10", 2, lease.StatusSuperseded, "2024-01-01", "2026-12-31"),
		amendment("3", 1, lease.StatusSuperseded, "2020-01-01", "2023-12-31"),
	}

	got, warnings := newResolver().Resolve(records, "P1", "T1", reportDate)

	require.NotNil(t, got)
	assert.Equal(t, lease.AmendmentID("12"), got.CanonicalAmendmentID, "numeric comparison, not lexicographic")
	assert.Equal(t, 1, countCode(warnings, lease.WarnDuplicateSequence))
	assert.True(t, got.DataQualityFlags.Has(lease.WarnDuplicateSequence))
}

func TestResolve_DeterministicRegardlessOfInputOrder(t *testing.T) {
	a := amendment("7", 4, lease.StatusSuperseded, "2024-01-01", "2026-12-31")
	b := amendment("8", 4, lease.StatusSuperseded, "2024-01-01", "2026-12-31")

	r := newResolver()
	first, _ := r.Resolve([]lease.AmendmentRecord{a, b}, "P1", "T1", reportDate)
	second, _ := r.Resolve([]lease.AmendmentRecord{b, a}, "P1", "T1", reportDate)

	assert.Equal(t, first, second)
}

func TestResolve_Idempotent(t *testing.T) {
	records := []lease.AmendmentRecord{
		amendment("1", 1, lease.StatusActivated, "2020-01-01", ""),
	}
	r := newResolver()

	first, w1 := r.Resolve(records, "P1", "T1", reportDate)
	second, w2 := r.Resolve(records, "P1", "T1", reportDate)

	assert.Equal(t, first, second)
	assert.Equal(t, w1, w2)
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestResolve_ExcludesTerminationAndIneligibleStatuses(t *testing.T) {
	term := amendment("30", 3, lease.StatusActivated, "2025-01-01", "2025-03-31")
	term.Type = lease.TypeTermination
	records := []lease.AmendmentRecord{
		amendment("10", 1, lease.StatusActivated, "2020-01-01", "2026-12-31"),
		term,
		amendment("40", 4, lease.StatusDraft, "2025-01-01", "2030-12-31"),
		amendment("50", 5, lease.StatusCancelled, "2025-01-01", "2030-12-31"),
		amendment("60", 6, lease.StatusPending, "2025-01-01", "2030-12-31"),
	}

	got, _ := newResolver().Resolve(records, "P1", "T1", reportDate)

	require.NotNil(t, got)
	assert.Equal(t, lease.AmendmentID("10"), got.CanonicalAmendmentID)
}

func TestResolve_ProposalExclusionIsConfigurable(t *testing.T) {
	proposal := amendment("20", 2, lease.StatusActivated, "2024-01-01", "2029-12-31")
	proposal.Type = lease.TypeProposal
	records := []lease.AmendmentRecord{
		amendment("10", 1, lease.StatusSuperseded, "2020-01-01", "2023-12-31"),
		proposal,
	}

	withProposals, _ := newResolver().Resolve(records, "P1", "T1", reportDate)
	require.NotNil(t, withProposals)
	assert.Equal(t, lease.AmendmentID("20"), withProposals.CanonicalAmendmentID)

	strict := resolver.New(resolver.NewPolicy(
		[]lease.Status{lease.StatusActivated, lease.StatusSuperseded},
		[]lease.AmendmentType{lease.TypeProposal},
	))
	withoutProposals, _ := strict.Resolve(records, "P1", "T1", reportDate)
	require.NotNil(t, withoutProposals)
	assert.Equal(t, lease.AmendmentID("10"), withoutProposals.CanonicalAmendmentID)
}

func TestNewPolicy_AlwaysExcludesTermination(t *testing.T) {
	p := resolver.NewPolicy([]lease.Status{lease.StatusActivated}, nil)
	term := amendment("1", 1, lease.StatusActivated, "2020-01-01", "")
	term.Type = lease.TypeTermination
	assert.False(t, p.Eligible(term))
}

func TestResolve_NoEligibleRecords_ReturnsNil(t *testing.T) {
	records := []lease.AmendmentRecord{
		amendment("1", 1, lease.StatusDraft, "2020-01-01", ""),
	}

	got, warnings := newResolver().Resolve(records, "P1", "T1", reportDate)

	assert.Nil(t, got)
	assert.Empty(t, warnings)
}

func TestResolve_OtherPairsIgnored(t *testing.T) {
	other := amendment("99", 9, lease.StatusActivated, "2020-01-01", "")
	other.TenantID = "T2"

	got, _ := newResolver().Resolve([]lease.AmendmentRecord{other}, "P1", "T1", reportDate)

	assert.Nil(t, got)
}

// =============================================================================
// FUTURE-DATED VERSIONS
// =============================================================================

func TestResolveGroup_FutureVersionHeldOut(t *testing.T) {
	// GIVEN: a signed renewal that starts after the report date
	// THEN: the running lease stays canonical; the renewal is the Future amendment
	records := []lease.AmendmentRecord{
		amendment("1", 1, lease.StatusSuperseded, "2020-01-01", "2025-12-31"),
		amendment("2", 2, lease.StatusActivated, "2026-01-01", "2030-12-31"),
	}
	key := lease.LeaseKey{PropertyID: "P1", TenantID: "T1"}

	res := newResolver().ResolveGroup(key, records, reportDate)

	require.NotNil(t, res.Lease)
	assert.Equal(t, lease.AmendmentID("1"), res.Lease.CanonicalAmendmentID)
	assert.True(t, res.Lease.IsCurrent(reportDate))
	require.NotNil(t, res.Future)
	assert.Equal(t, lease.AmendmentID("2"), res.Future.AmendmentID)
}

func TestResolveGroup_DuplicateSequenceAcrossFutureVersion(t *testing.T) {
	// GIVEN: a running version and a future version sharing sequence 2
	records := []lease.AmendmentRecord{
		amendment("1", 1, lease.StatusSuperseded, "2020-01-01", "2023-12-31"),
		amendment("9", 2, lease.StatusActivated, "2024-01-01", "2025-08-31"),
		amendment("10", 2, lease.StatusActivated, "2025-09-01", "2030-08-31"),
	}
	key := lease.LeaseKey{PropertyID: "P1", TenantID: "T1"}

	// WHEN
	res := newResolver().ResolveGroup(key, records, reportDate)

	// THEN: the running version stays canonical and the tie is reported once
	require.NotNil(t, res.Lease)
	assert.Equal(t, lease.AmendmentID("9"), res.Lease.CanonicalAmendmentID)
	require.NotNil(t, res.Future)
	assert.Equal(t, lease.AmendmentID("10"), res.Future.AmendmentID)
	assert.Equal(t, 1, countCode(res.Warnings, lease.WarnDuplicateSequence))
	assert.True(t, res.Lease.DataQualityFlags.Has(lease.WarnDuplicateSequence))
}

func TestResolveGroup_OnlyFutureVersions(t *testing.T) {
	records := []lease.AmendmentRecord{
		amendment("1", 1, lease.StatusActivated, "2025-09-01", "2030-08-31"),
	}
	key := lease.LeaseKey{PropertyID: "P1", TenantID: "T1"}

	res := newResolver().ResolveGroup(key, records, reportDate)

	assert.Nil(t, res.Lease)
	require.NotNil(t, res.Future)
	_, ok := res.Canonical()
	assert.False(t, ok)
}

// =============================================================================
// FAILURE SEMANTICS
// =============================================================================

func TestResolveGroup_MalformedRecordSkipped(t *testing.T) {
	broken := amendment("2", 2, lease.StatusActivated, "2024-01-01", "")
	broken.StartDate = lease.Date{}
	records := []lease.AmendmentRecord{
		amendment("1", 1, lease.StatusActivated, "2020-01-01", "2027-12-31"),
		broken,
	}
	key := lease.LeaseKey{PropertyID: "P1", TenantID: "T1"}

	res := newResolver().ResolveGroup(key, records, reportDate)

	require.NotNil(t, res.Lease)
	assert.Equal(t, lease.AmendmentID("1"), res.Lease.CanonicalAmendmentID)
	assert.Equal(t, 1, countCode(res.Warnings, lease.WarnMalformedRecord))
}

func TestResolveGroup_OverlappingActivatedFlagged(t *testing.T) {
	records := []lease.AmendmentRecord{
		amendment("1", 1, lease.StatusActivated, "2020-01-01", "2026-12-31"),
		amendment("2", 2, lease.StatusActivated, "2024-01-01", "2028-12-31"),
	}
	key := lease.LeaseKey{PropertyID: "P1", TenantID: "T1"}

	res := newResolver().ResolveGroup(key, records, reportDate)

	require.NotNil(t, res.Lease)
	assert.Equal(t, 1, countCode(res.Warnings, lease.WarnOverlappingLeaseDates))
	assert.True(t, res.Lease.DataQualityFlags.Has(lease.WarnOverlappingLeaseDates))
}

func TestResolveAll_OrderedByKey(t *testing.T) {
	b := amendment("2", 1, lease.StatusActivated, "2020-01-01", "")
	b.PropertyID = "P2"
	a := amendment("1", 1, lease.StatusActivated, "2020-01-01", "")

	out := newResolver().ResolveAll([]lease.AmendmentRecord{b, a}, reportDate)

	require.Len(t, out, 2)
	assert.Equal(t, lease.PropertyID("P1"), out[0].Key.PropertyID)
	assert.Equal(t, lease.PropertyID("P2"), out[1].Key.PropertyID)
}
