package charges_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lease-engine/charges"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/resolver"
)

var asOf = lease.MustParseDate("2025-06-30")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(id, code, from, to, amount string, freq lease.Frequency) lease.ChargeScheduleEntry {
	e := lease.ChargeScheduleEntry{
		AmendmentID:   lease.AmendmentID(id),
		ChargeCode:    lease.ChargeCode(code),
		FromDate:      lease.MustParseDate(from),
		MonthlyAmount: dec(amount),
		Frequency:     freq,
	}
	if to != "" {
		e.ToDate = lease.DatePtr(lease.MustParseDate(to))
	}
	return e
}

func TestMonthlyRent_FrequencyNormalization(t *testing.T) {
	agg := charges.NewAggregator([]lease.ChargeScheduleEntry{
		line("A", "rent", "2025-01-01", "", "1000", lease.FrequencyMonthly),
		line("A", "rent", "2025-01-01", "", "3000", lease.FrequencyQuarterly),
		line("A", "rent", "2025-01-01", "", "6000", lease.FrequencySemiAnnual),
		line("A", "rent", "2025-01-01", "", "12000", lease.FrequencyAnnual),
	}, charges.DefaultPolicy())

	assert.True(t, dec("4000").Equal(agg.MonthlyRent("A", asOf)))
}

func TestBreakdown_HalfOpenInterval(t *testing.T) {
	agg := charges.NewAggregator([]lease.ChargeScheduleEntry{
		line("A", "rent", "2025-01-01", "2025-06-30", "1000", lease.FrequencyMonthly), // ends the day before
		line("A", "rent", "2025-06-30", "", "1100", lease.FrequencyMonthly),          // starts on asOf
		line("A", "rent", "2025-07-01", "", "9999", lease.FrequencyMonthly),          // not yet
	}, charges.DefaultPolicy())

	b := agg.Breakdown("A", asOf)

	assert.True(t, dec("1100").Equal(b.Rent))
	assert.Equal(t, 1, b.RentEntries)
}

func TestBreakdown_RentVersusGross(t *testing.T) {
	agg := charges.NewAggregator([]lease.ChargeScheduleEntry{
		line("A", "RNT", "2025-01-01", "", "5000", lease.FrequencyMonthly),
		line("A", "cam", "2025-01-01", "", "800", lease.FrequencyMonthly),
		line("A", "tax", "2025-01-01", "", "2400", lease.FrequencyAnnual),
		line("A", "ins", "2025-01-01", "", "300", lease.FrequencyQuarterly),
	}, charges.DefaultPolicy())

	b := agg.Breakdown("A", asOf)

	assert.True(t, dec("5000").Equal(b.Rent), "rent codes are case-insensitive")
	assert.True(t, dec("6100").Equal(b.Gross))
	assert.True(t, dec("200").Equal(b.ByCode["tax"]))
	assert.Equal(t, 4, b.Entries)
}

func TestMonthlyRent_CreditsPreserved(t *testing.T) {
	agg := charges.NewAggregator([]lease.ChargeScheduleEntry{
		line("A", "rent", "2025-01-01", "", "2000", lease.FrequencyMonthly),
		line("A", "rent", "2025-06-01", "2025-09-01", "-2500", lease.FrequencyMonthly),
	}, charges.DefaultPolicy())

	assert.True(t, dec("-500").Equal(agg.MonthlyRent("A", asOf)))
}

func TestMonthlyRent_CustomRentCodes(t *testing.T) {
	agg := charges.NewAggregator([]lease.ChargeScheduleEntry{
		line("A", "rent", "2025-01-01", "", "5000", lease.FrequencyMonthly),
		line("A", "pkg", "2025-01-01", "", "250", lease.FrequencyMonthly),
	}, charges.Policy{RentCodes: []lease.ChargeCode{"rent", "pkg"}})

	assert.True(t, dec("5250").Equal(agg.MonthlyRent("A", asOf)))
}

// =============================================================================
// APPLY - gap handling and fallback
// =============================================================================

func resolution(t *testing.T, records ...lease.AmendmentRecord) resolver.Resolution {
	t.Helper()
	res := resolver.New(resolver.DefaultPolicy()).ResolveGroup(records[0].Key(), records, asOf)
	require.NotNil(t, res.Lease)
	return res
}

func amendment(id string, seq int, start, end string) lease.AmendmentRecord {
	a := lease.AmendmentRecord{
		PropertyID: "P1", TenantID: "T1", AmendmentID: lease.AmendmentID(id), Sequence: seq,
		Status: lease.StatusSuperseded, Type: lease.TypeRenewal,
		StartDate: lease.MustParseDate(start), LeasedArea: dec("1000"),
	}
	if end != "" {
		a.EndDate = lease.DatePtr(lease.MustParseDate(end))
	}
	return a
}

func TestApply_NoCharges_ZeroRentAndGapWarning(t *testing.T) {
	agg := charges.NewAggregator(nil, charges.DefaultPolicy())
	res := resolution(t, amendment("A", 1, "2025-01-01", "2027-12-31"))

	got, warnings := agg.Apply(res, asOf)

	require.NotNil(t, got)
	assert.True(t, got.MonthlyRent.IsZero())
	require.Len(t, warnings, 1)
	assert.Equal(t, lease.WarnChargeGap, warnings[0].Code)
	assert.True(t, got.DataQualityFlags.Has(lease.WarnChargeGap))
	assert.Nil(t, res.Lease.DataQualityFlags, "input resolution is not mutated")
}

func TestApply_OnlyNonRentCharges_IsAGap(t *testing.T) {
	agg := charges.NewAggregator([]lease.ChargeScheduleEntry{
		line("A", "cam", "2025-01-01", "", "800", lease.FrequencyMonthly),
	}, charges.DefaultPolicy())
	res := resolution(t, amendment("A", 1, "2025-01-01", "2027-12-31"))

	got, warnings := agg.Apply(res, asOf)

	assert.True(t, got.MonthlyRent.IsZero())
	assert.True(t, dec("800").Equal(got.GrossMonthlyRent))
	assert.Len(t, warnings, 1)
}

func TestApply_FallbackOffByDefault(t *testing.T) {
	entries := []lease.ChargeScheduleEntry{
		line("OLD", "rent", "2022-01-01", "", "4000", lease.FrequencyMonthly),
	}
	res := resolution(t,
		amendment("OLD", 1, "2022-01-01", "2024-12-31"),
		amendment("NEW", 2, "2025-01-01", "2029-12-31"),
	)

	got, _ := charges.NewAggregator(entries, charges.DefaultPolicy()).Apply(res, asOf)

	assert.True(t, got.MonthlyRent.IsZero())
	assert.False(t, got.DataQualityFlags.Has(lease.WarnChargeFallbackApplied))
}

func TestApply_FallbackWhenEnabled(t *testing.T) {
	entries := []lease.ChargeScheduleEntry{
		// OLD's rent line ended with the amendment; evaluated at OLD's end date.
		line("OLD", "rent", "2022-01-01", "2025-01-01", "4000", lease.FrequencyMonthly),
	}
	res := resolution(t,
		amendment("OLD", 1, "2022-01-01", "2024-12-31"),
		amendment("NEW", 2, "2025-01-01", "2029-12-31"),
	)
	policy := charges.DefaultPolicy()
	policy.FallbackToPriorSequence = true

	got, warnings := charges.NewAggregator(entries, policy).Apply(res, asOf)

	assert.True(t, dec("4000").Equal(got.MonthlyRent))
	assert.Equal(t, lease.AmendmentID("NEW"), got.CanonicalAmendmentID, "canonical is unchanged")
	assert.True(t, got.DataQualityFlags.Has(lease.WarnChargeGap))
	assert.True(t, got.DataQualityFlags.Has(lease.WarnChargeFallbackApplied))
	assert.Len(t, warnings, 2)
}

func TestApply_FallbackLineClosedOnPriorEndDate(t *testing.T) {
	// GIVEN: OLD's rent line is closed on OLD's own end date, so it is not
	// in effect on that date, only on the day before
	entries := []lease.ChargeScheduleEntry{
		line("OLD", "rent", "2021-01-01", "2023-12-31", "4500", lease.FrequencyMonthly),
	}
	res := resolution(t,
		amendment("OLD", 1, "2021-01-01", "2023-12-31"),
		amendment("NEW", 2, "2024-01-01", "2029-12-31"),
	)
	policy := charges.DefaultPolicy()
	policy.FallbackToPriorSequence = true

	// WHEN
	got, warnings := charges.NewAggregator(entries, policy).Apply(res, asOf)

	// THEN: the rent of OLD's last in-effect day is carried forward
	assert.True(t, dec("4500").Equal(got.MonthlyRent), got.MonthlyRent.String())
	assert.True(t, got.DataQualityFlags.Has(lease.WarnChargeFallbackApplied))
	assert.Len(t, warnings, 2)
}

func TestApply_NilLease(t *testing.T) {
	got, warnings := charges.NewAggregator(nil, charges.DefaultPolicy()).Apply(resolver.Resolution{}, asOf)
	assert.Nil(t, got)
	assert.Nil(t, warnings)
}
