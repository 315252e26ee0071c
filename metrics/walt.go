package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/lease"
)

// =============================================================================
// WALT - Weighted average remaining lease term, in months
// =============================================================================
//
//   WALT = Σ(area_i × remaining_months_i) / Σ(area_i)
//
// over current leases. remaining_months is lease.MonthsBetween(report date,
// end date). How month-to-month leases take part is a policy: source
// reports disagree, so the treatment is always explicit.

type MonthToMonthTreatment string

const (
	// MonthToMonthExclude drops open-ended leases from numerator and
	// denominator. Default.
	MonthToMonthExclude MonthToMonthTreatment = "exclude"

	// MonthToMonthZeroTerm keeps their area in the denominator with zero
	// remaining months, pulling WALT down.
	MonthToMonthZeroTerm MonthToMonthTreatment = "zero_term"
)

func ParseMonthToMonthTreatment(s string) (MonthToMonthTreatment, error) {
	switch MonthToMonthTreatment(strings.ToLower(strings.TrimSpace(s))) {
	case "", MonthToMonthExclude:
		return MonthToMonthExclude, nil
	case MonthToMonthZeroTerm:
		return MonthToMonthZeroTerm, nil
	}
	return "", fmt.Errorf("unknown month-to-month treatment %q", s)
}

type WALTPolicy struct {
	MonthToMonth MonthToMonthTreatment
}

func DefaultWALTPolicy() WALTPolicy {
	return WALTPolicy{MonthToMonth: MonthToMonthExclude}
}

// WALTResult is the WALT of one property, or of the portfolio when
// PropertyID is empty.
type WALTResult struct {
	PropertyID           lease.PropertyID `json:"property_id,omitempty"`
	Months               decimal.Decimal  `json:"walt_months"`
	Area                 decimal.Decimal  `json:"area"`
	WeightedMonths       decimal.Decimal  `json:"weighted_months"`
	Leases               int              `json:"leases"`
	ExcludedMonthToMonth int              `json:"excluded_month_to_month"`
}

type WALTReport struct {
	Policy     WALTPolicy   `json:"policy"`
	Portfolio  WALTResult   `json:"portfolio"`
	Properties []WALTResult `json:"properties"`
}

// WALT computes per-property and portfolio WALT on reportDate.
func WALT(leases []lease.ResolvedLease, reportDate lease.Date, policy WALTPolicy) WALTReport {
	if policy.MonthToMonth == "" {
		policy.MonthToMonth = MonthToMonthExclude
	}
	byProp := make(map[lease.PropertyID]*WALTResult)
	total := &WALTResult{Area: decimal.Zero, WeightedMonths: decimal.Zero}

	for _, l := range leases {
		if !l.IsCurrent(reportDate) {
			continue
		}
		r, ok := byProp[l.PropertyID]
		if !ok {
			r = &WALTResult{PropertyID: l.PropertyID, Area: decimal.Zero, WeightedMonths: decimal.Zero}
			byProp[l.PropertyID] = r
		}

		remaining := decimal.Zero
		if l.EndDate == nil {
			if policy.MonthToMonth == MonthToMonthExclude {
				r.ExcludedMonthToMonth++
				total.ExcludedMonthToMonth++
				continue
			}
		} else {
			remaining = lease.MonthsBetween(reportDate, *l.EndDate)
		}

		weighted := l.LeasedArea.Mul(remaining)
		for _, acc := range []*WALTResult{r, total} {
			acc.Area = acc.Area.Add(l.LeasedArea)
			acc.WeightedMonths = acc.WeightedMonths.Add(weighted)
			acc.Leases++
		}
	}

	report := WALTReport{Policy: policy, Properties: make([]WALTResult, 0, len(byProp))}
	for _, r := range byProp {
		r.Months = ratio(r.WeightedMonths, r.Area)
		report.Properties = append(report.Properties, *r)
	}
	total.Months = ratio(total.WeightedMonths, total.Area)
	report.Portfolio = *total
	sort.Slice(report.Properties, func(i, j int) bool {
		return report.Properties[i].PropertyID < report.Properties[j].PropertyID
	})
	return report
}
