/*
Package charges resolves the monthly rent of an amendment from its charge
schedule.

PURPOSE:
  An amendment owns many charge lines (base rent, CAM, tax, insurance,
  credits). Rent as of a date is the sum of the rent-bearing lines in
  effect on that date, each normalized to a monthly amount.

RULES:
  - A line is in effect on D when FromDate <= D < ToDate (open ToDate = in effect).
  - Monthly equivalent: Annual / 12, SemiAnnual / 6, Quarterly / 3, Monthly x 1.
  - "Rent" sums only Policy.RentCodes. "Gross" sums every in-effect line.
  - Negative lines (credits, free rent) are summed as-is, never clamped.
  - No rent-bearing line in effect: rent is 0 and a CHARGE_GAP warning is
    attached. Never an error.

FALLBACK (off by default):
  When the canonical amendment has no rent in effect, some reports used the
  rent of an earlier sequence of the same lease. Whether that is correct is
  a business decision still pending validation, so it only happens when
  Policy.FallbackToPriorSequence is set, and every lease it touches carries
  CHARGE_FALLBACK_APPLIED.

SEE ALSO:
  - resolver/resolver.go: produces the Resolution this package completes
*/
package charges

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/resolver"
)

// =============================================================================
// POLICY
// =============================================================================

// DefaultRentCodes are the base-rent charge codes. CAM, tax and insurance
// are excluded from rent but counted in gross rent.
var DefaultRentCodes = []lease.ChargeCode{"rent", "rnt", "baserent"}

type Policy struct {
	// RentCodes is the allow-list of rent-bearing codes (case-insensitive).
	RentCodes []lease.ChargeCode

	// FallbackToPriorSequence: use an earlier sequence's rent when the
	// canonical amendment has none. Pending business validation.
	FallbackToPriorSequence bool
}

func DefaultPolicy() Policy {
	return Policy{RentCodes: append([]lease.ChargeCode(nil), DefaultRentCodes...)}
}

func (p Policy) isRent(code lease.ChargeCode) bool {
	for _, c := range p.RentCodes {
		if strings.EqualFold(string(c), string(code)) {
			return true
		}
	}
	return false
}

// =============================================================================
// BREAKDOWN
// =============================================================================

// Breakdown is the charge picture of one amendment on one date.
type Breakdown struct {
	AmendmentID lease.AmendmentID                    `json:"amendment_id"`
	AsOf        lease.Date                           `json:"as_of"`
	Rent        decimal.Decimal                      `json:"rent"`
	Gross       decimal.Decimal                      `json:"gross"`
	ByCode      map[lease.ChargeCode]decimal.Decimal `json:"by_code"`
	Entries     int                                  `json:"entries"`      // lines in effect
	RentEntries int                                  `json:"rent_entries"` // rent-bearing lines in effect
}

// HasRent reports whether any rent-bearing line was in effect.
func (b Breakdown) HasRent() bool { return b.RentEntries > 0 }

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator indexes charge lines by amendment. Read-only after
// construction, safe for concurrent use.
type Aggregator struct {
	policy Policy
	index  map[lease.AmendmentID][]lease.ChargeScheduleEntry
}

func NewAggregator(entries []lease.ChargeScheduleEntry, policy Policy) *Aggregator {
	idx := make(map[lease.AmendmentID][]lease.ChargeScheduleEntry)
	for _, e := range entries {
		idx[e.AmendmentID] = append(idx[e.AmendmentID], e)
	}
	// Stable summation order keeps decimal results reproducible.
	for id := range idx {
		lines := idx[id]
		sort.SliceStable(lines, func(i, j int) bool {
			if lines[i].ChargeCode != lines[j].ChargeCode {
				return lines[i].ChargeCode < lines[j].ChargeCode
			}
			return lines[i].FromDate.Before(lines[j].FromDate)
		})
	}
	return &Aggregator{policy: policy, index: idx}
}

func (a *Aggregator) Policy() Policy { return a.policy }

// Breakdown sums the lines of amendmentID in effect on asOf.
func (a *Aggregator) Breakdown(amendmentID lease.AmendmentID, asOf lease.Date) Breakdown {
	b := Breakdown{
		AmendmentID: amendmentID,
		AsOf:        asOf,
		Rent:        decimal.Zero,
		Gross:       decimal.Zero,
		ByCode:      make(map[lease.ChargeCode]decimal.Decimal),
	}
	for _, line := range a.index[amendmentID] {
		if !line.InEffect(asOf) {
			continue
		}
		monthly := line.MonthlyEquivalent()
		b.Entries++
		b.Gross = b.Gross.Add(monthly)
		b.ByCode[line.ChargeCode] = b.ByCode[line.ChargeCode].Add(monthly)
		if a.policy.isRent(line.ChargeCode) {
			b.RentEntries++
			b.Rent = b.Rent.Add(monthly)
		}
	}
	return b
}

// MonthlyRent returns the rent-bearing monthly total on asOf (0 when none).
func (a *Aggregator) MonthlyRent(amendmentID lease.AmendmentID, asOf lease.Date) decimal.Decimal {
	return a.Breakdown(amendmentID, asOf).Rent
}

// Apply completes a resolution with rent figures as of asOf and returns the
// finished lease plus any warnings raised here. A resolution without a lease
// yields (nil, nil).
func (a *Aggregator) Apply(res resolver.Resolution, asOf lease.Date) (*lease.ResolvedLease, []lease.Warning) {
	if res.Lease == nil {
		return nil, nil
	}
	out := *res.Lease
	var warnings []lease.Warning

	b := a.Breakdown(out.CanonicalAmendmentID, asOf)
	out.MonthlyRent = b.Rent
	out.GrossMonthlyRent = b.Gross

	if !b.HasRent() {
		gap := lease.ChargeGapWarning(res.Key, out.CanonicalAmendmentID, asOf)
		warnings = append(warnings, gap)
		out.DataQualityFlags = out.DataQualityFlags.With(gap.Code)

		if a.policy.FallbackToPriorSequence {
			if prior, pb, ok := a.priorWithRent(res.History, asOf); ok {
				out.MonthlyRent = pb.Rent
				out.GrossMonthlyRent = pb.Gross
				w := lease.Warning{
					Code:        lease.WarnChargeFallbackApplied,
					Key:         res.Key,
					AmendmentID: out.CanonicalAmendmentID,
					Message:     "rent taken from prior amendment " + string(prior.AmendmentID),
				}
				warnings = append(warnings, w)
				out.DataQualityFlags = out.DataQualityFlags.With(w.Code)
			}
		}
	}
	return &out, warnings
}

// priorWithRent walks History (sequence descending) past the canonical
// record and returns the first amendment with rent in effect. Prior
// amendments may have ended, so each is evaluated as of the earlier of asOf
// and its end date. Charge lines end exclusively, and extracts often close
// the last line on the amendment's end date, so an ended amendment with no
// rent on its end date is tried once more on the day before.
func (a *Aggregator) priorWithRent(history []lease.AmendmentRecord, asOf lease.Date) (lease.AmendmentRecord, Breakdown, bool) {
	for i := 1; i < len(history); i++ {
		prior := history[i]
		at := asOf
		if prior.EndDate != nil {
			at = lease.MinDate(asOf, *prior.EndDate)
		}
		if b := a.Breakdown(prior.AmendmentID, at); b.HasRent() {
			return prior, b, true
		}
		if prior.EndDate != nil && at.Equal(*prior.EndDate) {
			if b := a.Breakdown(prior.AmendmentID, at.AddDays(-1)); b.HasRent() {
				return prior, b, true
			}
		}
	}
	return lease.AmendmentRecord{}, Breakdown{}, false
}
