package metrics

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/lease-engine/lease"
	"github.com/warp/lease-engine/resolver"
)

// =============================================================================
// LEASING ACTIVITY - One classification per amendment per period
// =============================================================================
//
// Evaluated against an inclusive period [Start, End]:
//
//   NewLease     type OriginalLease, status Activated, start in period
//   Renewal      type Renewal, start in period. Type Other with sequence > 0
//                is also a renewal (free-form source types such as
//                "Extension" or "Modification").
//   Expansion    type Expansion, start in period
//   Contraction  type Contraction, start in period
//   Termination  a TerminationRecord whose end date is in period
//
// Amendments must also be eligible under the resolver policy, so Draft,
// Cancelled and Pending versions never count as activity.

type ActivityKind string

const (
	ActivityNewLease    ActivityKind = "NewLease"
	ActivityRenewal     ActivityKind = "Renewal"
	ActivityExpansion   ActivityKind = "Expansion"
	ActivityContraction ActivityKind = "Contraction"
	ActivityTermination ActivityKind = "Termination"
)

// ActivityKinds lists every kind in reporting order.
var ActivityKinds = []ActivityKind{
	ActivityNewLease, ActivityRenewal, ActivityExpansion, ActivityContraction, ActivityTermination,
}

// ActivityEvent is one classified amendment or termination.
type ActivityEvent struct {
	Kind        ActivityKind      `json:"kind"`
	PropertyID  lease.PropertyID  `json:"property_id"`
	TenantID    lease.TenantID    `json:"tenant_id"`
	AmendmentID lease.AmendmentID `json:"amendment_id"`
	Date        lease.Date        `json:"date"` // start date, or end date for terminations
	Area        decimal.Decimal   `json:"area"`
	Reason      string            `json:"reason,omitempty"` // move-out reason
}

// ActivityResult holds every event of a period plus the warnings raised
// while deriving terminated area.
type ActivityResult struct {
	Period   lease.Period    `json:"period"`
	Events   []ActivityEvent `json:"events"`
	Warnings []lease.Warning `json:"warnings,omitempty"`
}

// ClassifyAmendment returns the activity kind of a single amendment in
// period, if any.
func ClassifyAmendment(a lease.AmendmentRecord, period lease.Period, policy resolver.Policy) (ActivityKind, bool) {
	if !policy.Eligible(a) || !period.Contains(a.StartDate) {
		return "", false
	}
	switch a.Type {
	case lease.TypeOriginalLease:
		if a.Status == lease.StatusActivated {
			return ActivityNewLease, true
		}
	case lease.TypeRenewal:
		return ActivityRenewal, true
	case lease.TypeExpansion:
		return ActivityExpansion, true
	case lease.TypeContraction:
		return ActivityContraction, true
	case lease.TypeOther:
		if a.Sequence > 0 {
			return ActivityRenewal, true
		}
	}
	return "", false
}

// LeasingActivity classifies every amendment and termination of period.
//
// Terminated area comes from the amendment the termination links to. When
// that amendment is missing or has no area, the lease in force on the
// termination date is used. With neither, the event carries zero area and
// an ORPHANED_TERMINATION warning.
func LeasingActivity(amendments []lease.AmendmentRecord, terminations []lease.TerminationRecord, period lease.Period, policy resolver.Policy) (ActivityResult, error) {
	if err := period.Validate(); err != nil {
		return ActivityResult{}, err
	}
	result := ActivityResult{Period: period}

	for _, a := range amendments {
		kind, ok := ClassifyAmendment(a, period, policy)
		if !ok {
			continue
		}
		result.Events = append(result.Events, ActivityEvent{
			Kind:        kind,
			PropertyID:  a.PropertyID,
			TenantID:    a.TenantID,
			AmendmentID: a.AmendmentID,
			Date:        a.StartDate,
			Area:        a.LeasedArea,
		})
	}

	index := lease.AmendmentIndex(amendments)
	groups := lease.GroupAmendments(amendments)
	res := resolver.New(policy)
	for _, t := range terminations {
		if !period.Contains(t.EndDate) {
			continue
		}
		area, ok := terminatedArea(t, index, groups, res)
		if !ok {
			result.Warnings = append(result.Warnings, lease.OrphanedTerminationWarning(t))
		}
		result.Events = append(result.Events, ActivityEvent{
			Kind:        ActivityTermination,
			PropertyID:  t.PropertyID,
			TenantID:    t.TenantID,
			AmendmentID: t.AmendmentID,
			Date:        t.EndDate,
			Area:        area,
			Reason:      t.MoveOutReason,
		})
	}

	sort.SliceStable(result.Events, func(i, j int) bool {
		ei, ej := result.Events[i], result.Events[j]
		if !ei.Date.Equal(ej.Date) {
			return ei.Date.Before(ej.Date)
		}
		ki := lease.LeaseKey{PropertyID: ei.PropertyID, TenantID: ei.TenantID}
		kj := lease.LeaseKey{PropertyID: ej.PropertyID, TenantID: ej.TenantID}
		if ki != kj {
			return ki.Less(kj)
		}
		return lease.CompareAmendmentIDs(ei.AmendmentID, ej.AmendmentID) < 0
	})
	return result, nil
}

func terminatedArea(t lease.TerminationRecord, index map[lease.AmendmentID]lease.AmendmentRecord, groups map[lease.LeaseKey][]lease.AmendmentRecord, res *resolver.Resolver) (decimal.Decimal, bool) {
	if linked, ok := index[t.AmendmentID]; ok && linked.Key() == t.Key() && linked.LeasedArea.IsPositive() {
		return linked.LeasedArea, true
	}
	in := res.ResolveGroup(t.Key(), groups[t.Key()], t.EndDate)
	if in.Lease != nil {
		return in.Lease.LeasedArea, true
	}
	return decimal.Zero, false
}

// =============================================================================
// SUMMARY
// =============================================================================

// ActivitySummary counts events and area per kind for one property, or for
// the portfolio when PropertyID is empty.
type ActivitySummary struct {
	PropertyID lease.PropertyID                 `json:"property_id,omitempty"`
	Counts     map[ActivityKind]int             `json:"counts"`
	Area       map[ActivityKind]decimal.Decimal `json:"area"`
}

func newSummary(id lease.PropertyID) *ActivitySummary {
	s := &ActivitySummary{
		PropertyID: id,
		Counts:     make(map[ActivityKind]int, len(ActivityKinds)),
		Area:       make(map[ActivityKind]decimal.Decimal, len(ActivityKinds)),
	}
	for _, k := range ActivityKinds {
		s.Counts[k] = 0
		s.Area[k] = decimal.Zero
	}
	return s
}

func (s *ActivitySummary) add(e ActivityEvent) {
	s.Counts[e.Kind]++
	s.Area[e.Kind] = s.Area[e.Kind].Add(e.Area)
}

// SummarizeActivity aggregates events per property and for the portfolio.
func SummarizeActivity(events []ActivityEvent) ([]ActivitySummary, ActivitySummary) {
	byProp := make(map[lease.PropertyID]*ActivitySummary)
	total := newSummary("")
	for _, e := range events {
		s, ok := byProp[e.PropertyID]
		if !ok {
			s = newSummary(e.PropertyID)
			byProp[e.PropertyID] = s
		}
		s.add(e)
		total.add(e)
	}
	out := make([]ActivitySummary, 0, len(byProp))
	for _, s := range byProp {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PropertyID < out[j].PropertyID })
	return out, *total
}

// Retention is renewals / (renewals + terminations). A period with neither
// lost no tenants and retains 1.
func Retention(events []ActivityEvent) decimal.Decimal {
	var renewals, terminations int64
	for _, e := range events {
		switch e.Kind {
		case ActivityRenewal:
			renewals++
		case ActivityTermination:
			terminations++
		}
	}
	if renewals+terminations == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(renewals).Div(decimal.NewFromInt(renewals + terminations))
}
