/*
Package resolver selects the canonical amendment of each lease.

PURPOSE:
  Every downstream metric needs the same answer to "which version of this
  lease is in force on the report date". This package is the only place
  that answers it. Metrics consume the ResolvedLease it produces and never
  re-implement the max-sequence rule.

ALGORITHM (per property/tenant pair, for one report date):
  1. Drop malformed records (MalformedRecordWarning, logged).
  2. Keep records whose status is eligible and whose type is not excluded.
     Both sets come from Policy, not from constants.
  3. Hold out records starting after the report date: the highest of them
     is the Future amendment, used by forward-looking queries.
  4. Of the rest, pick the maximum Sequence. Gaps are irrelevant. Ties go
     to the highest amendment id and emit one DuplicateSequenceWarning.
  5. Nothing left: no resolvable lease (nil, not an error).

PURITY:
  Resolve is a pure function of (records, pair, report date). It reads no
  clock and keeps no state between calls, so groups can be resolved
  concurrently and results memoized (see engine/).

SEE ALSO:
  - lease/types.go: ResolvedLease.IsCurrent / IsExpiringWithin
  - charges/aggregator.go: fills MonthlyRent on the resolution
*/
package resolver

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/warp/lease-engine/lease"
)

// =============================================================================
// POLICY - Which records may become canonical
// =============================================================================

// Policy is the eligibility configuration. Business policy on Proposal
// amendments has changed before, so the sets are data, not code.
type Policy struct {
	EligibleStatuses map[lease.Status]bool
	ExcludedTypes    map[lease.AmendmentType]bool
}

// DefaultPolicy: Activated and Superseded records, Termination excluded.
func DefaultPolicy() Policy {
	return NewPolicy(
		[]lease.Status{lease.StatusActivated, lease.StatusSuperseded},
		[]lease.AmendmentType{lease.TypeTermination},
	)
}

// NewPolicy builds a Policy from explicit lists.
func NewPolicy(eligible []lease.Status, excluded []lease.AmendmentType) Policy {
	p := Policy{
		EligibleStatuses: make(map[lease.Status]bool, len(eligible)),
		ExcludedTypes:    make(map[lease.AmendmentType]bool, len(excluded)+1),
	}
	for _, s := range eligible {
		p.EligibleStatuses[s] = true
	}
	for _, t := range excluded {
		p.ExcludedTypes[t] = true
	}
	// A Termination amendment is never itself current, whatever the config says.
	p.ExcludedTypes[lease.TypeTermination] = true
	return p
}

// Eligible reports whether a record may be selected as canonical.
func (p Policy) Eligible(a lease.AmendmentRecord) bool {
	return p.EligibleStatuses[a.Status] && !p.ExcludedTypes[a.Type]
}

// =============================================================================
// RESOLUTION
// =============================================================================

// Resolution is the full outcome for one pair.
type Resolution struct {
	Key lease.LeaseKey

	// Lease is nil when no eligible record has started by the report date.
	Lease *lease.ResolvedLease

	// History holds the eligible, started records ordered by sequence
	// descending (ties by amendment id descending). History[0] is canonical.
	History []lease.AmendmentRecord

	// Future is the highest eligible record starting after the report date.
	Future *lease.AmendmentRecord

	Warnings []lease.Warning
}

// Canonical returns the selected amendment, if any.
func (r Resolution) Canonical() (lease.AmendmentRecord, bool) {
	if len(r.History) == 0 {
		return lease.AmendmentRecord{}, false
	}
	return r.History[0], true
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	policy Policy
	logger zerolog.Logger
}

type Option func(*Resolver)

// WithLogger routes malformed-record and data-quality logs.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func New(policy Policy, opts ...Option) *Resolver {
	r := &Resolver{policy: policy, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Policy() Policy { return r.policy }

// Resolve returns the canonical lease of (propertyID, tenantID) on
// reportDate, or nil when the tenant has no resolvable lease. Records for
// other pairs are ignored.
func (r *Resolver) Resolve(records []lease.AmendmentRecord, propertyID lease.PropertyID, tenantID lease.TenantID, reportDate lease.Date) (*lease.ResolvedLease, []lease.Warning) {
	key := lease.LeaseKey{PropertyID: propertyID, TenantID: tenantID}
	var group []lease.AmendmentRecord
	for _, rec := range records {
		if rec.Key() == key {
			group = append(group, rec)
		}
	}
	res := r.ResolveGroup(key, group, reportDate)
	return res.Lease, res.Warnings
}

// ResolveGroup resolves one pair whose records are already grouped.
func (r *Resolver) ResolveGroup(key lease.LeaseKey, group []lease.AmendmentRecord, reportDate lease.Date) Resolution {
	res := Resolution{Key: key}

	var started, future []lease.AmendmentRecord
	for _, rec := range group {
		if err := rec.Validate(); err != nil {
			r.logger.Warn().Err(err).
				Str("record_kind", string(lease.KindAmendment)).
				Str("record_id", string(rec.AmendmentID)).
				Msg("skipping malformed amendment")
			w := lease.MalformedRecordWarning(err)
			w.Key = key
			res.Warnings = append(res.Warnings, w)
			continue
		}
		if !r.policy.Eligible(rec) {
			continue
		}
		if rec.StartDate.After(reportDate) {
			future = append(future, rec)
		} else {
			started = append(started, rec)
		}
	}

	if len(future) > 0 {
		sortBySequenceDesc(future)
		f := future[0]
		res.Future = &f
	}
	if len(started) == 0 {
		return res
	}

	sortBySequenceDesc(started)
	res.History = started
	canonical := started[0]
	resolved := lease.FromAmendment(canonical)

	// A version held out as future still shares the sequence number space.
	if ties := countSequence(started, canonical.Sequence) + countSequence(future, canonical.Sequence); ties > 1 {
		w := lease.DuplicateSequenceWarning(key, canonical.AmendmentID, canonical.Sequence, ties)
		r.logger.Debug().Str("key", key.String()).Int("sequence", canonical.Sequence).Int("ties", ties).
			Msg("duplicate latest sequence")
		res.Warnings = append(res.Warnings, w)
		resolved.DataQualityFlags = resolved.DataQualityFlags.With(w.Code)
	}

	if a, b, ok := firstActivatedOverlap(started); ok {
		w := lease.Warning{
			Code:        lease.WarnOverlappingLeaseDates,
			Key:         key,
			AmendmentID: a,
			Message:     "activated amendments " + string(a) + " and " + string(b) + " overlap",
		}
		res.Warnings = append(res.Warnings, w)
		resolved.DataQualityFlags = resolved.DataQualityFlags.With(w.Code)
	}

	res.Lease = &resolved
	return res
}

// ResolveAll resolves every pair present in records. Output is ordered by
// property, then tenant.
func (r *Resolver) ResolveAll(records []lease.AmendmentRecord, reportDate lease.Date) []Resolution {
	groups := lease.GroupAmendments(records)
	keys := lease.SortedKeys(groups)
	out := make([]Resolution, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.ResolveGroup(k, groups[k], reportDate))
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

// sortBySequenceDesc orders by sequence, then amendment id, both descending.
// The order is total, so the result never depends on input order.
func sortBySequenceDesc(records []lease.AmendmentRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Sequence != records[j].Sequence {
			return records[i].Sequence > records[j].Sequence
		}
		return lease.CompareAmendmentIDs(records[i].AmendmentID, records[j].AmendmentID) > 0
	})
}

func countSequence(records []lease.AmendmentRecord, seq int) int {
	n := 0
	for _, r := range records {
		if r.Sequence == seq {
			n++
		}
	}
	return n
}

func firstActivatedOverlap(records []lease.AmendmentRecord) (lease.AmendmentID, lease.AmendmentID, bool) {
	for i := 0; i < len(records); i++ {
		if records[i].Status != lease.StatusActivated {
			continue
		}
		for j := i + 1; j < len(records); j++ {
			if records[j].Status == lease.StatusActivated && records[i].Overlaps(records[j]) {
				return records[i].AmendmentID, records[j].AmendmentID, true
			}
		}
	}
	return "", "", false
}
