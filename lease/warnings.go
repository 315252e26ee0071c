package lease

import (
	"errors"
	"fmt"
	"sort"
)

// =============================================================================
// DATA-QUALITY WARNINGS
// =============================================================================

// WarningCode categorizes non-fatal issues. Codes are part of the output
// contract; downstream reports count them.
type WarningCode string

const (
	WarnDuplicateSequence     WarningCode = "DUPLICATE_SEQUENCE"
	WarnChargeGap             WarningCode = "CHARGE_GAP"
	WarnMalformedRecord       WarningCode = "MALFORMED_RECORD"
	WarnOrphanedTermination   WarningCode = "ORPHANED_TERMINATION"
	WarnOverlappingLeaseDates WarningCode = "OVERLAPPING_LEASE_DATES"
	WarnChargeFallbackApplied WarningCode = "CHARGE_FALLBACK_APPLIED"
	WarnHierarchyCycle        WarningCode = "HIERARCHY_CYCLE"
)

// Warning is a data-quality signal. It never stops computation.
type Warning struct {
	Code        WarningCode `json:"code"`
	Key         LeaseKey    `json:"key"`
	AmendmentID AmendmentID `json:"amendment_id,omitempty"`
	Message     string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s %s: %s", w.Code, w.Key, w.AmendmentID, w.Message)
}

// DuplicateSequenceWarning is emitted once per pair whose maximum sequence
// is shared by more than one record.
func DuplicateSequenceWarning(key LeaseKey, chosen AmendmentID, sequence int, count int) Warning {
	return Warning{
		Code:        WarnDuplicateSequence,
		Key:         key,
		AmendmentID: chosen,
		Message:     fmt.Sprintf("%d records share sequence %d; chose highest amendment id", count, sequence),
	}
}

// ChargeGapWarning is emitted when no rent-bearing charge is in effect.
func ChargeGapWarning(key LeaseKey, id AmendmentID, asOf Date) Warning {
	return Warning{
		Code:        WarnChargeGap,
		Key:         key,
		AmendmentID: id,
		Message:     "no rent charge in effect on " + asOf.String(),
	}
}

// OrphanedTerminationWarning is emitted for a termination that cannot be
// tied to any amendment of its pair.
func OrphanedTerminationWarning(t TerminationRecord) Warning {
	return Warning{
		Code:        WarnOrphanedTermination,
		Key:         t.Key(),
		AmendmentID: t.AmendmentID,
		Message:     "termination ending " + t.EndDate.String() + " has no matching amendment",
	}
}

// DanglingTerminationWarning is an ORPHANED_TERMINATION for a termination
// whose pair exists but whose amendment_id is not one of the pair's.
func DanglingTerminationWarning(t TerminationRecord) Warning {
	return Warning{
		Code:        WarnOrphanedTermination,
		Key:         t.Key(),
		AmendmentID: t.AmendmentID,
		Message:     "termination ending " + t.EndDate.String() + " links to amendment " + string(t.AmendmentID) + " which is not on this lease",
	}
}

// MalformedRecordWarning wraps the reason a record was skipped.
func MalformedRecordWarning(err error) Warning {
	w := Warning{Code: WarnMalformedRecord, Message: err.Error()}
	var m *MalformedRecordError
	if errors.As(err, &m) && m.Kind == KindAmendment {
		w.AmendmentID = AmendmentID(m.ID)
	}
	return w
}

// =============================================================================
// FLAGS - Sorted set of warning codes carried by a ResolvedLease
// =============================================================================

type Flags []WarningCode

// With returns a copy of f including code. The receiver is never modified.
func (f Flags) With(code WarningCode) Flags {
	if f.Has(code) {
		return f
	}
	out := make(Flags, 0, len(f)+1)
	out = append(out, f...)
	out = append(out, code)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (f Flags) Has(code WarningCode) bool {
	for _, c := range f {
		if c == code {
			return true
		}
	}
	return false
}

// =============================================================================
// QUALITY REPORT - Portfolio-level aggregation
// =============================================================================

// QualityReport counts warnings by code.
type QualityReport struct {
	Counts map[WarningCode]int `json:"counts"`
	Total  int                 `json:"total"`
}

// Summarize aggregates a warning list.
func Summarize(warnings []Warning) QualityReport {
	q := QualityReport{Counts: make(map[WarningCode]int)}
	for _, w := range warnings {
		q.Counts[w.Code]++
		q.Total++
	}
	return q
}
