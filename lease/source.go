/*
source.go - Materialized input snapshot and the interface that supplies it

PURPOSE:
  Ingestion is an external collaborator. Whatever loads records (memory
  store, SQLite, PostgreSQL, a JSON feed) hands the engine a fully
  materialized RecordSet. The engine never reads from a store mid-run.

KEY TYPES:
  RecordSet: every input table for one snapshot, plus an optional ID used
             as the memoization namespace
  Source:    anything that can produce a RecordSet

IMPLEMENTATIONS:
  - lease/store/memory.go: in-memory, append-only
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/source.go: PostgreSQL (read-only)

SEE ALSO:
  - engine/engine.go: consumes RecordSet
*/
package lease

import (
	"context"
	"sort"
)

// Source produces an input snapshot.
type Source interface {
	Load(ctx context.Context) (*RecordSet, error)
}

// CheckedSource is a Source that parses raw rows itself and can report the
// rows it had to drop.
type CheckedSource interface {
	Source
	LoadChecked(ctx context.Context) (*RecordSet, []Warning, error)
}

// LoadWithWarnings loads src, collecting ingestion warnings when src can
// report them.
func LoadWithWarnings(ctx context.Context, src Source) (*RecordSet, []Warning, error) {
	if cs, ok := src.(CheckedSource); ok {
		return cs.LoadChecked(ctx)
	}
	rs, err := src.Load(ctx)
	return rs, nil, err
}

// RecordSet is a materialized, read-only input snapshot.
//
// ID identifies the snapshot content. Two RecordSets with the same non-empty
// ID must hold identical records; caches rely on it.
type RecordSet struct {
	ID           string
	Amendments   []AmendmentRecord
	Charges      []ChargeScheduleEntry
	Terminations []TerminationRecord
	Ledger       []LedgerEntry
	Properties   []Property
	Customers    []Customer
}

// GroupAmendments buckets records by (property, tenant). Input order is
// preserved inside each bucket.
func GroupAmendments(records []AmendmentRecord) map[LeaseKey][]AmendmentRecord {
	groups := make(map[LeaseKey][]AmendmentRecord)
	for _, r := range records {
		groups[r.Key()] = append(groups[r.Key()], r)
	}
	return groups
}

// SortedKeys returns the group keys ordered by property then tenant.
func SortedKeys[V any](groups map[LeaseKey]V) []LeaseKey {
	keys := make([]LeaseKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// AmendmentIndex maps amendment ids to records.
func AmendmentIndex(records []AmendmentRecord) map[AmendmentID]AmendmentRecord {
	idx := make(map[AmendmentID]AmendmentRecord, len(records))
	for _, r := range records {
		idx[r.AmendmentID] = r
	}
	return idx
}

// Sanitize drops records that fail validation and reports one
// MalformedRecordWarning per dropped record. The input is not modified.
func (rs *RecordSet) Sanitize() (*RecordSet, []Warning) {
	var warnings []Warning
	out := &RecordSet{ID: rs.ID}
	keep := func(err error) bool {
		if err != nil {
			warnings = append(warnings, MalformedRecordWarning(err))
			return false
		}
		return true
	}
	for _, r := range rs.Amendments {
		if keep(r.Validate()) {
			out.Amendments = append(out.Amendments, r)
		}
	}
	for _, r := range rs.Charges {
		if keep(r.Validate()) {
			out.Charges = append(out.Charges, r)
		}
	}
	for _, r := range rs.Terminations {
		if keep(r.Validate()) {
			out.Terminations = append(out.Terminations, r)
		}
	}
	for _, r := range rs.Ledger {
		if keep(r.Validate()) {
			out.Ledger = append(out.Ledger, r)
		}
	}
	for _, r := range rs.Properties {
		if keep(r.Validate()) {
			out.Properties = append(out.Properties, r)
		}
	}
	for _, r := range rs.Customers {
		if keep(r.Validate()) {
			out.Customers = append(out.Customers, r)
		}
	}
	return out, warnings
}

// OrphanedTerminations reports terminations that cannot be tied to a lease:
// either their (property, tenant) pair has no amendment at all, or their
// amendment_id names no amendment of that pair.
func (rs *RecordSet) OrphanedTerminations() []Warning {
	pairs := make(map[LeaseKey]bool, len(rs.Amendments))
	for _, a := range rs.Amendments {
		pairs[a.Key()] = true
	}
	byID := AmendmentIndex(rs.Amendments)
	var out []Warning
	for _, t := range rs.Terminations {
		if !pairs[t.Key()] {
			out = append(out, OrphanedTerminationWarning(t))
			continue
		}
		if linked, ok := byID[t.AmendmentID]; !ok || linked.Key() != t.Key() {
			out = append(out, DanglingTerminationWarning(t))
		}
	}
	return out
}
