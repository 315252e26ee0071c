/*
Package lease is the record model of the lease amendment engine.

PURPOSE:
  Typed representations of the facts the engine consumes (amendments, charge
  schedules, terminations, ledger rows, properties, customers) and of the one
  structure it derives from them (ResolvedLease). Every other package speaks
  in these types.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status / AmendmentType / Frequency: closed enumerations, never strings
  - AmendmentRecord: one immutable version of a lease for (property, tenant)
  - ChargeScheduleEntry: a billing line owned by an amendment
  - TerminationRecord: move-out fact linked to a Termination amendment
  - ResolvedLease: the canonical "current" lease, recomputed per report date

DESIGN PRINCIPLES:
  1. Immutability: records are append-only facts; a new version is a new
     record with a higher Sequence, never an edit.
  2. Precision: money and area use decimal.Decimal.
  3. Explicit time: nothing in this package reads the wall clock.

SEE ALSO:
  - date.go / period.go: calendar arithmetic
  - warnings.go: data-quality flags attached to ResolvedLease
  - source.go: RecordSet and the Source interface
*/
package lease

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type PropertyID string
type TenantID string
type AmendmentID string
type ChargeCode string
type Book string

// LeaseKey identifies an amendment chain.
type LeaseKey struct {
	PropertyID PropertyID `json:"property_id"`
	TenantID   TenantID   `json:"tenant_id"`
}

func (k LeaseKey) String() string { return string(k.PropertyID) + "/" + string(k.TenantID) }

// Less orders keys by property, then tenant.
func (k LeaseKey) Less(o LeaseKey) bool {
	if k.PropertyID != o.PropertyID {
		return k.PropertyID < o.PropertyID
	}
	return k.TenantID < o.TenantID
}

// CompareAmendmentIDs orders amendment ids numerically when both are
// integers (source systems use integer surrogate keys) and lexicographically
// otherwise.
func CompareAmendmentIDs(a, b AmendmentID) int {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(string(a), string(b))
}

// =============================================================================
// STATUS
// =============================================================================

type Status int

const (
	StatusUnknown Status = iota
	StatusActivated
	StatusSuperseded
	StatusDraft
	StatusCancelled
	StatusPending
)

var statusNames = map[Status]string{
	StatusActivated:  "Activated",
	StatusSuperseded: "Superseded",
	StatusDraft:      "Draft",
	StatusCancelled:  "Cancelled",
	StatusPending:    "Pending",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "Unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus maps source status strings onto the enumeration.
func ParseStatus(s string) (Status, error) {
	switch normalizeToken(s) {
	case "activated", "active":
		return StatusActivated, nil
	case "superseded":
		return StatusSuperseded, nil
	case "draft":
		return StatusDraft, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "pending":
		return StatusPending, nil
	case "":
		return StatusUnknown, ErrMissingKey
	}
	return StatusUnknown, ErrUnknownStatus
}

// =============================================================================
// AMENDMENT TYPE
// =============================================================================

type AmendmentType int

const (
	TypeUnknown AmendmentType = iota
	TypeOriginalLease
	TypeRenewal
	TypeExpansion
	TypeContraction
	TypeAssignment
	TypeTermination
	TypeProposal
	// TypeOther covers source types with no dedicated variant
	// ("Modification", "Specialty", ...).
	TypeOther
)

var typeNames = map[AmendmentType]string{
	TypeOriginalLease: "Original Lease",
	TypeRenewal:       "Renewal",
	TypeExpansion:     "Expansion",
	TypeContraction:   "Contraction",
	TypeAssignment:    "Assignment",
	TypeTermination:   "Termination",
	TypeProposal:      "Proposal",
	TypeOther:         "Other",
}

func (t AmendmentType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Unknown"
}

func (t AmendmentType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *AmendmentType) UnmarshalText(b []byte) error {
	parsed, err := ParseAmendmentType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseAmendmentType maps source type strings onto the enumeration.
// Unrecognized non-empty types become TypeOther.
func ParseAmendmentType(s string) (AmendmentType, error) {
	switch normalizeToken(s) {
	case "originallease", "original", "newlease":
		return TypeOriginalLease, nil
	case "renewal":
		return TypeRenewal, nil
	case "expansion":
		return TypeExpansion, nil
	case "contraction":
		return TypeContraction, nil
	case "assignment":
		return TypeAssignment, nil
	case "termination":
		return TypeTermination, nil
	case "proposal":
		return TypeProposal, nil
	case "":
		return TypeUnknown, ErrMissingKey
	}
	return TypeOther, nil
}

// =============================================================================
// FREQUENCY
// =============================================================================

type Frequency int

const (
	FrequencyUnknown Frequency = iota
	FrequencyMonthly
	FrequencyQuarterly
	FrequencySemiAnnual
	FrequencyAnnual
)

// MonthsPerPeriod is the divisor that turns one billing amount into a
// monthly equivalent.
func (f Frequency) MonthsPerPeriod() int64 {
	switch f {
	case FrequencyQuarterly:
		return 3
	case FrequencySemiAnnual:
		return 6
	case FrequencyAnnual:
		return 12
	}
	return 1
}

func (f Frequency) String() string {
	switch f {
	case FrequencyMonthly:
		return "Monthly"
	case FrequencyQuarterly:
		return "Quarterly"
	case FrequencySemiAnnual:
		return "SemiAnnual"
	case FrequencyAnnual:
		return "Annual"
	}
	return "Unknown"
}

func (f Frequency) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Frequency) UnmarshalText(b []byte) error {
	parsed, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFrequency maps source frequency strings onto the enumeration. An empty
// frequency means Monthly, the source default.
func ParseFrequency(s string) (Frequency, error) {
	switch normalizeToken(s) {
	case "", "monthly", "month", "m":
		return FrequencyMonthly, nil
	case "quarterly", "quarter", "q":
		return FrequencyQuarterly, nil
	case "semiannual", "semiannually", "halfyearly", "s":
		return FrequencySemiAnnual, nil
	case "annual", "annually", "yearly", "a", "y":
		return FrequencyAnnual, nil
	}
	return FrequencyUnknown, ErrUnknownFrequency
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

// =============================================================================
// AMENDMENT RECORD
// =============================================================================

// AmendmentRecord is one version of a lease. Immutable once created.
type AmendmentRecord struct {
	PropertyID  PropertyID      `json:"property_id"`
	TenantID    TenantID        `json:"tenant_id"`
	AmendmentID AmendmentID     `json:"amendment_id"`
	Sequence    int             `json:"sequence"`
	Status      Status          `json:"status"`
	Type        AmendmentType   `json:"type"`
	StartDate   Date            `json:"start_date"`
	EndDate     *Date           `json:"end_date"` // nil = month-to-month
	LeasedArea  decimal.Decimal `json:"leased_area"`
	Notes       string          `json:"notes,omitempty"`
}

func (a AmendmentRecord) Key() LeaseKey {
	return LeaseKey{PropertyID: a.PropertyID, TenantID: a.TenantID}
}

// IsMonthToMonth is true for open-ended records.
func (a AmendmentRecord) IsMonthToMonth() bool { return a.EndDate == nil }

// Overlaps reports whether the two records' date ranges intersect.
func (a AmendmentRecord) Overlaps(b AmendmentRecord) bool {
	aEndsBeforeB := a.EndDate != nil && a.EndDate.Before(b.StartDate)
	bEndsBeforeA := b.EndDate != nil && b.EndDate.Before(a.StartDate)
	return !aEndsBeforeB && !bEndsBeforeA
}

// Validate checks the invariants a record must satisfy to take part in
// resolution.
func (a AmendmentRecord) Validate() error {
	id := string(a.AmendmentID)
	switch {
	case a.AmendmentID == "":
		return malformed(KindAmendment, id, "amendment_id", ErrMissingKey)
	case a.PropertyID == "":
		return malformed(KindAmendment, id, "property_id", ErrMissingKey)
	case a.TenantID == "":
		return malformed(KindAmendment, id, "tenant_id", ErrMissingKey)
	case a.Status == StatusUnknown:
		return malformed(KindAmendment, id, "status", ErrUnknownStatus)
	case a.Type == TypeUnknown:
		return malformed(KindAmendment, id, "type", ErrMissingKey)
	case a.StartDate.IsZero():
		return malformed(KindAmendment, id, "start_date", ErrMissingKey)
	case a.EndDate != nil && a.EndDate.Before(a.StartDate):
		return malformed(KindAmendment, id, "end_date", ErrEndBeforeStart)
	case a.LeasedArea.IsNegative():
		return malformed(KindAmendment, id, "leased_area", ErrNegativeArea)
	}
	return nil
}

// =============================================================================
// CHARGE SCHEDULE ENTRY
// =============================================================================

// ChargeScheduleEntry is one billing line of an amendment. MonthlyAmount is
// the amount billed per Frequency period and may be negative (credits).
type ChargeScheduleEntry struct {
	AmendmentID   AmendmentID     `json:"amendment_id"`
	ChargeCode    ChargeCode      `json:"charge_code"`
	FromDate      Date            `json:"from_date"`
	ToDate        *Date           `json:"to_date"` // nil = still in effect
	MonthlyAmount decimal.Decimal `json:"monthly_amount"`
	Frequency     Frequency       `json:"frequency"`
}

// InEffect reports whether asOf falls in [FromDate, ToDate).
func (c ChargeScheduleEntry) InEffect(asOf Date) bool {
	if asOf.Before(c.FromDate) {
		return false
	}
	return c.ToDate == nil || asOf.Before(*c.ToDate)
}

// MonthlyEquivalent normalizes the billed amount to one month.
func (c ChargeScheduleEntry) MonthlyEquivalent() decimal.Decimal {
	return c.MonthlyAmount.Div(decimal.NewFromInt(c.Frequency.MonthsPerPeriod()))
}

func (c ChargeScheduleEntry) Validate() error {
	id := string(c.AmendmentID)
	switch {
	case c.AmendmentID == "":
		return malformed(KindCharge, id, "amendment_id", ErrMissingKey)
	case c.ChargeCode == "":
		return malformed(KindCharge, id, "charge_code", ErrMissingKey)
	case c.FromDate.IsZero():
		return malformed(KindCharge, id, "from_date", ErrMissingKey)
	case c.ToDate != nil && c.ToDate.Before(c.FromDate):
		return malformed(KindCharge, id, "to_date", ErrEndBeforeStart)
	case c.Frequency == FrequencyUnknown:
		return malformed(KindCharge, id, "frequency", ErrUnknownFrequency)
	}
	return nil
}

// =============================================================================
// TERMINATION RECORD
// =============================================================================

// TerminationRecord is the move-out fact of a Termination amendment.
type TerminationRecord struct {
	PropertyID    PropertyID  `json:"property_id"`
	TenantID      TenantID    `json:"tenant_id"`
	AmendmentID   AmendmentID `json:"amendment_id"`
	EndDate       Date        `json:"end_date"`
	MoveOutReason string      `json:"move_out_reason,omitempty"`
}

func (t TerminationRecord) Key() LeaseKey {
	return LeaseKey{PropertyID: t.PropertyID, TenantID: t.TenantID}
}

func (t TerminationRecord) Validate() error {
	id := string(t.AmendmentID)
	switch {
	case t.AmendmentID == "":
		return malformed(KindTermination, id, "amendment_id", ErrMissingKey)
	case t.PropertyID == "":
		return malformed(KindTermination, id, "property_id", ErrMissingKey)
	case t.TenantID == "":
		return malformed(KindTermination, id, "tenant_id", ErrMissingKey)
	case t.EndDate.IsZero():
		return malformed(KindTermination, id, "end_date", ErrMissingKey)
	}
	return nil
}

// =============================================================================
// FINANCIAL AND PORTFOLIO FACTS
// =============================================================================

// LedgerEntry is one general-ledger balance row. Revenue is stored with the
// accounting sign convention (credits negative).
type LedgerEntry struct {
	PropertyID  PropertyID      `json:"property_id"`
	AccountCode string          `json:"account_code"`
	Book        Book            `json:"book"`
	Period      Date            `json:"period"` // first day of the posting month
	Amount      decimal.Decimal `json:"amount"`
}

func (l LedgerEntry) Validate() error {
	id := string(l.PropertyID) + ":" + l.AccountCode
	switch {
	case l.PropertyID == "":
		return malformed(KindLedger, id, "property_id", ErrMissingKey)
	case l.AccountCode == "":
		return malformed(KindLedger, id, "account_code", ErrMissingKey)
	case l.Book == "":
		return malformed(KindLedger, id, "book", ErrMissingKey)
	case l.Period.IsZero():
		return malformed(KindLedger, id, "period", ErrMissingKey)
	}
	return nil
}

// Property carries the ownership dates used for same-store filtering.
type Property struct {
	ID           PropertyID      `json:"property_id"`
	Name         string          `json:"name,omitempty"`
	RentableArea decimal.Decimal `json:"rentable_area"`
	AcquireDate  *Date           `json:"acquire_date"`
	DisposeDate  *Date           `json:"dispose_date"`
}

func (p Property) Validate() error {
	switch {
	case p.ID == "":
		return malformed(KindProperty, "", "property_id", ErrMissingKey)
	case p.RentableArea.IsNegative():
		return malformed(KindProperty, string(p.ID), "rentable_area", ErrNegativeArea)
	}
	return nil
}

// Customer is a node of the parent-company hierarchy. Leaf customers share
// their ID with a TenantID.
type Customer struct {
	ID          string `json:"customer_id"`
	ParentID    string `json:"parent_id,omitempty"`
	Name        string `json:"name,omitempty"`
	CreditGrade string `json:"credit_grade,omitempty"`
}

func (c Customer) Validate() error {
	if c.ID == "" {
		return malformed(KindCustomer, "", "customer_id", ErrMissingKey)
	}
	return nil
}

// =============================================================================
// RESOLVED LEASE - Derived, never stored
// =============================================================================

// ResolvedLease is the canonical lease state of a (property, tenant) pair
// for one report date. Field names are a stable output contract.
type ResolvedLease struct {
	PropertyID           PropertyID      `json:"property_id"`
	TenantID             TenantID        `json:"tenant_id"`
	CanonicalAmendmentID AmendmentID     `json:"canonical_amendment_id"`
	Sequence             int             `json:"sequence"`
	Status               Status          `json:"status"`
	Type                 AmendmentType   `json:"type"`
	MonthlyRent          decimal.Decimal `json:"monthly_rent"`
	GrossMonthlyRent     decimal.Decimal `json:"gross_monthly_rent"`
	LeasedArea           decimal.Decimal `json:"leased_area"`
	StartDate            Date            `json:"start_date"`
	EndDate              *Date           `json:"end_date"`
	IsMonthToMonth       bool            `json:"is_month_to_month"`
	DataQualityFlags     Flags           `json:"data_quality_flags"`
}

func (r ResolvedLease) Key() LeaseKey {
	return LeaseKey{PropertyID: r.PropertyID, TenantID: r.TenantID}
}

// IsCurrent: start <= d and (end is open or end >= d).
func (r ResolvedLease) IsCurrent(d Date) bool {
	if r.StartDate.After(d) {
		return false
	}
	return r.EndDate == nil || r.EndDate.AfterOrEqual(d)
}

// IsExpiringWithin: the lease has an end date in [d, d + months], both
// boundaries included.
func (r ResolvedLease) IsExpiringWithin(d Date, months int) bool {
	if r.EndDate == nil {
		return false
	}
	return r.EndDate.AfterOrEqual(d) && r.EndDate.BeforeOrEqual(d.AddMonths(months))
}

// FromAmendment seeds a ResolvedLease from its canonical record. Rent is
// filled in by the charge aggregator.
func FromAmendment(a AmendmentRecord) ResolvedLease {
	return ResolvedLease{
		PropertyID:           a.PropertyID,
		TenantID:             a.TenantID,
		CanonicalAmendmentID: a.AmendmentID,
		Sequence:             a.Sequence,
		Status:               a.Status,
		Type:                 a.Type,
		MonthlyRent:          decimal.Zero,
		GrossMonthlyRent:     decimal.Zero,
		LeasedArea:           a.LeasedArea,
		StartDate:            a.StartDate,
		EndDate:              a.EndDate,
		IsMonthToMonth:       a.IsMonthToMonth(),
	}
}
