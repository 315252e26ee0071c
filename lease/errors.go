/*
errors.go - Centralized error types for the lease engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Components wrap these with context; callers test with errors.Is/As.

ERROR CATEGORIES:
  1. Malformed records - a single input record is unusable and is skipped
  2. Policy errors     - a required policy parameter was not supplied
  3. Lookup errors     - a referenced record does not exist

Data-quality problems (duplicate sequences, charge gaps, ...) are NOT
errors. They are Warning values, see warnings.go.

SEE ALSO:
  - warnings.go: Non-fatal data-quality signals
  - factory/records.go: Produces MalformedRecordError while decoding rows
*/
package lease

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingKey is returned when a required identifier or field is empty.
	ErrMissingKey = errors.New("missing required field")

	// ErrMalformedDate is returned when a date cannot be parsed.
	ErrMalformedDate = errors.New("malformed date")

	// ErrMalformedNumber is returned when an amount, area or sequence cannot be parsed.
	ErrMalformedNumber = errors.New("malformed number")

	// ErrNegativeArea is returned for a leased or rentable area below zero.
	ErrNegativeArea = errors.New("negative area")

	// ErrEndBeforeStart is returned when a record ends before it starts.
	ErrEndBeforeStart = errors.New("end date before start date")

	// ErrUnknownStatus is returned for a status outside the closed enumeration.
	ErrUnknownStatus = errors.New("unknown amendment status")

	// ErrUnknownFrequency is returned for a billing frequency outside the enumeration.
	ErrUnknownFrequency = errors.New("unknown charge frequency")

	// ErrDuplicateAmendmentID is returned when an append reuses an amendment id.
	ErrDuplicateAmendmentID = errors.New("duplicate amendment id")

	// ErrInvalidPeriod is returned when a period is empty or ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrReportDateRequired is returned when a computation is asked to run
	// without an explicit reporting date.
	ErrReportDateRequired = errors.New("report date is required")

	// ErrBookRequired is returned when NOI is requested without naming a book.
	ErrBookRequired = errors.New("accounting book is required")

	// ErrStabilityWindowRequired is returned when same-store filtering is
	// requested without a stability window.
	ErrStabilityWindowRequired = errors.New("same-store stability window is required")

	// ErrInvalidAccountRange is returned for an empty or inverted GL account range.
	ErrInvalidAccountRange = errors.New("invalid account range")

	// ErrInvalidWindow is returned for a negative look-ahead window.
	ErrInvalidWindow = errors.New("invalid window")

	// ErrHierarchyCycle is returned when a customer hierarchy loops back on itself.
	ErrHierarchyCycle = errors.New("customer hierarchy cycle")

	// ErrNotFound is returned when a referenced property/tenant has no resolvable lease.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RecordKind names the input table a record came from.
type RecordKind string

const (
	KindAmendment   RecordKind = "amendment"
	KindCharge      RecordKind = "charge"
	KindTermination RecordKind = "termination"
	KindLedger      RecordKind = "ledger"
	KindProperty    RecordKind = "property"
	KindCustomer    RecordKind = "customer"
)

// MalformedRecordError describes why a single input record was skipped.
type MalformedRecordError struct {
	Kind  RecordKind
	ID    string
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	id := e.ID
	if id == "" {
		id = "<no id>"
	}
	return fmt.Sprintf("malformed %s record %s: %s: %v", e.Kind, id, e.Field, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

func malformed(kind RecordKind, id, field string, err error) *MalformedRecordError {
	return &MalformedRecordError{Kind: kind, ID: id, Field: field, Err: err}
}

// HierarchyCycleError reports the customer chain that loops back on itself.
// Path starts at the customer being resolved and ends at the repeated node.
type HierarchyCycleError struct {
	Path []string
}

func (e *HierarchyCycleError) Error() string {
	return fmt.Sprintf("customer hierarchy cycle: %s", strings.Join(e.Path, " -> "))
}

func (e *HierarchyCycleError) Unwrap() error { return ErrHierarchyCycle }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsMalformed reports whether err describes an unusable input record.
func IsMalformed(err error) bool {
	var m *MalformedRecordError
	return errors.As(err, &m)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrReportDateRequired) ||
		errors.Is(err, ErrBookRequired) ||
		errors.Is(err, ErrStabilityWindowRequired) ||
		errors.Is(err, ErrMalformedDate) ||
		errors.Is(err, ErrInvalidAccountRange) ||
		errors.Is(err, ErrInvalidWindow) ||
		IsMalformed(err)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
