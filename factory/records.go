/*
Package factory converts raw input rows into typed lease records.

PURPOSE:
  Source extracts (JSON feeds, YAML fixtures, SQL text columns) carry every
  field as text. The factory parses those rows into lease types, and a row
  that cannot be parsed becomes a MalformedRecordError instead of stopping
  the batch.

WHY TEXT ROWS?
  - Yardi-style extracts export numbers and dates as strings
  - One parser for every transport: the SQL stores scan into the same rows
  - Parse failures name the record and field that broke

JSON SCHEMA (one feed):
  {
    "id": "2025-06-close",
    "amendments": [
      {"property_id": "P1", "tenant_id": "T1", "amendment_id": "103",
       "sequence": 3, "status": "Superseded", "type": "Renewal",
       "start_date": "2024-01-01", "end_date": "2028-12-31",
       "leased_area": 2500}
    ],
    "charges": [
      {"amendment_id": "103", "charge_code": "rent",
       "from_date": "2024-01-01", "monthly_amount": 6000,
       "frequency": "Monthly"}
    ],
    "terminations": [], "ledger": [], "properties": [], "customers": []
  }

USAGE:
  feed, err := factory.DecodeJSON(r)
  rs, warnings := feed.RecordSet()

SEE ALSO:
  - policy.go: JSON/YAML policy definitions
  - lease/errors.go: MalformedRecordError
*/
package factory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/lease-engine/lease"
)

// =============================================================================
// TEXT - A field that accepts JSON strings, numbers and null alike
// =============================================================================

type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*t = ""
	case strings.HasPrefix(s, `"`):
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*t = Text(v)
	default:
		*t = Text(s)
	}
	return nil
}

func (t Text) String() string { return strings.TrimSpace(string(t)) }

// =============================================================================
// ROW TYPES
// =============================================================================

type AmendmentRow struct {
	PropertyID  Text `json:"property_id" yaml:"property_id"`
	TenantID    Text `json:"tenant_id" yaml:"tenant_id"`
	AmendmentID Text `json:"amendment_id" yaml:"amendment_id"`
	Sequence    Text `json:"sequence" yaml:"sequence"`
	Status      Text `json:"status" yaml:"status"`
	Type        Text `json:"type" yaml:"type"`
	StartDate   Text `json:"start_date" yaml:"start_date"`
	EndDate     Text `json:"end_date" yaml:"end_date"`
	LeasedArea  Text `json:"leased_area" yaml:"leased_area"`
	Notes       Text `json:"notes,omitempty" yaml:"notes,omitempty"`
}

type ChargeRow struct {
	AmendmentID   Text `json:"amendment_id" yaml:"amendment_id"`
	ChargeCode    Text `json:"charge_code" yaml:"charge_code"`
	FromDate      Text `json:"from_date" yaml:"from_date"`
	ToDate        Text `json:"to_date" yaml:"to_date"`
	MonthlyAmount Text `json:"monthly_amount" yaml:"monthly_amount"`
	Frequency     Text `json:"frequency" yaml:"frequency"`
}

type TerminationRow struct {
	PropertyID    Text `json:"property_id" yaml:"property_id"`
	TenantID      Text `json:"tenant_id" yaml:"tenant_id"`
	AmendmentID   Text `json:"amendment_id" yaml:"amendment_id"`
	EndDate       Text `json:"end_date" yaml:"end_date"`
	MoveOutReason Text `json:"move_out_reason,omitempty" yaml:"move_out_reason,omitempty"`
}

type LedgerRow struct {
	PropertyID  Text `json:"property_id" yaml:"property_id"`
	AccountCode Text `json:"account_code" yaml:"account_code"`
	Book        Text `json:"book" yaml:"book"`
	Period      Text `json:"period" yaml:"period"`
	Amount      Text `json:"amount" yaml:"amount"`
}

type PropertyRow struct {
	PropertyID   Text `json:"property_id" yaml:"property_id"`
	Name         Text `json:"name,omitempty" yaml:"name,omitempty"`
	RentableArea Text `json:"rentable_area" yaml:"rentable_area"`
	AcquireDate  Text `json:"acquire_date" yaml:"acquire_date"`
	DisposeDate  Text `json:"dispose_date" yaml:"dispose_date"`
}

type CustomerRow struct {
	CustomerID  Text `json:"customer_id" yaml:"customer_id"`
	ParentID    Text `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Name        Text `json:"name,omitempty" yaml:"name,omitempty"`
	CreditGrade Text `json:"credit_grade,omitempty" yaml:"credit_grade,omitempty"`
}

// Feed is one complete extract.
type Feed struct {
	ID           Text             `json:"id" yaml:"id"`
	Amendments   []AmendmentRow   `json:"amendments" yaml:"amendments"`
	Charges      []ChargeRow      `json:"charges" yaml:"charges"`
	Terminations []TerminationRow `json:"terminations" yaml:"terminations"`
	Ledger       []LedgerRow      `json:"ledger" yaml:"ledger"`
	Properties   []PropertyRow    `json:"properties" yaml:"properties"`
	Customers    []CustomerRow    `json:"customers" yaml:"customers"`
}

// =============================================================================
// DECODING
// =============================================================================

func DecodeJSON(r io.Reader) (Feed, error) {
	var f Feed
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return Feed{}, fmt.Errorf("failed to parse record feed JSON: %w", err)
	}
	return f, nil
}

func DecodeYAML(r io.Reader) (Feed, error) {
	var f Feed
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return Feed{}, fmt.Errorf("failed to parse record feed YAML: %w", err)
	}
	return f, nil
}

// LoadFile decodes a .json, .yaml or .yml feed.
func LoadFile(path string) (Feed, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Feed{}, err
	}
	defer fh.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DecodeJSON(fh)
	case ".yaml", ".yml":
		return DecodeYAML(fh)
	}
	return Feed{}, fmt.Errorf("unsupported feed format %q", filepath.Ext(path))
}

// RecordSet parses every row. Rows that fail are dropped with one
// MALFORMED_RECORD warning each; the rest of the feed is still returned.
func (f Feed) RecordSet() (*lease.RecordSet, []lease.Warning) {
	rs := &lease.RecordSet{ID: f.ID.String()}
	var warnings []lease.Warning
	skip := func(err error) { warnings = append(warnings, lease.MalformedRecordWarning(err)) }

	for _, row := range f.Amendments {
		if rec, err := ParseAmendment(row); err != nil {
			skip(err)
		} else {
			rs.Amendments = append(rs.Amendments, rec)
		}
	}
	for _, row := range f.Charges {
		if rec, err := ParseCharge(row); err != nil {
			skip(err)
		} else {
			rs.Charges = append(rs.Charges, rec)
		}
	}
	for _, row := range f.Terminations {
		if rec, err := ParseTermination(row); err != nil {
			skip(err)
		} else {
			rs.Terminations = append(rs.Terminations, rec)
		}
	}
	for _, row := range f.Ledger {
		if rec, err := ParseLedger(row); err != nil {
			skip(err)
		} else {
			rs.Ledger = append(rs.Ledger, rec)
		}
	}
	for _, row := range f.Properties {
		if rec, err := ParseProperty(row); err != nil {
			skip(err)
		} else {
			rs.Properties = append(rs.Properties, rec)
		}
	}
	for _, row := range f.Customers {
		if rec, err := ParseCustomer(row); err != nil {
			skip(err)
		} else {
			rs.Customers = append(rs.Customers, rec)
		}
	}
	return rs, warnings
}

// =============================================================================
// ROW PARSERS
// =============================================================================

// fieldParser accumulates the first parse failure of a row so parsers read
// top to bottom.
type fieldParser struct {
	kind lease.RecordKind
	id   string
	err  error
}

func (p *fieldParser) fail(field string, err error) {
	if p.err == nil {
		p.err = &lease.MalformedRecordError{Kind: p.kind, ID: p.id, Field: field, Err: err}
	}
}

func (p *fieldParser) date(field string, v Text) lease.Date {
	if v.String() == "" {
		return lease.Date{}
	}
	d, err := lease.ParseDate(v.String())
	if err != nil {
		p.fail(field, lease.ErrMalformedDate)
	}
	return d
}

func (p *fieldParser) optionalDate(field string, v Text) *lease.Date {
	if v.String() == "" {
		return nil
	}
	d := p.date(field, v)
	return &d
}

func (p *fieldParser) decimal(field string, v Text, required bool) decimal.Decimal {
	s := strings.ReplaceAll(v.String(), ",", "")
	if s == "" {
		if required {
			p.fail(field, lease.ErrMissingKey)
		}
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.fail(field, lease.ErrMalformedNumber)
	}
	return d
}

func (p *fieldParser) integer(field string, v Text) int {
	if v.String() == "" {
		p.fail(field, lease.ErrMissingKey)
		return 0
	}
	n, err := strconv.Atoi(v.String())
	if err != nil {
		p.fail(field, lease.ErrMalformedNumber)
	}
	return n
}

func ParseAmendment(row AmendmentRow) (lease.AmendmentRecord, error) {
	p := &fieldParser{kind: lease.KindAmendment, id: row.AmendmentID.String()}
	rec := lease.AmendmentRecord{
		PropertyID:  lease.PropertyID(row.PropertyID.String()),
		TenantID:    lease.TenantID(row.TenantID.String()),
		AmendmentID: lease.AmendmentID(row.AmendmentID.String()),
		Sequence:    p.integer("sequence", row.Sequence),
		StartDate:   p.date("start_date", row.StartDate),
		EndDate:     p.optionalDate("end_date", row.EndDate),
		LeasedArea:  p.decimal("leased_area", row.LeasedArea, false),
		Notes:       row.Notes.String(),
	}
	status, err := lease.ParseStatus(row.Status.String())
	if err != nil {
		p.fail("status", err)
	}
	rec.Status = status
	typ, err := lease.ParseAmendmentType(row.Type.String())
	if err != nil {
		p.fail("type", err)
	}
	rec.Type = typ

	if p.err != nil {
		return lease.AmendmentRecord{}, p.err
	}
	return rec, rec.Validate()
}

func ParseCharge(row ChargeRow) (lease.ChargeScheduleEntry, error) {
	p := &fieldParser{kind: lease.KindCharge, id: row.AmendmentID.String()}
	rec := lease.ChargeScheduleEntry{
		AmendmentID:   lease.AmendmentID(row.AmendmentID.String()),
		ChargeCode:    lease.ChargeCode(row.ChargeCode.String()),
		FromDate:      p.date("from_date", row.FromDate),
		ToDate:        p.optionalDate("to_date", row.ToDate),
		MonthlyAmount: p.decimal("monthly_amount", row.MonthlyAmount, true),
	}
	freq, err := lease.ParseFrequency(row.Frequency.String())
	if err != nil {
		p.fail("frequency", err)
	}
	rec.Frequency = freq

	if p.err != nil {
		return lease.ChargeScheduleEntry{}, p.err
	}
	return rec, rec.Validate()
}

func ParseTermination(row TerminationRow) (lease.TerminationRecord, error) {
	p := &fieldParser{kind: lease.KindTermination, id: row.AmendmentID.String()}
	rec := lease.TerminationRecord{
		PropertyID:    lease.PropertyID(row.PropertyID.String()),
		TenantID:      lease.TenantID(row.TenantID.String()),
		AmendmentID:   lease.AmendmentID(row.AmendmentID.String()),
		EndDate:       p.date("end_date", row.EndDate),
		MoveOutReason: row.MoveOutReason.String(),
	}
	if p.err != nil {
		return lease.TerminationRecord{}, p.err
	}
	return rec, rec.Validate()
}

// ParseLedger normalizes the posting period to the first of its month.
func ParseLedger(row LedgerRow) (lease.LedgerEntry, error) {
	p := &fieldParser{kind: lease.KindLedger, id: row.PropertyID.String() + ":" + row.AccountCode.String()}
	rec := lease.LedgerEntry{
		PropertyID:  lease.PropertyID(row.PropertyID.String()),
		AccountCode: row.AccountCode.String(),
		Book:        lease.Book(row.Book.String()),
		Period:      p.date("period", row.Period),
		Amount:      p.decimal("amount", row.Amount, true),
	}
	if p.err != nil {
		return lease.LedgerEntry{}, p.err
	}
	if !rec.Period.IsZero() {
		rec.Period = rec.Period.StartOfMonth()
	}
	return rec, rec.Validate()
}

func ParseProperty(row PropertyRow) (lease.Property, error) {
	p := &fieldParser{kind: lease.KindProperty, id: row.PropertyID.String()}
	rec := lease.Property{
		ID:           lease.PropertyID(row.PropertyID.String()),
		Name:         row.Name.String(),
		RentableArea: p.decimal("rentable_area", row.RentableArea, false),
		AcquireDate:  p.optionalDate("acquire_date", row.AcquireDate),
		DisposeDate:  p.optionalDate("dispose_date", row.DisposeDate),
	}
	if p.err != nil {
		return lease.Property{}, p.err
	}
	return rec, rec.Validate()
}

func ParseCustomer(row CustomerRow) (lease.Customer, error) {
	rec := lease.Customer{
		ID:          row.CustomerID.String(),
		ParentID:    row.ParentID.String(),
		Name:        row.Name.String(),
		CreditGrade: row.CreditGrade.String(),
	}
	return rec, rec.Validate()
}
